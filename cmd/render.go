package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/initializ/dockflow/graph"
)

var (
	accent    = lipgloss.Color("#0ea5e9")
	success   = lipgloss.Color("#22c55e")
	warning   = lipgloss.Color("#eab308")
	failure   = lipgloss.Color("#ef4444")
	secondary = lipgloss.Color("#888888")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accent)
	nameStyle    = lipgloss.NewStyle().Width(40)
	dimStyle     = lipgloss.NewStyle().Foreground(secondary)
	successStyle = lipgloss.NewStyle().Foreground(success)
	warningStyle = lipgloss.NewStyle().Foreground(warning)
	errorStyle   = lipgloss.NewStyle().Foreground(failure)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(secondary).Padding(0, 1)
)

func stateStyle(s graph.State) lipgloss.Style {
	switch s {
	case graph.StateSucceeded:
		return successStyle
	case graph.StateFailed:
		return errorStyle
	case graph.StateSkipped, graph.StateNotRequired:
		return dimStyle
	default:
		return warningStyle
	}
}

// shortFingerprint trims a fingerprint for display.
func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func renderPlan(w io.Writer, pl *graph.Plan) {
	fps := pl.Fingerprints()
	fmt.Fprintln(w, titleStyle.Render("Plan for "+strings.Join(pl.Targets, ", ")))
	for i, name := range pl.Order {
		u, _ := pl.Unit(name)
		marker := " "
		if pl.IsFinalizer(name) {
			marker = "↳"
		}
		line := fmt.Sprintf("%3d %s %s %s", i+1, marker, nameStyle.Render(name), dimStyle.Render(shortFingerprint(fps[name])))
		fmt.Fprintln(w, line)
		if edges := describeEdges(u); edges != "" {
			fmt.Fprintln(w, "      "+dimStyle.Render(edges))
		}
	}
}

func describeEdges(u *graph.Unit) string {
	var parts []string
	if d := u.Dependencies(); len(d) > 0 {
		parts = append(parts, "after "+strings.Join(d, ", "))
	}
	if f := u.Finalizers(); len(f) > 0 {
		parts = append(parts, "finalized by "+strings.Join(f, ", "))
	}
	if u.HasPredicates() {
		parts = append(parts, "gated")
	}
	return strings.Join(parts, "; ")
}

func renderReport(w io.Writer, report *graph.Report) {
	var rows []string
	counts := map[graph.State]int{}
	for _, name := range report.Order {
		res := report.Results[name]
		counts[res.State]++
		row := fmt.Sprintf("%s %s", nameStyle.Render(name), stateStyle(res.State).Render(string(res.State)))
		if res.Duration > 0 {
			row += " " + dimStyle.Render(res.Duration.Round(time.Millisecond).String())
		}
		rows = append(rows, row)
	}
	summary := fmt.Sprintf("%d succeeded, %d failed, %d skipped", counts[graph.StateSucceeded], counts[graph.StateFailed], counts[graph.StateSkipped])
	rows = append(rows, "", titleStyle.Render(summary)+" "+dimStyle.Render("run "+report.RunID))
	fmt.Fprintln(w, boxStyle.Render(strings.Join(rows, "\n")))
}
