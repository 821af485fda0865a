package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/initializ/dockflow/graph"
	"github.com/initializ/dockflow/workflow"
	"github.com/spf13/cobra"
)

var planJSON bool

var planCmd = &cobra.Command{
	Use:   "plan [targets...]",
	Short: "Show the units a run would execute, in order",
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().BoolVar(&planJSON, "json", false, "print the plan as JSON")
}

type planEntry struct {
	Unit         string   `json:"unit"`
	Group        string   `json:"group,omitempty"`
	Description  string   `json:"description,omitempty"`
	DependsOn    []string `json:"dependsOn,omitempty"`
	FinalizedBy  []string `json:"finalizedBy,omitempty"`
	MustRunAfter []string `json:"mustRunAfter,omitempty"`
	Gated        bool     `json:"gated,omitempty"`
	Finalizer    bool     `json:"finalizer,omitempty"`
	Fingerprint  string   `json:"fingerprint"`
}

type planOutput struct {
	Targets   []string             `json:"targets"`
	Units     []planEntry          `json:"units"`
	Pipelines []workflow.TaskGraph `json:"pipelines"`
}

func runPlan(cmd *cobra.Command, args []string) error {
	ws, err := loadWorkspace()
	if err != nil {
		return err
	}
	project, graphs, err := ws.project(nil)
	if err != nil {
		return err
	}
	targets := args
	if len(targets) == 0 {
		targets = []string{workflow.TopLevelUnit}
	}
	pl, err := project.Plan(targets...)
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}

	if !planJSON {
		renderPlan(cmd.OutOrStdout(), pl)
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(buildPlanOutput(pl, graphs))
}

func buildPlanOutput(pl *graph.Plan, graphs []workflow.TaskGraph) planOutput {
	fps := pl.Fingerprints()
	out := planOutput{Targets: pl.Targets, Pipelines: graphs}
	for _, name := range pl.Order {
		u, _ := pl.Unit(name)
		out.Units = append(out.Units, planEntry{
			Unit:         name,
			Group:        u.Group,
			Description:  u.Description,
			DependsOn:    u.Dependencies(),
			FinalizedBy:  u.Finalizers(),
			MustRunAfter: u.RunsAfter(),
			Gated:        u.HasPredicates(),
			Finalizer:    pl.IsFinalizer(name),
			Fingerprint:  fps[name],
		})
	}
	return out
}
