package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/initializ/dockflow/compose"
	"github.com/initializ/dockflow/lifecycle"
	"github.com/spf13/cobra"
)

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Inspect and clean up compose stacks",
}

var composeInspectCmd = &cobra.Command{
	Use:   "inspect <state-file>",
	Short: "Validate and print a stack runtime-state file",
	Args:  cobra.ExactArgs(1),
	RunE:  runComposeInspect,
}

var composeSweepCmd = &cobra.Command{
	Use:   "sweep <namespace>",
	Short: "Remove containers, networks and volumes left by a stack",
	Args:  cobra.ExactArgs(1),
	RunE:  runComposeSweep,
}

func init() {
	composeCmd.AddCommand(composeInspectCmd)
	composeCmd.AddCommand(composeSweepCmd)
}

func runComposeInspect(cmd *cobra.Command, args []string) error {
	st, err := lifecycle.ReadRuntimeState(args[0])
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s (%s)", st.ProjectName, st.Lifecycle)))
	owner := st.TestClass
	if st.TestMethod != "" {
		owner += "." + st.TestMethod
	}
	fmt.Fprintf(w, "stack %s, owner %s\n", st.StackName, owner)

	names := make([]string, 0, len(st.Services))
	for name := range st.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		svc := st.Services[name]
		var ports []string
		for _, p := range svc.PublishedPorts {
			ports = append(ports, fmt.Sprintf("%d->%d/%s", p.Host, p.Container, p.Protocol))
		}
		fmt.Fprintf(w, "  %s %s %s\n", nameStyle.Render(name), svc.State, dimStyle.Render(strings.Join(ports, " ")))
	}
	return nil
}

func runComposeSweep(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(os.Stderr, logFormat)
	if err != nil {
		return err
	}
	ctx := context.Background()
	eng := compose.NewCLI(newRunner(), logger)
	if err := errors.Join(eng.RemoveByLabel(ctx, args[0]), eng.RemoveByName(ctx, args[0])); err != nil {
		return fmt.Errorf("sweeping %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "swept %s\n", args[0])
	return nil
}
