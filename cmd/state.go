package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/initializ/dockflow/state"
	"github.com/initializ/dockflow/workflow"
	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect cross-phase state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show <pipeline>",
	Short: "Print a pipeline's outcome record",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

func init() {
	stateCmd.AddCommand(stateShowCmd)
}

func runStateShow(cmd *cobra.Command, args []string) error {
	ws, err := loadWorkspace()
	if err != nil {
		return err
	}
	if _, ok := ws.cfg.Pipeline(args[0]); !ok {
		return fmt.Errorf("unknown pipeline %q", args[0])
	}

	path := workflow.TestResultPath(ws.cfg.BuildDir, args[0])
	rec, err := state.Read(path)
	if errors.Is(err, state.ErrAbsent) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s no outcome recorded at %s\n", dimStyle.Render(args[0]), path)
		return nil
	}
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
