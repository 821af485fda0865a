package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/initializ/dockflow/graph"
	"github.com/initializ/dockflow/workflow"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [targets...]",
	Short: "Build, test and publish (default target: runWorkflows)",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws, err := loadWorkspace()
	if err != nil {
		return err
	}
	images, err := ws.images(ctx)
	if err != nil {
		return err
	}
	project, _, err := ws.project(images)
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

	ws.logger.Info("run started", map[string]any{"targets": targets, "units": len(pl.Order), "version": appVersion})
	report, runErr := (&graph.Executor{Logger: ws.logger}).Run(ctx, pl)
	renderReport(cmd.OutOrStdout(), report)
	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	return nil
}
