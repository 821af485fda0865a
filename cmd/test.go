package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/initializ/dockflow/graph"
	"github.com/initializ/dockflow/lifecycle"
	"github.com/initializ/dockflow/state"
	"github.com/initializ/dockflow/testexec"
	"github.com/initializ/dockflow/types"
	"github.com/initializ/dockflow/workflow"
	"github.com/spf13/cobra"
)

var testCmd = &cobra.Command{
	Use:   "test <pipeline>",
	Short: "Run one pipeline's test step against its compose stack",
	Args:  cobra.ExactArgs(1),
	RunE:  runTestStep,
}

func runTestStep(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws, err := loadWorkspace()
	if err != nil {
		return err
	}
	p, ok := ws.cfg.Pipeline(args[0])
	if !ok {
		return fmt.Errorf("unknown pipeline %q", args[0])
	}

	step := p.Test
	if step.Unit == "" {
		if _, ok := ws.cfg.Test(workflow.TestUnitName(p)); ok {
			step.Unit = workflow.TestUnitName(p)
		}
	}
	props := workflow.StackProperties(ws.cfg, step, ws.cfg.BuildDir)

	reg := ws.registrar(graph.NewProject(), nil)
	exec := &testexec.Executor{
		Hooks:  testexec.NewHookRegistry(),
		Stacks: ws.stackResolver(),
		Tests:  reg.TestRunner(props),
		Runner: ws.runner,
		Logger: ws.logger,
	}

	testErr := exec.Execute(ctx, p.Name, step)
	if errors.Is(testErr, workflow.ErrConfig) {
		return testErr
	}

	rec := state.NewRecord(testErr == nil, "tests passed")
	if testErr != nil {
		rec.Message = "tests failed: " + testErr.Error()
	}
	path := workflow.TestResultPath(ws.cfg.BuildDir, p.Name)
	if err := state.Write(path, rec); err != nil {
		ws.logger.Warn("writing outcome record failed", map[string]any{"pipeline": p.Name, "error": err.Error()})
	}

	if testErr != nil {
		return fmt.Errorf("pipeline %s: %w", p.Name, testErr)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("passed"), p.Name)
	return nil
}

// stackResolver binds test steps to lifecycle handles owned by the pipeline.
func (w *workspace) stackResolver() testexec.StackResolver {
	return func(pipeline string, step types.TestStep) (testexec.Stack, error) {
		spec, ok := w.cfg.Stack(step.Stack)
		if !ok {
			return nil, fmt.Errorf("unknown stack %q", step.Stack)
		}
		stack := lifecycle.StackFromSpec(spec, step.Lifecycle)
		stack.Dir = w.dir
		return &lifecycle.Handle{
			Machine: w.machine(nil),
			Stack:   stack,
			Owner:   lifecycle.Owner{Class: w.cfg.Project, Method: pipeline},
		}, nil
	}
}
