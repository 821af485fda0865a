// Package testexec runs one pipeline's test step directly: before-test
// hook, stack up, test, guaranteed stack down, after-test hook, and only
// then the test failure.
package testexec

import (
	"context"
	"fmt"

	"github.com/initializ/dockflow/internal/shell"
	"github.com/initializ/dockflow/logging"
	"github.com/initializ/dockflow/types"
	"github.com/initializ/dockflow/workflow"
)

// Stack is a compose stack that can be brought up and torn down once.
type Stack interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
}

// StackResolver returns the stack a pipeline's test step runs against.
type StackResolver func(pipeline string, step types.TestStep) (Stack, error)

// TestRunner executes a named test unit.
type TestRunner interface {
	RunTest(ctx context.Context, unit string) error
}

// TestRunnerFunc adapts a function to TestRunner.
type TestRunnerFunc func(ctx context.Context, unit string) error

func (f TestRunnerFunc) RunTest(ctx context.Context, unit string) error { return f(ctx, unit) }

// Executor runs test steps.
type Executor struct {
	Hooks  *HookRegistry
	Stacks StackResolver
	Tests  TestRunner
	// Runner executes command hooks from the step configuration.
	Runner shell.Runner
	Logger logging.Logger
}

// Execute runs the test step of pipeline.
//
// Configuration errors and stack start failures are returned before the
// test runs. Once the test has run, the stack is always torn down and
// teardown failures are only logged. The test failure, if any, is returned
// after the after-test hooks; an after-test hook error is returned only
// when the test passed.
func (e *Executor) Execute(ctx context.Context, pipeline string, step types.TestStep) error {
	log := logging.OrNop(e.Logger)

	if step.Unit == "" {
		return &workflow.ConfigError{Pipeline: pipeline, Field: "test.unit"}
	}
	if !step.DelegateStackManagement && step.Stack == "" {
		return &workflow.ConfigError{Pipeline: pipeline, Field: "test.stack"}
	}
	if e.Tests == nil {
		return fmt.Errorf("pipeline %s: no test runner configured", pipeline)
	}

	hooks := e.Hooks.clone()
	if h := CommandHook(e.Runner, step.BeforeTest); h != nil {
		hooks.Register(BeforeTest, h)
	}
	if h := resultHook(e.Runner, step.AfterTest); h != nil {
		hooks.Register(AfterTest, h)
	}

	hctx := &HookContext{Pipeline: pipeline, Unit: step.Unit}
	if err := hooks.Fire(ctx, BeforeTest, hctx); err != nil {
		return fmt.Errorf("pipeline %s: before-test hook: %w", pipeline, err)
	}

	var stack Stack
	if !step.DelegateStackManagement {
		if e.Stacks == nil {
			return fmt.Errorf("pipeline %s: no stack resolver configured", pipeline)
		}
		var err error
		if stack, err = e.Stacks(pipeline, step); err != nil {
			return fmt.Errorf("pipeline %s: resolving stack %s: %w", pipeline, step.Stack, err)
		}
		if err := stack.Up(ctx); err != nil {
			return fmt.Errorf("pipeline %s: %w", pipeline, err)
		}
	}

	fields := map[string]any{"pipeline": pipeline, "unit": step.Unit}
	testErr := runTest(ctx, e.Tests, step.Unit)
	if testErr != nil {
		log.Error("test failed", map[string]any{"pipeline": pipeline, "unit": step.Unit, "error": testErr.Error()})
	} else {
		log.Info("test passed", fields)
	}

	if stack != nil {
		if err := tearDown(context.WithoutCancel(ctx), stack); err != nil {
			log.Warn("stack teardown failed", map[string]any{"pipeline": pipeline, "stack": step.Stack, "error": err.Error()})
		}
	}

	hctx.TestErr = testErr
	afterErr := hooks.Fire(ctx, AfterTest, hctx)
	if afterErr != nil {
		log.Warn("after-test hook failed", map[string]any{"pipeline": pipeline, "error": afterErr.Error()})
	}

	if testErr != nil {
		return testErr
	}
	if afterErr != nil {
		return fmt.Errorf("pipeline %s: after-test hook: %w", pipeline, afterErr)
	}
	return nil
}

func runTest(ctx context.Context, tests TestRunner, unit string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("test %s panicked: %v", unit, r)
		}
	}()
	return tests.RunTest(ctx, unit)
}

func tearDown(ctx context.Context, stack Stack) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("teardown panicked: %v", r)
		}
	}()
	return stack.Down(ctx)
}
