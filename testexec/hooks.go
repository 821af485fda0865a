package testexec

import (
	"context"
	"fmt"
	"os"

	"github.com/initializ/dockflow/internal/shell"
	"github.com/initializ/dockflow/types"
	"github.com/initializ/dockflow/util"
)

// HookPoint identifies when a hook fires around a test step.
type HookPoint int

const (
	BeforeTest HookPoint = iota
	AfterTest
)

// HookContext carries data available to hooks at each hook point.
type HookContext struct {
	Pipeline string
	Unit     string
	// TestErr is the captured test result; only set for AfterTest.
	TestErr error
}

// Passed reports whether the captured test run succeeded.
func (h *HookContext) Passed() bool { return h.TestErr == nil }

// Hook is a function invoked at a specific point around a test step.
type Hook func(ctx context.Context, hctx *HookContext) error

// HookRegistry manages registered hooks for each hook point.
type HookRegistry struct {
	hooks map[HookPoint][]Hook
}

// NewHookRegistry creates an empty HookRegistry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		hooks: make(map[HookPoint][]Hook),
	}
}

// Register adds a hook for the given point. Hooks fire in registration order.
func (r *HookRegistry) Register(point HookPoint, h Hook) {
	r.hooks[point] = append(r.hooks[point], h)
}

// Fire invokes all hooks registered for the given point in order.
// If any hook returns an error, execution stops and the error is returned.
func (r *HookRegistry) Fire(ctx context.Context, point HookPoint, hctx *HookContext) error {
	if r == nil {
		return nil
	}
	for _, h := range r.hooks[point] {
		if err := h(ctx, hctx); err != nil {
			return err
		}
	}
	return nil
}

// clone copies the registry so per-call hooks do not leak into it.
func (r *HookRegistry) clone() *HookRegistry {
	c := NewHookRegistry()
	if r == nil {
		return c
	}
	for p, hs := range r.hooks {
		c.hooks[p] = append([]Hook(nil), hs...)
	}
	return c
}

// Env keys exported to command hooks.
const (
	EnvPipeline   = "DOCKFLOW_PIPELINE"
	EnvTestUnit   = "DOCKFLOW_TEST_UNIT"
	EnvTestResult = "DOCKFLOW_TEST_RESULT" // "passed" or "failed", after-test only
)

// CommandHook returns a hook that runs spec's command. A nil or empty spec
// yields nil.
func CommandHook(runner shell.Runner, spec *types.HookSpec) Hook {
	if spec == nil || len(spec.Command) == 0 {
		return nil
	}
	runner = shell.OrDefault(runner)
	return func(ctx context.Context, hctx *HookContext) error {
		vars := map[string]string{
			EnvPipeline: hctx.Pipeline,
			EnvTestUnit: hctx.Unit,
		}
		for k, v := range spec.Env {
			vars[k] = v
		}
		cmd := shell.Command{
			Name:   spec.Command[0],
			Args:   spec.Command[1:],
			Dir:    spec.Dir,
			Env:    util.MergeEnv(os.Environ(), vars),
			Stdout: os.Stdout,
			Stderr: os.Stderr,
		}
		if _, err := runner.Run(ctx, cmd); err != nil {
			return fmt.Errorf("hook %s: %w", cmd.String(), err)
		}
		return nil
	}
}

// resultHook is CommandHook with the test result exported.
func resultHook(runner shell.Runner, spec *types.HookSpec) Hook {
	if spec == nil || len(spec.Command) == 0 {
		return nil
	}
	return func(ctx context.Context, hctx *HookContext) error {
		withResult := *spec
		withResult.Env = make(map[string]string, len(spec.Env)+1)
		for k, v := range spec.Env {
			withResult.Env[k] = v
		}
		withResult.Env[EnvTestResult] = "passed"
		if !hctx.Passed() {
			withResult.Env[EnvTestResult] = "failed"
		}
		return CommandHook(runner, &withResult)(ctx, hctx)
	}
}
