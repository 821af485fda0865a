package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/initializ/dockflow/logging"
)

// State is the terminal state of a unit within one execution.
type State string

const (
	StatePending     State = "pending"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
	StateSkipped     State = "skipped"      // an OnlyIf predicate was false
	StateBlocked     State = "blocked"      // a dependency did not succeed
	StateNotRequired State = "not-required" // finalizer whose finalized units never ran
	StateCancelled   State = "cancelled"    // not started after a failure or cancellation
)

// attempted reports whether the unit was considered for execution, which is
// what triggers its finalizers.
func (s State) attempted() bool {
	return s == StateSucceeded || s == StateFailed || s == StateSkipped
}

// satisfies reports whether dependents may run.
func (s State) satisfies() bool {
	return s == StateSucceeded || s == StateSkipped
}

// Result is the outcome of one unit.
type Result struct {
	Unit     string
	State    State
	Err      error
	Duration time.Duration
}

// Report summarizes one execution.
type Report struct {
	RunID   string
	Results map[string]*Result
	// Executed lists units whose action ran, in order.
	Executed []string
	Order    []string
}

// State returns the state of a unit, or StatePending when it was not planned.
func (r *Report) State(name string) State {
	if res, ok := r.Results[name]; ok {
		return res.State
	}
	return StatePending
}

// Failed returns the names of failed units in execution order.
func (r *Report) Failed() []string {
	var out []string
	for _, name := range r.Order {
		if r.Results[name].State == StateFailed {
			out = append(out, name)
		}
	}
	return out
}

// Executor runs plans serially.
type Executor struct {
	Logger logging.Logger
}

// Run executes the plan in order.
//
// After the first failure, or once ctx is cancelled, no further primary
// units start; finalizers of units that were attempted still run, under a
// context that is not cancelled. The first failure is returned as a
// *UnitError; the report is always returned.
func (e *Executor) Run(ctx context.Context, pl *Plan) (*Report, error) {
	log := logging.OrNop(e.Logger)
	report := &Report{
		RunID:   uuid.NewString(),
		Results: make(map[string]*Result, len(pl.Order)),
		Order:   append([]string(nil), pl.Order...),
	}
	for _, name := range pl.Order {
		report.Results[name] = &Result{Unit: name, State: StatePending}
	}

	var firstErr error
	for _, name := range pl.Order {
		u := pl.units[name]
		res := report.Results[name]

		finalizer := pl.IsFinalizer(name)
		triggered := false
		for _, f := range pl.finalizes[name] {
			if report.Results[f].State.attempted() {
				triggered = true
				break
			}
		}

		runCtx := ctx
		switch {
		case finalizer && triggered:
			runCtx = context.WithoutCancel(ctx)
		case !pl.required[name]:
			res.State = StateNotRequired
			continue
		case firstErr != nil || ctx.Err() != nil:
			res.State = StateCancelled
			continue
		}

		if dep, ok := unsatisfiedDependency(u, report); ok {
			res.State = StateBlocked
			log.Debug("unit blocked", map[string]any{"unit": name, "dependency": dep, "run_id": report.RunID})
			continue
		}

		if !u.shouldRun() {
			res.State = StateSkipped
			log.Info("unit skipped", map[string]any{"unit": name, "reason": "predicate false", "run_id": report.RunID})
			continue
		}

		log.Info("unit started", map[string]any{"unit": name, "run_id": report.RunID})
		start := time.Now()
		err := runAction(runCtx, u)
		for _, h := range u.completion {
			h(runCtx, err)
		}
		res.Duration = time.Since(start)
		report.Executed = append(report.Executed, name)

		if err != nil {
			res.State = StateFailed
			res.Err = err
			log.Error("unit failed", map[string]any{"unit": name, "error": err.Error(), "run_id": report.RunID})
			if firstErr == nil {
				firstErr = &UnitError{Unit: name, Err: err}
			}
			continue
		}
		res.State = StateSucceeded
		log.Info("unit finished", map[string]any{"unit": name, "duration": res.Duration.String(), "run_id": report.RunID})
	}

	if firstErr == nil && ctx.Err() != nil {
		firstErr = fmt.Errorf("run cancelled: %w", ctx.Err())
	}
	return report, firstErr
}

func unsatisfiedDependency(u *Unit, report *Report) (string, bool) {
	for _, d := range u.dependsOn {
		if !report.Results[d].State.satisfies() {
			return d, true
		}
	}
	return "", false
}

// runAction runs the action, converting a panic into an error so completion
// hooks and finalizers still run.
func runAction(ctx context.Context, u *Unit) (err error) {
	if u.Action == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in unit %s: %v", u.Name, r)
		}
	}()
	return u.Action(ctx)
}

// IsUnitFailure reports whether err came from a unit action.
func IsUnitFailure(err error) bool {
	var ue *UnitError
	return errors.As(err, &ue)
}
