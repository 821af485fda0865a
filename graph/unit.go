package graph

import (
	"context"
	"sort"
)

// Action is the work a unit performs.
type Action func(ctx context.Context) error

// Predicate decides at execution time whether a unit's action runs.
type Predicate func() bool

// CompletionHook runs after a unit's action, with the action's error, whether
// the action succeeded or failed.
type CompletionHook func(ctx context.Context, err error)

// Unit is one independently schedulable execution step.
//
// Everything a unit needs at execution time must be reachable from its
// Properties and Inputs or captured by value in its Action; units never rely
// on objects created by another unit's execution.
type Unit struct {
	Name        string
	Group       string
	Description string

	Action Action

	// Properties are handed to the action (test units export them as
	// environment variables).
	Properties map[string]string
	// Inputs feed the unit fingerprint.
	Inputs map[string]string

	dependsOn    []string
	finalizedBy  []string
	mustRunAfter []string
	onlyIf       []Predicate
	completion   []CompletionHook
	hookKeys     map[string]bool
}

func appendUnique(list []string, names ...string) []string {
	for _, n := range names {
		if n == "" {
			continue
		}
		dup := false
		for _, existing := range list {
			if existing == n {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, n)
		}
	}
	return list
}

// DependsOn adds dependency edges: the named units must succeed first.
func (u *Unit) DependsOn(names ...string) *Unit {
	u.dependsOn = appendUnique(u.dependsOn, names...)
	return u
}

// FinalizedBy adds finalizer edges: the named units run after this one
// whenever this one is attempted, whatever its outcome.
func (u *Unit) FinalizedBy(names ...string) *Unit {
	u.finalizedBy = appendUnique(u.finalizedBy, names...)
	return u
}

// MustRunAfter adds ordering-only edges. They take effect only when both
// units are part of the same plan.
func (u *Unit) MustRunAfter(names ...string) *Unit {
	u.mustRunAfter = appendUnique(u.mustRunAfter, names...)
	return u
}

// OnlyIf adds a predicate evaluated just before the action would run. A false
// predicate skips the action; dependents treat a skipped unit as satisfied.
func (u *Unit) OnlyIf(p Predicate) *Unit {
	u.onlyIf = append(u.onlyIf, p)
	return u
}

// DoFinally registers a hook that runs after the action whatever its result.
func (u *Unit) DoFinally(h CompletionHook) *Unit {
	u.completion = append(u.completion, h)
	return u
}

// DoFinallyOnce is DoFinally keyed by name: a second registration under the
// same key is ignored, so repeated wiring does not stack hooks.
func (u *Unit) DoFinallyOnce(key string, h CompletionHook) *Unit {
	if u.hookKeys[key] {
		return u
	}
	if u.hookKeys == nil {
		u.hookKeys = make(map[string]bool)
	}
	u.hookKeys[key] = true
	return u.DoFinally(h)
}

// CompletionHooks returns the number of registered completion hooks.
func (u *Unit) CompletionHooks() int { return len(u.completion) }

// SetProperty records a string property.
func (u *Unit) SetProperty(key, value string) *Unit {
	if u.Properties == nil {
		u.Properties = make(map[string]string)
	}
	u.Properties[key] = value
	return u
}

// SetInput records a fingerprint input.
func (u *Unit) SetInput(key, value string) *Unit {
	if u.Inputs == nil {
		u.Inputs = make(map[string]string)
	}
	u.Inputs[key] = value
	return u
}

// Dependencies returns the dependency names in insertion order.
func (u *Unit) Dependencies() []string { return append([]string(nil), u.dependsOn...) }

// Finalizers returns the finalizer names in insertion order.
func (u *Unit) Finalizers() []string { return append([]string(nil), u.finalizedBy...) }

// RunsAfter returns the must-run-after names in insertion order.
func (u *Unit) RunsAfter() []string { return append([]string(nil), u.mustRunAfter...) }

// HasPredicates reports whether the unit is gated by OnlyIf predicates.
func (u *Unit) HasPredicates() bool { return len(u.onlyIf) > 0 }

func (u *Unit) shouldRun() bool {
	for _, p := range u.onlyIf {
		if !p() {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
