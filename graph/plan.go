package graph

import (
	"container/heap"
	"sort"
)

// Plan is the resolved, ordered set of units needed to run some targets.
type Plan struct {
	Targets []string
	// Order is a deterministic topological order: dependencies, finalized
	// units and must-run-after predecessors always come first.
	Order []string

	units    map[string]*Unit
	required map[string]bool
	// finalizes maps a finalizer to the planned units it finalizes.
	finalizes map[string][]string
}

// Unit returns a planned unit.
func (pl *Plan) Unit(name string) (*Unit, bool) {
	u, ok := pl.units[name]
	return u, ok
}

// Contains reports whether name is part of the plan.
func (pl *Plan) Contains(name string) bool {
	_, ok := pl.units[name]
	return ok
}

// IsFinalizer reports whether name is in the plan because it finalizes
// another planned unit.
func (pl *Plan) IsFinalizer(name string) bool {
	return len(pl.finalizes[name]) > 0
}

// Plan resolves targets into an executable plan.
//
// The plan contains every target, the transitive dependencies of every
// planned unit, and the finalizers of every planned unit. Finalizers that are
// not otherwise needed run only when a unit they finalize was attempted.
func (p *Project) Plan(targets ...string) (*Plan, error) {
	if len(targets) == 0 {
		return nil, invalidf("no targets")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pl := &Plan{
		Targets:   append([]string(nil), targets...),
		units:     make(map[string]*Unit),
		required:  make(map[string]bool),
		finalizes: make(map[string][]string),
	}

	var require func(name, from string) error
	require = func(name, from string) error {
		if pl.required[name] {
			return nil
		}
		u, ok := p.units[name]
		if !ok {
			if from == "" {
				return unknownf("target %q", name)
			}
			return invalidf("%q depends on unknown unit %q", from, name)
		}
		pl.units[name] = u
		pl.required[name] = true
		for _, d := range u.dependsOn {
			if err := require(d, name); err != nil {
				return err
			}
		}
		return nil
	}

	for _, t := range targets {
		if err := require(t, ""); err != nil {
			return nil, err
		}
	}

	// Pull in finalizers (and what they depend on) until nothing changes.
	for changed := true; changed; {
		changed = false
		for _, name := range sortedUnitNames(pl.units) {
			u := pl.units[name]
			for _, f := range u.finalizedBy {
				fu, ok := p.units[f]
				if !ok {
					return nil, invalidf("%q is finalized by unknown unit %q", name, f)
				}
				if !containsString(pl.finalizes[f], name) {
					pl.finalizes[f] = append(pl.finalizes[f], name)
					changed = true
				}
				if _, planned := pl.units[f]; !planned {
					pl.units[f] = fu
					changed = true
				}
				for _, d := range fu.dependsOn {
					if err := require(d, f); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	order, err := topoOrder(pl)
	if err != nil {
		return nil, err
	}
	pl.Order = order
	return pl, nil
}

// predecessors returns, per planned unit, the planned units that must come
// before it.
func predecessors(pl *Plan) map[string][]string {
	pred := make(map[string][]string, len(pl.units))
	add := func(before, after string) {
		if !containsString(pred[after], before) {
			pred[after] = append(pred[after], before)
		}
	}
	for name, u := range pl.units {
		for _, d := range u.dependsOn {
			add(d, name)
		}
		for _, f := range u.finalizedBy {
			add(name, f)
		}
		for _, a := range u.mustRunAfter {
			if _, ok := pl.units[a]; ok {
				add(a, name)
			}
		}
	}
	return pred
}

type nameHeap []string

func (h nameHeap) Len() int           { return len(h) }
func (h nameHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h nameHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *nameHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *nameHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder runs Kahn's algorithm with a name-ordered ready queue so the
// result is deterministic. Leftover units mean a cycle.
func topoOrder(pl *Plan) ([]string, error) {
	pred := predecessors(pl)
	indeg := make(map[string]int, len(pl.units))
	succ := make(map[string][]string, len(pl.units))
	for name := range pl.units {
		indeg[name] = len(pred[name])
		for _, b := range pred[name] {
			succ[b] = append(succ[b], name)
		}
	}

	ready := &nameHeap{}
	for name, d := range indeg {
		if d == 0 {
			heap.Push(ready, name)
		}
	}

	order := make([]string, 0, len(pl.units))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(string)
		order = append(order, n)
		for _, m := range succ[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}

	if len(order) != len(pl.units) {
		return nil, cycleError(findCycle(pl, pred))
	}
	return order, nil
}

// findCycle returns one cycle witness in forward order, starting and ending
// on the same unit.
func findCycle(pl *Plan, pred map[string][]string) []string {
	succ := make(map[string][]string)
	for after, befores := range pred {
		for _, b := range befores {
			succ[b] = append(succ[b], after)
		}
	}
	for k := range succ {
		sort.Strings(succ[k])
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var stack []string
	var cycle []string

	var dfs func(u string) bool
	dfs = func(u string) bool {
		color[u] = gray
		stack = append(stack, u)
		for _, v := range succ[u] {
			switch color[v] {
			case white:
				if dfs(v) {
					return true
				}
			case gray:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == v {
						cycle = append(append([]string(nil), stack[i:]...), v)
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[u] = black
		return false
	}

	for _, name := range sortedUnitNames(pl.units) {
		if color[name] == white && dfs(name) {
			break
		}
	}
	return cycle
}

func sortedUnitNames(m map[string]*Unit) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
