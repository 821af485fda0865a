// Package graph is dockflow's build engine: a registry of named units wired
// by dependency, finalizer and must-run-after edges, a planner that resolves
// what a set of targets needs, and a serial executor.
//
// The registry is mutable while the configuration phase wires it. Plans
// snapshot the edges at planning time; executing a plan never mutates the
// project.
package graph

import (
	"sort"
	"sync"
)

// Project holds registered units by name.
type Project struct {
	mu    sync.Mutex
	units map[string]*Unit
}

// NewProject creates an empty Project.
func NewProject() *Project {
	return &Project{units: make(map[string]*Unit)}
}

// Ensure returns the unit registered under name, creating it and running
// init when it does not exist yet. The boolean reports whether the unit was
// created. Calling Ensure again with the same name reuses the unit.
func (p *Project) Ensure(name string, init func(*Unit)) (*Unit, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := p.units[name]; ok {
		return u, false
	}
	u := &Unit{Name: name}
	if init != nil {
		init(u)
	}
	p.units[name] = u
	return u, true
}

// Lookup returns a unit by name. A missing unit is not an error by itself.
func (p *Project) Lookup(name string) (*Unit, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.units[name]
	return u, ok
}

// Units returns all units sorted by name.
func (p *Project) Units() []*Unit {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Unit, 0, len(p.units))
	for _, u := range p.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns all unit names sorted.
func (p *Project) Names() []string {
	units := p.Units()
	names := make([]string, len(units))
	for i, u := range units {
		names[i] = u.Name
	}
	return names
}
