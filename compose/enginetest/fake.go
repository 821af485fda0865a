// Package enginetest provides an in-memory compose.Engine for tests.
package enginetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/initializ/dockflow/compose"
)

// Engine records calls and tracks which projects are up.
type Engine struct {
	mu sync.Mutex

	UpErr    error
	DownErr  error
	SweepErr error
	WaitErr  error
	// ServiceList is returned by Services for every project. When nil, a
	// running project lists one running "db" service.
	ServiceList []compose.Service
	// PanicOnDown makes Down panic.
	PanicOnDown bool

	Calls   []string
	running map[string]compose.Project
}

func (e *Engine) record(call string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = append(e.Calls, call)
}

func (e *Engine) Up(_ context.Context, p compose.Project) error {
	e.record("up " + p.Name)
	if e.UpErr != nil {
		return e.UpErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running == nil {
		e.running = make(map[string]compose.Project)
	}
	e.running[p.Name] = p
	return nil
}

func (e *Engine) Down(_ context.Context, p compose.Project) error {
	e.record("down " + p.Name)
	if e.PanicOnDown {
		panic("compose down exploded")
	}
	if e.DownErr != nil {
		return e.DownErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, p.Name)
	return nil
}

func (e *Engine) Services(_ context.Context, p compose.Project) ([]compose.Service, error) {
	e.record("services " + p.Name)
	if e.ServiceList != nil {
		return append([]compose.Service(nil), e.ServiceList...), nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[p.Name]; !ok {
		return nil, nil
	}
	return []compose.Service{{Service: "db", ContainerID: "c-" + p.Name, ContainerName: p.Name + "-db-1", State: "running"}}, nil
}

func (e *Engine) WaitForServices(_ context.Context, p compose.Project, _ []string, _, _ time.Duration) error {
	e.record("wait " + p.Name)
	return e.WaitErr
}

func (e *Engine) RemoveByLabel(_ context.Context, namespace string) error {
	e.record("sweep-label " + namespace)
	e.forget(namespace)
	return e.SweepErr
}

func (e *Engine) RemoveByName(_ context.Context, namespace string) error {
	e.record("sweep-name " + namespace)
	e.forget(namespace)
	return e.SweepErr
}

func (e *Engine) forget(namespace string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, namespace)
}

// Running returns the names of projects currently up.
func (e *Engine) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.running))
	for n := range e.running {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Count returns how many recorded calls start with prefix.
func (e *Engine) Count(prefix string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.Calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

var _ compose.Engine = (*Engine)(nil)
