package lifecycle

import (
	"os"
	"sync"
)

// Discovery keys published while a stack is running.
const (
	EnvStateFile = "DOCKFLOW_COMPOSE_STATE_FILE"
	EnvProject   = "DOCKFLOW_COMPOSE_PROJECT"
	// EnvSession points at a persisted Session; the test unit of a
	// class-scoped stack receives it instead of the two keys above.
	EnvSession = "DOCKFLOW_COMPOSE_SESSION"
)

// Publisher makes discovery values visible to test code.
type Publisher interface {
	Publish(key, value string) error
	Unpublish(key string) error
}

// EnvPublisher publishes into the process environment.
type EnvPublisher struct{}

func (EnvPublisher) Publish(key, value string) error { return os.Setenv(key, value) }

func (EnvPublisher) Unpublish(key string) error { return os.Unsetenv(key) }

// MapPublisher keeps values in memory.
type MapPublisher struct {
	mu     sync.Mutex
	values map[string]string
}

func (p *MapPublisher) Publish(key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.values == nil {
		p.values = make(map[string]string)
	}
	p.values[key] = value
	return nil
}

func (p *MapPublisher) Unpublish(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, key)
	return nil
}

// Get returns a published value.
func (p *MapPublisher) Get(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[key]
	return v, ok
}

// Len returns the number of published values.
func (p *MapPublisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.values)
}
