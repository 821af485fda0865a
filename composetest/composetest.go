// Package composetest gives Go tests compose stacks with class or method
// scope.
//
// A class-scoped stack wraps a whole test binary:
//
//	func TestMain(m *testing.M) {
//		os.Exit(composetest.RunClass(m, "OrdersIT"))
//	}
//
// A method-scoped stack is started per test and stopped on cleanup:
//
//	func TestCreateOrder(t *testing.T) {
//		st := composetest.Method(t)
//		db, _ := st.Service("db")
//		port, _ := db.HostPort(5432)
//		...
//	}
//
// The stack comes from environment variables dockflow sets on test units.
// Without them, RunClass just runs the tests and Method skips unless a
// running stack was published to the process.
package composetest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/initializ/dockflow/compose"
	"github.com/initializ/dockflow/lifecycle"
	"github.com/initializ/dockflow/logging"
	"github.com/initializ/dockflow/types"
)

// ErrNotConfigured means no stack settings are present.
var ErrNotConfigured = lifecycle.ErrNotConfigured

// Config is the stack a test process manages itself.
type Config struct {
	Stack    lifecycle.Stack
	StateDir string
}

// FromEnv reads the stack settings dockflow exported to the test process.
func FromEnv() (*Config, error) {
	return FromEnvWith(os.Getenv)
}

// FromEnvWith reads the stack settings through getenv.
func FromEnvWith(getenv func(string) string) (*Config, error) {
	stack, stateDir, err := lifecycle.StackFromEnv(getenv)
	if err != nil {
		return nil, err
	}
	return &Config{Stack: *stack, StateDir: stateDir}, nil
}

// newEngine and sleep are replaced in tests.
var (
	newEngine = func(l logging.Logger) compose.Engine { return compose.NewCLI(nil, l) }
	sleep     func(ctx context.Context, d time.Duration) error
)

var (
	machinesMu sync.Mutex
	machines   = map[string]*lifecycle.Machine{}
)

// machine returns the machine shared by every caller with the same state
// directory and publisher kind, so namespaces stay unique within a process.
func (c *Config) machine(pub lifecycle.Publisher) *lifecycle.Machine {
	key := fmt.Sprintf("%s|%T", c.StateDir, pub)
	machinesMu.Lock()
	defer machinesMu.Unlock()
	if m, ok := machines[key]; ok {
		return m
	}
	logger := logging.NewTextLogger(os.Stderr, os.Getenv("DOCKFLOW_VERBOSE") != "")
	m := &lifecycle.Machine{
		Engine:    newEngine(logger),
		StateDir:  c.StateDir,
		Publisher: pub,
		Logger:    logger,
		Sleep:     sleep,
	}
	machines[key] = m
	return m
}

// Runner is satisfied by *testing.M.
type Runner interface {
	Run() int
}

// RunClass runs m inside one class-scoped stack owned by class and returns
// the exit code. When the configured lifecycle is method, m runs without a
// shared stack and each test is expected to call Method.
func RunClass(m Runner, class string) int {
	cfg, err := FromEnv()
	if errors.Is(err, ErrNotConfigured) {
		return m.Run()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "composetest: %v\n", err)
		return 1
	}
	if cfg.Stack.Mode == types.LifecycleMethod {
		return m.Run()
	}

	mach := cfg.machine(lifecycle.EnvPublisher{})
	ctx := context.Background()
	s, err := mach.Start(ctx, &cfg.Stack, lifecycle.Owner{Class: class})
	if err != nil {
		fmt.Fprintf(os.Stderr, "composetest: %v\n", err)
		return 1
	}
	defer mach.Stop(ctx, s)
	return m.Run()
}

// Method returns the runtime state of the stack serving t. With method
// lifecycle a fresh stack is started for t and stopped when t finishes.
// Otherwise the stack published through the discovery keys is returned,
// whether RunClass or a dockflow compose-up unit started it. t is skipped
// only when no stack is configured or published at all.
func Method(t testing.TB) *lifecycle.RuntimeState {
	t.Helper()
	cfg, err := FromEnv()
	switch {
	case err == nil && cfg.Stack.Mode == types.LifecycleMethod:
	case err == nil || published():
		st, derr := lifecycle.Discover()
		if derr != nil {
			t.Fatalf("composetest: %v", derr)
		}
		return st
	case errors.Is(err, ErrNotConfigured):
		t.Skip("composetest: no compose stack configured")
	default:
		t.Fatalf("composetest: %v", err)
	}

	mach := cfg.machine(&lifecycle.MapPublisher{})
	class, method := splitTestName(t.Name())
	ctx := context.Background()
	s, err := mach.Start(ctx, &cfg.Stack, lifecycle.Owner{Class: class, Method: method})
	if err != nil {
		t.Fatalf("composetest: %v", err)
	}
	t.Cleanup(func() { mach.Stop(ctx, s) })

	st, err := lifecycle.ReadRuntimeState(s.StateFile)
	if err != nil {
		t.Fatalf("composetest: %v", err)
	}
	return st
}

// published reports whether a running stack was handed to this process.
func published() bool {
	return os.Getenv(lifecycle.EnvStateFile) != "" || os.Getenv(lifecycle.EnvSession) != ""
}

// splitTestName maps "TestOrders/create" to class TestOrders and method
// create; a top-level test is its own class and method.
func splitTestName(name string) (class, method string) {
	if i := strings.Index(name, "/"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, name
}
