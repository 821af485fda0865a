// Package lifecycle starts and stops compose stacks for a test scope.
//
// A Machine moves one stack instance through idle, starting, ready and
// stopping. Each instance runs under its own namespace, publishes a runtime
// state artifact for test code, and is swept by label and by name on the way
// up and on the way down so leftovers from crashed runs never accumulate.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/initializ/dockflow/compose"
	"github.com/initializ/dockflow/internal/fsutil"
	"github.com/initializ/dockflow/logging"
	"github.com/initializ/dockflow/types"
	"github.com/initializ/dockflow/util"
)

// ErrNoStack is returned when Start is called without a usable stack.
var ErrNoStack = errors.New("no compose stack configured")

// Machine runs stack instances.
type Machine struct {
	Engine    compose.Engine
	StateDir  string
	Publisher Publisher
	Logger    logging.Logger

	// Now and Sleep are replaceable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	lastMillis int64
}

type readiness struct {
	settle   time.Duration
	poll     time.Duration
	attempts int
	wait     time.Duration
}

// defaultReadiness returns the settle and polling heuristic for a mode.
// Class-scoped stacks usually carry heavier services and get more time.
func defaultReadiness(mode types.LifecycleMode) readiness {
	switch mode {
	case types.LifecycleClass:
		return readiness{settle: 2 * time.Second, poll: 2 * time.Second, attempts: 30, wait: 2 * time.Minute}
	case types.LifecycleMethod:
		return readiness{settle: 500 * time.Millisecond, poll: time.Second, attempts: 10, wait: time.Minute}
	default:
		panic(fmt.Sprintf("lifecycle: unhandled mode %v", mode))
	}
}

func (s *Stack) readiness() readiness {
	r := defaultReadiness(s.Mode)
	if s.SettleInterval > 0 {
		r.settle = s.SettleInterval
	}
	if s.PollInterval > 0 {
		r.poll = s.PollInterval
	}
	if s.MaxAttempts > 0 {
		r.attempts = s.MaxAttempts
	}
	if s.WaitTimeout > 0 {
		r.wait = s.WaitTimeout
	}
	return r
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Machine) sleep(ctx context.Context, d time.Duration) error {
	if m.Sleep != nil {
		return m.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *Machine) publisher() Publisher {
	if m.Publisher == nil {
		return EnvPublisher{}
	}
	return m.Publisher
}

// nextMillis returns the current epoch millis, bumped so that it is strictly
// greater than any value this machine handed out before.
func (m *Machine) nextMillis() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := m.now().UnixMilli()
	if ms <= m.lastMillis {
		ms = m.lastMillis + 1
	}
	m.lastMillis = ms
	return ms
}

// Namespace builds the project namespace for one stack instance.
func (m *Machine) Namespace(stack *Stack, owner Owner) string {
	raw := stack.Name + "-" + owner.Class
	switch stack.Mode {
	case types.LifecycleClass:
	case types.LifecycleMethod:
		if owner.Method != "" {
			raw += "-" + owner.Method
		}
	}
	raw += "-" + strconv.FormatInt(m.nextMillis(), 10)
	return util.SanitizeProjectName(raw)
}

// Start brings a stack up for owner and waits until it looks ready.
//
// Leftovers under the new namespace are swept first. If the stack fails to
// come up, everything started so far is torn down and the original error is
// returned. Readiness exhaustion only logs a warning.
func (m *Machine) Start(ctx context.Context, stack *Stack, owner Owner) (*Session, error) {
	if stack == nil || stack.Name == "" || len(stack.Files) == 0 {
		return nil, ErrNoStack
	}
	if m.Engine == nil {
		return nil, fmt.Errorf("lifecycle machine has no compose engine")
	}
	log := logging.OrNop(m.Logger)

	ns := m.Namespace(stack, owner)
	s := &Session{
		ID:        uuid.NewString(),
		Stack:     *stack,
		Owner:     owner,
		Namespace: ns,
		StateFile: filepath.Join(m.StateDir, ns+".json"),
		Phase:     PhaseStarting,
		StartedAt: m.now(),
	}
	fields := map[string]any{"stack": stack.Name, "namespace": ns, "lifecycle": stack.Mode.String(), "session": s.ID}
	log.Info("starting stack", fields)

	if err := m.Engine.RemoveByLabel(ctx, ns); err != nil {
		log.Warn("pre-start label sweep failed", withErr(fields, err))
	}
	if err := m.Engine.RemoveByName(ctx, ns); err != nil {
		log.Warn("pre-start name sweep failed", withErr(fields, err))
	}

	if err := m.bringUp(ctx, s); err != nil {
		log.Error("stack failed to start, rolling back", withErr(fields, err))
		m.Stop(ctx, s)
		return nil, err
	}

	s.Phase = PhaseReady
	log.Info("stack ready", fields)
	return s, nil
}

func (m *Machine) bringUp(ctx context.Context, s *Session) error {
	project := s.Project()
	if err := m.Engine.Up(ctx, project); err != nil {
		return fmt.Errorf("starting stack %s: %w", s.Stack.Name, err)
	}
	if err := m.awaitReady(ctx, s); err != nil {
		return err
	}

	services, err := m.Engine.Services(ctx, project)
	if err != nil {
		logging.OrNop(m.Logger).Warn("listing stack services failed", map[string]any{"namespace": s.Namespace, "error": err.Error()})
	}
	st := &RuntimeState{
		StackName:   s.Stack.Name,
		ProjectName: s.Namespace,
		Lifecycle:   s.Stack.Mode.String(),
		TestClass:   s.Owner.Class,
		TestMethod:  s.Owner.Method,
		Timestamp:   m.now().UnixMilli(),
		Services:    servicesFrom(services),
	}
	if err := WriteRuntimeState(s.StateFile, st); err != nil {
		return err
	}

	pub := m.publisher()
	if err := pub.Publish(EnvStateFile, s.StateFile); err != nil {
		return fmt.Errorf("publishing %s: %w", EnvStateFile, err)
	}
	if err := pub.Publish(EnvProject, s.Namespace); err != nil {
		return fmt.Errorf("publishing %s: %w", EnvProject, err)
	}
	return nil
}

// awaitReady waits the settle interval, then polls the service listing until
// every service is running and, where it has a healthcheck, healthy. Only
// cancellation is an error.
func (m *Machine) awaitReady(ctx context.Context, s *Session) error {
	log := logging.OrNop(m.Logger)
	r := s.Stack.readiness()
	project := s.Project()

	if err := m.sleep(ctx, r.settle); err != nil {
		return err
	}

	ready := false
	for attempt := 1; attempt <= r.attempts; attempt++ {
		services, err := m.Engine.Services(ctx, project)
		if err == nil && compose.AllReady(services) {
			ready = true
			break
		}
		if attempt < r.attempts {
			if err := m.sleep(ctx, r.poll); err != nil {
				return err
			}
		}
	}
	if !ready {
		log.Warn("stack not confirmed ready, continuing", map[string]any{"namespace": s.Namespace, "attempts": r.attempts})
	}

	if len(s.Stack.Services) > 0 {
		if err := m.Engine.WaitForServices(ctx, project, s.Stack.Services, r.wait, r.poll); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("services not ready, continuing", map[string]any{"namespace": s.Namespace, "error": err.Error()})
		}
	}
	return nil
}

// Stop tears a session down: compose down, label sweep, name sweep, artifact
// removal and discovery unpublish. Every step runs even when earlier ones
// fail; failures and panics are logged, never returned.
func (m *Machine) Stop(ctx context.Context, s *Session) {
	if s == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.Phase = PhaseStopping
	fields := map[string]any{"stack": s.Stack.Name, "namespace": s.Namespace, "session": s.ID}
	logging.OrNop(m.Logger).Info("stopping stack", fields)

	if m.Engine != nil {
		m.step("compose down", fields, func() error { return m.Engine.Down(ctx, s.Project()) })
		m.step("label sweep", fields, func() error { return m.Engine.RemoveByLabel(ctx, s.Namespace) })
		m.step("name sweep", fields, func() error { return m.Engine.RemoveByName(ctx, s.Namespace) })
	}
	m.step("remove runtime state", fields, func() error { return fsutil.RemoveIfExists(s.StateFile) })
	m.step("unpublish", fields, func() error {
		pub := m.publisher()
		return errors.Join(pub.Unpublish(EnvStateFile), pub.Unpublish(EnvProject))
	})

	s.Phase = PhaseIdle
}

func (m *Machine) step(name string, fields map[string]any, fn func() error) {
	log := logging.OrNop(m.Logger)
	defer func() {
		if r := recover(); r != nil {
			log.Error("stop step panicked", withErr(fields, fmt.Errorf("%s: %v", name, r)))
		}
	}()
	if err := fn(); err != nil {
		log.Warn("stop step failed", withErr(fields, fmt.Errorf("%s: %w", name, err)))
	}
}

func withErr(fields map[string]any, err error) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["error"] = err.Error()
	return out
}
