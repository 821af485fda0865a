package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/initializ/dockflow/compose"
	"github.com/initializ/dockflow/internal/fsutil"
	"github.com/initializ/dockflow/types"
)

// Phase is the lifecycle state of a session.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseStarting Phase = "starting"
	PhaseReady    Phase = "ready"
	PhaseStopping Phase = "stopping"
)

// Stack is the resolved configuration of one compose stack.
type Stack struct {
	Name     string              `json:"name"`
	Files    []string            `json:"files"`
	Dir      string              `json:"dir,omitempty"`
	Services []string            `json:"services,omitempty"`
	Mode     types.LifecycleMode `json:"lifecycle"`

	// Zero values fall back to the mode's readiness defaults.
	SettleInterval time.Duration `json:"settleInterval,omitempty"`
	PollInterval   time.Duration `json:"pollInterval,omitempty"`
	WaitTimeout    time.Duration `json:"waitTimeout,omitempty"`
	MaxAttempts    int           `json:"maxAttempts,omitempty"`
}

// StackFromSpec resolves a configured stack for the given lifecycle mode.
func StackFromSpec(spec *types.StackSpec, mode types.LifecycleMode) *Stack {
	if spec == nil {
		return nil
	}
	return &Stack{
		Name:           spec.Name,
		Files:          append([]string(nil), spec.Files...),
		Services:       append([]string(nil), spec.Services...),
		Mode:           mode,
		SettleInterval: spec.SettleInterval.Std(),
		PollInterval:   spec.PollInterval.Std(),
		WaitTimeout:    spec.WaitTimeout.Std(),
		MaxAttempts:    spec.MaxAttempts,
	}
}

// Owner identifies the test scope a stack belongs to.
type Owner struct {
	Class  string `json:"class"`
	Method string `json:"method,omitempty"`
}

// Session is one started stack. It is an explicit value handed from Start
// to Stop, and can be persisted so a later phase can stop it.
type Session struct {
	ID        string    `json:"id"`
	Stack     Stack     `json:"stack"`
	Owner     Owner     `json:"owner"`
	Namespace string    `json:"namespace"`
	StateFile string    `json:"stateFile"`
	Phase     Phase     `json:"phase"`
	StartedAt time.Time `json:"startedAt"`
}

// Project returns the compose project the session runs as.
func (s *Session) Project() compose.Project {
	return compose.Project{Name: s.Namespace, Files: s.Stack.Files, Dir: s.Stack.Dir}
}

// SaveSession persists a session as JSON.
func SaveSession(path string, s *Session) error {
	if err := fsutil.WriteJSONAtomic(path, s); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// LoadSession reads a session persisted by SaveSession.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", path, err)
	}
	if s.Namespace == "" {
		return nil, fmt.Errorf("session %s has no namespace", path)
	}
	return &s, nil
}
