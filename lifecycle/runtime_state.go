package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/initializ/dockflow/compose"
	"github.com/initializ/dockflow/internal/fsutil"
	"github.com/initializ/dockflow/validate"
)

// RuntimeState is the artifact test code reads to find the running stack.
type RuntimeState struct {
	StackName   string                  `json:"stackName"`
	ProjectName string                  `json:"projectName"`
	Lifecycle   string                  `json:"lifecycle"`
	TestClass   string                  `json:"testClass"`
	TestMethod  string                  `json:"testMethod,omitempty"`
	Timestamp   int64                   `json:"timestamp"`
	Services    map[string]ServiceState `json:"services"`
}

// ServiceState describes one service container of the stack.
type ServiceState struct {
	ContainerID    string         `json:"containerId"`
	ContainerName  string         `json:"containerName"`
	State          string         `json:"state"`
	PublishedPorts []compose.Port `json:"publishedPorts"`
}

// HostPort returns the host port published for a container port.
func (s ServiceState) HostPort(containerPort int) (int, bool) {
	for _, p := range s.PublishedPorts {
		if p.Container == containerPort {
			return p.Host, true
		}
	}
	return 0, false
}

// Service returns the named service.
func (r *RuntimeState) Service(name string) (ServiceState, bool) {
	s, ok := r.Services[name]
	return s, ok
}

func servicesFrom(list []compose.Service) map[string]ServiceState {
	out := make(map[string]ServiceState, len(list))
	for _, s := range list {
		ports := s.Ports
		if ports == nil {
			ports = []compose.Port{}
		}
		out[s.Service] = ServiceState{
			ContainerID:    s.ContainerID,
			ContainerName:  s.ContainerName,
			State:          s.State,
			PublishedPorts: ports,
		}
	}
	return out
}

// WriteRuntimeState writes the artifact atomically.
func WriteRuntimeState(path string, st *RuntimeState) error {
	if err := fsutil.WriteJSONAtomic(path, st); err != nil {
		return fmt.Errorf("writing runtime state: %w", err)
	}
	return nil
}

// ReadRuntimeState reads and schema-validates an artifact.
func ReadRuntimeState(path string) (*RuntimeState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading runtime state: %w", err)
	}
	return ParseRuntimeState(data)
}

// ParseRuntimeState validates data against the runtime state schema and
// decodes it.
func ParseRuntimeState(data []byte) (*RuntimeState, error) {
	violations, err := validate.ValidateRuntimeState(data)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		return nil, fmt.Errorf("invalid runtime state: %v", violations)
	}
	var st RuntimeState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decoding runtime state: %w", err)
	}
	return &st, nil
}
