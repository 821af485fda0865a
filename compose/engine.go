// Package compose drives multi-container stacks through the docker compose
// CLI: bringing a namespaced project up and down, listing its services, waiting
// for services and sweeping leftovers by label or name.
package compose

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ProjectLabel is the label compose stamps on every resource it creates.
const ProjectLabel = "com.docker.compose.project"

// Project identifies one running instance of a stack.
type Project struct {
	// Name is the compose project namespace.
	Name  string
	Files []string
	Dir   string
}

// Port is one published container port.
type Port struct {
	Container int    `json:"container"`
	Host      int    `json:"host"`
	Protocol  string `json:"protocol"`
}

// Service is the observed state of one service container.
type Service struct {
	Service       string `json:"service"`
	ContainerID   string `json:"containerId"`
	ContainerName string `json:"containerName"`
	State         string `json:"state"`
	Health        string `json:"health,omitempty"`
	Ports         []Port `json:"publishedPorts"`
}

// Ready reports whether the container is running and, when it has a
// healthcheck, healthy.
func (s Service) Ready() bool {
	if !strings.EqualFold(s.State, "running") {
		return false
	}
	return s.Health == "" || strings.EqualFold(s.Health, "healthy")
}

// Engine is the container-orchestration surface the lifecycle machine uses.
type Engine interface {
	Up(ctx context.Context, p Project) error
	Down(ctx context.Context, p Project) error
	Services(ctx context.Context, p Project) ([]Service, error)
	WaitForServices(ctx context.Context, p Project, services []string, timeout, interval time.Duration) error
	// RemoveByLabel removes containers, networks and volumes labelled with
	// the project namespace.
	RemoveByLabel(ctx context.Context, namespace string) error
	// RemoveByName removes containers and networks whose names start with
	// the namespace followed by a compose separator.
	RemoveByName(ctx context.Context, namespace string) error
}

// AllReady reports whether at least one service is listed and every listed
// service is ready.
func AllReady(services []Service) bool {
	if len(services) == 0 {
		return false
	}
	for _, s := range services {
		if !s.Ready() {
			return false
		}
	}
	return true
}

// WaitTimeoutError reports services that never became ready.
type WaitTimeoutError struct {
	Project  string
	Pending  []string
	Deadline time.Duration
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("compose project %s: services not ready after %s: %s",
		e.Project, e.Deadline, strings.Join(e.Pending, ", "))
}
