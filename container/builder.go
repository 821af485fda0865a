// Package container provides the image engine: building, tagging, pushing,
// saving and removing images via docker, podman, or buildah.
package container

import (
	"context"
	"io"

	"github.com/initializ/dockflow/internal/shell"
)

// Builder is the interface for container image engines.
type Builder interface {
	Name() string
	Available(ctx context.Context) bool
	Build(ctx context.Context, opts BuildOptions) (*BuildResult, error)
	Tag(ctx context.Context, source, target string) error
	Push(ctx context.Context, image string) error
	// Save streams an image archive (docker-archive format) to w.
	Save(ctx context.Context, image string, w io.Writer) error
	Remove(ctx context.Context, images ...string) error
}

// BuildOptions configures a container image build.
type BuildOptions struct {
	ContextDir string
	Dockerfile string
	Tags       []string
	Platform   string
	NoCache    bool
	BuildArgs  map[string]string
}

// BuildResult holds the result of a container image build.
type BuildResult struct {
	ImageID string
	Tags    []string
}

// Names lists the supported builders in detection order.
var Names = []string{"docker", "podman", "buildah"}

// Detect returns the first available container builder in order: docker, podman, buildah.
// Returns nil if no builder is available.
func Detect(ctx context.Context, runner shell.Runner) Builder {
	for _, name := range Names {
		b := Get(name, runner)
		if b.Available(ctx) {
			return b
		}
	}
	return nil
}

// Get returns a builder by name, or nil if the name is unknown.
func Get(name string, runner shell.Runner) Builder {
	runner = shell.OrDefault(runner)
	switch name {
	case "docker":
		return NewDocker(runner)
	case "podman":
		return NewPodman(runner)
	case "buildah":
		return &BuildahBuilder{runner: runner}
	default:
		return nil
	}
}
