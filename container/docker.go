package container

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/initializ/dockflow/internal/shell"
)

// CLIBuilder drives a docker-compatible CLI. Docker and podman share the
// same command surface for everything dockflow needs.
type CLIBuilder struct {
	binary string
	runner shell.Runner
}

// NewDocker returns a builder for the docker CLI.
func NewDocker(runner shell.Runner) *CLIBuilder {
	return &CLIBuilder{binary: "docker", runner: shell.OrDefault(runner)}
}

// NewPodman returns a builder for the podman CLI.
func NewPodman(runner shell.Runner) *CLIBuilder {
	return &CLIBuilder{binary: "podman", runner: shell.OrDefault(runner)}
}

func (b *CLIBuilder) Name() string { return b.binary }

func (b *CLIBuilder) Available(ctx context.Context) bool {
	_, err := b.runner.Run(ctx, shell.Command{Name: b.binary, Args: []string{"info"}})
	return err == nil
}

func (b *CLIBuilder) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	args := []string{"build", "-q"}
	args = append(args, buildFlags(opts)...)

	res, err := b.runner.Run(ctx, shell.Command{Name: b.binary, Args: args})
	if err != nil {
		return nil, fmt.Errorf("%s build failed: %w", b.binary, err)
	}

	return &BuildResult{
		ImageID: parseImageID(string(res.Stdout)),
		Tags:    append([]string(nil), opts.Tags...),
	}, nil
}

func (b *CLIBuilder) Tag(ctx context.Context, source, target string) error {
	if _, err := b.runner.Run(ctx, shell.Command{Name: b.binary, Args: []string{"tag", source, target}}); err != nil {
		return fmt.Errorf("%s tag %s %s failed: %w", b.binary, source, target, err)
	}
	return nil
}

func (b *CLIBuilder) Push(ctx context.Context, image string) error {
	if _, err := b.runner.Run(ctx, shell.Command{Name: b.binary, Args: []string{"push", image}}); err != nil {
		return fmt.Errorf("%s push failed: %w", b.binary, err)
	}
	return nil
}

func (b *CLIBuilder) Save(ctx context.Context, image string, w io.Writer) error {
	cmd := shell.Command{Name: b.binary, Args: []string{"save", image}, Stdout: w}
	if _, err := b.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("%s save failed: %w", b.binary, err)
	}
	return nil
}

func (b *CLIBuilder) Remove(ctx context.Context, images ...string) error {
	if len(images) == 0 {
		return nil
	}
	args := append([]string{"rmi", "-f"}, images...)
	if _, err := b.runner.Run(ctx, shell.Command{Name: b.binary, Args: args}); err != nil {
		return fmt.Errorf("%s rmi failed: %w", b.binary, err)
	}
	return nil
}

// buildFlags renders the flags shared by docker, podman and buildah builds.
// Build args are sorted so the command line is stable.
func buildFlags(opts BuildOptions) []string {
	var args []string
	for _, tag := range opts.Tags {
		args = append(args, "-t", tag)
	}
	if opts.Dockerfile != "" {
		args = append(args, "-f", opts.Dockerfile)
	}
	if opts.Platform != "" {
		args = append(args, "--platform", opts.Platform)
	}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	keys := make([]string, 0, len(opts.BuildArgs))
	for k := range opts.BuildArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--build-arg", fmt.Sprintf("%s=%s", k, opts.BuildArgs[k]))
	}

	contextDir := opts.ContextDir
	if contextDir == "" {
		contextDir = "."
	}
	return append(args, contextDir)
}

// parseImageID extracts the image ID from build output.
func parseImageID(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		// Docker outputs "Successfully built <id>" or just a sha256 hash
		if strings.HasPrefix(line, "Successfully built ") {
			return strings.TrimPrefix(line, "Successfully built ")
		}
		if strings.HasPrefix(line, "sha256:") {
			return line
		}
	}
	if len(lines) > 0 {
		return strings.TrimSpace(lines[len(lines)-1])
	}
	return ""
}
