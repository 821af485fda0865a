package container

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/initializ/dockflow/internal/shell"
)

// BuildahBuilder builds container images using the buildah CLI.
type BuildahBuilder struct {
	runner shell.Runner
}

func (b *BuildahBuilder) Name() string { return "buildah" }

func (b *BuildahBuilder) Available(ctx context.Context) bool {
	_, err := b.run(ctx, "version")
	return err == nil
}

func (b *BuildahBuilder) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	args := append([]string{"bud"}, buildFlags(opts)...)
	res, err := b.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("buildah bud failed: %w", err)
	}

	// Buildah outputs the image ID on the last line
	lines := strings.Split(strings.TrimSpace(string(res.Stdout)), "\n")
	imageID := ""
	if len(lines) > 0 {
		imageID = strings.TrimSpace(lines[len(lines)-1])
	}

	return &BuildResult{
		ImageID: imageID,
		Tags:    append([]string(nil), opts.Tags...),
	}, nil
}

func (b *BuildahBuilder) Tag(ctx context.Context, source, target string) error {
	if _, err := b.run(ctx, "tag", source, target); err != nil {
		return fmt.Errorf("buildah tag %s %s failed: %w", source, target, err)
	}
	return nil
}

func (b *BuildahBuilder) Push(ctx context.Context, image string) error {
	if _, err := b.run(ctx, "push", image); err != nil {
		return fmt.Errorf("buildah push failed: %w", err)
	}
	return nil
}

// Save pushes the image into a temporary docker-archive and copies it to w;
// buildah cannot stream an archive to stdout.
func (b *BuildahBuilder) Save(ctx context.Context, image string, w io.Writer) error {
	tmp, err := os.CreateTemp("", "dockflow-buildah-*.tar")
	if err != nil {
		return fmt.Errorf("creating archive file: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	if _, err := b.run(ctx, "push", image, "docker-archive:"+path+":"+image); err != nil {
		return fmt.Errorf("buildah push to archive failed: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copying archive: %w", err)
	}
	return nil
}

func (b *BuildahBuilder) Remove(ctx context.Context, images ...string) error {
	if len(images) == 0 {
		return nil
	}
	if _, err := b.run(ctx, append([]string{"rmi", "-f"}, images...)...); err != nil {
		return fmt.Errorf("buildah rmi failed: %w", err)
	}
	return nil
}

func (b *BuildahBuilder) run(ctx context.Context, args ...string) (*shell.Result, error) {
	return shell.OrDefault(b.runner).Run(ctx, shell.Command{Name: "buildah", Args: args})
}
