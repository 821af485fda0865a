package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/initializ/dockflow/container"
	"github.com/initializ/dockflow/graph"
	"github.com/initializ/dockflow/internal/fsutil"
	"github.com/initializ/dockflow/internal/shell"
	"github.com/initializ/dockflow/lifecycle"
	"github.com/initializ/dockflow/logging"
	"github.com/initializ/dockflow/state"
	"github.com/initializ/dockflow/types"
	"github.com/initializ/dockflow/util"
)

var errNoBuilder = errors.New("no image builder available")

// sourceImage returns the reference of the image a pipeline built: the first
// tag recorded by the build unit, else the first configured tag.
func (g *Generator) sourceImage(p *types.PipelineSpec) (string, error) {
	if p.Build == nil || p.Build.Image == "" {
		return "", fmt.Errorf("pipeline %s has no build step", p.Name)
	}
	if rec, err := state.Read(ImageResultPath(g.root(), p.Build.Image)); err == nil && len(rec.ProducedTags) > 0 {
		return rec.ProducedTags[0], nil
	}
	if spec, ok := g.Config.Image(p.Build.Image); ok && len(spec.Tags) > 0 {
		return spec.Tags[0], nil
	}
	return "", fmt.Errorf("pipeline %s: image %s has no tag", p.Name, p.Build.Image)
}

// TagRef resolves an additional tag against the source image. A bare tag
// replaces the source tag; anything with a slash or colon is a full
// reference.
func TagRef(source, tag string) string {
	if strings.ContainsAny(tag, "/:") {
		return tag
	}
	return container.Retarget(source, "", "", tag)
}

// PublishRefs lists the references a publish step pushes.
func PublishRefs(source string, publish types.PublishStep) []string {
	var refs []string
	for _, t := range publish.Targets {
		for _, tag := range t.Tags {
			refs = append(refs, container.Retarget(source, t.Registry, t.Repository, tag))
		}
	}
	return refs
}

func (g *Generator) tagAction(p *types.PipelineSpec, tags []string) graph.Action {
	return func(ctx context.Context) error {
		if g.Images == nil {
			return errNoBuilder
		}
		source, err := g.sourceImage(p)
		if err != nil {
			return err
		}
		for _, tag := range tags {
			target := TagRef(source, tag)
			if err := g.Images.Tag(ctx, source, target); err != nil {
				return err
			}
			logging.OrNop(g.Logger).Info("tagged image", map[string]any{"pipeline": p.Name, "source": source, "target": target})
		}
		return nil
	}
}

func (g *Generator) saveAction(p *types.PipelineSpec, save types.SaveStep) graph.Action {
	return func(ctx context.Context) error {
		if g.Images == nil {
			return errNoBuilder
		}
		source, err := g.sourceImage(p)
		if err != nil {
			return err
		}
		c, err := container.ParseCompression(save.Compression)
		if err != nil {
			return err
		}
		if err := container.SaveImage(ctx, g.Images, source, save.Output, c); err != nil {
			return err
		}
		logging.OrNop(g.Logger).Info("saved image", map[string]any{"pipeline": p.Name, "image": source, "output": save.Output, "compression": string(c)})
		return nil
	}
}

func (g *Generator) publishAction(p *types.PipelineSpec, publish types.PublishStep) graph.Action {
	return func(ctx context.Context) error {
		if g.Images == nil {
			return errNoBuilder
		}
		source, err := g.sourceImage(p)
		if err != nil {
			return err
		}
		for _, ref := range PublishRefs(source, publish) {
			if err := g.Images.Tag(ctx, source, ref); err != nil {
				return err
			}
			if err := g.Images.Push(ctx, ref); err != nil {
				return err
			}
			logging.OrNop(g.Logger).Info("published image", map[string]any{"pipeline": p.Name, "ref": ref})
		}
		return nil
	}
}

// cleanupAction never fails: every removal is best effort.
func (g *Generator) cleanupAction(p *types.PipelineSpec, always types.AlwaysStep, success types.SuccessStep) graph.Action {
	return func(ctx context.Context) error {
		log := logging.OrNop(g.Logger)
		passed := state.IsSuccessful(TestResultPath(g.root(), p.Name))

		if always.RemoveContainers {
			switch {
			case always.KeepFailedContainers && !passed:
				log.Info("keeping containers of failed pipeline", map[string]any{"pipeline": p.Name})
			case g.Compose == nil || p.Test.Stack == "":
			default:
				g.sweepRecorded(ctx, p)
			}
		}

		if always.CleanupImages && g.Images != nil {
			refs := g.producedRefs(p, success)
			if err := g.Images.Remove(ctx, refs...); err != nil {
				log.Warn("image cleanup failed", map[string]any{"pipeline": p.Name, "images": refs, "error": err.Error()})
			}
		}
		return nil
	}
}

// leftover is one stack instance recorded on disk: a persisted session or a
// runtime state artifact.
type leftover struct {
	namespace string
	path      string
}

// recordedStacks lists the instances of the pipeline's stack that are still
// recorded under the build directory. Only exact namespaces are returned, so
// a sweep never touches containers of another project or stack.
//
// A generator-owned stack is matched by its session file and by artifacts
// owned by the project; other stacks by artifacts of the same stack name
// and lifecycle.
func (g *Generator) recordedStacks(p *types.PipelineSpec) []leftover {
	root := g.root()
	step := p.Test
	var out []leftover
	seen := map[string]bool{}
	add := func(namespace, path string) {
		if namespace == "" || seen[path] {
			return
		}
		seen[path] = true
		out = append(out, leftover{namespace: namespace, path: path})
	}

	if step.OwnsStack() {
		sessionPath := SessionPath(root, step.Stack)
		if s, err := lifecycle.LoadSession(sessionPath); err == nil {
			add(s.Namespace, sessionPath)
		}
	}

	paths, _ := filepath.Glob(filepath.Join(ComposeStateDir(root), "*.json"))
	sort.Strings(paths)
	for _, path := range paths {
		st, err := lifecycle.ReadRuntimeState(path)
		if err != nil {
			logging.OrNop(g.Logger).Debug("skipping unreadable runtime state", map[string]any{"path": path, "error": err.Error()})
			continue
		}
		if st.StackName != step.Stack || st.Lifecycle != step.Lifecycle.String() {
			continue
		}
		if step.OwnsStack() && st.TestClass != g.Config.Project {
			continue
		}
		add(st.ProjectName, path)
	}
	return out
}

// sweepRecorded removes the containers of every recorded instance of the
// pipeline's stack, then the record itself.
func (g *Generator) sweepRecorded(ctx context.Context, p *types.PipelineSpec) {
	log := logging.OrNop(g.Logger)
	for _, l := range g.recordedStacks(p) {
		fields := map[string]any{"pipeline": p.Name, "namespace": l.namespace}
		err := errors.Join(g.Compose.RemoveByLabel(ctx, l.namespace), g.Compose.RemoveByName(ctx, l.namespace))
		if err != nil {
			fields["error"] = err.Error()
			log.Warn("container cleanup failed", fields)
			continue
		}
		if err := fsutil.RemoveIfExists(l.path); err != nil {
			log.Warn("removing stack record failed", map[string]any{"path": l.path, "error": err.Error()})
		}
		log.Info("removed leftover stack", fields)
	}
}

// producedRefs lists every image reference the pipeline may have created.
func (g *Generator) producedRefs(p *types.PipelineSpec, success types.SuccessStep) []string {
	source, err := g.sourceImage(p)
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var refs []string
	add := func(r string) {
		if r != "" && !seen[r] {
			seen[r] = true
			refs = append(refs, r)
		}
	}
	if spec, ok := g.Config.Image(p.Build.Image); ok {
		for _, t := range spec.Tags {
			add(t)
		}
	}
	add(source)
	for _, t := range success.AdditionalTags {
		add(TagRef(source, t))
	}
	if success.Publish != nil {
		for _, r := range PublishRefs(source, *success.Publish) {
			add(r)
		}
	}
	return refs
}

// lifecycleAction runs the after-success hook when the pipeline passed.
func (g *Generator) lifecycleAction(p *types.PipelineSpec, after *types.HookSpec, resultPath string) graph.Action {
	return func(ctx context.Context) error {
		log := logging.OrNop(g.Logger)
		if !state.IsSuccessful(resultPath) {
			log.Info("pipeline finished without success", map[string]any{"pipeline": p.Name})
			return nil
		}
		if after == nil || len(after.Command) == 0 {
			log.Info("pipeline succeeded", map[string]any{"pipeline": p.Name})
			return nil
		}
		cmd := shell.Command{
			Name:   after.Command[0],
			Args:   after.Command[1:],
			Dir:    after.Dir,
			Env:    util.MergeEnv(os.Environ(), after.Env, map[string]string{"DOCKFLOW_PIPELINE": p.Name}),
			Stdout: os.Stdout,
			Stderr: os.Stderr,
		}
		if _, err := shell.OrDefault(g.Runner).Run(ctx, cmd); err != nil {
			return fmt.Errorf("pipeline %s: after-success hook: %w", p.Name, err)
		}
		log.Info("pipeline succeeded", map[string]any{"pipeline": p.Name})
		return nil
	}
}
