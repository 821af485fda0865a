// Package tasks registers the units a project file declares: image builds,
// class-scoped compose stacks and test commands. Pipelines generated by the
// workflow package reference these units by name.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/initializ/dockflow/container"
	"github.com/initializ/dockflow/graph"
	"github.com/initializ/dockflow/internal/shell"
	"github.com/initializ/dockflow/lifecycle"
	"github.com/initializ/dockflow/logging"
	"github.com/initializ/dockflow/state"
	"github.com/initializ/dockflow/testexec"
	"github.com/initializ/dockflow/types"
	"github.com/initializ/dockflow/util"
	"github.com/initializ/dockflow/workflow"
)

// Group is the unit group of registered tasks.
const Group = "build"

// Registrar registers configured units into a project.
type Registrar struct {
	Project *graph.Project
	Config  *types.Config
	// Dir is the directory relative paths in the config resolve against.
	Dir string

	Images  container.Builder
	Machine *lifecycle.Machine
	Runner  shell.Runner
	Logger  logging.Logger

	Stdout io.Writer
	Stderr io.Writer
}

func (r *Registrar) root() string {
	root := r.Config.BuildDir
	if root == "" {
		root = types.DefaultBuildDir
	}
	return r.path(root)
}

func (r *Registrar) path(p string) string {
	if p == "" || filepath.IsAbs(p) || r.Dir == "" {
		return p
	}
	return filepath.Join(r.Dir, p)
}

// Register creates one unit per image, per stack (up and down) and per test.
// Registering twice reuses the existing units.
func (r *Registrar) Register() {
	for i := range r.Config.Images {
		r.registerImage(&r.Config.Images[i])
	}
	for i := range r.Config.Stacks {
		r.registerStack(&r.Config.Stacks[i])
	}
	for i := range r.Config.Tests {
		r.registerTest(&r.Config.Tests[i])
	}
}

func (r *Registrar) registerImage(spec *types.ImageSpec) {
	name := workflow.BuildUnitName(spec.Name)
	resultPath := workflow.ImageResultPath(r.root(), spec.Name)
	opts := container.BuildOptions{
		ContextDir: r.path(spec.Context),
		Dockerfile: r.path(spec.Dockerfile),
		Tags:       append([]string(nil), spec.Tags...),
		Platform:   spec.Platform,
		NoCache:    spec.NoCache,
		BuildArgs:  spec.BuildArgs,
	}
	r.Project.Ensure(name, func(u *graph.Unit) {
		u.Group = Group
		u.Description = fmt.Sprintf("Builds image %s.", spec.Name)
		u.SetInput("context", opts.ContextDir).
			SetInput("dockerfile", opts.Dockerfile).
			SetInput("tags", strings.Join(opts.Tags, ",")).
			SetInput("platform", opts.Platform)
		for k, v := range opts.BuildArgs {
			u.SetInput("arg."+k, v)
		}
		u.Action = func(ctx context.Context) error {
			if r.Images == nil {
				return errors.New("no image builder available")
			}
			res, err := r.Images.Build(ctx, opts)
			if err != nil {
				return err
			}
			rec := state.NewRecord(true, "image built")
			rec.ProducedArtifactName = res.ImageID
			rec.ProducedTags = res.Tags
			if err := state.Write(resultPath, rec); err != nil {
				return err
			}
			logging.OrNop(r.Logger).Info("image built", map[string]any{"image": spec.Name, "id": res.ImageID, "tags": res.Tags})
			return nil
		}
	})
}

func (r *Registrar) registerStack(spec *types.StackSpec) {
	sessionPath := workflow.SessionPath(r.root(), spec.Name)
	stack := lifecycle.StackFromSpec(spec, types.LifecycleClass)
	stack.Dir = r.Dir
	owner := lifecycle.Owner{Class: r.Config.Project}

	r.Project.Ensure(workflow.ComposeUpUnitName(spec.Name), func(u *graph.Unit) {
		u.Group = Group
		u.Description = fmt.Sprintf("Starts compose stack %s.", spec.Name)
		u.SetInput("files", strings.Join(spec.Files, ","))
		u.Action = func(ctx context.Context) error {
			if r.Machine == nil {
				return errors.New("no lifecycle machine available")
			}
			s, err := r.Machine.Start(ctx, stack, owner)
			if err != nil {
				return err
			}
			if err := lifecycle.SaveSession(sessionPath, s); err != nil {
				r.Machine.Stop(ctx, s)
				return err
			}
			return nil
		}
	})

	r.Project.Ensure(workflow.ComposeDownUnitName(spec.Name), func(u *graph.Unit) {
		u.Group = Group
		u.Description = fmt.Sprintf("Stops compose stack %s.", spec.Name)
		u.Action = func(ctx context.Context) error {
			log := logging.OrNop(r.Logger)
			s, err := lifecycle.LoadSession(sessionPath)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					log.Warn("cannot load stack session", map[string]any{"stack": spec.Name, "error": err.Error()})
				}
				return nil
			}
			if r.Machine != nil {
				r.Machine.Stop(ctx, s)
			}
			if err := os.Remove(sessionPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				log.Warn("cannot remove stack session", map[string]any{"stack": spec.Name, "error": err.Error()})
			}
			return nil
		}
	})
}

func (r *Registrar) registerTest(spec *types.TestUnitSpec) {
	r.Project.Ensure(spec.Name, func(u *graph.Unit) {
		u.Group = Group
		u.Description = fmt.Sprintf("Runs %s.", strings.Join(spec.Command, " "))
		u.SetInput("command", strings.Join(spec.Command, "\x00")).SetInput("dir", spec.Dir)
		u.Action = func(ctx context.Context) error {
			return r.RunTest(ctx, spec, u.Properties)
		}
	})
}

// RunTest runs a test command. The environment is, in increasing precedence:
// the process environment, the env file, the configured env, then props.
// A props entry naming a persisted stack session also exports that
// session's runtime state.
func (r *Registrar) RunTest(ctx context.Context, spec *types.TestUnitSpec, props map[string]string) error {
	if len(spec.Command) == 0 {
		return fmt.Errorf("test %s has no command", spec.Name)
	}
	var fileEnv map[string]string
	if spec.EnvFile != "" {
		var err error
		if fileEnv, err = util.LoadEnvFile(r.path(spec.EnvFile)); err != nil {
			return fmt.Errorf("test %s: %w", spec.Name, err)
		}
	}
	stackEnv, err := sessionEnv(props)
	if err != nil {
		return fmt.Errorf("test %s: %w", spec.Name, err)
	}

	dir := spec.Dir
	if dir == "" {
		dir = r.Dir
	} else {
		dir = r.path(dir)
	}
	cmd := shell.Command{
		Name:   spec.Command[0],
		Args:   spec.Command[1:],
		Dir:    dir,
		Env:    util.MergeEnv(os.Environ(), fileEnv, spec.Env, props, stackEnv),
		Stdout: r.Stdout,
		Stderr: r.Stderr,
	}
	logging.OrNop(r.Logger).Info("running tests", map[string]any{"test": spec.Name, "command": cmd.String(), "env": sortedKeys(props)})
	if _, err := shell.OrDefault(r.Runner).Run(ctx, cmd); err != nil {
		return fmt.Errorf("test %s failed: %w", spec.Name, err)
	}
	return nil
}

// TestRunner runs configured tests by name with the given properties.
func (r *Registrar) TestRunner(props map[string]string) testexec.TestRunner {
	return testexec.TestRunnerFunc(func(ctx context.Context, name string) error {
		spec, ok := r.Config.Test(name)
		if !ok {
			return fmt.Errorf("unknown test %q", name)
		}
		return r.RunTest(ctx, spec, props)
	})
}

func sessionEnv(props map[string]string) (map[string]string, error) {
	path := props[lifecycle.EnvSession]
	if path == "" {
		return nil, nil
	}
	s, err := lifecycle.LoadSession(path)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		lifecycle.EnvStateFile: s.StateFile,
		lifecycle.EnvProject:   s.Namespace,
	}, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
