package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/initializ/dockflow/compose"
	"github.com/initializ/dockflow/config"
	"github.com/initializ/dockflow/container"
	"github.com/initializ/dockflow/graph"
	"github.com/initializ/dockflow/internal/shell"
	"github.com/initializ/dockflow/lifecycle"
	"github.com/initializ/dockflow/logging"
	"github.com/initializ/dockflow/tasks"
	"github.com/initializ/dockflow/types"
	"github.com/initializ/dockflow/validate"
	"github.com/initializ/dockflow/workflow"
	"golang.org/x/term"
)

// workspace is a loaded project file plus the collaborators commands share.
type workspace struct {
	cfgPath string
	dir     string
	cfg     *types.Config
	logger  logging.Logger
	runner  shell.Runner
}

// newRunner executes every external command; tests replace it.
var newRunner = func() shell.Runner { return shell.ExecRunner{} }

func newLogger(w io.Writer, format string) (logging.Logger, error) {
	switch strings.ToLower(format) {
	case "", "auto":
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return logging.NewTextLogger(w, verbose), nil
		}
		return logging.NewJSONLogger(w, verbose), nil
	case "json":
		return logging.NewJSONLogger(w, verbose), nil
	case "text":
		return logging.NewTextLogger(w, verbose), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want auto, json or text)", format)
	}
}

func loadWorkspace() (*workspace, error) {
	cfgPath, err := config.Resolve(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := newLogger(os.Stderr, logFormat)
	if err != nil {
		return nil, err
	}
	result := validate.ValidateConfig(cfg)
	for _, w := range result.Warnings {
		logger.Warn("config warning", map[string]any{"config": cfgPath, "warning": w})
	}
	if !result.IsValid() {
		return nil, fmt.Errorf("invalid config %s: %s", cfgPath, strings.Join(result.Errors, "; "))
	}

	dir := filepath.Dir(cfgPath)
	if !filepath.IsAbs(cfg.BuildDir) {
		cfg.BuildDir = filepath.Join(dir, cfg.BuildDir)
	}
	return &workspace{
		cfgPath: cfgPath,
		dir:     dir,
		cfg:     cfg,
		logger:  logger,
		runner:  newRunner(),
	}, nil
}

// images returns the configured builder, or the first one available.
func (w *workspace) images(ctx context.Context) (container.Builder, error) {
	if w.cfg.Builder != "" {
		b := container.Get(w.cfg.Builder, w.runner)
		if b == nil {
			return nil, fmt.Errorf("unknown builder %q", w.cfg.Builder)
		}
		return b, nil
	}
	b := container.Detect(ctx, w.runner)
	if b == nil {
		return nil, fmt.Errorf("no container builder found (tried %s)", strings.Join(container.Names, ", "))
	}
	return b, nil
}

func (w *workspace) composeEngine() compose.Engine {
	return compose.NewCLI(w.runner, w.logger)
}

func (w *workspace) machine(pub lifecycle.Publisher) *lifecycle.Machine {
	return &lifecycle.Machine{
		Engine:    w.composeEngine(),
		StateDir:  workflow.ComposeStateDir(w.cfg.BuildDir),
		Publisher: pub,
		Logger:    w.logger,
	}
}

func (w *workspace) registrar(project *graph.Project, images container.Builder) *tasks.Registrar {
	return &tasks.Registrar{
		Project: project,
		Config:  w.cfg,
		Dir:     w.dir,
		Images:  images,
		Machine: w.machine(nil),
		Runner:  w.runner,
		Logger:  w.logger,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// project registers every configured unit and generates the pipelines. A
// nil images builder is allowed for commands that never execute units.
func (w *workspace) project(images container.Builder) (*graph.Project, []workflow.TaskGraph, error) {
	project := graph.NewProject()
	w.registrar(project, images).Register()

	gen := &workflow.Generator{
		Project: project,
		Config:  w.cfg,
		Images:  images,
		Compose: w.composeEngine(),
		Runner:  w.runner,
		Logger:  w.logger,
	}
	graphs, err := gen.Generate()
	if err != nil {
		return nil, nil, err
	}
	return project, graphs, nil
}
