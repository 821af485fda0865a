// Package workflow turns pipeline definitions into units of the build
// engine: naming, edge wiring, outcome gating and the post-test actions.
package workflow

import (
	"context"
	"fmt"

	"github.com/initializ/dockflow/compose"
	"github.com/initializ/dockflow/container"
	"github.com/initializ/dockflow/graph"
	"github.com/initializ/dockflow/internal/shell"
	"github.com/initializ/dockflow/lifecycle"
	"github.com/initializ/dockflow/logging"
	"github.com/initializ/dockflow/state"
	"github.com/initializ/dockflow/types"
)

// Group is the unit group of everything the generator creates.
const Group = "dockflow"

// Generator wires pipelines into a project. Units referenced by pipelines
// (image builds, compose stacks, tests) must be registered beforehand.
type Generator struct {
	Project *graph.Project
	Config  *types.Config

	// Images performs tag, save, publish and image cleanup.
	Images container.Builder
	// Compose sweeps stack containers during cleanup.
	Compose compose.Engine
	// Runner executes after-success hooks.
	Runner shell.Runner
	Logger logging.Logger
}

// TaskGraph lists the units wired for one pipeline. Reference fields are
// empty when the referenced unit did not resolve; post-test fields are
// empty when the configuration did not ask for them.
type TaskGraph struct {
	Pipeline string

	BuildUnit       string
	ComposeUpUnit   string
	ComposeDownUnit string
	TestUnit        string

	TagUnit       string
	SaveUnit      string
	PublishUnit   string
	CleanupUnit   string
	LifecycleUnit string

	ResultPath string
}

// Units returns the non-empty unit names of the graph in pipeline order.
func (tg TaskGraph) Units() []string {
	var out []string
	for _, n := range []string{tg.BuildUnit, tg.ComposeUpUnit, tg.TestUnit, tg.ComposeDownUnit,
		tg.TagUnit, tg.SaveUnit, tg.PublishUnit, tg.CleanupUnit, tg.LifecycleUnit} {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

func (g *Generator) root() string {
	if g.Config.BuildDir != "" {
		return g.Config.BuildDir
	}
	return types.DefaultBuildDir
}

// Generate wires every pipeline and the top-level aggregate. Running it
// again over the same project reuses the existing units.
//
// Unresolved unit references are logged and their edges skipped. A pipeline
// without a test unit, or without a stack when it manages one, fails
// generation with a *ConfigError, as do two pipelines sharing a unit name
// prefix.
func (g *Generator) Generate() ([]TaskGraph, error) {
	byPrefix := map[string]string{}
	for _, p := range g.Config.Pipelines {
		prefix := Prefix(p.Name)
		if other, ok := byPrefix[prefix]; ok {
			return nil, &ConfigError{
				Pipeline: p.Name,
				Field:    "name",
				Reason:   fmt.Sprintf("collides with pipeline %q: both generate units named %s*", other, prefix),
			}
		}
		byPrefix[prefix] = p.Name
	}

	graphs := make([]TaskGraph, 0, len(g.Config.Pipelines))
	for i := range g.Config.Pipelines {
		tg, err := g.generate(&g.Config.Pipelines[i])
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, tg)
	}

	top, _ := g.Project.Ensure(TopLevelUnit, func(u *graph.Unit) {
		u.Group = Group
		u.Description = "Runs every pipeline."
	})
	for _, tg := range graphs {
		top.DependsOn(tg.LifecycleUnit)
	}
	return graphs, nil
}

// resolve returns name when a unit by that name is registered. Missing units
// are logged once per call and yield "".
func (g *Generator) resolve(pipeline, kind, name string) string {
	if name == "" {
		return ""
	}
	if _, ok := g.Project.Lookup(name); ok {
		return name
	}
	logging.OrNop(g.Logger).Warn("unresolved unit reference, skipping edge", map[string]any{
		"pipeline": pipeline, "kind": kind, "unit": name,
	})
	return ""
}

func (g *Generator) generate(p *types.PipelineSpec) (TaskGraph, error) {
	root := g.root()
	step := p.Test
	tg := TaskGraph{Pipeline: p.Name, ResultPath: TestResultPath(root, p.Name)}

	// 1. build reference
	switch {
	case p.Build != nil && p.Build.Image != "":
		tg.BuildUnit = g.resolve(p.Name, "build", BuildUnitName(p.Build.Image))
	default:
		if _, ok := g.Project.Lookup(UnitName(p.Name, RoleBuild)); ok {
			tg.BuildUnit = UnitName(p.Name, RoleBuild)
		}
	}

	// 2. test unit and stack
	testName := TestUnitName(p)
	if step.Unit == "" {
		if _, ok := g.Project.Lookup(testName); !ok {
			return TaskGraph{}, &ConfigError{Pipeline: p.Name, Field: "test.unit"}
		}
	}
	if !step.DelegateStackManagement && step.Stack == "" {
		return TaskGraph{}, &ConfigError{Pipeline: p.Name, Field: "test.stack"}
	}
	tg.TestUnit = g.resolve(p.Name, "test", testName)
	test, _ := g.Project.Lookup(tg.TestUnit)

	// 3. success configuration
	success := MergeSuccess(p.OnSuccess, p.OnTestSuccess)

	// 4. stack wiring
	if step.OwnsStack() {
		tg.ComposeUpUnit = g.resolve(p.Name, "compose-up", ComposeUpUnitName(step.Stack))
		tg.ComposeDownUnit = g.resolve(p.Name, "compose-down", ComposeDownUnitName(step.Stack))
		if up, ok := g.Project.Lookup(tg.ComposeUpUnit); ok {
			up.DependsOn(tg.BuildUnit)
		}
		if test != nil {
			test.DependsOn(tg.ComposeUpUnit)
			test.FinalizedBy(tg.ComposeDownUnit)
			test.SetProperty(lifecycle.EnvSession, SessionPath(root, step.Stack))
		}
	} else if test != nil {
		test.DependsOn(tg.BuildUnit)
		for k, v := range StackProperties(g.Config, step, root) {
			test.SetProperty(k, v)
		}
	}

	// 5. gate shared by every post-test unit
	resultPath := tg.ResultPath
	gate := func() bool { return state.IsSuccessful(resultPath) }

	// 6. outcome record
	if test != nil {
		test.SetInput("resultPath."+p.Name, resultPath)
		test.DoFinallyOnce("outcome:"+p.Name, g.recordOutcome(p, resultPath))
	}

	// post-test units, created only when configured
	var last string
	if test != nil {
		last = tg.TestUnit
	}
	if len(success.AdditionalTags) > 0 {
		tg.TagUnit = UnitName(p.Name, RoleTagOnSuccess)
		tags := success.AdditionalTags
		tag, _ := g.Project.Ensure(tg.TagUnit, func(u *graph.Unit) {
			u.Group = Group
			u.Description = fmt.Sprintf("Tags the image of pipeline %s after its tests pass.", p.Name)
			u.Action = g.tagAction(p, tags)
			u.OnlyIf(gate)
			for _, t := range tags {
				u.SetInput("tag."+t, t)
			}
		})
		tag.DependsOn(tg.TestUnit).MustRunAfter(tg.TestUnit)
		last = tg.TagUnit
	}
	if success.Save != nil {
		tg.SaveUnit = UnitName(p.Name, RoleSave)
		save := *success.Save
		u, _ := g.Project.Ensure(tg.SaveUnit, func(u *graph.Unit) {
			u.Group = Group
			u.Description = fmt.Sprintf("Saves the image of pipeline %s to %s.", p.Name, save.Output)
			u.Action = g.saveAction(p, save)
			u.OnlyIf(gate)
			u.SetInput("output", save.Output).SetInput("compression", save.Compression)
		})
		u.DependsOn(tg.TagUnit).MustRunAfter(tg.TestUnit)
		last = tg.SaveUnit
	}
	if success.Publish.HasTargets() {
		tg.PublishUnit = UnitName(p.Name, RolePublish)
		publish := *success.Publish
		u, _ := g.Project.Ensure(tg.PublishUnit, func(u *graph.Unit) {
			u.Group = Group
			u.Description = fmt.Sprintf("Publishes the image of pipeline %s.", p.Name)
			u.Action = g.publishAction(p, publish)
			u.OnlyIf(gate)
			for i, t := range publish.Targets {
				u.SetInput(fmt.Sprintf("target.%d", i), fmt.Sprintf("%s/%s:%v", t.Registry, t.Repository, t.Tags))
			}
		})
		switch {
		case tg.SaveUnit != "":
			u.DependsOn(tg.SaveUnit)
		case tg.TagUnit != "":
			u.DependsOn(tg.TagUnit)
		}
		u.MustRunAfter(tg.TestUnit)
		last = tg.PublishUnit
	}
	if p.Always.NeedsCleanup() {
		tg.CleanupUnit = UnitName(p.Name, RoleCleanup)
		always := *p.Always
		u, _ := g.Project.Ensure(tg.CleanupUnit, func(u *graph.Unit) {
			u.Group = Group
			u.Description = fmt.Sprintf("Removes containers and images of pipeline %s.", p.Name)
			u.Action = g.cleanupAction(p, always, success)
		})
		u.MustRunAfter(tg.TagUnit, tg.SaveUnit, tg.PublishUnit, tg.ComposeDownUnit)
		if test != nil {
			test.FinalizedBy(tg.CleanupUnit)
		}
	}

	// 7. lifecycle aggregate
	tg.LifecycleUnit = UnitName(p.Name, RoleLifecycle)
	after := success.After
	lc, _ := g.Project.Ensure(tg.LifecycleUnit, func(u *graph.Unit) {
		u.Group = Group
		u.Description = fmt.Sprintf("Runs pipeline %s.", p.Name)
		u.Action = g.lifecycleAction(p, after, resultPath)
	})
	lc.DependsOn(last)
	lc.FinalizedBy(tg.CleanupUnit)

	return tg, nil
}

// recordOutcome writes the pipeline's outcome record when its test unit
// finishes, whatever the result.
func (g *Generator) recordOutcome(p *types.PipelineSpec, path string) graph.CompletionHook {
	root := g.root()
	return func(_ context.Context, err error) {
		rec := state.NewRecord(err == nil, "tests passed")
		if err != nil {
			rec.Message = "tests failed: " + err.Error()
		}
		if p.Build != nil && p.Build.Image != "" {
			if img, rerr := state.Read(ImageResultPath(root, p.Build.Image)); rerr == nil {
				rec.ProducedArtifactName = img.ProducedArtifactName
				rec.ProducedTags = img.ProducedTags
			}
		}
		if werr := state.Write(path, rec); werr != nil {
			logging.OrNop(g.Logger).Error("writing outcome record failed", map[string]any{
				"pipeline": p.Name, "path": path, "error": werr.Error(),
			})
		}
	}
}

// TestUnitName is the test unit a pipeline runs: the configured one, else
// workflow<Pipeline>Test.
func TestUnitName(p *types.PipelineSpec) string {
	if p.Test.Unit != "" {
		return p.Test.Unit
	}
	return UnitName(p.Name, RoleTest)
}

// StackProperties are the stack settings handed to a test unit that manages
// its stack itself (method scope or delegated management). It is nil for a
// generator-owned stack or an unknown one.
func StackProperties(cfg *types.Config, step types.TestStep, root string) map[string]string {
	if step.OwnsStack() || step.Stack == "" {
		return nil
	}
	spec, ok := cfg.Stack(step.Stack)
	if !ok {
		return nil
	}
	return lifecycle.StackEnv(lifecycle.StackFromSpec(spec, step.Lifecycle), ComposeStateDir(root))
}
