package workflow

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/initializ/dockflow/compose/enginetest"
	"github.com/initializ/dockflow/container"
	"github.com/initializ/dockflow/graph"
	"github.com/initializ/dockflow/internal/shell/shelltest"
	"github.com/initializ/dockflow/lifecycle"
	"github.com/initializ/dockflow/logging"
	"github.com/initializ/dockflow/state"
	"github.com/initializ/dockflow/types"
)

type fixture struct {
	cfg     *types.Config
	project *graph.Project
	runner  *shelltest.Runner
	engine  *enginetest.Engine
	logs    *bytes.Buffer
	ran     []string
	testErr error
}

func newFixture(t *testing.T, pipeline types.PipelineSpec) *fixture {
	t.Helper()
	f := &fixture{
		cfg: &types.Config{
			Project:   "shop",
			BuildDir:  t.TempDir(),
			Images:    []types.ImageSpec{{Name: "api", Tags: []string{"shop/api:1.0"}}},
			Stacks:    []types.StackSpec{{Name: "db", Files: []string{"compose.yaml"}}},
			Tests:     []types.TestUnitSpec{{Name: "integrationTest", Command: []string{"go", "test"}}},
			Pipelines: []types.PipelineSpec{pipeline},
		},
		project: graph.NewProject(),
		runner:  &shelltest.Runner{},
		engine:  &enginetest.Engine{},
		logs:    &bytes.Buffer{},
	}
	for _, name := range []string{"dockerBuildApi", "composeUpDb", "composeDownDb", "integrationTest"} {
		name := name
		f.project.Ensure(name, func(u *graph.Unit) {
			u.Action = func(context.Context) error {
				f.ran = append(f.ran, name)
				if name == "integrationTest" {
					return f.testErr
				}
				return nil
			}
		})
	}
	return f
}

func (f *fixture) generator() *Generator {
	return &Generator{
		Project: f.project,
		Config:  f.cfg,
		Images:  container.NewDocker(f.runner),
		Compose: f.engine,
		Runner:  f.runner,
		Logger:  logging.NewTextLogger(f.logs, true),
	}
}

func (f *fixture) run(t *testing.T) (*graph.Report, error) {
	t.Helper()
	if _, err := f.generator().Generate(); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	pl, err := f.project.Plan(TopLevelUnit)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	return (&graph.Executor{}).Run(context.Background(), pl)
}

func ciPipeline() types.PipelineSpec {
	return types.PipelineSpec{
		Name:  "ci",
		Build: &types.BuildStep{Image: "api"},
		Test:  types.TestStep{Unit: "integrationTest", Stack: "db"},
	}
}

func count(list []string, s string) int {
	n := 0
	for _, x := range list {
		if x == s {
			n++
		}
	}
	return n
}

func TestGenerate_NoPostTestUnits(t *testing.T) {
	f := newFixture(t, ciPipeline())
	graphs, err := f.generator().Generate()
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	tg := graphs[0]
	if tg.TagUnit != "" || tg.SaveUnit != "" || tg.PublishUnit != "" || tg.CleanupUnit != "" {
		t.Errorf("unexpected post-test units: %+v", tg)
	}
	lc, ok := f.project.Lookup("workflowCiLifecycle")
	if !ok {
		t.Fatal("lifecycle unit not registered")
	}
	if got := lc.Dependencies(); !reflect.DeepEqual(got, []string{"integrationTest"}) {
		t.Errorf("lifecycle deps = %v, want [integrationTest]", got)
	}
	top, _ := f.project.Lookup(TopLevelUnit)
	if got := top.Dependencies(); !reflect.DeepEqual(got, []string{"workflowCiLifecycle"}) {
		t.Errorf("%s deps = %v", TopLevelUnit, got)
	}
}

func TestGenerate_ClassStackWiring(t *testing.T) {
	f := newFixture(t, ciPipeline())
	graphs, err := f.generator().Generate()
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	tg := graphs[0]
	if tg.ComposeUpUnit != "composeUpDb" || tg.ComposeDownUnit != "composeDownDb" {
		t.Fatalf("compose units = %q/%q", tg.ComposeUpUnit, tg.ComposeDownUnit)
	}
	test, _ := f.project.Lookup("integrationTest")
	if got := test.Dependencies(); !reflect.DeepEqual(got, []string{"composeUpDb"}) {
		t.Errorf("test deps = %v", got)
	}
	if got := test.Finalizers(); !reflect.DeepEqual(got, []string{"composeDownDb"}) {
		t.Errorf("test finalizers = %v", got)
	}
	up, _ := f.project.Lookup("composeUpDb")
	if got := up.Dependencies(); !reflect.DeepEqual(got, []string{"dockerBuildApi"}) {
		t.Errorf("compose up deps = %v", got)
	}
	if test.Properties[lifecycle.EnvSession] != SessionPath(f.cfg.BuildDir, "db") {
		t.Errorf("session property = %q", test.Properties[lifecycle.EnvSession])
	}
}

func TestRun_ClassStackFailingTestStillTearsDown(t *testing.T) {
	p := ciPipeline()
	p.OnSuccess = &types.SuccessStep{AdditionalTags: []string{"stable"}}
	f := newFixture(t, p)
	f.testErr = errors.New("2 tests failed")

	report, err := f.run(t)
	var ue *graph.UnitError
	if !errors.As(err, &ue) || ue.Unit != "integrationTest" {
		t.Fatalf("Run() error = %v, want failure of integrationTest", err)
	}
	if n := count(f.ran, "composeDownDb"); n != 1 {
		t.Errorf("compose down ran %d times, want 1 (ran %v)", n, f.ran)
	}
	if got := report.State("workflowCiTagOnSuccess"); got == graph.StateSucceeded {
		t.Errorf("tag unit state = %s after failed test", got)
	}
	if n := f.runner.Count("docker tag"); n != 0 {
		t.Errorf("docker tag ran %d times after failed test", n)
	}
	rec, rerr := state.Read(TestResultPath(f.cfg.BuildDir, "ci"))
	if rerr != nil {
		t.Fatalf("outcome record: %v", rerr)
	}
	if rec.Success || !strings.Contains(rec.Message, "2 tests failed") {
		t.Errorf("record = %+v", rec)
	}
}

func TestRun_SuccessTagsImage(t *testing.T) {
	p := ciPipeline()
	p.OnSuccess = &types.SuccessStep{AdditionalTags: []string{"stable", "registry.local/shop/api:rc"}}
	f := newFixture(t, p)

	report, err := f.run(t)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := report.State("workflowCiTagOnSuccess"); got != graph.StateSucceeded {
		t.Errorf("tag unit state = %s", got)
	}
	cmds := f.runner.Commands()
	want := []string{
		"docker tag shop/api:1.0 shop/api:stable",
		"docker tag shop/api:1.0 registry.local/shop/api:rc",
	}
	if !reflect.DeepEqual(cmds, want) {
		t.Errorf("commands = %v, want %v", cmds, want)
	}
	if !state.IsSuccessful(TestResultPath(f.cfg.BuildDir, "ci")) {
		t.Error("outcome record not successful")
	}
}

func TestRun_StaleSuccessRecordIsOverwritten(t *testing.T) {
	p := ciPipeline()
	p.OnSuccess = &types.SuccessStep{AdditionalTags: []string{"stable"}}
	f := newFixture(t, p)
	if err := state.Write(TestResultPath(f.cfg.BuildDir, "ci"), state.NewRecord(true, "tests passed")); err != nil {
		t.Fatal(err)
	}
	f.testErr = errors.New("boom")

	if _, err := f.run(t); err == nil {
		t.Fatal("Run() succeeded with failing test")
	}
	if f.runner.Count("docker tag") != 0 {
		t.Error("stale success record gated the tag unit open")
	}
}

func TestRun_PublishAndSave(t *testing.T) {
	p := ciPipeline()
	out := filepath.Join(t.TempDir(), "api.tar.zst")
	p.OnSuccess = &types.SuccessStep{
		Save: &types.SaveStep{Output: out, Compression: "zstd"},
		Publish: &types.PublishStep{Targets: []types.PublishTarget{
			{Registry: "ghcr.io", Repository: "acme/api", Tags: []string{"1.0"}},
		}},
	}
	f := newFixture(t, p)
	f.runner.On("docker save", "image-bytes", nil)

	if _, err := f.run(t); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	want := []string{
		"docker save shop/api:1.0",
		"docker tag shop/api:1.0 ghcr.io/acme/api:1.0",
		"docker push ghcr.io/acme/api:1.0",
	}
	if got := f.runner.Commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %v, want %v", got, want)
	}
	pub, _ := f.project.Lookup("workflowCiPublish")
	if got := pub.Dependencies(); !reflect.DeepEqual(got, []string{"workflowCiSave"}) {
		t.Errorf("publish deps = %v", got)
	}
}

func writeArtifact(t *testing.T, root string, st lifecycle.RuntimeState) string {
	t.Helper()
	st.Timestamp = 1
	st.Services = map[string]lifecycle.ServiceState{}
	path := filepath.Join(ComposeStateDir(root), st.ProjectName+".json")
	if err := lifecycle.WriteRuntimeState(path, &st); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_CleanupKeepsFailedContainers(t *testing.T) {
	tests := []struct {
		name      string
		testErr   error
		keep      bool
		wantSweep int
	}{
		{"passed", nil, true, 1},
		{"failed and kept", errors.New("fail"), true, 0},
		{"failed and removed", errors.New("fail"), false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ciPipeline()
			p.Always = &types.AlwaysStep{RemoveContainers: true, KeepFailedContainers: tt.keep}
			f := newFixture(t, p)
			f.testErr = tt.testErr
			// compose down never ran for this session
			sessionPath := SessionPath(f.cfg.BuildDir, "db")
			if err := lifecycle.SaveSession(sessionPath, &lifecycle.Session{ID: "s1", Namespace: "db-shop-1700000000000"}); err != nil {
				t.Fatal(err)
			}

			report, _ := f.run(t)
			if got := report.State("workflowCiCleanup"); got != graph.StateSucceeded {
				t.Errorf("cleanup state = %s", got)
			}
			if got := f.engine.Count("sweep-name db-shop-1700000000000"); got != tt.wantSweep {
				t.Errorf("sweeps = %d, want %d (calls %v)", got, tt.wantSweep, f.engine.Calls)
			}
			if got := f.engine.Count("sweep-label db-shop-1700000000000"); got != tt.wantSweep {
				t.Errorf("label sweeps = %d, want %d (calls %v)", got, tt.wantSweep, f.engine.Calls)
			}
		})
	}
}

func TestRun_CleanupSweepsOnlyRecordedNamespaces(t *testing.T) {
	p := ciPipeline()
	p.Test = types.TestStep{Unit: "integrationTest", Stack: "db", Lifecycle: types.LifecycleMethod}
	p.Always = &types.AlwaysStep{RemoveContainers: true}
	f := newFixture(t, p)
	root := f.cfg.BuildDir
	mine := writeArtifact(t, root, lifecycle.RuntimeState{StackName: "db", ProjectName: "db-orders-create-1", Lifecycle: "method", TestClass: "Orders", TestMethod: "create"})
	writeArtifact(t, root, lifecycle.RuntimeState{StackName: "cache", ProjectName: "cache-orders-create-2", Lifecycle: "method", TestClass: "Orders", TestMethod: "create"})
	writeArtifact(t, root, lifecycle.RuntimeState{StackName: "db", ProjectName: "db-shop-3", Lifecycle: "class", TestClass: "shop"})

	if _, err := f.run(t); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	want := []string{"sweep-label db-orders-create-1", "sweep-name db-orders-create-1"}
	if !reflect.DeepEqual(f.engine.Calls, want) {
		t.Errorf("engine calls = %v, want %v", f.engine.Calls, want)
	}
	if _, err := lifecycle.ReadRuntimeState(mine); err == nil {
		t.Error("swept runtime state left behind")
	}
}

func TestRun_CleanupWithoutRecordsSweepsNothing(t *testing.T) {
	p := ciPipeline()
	p.Test = types.TestStep{Unit: "integrationTest", Stack: "db", DelegateStackManagement: true}
	p.Always = &types.AlwaysStep{RemoveContainers: true}
	f := newFixture(t, p)

	if _, err := f.run(t); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(f.engine.Calls) != 0 {
		t.Errorf("engine calls = %v, want none", f.engine.Calls)
	}
}

func TestRun_CleanupNeverFails(t *testing.T) {
	p := ciPipeline()
	p.Always = &types.AlwaysStep{RemoveContainers: true, CleanupImages: true}
	f := newFixture(t, p)
	f.engine.SweepErr = errors.New("daemon gone")
	f.runner.On("docker rmi", "", errors.New("no such image"))

	if _, err := f.run(t); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !strings.Contains(f.logs.String(), "image cleanup failed") {
		t.Errorf("missing cleanup warning in logs:\n%s", f.logs.String())
	}
}

func TestGenerate_Idempotent(t *testing.T) {
	p := ciPipeline()
	p.OnSuccess = &types.SuccessStep{AdditionalTags: []string{"stable"}}
	f := newFixture(t, p)
	g := f.generator()
	if _, err := g.Generate(); err != nil {
		t.Fatal(err)
	}
	names := f.project.Names()
	if _, err := g.Generate(); err != nil {
		t.Fatal(err)
	}
	if got := f.project.Names(); !reflect.DeepEqual(got, names) {
		t.Errorf("units after regeneration = %v, want %v", got, names)
	}
	test, _ := f.project.Lookup("integrationTest")
	if n := test.CompletionHooks(); n != 1 {
		t.Errorf("completion hooks = %d, want 1", n)
	}
	tag, _ := f.project.Lookup("workflowCiTagOnSuccess")
	if got := tag.Dependencies(); !reflect.DeepEqual(got, []string{"integrationTest"}) {
		t.Errorf("tag deps = %v", got)
	}
}

func TestGenerate_MissingReferencesDegrade(t *testing.T) {
	p := ciPipeline()
	p.Build = &types.BuildStep{Image: "worker"}
	p.Test.Lifecycle = types.LifecycleMethod
	f := newFixture(t, p)

	graphs, err := f.generator().Generate()
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if graphs[0].BuildUnit != "" {
		t.Errorf("BuildUnit = %q, want empty", graphs[0].BuildUnit)
	}
	if !strings.Contains(f.logs.String(), "dockerBuildWorker") {
		t.Errorf("missing warning for dockerBuildWorker:\n%s", f.logs.String())
	}
	test, _ := f.project.Lookup("integrationTest")
	if len(test.Dependencies()) != 0 {
		t.Errorf("test deps = %v, want none", test.Dependencies())
	}
	if _, err := f.project.Plan(TopLevelUnit); err != nil {
		t.Errorf("Plan() error: %v", err)
	}
}

func TestGenerate_MethodScopeExportsStack(t *testing.T) {
	p := ciPipeline()
	p.Test.Lifecycle = types.LifecycleMethod
	f := newFixture(t, p)
	graphs, err := f.generator().Generate()
	if err != nil {
		t.Fatal(err)
	}
	if graphs[0].ComposeUpUnit != "" {
		t.Errorf("method scope wired compose up %q", graphs[0].ComposeUpUnit)
	}
	test, _ := f.project.Lookup("integrationTest")
	if test.Properties[lifecycle.EnvStack] != "db" {
		t.Errorf("stack property = %q", test.Properties[lifecycle.EnvStack])
	}
	if got := test.Dependencies(); !reflect.DeepEqual(got, []string{"dockerBuildApi"}) {
		t.Errorf("test deps = %v", got)
	}
}

func TestGenerate_DefaultTestUnit(t *testing.T) {
	p := ciPipeline()
	p.Test.Unit = ""
	f := newFixture(t, p)
	f.project.Ensure("workflowCiTest", nil)

	graphs, err := f.generator().Generate()
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if graphs[0].TestUnit != "workflowCiTest" {
		t.Errorf("TestUnit = %q", graphs[0].TestUnit)
	}
}

func TestGenerate_ConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		step  types.TestStep
		field string
	}{
		{"no test unit", types.TestStep{Stack: "db"}, "test.unit"},
		{"no stack", types.TestStep{Unit: "integrationTest"}, "test.stack"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ciPipeline()
			p.Test = tt.step
			f := newFixture(t, p)
			_, err := f.generator().Generate()
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("Generate() error = %v, want ErrConfig", err)
			}
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Field != tt.field || ce.Pipeline != "ci" {
				t.Errorf("error = %#v", err)
			}
			if _, ok := f.project.Lookup(TopLevelUnit); ok {
				t.Error("top-level unit registered despite config error")
			}
		})
	}
}

func TestGenerate_PipelinesCollidingByCase(t *testing.T) {
	lower := ciPipeline()
	upper := ciPipeline()
	upper.Name = "Ci"
	f := newFixture(t, lower)
	f.cfg.Pipelines = append(f.cfg.Pipelines, upper)

	_, err := f.generator().Generate()
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Pipeline != "Ci" || ce.Field != "name" {
		t.Fatalf("Generate() error = %v, want config error on Ci name", err)
	}
	if _, ok := f.project.Lookup("workflowCiLifecycle"); ok {
		t.Error("units generated despite colliding pipeline names")
	}
}

func TestGenerate_DelegatedStackNeedsNoStack(t *testing.T) {
	p := ciPipeline()
	p.Test = types.TestStep{Unit: "integrationTest", DelegateStackManagement: true}
	f := newFixture(t, p)
	graphs, err := f.generator().Generate()
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if graphs[0].ComposeUpUnit != "" || graphs[0].ComposeDownUnit != "" {
		t.Errorf("delegated step wired compose units: %+v", graphs[0])
	}
}
