package cmd

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/initializ/dockflow/graph"
	"github.com/initializ/dockflow/internal/shell"
	"github.com/initializ/dockflow/internal/shell/shelltest"
	"github.com/initializ/dockflow/lifecycle"
	"github.com/initializ/dockflow/state"
	"github.com/initializ/dockflow/workflow"
)

const runYAML = `
project: shop
builder: docker
images:
  - name: api
    tags: [shop/api:1.0]
stacks:
  - name: db
    files: [compose.yaml]
    settle_interval: 1ms
    poll_interval: 1ms
    max_attempts: 2
tests:
  - name: integrationTest
    command: [go, test, ./...]
  - name: workflowNightlyTest
    command: [make, nightly]
pipelines:
  - name: ci
    build: {image: api}
    test:
      unit: integrationTest
      stack: db
    on_success:
      additional_tags: [stable]
    always:
      remove_containers: true
  - name: nightly
    build: {image: api}
    test:
      stack: db
      lifecycle: method
`

const psRunning = `{"ID":"a","Name":"db-1","Service":"db","State":"running","Health":""}`

func useFakeRunner(t *testing.T) *shelltest.Runner {
	t.Helper()
	r := (&shelltest.Runner{}).
		On("docker compose", psRunning, nil).
		On("docker build", "sha256:abc123\n", nil)
	old := newRunner
	newRunner = func() shell.Runner { return r }
	t.Cleanup(func() { newRunner = old })
	t.Setenv(lifecycle.EnvStateFile, "")
	t.Setenv(lifecycle.EnvProject, "")
	return r
}

func readOutcome(t *testing.T, cfgPath, pipeline string) state.OutcomeRecord {
	t.Helper()
	root := filepath.Join(filepath.Dir(cfgPath), ".dockflow")
	rec, err := state.Read(workflow.TestResultPath(root, pipeline))
	if err != nil {
		t.Fatalf("reading outcome of %s: %v", pipeline, err)
	}
	return rec
}

func countContaining(cmds []string, sub string) int {
	n := 0
	for _, c := range cmds {
		if strings.Contains(c, sub) {
			n++
		}
	}
	return n
}

func envOf(cmds []shell.Command, name, key string) string {
	for _, c := range cmds {
		if c.Name != name {
			continue
		}
		for i := len(c.Env) - 1; i >= 0; i-- {
			if v, ok := strings.CutPrefix(c.Env[i], key+"="); ok {
				return v
			}
		}
	}
	return ""
}

func TestRunTestStep_WritesOutcome(t *testing.T) {
	tests := []struct {
		name    string
		testErr error
	}{
		{"passed", nil},
		{"failed", errors.New("exit status 1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeProject(t, runYAML)
			r := useFakeRunner(t)
			if tt.testErr != nil {
				r.On("go test", "", tt.testErr)
			}

			c, _ := testCommand()
			err := runTestStep(c, []string{"ci"})
			if (err != nil) != (tt.testErr != nil) {
				t.Fatalf("runTestStep() error = %v", err)
			}
			rec := readOutcome(t, path, "ci")
			if rec.Success != (tt.testErr == nil) {
				t.Errorf("record = %+v", rec)
			}
			if tt.testErr != nil && !strings.Contains(rec.Message, "tests failed") {
				t.Errorf("message = %q", rec.Message)
			}
			cmds := r.Commands()
			if countContaining(cmds, " up -d") != 1 || countContaining(cmds, " down ") != 1 {
				t.Errorf("stack not brought up and down once: %v", cmds)
			}
		})
	}
}

func TestRunTestStep_DefaultUnitGetsStackEnv(t *testing.T) {
	path := writeProject(t, runYAML)
	r := useFakeRunner(t)

	c, _ := testCommand()
	if err := runTestStep(c, []string{"nightly"}); err != nil {
		t.Fatalf("runTestStep() error: %v", err)
	}
	if r.Count("make nightly") != 1 {
		t.Fatalf("default test unit did not run: %v", r.Commands())
	}
	calls := r.Calls()
	if got := envOf(calls, "make", lifecycle.EnvStack); got != "db" {
		t.Errorf("%s = %q, want db", lifecycle.EnvStack, got)
	}
	if got := envOf(calls, "make", lifecycle.EnvLifecycle); got != "method" {
		t.Errorf("%s = %q, want method", lifecycle.EnvLifecycle, got)
	}
	if !readOutcome(t, path, "nightly").Success {
		t.Error("nightly outcome not recorded as success")
	}
}

func TestRunRun(t *testing.T) {
	tests := []struct {
		name    string
		testErr error
	}{
		{"passed", nil},
		{"failed", errors.New("exit status 1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeProject(t, runYAML)
			r := useFakeRunner(t)
			if tt.testErr != nil {
				r.On("go test", "", tt.testErr)
			}

			c, out := testCommand()
			err := runRun(c, nil)
			cmds := r.Commands()
			if countContaining(cmds, " down ") != 1 {
				t.Errorf("compose down ran %d times: %v", countContaining(cmds, " down "), cmds)
			}
			if !strings.Contains(out.String(), "integrationTest") {
				t.Errorf("summary missing test unit:\n%s", out.String())
			}

			rec := readOutcome(t, path, "ci")
			if tt.testErr == nil {
				if err != nil {
					t.Fatalf("runRun() error: %v", err)
				}
				if !rec.Success || r.Count("docker tag shop/api:1.0 shop/api:stable") != 1 {
					t.Errorf("record = %+v, commands = %v", rec, cmds)
				}
				return
			}

			var ue *graph.UnitError
			if !errors.As(err, &ue) || ue.Unit != "integrationTest" {
				t.Fatalf("runRun() error = %v, want integrationTest failure", err)
			}
			if rec.Success {
				t.Errorf("failed test recorded success: %+v", rec)
			}
			if r.Count("docker tag") != 0 {
				t.Errorf("image tagged after failed test: %v", cmds)
			}
		})
	}
}

func TestLoadWorkspace_RejectsInvalidConfig(t *testing.T) {
	writeProject(t, strings.Replace(runYAML, "name: nightly", "name: my-app", 1))
	useFakeRunner(t)

	c, _ := testCommand()
	err := runPlan(c, nil)
	if err == nil || !strings.Contains(err.Error(), "my-app") {
		t.Fatalf("runPlan() error = %v, want invalid pipeline name", err)
	}
}
