package types

import (
	"testing"
	"time"
)

const sampleYAML = `
project: shop
images:
  - name: api
    dockerfile: Dockerfile
stacks:
  - name: integration
    files: [docker-compose.yml]
    wait_timeout: 90s
tests:
  - name: integrationTest
    command: [go, test, ./integration/...]
pipelines:
  - name: ci
    build: {image: api}
    test:
      unit: integrationTest
      stack: integration
      lifecycle: method
    on_success:
      additional_tags: [stable]
    always:
      remove_containers: true
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseConfig() error: %v", err)
	}
	if cfg.BuildDir != DefaultBuildDir {
		t.Errorf("BuildDir = %q, want %q", cfg.BuildDir, DefaultBuildDir)
	}

	img, ok := cfg.Image("api")
	if !ok {
		t.Fatal("image api not found")
	}
	if img.Context != "." {
		t.Errorf("Context = %q, want .", img.Context)
	}
	if len(img.Tags) != 1 || img.Tags[0] != "shop/api:latest" {
		t.Errorf("Tags = %v, want [shop/api:latest]", img.Tags)
	}

	stack, ok := cfg.Stack("integration")
	if !ok {
		t.Fatal("stack integration not found")
	}
	if stack.WaitTimeout.Std() != 90*time.Second {
		t.Errorf("WaitTimeout = %v, want 90s", stack.WaitTimeout.Std())
	}

	p, ok := cfg.Pipeline("ci")
	if !ok {
		t.Fatal("pipeline ci not found")
	}
	if p.Test.Lifecycle != LifecycleMethod {
		t.Errorf("Lifecycle = %v, want method", p.Test.Lifecycle)
	}
	if p.Test.OwnsStack() {
		t.Error("method-scoped test step should not own its stack")
	}
	if !p.Always.NeedsCleanup() {
		t.Error("NeedsCleanup() = false, want true")
	}
}

func TestParseConfig_MissingProject(t *testing.T) {
	if _, err := ParseConfig([]byte("images: []\n")); err == nil {
		t.Fatal("expected error for missing project")
	}
}

func TestParseLifecycleMode(t *testing.T) {
	tests := []struct {
		in      string
		want    LifecycleMode
		wantErr bool
	}{
		{"", LifecycleClass, false},
		{"class", LifecycleClass, false},
		{"METHOD", LifecycleMethod, false},
		{"suite", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLifecycleMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLifecycleMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLifecycleMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTestStep_OwnsStack(t *testing.T) {
	tests := []struct {
		name string
		step TestStep
		want bool
	}{
		{"class with stack", TestStep{Unit: "t", Stack: "s"}, true},
		{"class without stack", TestStep{Unit: "t"}, false},
		{"delegated", TestStep{Unit: "t", Stack: "s", DelegateStackManagement: true}, false},
		{"method", TestStep{Unit: "t", Stack: "s", Lifecycle: LifecycleMethod}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.step.OwnsStack(); got != tt.want {
				t.Errorf("OwnsStack() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPublishStep_HasTargets(t *testing.T) {
	var nilStep *PublishStep
	if nilStep.HasTargets() {
		t.Error("nil publish step has targets")
	}
	empty := &PublishStep{Targets: []PublishTarget{{Registry: "ghcr.io"}}}
	if empty.HasTargets() {
		t.Error("target without tags counted")
	}
	full := &PublishStep{Targets: []PublishTarget{{Registry: "ghcr.io", Tags: []string{"1.0"}}}}
	if !full.HasTargets() {
		t.Error("HasTargets() = false, want true")
	}
}
