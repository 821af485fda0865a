// Package types holds configuration types for dockflow project files.
package types

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefaultBuildDir is where generated state lives when build_dir is unset.
const DefaultBuildDir = ".dockflow"

// Config represents the top-level dockflow project file.
type Config struct {
	Project   string         `yaml:"project" toml:"project" json:"project"`
	BuildDir  string         `yaml:"build_dir,omitempty" toml:"build_dir" json:"build_dir,omitempty"`
	Builder   string         `yaml:"builder,omitempty" toml:"builder" json:"builder,omitempty"` // docker, podman, buildah; empty = detect
	Images    []ImageSpec    `yaml:"images,omitempty" toml:"images" json:"images,omitempty"`
	Stacks    []StackSpec    `yaml:"stacks,omitempty" toml:"stacks" json:"stacks,omitempty"`
	Tests     []TestUnitSpec `yaml:"tests,omitempty" toml:"tests" json:"tests,omitempty"`
	Pipelines []PipelineSpec `yaml:"pipelines,omitempty" toml:"pipelines" json:"pipelines,omitempty"`
}

// ImageSpec describes one image build.
type ImageSpec struct {
	Name       string            `yaml:"name" toml:"name" json:"name"`
	Context    string            `yaml:"context,omitempty" toml:"context" json:"context,omitempty"`
	Dockerfile string            `yaml:"dockerfile,omitempty" toml:"dockerfile" json:"dockerfile,omitempty"`
	Tags       []string          `yaml:"tags,omitempty" toml:"tags" json:"tags,omitempty"`
	BuildArgs  map[string]string `yaml:"build_args,omitempty" toml:"build_args" json:"build_args,omitempty"`
	Platform   string            `yaml:"platform,omitempty" toml:"platform" json:"platform,omitempty"`
	NoCache    bool              `yaml:"no_cache,omitempty" toml:"no_cache" json:"no_cache,omitempty"`
}

// StackSpec describes a compose stack used by tests.
type StackSpec struct {
	Name           string   `yaml:"name" toml:"name" json:"name"`
	Files          []string `yaml:"files" toml:"files" json:"files"`
	Services       []string `yaml:"services,omitempty" toml:"services" json:"services,omitempty"` // services to wait for
	WaitTimeout    Duration `yaml:"wait_timeout,omitempty" toml:"wait_timeout" json:"wait_timeout,omitempty"`
	PollInterval   Duration `yaml:"poll_interval,omitempty" toml:"poll_interval" json:"poll_interval,omitempty"`
	SettleInterval Duration `yaml:"settle_interval,omitempty" toml:"settle_interval" json:"settle_interval,omitempty"`
	MaxAttempts    int      `yaml:"max_attempts,omitempty" toml:"max_attempts" json:"max_attempts,omitempty"`
}

// TestUnitSpec describes a test unit: a command whose exit status is the
// test outcome.
type TestUnitSpec struct {
	Name    string            `yaml:"name" toml:"name" json:"name"`
	Command []string          `yaml:"command" toml:"command" json:"command"`
	Dir     string            `yaml:"dir,omitempty" toml:"dir" json:"dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" toml:"env" json:"env,omitempty"`
	EnvFile string            `yaml:"env_file,omitempty" toml:"env_file" json:"env_file,omitempty"`
}

// PipelineSpec is a named build -> test -> conditional publish -> cleanup
// workflow.
type PipelineSpec struct {
	Name          string       `yaml:"name" toml:"name" json:"name"`
	Build         *BuildStep   `yaml:"build,omitempty" toml:"build" json:"build,omitempty"`
	Test          TestStep     `yaml:"test" toml:"test" json:"test"`
	OnSuccess     *SuccessStep `yaml:"on_success,omitempty" toml:"on_success" json:"on_success,omitempty"`
	OnTestSuccess *SuccessStep `yaml:"on_test_success,omitempty" toml:"on_test_success" json:"on_test_success,omitempty"`
	Always        *AlwaysStep  `yaml:"always,omitempty" toml:"always" json:"always,omitempty"`
}

// BuildStep references an image build by image name.
type BuildStep struct {
	Image string `yaml:"image" toml:"image" json:"image"`
}

// TestStep references the test unit and, unless stack management is
// delegated to the test runtime, the compose stack it runs against.
type TestStep struct {
	Unit                    string        `yaml:"unit" toml:"unit" json:"unit"`
	Stack                   string        `yaml:"stack,omitempty" toml:"stack" json:"stack,omitempty"`
	Lifecycle               LifecycleMode `yaml:"lifecycle,omitempty" toml:"lifecycle" json:"lifecycle,omitempty"`
	DelegateStackManagement bool          `yaml:"delegate_stack_management,omitempty" toml:"delegate_stack_management" json:"delegate_stack_management,omitempty"`
	BeforeTest              *HookSpec     `yaml:"before_test,omitempty" toml:"before_test" json:"before_test,omitempty"`
	AfterTest               *HookSpec     `yaml:"after_test,omitempty" toml:"after_test" json:"after_test,omitempty"`
}

// OwnsStack reports whether the generator wires compose up/down units around
// the test unit (class scope, not delegated, stack configured).
func (t TestStep) OwnsStack() bool {
	if t.DelegateStackManagement || t.Stack == "" {
		return false
	}
	switch t.Lifecycle {
	case LifecycleClass:
		return true
	case LifecycleMethod:
		return false
	default:
		return false
	}
}

// SuccessStep lists what happens after a successful test.
type SuccessStep struct {
	AdditionalTags []string     `yaml:"additional_tags,omitempty" toml:"additional_tags" json:"additional_tags,omitempty"`
	Save           *SaveStep    `yaml:"save,omitempty" toml:"save" json:"save,omitempty"`
	Publish        *PublishStep `yaml:"publish,omitempty" toml:"publish" json:"publish,omitempty"`
	After          *HookSpec    `yaml:"after,omitempty" toml:"after" json:"after,omitempty"`
}

// SaveStep writes the image to an archive.
type SaveStep struct {
	Output      string `yaml:"output" toml:"output" json:"output"`
	Compression string `yaml:"compression,omitempty" toml:"compression" json:"compression,omitempty"` // none, gzip, zstd, lz4
}

// PublishStep pushes the image to one or more registries.
type PublishStep struct {
	Targets []PublishTarget `yaml:"targets" toml:"targets" json:"targets"`
}

// HasTargets reports whether at least one target has tags to push.
func (p *PublishStep) HasTargets() bool {
	if p == nil {
		return false
	}
	for _, t := range p.Targets {
		if len(t.Tags) > 0 {
			return true
		}
	}
	return false
}

// PublishTarget is one registry destination.
type PublishTarget struct {
	Name       string   `yaml:"name,omitempty" toml:"name" json:"name,omitempty"`
	Registry   string   `yaml:"registry,omitempty" toml:"registry" json:"registry,omitempty"`
	Repository string   `yaml:"repository,omitempty" toml:"repository" json:"repository,omitempty"` // default: source image repository
	Tags       []string `yaml:"tags" toml:"tags" json:"tags"`
}

// AlwaysStep configures cleanup that runs regardless of the outcome.
type AlwaysStep struct {
	RemoveContainers     bool `yaml:"remove_containers,omitempty" toml:"remove_containers" json:"remove_containers,omitempty"`
	CleanupImages        bool `yaml:"cleanup_images,omitempty" toml:"cleanup_images" json:"cleanup_images,omitempty"`
	KeepFailedContainers bool `yaml:"keep_failed_containers,omitempty" toml:"keep_failed_containers" json:"keep_failed_containers,omitempty"`
}

// NeedsCleanup reports whether any cleanup flag is set.
func (a *AlwaysStep) NeedsCleanup() bool {
	return a != nil && (a.RemoveContainers || a.CleanupImages)
}

// HookSpec is a command run at a fixed point of the test step.
type HookSpec struct {
	Command []string          `yaml:"command" toml:"command" json:"command"`
	Dir     string            `yaml:"dir,omitempty" toml:"dir" json:"dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" toml:"env" json:"env,omitempty"`
}

// Image returns the image spec with the given name.
func (c *Config) Image(name string) (*ImageSpec, bool) {
	for i := range c.Images {
		if c.Images[i].Name == name {
			return &c.Images[i], true
		}
	}
	return nil, false
}

// Stack returns the stack spec with the given name.
func (c *Config) Stack(name string) (*StackSpec, bool) {
	for i := range c.Stacks {
		if c.Stacks[i].Name == name {
			return &c.Stacks[i], true
		}
	}
	return nil, false
}

// Test returns the test unit spec with the given name.
func (c *Config) Test(name string) (*TestUnitSpec, bool) {
	for i := range c.Tests {
		if c.Tests[i].Name == name {
			return &c.Tests[i], true
		}
	}
	return nil, false
}

// Pipeline returns the pipeline spec with the given name.
func (c *Config) Pipeline(name string) (*PipelineSpec, bool) {
	for i := range c.Pipelines {
		if c.Pipelines[i].Name == name {
			return &c.Pipelines[i], true
		}
	}
	return nil, false
}

// ApplyDefaults fills in conventional values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BuildDir == "" {
		c.BuildDir = DefaultBuildDir
	}
	for i := range c.Images {
		if c.Images[i].Context == "" {
			c.Images[i].Context = "."
		}
		if len(c.Images[i].Tags) == 0 && c.Project != "" {
			c.Images[i].Tags = []string{fmt.Sprintf("%s/%s:latest", c.Project, c.Images[i].Name)}
		}
	}
}

// CheckRequired validates the fields without which nothing can be loaded.
func (c *Config) CheckRequired() error {
	if c.Project == "" {
		return fmt.Errorf("dockflow config: project is required")
	}
	return nil
}

// ParseConfig parses raw YAML bytes into a Config, applies defaults and
// validates required fields.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing dockflow config: %w", err)
	}
	if err := cfg.CheckRequired(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}
