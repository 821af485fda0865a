// Package validate checks dockflow project files and the JSON documents
// exchanged between execution phases.
package validate

import (
	"fmt"
	"regexp"
	"unicode"
	"unicode/utf8"

	"github.com/initializ/dockflow/types"
)

var (
	projectPattern  = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	pipelinePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

	knownBuilders     = map[string]bool{"docker": true, "podman": true, "buildah": true}
	knownCompressions = map[string]bool{"": true, "none": true, "gzip": true, "zstd": true, "lz4": true}
)

// ValidationResult holds errors and warnings from config validation.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ValidateConfig checks a Config for errors and warnings.
//
// Unresolved references between pipelines and images, stacks or tests are
// warnings: the generator degrades such a pipeline instead of failing the
// whole project.
func ValidateConfig(cfg *types.Config) *ValidationResult {
	r := &ValidationResult{}

	if cfg.Project == "" {
		r.errorf("project is required")
	} else if !projectPattern.MatchString(cfg.Project) {
		r.errorf("project %q must match ^[a-z0-9][a-z0-9_-]*$", cfg.Project)
	}
	if cfg.Builder != "" && !knownBuilders[cfg.Builder] {
		r.errorf("builder %q must be one of: docker, podman, buildah", cfg.Builder)
	}

	validateImages(r, cfg)
	validateStacks(r, cfg)
	validateTests(r, cfg)

	// Unit names and state directories derive from the prefix, so names
	// differing only in the case of their first letter collide.
	byPrefix := map[string]string{}
	for i := range cfg.Pipelines {
		p := &cfg.Pipelines[i]
		if p.Name == "" {
			r.errorf("pipelines[%d]: name is required", i)
			continue
		}
		if !pipelinePattern.MatchString(p.Name) {
			r.errorf("pipeline %q: name must match ^[A-Za-z][A-Za-z0-9_]*$", p.Name)
		}
		prefix := unitPrefix(p.Name)
		switch other, ok := byPrefix[prefix]; {
		case ok && other == p.Name:
			r.errorf("pipeline %q: duplicate name", p.Name)
		case ok:
			r.errorf("pipeline %q: collides with pipeline %q (both generate units named %s*)", p.Name, other, prefix)
		default:
			byPrefix[prefix] = p.Name
		}
		validatePipeline(r, cfg, p)
	}

	return r
}

func validateImages(r *ValidationResult, cfg *types.Config) {
	seen := map[string]bool{}
	for i, img := range cfg.Images {
		if img.Name == "" {
			r.errorf("images[%d]: name is required", i)
			continue
		}
		if seen[img.Name] {
			r.errorf("image %q: duplicate name", img.Name)
		}
		seen[img.Name] = true
		if len(img.Tags) == 0 {
			r.errorf("image %q: at least one tag is required", img.Name)
		}
	}
}

func validateStacks(r *ValidationResult, cfg *types.Config) {
	seen := map[string]bool{}
	for i, s := range cfg.Stacks {
		if s.Name == "" {
			r.errorf("stacks[%d]: name is required", i)
			continue
		}
		if seen[s.Name] {
			r.errorf("stack %q: duplicate name", s.Name)
		}
		seen[s.Name] = true
		if len(s.Files) == 0 {
			r.errorf("stack %q: at least one compose file is required", s.Name)
		}
		if s.WaitTimeout < 0 || s.PollInterval < 0 || s.SettleInterval < 0 || s.MaxAttempts < 0 {
			r.errorf("stack %q: durations and max_attempts must not be negative", s.Name)
		}
	}
}

func validateTests(r *ValidationResult, cfg *types.Config) {
	seen := map[string]bool{}
	for i, t := range cfg.Tests {
		if t.Name == "" {
			r.errorf("tests[%d]: name is required", i)
			continue
		}
		if seen[t.Name] {
			r.errorf("test %q: duplicate name", t.Name)
		}
		seen[t.Name] = true
		if len(t.Command) == 0 {
			r.errorf("test %q: command is required", t.Name)
		}
	}
}

func validatePipeline(r *ValidationResult, cfg *types.Config, p *types.PipelineSpec) {
	if p.Build != nil {
		if p.Build.Image == "" {
			r.errorf("pipeline %q: build.image is required when build is set", p.Name)
		} else if _, ok := cfg.Image(p.Build.Image); !ok {
			r.warnf("pipeline %q: build.image %q is not defined; the build edge will be skipped", p.Name, p.Build.Image)
		}
	}

	t := p.Test
	if t.Unit == "" {
		if _, ok := cfg.Test(conventionalTestUnit(p.Name)); !ok {
			r.errorf("pipeline %q: test.unit is required (or define test %q)", p.Name, conventionalTestUnit(p.Name))
		}
	} else if _, ok := cfg.Test(t.Unit); !ok {
		r.warnf("pipeline %q: test.unit %q is not defined; test edges will be skipped", p.Name, t.Unit)
	}
	switch {
	case t.DelegateStackManagement && t.Stack != "" && t.Lifecycle == types.LifecycleClass:
		r.warnf("pipeline %q: test.stack is only passed to the test runtime because stack management is delegated", p.Name)
	case !t.DelegateStackManagement && t.Stack == "":
		r.errorf("pipeline %q: test.stack is required unless delegate_stack_management is set", p.Name)
	}
	if t.Stack != "" {
		if _, ok := cfg.Stack(t.Stack); !ok {
			r.warnf("pipeline %q: test.stack %q is not defined", p.Name, t.Stack)
		}
	}
	validateHook(r, p.Name, "test.before_test", t.BeforeTest)
	validateHook(r, p.Name, "test.after_test", t.AfterTest)

	validateSuccess(r, p, "on_success", p.OnSuccess)
	validateSuccess(r, p, "on_test_success", p.OnTestSuccess)

	if a := p.Always; a != nil && a.KeepFailedContainers && !a.RemoveContainers {
		r.warnf("pipeline %q: always.keep_failed_containers has no effect without remove_containers", p.Name)
	}
}

func validateSuccess(r *ValidationResult, p *types.PipelineSpec, field string, s *types.SuccessStep) {
	if s == nil {
		return
	}
	if p.Build == nil && (len(s.AdditionalTags) > 0 || s.Save != nil || s.Publish != nil) {
		r.warnf("pipeline %q: %s acts on the built image but the pipeline has no build step", p.Name, field)
	}
	for i, tag := range s.AdditionalTags {
		if tag == "" {
			r.errorf("pipeline %q: %s.additional_tags[%d] is empty", p.Name, field, i)
		}
	}
	if s.Save != nil {
		if s.Save.Output == "" {
			r.errorf("pipeline %q: %s.save.output is required", p.Name, field)
		}
		if !knownCompressions[s.Save.Compression] {
			r.errorf("pipeline %q: %s.save.compression %q must be one of: none, gzip, zstd, lz4", p.Name, field, s.Save.Compression)
		}
	}
	if s.Publish != nil {
		if len(s.Publish.Targets) == 0 {
			r.errorf("pipeline %q: %s.publish.targets must not be empty", p.Name, field)
		}
		for i, target := range s.Publish.Targets {
			if len(target.Tags) == 0 {
				r.errorf("pipeline %q: %s.publish.targets[%d]: tags are required", p.Name, field, i)
			}
		}
	}
	validateHook(r, p.Name, field+".after", s.After)
}

func validateHook(r *ValidationResult, pipeline, field string, h *types.HookSpec) {
	if h != nil && len(h.Command) == 0 {
		r.errorf("pipeline %q: %s.command is required", pipeline, field)
	}
}

// unitPrefix mirrors the generator's unit name prefix: workflow<Pipeline>.
func unitPrefix(pipeline string) string {
	r, size := utf8.DecodeRuneInString(pipeline)
	if size == 0 {
		return "workflow"
	}
	return "workflow" + string(unicode.ToUpper(r)) + pipeline[size:]
}

// conventionalTestUnit is the test unit a pipeline falls back to when its
// test step names none: workflow<Pipeline>Test.
func conventionalTestUnit(pipeline string) string {
	return unitPrefix(pipeline) + "Test"
}
