package workflow

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TopLevelUnit depends on every pipeline's lifecycle unit.
const TopLevelUnit = "runWorkflows"

// Role identifies a generated unit within a pipeline.
type Role int

const (
	RoleBuild Role = iota
	RoleTest
	RoleTagOnSuccess
	RoleSave
	RolePublish
	RoleCleanup
	RoleLifecycle
)

// Roles lists every role in declaration order.
var Roles = []Role{RoleBuild, RoleTest, RoleTagOnSuccess, RoleSave, RolePublish, RoleCleanup, RoleLifecycle}

// Token is the role's part of a unit name.
func (r Role) Token() string {
	switch r {
	case RoleBuild:
		return "Build"
	case RoleTest:
		return "Test"
	case RoleTagOnSuccess:
		return "TagOnSuccess"
	case RoleSave:
		return "Save"
	case RolePublish:
		return "Publish"
	case RoleCleanup:
		return "Cleanup"
	case RoleLifecycle:
		return "Lifecycle"
	default:
		return fmt.Sprintf("Role%d", int(r))
	}
}

func (r Role) String() string { return r.Token() }

// Capitalize upper-cases the first rune of s.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// Prefix is the name prefix shared by every unit of a pipeline.
func Prefix(pipeline string) string {
	return "workflow" + Capitalize(pipeline)
}

// UnitName names a generated unit: prefix, role token, then each qualifier
// capitalized.
func UnitName(pipeline string, role Role, qualifiers ...string) string {
	var b strings.Builder
	b.WriteString(Prefix(pipeline))
	b.WriteString(role.Token())
	for _, q := range qualifiers {
		b.WriteString(Capitalize(q))
	}
	return b.String()
}

// StateDir is the directory holding a pipeline's cross-phase state.
func StateDir(root, pipeline string) string {
	return filepath.Join(root, Prefix(pipeline), "state")
}

// TestResultPath is where the test unit records a pipeline's outcome.
func TestResultPath(root, pipeline string) string {
	return filepath.Join(StateDir(root, pipeline), "test-result.json")
}

// BuildUnitName names the unit building an image.
func BuildUnitName(image string) string { return "dockerBuild" + Capitalize(image) }

// ComposeUpUnitName names the unit starting a class-scoped stack.
func ComposeUpUnitName(stack string) string { return "composeUp" + Capitalize(stack) }

// ComposeDownUnitName names the unit stopping a class-scoped stack.
func ComposeDownUnitName(stack string) string { return "composeDown" + Capitalize(stack) }

// ImageResultPath is where an image build records its artifact.
func ImageResultPath(root, image string) string {
	return filepath.Join(root, "images", image, "build-result.json")
}

// SessionPath is where a class-scoped stack session is persisted between
// the compose-up and compose-down units.
func SessionPath(root, stack string) string {
	return filepath.Join(root, "compose", stack, "session.json")
}

// ComposeStateDir holds runtime state artifacts of running stacks.
func ComposeStateDir(root string) string {
	return filepath.Join(root, "compose", "state")
}
