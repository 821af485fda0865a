// Package util provides shared utility functions.
package util

import (
	"regexp"
	"strings"
)

// FallbackProjectName is used when a project name sanitizes to nothing.
const FallbackProjectName = "test-project"

var (
	nonProjectChar = regexp.MustCompile(`[^a-z0-9_-]`)
	separatorRun   = regexp.MustCompile(`[-_]{2,}`)
)

// SanitizeProjectName maps an arbitrary string onto the character set
// accepted for compose project names: lowercase alphanumerics, hyphen and
// underscore, starting with a letter or digit.
//
// Invalid characters become hyphens and runs of separators collapse to a
// single one ("-" when the run contains a hyphen), so "My@@App" yields
// "my-app". A name with nothing left yields FallbackProjectName.
func SanitizeProjectName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = nonProjectChar.ReplaceAllString(s, "-")
	s = separatorRun.ReplaceAllStringFunc(s, func(run string) string {
		if strings.Contains(run, "-") {
			return "-"
		}
		return "_"
	})
	s = strings.Trim(s, "-_")
	if s == "" {
		return FallbackProjectName
	}
	return s
}
