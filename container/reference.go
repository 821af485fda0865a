package container

import "strings"

// Reference is a parsed image reference.
type Reference struct {
	Registry   string
	Repository string
	Tag        string
}

// ParseReference splits an image reference into registry, repository and
// tag. The first path component is treated as a registry when it contains a
// dot or a colon, or is "localhost". Digests are kept in the repository.
func ParseReference(ref string) Reference {
	var r Reference
	name := ref
	if i := strings.LastIndex(name, ":"); i > strings.LastIndex(name, "/") && !strings.Contains(name, "@") {
		r.Tag = name[i+1:]
		name = name[:i]
	}
	if i := strings.Index(name, "/"); i > 0 {
		first := name[:i]
		if strings.ContainsAny(first, ".:") || first == "localhost" {
			r.Registry = first
			name = name[i+1:]
		}
	}
	r.Repository = name
	return r
}

// String renders the reference, defaulting the tag to latest.
func (r Reference) String() string {
	var b strings.Builder
	if r.Registry != "" {
		b.WriteString(r.Registry)
		b.WriteByte('/')
	}
	b.WriteString(r.Repository)
	if strings.Contains(r.Repository, "@") {
		return b.String()
	}
	tag := r.Tag
	if tag == "" {
		tag = "latest"
	}
	b.WriteByte(':')
	b.WriteString(tag)
	return b.String()
}

// Retarget returns source rewritten to the given registry, repository and
// tag. Empty registry and repository keep the source's values; the source
// registry is dropped when a repository override is given without a registry.
func Retarget(source, registry, repository, tag string) string {
	r := ParseReference(source)
	if repository != "" {
		r.Repository = repository
		r.Registry = ""
	}
	if registry != "" {
		r.Registry = strings.TrimSuffix(registry, "/")
	}
	r.Tag = tag
	return r.String()
}
