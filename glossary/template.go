package glossary

import (
	"strings"

	"github.com/minios-linux/lokstudio/model"
)

const (
	refOpen  = "${{"
	refClose = "}}"
)

// Run is one piece of a template: literal text or a term reference.
type Run struct {
	Literal string
	Slug    string
	// Raw is the reference exactly as written, kept for unknown slugs.
	Raw string
}

// IsRef reports whether the run is a term reference.
func (r Run) IsRef() bool { return r.Raw != "" }

// Template is a parsed target text with its term references kept apart
// from the literal text.
type Template []Run

// Parse splits s into literal runs and ${{slug}} references. Unterminated
// or empty references are literal text.
func Parse(s string) Template {
	var t Template
	var lit strings.Builder
	for len(s) > 0 {
		i := strings.Index(s, refOpen)
		if i < 0 {
			lit.WriteString(s)
			break
		}
		j := strings.Index(s[i+len(refOpen):], refClose)
		if j < 0 {
			lit.WriteString(s)
			break
		}
		slug := strings.TrimSpace(s[i+len(refOpen) : i+len(refOpen)+j])
		end := i + len(refOpen) + j + len(refClose)
		if slug == "" || strings.ContainsAny(slug, "{}") {
			lit.WriteString(s[:end])
			s = s[end:]
			continue
		}
		lit.WriteString(s[:i])
		if lit.Len() > 0 {
			t = append(t, Run{Literal: lit.String()})
			lit.Reset()
		}
		t = append(t, Run{Slug: slug, Raw: s[i:end]})
		s = s[end:]
	}
	if lit.Len() > 0 {
		t = append(t, Run{Literal: lit.String()})
	}
	return t
}

// Slugs returns the referenced slugs in order of first appearance.
func (t Template) Slugs() []string {
	var out []string
	seen := map[string]bool{}
	for _, r := range t {
		if r.IsRef() && !seen[r.Slug] {
			seen[r.Slug] = true
			out = append(out, r.Slug)
		}
	}
	return out
}

// Resolve substitutes known references with their term translation and
// leaves unknown references verbatim.
func (t Template) Resolve(index map[string]model.Term) string {
	var b strings.Builder
	for _, r := range t {
		if !r.IsRef() {
			b.WriteString(r.Literal)
			continue
		}
		if term, ok := index[r.Slug]; ok && term.Translation != "" {
			b.WriteString(term.Translation)
		} else {
			b.WriteString(r.Raw)
		}
	}
	return b.String()
}

// String reassembles the template source.
func (t Template) String() string {
	var b strings.Builder
	for _, r := range t {
		if r.IsRef() {
			b.WriteString(r.Raw)
		} else {
			b.WriteString(r.Literal)
		}
	}
	return b.String()
}

// Resolve resolves the term references in s against terms.
func Resolve(s string, terms []model.Term) string {
	if !strings.Contains(s, refOpen) {
		return s
	}
	return Parse(s).Resolve(Index(terms))
}

// Resolver resolves many texts against one glossary.
type Resolver struct {
	index map[string]model.Term
}

// NewResolver indexes terms once.
func NewResolver(terms []model.Term) *Resolver {
	return &Resolver{index: Index(terms)}
}

// Resolve resolves the term references in s.
func (r *Resolver) Resolve(s string) string {
	if r == nil || !strings.Contains(s, refOpen) {
		return s
	}
	return Parse(s).Resolve(r.index)
}

// Known reports whether slug is in the glossary.
func (r *Resolver) Known(slug string) bool {
	_, ok := r.index[slug]
	return ok
}
