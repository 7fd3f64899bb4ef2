// Package glossary implements term identifiers, term lookup and the
// ${{slug}} reference templates stored inside translated texts.
package glossary

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/minios-linux/lokstudio/model"
)

// MaxSlugLength bounds generated term identifiers.
const MaxSlugLength = 60

// Slugify lowercases text, collapses every run of non-alphanumeric
// characters into one hyphen and trims hyphens from both ends.
func Slugify(text string) string {
	var b strings.Builder
	pendingHyphen := false
	n := 0
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingHyphen && b.Len() > 0 {
				if n+1 >= MaxSlugLength {
					break
				}
				b.WriteByte('-')
				n++
			}
			pendingHyphen = false
			if n >= MaxSlugLength {
				break
			}
			b.WriteRune(r)
			n++
			continue
		}
		pendingHyphen = true
	}
	return strings.TrimRight(b.String(), "-")
}

// UniqueSlug returns base when it is free, otherwise the first free
// base-2, base-3, ... candidate.
func UniqueSlug(base string, existing map[string]bool) string {
	if !existing[base] {
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if !existing[candidate] {
			return candidate
		}
	}
}

// LookupResult is the answer of Lookup. Exactly one of Term or NotFound
// is set.
type LookupResult struct {
	Term     *model.Term `json:"term,omitempty"`
	NotFound bool        `json:"notFound,omitempty"`
}

// Lookup finds a term by exact slug, then exact original text, then a
// case-insensitive substring of either.
func Lookup(terms []model.Term, query string) LookupResult {
	for i := range terms {
		if terms[i].ID == query {
			return LookupResult{Term: &terms[i]}
		}
	}
	for i := range terms {
		if terms[i].OriginalText == query {
			return LookupResult{Term: &terms[i]}
		}
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q != "" {
		for i := range terms {
			if strings.Contains(strings.ToLower(terms[i].ID), q) ||
				strings.Contains(strings.ToLower(terms[i].OriginalText), q) {
				return LookupResult{Term: &terms[i]}
			}
		}
	}
	return LookupResult{NotFound: true}
}

// Merge adds found terms to existing ones. Terms whose original text is
// already present (ignoring case) are skipped; the rest get a slug that is
// unique across the merged list. The returned slice holds the added terms
// with their final ids.
func Merge(existing, found []model.Term) (merged, added []model.Term) {
	merged = append(merged, existing...)
	used := make(map[string]bool, len(existing))
	originals := make(map[string]bool, len(existing))
	for _, t := range existing {
		used[t.ID] = true
		originals[strings.ToLower(t.OriginalText)] = true
	}
	for _, t := range found {
		key := strings.ToLower(strings.TrimSpace(t.OriginalText))
		if key == "" || originals[key] {
			continue
		}
		base := t.ID
		if base == "" {
			base = Slugify(t.OriginalText)
		}
		if base == "" {
			continue
		}
		t.ID = UniqueSlug(base, used)
		used[t.ID] = true
		originals[key] = true
		merged = append(merged, t)
		added = append(added, t)
	}
	return merged, added
}

// Index maps slug to term for fast resolution.
func Index(terms []model.Term) map[string]model.Term {
	m := make(map[string]model.Term, len(terms))
	for _, t := range terms {
		m[t.ID] = t
	}
	return m
}
