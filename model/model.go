// Package model defines the format-independent view of a localization
// artifact: projects made of resources made of entries, plus glossary terms.
//
// Adapters own the format-specific ground truth and project it into these
// types. The JSON field names are the persisted contract.
package model

import (
	"fmt"
	"strings"
)

// PluralForm is a CLDR plural category.
type PluralForm string

const (
	PluralNone  PluralForm = ""
	PluralZero  PluralForm = "zero"
	PluralOne   PluralForm = "one"
	PluralTwo   PluralForm = "two"
	PluralFew   PluralForm = "few"
	PluralMany  PluralForm = "many"
	PluralOther PluralForm = "other"
)

// ParsePluralForm validates a plural category name.
func ParsePluralForm(s string) (PluralForm, error) {
	switch p := PluralForm(strings.ToLower(strings.TrimSpace(s))); p {
	case PluralNone, PluralZero, PluralOne, PluralTwo, PluralFew, PluralMany, PluralOther:
		return p, nil
	}
	return PluralNone, fmt.Errorf("unknown plural form %q", s)
}

// TranslationEntry is the smallest translatable unit.
type TranslationEntry struct {
	// ID is unique within the owning resource.
	ID         string `json:"id"`
	SourceText string `json:"sourceText"`
	// TargetText is empty when the entry is untranslated. It may contain
	// unresolved ${{slug}} term references.
	TargetText string     `json:"targetText"`
	Comment    string     `json:"comment,omitempty"`
	Context    string     `json:"context,omitempty"`
	MaxLength  int        `json:"maxLength,omitempty"`
	PluralForm PluralForm `json:"pluralForm,omitempty"`
	// Metadata is a read-only display projection of format details.
	// Adapters never read it back; their round-trip state lives elsewhere.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IsTranslated reports whether the entry has a target text.
func (e *TranslationEntry) IsTranslated() bool {
	return e.TargetText != ""
}

// TranslationResource groups the entries of one logical source file.
type TranslationResource struct {
	ID             string              `json:"id"`
	Label          string              `json:"label"`
	Entries        []*TranslationEntry `json:"entries"`
	SourceLanguage string              `json:"sourceLanguage,omitempty"`
	TargetLanguage string              `json:"targetLanguage,omitempty"`
}

// Entry finds an entry by id.
func (r *TranslationResource) Entry(id string) (*TranslationEntry, error) {
	for _, e := range r.Entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, &NotFoundError{Kind: "entry", ID: id}
}

// TranslationProject is the unit persisted and round-tripped.
type TranslationProject struct {
	Resources       []*TranslationResource `json:"resources"`
	SourceLanguage  string                 `json:"sourceLanguage,omitempty"`
	TargetLanguages []string               `json:"targetLanguages,omitempty"`
	Metadata        map[string]string      `json:"metadata,omitempty"`
}

// Resource finds a resource by id.
func (p *TranslationProject) Resource(id string) (*TranslationResource, error) {
	for _, r := range p.Resources {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, &NotFoundError{Kind: "resource", ID: id}
}

// FlatEntry is an entry addressed by its position in the flattened project.
type FlatEntry struct {
	Index      int               `json:"index"`
	ResourceID string            `json:"resourceId"`
	Entry      *TranslationEntry `json:"entry"`
}

// Flatten returns every entry of the project in document order.
func (p *TranslationProject) Flatten() []FlatEntry {
	var out []FlatEntry
	for _, r := range p.Resources {
		for _, e := range r.Entries {
			out = append(out, FlatEntry{Index: len(out), ResourceID: r.ID, Entry: e})
		}
	}
	return out
}

// Stats returns entry counts across all resources.
func (p *TranslationProject) Stats() (total, translated int) {
	for _, r := range p.Resources {
		for _, e := range r.Entries {
			total++
			if e.IsTranslated() {
				translated++
			}
		}
	}
	return
}

// Term is a glossary record. ID is the slug used in ${{slug}} references.
type Term struct {
	ID           string `json:"id" yaml:"id"`
	OriginalText string `json:"originalText" yaml:"original"`
	Translation  string `json:"translation" yaml:"translation"`
	Comment      string `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// EntryUpdate is a targeted mutation of one entry. Nil fields are left as is.
type EntryUpdate struct {
	ResourceID string  `json:"resourceId"`
	EntryID    string  `json:"entryId"`
	TargetText *string `json:"targetText,omitempty"`
	Comment    *string `json:"comment,omitempty"`
}

// SetTarget builds an update that only changes the target text.
func SetTarget(resourceID, entryID, text string) EntryUpdate {
	return EntryUpdate{ResourceID: resourceID, EntryID: entryID, TargetText: &text}
}

// Apply writes the update's non-nil fields into e.
func (u EntryUpdate) Apply(e *TranslationEntry) {
	if u.TargetText != nil {
		e.TargetText = *u.TargetText
	}
	if u.Comment != nil {
		e.Comment = *u.Comment
	}
}
