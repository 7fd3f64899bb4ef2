// Package tools exposes read-only lookups over a glossary and a flattened
// entry list. The same lookups are offered to the generator as callable
// functions during translation.
package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/minios-linux/lokstudio/glossary"
	"github.com/minios-linux/lokstudio/model"
)

// MaxSearchResults caps SearchEntries.
const MaxSearchResults = 10

// Line is the compact entry view returned by the lookups.
type Line struct {
	Index      int    `json:"index"`
	ResourceID string `json:"resourceId"`
	EntryID    string `json:"entryId"`
	SourceText string `json:"sourceText"`
	TargetText string `json:"targetText,omitempty"`
}

// Toolbox holds the data the lookups run over.
type Toolbox struct {
	Terms   []model.Term
	Entries []model.FlatEntry
}

// New creates a toolbox for one translation run.
func New(terms []model.Term, entries []model.FlatEntry) *Toolbox {
	return &Toolbox{Terms: terms, Entries: entries}
}

func lineOf(fe model.FlatEntry) Line {
	return Line{
		Index:      fe.Index,
		ResourceID: fe.ResourceID,
		EntryID:    fe.Entry.ID,
		SourceText: fe.Entry.SourceText,
		TargetText: fe.Entry.TargetText,
	}
}

// LookupTerm finds a glossary term. It never fails; a miss yields the
// NotFound sentinel.
func (tb *Toolbox) LookupTerm(query string) glossary.LookupResult {
	return glossary.Lookup(tb.Terms, query)
}

// PrevLines returns up to count entries before index, nearest last.
// Out-of-range positions are clamped.
func (tb *Toolbox) PrevLines(index, count int) []Line {
	if count <= 0 || index <= 0 {
		return []Line{}
	}
	if index > len(tb.Entries) {
		index = len(tb.Entries)
	}
	start := max(index-count, 0)
	out := make([]Line, 0, index-start)
	for _, fe := range tb.Entries[start:index] {
		out = append(out, lineOf(fe))
	}
	return out
}

// NextLines returns up to count entries after index.
func (tb *Toolbox) NextLines(index, count int) []Line {
	if count <= 0 || index >= len(tb.Entries)-1 {
		return []Line{}
	}
	if index < -1 {
		index = -1
	}
	end := min(index+1+count, len(tb.Entries))
	out := make([]Line, 0, end-index-1)
	for _, fe := range tb.Entries[index+1 : end] {
		out = append(out, lineOf(fe))
	}
	return out
}

// SearchEntries matches query case-insensitively against source and
// target texts.
func (tb *Toolbox) SearchEntries(query string) []Line {
	q := strings.ToLower(strings.TrimSpace(query))
	out := []Line{}
	if q == "" {
		return out
	}
	for _, fe := range tb.Entries {
		if strings.Contains(strings.ToLower(fe.Entry.SourceText), q) ||
			strings.Contains(strings.ToLower(fe.Entry.TargetText), q) {
			out = append(out, lineOf(fe))
			if len(out) == MaxSearchResults {
				break
			}
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Function-call dispatch
// ---------------------------------------------------------------------------

type lookupArgs struct {
	Query string `json:"query"`
	Index int    `json:"index"`
	Count int    `json:"count"`
}

// Dispatch executes a named tool with JSON arguments and returns the JSON
// result handed back to the generator. Failures are encoded as
// {"error": "..."} so the conversation can continue.
func (tb *Toolbox) Dispatch(name, args string) string {
	var a lookupArgs
	if strings.TrimSpace(args) != "" {
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return errorJSON(fmt.Errorf("invalid arguments for %s: %w", name, err))
		}
	}
	if a.Count <= 0 {
		a.Count = 3
	}

	var result any
	switch name {
	case ToolLookupTerm:
		result = tb.LookupTerm(a.Query)
	case ToolPrevLines:
		result = tb.PrevLines(a.Index, a.Count)
	case ToolNextLines:
		result = tb.NextLines(a.Index, a.Count)
	case ToolSearchEntries:
		result = tb.SearchEntries(a.Query)
	default:
		return errorJSON(fmt.Errorf("unknown function %q", name))
	}

	data, err := json.Marshal(result)
	if err != nil {
		return errorJSON(err)
	}
	return string(data)
}

func errorJSON(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}
