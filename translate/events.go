package translate

import (
	"encoding/json"
	"fmt"

	"github.com/minios-linux/lokstudio/model"
)

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// EventType is the wire tag of an event.
type EventType string

const (
	TypeTerminologyScanStart   EventType = "terminology-scan-start"
	TypeTerminologyFound       EventType = "terminology-found"
	TypeTranslateStart         EventType = "translate-start"
	TypeEntryTranslated        EventType = "entry-translated"
	TypeBatchComplete          EventType = "batch-complete"
	TypeTermResolutionComplete EventType = "term-resolution-complete"
	TypeError                  EventType = "error"
	TypeComplete               EventType = "complete"
)

// Event is one step of a translation run. The set of implementations is
// closed; switch on the concrete type.
type Event interface {
	Type() EventType
	event()
}

// TerminologyScanStart is emitted before the glossary scan.
type TerminologyScanStart struct{}

// TerminologyFound carries the terms added by the scan, with final slugs.
type TerminologyFound struct {
	Terms []model.Term `json:"terms"`
}

// TranslateStart opens the batch phase.
type TranslateStart struct {
	Total   int `json:"total"`
	Batches int `json:"batches"`
}

// EntryTranslated reports one translated entry. TargetText may contain
// ${{slug}} references.
type EntryTranslated struct {
	ResourceID string `json:"resourceId"`
	EntryID    string `json:"entryId"`
	TargetText string `json:"targetText"`
	Current    int    `json:"current"`
	Total      int    `json:"total"`
}

// BatchComplete closes a batch, successful or not. Callers persist here.
type BatchComplete struct {
	BatchIndex int `json:"batchIndex"`
	Translated int `json:"translated"`
}

// TermResolutionComplete lists the term slugs referenced by the run's
// translations and those the glossary does not know.
type TermResolutionComplete struct {
	Referenced []string `json:"referenced"`
	Unresolved []string `json:"unresolved"`
}

// ErrorEvent is a non-fatal failure. BatchIndex is nil for scan errors.
type ErrorEvent struct {
	Message    string `json:"message"`
	BatchIndex *int   `json:"batchIndex,omitempty"`
}

// Complete ends a run that was not cancelled.
type Complete struct {
	Translated int `json:"translated"`
	Failed     int `json:"failed"`
}

func (TerminologyScanStart) Type() EventType   { return TypeTerminologyScanStart }
func (TerminologyFound) Type() EventType       { return TypeTerminologyFound }
func (TranslateStart) Type() EventType         { return TypeTranslateStart }
func (EntryTranslated) Type() EventType        { return TypeEntryTranslated }
func (BatchComplete) Type() EventType          { return TypeBatchComplete }
func (TermResolutionComplete) Type() EventType { return TypeTermResolutionComplete }
func (ErrorEvent) Type() EventType             { return TypeError }
func (Complete) Type() EventType               { return TypeComplete }

func (TerminologyScanStart) event()   {}
func (TerminologyFound) event()       {}
func (TranslateStart) event()         {}
func (EntryTranslated) event()        {}
func (BatchComplete) event()          {}
func (TermResolutionComplete) event() {}
func (ErrorEvent) event()             {}
func (Complete) event()               {}

// MarshalEvent encodes e as a JSON object whose first field is "type".
func MarshalEvent(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", e.Type(), err)
	}
	tag, _ := json.Marshal(string(e.Type()))
	out := make([]byte, 0, len(body)+len(tag)+10)
	out = append(out, `{"type":`...)
	out = append(out, tag...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

// DecodeEvent parses a JSON event produced by MarshalEvent.
func DecodeEvent(data []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	switch head.Type {
	case TypeTerminologyScanStart:
		return TerminologyScanStart{}, nil
	case TypeTerminologyFound:
		var v TerminologyFound
		return decodeInto(data, &v)
	case TypeTranslateStart:
		var v TranslateStart
		return decodeInto(data, &v)
	case TypeEntryTranslated:
		var v EntryTranslated
		return decodeInto(data, &v)
	case TypeBatchComplete:
		var v BatchComplete
		return decodeInto(data, &v)
	case TypeTermResolutionComplete:
		var v TermResolutionComplete
		return decodeInto(data, &v)
	case TypeError:
		var v ErrorEvent
		return decodeInto(data, &v)
	case TypeComplete:
		var v Complete
		return decodeInto(data, &v)
	}
	return nil, fmt.Errorf("unknown event type %q", head.Type)
}

func decodeInto[T Event](data []byte, v *T) (Event, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", (*v).Type(), err)
	}
	return *v, nil
}
