// Package adapter binds each supported file format to the universal
// translation model.
//
// An Adapter parses a payload once, exposes the result as a
// model.TranslationProject, accepts targeted entry updates and exports the
// original file with translations applied. Bytes outside translatable
// fields are never altered.
package adapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/minios-linux/lokstudio/glossary"
	"github.com/minios-linux/lokstudio/model"
	"github.com/minios-linux/lokstudio/pofile"
	"github.com/minios-linux/lokstudio/subtitle"
	"github.com/minios-linux/lokstudio/xliff"
)

// Format identifies an adapter implementation.
type Format string

const (
	XLIFF    Format = "xliff"
	PO       Format = "po"
	Subtitle Format = "subtitle"
	HTML     Format = "html"
	Document Format = "document"
)

// Formats lists every supported format.
var Formats = []Format{XLIFF, PO, Subtitle, HTML, Document}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// Export is a serialized artifact.
type Export struct {
	Data     []byte
	FileName string
}

// Adapter is the contract every format implements.
type Adapter interface {
	Format() Format
	// Load parses payload. A failure returns a *model.ParseError and leaves
	// the adapter without a project.
	Load(payload []byte, name string) error
	Project() *model.TranslationProject
	Resource(id string) (*model.TranslationResource, error)
	// UpdateEntry fails with a *model.NotFoundError for unknown ids.
	UpdateEntry(u model.EntryUpdate) error
	// UpdateEntries validates the whole batch before applying any of it.
	UpdateEntries(batch []model.EntryUpdate) error
	// Export writes the original file with translations applied. Term
	// references in target texts are resolved against terms.
	Export(terms []model.Term) (Export, error)
	// Metadata returns the opaque blob that Restore needs besides the
	// project.
	Metadata() ([]byte, error)
}

// New returns an empty adapter for f.
func New(f Format) (Adapter, error) {
	switch f {
	case XLIFF:
		return &XLIFFAdapter{}, nil
	case PO:
		return &POAdapter{}, nil
	case Subtitle:
		return &SubtitleAdapter{}, nil
	case HTML:
		return &HTMLAdapter{}, nil
	case Document:
		return &DocumentAdapter{}, nil
	}
	return nil, fmt.Errorf("unknown format %q", f)
}

// Open detects the format of payload and loads it.
func Open(name string, payload []byte) (Adapter, error) {
	f, err := Detect(name, payload)
	if err != nil {
		return nil, err
	}
	a, err := New(f)
	if err != nil {
		return nil, err
	}
	if err := a.Load(payload, name); err != nil {
		return nil, err
	}
	return a, nil
}

// ---------------------------------------------------------------------------
// Detection
// ---------------------------------------------------------------------------

var (
	extFormats = map[string]Format{
		".xliff": XLIFF, ".xlf": XLIFF, ".xcloc": XLIFF, ".zip": XLIFF,
		".po": PO, ".pot": PO,
		".vtt": Subtitle, ".srt": Subtitle,
		".html": HTML, ".htm": HTML, ".xhtml": HTML,
		".md": Document, ".markdown": Document, ".txt": Document, ".text": Document,
	}
	srtTiming = regexp.MustCompile(`(?m)^\s*\d{1,2}:\d{2}:\d{2}[,.]\d{1,3}\s+-->\s+\d`)
	poMsgid   = regexp.MustCompile(`(?m)^(#~\s*)?msgid\s+"`)
	htmlTag   = regexp.MustCompile(`<(?i:[a-z][a-z0-9-]*)(\s[^>]*)?/?>`)
)

// Detect picks a format by file extension, then by content.
func Detect(name string, payload []byte) (Format, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return "", errors.New("empty file")
	}
	if f, ok := extFormats[strings.ToLower(path.Ext(name))]; ok {
		return f, nil
	}
	if xliff.IsZip(payload) {
		return XLIFF, nil
	}

	head := payload
	if len(head) > 4096 {
		head = head[:4096]
	}
	text := strings.TrimPrefix(string(head), "\ufeff")
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	switch {
	case strings.Contains(lower, "<xliff"):
		return XLIFF, nil
	case strings.HasPrefix(trimmed, "WEBVTT"), srtTiming.MatchString(text):
		return Subtitle, nil
	case poMsgid.MatchString(text):
		return PO, nil
	case strings.HasPrefix(lower, "<!doctype"), strings.Contains(lower, "<html"), htmlTag.MatchString(trimmed):
		return HTML, nil
	}
	return Document, nil
}

// ---------------------------------------------------------------------------
// Shared state
// ---------------------------------------------------------------------------

// base carries the universal project and the raw upload.
type base struct {
	name    string
	payload []byte
	project *model.TranslationProject
}

func (b *base) Project() *model.TranslationProject { return b.project }

func (b *base) Resource(id string) (*model.TranslationResource, error) {
	if b.project == nil {
		return nil, model.ErrNotLoaded
	}
	return b.project.Resource(id)
}

func (b *base) lookup(u model.EntryUpdate) (*model.TranslationEntry, error) {
	r, err := b.Resource(u.ResourceID)
	if err != nil {
		return nil, err
	}
	return r.Entry(u.EntryID)
}

func (b *base) UpdateEntry(u model.EntryUpdate) error {
	e, err := b.lookup(u)
	if err != nil {
		return err
	}
	u.Apply(e)
	return nil
}

func (b *base) UpdateEntries(batch []model.EntryUpdate) error {
	entries := make([]*model.TranslationEntry, len(batch))
	for i, u := range batch {
		e, err := b.lookup(u)
		if err != nil {
			return fmt.Errorf("update %d: %w", i, err)
		}
		entries[i] = e
	}
	for i, u := range batch {
		u.Apply(entries[i])
	}
	return nil
}

func (b *base) reset(payload []byte, name string) {
	b.name = name
	b.payload = bytes.Clone(payload)
	b.project = nil
}

func (b *base) loaded() error {
	if b.project == nil {
		return model.ErrNotLoaded
	}
	return nil
}

// fileName is the resource id and export name of single-file formats.
func (b *base) fileName(fallback string) string {
	if b.name != "" {
		return path.Base(b.name)
	}
	return fallback
}

// resolve returns the export text of a target.
func resolve(r *glossary.Resolver, target string) string {
	if target == "" {
		return ""
	}
	return r.Resolve(target)
}

func parseError(format Format, err error) error {
	pe := &model.ParseError{Format: string(format), Err: err}
	var poErr *pofile.SyntaxError
	var subErr *subtitle.SyntaxError
	switch {
	case errors.As(err, &poErr):
		pe.Line, pe.Msg = poErr.Line, poErr.Msg
	case errors.As(err, &subErr):
		pe.Line, pe.Msg = subErr.Line, subErr.Msg
	}
	return pe
}

// ---------------------------------------------------------------------------
// Metadata blob
// ---------------------------------------------------------------------------

// blob is the persisted format state. Payload holds the original upload;
// the remaining fields are adapter flags.
type blob struct {
	Version   int    `json:"version"`
	Format    Format `json:"format"`
	Name      string `json:"name"`
	Payload   []byte `json:"payload"`
	HashBased bool   `json:"hashBased,omitempty"`
	Reference []byte `json:"reference,omitempty"`
}

const blobVersion = 1

func (b *base) blob(f Format) blob {
	return blob{Version: blobVersion, Format: f, Name: b.name, Payload: b.payload}
}

func marshalBlob(v blob) ([]byte, error) {
	if v.Payload == nil {
		return nil, model.ErrNotLoaded
	}
	return json.Marshal(v)
}

// Restore rebuilds an adapter from a persisted project and its metadata
// blob. Target texts and comments are re-applied from the project.
func Restore(format Format, projectJSON, metadata []byte) (Adapter, error) {
	var meta blob
	if err := json.Unmarshal(metadata, &meta); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	if meta.Version != blobVersion {
		return nil, fmt.Errorf("unsupported metadata version %d", meta.Version)
	}
	if meta.Format != "" && format != "" && meta.Format != format {
		return nil, fmt.Errorf("metadata is for format %q, not %q", meta.Format, format)
	}
	if format == "" {
		format = meta.Format
	}
	a, err := New(format)
	if err != nil {
		return nil, err
	}
	if err := a.Load(meta.Payload, meta.Name); err != nil {
		return nil, err
	}
	if po, ok := a.(*POAdapter); ok && len(meta.Reference) > 0 {
		if err := po.ApplyReference(meta.Reference); err != nil {
			return nil, fmt.Errorf("re-applying reference: %w", err)
		}
	}

	if len(projectJSON) == 0 {
		return a, nil
	}
	var saved model.TranslationProject
	if err := json.Unmarshal(projectJSON, &saved); err != nil {
		return nil, fmt.Errorf("decoding project: %w", err)
	}
	var updates []model.EntryUpdate
	for _, r := range saved.Resources {
		cur, err := a.Resource(r.ID)
		if err != nil {
			continue
		}
		for _, e := range r.Entries {
			if _, err := cur.Entry(e.ID); err != nil {
				continue
			}
			target, comment := e.TargetText, e.Comment
			updates = append(updates, model.EntryUpdate{
				ResourceID: r.ID, EntryID: e.ID, TargetText: &target, Comment: &comment,
			})
		}
	}
	if err := a.UpdateEntries(updates); err != nil {
		return nil, err
	}
	return a, nil
}
