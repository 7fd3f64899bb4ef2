// Package docfile implements reading and writing of plain documents
// (Markdown or text) for translation.
//
// Each document is split into translatable segments:
//
//   - Front matter fields (YAML between --- delimiters) whose value is a
//     single-line string become segments with keys like "fm:title".
//
//   - The body is split into headings and blank-line separated paragraphs,
//     stored as segments with keys "sec:0", "sec:1", ...
//
//   - Fenced code blocks (``` or ~~~) and thematic breaks are never
//     extracted.
//
// Marshal splices changed segments into the original bytes, so an
// unmodified file is reproduced exactly.
package docfile

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const bom = "\ufeff"

// ---------------------------------------------------------------------------
// Segment model
// ---------------------------------------------------------------------------

// Kind classifies a segment.
type Kind string

const (
	FrontMatter Kind = "frontmatter"
	Heading     Kind = "heading"
	Paragraph   Kind = "paragraph"
)

// Segment is a single translatable unit extracted from the document.
type Segment struct {
	// Key identifies this segment (e.g. "fm:title", "sec:0").
	Key   string
	Kind  Kind
	Value string

	orig       string
	start, end int
	style      yaml.Style
}

// Source returns the segment text as parsed.
func (s *Segment) Source() string { return s.orig }

// File is a parsed document.
type File struct {
	segments []*Segment
	index    map[string]int
	src      string
	eol      string
	sections int
	// FrontMatter is true if the source has a YAML front matter block.
	FrontMatter bool
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

var (
	fenceLine    = regexp.MustCompile("^ {0,3}(`{3,}|~{3,})")
	headingLine  = regexp.MustCompile(`^ {0,3}(#{1,6})[ \t]+(.*?)[ \t]*$`)
	thematicLine = regexp.MustCompile(`^ {0,3}([-*_])([ \t]*[-*_]){2,}[ \t]*$`)
)

type line struct {
	text  string
	start int
}

func splitLines(src string, from int) []line {
	var out []line
	for pos := from; pos < len(src); {
		i := strings.IndexByte(src[pos:], '\n')
		end, next := len(src), len(src)
		if i >= 0 {
			end, next = pos+i, pos+i+1
		}
		out = append(out, line{text: strings.TrimSuffix(src[pos:end], "\r"), start: pos})
		pos = next
	}
	return out
}

// ParseFile reads and parses a document.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses document data into a File.
func Parse(data []byte) (*File, error) {
	src := string(data)
	f := &File{index: make(map[string]int), src: src, eol: "\n"}
	if strings.Contains(src, "\r\n") {
		f.eol = "\r\n"
	}

	body := 0
	if strings.HasPrefix(src, bom) {
		body = len(bom)
	}
	lines := splitLines(src, body)

	// --- Front matter ---
	if len(lines) > 0 && lines[0].text == "---" {
		for i := 1; i < len(lines); i++ {
			if lines[i].text != "---" {
				continue
			}
			if err := f.parseFrontMatter(src, lines[1].start, lines[i].start); err != nil {
				return nil, err
			}
			f.FrontMatter = true
			lines = lines[i+1:]
			break
		}
	}

	// --- Body ---
	var para []line
	flush := func() {
		if len(para) == 0 {
			return
		}
		texts := make([]string, len(para))
		for i, l := range para {
			texts[i] = l.text
		}
		last := para[len(para)-1]
		f.add(Paragraph, strings.Join(texts, "\n"), para[0].start, last.start+len(last.text), 0)
		para = nil
	}

	fence := ""
	for _, l := range lines {
		if fence != "" {
			if m := fenceLine.FindStringSubmatch(l.text); m != nil && m[1][0] == fence[0] && len(m[1]) >= len(fence) &&
				strings.TrimSpace(l.text[len(m[0]):]) == "" {
				fence = ""
			}
			continue
		}
		if m := fenceLine.FindStringSubmatch(l.text); m != nil {
			flush()
			fence = m[1]
			continue
		}
		if strings.TrimSpace(l.text) == "" || thematicLine.MatchString(l.text) {
			flush()
			continue
		}
		if m := headingLine.FindStringSubmatchIndex(l.text); m != nil {
			flush()
			text := l.text[m[4]:m[5]]
			// Closing hashes are part of the syntax.
			if t := strings.TrimRight(text, "#"); t != text && (t == "" || strings.HasSuffix(t, " ")) {
				text = strings.TrimRight(t, " \t")
			}
			if text != "" {
				f.add(Heading, text, l.start+m[4], l.start+m[4]+len(text), 0)
			}
			continue
		}
		para = append(para, l)
	}
	flush()
	return f, nil
}

func (f *File) add(kind Kind, value string, start, end int, style yaml.Style) {
	f.addKey(fmt.Sprintf("sec:%d", f.sections), kind, value, start, end, style)
	f.sections++
}

func (f *File) addKey(key string, kind Kind, value string, start, end int, style yaml.Style) {
	f.index[key] = len(f.segments)
	f.segments = append(f.segments, &Segment{
		Key: key, Kind: kind, Value: value, orig: value,
		start: start, end: end, style: style,
	})
}

// parseFrontMatter records single-line string fields of the YAML block
// src[start:end].
func (f *File) parseFrontMatter(src string, start, end int) error {
	block := src[start:end]
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(block), &doc); err != nil {
		return fmt.Errorf("parsing front matter: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil
	}
	blockLines := splitLines(block, 0)
	root := doc.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		if val.Kind != yaml.ScalarNode || val.ShortTag() != "!!str" || val.Value == "" {
			continue
		}
		if val.Style&(yaml.LiteralStyle|yaml.FoldedStyle) != 0 || strings.Contains(val.Value, "\n") {
			continue
		}
		if val.Line < 1 || val.Line > len(blockLines) {
			continue
		}
		ln := blockLines[val.Line-1]
		col := runeOffset(ln.text, val.Column-1)
		if col < 0 {
			continue
		}
		n := scalarLength(ln.text[col:], val.Style)
		if n <= 0 {
			continue
		}
		if val.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle) == 0 && strings.TrimSpace(ln.text[col:col+n]) != val.Value {
			// Plain scalar folded over several lines.
			continue
		}
		from := start + ln.start + col
		f.addKey("fm:"+key.Value, FrontMatter, val.Value, from, from+n, val.Style)
	}
	return nil
}

func runeOffset(s string, runes int) int {
	n := 0
	for i := range s {
		if n == runes {
			return i
		}
		n++
	}
	if n == runes {
		return len(s)
	}
	return -1
}

// scalarLength returns the byte length of the scalar token at the start
// of s, or -1 when it does not end on this line.
func scalarLength(s string, style yaml.Style) int {
	switch {
	case style&yaml.DoubleQuotedStyle != 0:
		for i := 1; i < len(s); i++ {
			switch s[i] {
			case '\\':
				i++
			case '"':
				return i + 1
			}
		}
		return -1
	case style&yaml.SingleQuotedStyle != 0:
		for i := 1; i < len(s); i++ {
			if s[i] == '\'' {
				if i+1 < len(s) && s[i+1] == '\'' {
					i++
					continue
				}
				return i + 1
			}
		}
		return -1
	}
	end := len(s)
	if i := strings.Index(s, " #"); i >= 0 {
		end = i
	}
	return len(strings.TrimRight(s[:end], " \t"))
}

// ---------------------------------------------------------------------------
// Querying
// ---------------------------------------------------------------------------

// Segments returns all segments in document order.
func (f *File) Segments() []*Segment { return f.segments }

// Keys returns all segment keys in document order.
func (f *File) Keys() []string {
	keys := make([]string, len(f.segments))
	for i, s := range f.segments {
		keys[i] = s.Key
	}
	return keys
}

// Get returns the current value for the given key.
func (f *File) Get(key string) (string, bool) {
	idx, ok := f.index[key]
	if !ok {
		return "", false
	}
	return f.segments[idx].Value, true
}

// Set updates the value for the given key.
// Returns false if the key is not found.
func (f *File) Set(key, value string) bool {
	idx, ok := f.index[key]
	if !ok {
		return false
	}
	f.segments[idx].Value = value
	return true
}

// ---------------------------------------------------------------------------
// Marshaling
// ---------------------------------------------------------------------------

// Marshal returns the document with changed segments spliced in.
func (f *File) Marshal() []byte {
	changed := make([]*Segment, 0, len(f.segments))
	for _, s := range f.segments {
		if s.Value != s.orig {
			changed = append(changed, s)
		}
	}
	if len(changed) == 0 {
		return []byte(f.src)
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].start < changed[j].start })

	var b strings.Builder
	pos := 0
	for _, s := range changed {
		b.WriteString(f.src[pos:s.start])
		b.WriteString(f.render(s))
		pos = s.end
	}
	b.WriteString(f.src[pos:])
	return []byte(b.String())
}

func (f *File) render(s *Segment) string {
	switch s.Kind {
	case FrontMatter:
		return renderScalar(s.Value, s.style)
	case Heading:
		return strings.Join(strings.Fields(s.Value), " ")
	}
	var lines []string
	for _, l := range strings.Split(strings.ReplaceAll(s.Value, "\r\n", "\n"), "\n") {
		// A blank line would split the paragraph on the next parse.
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, f.eol)
}

// renderScalar encodes a single-line YAML value in the original quoting
// style where possible.
func renderScalar(v string, style yaml.Style) string {
	switch {
	case style&yaml.DoubleQuotedStyle != 0:
		return strconv.Quote(v)
	case style&yaml.SingleQuotedStyle != 0 && !strings.ContainsAny(v, "\n\r"):
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return strconv.Quote(v)
	}
	s := strings.TrimSuffix(string(out), "\n")
	if strings.Contains(s, "\n") {
		return strconv.Quote(v)
	}
	return s
}

// WriteFile serialises the file and writes it to the given path.
func (f *File) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, f.Marshal(), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Stats returns (total, changed, percent).
func (f *File) Stats() (int, int, float64) {
	total := len(f.segments)
	changed := 0
	for _, s := range f.segments {
		if s.Value != s.orig {
			changed++
		}
	}
	pct := 0.0
	if total > 0 {
		pct = float64(changed) / float64(total) * 100
	}
	return total, changed, pct
}
