// Package subtitle reads and writes WebVTT and SubRip cue files.
//
// A parsed File keeps its source bytes: Bytes splices edited cue texts into
// the original and leaves everything else untouched, while Render produces
// the canonical form of either format.
package subtitle

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the cue file dialect.
type Kind string

const (
	VTT Kind = "vtt"
	SRT Kind = "srt"
)

const bom = "\ufeff"

// Cue is a single timed text block.
type Cue struct {
	// ID is the optional WebVTT cue identifier.
	ID string
	// Index is the 1-based position of the cue in the file.
	Index int
	// Start and End are offsets in milliseconds.
	Start, End int64
	// Settings is the text after the end timestamp on the timing line.
	Settings string
	// Text is the cue payload; lines are joined with "\n".
	Text string

	// Byte span of the text in the source. When the cue had no text,
	// textStart == textEnd marks the end of the timing line.
	textStart, textEnd int
	origText           string
}

// Timing returns the canonical timing line without settings.
func (c *Cue) Timing() string {
	return MsToTimestamp(c.Start) + " --> " + MsToTimestamp(c.End)
}

// File is a parsed cue file.
type File struct {
	Kind Kind
	// Header is the WebVTT signature block, including any header lines.
	Header string
	Cues   []*Cue

	src string
	eol string
}

// SyntaxError reports malformed cue input.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// ---------------------------------------------------------------------------
// Timestamps
// ---------------------------------------------------------------------------

// TimestampToMs parses HH:MM:SS.mmm or MM:SS.mmm. A comma is accepted as
// the fraction separator.
func TimestampToMs(ts string) (int64, error) {
	ts = strings.TrimSpace(ts)
	clock, frac, ok := strings.Cut(strings.Replace(ts, ",", ".", 1), ".")
	if !ok || frac == "" || len(frac) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", ts)
	}
	parts := strings.Split(clock, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", ts)
	}

	var fields []int64
	for i, p := range parts {
		if p == "" || (i > 0 && len(p) != 2) {
			return 0, fmt.Errorf("invalid timestamp %q", ts)
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", ts)
		}
		fields = append(fields, n)
	}
	if len(fields) == 2 {
		fields = append([]int64{0}, fields...)
	}
	h, m, s := fields[0], fields[1], fields[2]
	if m > 59 || s > 59 {
		return 0, fmt.Errorf("invalid timestamp %q", ts)
	}

	ms, err := strconv.ParseInt(frac+strings.Repeat("0", 3-len(frac)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", ts)
	}
	return ((h*60+m)*60+s)*1000 + ms, nil
}

// MsToTimestamp formats ms as HH:MM:SS.mmm.
func MsToTimestamp(ms int64) string {
	return formatMs(ms, '.')
}

// MsToSRTTimestamp formats ms as HH:MM:SS,mmm.
func MsToSRTTimestamp(ms int64) string {
	return formatMs(ms, ',')
}

func formatMs(ms int64, sep byte) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms%1000)
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

type line struct {
	text  string // without terminator
	start int    // offset of text in src
	num   int
}

func splitLines(src string, offset int) ([]line, string) {
	var out []line
	eol := ""
	num := 1
	for pos := offset; pos < len(src); num++ {
		i := strings.IndexByte(src[pos:], '\n')
		end, next := len(src), len(src)
		if i >= 0 {
			end, next = pos+i, pos+i+1
		}
		text := src[pos:end]
		if strings.HasSuffix(text, "\r") {
			text = text[:len(text)-1]
			if eol == "" {
				eol = "\r\n"
			}
		} else if i >= 0 && eol == "" {
			eol = "\n"
		}
		out = append(out, line{text: text, start: pos, num: num})
		pos = next
	}
	if eol == "" {
		eol = "\n"
	}
	return out, eol
}

// Parse reads a cue file. The kind is taken from the WEBVTT signature;
// files without it are read as SubRip.
func Parse(data []byte) (*File, error) {
	return parse(string(data), "")
}

// ParseKind reads a cue file of a known kind. A .vtt file without the
// WEBVTT signature is an error.
func ParseKind(data []byte, kind Kind) (*File, error) {
	return parse(string(data), kind)
}

func parse(src string, want Kind) (*File, error) {
	offset := 0
	if strings.HasPrefix(src, bom) {
		offset = len(bom)
	}
	lines, eol := splitLines(src, offset)
	f := &File{src: src, eol: eol, Kind: SRT}

	// Group non-blank lines into blocks.
	var blocks [][]line
	var cur []line
	for _, l := range lines {
		if strings.TrimSpace(l.text) == "" {
			if cur != nil {
				blocks = append(blocks, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, l)
	}
	if cur != nil {
		blocks = append(blocks, cur)
	}

	if len(blocks) > 0 && isSignature(blocks[0][0].text) {
		f.Kind = VTT
		var hdr []string
		for _, l := range blocks[0] {
			hdr = append(hdr, l.text)
		}
		f.Header = strings.Join(hdr, "\n")
		blocks = blocks[1:]
	} else if want == VTT {
		num := 1
		if len(lines) > 0 {
			num = lines[0].num
		}
		return nil, &SyntaxError{Line: num, Msg: "missing WEBVTT signature"}
	}

	for _, b := range blocks {
		if f.Kind == VTT && isMetadataBlock(b[0].text) {
			continue
		}
		cue, err := parseCue(b, f.Kind)
		if err != nil {
			return nil, err
		}
		if cue == nil {
			continue
		}
		cue.Index = len(f.Cues) + 1
		f.Cues = append(f.Cues, cue)
	}
	return f, nil
}

func isSignature(s string) bool {
	s = strings.TrimSpace(s)
	return s == "WEBVTT" || strings.HasPrefix(s, "WEBVTT ") || strings.HasPrefix(s, "WEBVTT\t")
}

func isMetadataBlock(s string) bool {
	s = strings.TrimSpace(s)
	for _, kw := range []string{"NOTE", "STYLE", "REGION"} {
		if s == kw || strings.HasPrefix(s, kw+" ") || strings.HasPrefix(s, kw+"\t") {
			return true
		}
	}
	return false
}

// parseCue reads one block. Blocks without a timing line yield nil.
func parseCue(b []line, kind Kind) (*Cue, error) {
	timingAt := -1
	for i, l := range b {
		if strings.Contains(l.text, "-->") {
			timingAt = i
			break
		}
	}
	if timingAt < 0 {
		return nil, nil
	}
	if timingAt > 1 {
		return nil, &SyntaxError{Line: b[timingAt].num, Msg: "unexpected lines before timing line"}
	}

	cue := &Cue{}
	if timingAt == 1 && kind == VTT {
		cue.ID = strings.TrimSpace(b[0].text)
	}

	tl := b[timingAt]
	left, right, _ := strings.Cut(strings.TrimSpace(tl.text), "-->")
	start, err := TimestampToMs(left)
	if err != nil {
		return nil, &SyntaxError{Line: tl.num, Msg: err.Error()}
	}
	right = strings.TrimSpace(right)
	endTs, settings := right, ""
	if i := strings.IndexAny(right, " \t"); i >= 0 {
		endTs, settings = right[:i], right[i+1:]
	}
	end, err := TimestampToMs(endTs)
	if err != nil {
		return nil, &SyntaxError{Line: tl.num, Msg: err.Error()}
	}
	cue.Start, cue.End = start, end
	cue.Settings = strings.TrimSpace(settings)

	text := b[timingAt+1:]
	if len(text) == 0 {
		cue.textStart = tl.start + len(tl.text)
		cue.textEnd = cue.textStart
		return cue, nil
	}
	var parts []string
	for _, l := range text {
		parts = append(parts, l.text)
	}
	cue.Text = strings.Join(parts, "\n")
	cue.origText = cue.Text
	last := text[len(text)-1]
	cue.textStart = text[0].start
	cue.textEnd = last.start + len(last.text)
	return cue, nil
}

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

// cueLines joins text lines with eol, dropping blank lines that would end
// the cue early.
func cueLines(text, eol string) string {
	var out []string
	for _, l := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, eol)
}

// Bytes returns the source with edited cue texts spliced in. Unedited
// files are returned byte for byte.
func (f *File) Bytes() []byte {
	var b strings.Builder
	pos := 0
	for _, c := range f.Cues {
		if c.Text == c.origText {
			continue
		}
		b.WriteString(f.src[pos:c.textStart])
		text := cueLines(c.Text, f.eol)
		if c.textStart == c.textEnd && text != "" {
			b.WriteString(f.eol)
		}
		b.WriteString(text)
		pos = c.textEnd
	}
	b.WriteString(f.src[pos:])
	return []byte(b.String())
}

// Render writes the canonical form of the cues in the given kind.
// Rendering a parsed canonical file reproduces it exactly.
func (f *File) Render(kind Kind) []byte {
	var b strings.Builder
	if kind == VTT {
		header := f.Header
		if header == "" {
			header = "WEBVTT"
		}
		b.WriteString(header)
		b.WriteString("\n\n")
	}
	for i, c := range f.Cues {
		if i > 0 {
			b.WriteString("\n")
		}
		switch kind {
		case VTT:
			if c.ID != "" {
				b.WriteString(c.ID + "\n")
			}
			b.WriteString(c.Timing())
			if c.Settings != "" {
				b.WriteString(" " + c.Settings)
			}
		default:
			fmt.Fprintf(&b, "%d\n%s --> %s", i+1, MsToSRTTimestamp(c.Start), MsToSRTTimestamp(c.End))
		}
		b.WriteString("\n")
		if text := cueLines(c.Text, "\n"); text != "" {
			b.WriteString(text + "\n")
		}
	}
	return []byte(b.String())
}

// Canonical renders the file in its own kind.
func (f *File) Canonical() []byte {
	return f.Render(f.Kind)
}
