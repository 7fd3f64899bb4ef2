// Package pofile implements reading and writing of PO/POT files
// following the GNU gettext format specification.
//
// Parsed files remember their original bytes. Write reproduces untouched
// entries exactly and regenerates only the msgstr lines and translator
// comments of entries whose values changed since parsing.
package pofile

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"sort"
	"strings"
)

const bom = "\ufeff"

// Entry represents a single translatable message in a PO file.
type Entry struct {
	// TranslatorComments are lines starting with "# " (translator comments).
	TranslatorComments []string
	// ExtractedComments are lines starting with "#." (extracted/automatic comments).
	ExtractedComments []string
	// References are source code locations, lines starting with "#:".
	References []string
	// Flags are format flags, lines starting with "#,".
	Flags []string
	// PreviousMsgID stores the previous msgid for fuzzy entries, lines starting with "#|".
	PreviousMsgID string

	// MsgCtxt is the message context (msgctxt).
	MsgCtxt string
	// MsgID is the untranslated string.
	MsgID string
	// MsgIDPlural is the untranslated plural string.
	MsgIDPlural string
	// MsgStr is the translated string (singular or the only form).
	MsgStr string
	// MsgStrPlural maps plural form index to translated string.
	MsgStrPlural map[int]string

	// Obsolete marks entries prefixed with "#~".
	Obsolete bool

	src *source
}

// source is the original text of a parsed entry and the snapshot of its
// editable values.
type source struct {
	lines []string // with line terminators
	eol   string

	// Half-open range of msgstr lines within lines; start is -1 when the
	// entry had no msgstr.
	msgstrStart, msgstrEnd int
	// Indices of translator comment lines.
	commentLines []int

	msgstr       string
	msgstrPlural map[int]string
	comments     []string
}

// Key returns the identity of the entry within its file: the msgid,
// prefixed by the context and an EOT byte when a context is present.
func (e *Entry) Key() string {
	if e.MsgCtxt != "" {
		return e.MsgCtxt + "\x04" + e.MsgID
	}
	return e.MsgID
}

// IsTranslated returns true if the entry has a non-empty translation.
func (e *Entry) IsTranslated() bool {
	if e.MsgID == "" {
		return false // header entry
	}
	if e.IsFuzzy() {
		return false
	}
	if e.MsgIDPlural != "" {
		for _, v := range e.MsgStrPlural {
			if v == "" {
				return false
			}
		}
		return len(e.MsgStrPlural) > 0
	}
	return e.MsgStr != ""
}

// IsFuzzy returns true if the entry is marked fuzzy.
func (e *Entry) IsFuzzy() bool {
	return e.HasFlag("fuzzy")
}

// HasFlag checks if a specific flag is present.
func (e *Entry) HasFlag(flag string) bool {
	return slices.Contains(e.Flags, flag)
}

// modified reports whether any editable value differs from the parsed one.
func (e *Entry) modified() bool {
	s := e.src
	if s == nil {
		return true
	}
	return e.MsgStr != s.msgstr ||
		!maps.Equal(e.MsgStrPlural, s.msgstrPlural) ||
		!slices.Equal(e.TranslatorComments, s.comments)
}

// File represents a parsed PO/POT file.
type File struct {
	// Header is the metadata entry (msgid "").
	Header *Entry
	// Entries are the translatable message entries.
	Entries []*Entry

	bom    bool
	layout []block
}

// block is either verbatim text between entries or an entry.
type block struct {
	raw   string
	entry *Entry
}

// NewFile creates a new empty PO file.
func NewFile() *File {
	return &File{
		Header:  &Entry{MsgStrPlural: map[int]string{}},
		Entries: make([]*Entry, 0),
	}
}

// HeaderField returns a header field value by name.
func (f *File) HeaderField(name string) string {
	if f.Header == nil {
		return ""
	}
	for _, line := range strings.Split(f.Header.MsgStr, "\n") {
		if idx := strings.Index(line, ":"); idx > 0 {
			key := strings.TrimSpace(line[:idx])
			if strings.EqualFold(key, name) {
				return strings.TrimSpace(line[idx+1:])
			}
		}
	}
	return ""
}

// SetHeaderField sets a header field value.
func (f *File) SetHeaderField(name, value string) {
	if f.Header == nil {
		f.Header = &Entry{MsgStrPlural: map[int]string{}}
	}

	lines := strings.Split(f.Header.MsgStr, "\n")
	found := false
	for i, line := range lines {
		if idx := strings.Index(line, ":"); idx > 0 {
			key := strings.TrimSpace(line[:idx])
			if strings.EqualFold(key, name) {
				lines[i] = name + ": " + value
				found = true
				break
			}
		}
	}
	if !found {
		// Insert before trailing empty line
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = append(lines[:len(lines)-1], name+": "+value, "")
		} else {
			lines = append(lines, name+": "+value)
		}
	}
	f.Header.MsgStr = strings.Join(lines, "\n")
}

// Language returns the Language header, normalized to a BCP 47 style tag.
func (f *File) Language() string {
	return strings.ReplaceAll(f.HeaderField("Language"), "_", "-")
}

// EntryByKey finds an active entry by Key.
func (f *File) EntryByKey(key string) *Entry {
	for _, e := range f.Entries {
		if !e.Obsolete && e.Key() == key {
			return e
		}
	}
	return nil
}

// ActiveEntries returns the non-obsolete entries in file order.
func (f *File) ActiveEntries() []*Entry {
	out := make([]*Entry, 0, len(f.Entries))
	for _, e := range f.Entries {
		if !e.Obsolete && e.MsgID != "" {
			out = append(out, e)
		}
	}
	return out
}

// Stats returns translation statistics.
func (f *File) Stats() (total, translated, fuzzy, untranslated int) {
	for _, e := range f.ActiveEntries() {
		total++
		if e.IsFuzzy() {
			fuzzy++
		} else if e.IsTranslated() {
			translated++
		} else {
			untranslated++
		}
	}
	return
}

// NPlurals returns the nplurals value of the Plural-Forms header, or 2.
func (f *File) NPlurals() int {
	pf := f.HeaderField("Plural-Forms")
	if i := strings.Index(pf, "nplurals="); i >= 0 {
		var n int
		if _, err := fmt.Sscanf(pf[i:], "nplurals=%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return 2
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

// SyntaxError reports malformed PO input.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// splitLines splits data into lines that keep their terminators.
func splitLines(data string) []string {
	var lines []string
	for len(data) > 0 {
		i := strings.IndexByte(data, '\n')
		if i < 0 {
			lines = append(lines, data)
			break
		}
		lines = append(lines, data[:i+1])
		data = data[i+1:]
	}
	return lines
}

func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

func eolOf(line string) string {
	switch {
	case strings.HasSuffix(line, "\r\n"):
		return "\r\n"
	case strings.HasSuffix(line, "\n"):
		return "\n"
	}
	return ""
}

// Parse reads a PO/POT file from a reader.
func Parse(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading PO file: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes parses a PO/POT document held in memory.
func ParseBytes(data []byte) (*File, error) {
	f := NewFile()
	f.layout = []block{}
	text := string(data)
	if strings.HasPrefix(text, bom) {
		f.bom = true
		text = text[len(bom):]
	}

	var current *Entry
	var lastField string // tracks the last msgid/msgstr/etc. field for multiline strings
	var pending strings.Builder
	headerSeen := false

	flush := func() {
		if current == nil {
			return
		}
		s := current.src
		s.msgstr = current.MsgStr
		s.msgstrPlural = maps.Clone(current.MsgStrPlural)
		s.comments = slices.Clone(current.TranslatorComments)
		if current.MsgID == "" && current.MsgCtxt == "" && !current.Obsolete && !headerSeen {
			f.Header = current
			headerSeen = true
		} else {
			f.Entries = append(f.Entries, current)
		}
		f.layout = append(f.layout, block{entry: current})
		current = nil
		lastField = ""
	}
	flushRaw := func() {
		if pending.Len() > 0 {
			f.layout = append(f.layout, block{raw: pending.String()})
			pending.Reset()
		}
	}

	for i, rawLine := range splitLines(text) {
		lineNum := i + 1
		line := trimEOL(rawLine)

		// Empty line separates entries
		if strings.TrimSpace(line) == "" {
			flush()
			pending.WriteString(rawLine)
			continue
		}

		// A new entry may follow a msgstr without a separating blank line.
		if current != nil && strings.HasPrefix(lastField, "msgstr") && startsEntry(line) {
			flush()
		}

		if current == nil {
			flushRaw()
			current = &Entry{
				MsgStrPlural: make(map[int]string),
				src:          &source{eol: eolOf(rawLine), msgstrStart: -1},
			}
			if current.src.eol == "" {
				current.src.eol = "\n"
			}
		}
		s := current.src
		idx := len(s.lines)
		s.lines = append(s.lines, rawLine)
		line = strings.TrimLeft(line, " \t")

		// Handle obsolete entries
		if strings.HasPrefix(line, "#~") {
			current.Obsolete = true
			line = strings.TrimLeft(line[2:], " ")
			if !strings.HasPrefix(line, "msg") && !strings.HasPrefix(line, "\"") {
				continue
			}
		}

		// Comment lines
		if strings.HasPrefix(line, "#") {
			switch {
			case strings.HasPrefix(line, "#:"):
				current.References = append(current.References, strings.TrimSpace(line[2:]))
			case strings.HasPrefix(line, "#,"):
				for _, flag := range strings.Split(line[2:], ",") {
					if flag = strings.TrimSpace(flag); flag != "" {
						current.Flags = append(current.Flags, flag)
					}
				}
			case strings.HasPrefix(line, "#."):
				current.ExtractedComments = append(current.ExtractedComments, strings.TrimSpace(line[2:]))
			case strings.HasPrefix(line, "#|"):
				prev := strings.TrimSpace(line[2:])
				if strings.HasPrefix(prev, "msgid ") {
					current.PreviousMsgID = unquote(strings.TrimPrefix(prev, "msgid "))
				}
			default:
				comment := strings.TrimPrefix(line[1:], " ")
				current.TranslatorComments = append(current.TranslatorComments, comment)
				s.commentLines = append(s.commentLines, idx)
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "msgctxt "):
			v, err := parseQuoted(strings.TrimPrefix(line, "msgctxt "), lineNum)
			if err != nil {
				return nil, err
			}
			current.MsgCtxt = v
			lastField = "msgctxt"
		case strings.HasPrefix(line, "msgid_plural "):
			v, err := parseQuoted(strings.TrimPrefix(line, "msgid_plural "), lineNum)
			if err != nil {
				return nil, err
			}
			current.MsgIDPlural = v
			lastField = "msgid_plural"
		case strings.HasPrefix(line, "msgid "):
			if lastField != "" && lastField != "msgctxt" {
				return nil, &SyntaxError{Line: lineNum, Msg: "duplicate msgid in entry"}
			}
			v, err := parseQuoted(strings.TrimPrefix(line, "msgid "), lineNum)
			if err != nil {
				return nil, err
			}
			current.MsgID = v
			lastField = "msgid"
		case strings.HasPrefix(line, "msgstr["):
			var n int
			if c, err := fmt.Sscanf(line, "msgstr[%d]", &n); err != nil || c != 1 {
				return nil, &SyntaxError{Line: lineNum, Msg: "invalid msgstr index: " + line}
			}
			v, err := parseQuoted(line[strings.Index(line, "]")+1:], lineNum)
			if err != nil {
				return nil, err
			}
			current.MsgStrPlural[n] = v
			lastField = fmt.Sprintf("msgstr[%d]", n)
			markMsgstr(s, idx)
		case strings.HasPrefix(line, "msgstr ") || line == "msgstr":
			v, err := parseQuoted(strings.TrimPrefix(line, "msgstr"), lineNum)
			if err != nil {
				return nil, err
			}
			current.MsgStr = v
			lastField = "msgstr"
			markMsgstr(s, idx)
		case strings.HasPrefix(line, "\""):
			val, err := parseQuoted(line, lineNum)
			if err != nil {
				return nil, err
			}
			switch {
			case lastField == "msgctxt":
				current.MsgCtxt += val
			case lastField == "msgid":
				current.MsgID += val
			case lastField == "msgid_plural":
				current.MsgIDPlural += val
			case lastField == "msgstr":
				current.MsgStr += val
				markMsgstr(s, idx)
			case strings.HasPrefix(lastField, "msgstr["):
				var n int
				fmt.Sscanf(lastField, "msgstr[%d]", &n)
				current.MsgStrPlural[n] += val
				markMsgstr(s, idx)
			default:
				return nil, &SyntaxError{Line: lineNum, Msg: "string continuation without keyword"}
			}
		default:
			return nil, &SyntaxError{Line: lineNum, Msg: "unexpected content: " + line}
		}
	}

	flush()
	flushRaw()
	return f, nil
}

// parseQuoted unquotes a keyword value, rejecting unterminated strings.
func parseQuoted(s string, lineNum int) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' || (strings.HasSuffix(s, `\"`) && !strings.HasSuffix(s, `\\"`)) {
		return "", &SyntaxError{Line: lineNum, Msg: "unterminated string: " + s}
	}
	return unquote(s), nil
}

func startsEntry(line string) bool {
	line = strings.TrimLeft(line, " \t")
	return strings.HasPrefix(line, "#") || strings.HasPrefix(line, "msgctxt ") || strings.HasPrefix(line, "msgid ")
}

func markMsgstr(s *source, idx int) {
	if s.msgstrStart < 0 {
		s.msgstrStart = idx
	}
	s.msgstrEnd = idx + 1
}

// ParseFile reads a PO/POT file from disk.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBytes(data)
}

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

// Bytes renders the file.
func (f *File) Bytes() []byte {
	var buf bytes.Buffer
	f.Write(&buf)
	return buf.Bytes()
}

// Write writes the PO file to a writer.
func (f *File) Write(w io.Writer) error {
	var b strings.Builder
	if f.bom {
		b.WriteString(bom)
	}

	if f.layout == nil {
		if f.Header != nil {
			writeEntry(&b, f.Header, "\n")
		}
		for _, e := range f.Entries {
			b.WriteString("\n")
			writeEntry(&b, e, "\n")
		}
	} else {
		written := make(map[*Entry]bool, len(f.Entries)+1)
		for _, blk := range f.layout {
			if blk.entry == nil {
				b.WriteString(blk.raw)
				continue
			}
			written[blk.entry] = true
			writeParsed(&b, blk.entry)
		}
		// Entries appended after parsing go to the end.
		for _, e := range f.Entries {
			if written[e] {
				continue
			}
			out := b.String()
			if !strings.HasSuffix(out, "\n") {
				b.WriteString("\n")
			}
			if !strings.HasSuffix(out, "\n\n") {
				b.WriteString("\n")
			}
			writeEntry(&b, e, "\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteFile writes the PO file to disk.
func (f *File) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// writeParsed writes a parsed entry, regenerating only changed parts.
func writeParsed(b *strings.Builder, e *Entry) {
	s := e.src
	if !e.modified() {
		for _, l := range s.lines {
			b.WriteString(l)
		}
		return
	}

	commentsChanged := !slices.Equal(e.TranslatorComments, s.comments)
	msgstrChanged := e.MsgStr != s.msgstr || !maps.Equal(e.MsgStrPlural, s.msgstrPlural)
	lastTerminated := eolOf(s.lines[len(s.lines)-1]) != ""

	var out []string
	emitComments := func() {
		for _, c := range e.TranslatorComments {
			out = append(out, "# "+c+s.eol)
		}
	}
	emitMsgstr := func() {
		var sb strings.Builder
		writeMsgstr(&sb, e, obsoletePrefix(e), s.eol)
		out = append(out, splitLines(sb.String())...)
	}

	commentsDone := !commentsChanged
	if commentsChanged && len(s.commentLines) == 0 {
		emitComments()
		commentsDone = true
	}
	for i, l := range s.lines {
		if commentsChanged && slices.Contains(s.commentLines, i) {
			if !commentsDone {
				emitComments()
				commentsDone = true
			}
			continue
		}
		if msgstrChanged && s.msgstrStart >= 0 && i >= s.msgstrStart && i < s.msgstrEnd {
			if i == s.msgstrStart {
				emitMsgstr()
			}
			continue
		}
		if i == len(s.lines)-1 && !lastTerminated && (msgstrChanged && s.msgstrStart < 0) {
			l += s.eol
		}
		out = append(out, l)
	}
	if msgstrChanged && s.msgstrStart < 0 {
		emitMsgstr()
	}

	if !lastTerminated && len(out) > 0 {
		out[len(out)-1] = strings.TrimSuffix(out[len(out)-1], s.eol)
	}
	for _, l := range out {
		b.WriteString(l)
	}
}

func obsoletePrefix(e *Entry) string {
	if e.Obsolete {
		return "#~ "
	}
	return ""
}

func writeEntry(w *strings.Builder, e *Entry, eol string) {
	prefix := obsoletePrefix(e)

	for _, c := range e.TranslatorComments {
		fmt.Fprintf(w, "# %s%s", c, eol)
	}
	for _, c := range e.ExtractedComments {
		fmt.Fprintf(w, "#. %s%s", c, eol)
	}
	for _, ref := range e.References {
		fmt.Fprintf(w, "#: %s%s", ref, eol)
	}
	if len(e.Flags) > 0 {
		fmt.Fprintf(w, "#, %s%s", strings.Join(e.Flags, ", "), eol)
	}
	if e.PreviousMsgID != "" {
		fmt.Fprintf(w, "#| msgid %s%s", quote(e.PreviousMsgID), eol)
	}
	if e.MsgCtxt != "" {
		writeQuotedField(w, prefix+"msgctxt", e.MsgCtxt, eol)
	}
	writeQuotedField(w, prefix+"msgid", e.MsgID, eol)
	if e.MsgIDPlural != "" {
		writeQuotedField(w, prefix+"msgid_plural", e.MsgIDPlural, eol)
	}
	writeMsgstr(w, e, prefix, eol)
}

func writeMsgstr(w *strings.Builder, e *Entry, prefix, eol string) {
	if e.MsgIDPlural != "" && len(e.MsgStrPlural) > 0 {
		indices := make([]int, 0, len(e.MsgStrPlural))
		for idx := range e.MsgStrPlural {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			writeQuotedField(w, fmt.Sprintf("%smsgstr[%d]", prefix, idx), e.MsgStrPlural[idx], eol)
		}
		return
	}
	writeQuotedField(w, prefix+"msgstr", e.MsgStr, eol)
}

// writeQuotedField writes a PO field with proper multiline quoting.
func writeQuotedField(w *strings.Builder, field, value, eol string) {
	if !strings.Contains(strings.TrimSuffix(value, "\n"), "\n") {
		fmt.Fprintf(w, "%s %s%s", field, quote(value), eol)
		return
	}

	// Multiline: use empty string on first line
	fmt.Fprintf(w, "%s \"\"%s", field, eol)
	parts := strings.Split(value, "\n")
	for i, part := range parts {
		if i < len(parts)-1 {
			fmt.Fprintf(w, "%s%s", quote(part+"\n"), eol)
		} else if part != "" {
			fmt.Fprintf(w, "%s%s", quote(part), eol)
		}
	}
}

// quote produces a PO-style quoted string.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	s = strings.ReplaceAll(s, "\t", `\t`)
	return `"` + s + `"`
}

// unquote removes PO-style quoting from a string.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}
	s = s[1 : len(s)-1]

	var result strings.Builder
	result.Grow(len(s))

	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				result.WriteByte('\n')
			case 't':
				result.WriteByte('\t')
			case 'r':
				result.WriteByte('\r')
			case '\\':
				result.WriteByte('\\')
			case '"':
				result.WriteByte('"')
			default:
				result.WriteByte(s[i])
				continue
			}
			i++
		} else {
			result.WriteByte(s[i])
		}
	}
	return result.String()
}
