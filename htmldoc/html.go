// Package htmldoc extracts translatable segments from HTML and injects
// translations back into the original markup.
//
// Extraction works on tokenizer byte offsets rather than on a rebuilt DOM,
// so everything outside a translated segment is written back unchanged.
package htmldoc

import (
	"bytes"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

const bom = "\ufeff"

// SegmentKind tells text segments from attribute segments.
type SegmentKind string

const (
	TextSegment SegmentKind = "text"
	AttrSegment SegmentKind = "attr"
)

// Segment is one translatable piece of the document.
type Segment struct {
	// Index is 1-based in document order.
	Index int
	Kind  SegmentKind
	// Tag is the element holding the text or attribute.
	Tag string
	// Attr is the attribute name for attribute segments.
	Attr string
	// Source is the inner markup of a text segment or the unescaped value
	// of an attribute.
	Source string

	start, end int
	quoted     bool
}

// Parsed is an analyzed HTML input.
type Parsed struct {
	Segments []Segment
	// IsFullDocument is set when the input has <html> or a doctype.
	IsFullDocument bool
	// Head is the inner markup of <head>, empty for fragments.
	Head string
	// HasBOM records a leading byte-order mark removed before parsing.
	HasBOM bool

	src string
}

// Source returns the input without the byte-order mark.
func (p *Parsed) Source() string { return p.src }

// Segment finds a segment by index.
func (p *Parsed) Segment(index int) (Segment, bool) {
	if index < 1 || index > len(p.Segments) {
		return Segment{}, false
	}
	return p.Segments[index-1], true
}

// Element sets used by the extractor.
var (
	textContainers = set("p", "h1", "h2", "h3", "h4", "h5", "h6", "li", "td", "th",
		"blockquote", "dt", "dd", "figcaption", "caption")
	skipContainers = set("script", "style", "pre", "textarea", "noscript", "template")
	// closesParagraph are start tags that implicitly end an open <p>.
	closesParagraph = set("address", "article", "aside", "blockquote", "details", "div", "dl",
		"fieldset", "figcaption", "figure", "footer", "form", "h1", "h2", "h3", "h4", "h5", "h6",
		"header", "hr", "main", "menu", "nav", "ol", "p", "pre", "section", "table", "ul",
		"li", "dt", "dd")
	translatableAttrs = set("alt", "title", "placeholder", "aria-label")
	voidElements      = set("area", "base", "br", "col", "embed", "hr", "img", "input", "link",
		"meta", "source", "track", "wbr")
)

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

type container struct {
	tag          string
	contentStart int
	listDepth    int
	tableDepth   int
	nested       bool
	hasText      bool
}

type extractor struct {
	src        string
	stack      []*container
	skipDepth  int
	listDepth  int
	tableDepth int
	texts      []Segment
	attrs      []Segment
}

// Parse analyzes src. It never fails: malformed markup is tokenized the
// way browsers would and unmatched containers close at end of input.
func Parse(src []byte) *Parsed {
	s := string(src)
	p := &Parsed{}
	if strings.HasPrefix(s, bom) {
		p.HasBOM = true
		s = s[len(bom):]
	}
	p.src = s

	lower := strings.ToLower(s)
	p.IsFullDocument = strings.Contains(lower, "<html") || strings.Contains(lower, "<!doctype")

	ex := &extractor{src: s}
	headStart := -1
	z := html.NewTokenizer(strings.NewReader(s))
	pos := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// io.EOF, or a read error from the in-memory reader which
			// cannot happen.
			break
		}
		raw := z.Raw()
		start, end := pos, pos+len(raw)
		pos = end

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "head" {
				headStart = end
			}
			ex.startTag(tag, start, end, tt == html.SelfClosingTagToken)
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "head" && headStart >= 0 && p.Head == "" {
				p.Head = s[headStart:start]
			}
			ex.endTag(tag, start)
		case html.TextToken:
			if ex.skipDepth == 0 && len(ex.stack) > 0 &&
				strings.TrimSpace(html.UnescapeString(string(raw))) != "" {
				for _, c := range ex.stack {
					c.hasText = true
				}
			}
		}
	}
	for len(ex.stack) > 0 {
		ex.pop(len(s))
	}

	segs := ex.texts
	for _, a := range ex.attrs {
		if !insideAny(a, ex.texts) {
			segs = append(segs, a)
		}
	}
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].start < segs[j].start })
	for i := range segs {
		segs[i].Index = i + 1
	}
	p.Segments = segs
	return p
}

func insideAny(a Segment, texts []Segment) bool {
	for _, t := range texts {
		if a.start >= t.start && a.end <= t.end {
			return true
		}
	}
	return false
}

func (ex *extractor) top() *container {
	if len(ex.stack) == 0 {
		return nil
	}
	return ex.stack[len(ex.stack)-1]
}

// pop closes the innermost container at byte offset at.
func (ex *extractor) pop(at int) {
	c := ex.top()
	ex.stack = ex.stack[:len(ex.stack)-1]
	if c.nested || !c.hasText || at < c.contentStart {
		return
	}
	ex.texts = append(ex.texts, Segment{
		Kind:   TextSegment,
		Tag:    c.tag,
		Source: ex.src[c.contentStart:at],
		start:  c.contentStart,
		end:    at,
	})
}

// closeUntil pops containers up to and including the innermost one
// matching pred. Nothing is popped when no container matches.
func (ex *extractor) closeUntil(at int, pred func(*container) bool) {
	for i := len(ex.stack) - 1; i >= 0; i-- {
		if pred(ex.stack[i]) {
			for len(ex.stack) > i {
				ex.pop(at)
			}
			return
		}
	}
}

// closeFrom pops the outermost container matching pred and everything
// opened after it.
func (ex *extractor) closeFrom(at int, pred func(*container) bool) {
	for i, c := range ex.stack {
		if pred(c) {
			for len(ex.stack) > i {
				ex.pop(at)
			}
			return
		}
	}
}

func (ex *extractor) startTag(tag string, start, end int, selfClosing bool) {
	if ex.skipDepth == 0 {
		ex.collectAttrs(tag, start, end)
	}

	// Implicit end tags.
	if closesParagraph[tag] {
		if c := ex.top(); c != nil && c.tag == "p" {
			ex.pop(start)
		}
	}
	switch tag {
	case "li":
		ex.closeUntil(start, func(c *container) bool { return c.tag == "li" && c.listDepth == ex.listDepth })
	case "dt", "dd":
		ex.closeUntil(start, func(c *container) bool { return (c.tag == "dt" || c.tag == "dd") && c.listDepth == ex.listDepth })
	case "td", "th", "tr":
		ex.closeUntil(start, func(c *container) bool { return (c.tag == "td" || c.tag == "th") && c.tableDepth == ex.tableDepth })
	}

	if selfClosing || voidElements[tag] {
		return
	}

	switch tag {
	case "ul", "ol", "dl", "menu":
		ex.listDepth++
	case "table":
		ex.tableDepth++
	}

	if skipContainers[tag] {
		ex.skipDepth++
		for _, c := range ex.stack {
			c.nested = true
		}
		return
	}
	if ex.skipDepth > 0 || !textContainers[tag] {
		return
	}
	for _, c := range ex.stack {
		c.nested = true
	}
	ex.stack = append(ex.stack, &container{
		tag:          tag,
		contentStart: end,
		listDepth:    ex.listDepth,
		tableDepth:   ex.tableDepth,
	})
}

func (ex *extractor) endTag(tag string, start int) {
	if skipContainers[tag] {
		if ex.skipDepth > 0 {
			ex.skipDepth--
		}
		return
	}
	if ex.skipDepth > 0 {
		return
	}

	switch tag {
	case "ul", "ol", "dl", "menu":
		ex.closeUntil(start, func(c *container) bool {
			return (c.tag == "li" || c.tag == "dt" || c.tag == "dd") && c.listDepth == ex.listDepth
		})
		if ex.listDepth > 0 {
			ex.listDepth--
		}
	case "table":
		ex.closeFrom(start, func(c *container) bool { return ex.tableDepth > 0 && c.tableDepth >= ex.tableDepth })
		if ex.tableDepth > 0 {
			ex.tableDepth--
		}
	case "tr":
		ex.closeUntil(start, func(c *container) bool { return (c.tag == "td" || c.tag == "th") && c.tableDepth == ex.tableDepth })
	}

	if textContainers[tag] {
		ex.closeUntil(start, func(c *container) bool { return c.tag == tag })
		return
	}
	if closesParagraph[tag] || tag == "body" || tag == "html" {
		if c := ex.top(); c != nil && c.tag == "p" {
			ex.pop(start)
		}
	}
}

func (ex *extractor) collectAttrs(tag string, start, end int) {
	raw := ex.src[start:end]
	for _, a := range scanAttrs(raw) {
		if !translatableAttrs[a.name] || !a.hasValue {
			continue
		}
		val := html.UnescapeString(raw[a.valStart:a.valEnd])
		if strings.TrimSpace(val) == "" {
			continue
		}
		ex.attrs = append(ex.attrs, Segment{
			Kind:   AttrSegment,
			Tag:    tag,
			Attr:   a.name,
			Source: val,
			start:  start + a.valStart,
			end:    start + a.valEnd,
			quoted: a.quoted,
		})
	}
}

// ---------------------------------------------------------------------------
// Raw attribute scanning
// ---------------------------------------------------------------------------

type rawAttr struct {
	name             string
	valStart, valEnd int
	hasValue, quoted bool
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// scanAttrs locates attribute values inside a raw start tag.
func scanAttrs(tag string) []rawAttr {
	var out []rawAttr
	i := 1
	for i < len(tag) && !isSpace(tag[i]) && tag[i] != '>' && tag[i] != '/' {
		i++
	}
	for i < len(tag) {
		for i < len(tag) && (isSpace(tag[i]) || tag[i] == '/') {
			i++
		}
		if i >= len(tag) || tag[i] == '>' {
			break
		}
		ns := i
		for i < len(tag) && !isSpace(tag[i]) && tag[i] != '=' && tag[i] != '>' && (tag[i] != '/' || i == ns) {
			i++
		}
		a := rawAttr{name: strings.ToLower(tag[ns:i])}
		j := i
		for j < len(tag) && isSpace(tag[j]) {
			j++
		}
		if j < len(tag) && tag[j] == '=' {
			j++
			for j < len(tag) && isSpace(tag[j]) {
				j++
			}
			a.hasValue = true
			if j < len(tag) && (tag[j] == '"' || tag[j] == '\'') {
				q := tag[j]
				a.quoted = true
				a.valStart = j + 1
				k := strings.IndexByte(tag[j+1:], q)
				if k < 0 {
					a.valEnd = len(tag)
					i = len(tag)
				} else {
					a.valEnd = j + 1 + k
					i = a.valEnd + 1
				}
			} else {
				a.valStart = j
				for j < len(tag) && !isSpace(tag[j]) && tag[j] != '>' {
					j++
				}
				a.valEnd = j
				i = j
			}
		}
		out = append(out, a)
	}
	return out
}

// ---------------------------------------------------------------------------
// Serialization
// ---------------------------------------------------------------------------

// Serialize injects translations, keyed by segment index, into the
// original markup. Text segments are sanitized, attribute values escaped.
// Indices without a segment are ignored. An empty map reproduces the input.
func Serialize(p *Parsed, translations map[int]string) []byte {
	var buf bytes.Buffer
	if p.HasBOM {
		buf.WriteString(bom)
	}

	type edit struct {
		start, end int
		text       string
	}
	var edits []edit
	for idx, text := range translations {
		seg, ok := p.Segment(idx)
		if !ok {
			continue
		}
		switch seg.Kind {
		case TextSegment:
			edits = append(edits, edit{seg.start, seg.end, Sanitize(text)})
		case AttrSegment:
			v := EscapeAttr(text)
			if !seg.quoted {
				v = `"` + v + `"`
			}
			edits = append(edits, edit{seg.start, seg.end, v})
		}
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	pos := 0
	for _, e := range edits {
		buf.WriteString(p.src[pos:e.start])
		buf.WriteString(e.text)
		pos = e.end
	}
	buf.WriteString(p.src[pos:])
	return buf.Bytes()
}

var attrEscaper = strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;", `"`, "&quot;", `'`, "&#39;")

// EscapeAttr escapes a value for use inside a single- or double-quoted
// attribute.
func EscapeAttr(s string) string {
	return attrEscaper.Replace(s)
}
