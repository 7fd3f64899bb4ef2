// Package xliff reads XLIFF 1.2 documents and writes translated copies
// that differ from the input only inside edited <target> and <note>
// elements.
package xliff

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// Compiled queries. local-name() keeps them independent of the
// urn:oasis:names:tc:xliff:document:1.2 default namespace.
var (
	exprRoot   = xpath.MustCompile("/*[local-name()='xliff']")
	exprFile   = xpath.MustCompile("//*[local-name()='file']")
	exprTool   = xpath.MustCompile(".//*[local-name()='header']/*[local-name()='tool']")
	exprUnit   = xpath.MustCompile(".//*[local-name()='trans-unit']")
	exprSource = xpath.MustCompile("./*[local-name()='source']")
	exprTarget = xpath.MustCompile("./*[local-name()='target']")
	exprNote   = xpath.MustCompile("./*[local-name()='note']")
)

// Tool is the tool-identity block of a file header.
type Tool struct {
	ID       string
	Name     string
	Version  string
	BuildNum string
}

// Unit is a trans-unit.
type Unit struct {
	ID     string
	Source string
	// Target is empty when the unit is untranslated.
	Target string
	Note   string
	// State is the state attribute of the original <target>.
	State string

	HadTarget bool

	origTarget string
	origNote   string
	sp         spans
}

// File is a <file> element.
type File struct {
	Original       string
	SourceLanguage string
	TargetLanguage string
	Datatype       string
	Tool           *Tool
	Units          []*Unit
}

// Document is a parsed XLIFF document.
type Document struct {
	Version string
	Files   []*File

	src []byte
	eol string
}

// Units returns every trans-unit in document order.
func (d *Document) Units() []*Unit {
	var out []*Unit
	for _, f := range d.Files {
		out = append(out, f.Units...)
	}
	return out
}

// Parse reads an XLIFF document.
func Parse(data []byte) (*Document, error) {
	root, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing XML: %w", err)
	}
	xl := xmlquery.QuerySelector(root, exprRoot)
	if xl == nil {
		return nil, errors.New("missing <xliff> root element")
	}

	doc := &Document{Version: xl.SelectAttr("version"), src: data, eol: "\n"}
	if bytes.Contains(data, []byte("\r\n")) {
		doc.eol = "\r\n"
	}

	for _, fn := range xmlquery.QuerySelectorAll(xl, exprFile) {
		f := &File{
			Original:       fn.SelectAttr("original"),
			SourceLanguage: fn.SelectAttr("source-language"),
			TargetLanguage: fn.SelectAttr("target-language"),
			Datatype:       fn.SelectAttr("datatype"),
		}
		if tn := xmlquery.QuerySelector(fn, exprTool); tn != nil {
			f.Tool = &Tool{
				ID:       tn.SelectAttr("tool-id"),
				Name:     tn.SelectAttr("tool-name"),
				Version:  tn.SelectAttr("tool-version"),
				BuildNum: tn.SelectAttr("build-num"),
			}
		}
		for _, un := range xmlquery.QuerySelectorAll(fn, exprUnit) {
			u := &Unit{ID: un.SelectAttr("id")}
			if n := xmlquery.QuerySelector(un, exprSource); n != nil {
				u.Source = n.InnerText()
			}
			if n := xmlquery.QuerySelector(un, exprTarget); n != nil {
				u.HadTarget = true
				u.Target = n.InnerText()
				u.State = n.SelectAttr("state")
			}
			if n := xmlquery.QuerySelector(un, exprNote); n != nil {
				u.Note = n.InnerText()
			}
			u.origTarget, u.origNote = u.Target, u.Note
			f.Units = append(f.Units, u)
		}
		doc.Files = append(doc.Files, f)
	}

	if err := doc.locate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// ---------------------------------------------------------------------------
// Byte spans
// ---------------------------------------------------------------------------

// element is the byte span of one child element of a trans-unit.
type element struct {
	found           bool
	start, startEnd int // start tag
	endStart, end   int // end tag; equal to startEnd for <x/>
	selfClosing     bool
}

type spans struct {
	source, target, note element
}

// locate records element offsets for every trans-unit with a token pass
// over the raw input.
func (d *Document) locate() error {
	units := d.Units()
	dec := xml.NewDecoder(bytes.NewReader(d.src))
	dec.Strict = false

	var cur *spans
	var open *element
	depth, unitDepth, next := 0, -1, 0
	for {
		start := int(dec.InputOffset())
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("scanning XML: %w", err)
		}
		end := int(dec.InputOffset())

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch {
			case t.Name.Local == "trans-unit":
				if next >= len(units) {
					return errors.New("trans-unit count mismatch")
				}
				cur = &units[next].sp
				unitDepth = depth
				next++
			case cur != nil && depth == unitDepth+1:
				var el *element
				switch t.Name.Local {
				case "source":
					el = &cur.source
				case "target":
					el = &cur.target
				case "note":
					el = &cur.note
				}
				if el != nil && !el.found {
					*el = element{found: true, start: start, startEnd: end}
					open = el
				}
			}
		case xml.EndElement:
			if open != nil && depth == unitDepth+1 {
				open.endStart, open.end = start, end
				open.selfClosing = start == end
				open = nil
			}
			if depth == unitDepth {
				cur, unitDepth = nil, -1
			}
			depth--
		}
	}
	if next != len(units) {
		return errors.New("trans-unit count mismatch")
	}
	return nil
}

// indentBefore returns the whitespace between the preceding newline and
// offset, and whether the element starts its own line.
func (d *Document) indentBefore(offset int) (string, bool) {
	i := offset
	for i > 0 && (d.src[i-1] == ' ' || d.src[i-1] == '\t') {
		i--
	}
	if i == 0 || d.src[i-1] == '\n' {
		return string(d.src[i:offset]), true
	}
	return "", false
}

// lineStart returns the offset where the whitespace-only prefix of the
// line holding offset begins, including the preceding line break.
func (d *Document) lineStart(offset int) int {
	i := offset
	for i > 0 && (d.src[i-1] == ' ' || d.src[i-1] == '\t') {
		i--
	}
	if i > 0 && d.src[i-1] == '\n' {
		i--
		if i > 0 && d.src[i-1] == '\r' {
			i--
		}
		return i
	}
	return offset
}

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// EscapeText escapes s for an XML text position.
func EscapeText(s string) string { return textEscaper.Replace(s) }

var attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

// EscapeAttr escapes s for a double-quoted XML attribute.
func EscapeAttr(s string) string { return attrEscaper.Replace(s) }

type edit struct {
	start, end int
	text       string
}

// Bytes returns the document with edited targets and notes applied.
// An unedited document is returned unchanged.
func (d *Document) Bytes() []byte {
	var edits []edit
	for _, u := range d.Units() {
		edits = append(edits, d.unitEdits(u)...)
	}
	if len(edits) == 0 {
		return bytes.Clone(d.src)
	}
	// Insertions go before a removal that starts at the same offset.
	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].start != edits[j].start {
			return edits[i].start < edits[j].start
		}
		return edits[i].start == edits[i].end && edits[j].start != edits[j].end
	})

	var buf bytes.Buffer
	pos := 0
	for _, e := range edits {
		buf.Write(d.src[pos:e.start])
		buf.WriteString(e.text)
		pos = e.end
	}
	buf.Write(d.src[pos:])
	return buf.Bytes()
}

func (d *Document) unitEdits(u *Unit) []edit {
	targetChanged := u.Target != u.origTarget
	noteChanged := u.Note != u.origNote
	if !targetChanged && !noteChanged {
		return nil
	}
	sp := u.sp
	if !sp.source.found {
		return nil
	}
	indent, ownLine := d.indentBefore(sp.source.start)
	newElem := func(tag, attrs, text string) string {
		s := "<" + tag + attrs + ">" + EscapeText(text) + "</" + tag + ">"
		if ownLine {
			return d.eol + indent + s
		}
		return s
	}

	var edits []edit
	var pendingInsert string
	insertAt := sp.source.end

	if targetChanged {
		switch {
		case sp.target.found && u.Target == "":
			edits = append(edits, edit{d.lineStart(sp.target.start), sp.target.end, ""})
		case sp.target.found:
			edits = append(edits, d.replaceContent(sp.target, "target", u.Target))
		case u.Target != "":
			pendingInsert += newElem("target", ` state="translated"`, u.Target)
		}
	}
	if sp.target.found && u.Target != "" {
		insertAt = sp.target.end
	}

	if noteChanged {
		switch {
		case sp.note.found && u.Note == "":
			edits = append(edits, edit{d.lineStart(sp.note.start), sp.note.end, ""})
		case sp.note.found:
			edits = append(edits, d.replaceContent(sp.note, "note", u.Note))
		case u.Note != "":
			if insertAt == sp.source.end {
				pendingInsert += newElem("note", "", u.Note)
			} else {
				edits = append(edits, edit{insertAt, insertAt, newElem("note", "", u.Note)})
			}
		}
	}
	if pendingInsert != "" {
		edits = append(edits, edit{sp.source.end, sp.source.end, pendingInsert})
	}
	return edits
}

// replaceContent rewrites the text of an element, keeping its start tag.
func (d *Document) replaceContent(el element, tag, text string) edit {
	if el.selfClosing {
		open := strings.TrimRight(strings.TrimSuffix(string(d.src[el.start:el.startEnd]), "/>"), " \t\r\n")
		return edit{el.start, el.end, open + ">" + EscapeText(text) + "</" + tag + ">"}
	}
	return edit{el.startEnd, el.endStart, EscapeText(text)}
}
