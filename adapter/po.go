package adapter

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/minios-linux/lokstudio/glossary"
	"github.com/minios-linux/lokstudio/model"
	"github.com/minios-linux/lokstudio/pofile"
)

// POAdapter handles gettext catalogs.
//
// Entry ids are message keys (msgctxt, EOT, msgid). Plural messages expand
// to one entry per msgstr[n] with id "key[n]".
type POAdapter struct {
	base
	file      *pofile.File
	refs      map[string]poRef
	hashBased bool
	reference []byte
}

// poRef points a universal entry at its catalog message.
type poRef struct {
	msg    *pofile.Entry
	plural int // -1 for singular messages
}

func (a *POAdapter) Format() Format { return PO }

// File returns the parsed catalog.
func (a *POAdapter) File() *pofile.File { return a.file }

// HashBased reports whether the catalog uses opaque hash msgids.
func (a *POAdapter) HashBased() bool { return a.hashBased }

func (a *POAdapter) Load(payload []byte, name string) error {
	a.reset(payload, name)
	a.file, a.refs, a.reference = nil, nil, nil

	f, err := pofile.ParseBytes(payload)
	if err != nil {
		return parseError(PO, err)
	}

	res := &model.TranslationResource{
		ID:             a.fileName("messages.po"),
		TargetLanguage: f.Language(),
	}
	res.Label = res.ID
	refs := make(map[string]poRef)
	nplurals := f.NPlurals()

	for _, msg := range f.ActiveEntries() {
		key := msg.Key()
		if msg.MsgIDPlural == "" {
			e := a.entry(msg, key, msg.MsgID, msg.MsgStr)
			res.Entries = append(res.Entries, e)
			refs[key] = poRef{msg: msg, plural: -1}
			continue
		}
		n := max(nplurals, len(msg.MsgStrPlural))
		for i := range n {
			source := msg.MsgIDPlural
			if i == 0 {
				source = msg.MsgID
			}
			id := key + "[" + strconv.Itoa(i) + "]"
			e := a.entry(msg, id, source, msg.MsgStrPlural[i])
			e.PluralForm = pofile.PluralCategory(nplurals, i)
			res.Entries = append(res.Entries, e)
			refs[id] = poRef{msg: msg, plural: i}
		}
	}

	a.file = f
	a.refs = refs
	a.hashBased = f.IsHashBased()
	a.project = &model.TranslationProject{
		Resources: []*model.TranslationResource{res},
		Metadata:  map[string]string{"hashBased": strconv.FormatBool(a.hashBased)},
	}
	if lang := res.TargetLanguage; lang != "" {
		a.project.TargetLanguages = []string{lang}
	}
	return nil
}

func (a *POAdapter) entry(msg *pofile.Entry, id, source, target string) *model.TranslationEntry {
	e := &model.TranslationEntry{
		ID:         id,
		SourceText: source,
		TargetText: target,
		Comment:    strings.Join(msg.TranslatorComments, "\n"),
		Context:    msg.MsgCtxt,
		Metadata:   map[string]string{"msgid": msg.MsgID},
	}
	if len(msg.Flags) > 0 {
		e.Metadata["flags"] = strings.Join(msg.Flags, ", ")
	}
	if len(msg.References) > 0 {
		e.Metadata["references"] = strings.Join(msg.References, " ")
	}
	if len(msg.ExtractedComments) > 0 {
		e.Metadata["extracted"] = strings.Join(msg.ExtractedComments, "\n")
	}
	return e
}

// ApplyReference shows the readable texts of a reference catalog as source
// texts. Stored msgids and existing translations are left alone; entries
// the reference does not cover keep their msgid as source text.
func (a *POAdapter) ApplyReference(ref []byte) error {
	if err := a.loaded(); err != nil {
		return err
	}
	texts, err := pofile.ReferenceMap(a.payload, a.file, ref)
	if err != nil {
		return err
	}
	for _, e := range a.project.Resources[0].Entries {
		r := a.refs[e.ID]
		if r.plural > 0 {
			continue
		}
		e.SourceText = r.msg.MsgID
		if text, ok := texts[r.msg.Key()]; ok {
			e.SourceText = text
		}
	}
	a.reference = bytes.Clone(ref)
	a.project.Metadata["reference"] = "true"
	return nil
}

func (a *POAdapter) Export(terms []model.Term) (Export, error) {
	if err := a.loaded(); err != nil {
		return Export{}, err
	}
	r := glossary.NewResolver(terms)
	for _, e := range a.project.Resources[0].Entries {
		ref, ok := a.refs[e.ID]
		if !ok {
			return Export{}, fmt.Errorf("entry %q has no catalog message", e.ID)
		}
		msg := ref.msg
		target := resolve(r, e.TargetText)
		if ref.plural < 0 {
			msg.MsgStr = target
		} else if _, had := msg.MsgStrPlural[ref.plural]; had || target != "" {
			if msg.MsgStrPlural == nil {
				msg.MsgStrPlural = make(map[int]string)
			}
			msg.MsgStrPlural[ref.plural] = target
		}
		if ref.plural <= 0 && e.Comment != strings.Join(msg.TranslatorComments, "\n") {
			msg.TranslatorComments = splitComment(e.Comment)
		}
	}
	return Export{Data: a.file.Bytes(), FileName: a.fileName("messages.po")}, nil
}

func splitComment(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func (a *POAdapter) Metadata() ([]byte, error) {
	b := a.blob(PO)
	b.HashBased = a.hashBased
	b.Reference = a.reference
	return marshalBlob(b)
}
