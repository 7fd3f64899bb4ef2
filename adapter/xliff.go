package adapter

import (
	"fmt"
	"path"
	"slices"

	"github.com/minios-linux/lokstudio/glossary"
	"github.com/minios-linux/lokstudio/model"
	"github.com/minios-linux/lokstudio/xliff"
)

// XLIFFAdapter handles zipped localization catalogs and bare XLIFF files.
// Each <file> element becomes a resource; trans-unit ids are entry ids.
type XLIFFAdapter struct {
	base
	bundle *xliff.Bundle // nil for a bare document
	docs   []xliffDoc
	units  map[string]map[string]*xliff.Unit
}

type xliffDoc struct {
	member *xliff.Member
	doc    *xliff.Document
}

func (a *XLIFFAdapter) Format() Format { return XLIFF }

// Bundle returns the catalog archive, or nil for a bare XLIFF upload.
func (a *XLIFFAdapter) Bundle() *xliff.Bundle { return a.bundle }

func (a *XLIFFAdapter) Load(payload []byte, name string) error {
	a.reset(payload, name)
	a.bundle, a.docs, a.units = nil, nil, nil

	var docs []xliffDoc
	if xliff.IsZip(payload) {
		b, err := xliff.ReadBundle(payload)
		if err != nil {
			return parseError(XLIFF, err)
		}
		for _, m := range b.XLIFFMembers() {
			doc, err := xliff.Parse(m.Data)
			if err != nil {
				return parseError(XLIFF, fmt.Errorf("%s: %w", m.Name, err))
			}
			docs = append(docs, xliffDoc{member: m, doc: doc})
		}
		a.bundle = b
	} else {
		doc, err := xliff.Parse(payload)
		if err != nil {
			return parseError(XLIFF, err)
		}
		docs = append(docs, xliffDoc{doc: doc})
	}

	project := &model.TranslationProject{}
	units := make(map[string]map[string]*xliff.Unit)
	for _, d := range docs {
		for _, f := range d.doc.Files {
			id := f.Original
			if id == "" {
				id = a.fileName("translations.xliff")
			}
			for n, orig := 2, id; units[id] != nil; n++ {
				id = fmt.Sprintf("%s#%d", orig, n)
			}
			label := id
			if f.Original != "" {
				label = path.Base(f.Original)
			}
			res := &model.TranslationResource{
				ID:             id,
				Label:          label,
				SourceLanguage: f.SourceLanguage,
				TargetLanguage: f.TargetLanguage,
			}
			byID := make(map[string]*xliff.Unit)
			for _, u := range f.Units {
				if _, dup := byID[u.ID]; dup {
					continue
				}
				byID[u.ID] = u
				meta := map[string]string{"file": f.Original}
				if u.State != "" {
					meta["state"] = u.State
				}
				res.Entries = append(res.Entries, &model.TranslationEntry{
					ID:         u.ID,
					SourceText: u.Source,
					TargetText: u.Target,
					Comment:    u.Note,
					Metadata:   meta,
				})
			}
			units[id] = byID
			project.Resources = append(project.Resources, res)

			if project.SourceLanguage == "" {
				project.SourceLanguage = f.SourceLanguage
			}
			if f.TargetLanguage != "" && !slices.Contains(project.TargetLanguages, f.TargetLanguage) {
				project.TargetLanguages = append(project.TargetLanguages, f.TargetLanguage)
			}
		}
	}
	if a.bundle != nil && a.bundle.Contents != nil {
		if dev := a.bundle.Contents.DevelopmentRegion; dev != "" {
			project.SourceLanguage = dev
		}
		project.Metadata = map[string]string{"bundle": a.bundle.Root}
	}

	a.docs = docs
	a.units = units
	a.project = project
	return nil
}

func (a *XLIFFAdapter) Export(terms []model.Term) (Export, error) {
	if err := a.loaded(); err != nil {
		return Export{}, err
	}
	r := glossary.NewResolver(terms)
	for _, res := range a.project.Resources {
		byID := a.units[res.ID]
		for _, e := range res.Entries {
			u := byID[e.ID]
			if u == nil {
				continue
			}
			u.Target = resolve(r, e.TargetText)
			u.Note = e.Comment
		}
	}

	if a.bundle == nil {
		return Export{Data: a.docs[0].doc.Bytes(), FileName: a.fileName("translations.xliff")}, nil
	}
	for _, d := range a.docs {
		d.member.Data = d.doc.Bytes()
	}
	data, err := a.bundle.Bytes()
	if err != nil {
		return Export{}, err
	}
	name := a.bundle.FileName()
	if a.name != "" && path.Ext(a.name) == ".zip" {
		name = path.Base(a.name)
	}
	return Export{Data: data, FileName: name}, nil
}

func (a *XLIFFAdapter) Metadata() ([]byte, error) {
	return marshalBlob(a.blob(XLIFF))
}
