package adapter

import (
	"github.com/minios-linux/lokstudio/docfile"
	"github.com/minios-linux/lokstudio/glossary"
	"github.com/minios-linux/lokstudio/model"
)

// DocumentAdapter handles Markdown and plain text. Entry ids are the
// segment keys ("fm:title", "sec:0", ...).
type DocumentAdapter struct {
	base
	file *docfile.File
}

func (a *DocumentAdapter) Format() Format { return Document }

func (a *DocumentAdapter) Load(payload []byte, name string) error {
	a.reset(payload, name)
	a.file = nil

	f, err := docfile.Parse(payload)
	if err != nil {
		return parseError(Document, err)
	}
	res := &model.TranslationResource{ID: a.fileName("document.md")}
	res.Label = res.ID
	for _, seg := range f.Segments() {
		res.Entries = append(res.Entries, &model.TranslationEntry{
			ID:         seg.Key,
			SourceText: seg.Source(),
			Context:    string(seg.Kind),
		})
	}

	a.file = f
	a.project = &model.TranslationProject{Resources: []*model.TranslationResource{res}}
	return nil
}

func (a *DocumentAdapter) Export(terms []model.Term) (Export, error) {
	if err := a.loaded(); err != nil {
		return Export{}, err
	}
	r := glossary.NewResolver(terms)
	for _, e := range a.project.Resources[0].Entries {
		text := e.SourceText
		if e.TargetText != "" {
			text = resolve(r, e.TargetText)
		}
		a.file.Set(e.ID, text)
	}
	return Export{Data: a.file.Marshal(), FileName: a.fileName("document.md")}, nil
}

func (a *DocumentAdapter) Metadata() ([]byte, error) {
	return marshalBlob(a.blob(Document))
}
