package adapter

import (
	"strconv"

	"github.com/minios-linux/lokstudio/glossary"
	"github.com/minios-linux/lokstudio/htmldoc"
	"github.com/minios-linux/lokstudio/model"
)

// HTMLAdapter handles HTML documents and fragments. Entry ids are the
// 1-based segment indices.
type HTMLAdapter struct {
	base
	parsed *htmldoc.Parsed
}

func (a *HTMLAdapter) Format() Format { return HTML }

// Parsed returns the analyzed document.
func (a *HTMLAdapter) Parsed() *htmldoc.Parsed { return a.parsed }

func (a *HTMLAdapter) Load(payload []byte, name string) error {
	a.reset(payload, name)
	a.parsed = nil

	p := htmldoc.Parse(payload)
	res := &model.TranslationResource{ID: a.fileName("index.html")}
	res.Label = res.ID
	for _, seg := range p.Segments {
		ctx := seg.Tag
		meta := map[string]string{"kind": string(seg.Kind)}
		if seg.Kind == htmldoc.AttrSegment {
			ctx += "@" + seg.Attr
		}
		res.Entries = append(res.Entries, &model.TranslationEntry{
			ID:         strconv.Itoa(seg.Index),
			SourceText: seg.Source,
			Context:    ctx,
			Metadata:   meta,
		})
	}

	a.parsed = p
	a.project = &model.TranslationProject{
		Resources: []*model.TranslationResource{res},
		Metadata:  map[string]string{"fullDocument": strconv.FormatBool(p.IsFullDocument)},
	}
	return nil
}

func (a *HTMLAdapter) Export(terms []model.Term) (Export, error) {
	if err := a.loaded(); err != nil {
		return Export{}, err
	}
	r := glossary.NewResolver(terms)
	translations := make(map[int]string)
	for _, e := range a.project.Resources[0].Entries {
		if e.TargetText == "" {
			continue
		}
		idx, err := strconv.Atoi(e.ID)
		if err != nil {
			continue
		}
		translations[idx] = resolve(r, e.TargetText)
	}
	return Export{
		Data:     htmldoc.Serialize(a.parsed, translations),
		FileName: a.fileName("index.html"),
	}, nil
}

func (a *HTMLAdapter) Metadata() ([]byte, error) {
	return marshalBlob(a.blob(HTML))
}
