package adapter

import (
	"path"
	"strconv"
	"strings"

	"github.com/minios-linux/lokstudio/glossary"
	"github.com/minios-linux/lokstudio/model"
	"github.com/minios-linux/lokstudio/subtitle"
)

// SubtitleAdapter handles WebVTT and SubRip files. Cues are entries; the
// cue text is the source and the export replaces it with the target.
type SubtitleAdapter struct {
	base
	file *subtitle.File
	cues map[string]*subtitle.Cue
}

func (a *SubtitleAdapter) Format() Format { return Subtitle }

// Kind returns the dialect of the loaded file.
func (a *SubtitleAdapter) Kind() subtitle.Kind {
	if a.file == nil {
		return ""
	}
	return a.file.Kind
}

func (a *SubtitleAdapter) Load(payload []byte, name string) error {
	a.reset(payload, name)
	a.file, a.cues = nil, nil

	var f *subtitle.File
	var err error
	if strings.EqualFold(path.Ext(name), ".vtt") {
		f, err = subtitle.ParseKind(payload, subtitle.VTT)
	} else {
		f, err = subtitle.Parse(payload)
	}
	if err != nil {
		return parseError(Subtitle, err)
	}

	seen := make(map[string]int)
	for _, c := range f.Cues {
		if c.ID != "" {
			seen[c.ID]++
		}
	}
	res := &model.TranslationResource{ID: a.fileName("subtitles." + string(f.Kind))}
	res.Label = res.ID
	cues := make(map[string]*subtitle.Cue, len(f.Cues))
	for _, c := range f.Cues {
		id := c.ID
		if id == "" || seen[id] > 1 {
			id = strconv.Itoa(c.Index)
		}
		if _, dup := cues[id]; dup {
			id = "cue-" + strconv.Itoa(c.Index)
		}
		cues[id] = c
		meta := map[string]string{
			"start": strconv.FormatInt(c.Start, 10),
			"end":   strconv.FormatInt(c.End, 10),
		}
		if c.Settings != "" {
			meta["settings"] = c.Settings
		}
		res.Entries = append(res.Entries, &model.TranslationEntry{
			ID:         id,
			SourceText: c.Text,
			Context:    c.Timing(),
			Metadata:   meta,
		})
	}

	a.file = f
	a.cues = cues
	a.project = &model.TranslationProject{Resources: []*model.TranslationResource{res}}
	return nil
}

// apply writes target texts into the cues; untranslated cues keep their
// source text.
func (a *SubtitleAdapter) apply(terms []model.Term) {
	r := glossary.NewResolver(terms)
	for _, e := range a.project.Resources[0].Entries {
		c := a.cues[e.ID]
		if c == nil {
			continue
		}
		if e.TargetText != "" {
			c.Text = resolve(r, e.TargetText)
		} else {
			c.Text = e.SourceText
		}
	}
}

func (a *SubtitleAdapter) Export(terms []model.Term) (Export, error) {
	if err := a.loaded(); err != nil {
		return Export{}, err
	}
	a.apply(terms)
	return Export{Data: a.file.Bytes(), FileName: a.fileName("subtitles." + string(a.file.Kind))}, nil
}

// ExportAs renders the translated cues in the canonical form of kind.
func (a *SubtitleAdapter) ExportAs(kind subtitle.Kind, terms []model.Term) (Export, error) {
	if err := a.loaded(); err != nil {
		return Export{}, err
	}
	a.apply(terms)
	name := a.fileName("subtitles")
	name = strings.TrimSuffix(name, path.Ext(name)) + "." + string(kind)
	return Export{Data: a.file.Render(kind), FileName: name}, nil
}

func (a *SubtitleAdapter) Metadata() ([]byte, error) {
	return marshalBlob(a.blob(Subtitle))
}
