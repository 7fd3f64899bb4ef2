package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/minios-linux/lokstudio/model"
	"github.com/minios-linux/lokstudio/sse"
	"github.com/minios-linux/lokstudio/translate"
)

// EntryRef addresses one entry in a translate request.
type EntryRef struct {
	ResourceID string `json:"resourceId"`
	EntryID    string `json:"entryId"`
}

// TranslateRequest is the body of POST /api/projects/:id/translate.
type TranslateRequest struct {
	TargetLang string `json:"targetLang"`
	SourceLang string `json:"sourceLang"`
	// Entries limits the run; empty means every untranslated entry.
	Entries []EntryRef `json:"entries"`
	// Retranslate includes entries that already have a target.
	Retranslate bool `json:"retranslate"`
	BatchSize   int  `json:"batchSize"`
	SkipScan    bool `json:"skipScan"`
}

func (r TranslateRequest) keep() func(model.FlatEntry) bool {
	if len(r.Entries) > 0 {
		return func(fe model.FlatEntry) bool {
			return slices.Contains(r.Entries, EntryRef{fe.ResourceID, fe.Entry.ID})
		}
	}
	if r.Retranslate {
		return func(model.FlatEntry) bool { return true }
	}
	return nil
}

// translateProject streams a translation run as server-sent events. Each
// translated entry is applied to the project; the project is saved at
// every batch boundary and when the stream ends. A client disconnect
// cancels the run.
func (s *Server) translateProject(c *gin.Context) {
	if s.opts.Generator == nil {
		fail(c, http.StatusServiceUnavailable, errors.New("no translation provider configured"))
		return
	}
	var body TranslateRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	id := c.Param("id")
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	if !s.acquire(id, cancel) {
		failErr(c, errBusy)
		return
	}
	defer s.release(id)

	p, a, err := s.open(ctx, id)
	if err != nil {
		failErr(c, err)
		return
	}
	terms, err := s.opts.Store.ListTerms(ctx, id)
	if err != nil {
		failErr(c, err)
		return
	}

	proj := a.Project()
	req := translate.Request{
		Entries:    translate.ItemsFromProject(proj, body.keep()),
		SourceLang: firstNonEmpty(body.SourceLang, proj.SourceLanguage, s.opts.SourceLang),
		TargetLang: body.TargetLang,
		Format:     string(a.Format()),
		Glossary:   terms,
		Context:    proj.Flatten(),
	}
	if req.TargetLang == "" && len(proj.TargetLanguages) > 0 {
		req.TargetLang = proj.TargetLanguages[0]
	}
	if req.TargetLang == "" {
		fail(c, http.StatusBadRequest, errors.New("targetLang is required"))
		return
	}

	opts := s.opts.Translate
	if body.BatchSize > 0 {
		opts.BatchSize = body.BatchSize
	}
	if body.SkipScan {
		opts.SkipScan = true
	}
	orch := translate.New(s.opts.Generator, opts)

	sse.SetHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	w := sse.NewWriter(c.Writer)

	// Saves outlive the request so a disconnect keeps finished work.
	saveCtx := context.WithoutCancel(ctx)
	dirty := false
	save := func() {
		if !dirty {
			return
		}
		if err := s.persist(saveCtx, p, a); err != nil {
			s.opts.log("saving project %s: %v", id, err)
			return
		}
		dirty = false
	}

	finished := false
	for e := range orch.Run(ctx, req) {
		switch ev := e.(type) {
		case translate.EntryTranslated:
			if changed, err := translate.Apply(a, ev); err != nil {
				s.opts.log("project %s: applying %s/%s: %v", id, ev.ResourceID, ev.EntryID, err)
			} else if changed {
				dirty = true
			}
		case translate.TerminologyFound:
			if err := s.opts.Store.SaveTerms(saveCtx, id, ev.Terms); err != nil {
				s.opts.log("project %s: saving terms: %v", id, err)
			}
		case translate.BatchComplete:
			save()
		case translate.Complete:
			finished = true
		}
		if err := w.WriteEvent(e); err != nil {
			break
		}
	}
	save()
	if finished {
		_ = w.Done()
	}
}

// cancelTranslation stops the active run of a project.
func (s *Server) cancelTranslation(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	cancel, running := s.running[id]
	s.mu.Unlock()
	if !running {
		fail(c, http.StatusNotFound, fmt.Errorf("no translation running for project %s", id))
		return
	}
	cancel()
	ok(c, http.StatusOK, gin.H{"id": id, "cancelled": true})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
