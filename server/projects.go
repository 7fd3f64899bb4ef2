package server

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/minios-linux/lokstudio/adapter"
	"github.com/minios-linux/lokstudio/glossary"
	"github.com/minios-linux/lokstudio/model"
	"github.com/minios-linux/lokstudio/store"
)

// createProject handles POST /api/projects with a multipart "file" and
// optional "format" and "name" fields.
func (s *Server) createProject(c *gin.Context) {
	name, payload, err := readUpload(c, "file")
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	var a adapter.Adapter
	if f := c.PostForm("format"); f != "" {
		format, err := adapter.ParseFormat(f)
		if err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
		a, _ = adapter.New(format)
		err = a.Load(payload, name)
		if err != nil {
			failErr(c, err)
			return
		}
	} else {
		a, err = adapter.Open(name, payload)
		if err != nil {
			var pe *model.ParseError
			if errors.As(err, &pe) {
				failErr(c, err)
			} else {
				fail(c, http.StatusBadRequest, err)
			}
			return
		}
	}

	meta, err := a.Metadata()
	if err != nil {
		failErr(c, err)
		return
	}
	label := c.PostForm("name")
	if label == "" {
		label = strings.TrimSuffix(name, path.Ext(name))
	}
	p := &store.Project{
		Name:     label,
		Format:   string(a.Format()),
		FileName: name,
		Project:  a.Project(),
		Metadata: meta,
	}
	if err := s.opts.Store.CreateProject(c.Request.Context(), p); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, p)
}

func (s *Server) listProjects(c *gin.Context) {
	list, err := s.opts.Store.ListProjects(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	if list == nil {
		list = []store.Summary{}
	}
	ok(c, http.StatusOK, list)
}

func (s *Server) getProject(c *gin.Context) {
	p, err := s.opts.Store.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

func (s *Server) deleteProject(c *gin.Context) {
	id := c.Param("id")
	if s.busy(id) {
		failErr(c, errBusy)
		return
	}
	if err := s.opts.Store.DeleteProject(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"id": id})
}

// updateEntries applies a batch of updates. Nothing is written unless
// every update addresses an existing entry.
func (s *Server) updateEntries(c *gin.Context) {
	var batch []model.EntryUpdate
	if err := c.ShouldBindJSON(&batch); err != nil {
		fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	s.mutate(c, func(a adapter.Adapter) (any, error) {
		if err := a.UpdateEntries(batch); err != nil {
			return nil, err
		}
		return gin.H{"updated": len(batch)}, nil
	})
}

type entryPatch struct {
	TargetText *string `json:"targetText"`
	Comment    *string `json:"comment"`
}

func (s *Server) updateEntry(c *gin.Context) {
	var body entryPatch
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	u := model.EntryUpdate{
		ResourceID: c.Param("rid"),
		EntryID:    c.Param("eid"),
		TargetText: body.TargetText,
		Comment:    body.Comment,
	}
	s.mutate(c, func(a adapter.Adapter) (any, error) {
		if err := a.UpdateEntry(u); err != nil {
			return nil, err
		}
		r, _ := a.Resource(u.ResourceID)
		return r.Entry(u.EntryID)
	})
}

// applyReference remaps a hash-keyed PO catalog with a readable reference
// catalog uploaded as "file".
func (s *Server) applyReference(c *gin.Context) {
	_, ref, err := readUpload(c, "file")
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	s.mutate(c, func(a adapter.Adapter) (any, error) {
		po, isPO := a.(*adapter.POAdapter)
		if !isPO {
			return nil, errNotPO
		}
		if err := po.ApplyReference(ref); err != nil {
			return nil, err
		}
		return a.Project(), nil
	})
}

var errNotPO = errors.New("reference catalogs apply to po projects only")

// mutate loads the project, runs fn on its adapter and saves the result.
func (s *Server) mutate(c *gin.Context, fn func(adapter.Adapter) (any, error)) {
	id := c.Param("id")
	if s.busy(id) {
		failErr(c, errBusy)
		return
	}
	ctx := c.Request.Context()
	p, a, err := s.open(ctx, id)
	if err != nil {
		failErr(c, err)
		return
	}
	data, err := fn(a)
	if err != nil {
		switch {
		case errors.Is(err, errNotPO):
			fail(c, http.StatusBadRequest, err)
		case errors.Is(err, model.ErrNotFound):
			fail(c, http.StatusNotFound, err)
		default:
			fail(c, http.StatusUnprocessableEntity, err)
		}
		return
	}
	if err := s.persist(ctx, p, a); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, data)
}

func (s *Server) exportProject(c *gin.Context) {
	ctx := c.Request.Context()
	_, a, err := s.open(ctx, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	terms, err := s.opts.Store.ListTerms(ctx, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	exp, err := a.Export(terms)
	if err != nil {
		failErr(c, err)
		return
	}
	contentType := mime.TypeByExtension(path.Ext(exp.FileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": exp.FileName}))
	c.Data(http.StatusOK, contentType, exp.Data)
}

func (s *Server) listTerms(c *gin.Context) {
	terms, err := s.opts.Store.ListTerms(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, terms)
}

// replaceTerms makes the request body the whole glossary. Missing slugs
// are derived from the original text; duplicates are made unique.
func (s *Server) replaceTerms(c *gin.Context) {
	var body []model.Term
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	for i, t := range body {
		if strings.TrimSpace(t.OriginalText) == "" {
			fail(c, http.StatusBadRequest, fmt.Errorf("term %d has no original text", i))
			return
		}
	}
	terms, _ := glossary.Merge(nil, body)
	if terms == nil {
		terms = []model.Term{}
	}
	if err := s.opts.Store.ReplaceTerms(c.Request.Context(), c.Param("id"), terms); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, terms)
}
