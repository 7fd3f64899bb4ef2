// Package server exposes projects, glossaries and streamed AI translation
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/minios-linux/lokstudio/adapter"
	"github.com/minios-linux/lokstudio/model"
	"github.com/minios-linux/lokstudio/store"
	"github.com/minios-linux/lokstudio/translate"
)

// MaxUploadSize bounds uploaded files.
const MaxUploadSize = 32 << 20

var errBusy = errors.New("a translation is running for this project")

// Options configures the server.
type Options struct {
	Store store.Store
	// Generator serves translation runs. Without it POST .../translate
	// answers 503.
	Generator translate.Generator
	// Translate is the base orchestrator configuration; requests may
	// override the batch size.
	Translate translate.Options
	// SourceLang is used when neither the request nor the project names one.
	SourceLang  string
	CORSOrigins []string
	// OnLog receives background failures, such as a lost save after the
	// client went away.
	OnLog func(format string, args ...any)
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

// Server holds the HTTP handlers.
type Server struct {
	opts Options

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New creates a server.
func New(opts Options) *Server {
	if opts.SourceLang == "" {
		opts.SourceLang = "en"
	}
	return &Server{opts: opts, running: make(map[string]context.CancelFunc)}
}

// Handler returns the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  s.opts.CORSOrigins,
			AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
			MaxAge:        12 * 60 * 60,
		}))
	}
	r.MaxMultipartMemory = MaxUploadSize

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, model.OK(gin.H{"status": "ok"}))
	})

	api := r.Group("/api/projects")
	api.POST("", s.createProject)
	api.GET("", s.listProjects)
	api.GET("/:id", s.getProject)
	api.DELETE("/:id", s.deleteProject)
	api.PATCH("/:id/entries", s.updateEntries)
	api.PATCH("/:id/resources/:rid/entries/:eid", s.updateEntry)
	api.POST("/:id/reference", s.applyReference)
	api.GET("/:id/export", s.exportProject)
	api.GET("/:id/terms", s.listTerms)
	api.PUT("/:id/terms", s.replaceTerms)
	api.POST("/:id/translate", s.translateProject)
	api.DELETE("/:id/translate", s.cancelTranslation)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, model.Fail(errors.New("route not found")))
	})
	return r
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

// statusOf maps an error to an HTTP status.
func statusOf(err error) int {
	var pe *model.ParseError
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &pe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errBusy):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return 499
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, model.Fail(err))
}

func failErr(c *gin.Context, err error) {
	fail(c, statusOf(err), err)
}

func ok[T any](c *gin.Context, status int, data T) {
	c.JSON(status, model.OK(data))
}

// ---------------------------------------------------------------------------
// Project state
// ---------------------------------------------------------------------------

// restore rebuilds the adapter of a stored project.
func restore(p *store.Project) (adapter.Adapter, error) {
	data, err := json.Marshal(p.Project)
	if err != nil {
		return nil, fmt.Errorf("encoding project: %w", err)
	}
	a, err := adapter.Restore(adapter.Format(p.Format), data, p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("restoring %s project %s: %w", p.Format, p.ID, err)
	}
	return a, nil
}

// open loads a stored project and its adapter.
func (s *Server) open(ctx context.Context, id string) (*store.Project, adapter.Adapter, error) {
	p, err := s.opts.Store.GetProject(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	a, err := restore(p)
	if err != nil {
		return nil, nil, err
	}
	return p, a, nil
}

// persist copies the adapter state into p and saves it.
func (s *Server) persist(ctx context.Context, p *store.Project, a adapter.Adapter) error {
	meta, err := a.Metadata()
	if err != nil {
		return err
	}
	p.Project = a.Project()
	p.Metadata = meta
	return s.opts.Store.SaveProject(ctx, p)
}

// acquire marks a project as translating. It fails when a run is active.
func (s *Server) acquire(id string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[id]; busy {
		return false
	}
	s.running[id] = cancel
	return true
}

func (s *Server) release(id string) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}

func (s *Server) busy(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

// readUpload returns the content of a multipart file field.
func readUpload(c *gin.Context, field string) (string, []byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return "", nil, fmt.Errorf("missing %q file: %w", field, err)
	}
	return readFileHeader(fh)
}

func readFileHeader(fh *multipart.FileHeader) (string, []byte, error) {
	if fh.Size > MaxUploadSize {
		return "", nil, fmt.Errorf("file %s is larger than %d bytes", fh.Filename, MaxUploadSize)
	}
	f, err := fh.Open()
	if err != nil {
		return "", nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxUploadSize+1))
	if err != nil {
		return "", nil, fmt.Errorf("reading %s: %w", fh.Filename, err)
	}
	return fh.Filename, data, nil
}
