// Package store persists translation projects and their glossaries.
package store

import (
	"context"
	"time"

	"github.com/minios-linux/lokstudio/model"
)

// Project is a stored upload: the universal project plus the adapter's
// metadata blob needed to rebuild the original format.
type Project struct {
	ID       string                    `json:"id"`
	Name     string                    `json:"name"`
	Format   string                    `json:"format"`
	FileName string                    `json:"fileName"`
	Project  *model.TranslationProject `json:"project"`
	// Metadata is the adapter blob, opaque to the store.
	Metadata []byte `json:"-"`
	// Digest is the BLAKE3 fingerprint of Metadata.
	Digest    string    `json:"digest"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary is the list view of a project.
type Summary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Format     string    `json:"format"`
	FileName   string    `json:"fileName"`
	Total      int       `json:"total"`
	Translated int       `json:"translated"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Store is the persistence collaborator of the server. Lookups of unknown
// ids fail with an error matching model.ErrNotFound.
type Store interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	SaveProject(ctx context.Context, p *Project) error
	DeleteProject(ctx context.Context, id string) error
	ListProjects(ctx context.Context) ([]Summary, error)

	// ListTerms returns the glossary in insertion order.
	ListTerms(ctx context.Context, projectID string) ([]model.Term, error)
	// SaveTerms inserts or updates terms by slug.
	SaveTerms(ctx context.Context, projectID string, terms []model.Term) error
	// ReplaceTerms makes terms the whole glossary.
	ReplaceTerms(ctx context.Context, projectID string, terms []model.Term) error

	Close() error
}
