package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"

	"github.com/minios-linux/lokstudio/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	db *sql.DB
	sq sq.StatementBuilderType
}

var _ Store = (*SQLite)(nil)

// Open opens (creating if needed) the database at dbPath and applies
// pending migrations. ":memory:" opens a private in-memory database.
func Open(dbPath string) (*SQLite, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("make db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db, sq: sq.StatementBuilder}, nil
}

func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        name TEXT NOT NULL UNIQUE,
        applied_at TEXT NOT NULL
    )`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		var n int
		err := db.QueryRow(`SELECT 1 FROM schema_migrations WHERE name = ?`, name).Scan(&n)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		b, err := migrationsFS.ReadFile(path.Join("migrations", name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.Exec(string(b)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_migrations(name, applied_at) VALUES (?, ?)`, name, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// withTx runs fn within a transaction.
func (s *SQLite) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Close() error { return s.db.Close() }

// Digest returns the hex BLAKE3 fingerprint of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func notFound(id string) error {
	return &model.NotFoundError{Kind: "project", ID: id}
}

const timeLayout = time.RFC3339Nano

// ---------------------------------------------------------------------------
// Projects
// ---------------------------------------------------------------------------

func (s *SQLite) CreateProject(ctx context.Context, p *Project) error {
	if p.Project == nil {
		return errors.New("store: project has no content")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	data, err := json.Marshal(p.Project)
	if err != nil {
		return fmt.Errorf("encoding project: %w", err)
	}
	if p.Metadata == nil {
		p.Metadata = []byte{}
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	p.Digest = Digest(p.Metadata)
	total, translated := p.Project.Stats()

	q := s.sq.Insert("projects").
		Columns("id", "name", "format", "file_name", "project_json", "metadata", "digest", "total", "translated", "created_at", "updated_at").
		Values(p.ID, p.Name, p.Format, p.FileName, string(data), p.Metadata, p.Digest, total, translated, now.Format(timeLayout), now.Format(timeLayout))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *SQLite) GetProject(ctx context.Context, id string) (*Project, error) {
	q := s.sq.Select("id", "name", "format", "file_name", "project_json", "metadata", "digest", "created_at", "updated_at").
		From("projects").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	var p Project
	var data, created, updated string
	err = s.db.QueryRowContext(ctx, sqlStr, args...).
		Scan(&p.ID, &p.Name, &p.Format, &p.FileName, &data, &p.Metadata, &p.Digest, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &p.Project); err != nil {
		return nil, fmt.Errorf("decoding project %s: %w", id, err)
	}
	p.CreatedAt, _ = time.Parse(timeLayout, created)
	p.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return &p, nil
}

func (s *SQLite) SaveProject(ctx context.Context, p *Project) error {
	data, err := json.Marshal(p.Project)
	if err != nil {
		return fmt.Errorf("encoding project: %w", err)
	}
	if p.Metadata == nil {
		p.Metadata = []byte{}
	}
	now := time.Now().UTC()
	p.Digest = Digest(p.Metadata)
	total, translated := p.Project.Stats()

	q := s.sq.Update("projects").
		Set("name", p.Name).
		Set("file_name", p.FileName).
		Set("project_json", string(data)).
		Set("metadata", p.Metadata).
		Set("digest", p.Digest).
		Set("total", total).
		Set("translated", translated).
		Set("updated_at", now.Format(timeLayout)).
		Where(sq.Eq{"id": p.ID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(p.ID)
	}
	p.UpdatedAt = now
	return nil
}

func (s *SQLite) DeleteProject(ctx context.Context, id string) error {
	sqlStr, args, err := s.sq.Delete("projects").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *SQLite) ListProjects(ctx context.Context) ([]Summary, error) {
	q := s.sq.Select("id", "name", "format", "file_name", "total", "translated", "created_at", "updated_at").
		From("projects").OrderBy("updated_at DESC", "id")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var p Summary
		var created, updated string
		if err := rows.Scan(&p.ID, &p.Name, &p.Format, &p.FileName, &p.Total, &p.Translated, &created, &updated); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = time.Parse(timeLayout, created)
		p.UpdatedAt, _ = time.Parse(timeLayout, updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Glossary
// ---------------------------------------------------------------------------

func (s *SQLite) exists(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id string) error {
	sqlStr, args, err := s.sq.Select("1").From("projects").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	var n int
	err = q.QueryRowContext(ctx, sqlStr, args...).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(id)
	}
	return err
}

func (s *SQLite) ListTerms(ctx context.Context, projectID string) ([]model.Term, error) {
	if err := s.exists(ctx, s.db, projectID); err != nil {
		return nil, err
	}
	q := s.sq.Select("slug", "original_text", "translation", "comment").
		From("terms").Where(sq.Eq{"project_id": projectID}).OrderBy("position", "slug")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list terms: %w", err)
	}
	defer rows.Close()

	out := []model.Term{}
	for rows.Next() {
		var t model.Term
		if err := rows.Scan(&t.ID, &t.OriginalText, &t.Translation, &t.Comment); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) upsertTerms(ctx context.Context, tx *sql.Tx, projectID string, terms []model.Term) error {
	var next int
	sqlStr, args, err := s.sq.Select("COALESCE(MAX(position), -1) + 1").From("terms").Where(sq.Eq{"project_id": projectID}).ToSql()
	if err != nil {
		return err
	}
	if err := tx.QueryRowContext(ctx, sqlStr, args...).Scan(&next); err != nil {
		return fmt.Errorf("term position: %w", err)
	}
	for _, t := range terms {
		if t.ID == "" {
			return fmt.Errorf("term %q has no id", t.OriginalText)
		}
		q := s.sq.Insert("terms").
			Columns("project_id", "slug", "original_text", "translation", "comment", "position").
			Values(projectID, t.ID, t.OriginalText, t.Translation, t.Comment, next).
			Suffix("ON CONFLICT(project_id, slug) DO UPDATE SET original_text = excluded.original_text, translation = excluded.translation, comment = excluded.comment")
		sqlStr, args, err := q.ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("save term %s: %w", t.ID, err)
		}
		next++
	}
	return nil
}

func (s *SQLite) SaveTerms(ctx context.Context, projectID string, terms []model.Term) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.exists(ctx, tx, projectID); err != nil {
			return err
		}
		return s.upsertTerms(ctx, tx, projectID, terms)
	})
}

func (s *SQLite) ReplaceTerms(ctx context.Context, projectID string, terms []model.Term) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.exists(ctx, tx, projectID); err != nil {
			return err
		}
		sqlStr, args, err := s.sq.Delete("terms").Where(sq.Eq{"project_id": projectID}).ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("clear terms: %w", err)
		}
		return s.upsertTerms(ctx, tx, projectID, terms)
	})
}
