// Package config loads the optional .lokstudio.yaml project file and
// merges it with environment variables, stored settings and command-line
// flags.
//
// Precedence, highest first: flags, environment (including a .env file in
// the project root), the settings store, .lokstudio.yaml, built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/minios-linux/lokstudio/model"
	"github.com/minios-linux/lokstudio/settings"
	"github.com/minios-linux/lokstudio/translate"
)

// ---------------------------------------------------------------------------
// YAML schema
// ---------------------------------------------------------------------------

// FileName is the project config file name.
const FileName = ".lokstudio.yaml"

// File is the top-level .lokstudio.yaml structure.
type File struct {
	// Provider is one of translate.ProviderIDs() (default "openai").
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
	// BatchSize is the number of entries per model request.
	BatchSize  int           `yaml:"batch_size,omitempty"`
	SourceLang string        `yaml:"source_lang,omitempty"`
	TargetLang string        `yaml:"target_lang,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	MaxRetries int           `yaml:"max_retries,omitempty"`
	// Prompt overrides the system prompt for every format.
	Prompt string `yaml:"prompt,omitempty"`
	// SkipScan disables the terminology scan before translation.
	SkipScan bool `yaml:"skip_scan,omitempty"`
	// Glossary is a YAML term list relative to the config file.
	Glossary string `yaml:"glossary,omitempty"`

	Server Server `yaml:"server,omitempty"`
}

// Server configures "lokstudio serve".
type Server struct {
	Listen string `yaml:"listen,omitempty"`
	// Database is the SQLite path; empty means the settings data dir.
	Database    string   `yaml:"database,omitempty"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// Default values applied by LoadFile and Resolve.
const (
	DefaultProvider   = translate.ProviderOpenAI
	DefaultSourceLang = "en"
	DefaultListen     = "127.0.0.1:8080"
)

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// LoadFile loads and validates .lokstudio.yaml from rootDir.
// Returns nil if the file does not exist.
func LoadFile(rootDir string) (*File, error) {
	path := filepath.Join(rootDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Defaults
	if f.SourceLang == "" {
		f.SourceLang = DefaultSourceLang
	}
	if f.Server.Listen == "" {
		f.Server.Listen = DefaultListen
	}
	if f.Glossary != "" && !filepath.IsAbs(f.Glossary) {
		f.Glossary = filepath.Join(rootDir, f.Glossary)
	}
	if f.Server.Database != "" && f.Server.Database != ":memory:" && !filepath.IsAbs(f.Server.Database) {
		f.Server.Database = filepath.Join(rootDir, f.Server.Database)
	}

	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &f, nil
}

func (f *File) validate() error {
	if f.Provider != "" && !slices.Contains(translate.ProviderIDs(), f.Provider) {
		return fmt.Errorf("unknown provider %q (valid: %s)", f.Provider, strings.Join(translate.ProviderIDs(), ", "))
	}
	if f.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative, got %d", f.BatchSize)
	}
	if f.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", f.MaxRetries)
	}
	if f.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", f.Timeout)
	}
	return nil
}

// LoadEnv reads rootDir/.env into the process environment. Variables that
// are already set are left alone. A missing file is not an error.
func LoadEnv(rootDir string) error {
	path := filepath.Join(rootDir, ".env")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// Environment variables consulted by Resolve.
const (
	EnvProvider = "LOKSTUDIO_PROVIDER"
	EnvModel    = "LOKSTUDIO_MODEL"
	EnvBaseURL  = "LOKSTUDIO_BASE_URL"
)

// Flags holds command-line values. Zero values mean "not given".
type Flags struct {
	Provider   string
	Model      string
	BaseURL    string
	APIKey     string
	BatchSize  int
	SourceLang string
	TargetLang string
	Timeout    time.Duration
	MaxRetries int
	Prompt     string
}

// Resolved is the effective configuration for one run.
type Resolved struct {
	Provider   string
	Model      string
	BaseURL    string
	APIKey     string
	BatchSize  int
	SourceLang string
	TargetLang string
	Timeout    time.Duration
	MaxRetries int
	Prompt     string
	SkipScan   bool
	Glossary   string
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive[T int | time.Duration](values ...T) T {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

// Resolve merges flags, environment, settings and the config file (which
// may be nil).
func Resolve(f *File, fl Flags) Resolved {
	if f == nil {
		f = &File{}
	}
	r := Resolved{
		Provider:   strings.ToLower(first(fl.Provider, os.Getenv(EnvProvider), f.Provider, DefaultProvider)),
		Model:      first(fl.Model, os.Getenv(EnvModel), f.Model),
		BatchSize:  firstPositive(fl.BatchSize, f.BatchSize, translate.DefaultBatchSize),
		SourceLang: first(fl.SourceLang, f.SourceLang, DefaultSourceLang),
		TargetLang: first(fl.TargetLang, f.TargetLang),
		Timeout:    firstPositive(fl.Timeout, f.Timeout),
		MaxRetries: firstPositive(fl.MaxRetries, f.MaxRetries),
		Prompt:     first(fl.Prompt, f.Prompt),
		SkipScan:   f.SkipScan,
		Glossary:   f.Glossary,
	}
	r.APIKey = settings.ResolveAPIKey(r.Provider, fl.APIKey)
	r.BaseURL = first(fl.BaseURL, os.Getenv(EnvBaseURL), settings.GetBaseURL(r.Provider), f.BaseURL)
	return r
}

// ProviderConfig builds the translate.Provider for r on top of the defaults.
func (r Resolved) ProviderConfig() translate.Provider {
	prov, ok := translate.DefaultProviders()[r.Provider]
	if !ok {
		prov = translate.Provider{ID: r.Provider, Name: r.Provider}
	}
	if r.BaseURL != "" {
		prov.BaseURL = r.BaseURL
	}
	if r.Model != "" {
		prov.Model = r.Model
	}
	prov.APIKey = r.APIKey
	if r.Timeout > 0 {
		prov.Timeout = r.Timeout
	}
	if r.MaxRetries > 0 {
		prov.MaxRetries = r.MaxRetries
	}
	return prov
}

// ---------------------------------------------------------------------------
// Glossary files
// ---------------------------------------------------------------------------

// LoadGlossary reads a YAML list of terms. A missing file yields no terms.
func LoadGlossary(path string) ([]model.Term, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading glossary: %w", err)
	}
	var terms []model.Term
	if err := yaml.Unmarshal(data, &terms); err != nil {
		return nil, fmt.Errorf("parsing glossary %s: %w", path, err)
	}
	return terms, nil
}

// SaveGlossary writes terms as YAML.
func SaveGlossary(path string, terms []model.Term) error {
	data, err := yaml.Marshal(terms)
	if err != nil {
		return fmt.Errorf("marshaling glossary: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing glossary: %w", err)
	}
	return nil
}
