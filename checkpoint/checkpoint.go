// Package checkpoint implements lokstudio.lock, which records a BLAKE3
// fingerprint of every translated source text per target file. The CLI
// uses it to skip entries whose source did not change since they were
// translated, and saves it after every batch so an interrupted run loses
// at most one batch.
package checkpoint

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// FileName is the default checkpoint file name.
const FileName = "lokstudio.lock"

// Version is the checkpoint format version.
const Version = 1

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// File is the lokstudio.lock structure.
type File struct {
	Version      int                          `yaml:"version"`
	Fingerprints map[string]map[string]string `yaml:"fingerprints"` // target -> entry key -> blake3

	mu   sync.Mutex `yaml:"-"`
	path string     `yaml:"-"`
}

// ---------------------------------------------------------------------------
// Loading and saving
// ---------------------------------------------------------------------------

// Load reads the checkpoint from dir. A missing file yields an empty one.
func Load(dir string) (*File, error) {
	path := filepath.Join(dir, FileName)
	f := &File{
		Version:      Version,
		Fingerprints: make(map[string]map[string]string),
		path:         path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if f.Version > Version {
		return nil, fmt.Errorf("%s: unsupported version %d", path, f.Version)
	}
	f.path = path
	if f.Fingerprints == nil {
		f.Fingerprints = make(map[string]map[string]string)
	}
	return f, nil
}

// Save writes the checkpoint atomically.
func (f *File) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.path == "" {
		return fmt.Errorf("checkpoint path not set")
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replacing %s: %w", f.path, err)
	}
	return nil
}

// Path returns the checkpoint file path.
func (f *File) Path() string {
	return f.path
}

// ---------------------------------------------------------------------------
// Fingerprints
// ---------------------------------------------------------------------------

// Fingerprint returns the hex BLAKE3-256 digest of s.
func Fingerprint(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// TargetKey normalizes a file path for use as a target.
func TargetKey(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}

// EntryKey identifies an entry within a target.
func EntryKey(resourceID, entryID string) string {
	return resourceID + "|" + entryID
}

// IsChanged reports whether source is new or differs from the recorded
// fingerprint.
func (f *File) IsChanged(target, key, source string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	old, ok := f.Fingerprints[target][key]
	return !ok || old != Fingerprint(source)
}

// Has reports whether a fingerprint is recorded for key.
func (f *File) Has(target, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.Fingerprints[target][key]
	return ok
}

// Update records the fingerprint of source after a successful translation.
func (f *File) Update(target, key, source string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Fingerprints[target] == nil {
		f.Fingerprints[target] = make(map[string]string)
	}
	f.Fingerprints[target][key] = Fingerprint(source)
}

// FilterChanged returns the entries (key -> source) that are new or
// changed.
func (f *File) FilterChanged(target string, entries map[string]string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing := f.Fingerprints[target]
	changed := make(map[string]string)
	for key, source := range entries {
		if existing == nil || existing[key] != Fingerprint(source) {
			changed[key] = source
		}
	}
	return changed
}

// Clean drops fingerprints of keys that no longer exist in target.
func (f *File) Clean(target string, currentKeys []string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing := f.Fingerprints[target]
	if existing == nil {
		return 0
	}
	valid := make(map[string]bool, len(currentKeys))
	for _, k := range currentKeys {
		valid[k] = true
	}
	removed := 0
	for k := range existing {
		if !valid[k] {
			delete(existing, k)
			removed++
		}
	}
	if len(existing) == 0 {
		delete(f.Fingerprints, target)
	}
	return removed
}

// Forget removes all fingerprints of a target.
func (f *File) Forget(target string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Fingerprints, target)
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats returns the number of targets and fingerprints.
func (f *File) Stats() (targets, keys int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	targets = len(f.Fingerprints)
	for _, m := range f.Fingerprints {
		keys += len(m)
	}
	return
}

// Targets returns the sorted target keys.
func (f *File) Targets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	targets := make([]string, 0, len(f.Fingerprints))
	for t := range f.Fingerprints {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}

// Summary returns a human-readable summary.
func (f *File) Summary() string {
	targets, keys := f.Stats()
	if targets == 0 {
		return "empty"
	}
	var parts []string
	for _, t := range f.Targets() {
		f.mu.Lock()
		n := len(f.Fingerprints[t])
		f.mu.Unlock()
		parts = append(parts, fmt.Sprintf("%s: %d entries", t, n))
	}
	return fmt.Sprintf("%d targets, %d entries (%s)", targets, keys, strings.Join(parts, ", "))
}
