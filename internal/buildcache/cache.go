// Package buildcache persists state between builds: the URI history
// document, the render-cache document, and the rendered artifacts it
// points at. Both documents are read when a build starts and rewritten
// atomically when it succeeds.
package buildcache

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conneroisu/msssg/internal/content"
	"github.com/conneroisu/msssg/internal/errors"
)

const (
	// HistoryFile maps each served URI to the asset id it served.
	HistoryFile = "history_assets.json"
	// RendersFile maps each render key to its cached artifact.
	RendersFile = "data_assets.json"
	// ArtifactsDir holds rendered artifacts.
	ArtifactsDir = "assets"
)

// Revision converts t to the fractional unix seconds used to compare
// source modification times against cached renders.
func Revision(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Entry describes one cached render.
type Entry struct {
	// Path is relative to the cache directory.
	Path string `json:"path"`
	// Revision is the start time of the build that produced the artifact.
	Revision float64 `json:"revision"`
}

// Cache is the on-disk build cache.
type Cache struct {
	dir     string
	history map[string]string
	renders *RenderCache
}

// Open loads the cache documents from dir, creating the directory if it is
// missing. Absent documents load as empty maps.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Join(dir, ArtifactsDir), 0755); err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeFileWrite, dir)
	}

	history := make(map[string]string)
	if err := readJSON(filepath.Join(dir, HistoryFile), &history); err != nil {
		return nil, err
	}

	entries := make(map[string]Entry)
	if err := readJSON(filepath.Join(dir, RendersFile), &entries); err != nil {
		return nil, err
	}

	return &Cache{
		dir:     dir,
		history: history,
		renders: &RenderCache{dir: dir, entries: entries},
	}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// History returns a copy of the history loaded from the previous build.
func (c *Cache) History() map[string]string {
	out := make(map[string]string, len(c.history))
	for k, v := range c.history {
		out[k] = v
	}

	return out
}

// Renders returns the render cache.
func (c *Cache) Renders() *RenderCache {
	return c.renders
}

// Save writes history and the render cache back to disk.
func (c *Cache) Save(history map[string]string) error {
	if err := writeJSON(filepath.Join(c.dir, HistoryFile), history); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(c.dir, RendersFile), c.renders.Snapshot()); err != nil {
		return err
	}
	c.history = history

	return nil
}

// Clean removes the cache directory entirely.
func Clean(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return errors.WrapIO(err, errors.ErrCodeFileWrite, dir)
	}

	return nil
}

// RenderCache maps render keys to artifacts produced by earlier builds.
type RenderCache struct {
	dir string

	mu      sync.Mutex
	entries map[string]Entry
	hits    int
	misses  int
}

// Load returns the cached artifact for key when it was produced after the
// source's revision. A missing or unreadable artifact counts as a miss.
func (r *RenderCache) Load(key string, sourceRevision float64) ([]byte, bool) {
	r.mu.Lock()
	entry, ok := r.entries[key]
	r.mu.Unlock()

	if ok && sourceRevision < entry.Revision {
		data, err := os.ReadFile(filepath.Join(r.dir, filepath.FromSlash(entry.Path)))
		if err == nil {
			r.mu.Lock()
			r.hits++
			r.mu.Unlock()

			return data, true
		}
	}

	r.mu.Lock()
	r.misses++
	r.mu.Unlock()

	return nil, false
}

// Store writes the artifact for key and records it at revision.
func (r *RenderCache) Store(key string, data []byte, revision float64) error {
	rel := ArtifactsDir + "/" + content.KeyFilename(key)
	if err := writeFile(filepath.Join(r.dir, filepath.FromSlash(rel)), data); err != nil {
		return err
	}

	r.mu.Lock()
	r.entries[key] = Entry{Path: rel, Revision: revision}
	r.mu.Unlock()

	return nil
}

// Lookup returns the entry recorded for key.
func (r *RenderCache) Lookup(key string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]

	return e, ok
}

// Snapshot returns a copy of every entry.
func (r *RenderCache) Snapshot() map[string]Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Entry, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}

	return out
}

// Counts returns the number of cache hits and misses so far.
func (r *RenderCache) Counts() (hits, misses int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.hits, r.misses
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.WrapIO(err, errors.ErrCodeFileRead, path)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return errors.NewIOError(errors.ErrCodeFileRead, fmt.Sprintf("decode %s", path), err).
			WithLocation(path, 0)
	}

	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeFileWrite, fmt.Sprintf("encode %s", path), err)
	}

	return writeFile(path, append(data, '\n'))
}

// writeFile replaces path atomically through a uniquely named sibling.
func writeFile(path string, data []byte) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"-"+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.WrapIO(err, errors.ErrCodeFileWrite, tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.WrapIO(err, errors.ErrCodeFileWrite, path)
	}

	return nil
}
