// Package report renders an HTML summary of a build: counters, the URI table
// of the persisted database and the history decisions. The page itself lives
// in report.templ; run templ generate after editing it.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/conneroisu/msssg/internal/errors"
	"github.com/conneroisu/msssg/internal/history"
	"github.com/conneroisu/msssg/internal/store"
)

// Data is everything the report shows.
type Data struct {
	Started     time.Time
	Duration    time.Duration
	Entries     int
	Assets      int
	Rendered    int64
	Reused      int64
	Redirects   int
	Deletions   int
	CacheHits   int
	CacheMisses int
	Store       store.Stats
	Records     []store.Record
	Decisions   []history.Decision
}

type stat struct {
	Name  string
	Value string
}

// summary lists the counters shown in the summary table.
func summary(d Data) []stat {
	row := func(name string, value interface{}) stat {
		return stat{Name: name, Value: fmt.Sprint(value)}
	}

	return []stat{
		row("Manifest entries", d.Entries),
		row("Assets", d.Assets),
		row("Resources", d.Store.Resources),
		row("Encodings", d.Store.Encodings),
		row("Deduplicated", d.Store.Deduplicated),
		row("Discarded encodings", d.Store.Discarded),
		row("Inline bytes", d.Store.InlineBytes),
		row("File bytes", d.Store.FileBytes),
		row("Variants rendered", d.Rendered),
		row("Variants reused", d.Reused),
		row("Render cache hits", d.CacheHits),
		row("Render cache misses", d.CacheMisses),
		row("Redirects", d.Redirects),
		row("Deletions", d.Deletions),
	}
}

// Write renders the report to path, replacing it atomically.
func Write(ctx context.Context, path string, d Data) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.WrapIO(err, errors.ErrCodeFileWrite, dir)
	}

	tmp := filepath.Join(dir, ".report-"+uuid.NewString()+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return errors.WrapIO(err, errors.ErrCodeFileWrite, tmp)
	}

	if err := Page(d).Render(ctx, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.WrapIO(err, errors.ErrCodeFileWrite, path)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.WrapIO(err, errors.ErrCodeFileWrite, path)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.WrapIO(err, errors.ErrCodeFileWrite, path)
	}

	return nil
}
