// Package build runs a complete site build: it loads the manifest, wires the
// scheduler, store, renderer, markup transform and registrar together,
// processes every manifest entry, resolves URI history, persists the
// database and saves the build caches.
package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/conneroisu/msssg/internal/assets"
	"github.com/conneroisu/msssg/internal/buildcache"
	"github.com/conneroisu/msssg/internal/config"
	"github.com/conneroisu/msssg/internal/errors"
	"github.com/conneroisu/msssg/internal/graphic"
	"github.com/conneroisu/msssg/internal/history"
	"github.com/conneroisu/msssg/internal/logging"
	"github.com/conneroisu/msssg/internal/manifest"
	"github.com/conneroisu/msssg/internal/markup"
	"github.com/conneroisu/msssg/internal/report"
	"github.com/conneroisu/msssg/internal/store"
	"github.com/conneroisu/msssg/internal/task"
)

// DatabaseFile is the name of the persisted database in the output bundle.
const DatabaseFile = "database.db"

// Result summarizes one build.
type Result struct {
	Started  time.Time
	Duration time.Duration
	Error    error

	Entries   int
	Assets    int
	Files     int
	Renders   int
	Rendered  int64
	Reused    int64
	Redirects int
	Deletions int

	CacheHits   int
	CacheMisses int

	Store     store.Stats
	Scheduler task.Stats
	Records   []store.Record
	Decisions []history.Decision
}

// Callback is called after every build, failed or not.
type Callback func(result *Result)

// Builder runs builds from one configuration.
type Builder struct {
	cfg     *config.Config
	logger  logging.Logger
	metrics *Metrics

	mu        sync.Mutex
	callbacks []Callback
}

// NewBuilder returns a builder for cfg.
func NewBuilder(cfg *config.Config, logger logging.Logger) *Builder {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Builder{
		cfg:     cfg,
		logger:  logger.WithComponent("build"),
		metrics: NewMetrics(),
	}
}

// AddCallback registers fn to receive every build result.
func (b *Builder) AddCallback(fn Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.callbacks = append(b.callbacks, fn)
}

// Metrics returns the builder's accumulated metrics.
func (b *Builder) Metrics() *Metrics {
	return b.metrics
}

// Validate loads the manifest and checks the graphic configuration without
// touching the output or cache directories.
func (b *Builder) Validate() (*manifest.Manifest, error) {
	m, err := manifest.Load(b.cfg.Build.Manifest)
	if err != nil {
		return nil, err
	}

	registry := graphic.NewRegistry(b.cfg.Graphics.Encoders)
	if err := registry.Validate(b.cfg.Graphics.Formats, graphic.DefaultQualities()); err != nil {
		return nil, err
	}
	b.warnMissingEncoders(context.Background(), registry)

	for _, e := range m.Entries {
		if e.Path == "" {
			continue
		}
		path := filepath.Join(b.cfg.Build.Root, e.Path)
		if _, err := os.Stat(path); err != nil {
			return nil, errors.WrapIO(err, errors.ErrCodeFileRead, path)
		}
	}

	return m, nil
}

// Run performs one build. Any failure cancels the remaining work; the
// output directory is left as it is.
func (b *Builder) Run(ctx context.Context) (*Result, error) {
	result := &Result{Started: time.Now()}

	err := b.run(ctx, result)
	result.Duration = time.Since(result.Started)
	result.Error = errors.FromContext(err)

	b.metrics.Record(result)

	b.mu.Lock()
	callbacks := append([]Callback(nil), b.callbacks...)
	b.mu.Unlock()
	for _, fn := range callbacks {
		fn(result)
	}

	if result.Error != nil {
		b.logger.Error(ctx, result.Error, "Build failed", "duration", result.Duration)
		return result, result.Error
	}

	b.logger.Info(ctx, "Build completed",
		"duration", result.Duration,
		"entries", result.Entries,
		"assets", result.Assets,
		"rendered", result.Rendered,
		"reused", result.Reused,
	)

	return result, nil
}

func (b *Builder) run(ctx context.Context, result *Result) error {
	cfg := b.cfg
	revision := buildcache.Revision(result.Started)

	// The manifest is fully validated before any task runs.
	m, err := manifest.Load(cfg.Build.Manifest)
	if err != nil {
		return err
	}
	result.Entries = len(m.Entries)

	cache, err := buildcache.Open(cfg.Build.CacheDir)
	if err != nil {
		return err
	}

	scheduler := task.NewScheduler(cfg.Build.Workers, b.logger)

	registry := graphic.NewRegistry(cfg.Graphics.Encoders)
	renderer, err := graphic.NewRenderer(graphic.Options{
		Root:          cfg.Build.Root,
		Formats:       cfg.Graphics.Formats,
		StepWidth:     cfg.Graphics.StepWidth,
		MaxWidth:      cfg.Graphics.MaxWidth,
		FallbackWidth: cfg.Graphics.FallbackWidth,
		Registry:      registry,
		Cache:         cache.Renders(),
		Revision:      revision,
		Logger:        b.logger,
	}, scheduler)
	if err != nil {
		return err
	}
	b.warnMissingEncoders(ctx, registry)

	// Nothing on disk changes until the configuration has been accepted.
	if err := b.prepareOutput(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	scheduler.Start(ctx)

	var st *store.Store
	defer func() {
		cancel()
		scheduler.Stop()
		scheduler.Wait()
		result.Scheduler = scheduler.Stats()
		// No task holds the store once the scheduler has drained.
		if st != nil {
			st.Close()
		}
	}()

	st, err = store.Open(ctx, store.Options{
		OutputDir:       cfg.Build.Output,
		Encodings:       cfg.Build.Encodings,
		InlineThreshold: cfg.Build.InlineThreshold,
		Logger:          b.logger,
	}, scheduler)
	if err != nil {
		return err
	}

	transformer := markup.NewTransformer(markup.Options{
		FallbackWidth: cfg.Graphics.FallbackWidth,
		Logger:        b.logger,
	}, scheduler)

	reg := assets.New(assets.Options{
		Root:    cfg.Build.Root,
		History: cache.History(),
		Logger:  b.logger,
	}, st, renderer, transformer, scheduler)

	// Manifest URIs are served this build however they are served, so their
	// history must never turn into redirects or deletions.
	for _, uri := range m.URIs() {
		reg.ClearHistory(uri)
	}

	// Resources are started together so their explicit URIs are claimed
	// before any document reaches the same files without one.
	var requests []assets.FileRequest
	tasks := make([]*task.Task[string], 0, len(m.Entries))
	for _, entry := range m.Entries {
		if entry.Action == manifest.ActionResource {
			requests = append(requests, assets.FileRequest{
				Path:      filepath.Join(cfg.Build.Root, entry.Path),
				MediaType: entry.Type,
				Cache:     entry.Cache,
				URI:       entry.URI,
			})
			continue
		}
		tasks = append(tasks, task.SpawnLocal(scheduler, func(ctx context.Context) (string, error) {
			return b.process(ctx, st, reg, entry)
		}))
	}
	resources, err := reg.StartFiles(requests)
	if err != nil {
		return err
	}
	if _, err := task.AwaitAll(ctx, append(tasks, resources...)...); err != nil {
		return err
	}

	decisions := history.Resolve(reg.History(), reg.Assets())
	if err := history.Apply(ctx, st, decisions); err != nil {
		return err
	}
	result.Decisions = decisions
	result.Redirects, result.Deletions = history.Counts(decisions)

	if err := st.Persist(ctx, filepath.Join(cfg.Build.Output, DatabaseFile)); err != nil {
		return err
	}

	if err := cache.Save(reg.History()); err != nil {
		return err
	}

	result.Assets, result.Files, result.Renders = reg.Counts()
	result.Rendered, result.Reused = renderer.Counts()
	result.CacheHits, result.CacheMisses = cache.Renders().Counts()
	if result.Store, err = st.Stats(ctx); err != nil {
		return err
	}
	if result.Records, err = st.URIs(ctx); err != nil {
		return err
	}

	if cfg.Build.Report != "" {
		if err := report.Write(ctx, cfg.Build.Report, reportData(result)); err != nil {
			return err
		}
	}

	return nil
}

func (b *Builder) warnMissingEncoders(ctx context.Context, registry *graphic.Registry) {
	for _, format := range registry.Missing(b.cfg.Graphics.Formats) {
		b.logger.Warn(ctx, nil, "Encoder not installed, graphics in this format will fail to render", "format", format)
	}
}

// process serves one permalink or redirect entry. Resources go through
// Registrar.StartFiles.
func (b *Builder) process(ctx context.Context, st *store.Store, reg *assets.Registrar, entry manifest.Entry) (string, error) {
	b.logger.Debug(ctx, "Processing entry", "uri", entry.URI, "action", entry.Action)

	switch entry.Action {
	case manifest.ActionPermalink:
		return reg.RegisterPermalink(ctx, filepath.Join(b.cfg.Build.Root, entry.Path), entry.Type, entry.Cache, entry.URI)
	case manifest.ActionRedirect:
		return entry.URI, st.InsertRedirect(ctx, entry.URI, entry.Redirect, entry.Location, entry.Cache)
	default:
		return "", errors.NewManifestError(errors.ErrCodeUnknownAction,
			fmt.Sprintf("unknown action %q", entry.Action))
	}
}

// prepareOutput recreates the output directory and copies the runtime
// entry point into it.
func (b *Builder) prepareOutput() error {
	out := b.cfg.Build.Output

	if err := os.RemoveAll(out); err != nil {
		return errors.WrapIO(err, errors.ErrCodeFileWrite, out)
	}
	if err := os.MkdirAll(out, 0755); err != nil {
		return errors.WrapIO(err, errors.ErrCodeFileWrite, out)
	}

	if b.cfg.Build.Runtime == "" {
		return nil
	}

	return copyFile(b.cfg.Build.Runtime, filepath.Join(out, "main"+filepath.Ext(b.cfg.Build.Runtime)))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.WrapIO(err, errors.ErrCodeFileRead, src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.WrapIO(err, errors.ErrCodeFileWrite, dst)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.WrapIO(err, errors.ErrCodeFileWrite, dst)
	}

	return errors.WrapIO(out.Close(), errors.ErrCodeFileWrite, dst)
}

// Clean removes the output directory and the build caches.
func Clean(cfg *config.Config) error {
	if err := os.RemoveAll(cfg.Build.Output); err != nil {
		return errors.WrapIO(err, errors.ErrCodeFileWrite, cfg.Build.Output)
	}

	return buildcache.Clean(cfg.Build.CacheDir)
}

func reportData(r *Result) report.Data {
	return report.Data{
		Started:     r.Started,
		Duration:    time.Since(r.Started),
		Entries:     r.Entries,
		Assets:      r.Assets,
		Rendered:    r.Rendered,
		Reused:      r.Reused,
		Redirects:   r.Redirects,
		Deletions:   r.Deletions,
		CacheHits:   r.CacheHits,
		CacheMisses: r.CacheMisses,
		Store:       r.Store,
		Records:     r.Records,
		Decisions:   r.Decisions,
	}
}
