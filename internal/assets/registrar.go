// Package assets owns the per-build asset bookkeeping: which asset ids have
// been registered at which URIs, which file registrations and renders are in
// flight, and the URI history carried across builds. All of it sits behind a
// single mutex held only for map operations.
package assets

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/conneroisu/msssg/internal/content"
	"github.com/conneroisu/msssg/internal/errors"
	"github.com/conneroisu/msssg/internal/graphic"
	"github.com/conneroisu/msssg/internal/logging"
	"github.com/conneroisu/msssg/internal/markup"
	"github.com/conneroisu/msssg/internal/store"
	"github.com/conneroisu/msssg/internal/task"
)

// ResourceStore is the write side of the content store.
type ResourceStore interface {
	RegisterResource(ctx context.Context, data []byte, mediaType string, cache store.Cache, uri string, encode bool) (string, error)
}

// GraphicRenderer renders responsive image sets.
type GraphicRenderer interface {
	RenderSet(ctx context.Context, reg graphic.Registrar, path string, q graphic.Quality) (graphic.Set, error)
}

// Transformer rewrites msssg markup documents.
type Transformer interface {
	Transform(ctx context.Context, resolver markup.Resolver, path string, data []byte) ([]byte, error)
}

// Options configures a Registrar.
type Options struct {
	// Root is the project root asset ids are relative to.
	Root string
	// History is the URI history loaded from the previous build.
	History map[string]string
	Logger  logging.Logger
}

type fileEntry struct {
	uri  string
	task *task.Task[string]
}

// Registrar is the single owner of the asset, file, render and history maps.
type Registrar struct {
	root        string
	store       ResourceStore
	renderer    GraphicRenderer
	transformer Transformer
	scheduler   *task.Scheduler
	logger      logging.Logger

	mu       sync.Mutex
	assets   map[string]string
	reserved map[string]struct{}
	files    map[string]*fileEntry
	renders  map[string]*task.Task[graphic.Variant]
	history  map[string]string
	// waits maps a markup document to the files it is awaiting.
	waits    map[string]map[string]int
}

// New returns a registrar writing through st. renderer and transformer may
// be nil when the build has no graphics or markup.
func New(opts Options, st ResourceStore, renderer GraphicRenderer, transformer Transformer, scheduler *task.Scheduler) *Registrar {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	history := make(map[string]string, len(opts.History))
	for uri, id := range opts.History {
		history[uri] = id
	}

	return &Registrar{
		root:        opts.Root,
		store:       st,
		renderer:    renderer,
		transformer: transformer,
		scheduler:   scheduler,
		logger:      logger.WithComponent("registrar"),
		assets:      make(map[string]string),
		reserved:    make(map[string]struct{}),
		files:       make(map[string]*fileEntry),
		renders:     make(map[string]*task.Task[graphic.Variant]),
		history:     history,
		waits:       make(map[string]map[string]int),
	}
}

// RegisterAsset stores data and records it under id. An id may be
// registered once per build.
func (r *Registrar) RegisterAsset(ctx context.Context, id string, data []byte, mediaType string, cache store.Cache, uri string, encode bool) (string, error) {
	r.mu.Lock()
	_, done := r.assets[id]
	_, pending := r.reserved[id]
	if done || pending {
		r.mu.Unlock()
		return "", errors.NewManifestError(errors.ErrCodeDuplicateAsset,
			fmt.Sprintf("asset %q registered twice", id)).WithAsset(id)
	}
	r.reserved[id] = struct{}{}
	r.mu.Unlock()

	registered, err := r.store.RegisterResource(ctx, data, mediaType, cache, uri, encode)

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.reserved, id)
	if err != nil {
		if be, ok := err.(*errors.BuildError); ok && be.AssetID == "" {
			be.WithAsset(id)
		}
		return "", err
	}
	r.assets[id] = registered
	r.history[registered] = id

	r.logger.Debug(ctx, "Registered asset", "id", id, "uri", registered, "bytes", len(data))

	return registered, nil
}

// FileRequest is one file registration. An empty URI leaves the choice to
// the store.
type FileRequest struct {
	Path      string
	MediaType string
	Cache     store.Cache
	URI       string
}

// RegisterFile registers the file at path once per build. Requests for a
// file already registered or in flight share its result. Markup documents
// are transformed first and served as HTML.
func (r *Registrar) RegisterFile(ctx context.Context, path, mediaType string, cache store.Cache, uri string) (string, error) {
	return r.registerFrom(ctx, "", FileRequest{Path: path, MediaType: mediaType, Cache: cache, URI: uri})
}

// StartFiles starts every request in one critical section and returns their
// tasks in order. Explicit URIs are claimed before any document can reach
// the same file without one.
func (r *Registrar) StartFiles(reqs []FileRequest) ([]*task.Task[string], error) {
	ids := make([]string, len(reqs))
	for i, req := range reqs {
		id, err := r.fileID(req)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tasks := make([]*task.Task[string], len(reqs))
	for i, req := range reqs {
		t, err := r.startFileLocked(ids[i], req)
		if err != nil {
			return nil, err
		}
		tasks[i] = t
	}

	return tasks, nil
}

// registerFrom registers req on behalf of the document doc, or of the
// build itself when doc is empty. A document waiting on a file that is
// itself waiting on the document fails instead of blocking forever.
func (r *Registrar) registerFrom(ctx context.Context, doc string, req FileRequest) (string, error) {
	id, err := r.fileID(req)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	t, err := r.startFileLocked(id, req)
	if err == nil && doc != "" {
		if r.reaches(id, doc) {
			err = errors.NewMarkupError(errors.ErrCodeCyclicReference,
				fmt.Sprintf("%q references %q, which is waiting on it", doc, id)).
				WithAsset(doc).
				WithLocation(req.Path, 0)
		} else {
			r.addWait(doc, id)
			defer r.removeWait(doc, id)
		}
	}
	r.mu.Unlock()

	if err != nil {
		return "", err
	}

	return t.Await(ctx)
}

func (r *Registrar) fileID(req FileRequest) (string, error) {
	if req.MediaType == "" {
		return "", errors.NewManifestError(errors.ErrCodeMissingField,
			"asset has no media type").WithLocation(req.Path, 0)
	}

	id, err := content.AssetID(r.root, req.Path)
	if err != nil {
		return "", errors.NewIOError(errors.ErrCodeFileRead, "resolve asset path", err).WithLocation(req.Path, 0)
	}

	return id, nil
}

// startFileLocked returns the task registering id, starting it when id is
// new. The caller holds r.mu.
func (r *Registrar) startFileLocked(id string, req FileRequest) (*task.Task[string], error) {
	if entry, ok := r.files[id]; ok {
		if req.URI == "" || req.URI == entry.uri {
			return entry.task, nil
		}

		existing := fmt.Sprintf("%q", entry.uri)
		if entry.uri == "" {
			existing = "its content URI"
		}

		return nil, errors.NewManifestError(errors.ErrCodeConflictingURI,
			fmt.Sprintf("asset %q requested at %q but already registered at %s", id, req.URI, existing)).
			WithAsset(id)
	}

	entry := &fileEntry{uri: req.URI}
	entry.task = task.SpawnLocal(r.scheduler, func(ctx context.Context) (string, error) {
		return r.registerFile(ctx, id, req)
	})
	r.files[id] = entry

	return entry.task, nil
}

func (r *Registrar) registerFile(ctx context.Context, id string, req FileRequest) (string, error) {
	data, err := os.ReadFile(req.Path)
	if err != nil {
		return "", errors.WrapIO(err, errors.ErrCodeFileRead, req.Path)
	}

	mediaType := req.MediaType
	if mediaType == markup.MediaType {
		if r.transformer == nil {
			return "", errors.NewInternalError(errors.ErrCodeInvalidConfig, "no markup transformer configured", nil)
		}
		data, err = r.transformer.Transform(ctx, &document{r: r, id: id}, req.Path, data)
		if err != nil {
			return "", err
		}
		mediaType = markup.OutputType
	}

	return r.RegisterAsset(ctx, id, data, mediaType, req.Cache, req.URI, true)
}

// reaches reports whether from is to or is waiting, directly or through
// other documents, on to. The caller holds r.mu.
func (r *Registrar) reaches(from, to string) bool {
	seen := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		for next := range r.waits[id] {
			stack = append(stack, next)
		}
	}

	return false
}

func (r *Registrar) addWait(doc, id string) {
	if r.waits[doc] == nil {
		r.waits[doc] = make(map[string]int)
	}
	r.waits[doc][id]++
}

func (r *Registrar) removeWait(doc, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.waits[doc][id]--; r.waits[doc][id] <= 0 {
		delete(r.waits[doc], id)
	}
	if len(r.waits[doc]) == 0 {
		delete(r.waits, doc)
	}
}

// document resolves the references of one markup document so the
// registrar knows which document is waiting on which file.
type document struct {
	r  *Registrar
	id string
}

func (d *document) RegisterFile(ctx context.Context, path, mediaType string, cache store.Cache, uri string) (string, error) {
	return d.r.registerFrom(ctx, d.id, FileRequest{Path: path, MediaType: mediaType, Cache: cache, URI: uri})
}

func (d *document) RenderGraphicSet(ctx context.Context, path string, q graphic.Quality) (graphic.Set, error) {
	return d.r.RenderGraphicSet(ctx, path, q)
}

// RegisterPermalink stores the file at path under uri without tracking it
// as an asset, so it never takes part in history resolution.
func (r *Registrar) RegisterPermalink(ctx context.Context, path, mediaType string, cache store.Cache, uri string) (string, error) {
	if mediaType == "" {
		return "", errors.NewManifestError(errors.ErrCodeMissingField,
			"permalink has no media type").WithLocation(path, 0)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.WrapIO(err, errors.ErrCodeFileRead, path)
	}

	return r.store.RegisterResource(ctx, data, mediaType, cache, uri, true)
}

// RenderGraphicSet renders the graphic at path at every configured width.
func (r *Registrar) RenderGraphicSet(ctx context.Context, path string, q graphic.Quality) (graphic.Set, error) {
	if r.renderer == nil {
		return nil, errors.NewInternalError(errors.ErrCodeInvalidConfig, "no graphic renderer configured", nil)
	}

	return r.renderer.RenderSet(ctx, r, path, q)
}

// RenderTask returns the render task registered under key, creating it with
// start when key is new.
func (r *Registrar) RenderTask(key string, start func() *task.Task[graphic.Variant]) *task.Task[graphic.Variant] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.renders[key]; ok {
		return t
	}
	t := start()
	r.renders[key] = t

	return t
}

// ClearHistory forgets the asset previously served at uri.
func (r *Registrar) ClearHistory(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.history, uri)
}

// Assets returns a snapshot of the asset id to URI map.
func (r *Registrar) Assets() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return copyMap(r.assets)
}

// History returns a snapshot of the URI to asset id history.
func (r *Registrar) History() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return copyMap(r.history)
}

// Counts reports registered assets, files and render keys.
func (r *Registrar) Counts() (assets, files, renders int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.assets), len(r.files), len(r.renders)
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}
