// Package graphic renders responsive image variants. A source image is
// rendered once per render key (asset id, format, width, quality) per build,
// reusing artifacts from the render cache when the source has not changed
// since they were produced.
package graphic

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"github.com/conneroisu/msssg/internal/buildcache"
	"github.com/conneroisu/msssg/internal/content"
	"github.com/conneroisu/msssg/internal/errors"
	"github.com/conneroisu/msssg/internal/logging"
	"github.com/conneroisu/msssg/internal/store"
	"github.com/conneroisu/msssg/internal/task"
)

// Variant is one registered rendition.
type Variant struct {
	URI    string
	Length int
}

// Set maps media type to width to the variant rendered at that width.
type Set map[string]map[int]Variant

// Widths returns the widths rendered for format in ascending order.
func (s Set) Widths(format string) []int {
	widths := make([]int, 0, len(s[format]))
	for w := range s[format] {
		widths = append(widths, w)
	}
	sort.Ints(widths)

	return widths
}

// BySize orders the formats ascending by the byte length of their variant
// at width. Formats without that width sort last.
func (s Set) BySize(width int) []string {
	formats := make([]string, 0, len(s))
	for f := range s {
		formats = append(formats, f)
	}

	sort.SliceStable(formats, func(i, j int) bool {
		a, aok := s[formats[i]][width]
		b, bok := s[formats[j]][width]
		if aok != bok {
			return aok
		}
		if a.Length != b.Length {
			return a.Length < b.Length
		}

		return formats[i] < formats[j]
	})

	return formats
}

// Registrar owns the asset map and the render-task map.
type Registrar interface {
	RegisterAsset(ctx context.Context, id string, data []byte, mediaType string, cache store.Cache, uri string, encode bool) (string, error)
	// RenderTask returns the task registered under key, calling start to
	// create it when the key is new.
	RenderTask(key string, start func() *task.Task[Variant]) *task.Task[Variant]
}

// Options configures a Renderer.
type Options struct {
	// Root is the directory asset ids are relative to.
	Root          string
	Formats       []string
	StepWidth     int
	MaxWidth      int
	FallbackWidth int
	Qualities     Qualities
	Registry      *Registry
	// Cache may be nil, in which case every variant is rendered.
	Cache *buildcache.RenderCache
	// Revision is the current build's revision, recorded on new artifacts.
	Revision float64
	Logger   logging.Logger
}

// Renderer produces graphic sets.
type Renderer struct {
	opts      Options
	scheduler *task.Scheduler
	logger    logging.Logger

	rendered atomic.Int64
	reused   atomic.Int64
}

// NewRenderer validates the format, codec and quality configuration and
// returns a renderer.
func NewRenderer(opts Options, scheduler *task.Scheduler) (*Renderer, error) {
	if opts.Qualities == nil {
		opts.Qualities = DefaultQualities()
	}
	if opts.StepWidth <= 0 || opts.MaxWidth < opts.StepWidth {
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("invalid width steps %d..%d", opts.StepWidth, opts.MaxWidth))
	}
	if opts.Registry == nil {
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig, "no codec registry")
	}
	if err := opts.Registry.Validate(opts.Formats, opts.Qualities); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Renderer{
		opts:      opts,
		scheduler: scheduler,
		logger:    logger.WithComponent("graphic"),
	}, nil
}

// FallbackWidth is the width of the img fallback and the size-ordering
// reference.
func (r *Renderer) FallbackWidth() int {
	return r.opts.FallbackWidth
}

// Counts returns how many variants were rendered and how many were reused
// from the render cache.
func (r *Renderer) Counts() (rendered, reused int64) {
	return r.rendered.Load(), r.reused.Load()
}

// RenderKey identifies one variant.
func RenderKey(id, format string, width int, q Quality) string {
	return fmt.Sprintf("%s;%s;%d;%s", id, format, width, q)
}

type target struct {
	format  string
	quality Quality
	setting Setting
}

// RenderSet renders path at every configured width for every enabled
// format that supports q (HIGH standing in for VERY HIGH), registers each
// variant through reg and returns the set.
func (r *Renderer) RenderSet(ctx context.Context, reg Registrar, path string, q Quality) (Set, error) {
	id, err := content.AssetID(r.opts.Root, path)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeFileRead, "resolve graphic path", err).WithLocation(path, 0)
	}

	targets := make([]target, 0, len(r.opts.Formats))
	for _, format := range r.opts.Formats {
		effective, ok := r.opts.Qualities.Resolve(format, q)
		if !ok {
			continue
		}
		targets = append(targets, target{format, effective, r.opts.Qualities[format][effective]})
	}
	if len(targets) == 0 {
		return nil, errors.NewRenderError(errors.ErrCodeUnsupportedQuality,
			fmt.Sprintf("no enabled format supports quality %s", q)).WithAsset(id)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeFileRead, path)
	}
	sourceRevision := buildcache.Revision(info.ModTime())

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeFileRead, path)
	}

	type pending struct {
		format string
		width  int
		task   *task.Task[Variant]
	}

	var tasks []pending
	for _, t := range targets {
		codec, err := r.opts.Registry.Codec(t.format)
		if err != nil {
			return nil, err
		}

		for width := r.opts.StepWidth; width <= r.opts.MaxWidth; width += r.opts.StepWidth {
			key := RenderKey(id, t.format, width, t.quality)
			param := t.setting.Param(width)
			format := t.format

			vt := reg.RenderTask(key, func() *task.Task[Variant] {
				return task.SpawnLocal(r.scheduler, func(ctx context.Context) (Variant, error) {
					return r.produce(ctx, reg, key, format, width, source, sourceRevision, param, codec)
				})
			})

			tasks = append(tasks, pending{format, width, vt})
		}
	}

	set := make(Set, len(targets))
	for _, p := range tasks {
		v, err := p.task.Await(ctx)
		if err != nil {
			return nil, err
		}
		if set[p.format] == nil {
			set[p.format] = make(map[int]Variant)
		}
		set[p.format][p.width] = v
	}

	return set, nil
}

// produce resolves the bytes of one variant, from the render cache or by
// rendering on the pool, and registers them as an asset.
func (r *Renderer) produce(ctx context.Context, reg Registrar, key, format string, width int, source []byte, sourceRevision float64, param Param, codec Codec) (Variant, error) {
	var data []byte
	if r.opts.Cache != nil {
		if cached, ok := r.opts.Cache.Load(key, sourceRevision); ok {
			data = cached
			r.reused.Add(1)
			r.logger.Debug(ctx, "Reused cached render", "key", key)
		}
	}

	if data == nil {
		rendered, err := task.SpawnParallel(r.scheduler, func(ctx context.Context) ([]byte, error) {
			return Render(ctx, source, width, param, codec)
		}).Await(ctx)
		if err != nil {
			if be, ok := err.(*errors.BuildError); ok && be.AssetID == "" {
				be.WithAsset(key)
			}
			return Variant{}, err
		}
		data = rendered
		r.rendered.Add(1)

		if r.opts.Cache != nil {
			if err := r.opts.Cache.Store(key, data, r.opts.Revision); err != nil {
				return Variant{}, err
			}
		}
	}

	uri, err := reg.RegisterAsset(ctx, key, data, format, store.CacheIndefinite, "", false)
	if err != nil {
		return Variant{}, err
	}

	return Variant{URI: uri, Length: len(data)}, nil
}
