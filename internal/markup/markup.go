// Package markup transforms msssg documents into plain HTML. Elements carrying
// msssg: extension attributes have their sub-assets registered and the
// referencing attribute rewritten, and <picture msssg:type="GRAPHIC">
// containers are expanded into one <source> per rendered format. No msssg:
// tag or attribute survives a successful transform.
package markup

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/conneroisu/msssg/internal/errors"
	"github.com/conneroisu/msssg/internal/graphic"
	"github.com/conneroisu/msssg/internal/logging"
	"github.com/conneroisu/msssg/internal/store"
	"github.com/conneroisu/msssg/internal/task"
)

const (
	// MediaType marks a manifest or sub-asset entry as an msssg document.
	MediaType = "text/msssg+html"
	// OutputType is the media type of a transformed document.
	OutputType = "text/html;charset=UTF-8"

	// Prefix starts every extension tag and attribute.
	Prefix = "msssg:"

	attrAsset   = Prefix + "asset"
	attrType    = Prefix + "type"
	attrQuality = Prefix + "quality"

	typeGraphic = "GRAPHIC"
)

// Resolver registers the assets a document references.
type Resolver interface {
	RegisterFile(ctx context.Context, path, mediaType string, cache store.Cache, uri string) (string, error)
	RenderGraphicSet(ctx context.Context, path string, q graphic.Quality) (graphic.Set, error)
}

// Options configures a Transformer.
type Options struct {
	// FallbackWidth selects the img fallback and orders formats by size.
	FallbackWidth int
	Logger        logging.Logger
}

// Transformer rewrites msssg documents.
type Transformer struct {
	fallback  int
	scheduler *task.Scheduler
	logger    logging.Logger
}

// NewTransformer returns a transformer running sub-asset resolution as
// local tasks on scheduler.
func NewTransformer(opts Options, scheduler *task.Scheduler) *Transformer {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Transformer{
		fallback:  opts.FallbackWidth,
		scheduler: scheduler,
		logger:    logger.WithComponent("markup"),
	}
}

type assetRef struct {
	node *html.Node
	attr string
	task *task.Task[string]
}

type pictureRef struct {
	picture *html.Node
	img     *html.Node
	quality graphic.Quality
	task    *task.Task[graphic.Set]
}

// Transform parses the document at path (already read into data), resolves
// its extension markup through resolver and returns the serialized result.
func (t *Transformer) Transform(ctx context.Context, resolver Resolver, path string, data []byte) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewMarkupError(errors.ErrCodeMarkupParse, "parse document").
			WithLocation(path, 0).
			WithContext("cause", err.Error())
	}

	dir := filepath.Dir(path)

	var (
		assets   []assetRef
		pictures []pictureRef
	)

	var walkErr error
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}

		if _, ok := attr(n, attrAsset); ok {
			ref, err := t.startAsset(ctx, resolver, dir, n)
			if err != nil {
				walkErr = err
				return false
			}
			assets = append(assets, ref)
		}

		if n.Data == "picture" {
			if kind, _ := attr(n, attrType); kind == typeGraphic {
				ref, err := t.startPicture(ctx, resolver, dir, n)
				if err != nil {
					walkErr = err
					return false
				}
				pictures = append(pictures, ref)
			}
		}

		return true
	})
	if walkErr != nil {
		settle(ctx, assets, pictures)
		return nil, located(walkErr, path)
	}

	for _, ref := range assets {
		uri, err := ref.task.Await(ctx)
		if err != nil {
			settle(ctx, assets, pictures)
			return nil, err
		}
		removeAttr(ref.node, attrAsset)
		removeAttr(ref.node, attrType)
		setAttr(ref.node, ref.attr, uri)
	}

	for _, ref := range pictures {
		set, err := ref.task.Await(ctx)
		if err != nil {
			settle(ctx, assets, pictures)
			return nil, err
		}
		if err := t.expand(ref, set); err != nil {
			settle(ctx, assets, pictures)
			return nil, located(err, path)
		}
	}

	if err := checkResidual(doc); err != nil {
		return nil, located(err, path)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, errors.NewMarkupError(errors.ErrCodeMarkupParse, "render document").
			WithLocation(path, 0).
			WithContext("cause", err.Error())
	}

	t.logger.Debug(ctx, "Transformed document",
		"path", path,
		"assets", len(assets),
		"pictures", len(pictures),
	)

	return buf.Bytes(), nil
}

func (t *Transformer) startAsset(ctx context.Context, resolver Resolver, dir string, n *html.Node) (assetRef, error) {
	target, _ := attr(n, attrAsset)
	mediaType, ok := attr(n, attrType)
	if !ok || mediaType == "" {
		return assetRef{}, errors.NewMarkupError(errors.ErrCodeMissingAttribute,
			fmt.Sprintf("<%s %s=%q> has no %s", n.Data, attrAsset, target, attrType))
	}
	value, ok := attr(n, target)
	if !ok || value == "" {
		return assetRef{}, errors.NewMarkupError(errors.ErrCodeMissingAttribute,
			fmt.Sprintf("<%s> declares asset attribute %q but does not set it", n.Data, target))
	}

	subpath := filepath.Join(dir, filepath.FromSlash(value))
	tk := task.SpawnLocal(t.scheduler, func(ctx context.Context) (string, error) {
		return resolver.RegisterFile(ctx, subpath, mediaType, store.CacheIndefinite, "")
	})

	return assetRef{node: n, attr: target, task: tk}, nil
}

func (t *Transformer) startPicture(ctx context.Context, resolver Resolver, dir string, picture *html.Node) (pictureRef, error) {
	name, ok := attr(picture, attrQuality)
	if !ok {
		return pictureRef{}, errors.NewMarkupError(errors.ErrCodeMissingAttribute,
			fmt.Sprintf("<picture %s=%q> has no %s", attrType, typeGraphic, attrQuality))
	}
	quality, err := graphic.ParseQuality(name)
	if err != nil {
		return pictureRef{}, err
	}

	var imgs, sources []*html.Node
	walk(picture, func(n *html.Node) bool {
		if n == picture || n.Type != html.ElementNode {
			return true
		}
		switch n.Data {
		case "img":
			imgs = append(imgs, n)
		case "source":
			sources = append(sources, n)
		}

		return true
	})

	switch {
	case len(imgs) == 0:
		return pictureRef{}, errors.NewMarkupError(errors.ErrCodeMissingImg, "picture has no img")
	case len(imgs) > 1:
		return pictureRef{}, errors.NewMarkupError(errors.ErrCodeMultipleImg,
			fmt.Sprintf("picture has %d img elements", len(imgs)))
	case len(sources) > 0:
		return pictureRef{}, errors.NewMarkupError(errors.ErrCodeSourceUnsupported,
			"source elements inside a graphic picture are unsupported")
	}

	img := imgs[0]
	src, ok := attr(img, "src")
	if !ok || src == "" {
		return pictureRef{}, errors.NewMarkupError(errors.ErrCodeMissingAttribute, "picture img has no src")
	}

	path := filepath.Join(dir, filepath.FromSlash(src))
	tk := task.SpawnLocal(t.scheduler, func(ctx context.Context) (graphic.Set, error) {
		return resolver.RenderGraphicSet(ctx, path, quality)
	})

	return pictureRef{picture: picture, img: img, quality: quality, task: tk}, nil
}

// settle waits for every started resolution so that none is still
// registering once the document has failed.
func settle(ctx context.Context, assets []assetRef, pictures []pictureRef) {
	for _, ref := range assets {
		_, _ = ref.task.Await(ctx)
	}
	for _, ref := range pictures {
		_, _ = ref.task.Await(ctx)
	}
}

// expand inserts one <source> per format before the img, smallest format
// first, and points the img at the fallback rendition.
func (t *Transformer) expand(ref pictureRef, set graphic.Set) error {
	fallbackFormat := "image/jpeg"
	if ref.quality == graphic.Lossless {
		fallbackFormat = "image/png"
	}
	fallback, ok := set[fallbackFormat][t.fallback]
	if !ok {
		return errors.NewMarkupError(errors.ErrCodeMissingFallback,
			fmt.Sprintf("no %s rendition at width %d for the img fallback", fallbackFormat, t.fallback))
	}

	removeAttr(ref.picture, attrQuality)
	removeAttr(ref.picture, attrType)
	removeAttr(ref.img, "src")
	removeAttr(ref.img, "srcset")
	sizes, hasSizes := attr(ref.img, "sizes")
	removeAttr(ref.img, "sizes")

	for _, format := range set.BySize(t.fallback) {
		entries := make([]string, 0, len(set[format]))
		for _, width := range set.Widths(format) {
			entries = append(entries, set[format][width].URI+" "+strconv.Itoa(width)+"w")
		}

		source := &html.Node{
			Type: html.ElementNode,
			Data: "source",
			Attr: []html.Attribute{
				{Key: "type", Val: format},
				{Key: "srcset", Val: strings.Join(entries, ", ")},
			},
		}
		if hasSizes {
			source.Attr = append(source.Attr, html.Attribute{Key: "sizes", Val: sizes})
		}
		ref.img.Parent.InsertBefore(source, ref.img)
	}

	setAttr(ref.img, "src", fallback.URI)

	return nil
}

// checkResidual fails if any extension tag or attribute remains.
func checkResidual(doc *html.Node) error {
	var err error
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if strings.HasPrefix(n.Data, Prefix) {
			err = errors.NewMarkupError(errors.ErrCodeResidualExtension,
				fmt.Sprintf("found extension tag <%s>", n.Data))
			return false
		}
		for _, a := range n.Attr {
			if strings.HasPrefix(a.Key, Prefix) || a.Namespace == strings.TrimSuffix(Prefix, ":") {
				err = errors.NewMarkupError(errors.ErrCodeResidualExtension,
					fmt.Sprintf("found extension attribute %s on <%s>", a.Key, n.Data))
				return false
			}
		}

		return true
	})

	return err
}

func located(err error, path string) error {
	if be, ok := err.(*errors.BuildError); ok && be.FilePath == "" {
		return be.WithLocation(path, 0)
	}

	return err
}

// walk visits n and its descendants depth-first in document order until
// fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}

	return true
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}

	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}
