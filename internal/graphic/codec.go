package graphic

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/conneroisu/msssg/internal/config"
	"github.com/conneroisu/msssg/internal/errors"
)

// Codec encodes a raster image into one media type.
type Codec interface {
	MediaType() string
	Encode(ctx context.Context, img image.Image, param Param) ([]byte, error)
}

// Registry maps media types to codecs.
type Registry struct {
	codecs map[string]Codec
}

// NewRegistry returns a registry with the in-process PNG and JPEG codecs
// and the external WebP, AVIF and JPEG XL encoders named in cfg.
func NewRegistry(cfg config.EncodersConfig) *Registry {
	r := &Registry{codecs: make(map[string]Codec)}
	r.Register(pngCodec{})
	r.Register(jpegCodec{})
	r.Register(&externalCodec{
		mediaType: "image/webp",
		binary:    cfg.CWebP,
		extension: "webp",
		args: func(in, out string, p Param) []string {
			if p.Lossless {
				return []string{"-quiet", "-lossless", "-q", "100", "-m", "6", in, "-o", out}
			}

			return []string{"-quiet", "-q", strconv.Itoa(p.Quality), "-m", "6", in, "-o", out}
		},
	})
	r.Register(&externalCodec{
		mediaType: "image/avif",
		binary:    cfg.AVIFEnc,
		extension: "avif",
		args: func(in, out string, p Param) []string {
			if p.Lossless {
				return []string{"-l", "-s", "0", "-j", strconv.Itoa(runtime.NumCPU()), in, out}
			}

			return []string{"-q", strconv.Itoa(p.Quality), "-s", "0", "-j", strconv.Itoa(runtime.NumCPU()), in, out}
		},
	})
	r.Register(&externalCodec{
		mediaType: "image/jxl",
		binary:    cfg.CJXL,
		extension: "jxl",
		args: func(in, out string, p Param) []string {
			return []string{in, out, "-q", strconv.Itoa(p.Quality), "-e", "9"}
		},
	})

	return r
}

// Register adds or replaces the codec for its media type.
func (r *Registry) Register(c Codec) {
	r.codecs[c.MediaType()] = c
}

// Codec returns the codec for mediaType.
func (r *Registry) Codec(mediaType string) (Codec, error) {
	c, ok := r.codecs[mediaType]
	if !ok {
		return nil, errors.NewRenderError(errors.ErrCodeUnknownFormat,
			fmt.Sprintf("no codec for %s", mediaType))
	}

	return c, nil
}

// MediaTypes lists every registered media type, sorted.
func (r *Registry) MediaTypes() []string {
	types := make([]string, 0, len(r.codecs))
	for t := range r.codecs {
		types = append(types, t)
	}
	sort.Strings(types)

	return types
}

// Validate checks that every enabled format has a codec and at least one
// quality tier. Encoder binaries are looked up on first use, see Missing.
func (r *Registry) Validate(formats []string, qualities Qualities) error {
	for _, format := range formats {
		if _, err := r.Codec(format); err != nil {
			return errors.NewConfigError(errors.ErrCodeInvalidConfig,
				fmt.Sprintf("format %s has no codec", format))
		}
		if len(qualities[format]) == 0 {
			return errors.NewConfigError(errors.ErrCodeInvalidConfig,
				fmt.Sprintf("format %s has no quality tiers", format))
		}
		for q, s := range qualities[format] {
			if s.Kind == SettingTable && len(s.Table) == 0 {
				return errors.NewConfigError(errors.ErrCodeInvalidConfig,
					fmt.Sprintf("format %s quality %s has an empty table", format, q))
			}
		}
	}

	return nil
}

// Missing lists the enabled formats whose external encoder is not
// installed. Rendering one of them fails.
func (r *Registry) Missing(formats []string) []string {
	var missing []string
	for _, format := range formats {
		if ext, ok := r.codecs[format].(*externalCodec); ok && ext.installed() != nil {
			missing = append(missing, format)
		}
	}

	return missing
}

type pngCodec struct{}

func (pngCodec) MediaType() string { return "image/png" }

func (pngCodec) Encode(_ context.Context, img image.Image, _ Param) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

type jpegCodec struct{}

func (jpegCodec) MediaType() string { return "image/jpeg" }

func (jpegCodec) Encode(_ context.Context, img image.Image, p Param) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.Quality)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// externalCodec round-trips through a temporary directory: the image is
// written as PNG, the encoder binary is run, and its output read back.
type externalCodec struct {
	mediaType string
	binary    string
	extension string
	args      func(in, out string, p Param) []string

	lookup    sync.Once
	lookupErr error
}

func (c *externalCodec) MediaType() string { return c.mediaType }

func (c *externalCodec) installed() error {
	c.lookup.Do(func() {
		if _, err := exec.LookPath(c.binary); err != nil {
			c.lookupErr = errors.NewConfigError(errors.ErrCodeInvalidConfig,
				fmt.Sprintf("encoder %q for %s not found", c.binary, c.mediaType)).
				WithContext("format", c.mediaType)
		}
	})

	return c.lookupErr
}

func (c *externalCodec) Encode(ctx context.Context, img image.Image, p Param) ([]byte, error) {
	if err := c.installed(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "msssg-encode-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input.png")
	out := filepath.Join(dir, "output."+c.extension)

	if err := imaging.Save(img, in); err != nil {
		return nil, err
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.binary, c.args(in, out, p)...)
	cmd.Stderr = &stderr
	isolate(cmd)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.FromContext(ctx.Err())
		}

		return nil, fmt.Errorf("%s: %w: %s", c.binary, err, bytes.TrimSpace(stderr.Bytes()))
	}

	return os.ReadFile(out)
}
