package store

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Encoder produces one HTTP content encoding of a payload.
type Encoder interface {
	// Name is the Content-Encoding token stored in the encodings table.
	Name() string
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// zstdEncoder and zstdDecoder are reused across calls. zstd.Encoder and
// zstd.Decoder are safe for concurrent use through EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedBestCompression),
	)
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

var encoders = map[string]Encoder{
	"gzip":    gzipEncoder{},
	"deflate": deflateEncoder{},
	"br":      brotliEncoder{},
	"zstd":    zstdCodec{},
}

// LookupEncoder returns the encoder registered under name.
func LookupEncoder(name string) (Encoder, bool) {
	e, ok := encoders[name]

	return e, ok
}

// EncoderNames lists every registered encoding.
func EncoderNames() []string {
	return []string{"gzip", "deflate", "br", "zstd"}
}

// Decode reverses the named encoding.
func Decode(name string, data []byte) ([]byte, error) {
	if name == "" {
		return data, nil
	}
	e, ok := encoders[name]
	if !ok {
		return nil, fmt.Errorf("unknown encoding %q", name)
	}

	return e.Decode(data)
}

type gzipEncoder struct{}

func (gzipEncoder) Name() string { return "gzip" }

func (gzipEncoder) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}

	return finish(&buf, w, data)
}

func (gzipEncoder) Decode(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip decode: %w", err)
	}
	defer r.Close()

	return io.ReadAll(r)
}

// deflateEncoder produces the zlib stream HTTP calls "deflate".
type deflateEncoder struct{}

func (deflateEncoder) Name() string { return "deflate" }

func (deflateEncoder) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}

	return finish(&buf, w, data)
}

func (deflateEncoder) Decode(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("deflate decode: %w", err)
	}
	defer r.Close()

	return io.ReadAll(r)
}

type brotliEncoder struct{}

func (brotliEncoder) Name() string { return "br" }

func (brotliEncoder) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.BestCompression)

	return finish(&buf, w, data)
}

func (brotliEncoder) Decode(data []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
}

type zstdCodec struct{}

func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) Encode(data []byte) ([]byte, error) {
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (zstdCodec) Decode(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}

	return out, nil
}

func finish(buf *bytes.Buffer, w io.WriteCloser, data []byte) ([]byte, error) {
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
