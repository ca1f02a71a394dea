package content

import (
	"bytes"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterminismProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("hash is stable for equal inputs", prop.ForAll(
		func(data []byte, discriminator string) bool {
			return Hash(data, discriminator) == Hash(bytes.Clone(data), discriminator)
		},
		gen.SliceOf(gen.UInt8()),
		gen.AlphaString(),
	))

	properties.Property("URI is prefixed base64url of fixed length", prop.ForAll(
		func(data []byte) bool {
			uri := Hash(data, "").URI()
			encoded := strings.TrimPrefix(uri, AssetPrefix)

			return strings.HasPrefix(uri, AssetPrefix) &&
				len(encoded) == 22 &&
				!strings.ContainsAny(encoded, "+/=")
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("discriminator changes the id", prop.ForAll(
		func(data []byte, discriminator string) bool {
			return Hash(data, "") != Hash(data, "/"+discriminator)
		},
		gen.SliceOf(gen.UInt8()),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestHashKnownDifferences(t *testing.T) {
	a := Hash([]byte("hello"), "")
	b := Hash([]byte("hello!"), "")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a.URI(), b.URI())
}

func TestETags(t *testing.T) {
	id := Hash([]byte("page"), "/about")
	etag := id.ETag()

	assert.True(t, strings.HasPrefix(etag, `"`))
	assert.True(t, strings.HasSuffix(etag, `"`))
	assert.Equal(t, `"`+id.String()+`"`, etag)
	assert.Equal(t, `""`, ImmutableETag)
}

func TestFilename(t *testing.T) {
	id := Hash([]byte("big blob"), "")

	plain := id.Filename("")
	assert.Len(t, plain, 26)
	assert.Equal(t, strings.ToUpper(plain), plain)
	assert.NotContains(t, plain, "=")
	assert.Equal(t, plain+"-gzip", id.Filename("gzip"))
}

func TestKeyFilename(t *testing.T) {
	name := KeyFilename("src/a.png;image/jpeg;100;HIGH")
	assert.NotContains(t, name, "/")
	assert.NotContains(t, name, "=")
	assert.NotEqual(t, name, KeyFilename("src/a.png;image/jpeg;200;HIGH"))
}

func TestAssetID(t *testing.T) {
	testCases := []struct {
		name     string
		root     string
		file     string
		expected string
		wantErr  bool
	}{
		{"relative root", ".", "src/www/index.html", "src/www/index.html", false},
		{"cleaned", ".", "src/www/../img/a.png", "src/img/a.png", false},
		{"absolute", "/site", "/site/src/a.png", "src/a.png", false},
		{"filesystem root", "/", "/site/a.png", "site/a.png", false},
		{"backslashes", ".", `src\img\a.png`, "src/img/a.png", false},
		{"nfc", ".", "src/cafe\u0301.html", "src/caf\u00e9.html", false},
		{"escapes", "/site", "/other/a.png", "", true},
		{"escapes relative", ".", "../a.png", "", true},
		{"mixed", "/site", "src/a.png", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := AssetID(tc.root, tc.file)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, id)
		})
	}
}
