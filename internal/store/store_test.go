package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/msssg/internal/content"
	"github.com/conneroisu/msssg/internal/errors"
	"github.com/conneroisu/msssg/internal/logging"
	"github.com/conneroisu/msssg/internal/task"
)

func newTestStore(t *testing.T, threshold int) (*Store, string) {
	t.Helper()

	scheduler := task.NewScheduler(2, logging.NewNopLogger())
	scheduler.Start(context.Background())
	t.Cleanup(scheduler.Stop)

	dir := t.TempDir()
	s, err := Open(context.Background(), Options{
		OutputDir:       dir,
		Encodings:       EncoderNames(),
		InlineThreshold: threshold,
	}, scheduler)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, dir
}

func compressible(n int) []byte {
	return []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", n))
}

func TestRegisterResourceContentAddressed(t *testing.T) {
	s, _ := newTestStore(t, 0)
	ctx := context.Background()
	data := compressible(50)

	uri, err := s.RegisterResource(ctx, data, "text/plain", CacheIndefinite, "", true)
	require.NoError(t, err)
	assert.Equal(t, content.Hash(data, "").URI(), uri)

	record, ok, err := s.Lookup(ctx, uri)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ActionResource, record.Action)
	assert.Equal(t, CacheIndefinite, record.Cache)
	assert.Equal(t, "text/plain", record.Type)
	assert.Equal(t, content.ImmutableETag, record.ETag)

	encodings, err := s.Encodings(ctx, uri)
	require.NoError(t, err)
	require.Len(t, encodings, 5)
	assert.Equal(t, "", encodings[0].Name)

	for _, e := range encodings {
		assert.Equal(t, LocationInline, e.Location)
		assert.Equal(t, int64(len(e.Data)), e.Length)
		if e.Name == "" {
			continue
		}
		assert.Less(t, e.Length, int64(len(data)), e.Name)

		decoded, err := Decode(e.Name, e.Data)
		require.NoError(t, err, e.Name)
		assert.Equal(t, data, decoded, e.Name)
	}
}

func TestRegisterResourceRequiresIndefinite(t *testing.T) {
	s, _ := newTestStore(t, 0)

	_, err := s.RegisterResource(context.Background(), []byte("x"), "text/plain", CacheShort, "", true)
	require.Error(t, err)
	assert.True(t, errors.IsStoreError(err))
	assert.Equal(t, errors.ErrCodeRequiresCache, errors.Code(err))
}

func TestRegisterResourceDeduplicates(t *testing.T) {
	s, _ := newTestStore(t, 0)
	ctx := context.Background()

	first, err := s.RegisterResource(ctx, []byte("same bytes"), "text/plain", CacheIndefinite, "", true)
	require.NoError(t, err)
	second, err := s.RegisterResource(ctx, []byte("same bytes"), "text/plain", CacheIndefinite, "", true)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resources)
	assert.Equal(t, int64(1), stats.Deduplicated)
}

func TestRegisterResourceExplicitURI(t *testing.T) {
	s, _ := newTestStore(t, 0)
	ctx := context.Background()
	data := []byte("<html></html>")

	uri, err := s.RegisterResource(ctx, data, "text/html", CacheShort, "/about", true)
	require.NoError(t, err)
	assert.Equal(t, "/about", uri)

	record, ok, err := s.Lookup(ctx, "/about")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, content.Hash(data, "/about").ETag(), record.ETag)
	assert.Equal(t, CacheShort, record.Cache)

	_, err = s.RegisterResource(ctx, data, "text/html", CacheShort, "/about", true)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDuplicateURI, errors.Code(err))
}

func TestIncompressibleKeepsOnlyOriginal(t *testing.T) {
	s, _ := newTestStore(t, 0)
	ctx := context.Background()

	data := make([]byte, 256)
	_, err := rand.Read(data)
	require.NoError(t, err)

	uri, err := s.RegisterResource(ctx, data, "application/octet-stream", CacheIndefinite, "", true)
	require.NoError(t, err)

	encodings, err := s.Encodings(ctx, uri)
	require.NoError(t, err)
	require.Len(t, encodings, 1)
	assert.Equal(t, "", encodings[0].Name)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Discarded)
}

func TestRegisterWithoutEncoding(t *testing.T) {
	s, _ := newTestStore(t, 0)
	ctx := context.Background()

	uri, err := s.RegisterResource(ctx, compressible(20), "image/png", CacheIndefinite, "", false)
	require.NoError(t, err)

	encodings, err := s.Encodings(ctx, uri)
	require.NoError(t, err)
	assert.Len(t, encodings, 1)
}

func TestLargePayloadsGoToFiles(t *testing.T) {
	s, dir := newTestStore(t, 64)
	ctx := context.Background()
	data := compressible(100)

	uri, err := s.RegisterResource(ctx, data, "text/plain", CacheIndefinite, "", true)
	require.NoError(t, err)

	encodings, err := s.Encodings(ctx, uri)
	require.NoError(t, err)
	require.NotEmpty(t, encodings)

	original := encodings[0]
	id := content.Hash(data, "")
	assert.Equal(t, LocationFile, original.Location)
	assert.Equal(t, "resources/"+id.Filename(""), original.Path)
	assert.Nil(t, original.Data)
	assert.FileExists(t, filepath.Join(dir, "resources", id.Filename("")))

	payload, err := s.Payload(ctx, uri, "")
	require.NoError(t, err)
	assert.Equal(t, data, payload)

	for _, e := range encodings[1:] {
		if e.Location == LocationFile {
			assert.Equal(t, "resources/"+id.Filename(e.Name), e.Path)
		}

		encoded, err := s.Payload(ctx, uri, e.Name)
		require.NoError(t, err)
		decoded, err := Decode(e.Name, encoded)
		require.NoError(t, err)
		assert.Equal(t, data, decoded)
	}
}

func TestRedirectsAndDeletions(t *testing.T) {
	s, _ := newTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.InsertRedirect(ctx, "/old", RedirectPermanent, "/new", CacheNone))
	require.NoError(t, s.InsertDeletion(ctx, "/gone"))

	record, ok, err := s.Lookup(ctx, "/old")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ActionRedirect, record.Action)
	assert.Empty(t, record.Type)

	redirect, ok, err := s.Redirect(ctx, "/old")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RedirectPermanent, redirect.Kind)
	assert.Equal(t, "/new", redirect.Location)

	record, ok, err = s.Lookup(ctx, "/gone")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ActionDeletion, record.Action)
	assert.Equal(t, CacheNone, record.Cache)

	_, ok, err = s.Redirect(ctx, "/gone")
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.InsertDeletion(ctx, "/old")
	assert.Equal(t, errors.ErrCodeDuplicateURI, errors.Code(err))

	records, err := s.URIs(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "/gone", records[0].URI)
	assert.Equal(t, "/old", records[1].URI)
}

func TestPersist(t *testing.T) {
	s, dir := newTestStore(t, 0)
	ctx := context.Background()

	_, err := s.RegisterResource(ctx, compressible(10), "text/plain", CacheNone, "/", true)
	require.NoError(t, err)
	require.NoError(t, s.InsertRedirect(ctx, "/home", RedirectTemporary, "/", CacheShort))

	path := filepath.Join(dir, "database.db")
	require.NoError(t, s.Persist(ctx, path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasSuffix(entry.Name(), ".tmp"), entry.Name())
	}

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var uris, redirects int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM uris`).Scan(&uris))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM redirects`).Scan(&redirects))
	assert.Equal(t, 2, uris)
	assert.Equal(t, 1, redirects)
}

func TestOpenRejectsUnknownEncoding(t *testing.T) {
	_, err := Open(context.Background(), Options{
		OutputDir: t.TempDir(),
		Encodings: []string{"lzma"},
	}, task.NewScheduler(1, nil))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnknownEncoder, errors.Code(err))
}

func TestSchemaRejectsInvalidCache(t *testing.T) {
	s, _ := newTestStore(t, 0)

	_, err := s.RegisterResource(context.Background(), []byte("x"), "text/plain", Cache("FOREVER"), "/x", false)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeStoreWrite, errors.Code(err))
}

func TestParseEnums(t *testing.T) {
	cache, err := ParseCache("LONG")
	require.NoError(t, err)
	assert.Equal(t, CacheLong, cache)

	_, err = ParseCache("long")
	assert.Error(t, err)

	kind, err := ParseRedirectKind("TEMPORARY")
	require.NoError(t, err)
	assert.Equal(t, RedirectTemporary, kind)

	_, err = ParseRedirectKind("MOVED")
	assert.Error(t, err)
}
