package history

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/msssg/internal/errors"
	"github.com/conneroisu/msssg/internal/logging"
	"github.com/conneroisu/msssg/internal/store"
	"github.com/conneroisu/msssg/internal/task"
)

func TestResolve(t *testing.T) {
	history := map[string]string{
		"/a/old-css":   "src/style.css",
		"/a/new-css":   "src/style.css",
		"/a/gone":      "src/removed.js",
		"/about":       "src/about.html",
		"/a/old-photo": "photo.png;image/jpeg;100;HIGH",
	}
	assets := map[string]string{
		"src/style.css":  "/a/new-css",
		"src/about.html": "/about",
		"photo.png;image/jpeg;100;HIGH": "/a/new-photo",
	}

	decisions := Resolve(history, assets)

	assert.Equal(t, []Decision{
		{URI: "/a/gone", Kind: Deletion, AssetID: "src/removed.js"},
		{URI: "/a/old-css", Kind: Redirect, Location: "/a/new-css", AssetID: "src/style.css"},
		{URI: "/a/old-photo", Kind: Redirect, Location: "/a/new-photo", AssetID: "photo.png;image/jpeg;100;HIGH"},
	}, decisions)

	redirects, deletions := Counts(decisions)
	assert.Equal(t, 2, redirects)
	assert.Equal(t, 1, deletions)
}

func TestResolveSkipsCurrentURIs(t *testing.T) {
	// Identical content registered under two ids shares one URI; whichever
	// id the history names, the URI is still served.
	history := map[string]string{"/a/shared": "src/copy-a.txt"}
	assets := map[string]string{"src/copy-b.txt": "/a/shared"}

	assert.Empty(t, Resolve(history, assets))
}

func TestResolveEmpty(t *testing.T) {
	assert.Empty(t, Resolve(nil, nil))
	assert.Empty(t, Resolve(nil, map[string]string{"x": "/a/x"}))
}

func TestResolveProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	genMap := gen.MapOf(gen.IntRange(0, 30), gen.IntRange(0, 30))

	properties.Property("decisions are sorted and never touch current URIs", prop.ForAll(
		func(h, a map[int]int) bool {
			history := make(map[string]string, len(h))
			for uri, id := range h {
				history[fmt.Sprintf("/u%02d", uri)] = fmt.Sprintf("id%d", id)
			}
			assets := make(map[string]string, len(a))
			current := make(map[string]bool)
			for id, uri := range a {
				u := fmt.Sprintf("/u%02d", uri)
				assets[fmt.Sprintf("id%d", id)] = u
				current[u] = true
			}

			decisions := Resolve(history, assets)
			for i, d := range decisions {
				if current[d.URI] {
					return false
				}
				if i > 0 && decisions[i-1].URI >= d.URI {
					return false
				}
				if d.Kind == Redirect && assets[d.AssetID] != d.Location {
					return false
				}
				if d.Kind == Deletion {
					if _, ok := assets[d.AssetID]; ok {
						return false
					}
				}
			}

			return true
		},
		genMap,
		genMap,
	))

	properties.TestingRun(t)
}

func TestApplyWritesRows(t *testing.T) {
	ctx := context.Background()

	s := task.NewScheduler(1, logging.NewNopLogger())
	s.Start(ctx)
	t.Cleanup(s.Stop)

	st, err := store.Open(ctx, store.Options{OutputDir: t.TempDir()}, s)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	current, err := st.RegisterResource(ctx, []byte("body{}"), "text/css", store.CacheIndefinite, "", false)
	require.NoError(t, err)

	decisions := Resolve(
		map[string]string{"/a/old": "src/style.css", "/a/gone": "src/removed.js"},
		map[string]string{"src/style.css": current},
	)
	require.NoError(t, Apply(ctx, st, decisions))

	rec, ok, err := st.Lookup(ctx, "/a/old")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.ActionRedirect, rec.Action)
	assert.Equal(t, store.CacheNone, rec.Cache)

	redirect, ok, err := st.Redirect(ctx, "/a/old")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.RedirectPermanent, redirect.Kind)
	assert.Equal(t, current, redirect.Location)

	rec, ok, err = st.Lookup(ctx, "/a/gone")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.ActionDeletion, rec.Action)
	assert.Equal(t, store.CacheNone, rec.Cache)

	_, ok, err = st.Redirect(ctx, "/a/gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingWriter struct{ calls int }

func (f *failingWriter) InsertRedirect(context.Context, string, store.RedirectKind, string, store.Cache) error {
	f.calls++
	return errors.NewStoreError(errors.ErrCodeDuplicateURI, "taken", nil)
}

func (f *failingWriter) InsertDeletion(context.Context, string) error {
	f.calls++
	return nil
}

func TestApplyStopsAtFirstError(t *testing.T) {
	w := &failingWriter{}
	err := Apply(context.Background(), w, []Decision{
		{URI: "/a", Kind: Deletion},
		{URI: "/b", Kind: Redirect, Location: "/c"},
		{URI: "/d", Kind: Deletion},
	})

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDuplicateURI, errors.Code(err))
	assert.Equal(t, 2, w.calls)
}
