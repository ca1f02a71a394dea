package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/msssg/internal/build"
	"github.com/conneroisu/msssg/internal/config"
	"github.com/conneroisu/msssg/internal/errors"
	"github.com/conneroisu/msssg/internal/logging"
	"github.com/conneroisu/msssg/internal/websocket"
)

// syncBuffer is a bytes.Buffer safe for the watch goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testSite(t *testing.T, manifest string) *config.Config {
	t.Helper()

	root := t.TempDir()
	write := func(name, data string) {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	}
	write("src/links.json", manifest)
	write("src/404.html", "<p>not found</p>")
	write("src/index.html", "<p>hello</p>")

	cfg := config.Default()
	cfg.Build.Root = root
	cfg.Build.Manifest = filepath.Join(root, "src", "links.json")
	cfg.Build.Output = filepath.Join(root, "www")
	cfg.Build.CacheDir = filepath.Join(root, ".msssg")
	cfg.Build.Workers = 2
	cfg.Graphics.Formats = []string{"image/png", "image/jpeg"}
	cfg.Watch.Paths = []string{filepath.Join(root, "src")}
	cfg.Watch.Debounce = 50 * time.Millisecond

	return cfg
}

const siteManifest = `{
    "~notfound": {"action": "RESOURCE", "path": "src/404.html", "type": "text/html"},
    "/": {"action": "RESOURCE", "path": "src/index.html", "type": "text/html", "cache": "SHORT"},
    "/old": {"action": "REDIRECT", "type": "PERMANENT", "location": "/", "cache": "LONG"}
}`

func TestExecuteBuild(t *testing.T) {
	cfg := testSite(t, siteManifest)

	var out bytes.Buffer
	require.NoError(t, executeBuild(context.Background(), cfg, logging.NewNopLogger(), &out, false))

	assert.Contains(t, out.String(), "✅ Build completed")
	assert.Contains(t, out.String(), "Entries:    3")
	assert.FileExists(t, filepath.Join(cfg.Build.Output, build.DatabaseFile))
	assert.DirExists(t, cfg.Build.CacheDir)
}

func TestExecuteBuildCleanCache(t *testing.T) {
	cfg := testSite(t, siteManifest)
	stale := filepath.Join(cfg.Build.CacheDir, "stale")
	require.NoError(t, os.MkdirAll(cfg.Build.CacheDir, 0755))
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0644))

	var out bytes.Buffer
	require.NoError(t, executeBuild(context.Background(), cfg, logging.NewNopLogger(), &out, true))

	assert.NoFileExists(t, stale)
}

func TestExecuteBuildFailure(t *testing.T) {
	cfg := testSite(t, `{"/": {"action": "RESOURCE", "path": "src/index.html", "type": "text/html"}}`)

	var out bytes.Buffer
	err := executeBuild(context.Background(), cfg, logging.NewNopLogger(), &out, false)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrMissingNotFound))
	assert.Contains(t, out.String(), "❌ Build failed")
}

func TestExecuteBuildCancelled(t *testing.T) {
	cfg := testSite(t, siteManifest)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := executeBuild(ctx, cfg, logging.NewNopLogger(), &out, false)
	require.Error(t, err)
	assert.Contains(t, out.String(), "🛑 Build cancelled")
}

func TestExecuteValidate(t *testing.T) {
	cfg := testSite(t, siteManifest)

	var out bytes.Buffer
	require.NoError(t, executeValidate(cfg, logging.NewNopLogger(), &out))
	assert.Contains(t, out.String(), "3 entries (2 resources, 0 permalinks, 1 redirects)")
	assert.NoDirExists(t, cfg.Build.Output)
}

func TestExecuteValidateMissingFile(t *testing.T) {
	cfg := testSite(t, `{
    "~notfound": {"action": "RESOURCE", "path": "src/404.html", "type": "text/html"},
    "/gone": {"action": "RESOURCE", "path": "src/gone.html", "type": "text/html"}
}`)

	var out bytes.Buffer
	require.Error(t, executeValidate(cfg, logging.NewNopLogger(), &out))
	assert.Contains(t, out.String(), "❌ Validation failed")
}

func TestExecuteWatchRebuildsOnChange(t *testing.T) {
	cfg := testSite(t, siteManifest)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- executeWatch(ctx, cfg, logging.NewNopLogger(), out)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Watching for changes")
	}, 10*time.Second, 20*time.Millisecond)

	index := filepath.Join(cfg.Build.Root, "src", "index.html")
	require.NoError(t, os.WriteFile(index, []byte("<p>hello again</p>"), 0644))

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "✅ Build completed") >= 2
	}, 10*time.Second, 20*time.Millisecond)
	assert.Contains(t, out.String(), "file(s) changed")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestNotification(t *testing.T) {
	ok := notification(&build.Result{
		Duration:  1500 * time.Millisecond,
		Assets:    4,
		Rendered:  3,
		Redirects: 1,
	})
	assert.Equal(t, websocket.MessageBuildSucceeded, ok.Type)
	assert.Equal(t, int64(1500), ok.DurationMS)
	assert.Equal(t, 4, ok.Assets)
	assert.Empty(t, ok.Error)

	failed := notification(&build.Result{Error: errors.NewManifestError(errors.ErrCodeMissingNotFound, "no ~notfound entry")})
	assert.Equal(t, websocket.MessageBuildFailed, failed.Type)
	assert.Contains(t, failed.Error, "no ~notfound entry")
}

func TestVersionCommand(t *testing.T) {
	t.Cleanup(func() {
		versionFormat = "text"
		versionShort = false
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--format", "json"})
	require.NoError(t, rootCmd.Execute())

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")

	out.Reset()
	versionFormat = "text"
	rootCmd.SetArgs([]string{"version", "--format", "text", "--short"})
	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "msssg "))
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "loud"

	_, err := newLogger(cfg)
	assert.Error(t, err)
}
