package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NotNil(t, watcher.watcher)
	assert.NotNil(t, watcher.debouncer)
	assert.Empty(t, watcher.filters)
	assert.Empty(t, watcher.handlers)
}

func TestDebouncerKeepsLastEventPerPath(t *testing.T) {
	d := &Debouncer{
		delay:  10 * time.Millisecond,
		events: make(chan ChangeEvent, 10),
		output: make(chan []ChangeEvent, 1),
	}

	d.addEvent(ChangeEvent{Type: EventTypeCreated, Path: "src/b.css"})
	d.addEvent(ChangeEvent{Type: EventTypeCreated, Path: "src/a.html"})
	d.addEvent(ChangeEvent{Type: EventTypeModified, Path: "src/b.css"})

	select {
	case events := <-d.output:
		assert.Equal(t, []ChangeEvent{
			{Type: EventTypeCreated, Path: "src/a.html"},
			{Type: EventTypeModified, Path: "src/b.css"},
		}, events)
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer never flushed")
	}
}

func TestDebouncerFlushEmpty(t *testing.T) {
	d := &Debouncer{output: make(chan []ChangeEvent, 1)}
	d.flush()

	assert.Empty(t, d.output)
}

func TestNoHiddenFilter(t *testing.T) {
	testCases := []struct {
		path     string
		expected bool
	}{
		{"src/index.html", true},
		{"src/.index.html.swp", false},
		{"src/index.html~", false},
		{"src/#index.html#", false},
		{"src/.DS_Store", false},
		{"src/photo.png", true},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, NoHiddenFilter(tc.path), tc.path)
	}
}

func TestExcludeFilter(t *testing.T) {
	root := t.TempDir()
	filter := ExcludeFilter(filepath.Join(root, "www"), "", filepath.Join(root, ".msssg"))

	assert.True(t, filter(filepath.Join(root, "src", "index.html")))
	assert.True(t, filter(filepath.Join(root, "wwwroot", "x")))
	assert.False(t, filter(filepath.Join(root, "www")))
	assert.False(t, filter(filepath.Join(root, "www", "database.db")))
	assert.False(t, filter(filepath.Join(root, ".msssg", "assets", "x")))
}

func TestFileWatcherDeliversChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "nested"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "www"), 0755))

	watcher, err := NewFileWatcher(50*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	watcher.AddFilter(NoHiddenFilter)
	watcher.AddFilter(ExcludeFilter(filepath.Join(root, "www")))

	var (
		mu      sync.Mutex
		batches [][]ChangeEvent
	)
	received := make(chan struct{}, 10)
	watcher.AddHandler(func(_ context.Context, events []ChangeEvent) error {
		mu.Lock()
		batches = append(batches, events)
		mu.Unlock()
		received <- struct{}{}
		return nil
	})

	require.NoError(t, watcher.AddRecursive(root))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)

	target := filepath.Join(root, "src", "nested", "page.html")
	require.NoError(t, os.WriteFile(target, []byte("<p>1</p>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "www", "ignored.db"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", ".hidden"), []byte("x"), 0644))

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch delivered")
	}

	mu.Lock()
	defer mu.Unlock()

	var paths []string
	for _, batch := range batches {
		for _, e := range batch {
			paths = append(paths, e.Path)
		}
	}
	assert.Contains(t, paths, target)
	for _, p := range paths {
		assert.NotContains(t, p, "ignored.db")
		assert.NotContains(t, p, ".hidden")
	}
}
