package index

import (
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeturtle/reviewd/internal/chunk"
)

func newTestWatcher(t *testing.T, repo string) *Watcher {
	t.Helper()
	chunker, err := chunk.NewChunker(0, 0)
	require.NoError(t, err)
	sync, err := NewSynchronizer(Config{RepoPath: repo}, chunker, &fakeEmbedder{}, &fakeStore{}, nil)
	require.NoError(t, err)

	w, err := NewWatcher(sync, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.watcher.Close() })
	return w
}

func TestWatcherRecordFiltering(t *testing.T) {
	repo := t.TempDir()
	w := newTestWatcher(t, repo)

	tests := []struct {
		name     string
		event    fsnotify.Event
		recorded bool
	}{
		{"supported write", fsnotify.Event{Name: repo + "/app.py", Op: fsnotify.Write}, true},
		{"supported remove", fsnotify.Event{Name: repo + "/gone.go", Op: fsnotify.Remove}, true},
		{"unsupported extension", fsnotify.Event{Name: repo + "/notes.txt", Op: fsnotify.Write}, false},
		{"hidden directory", fsnotify.Event{Name: repo + "/.git/index.py", Op: fsnotify.Write}, false},
		{"ignored filename", fsnotify.Event{Name: repo + "/pkg/__init__.py", Op: fsnotify.Write}, false},
		{"outside repo", fsnotify.Event{Name: "/elsewhere/app.py", Op: fsnotify.Write}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.recorded, w.record(tt.event))
		})
	}

	assert.Contains(t, w.pending, "app.py")
	assert.Contains(t, w.pending, "gone.go")
	assert.Len(t, w.pending, 2)
}

func TestHiddenPath(t *testing.T) {
	assert.True(t, hiddenPath(".git/hooks/x.py"))
	assert.True(t, hiddenPath("vendor/.cache/a.go"))
	assert.False(t, hiddenPath("pkg/util.py"))
	assert.False(t, hiddenPath("main.go"))
}
