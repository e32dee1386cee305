package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeturtle/reviewd/internal/chunk"
	"github.com/codeturtle/reviewd/internal/vectorstore"
)

// storeCall records one store operation in arrival order.
type storeCall struct {
	op      string
	paths   []string
	entries []vectorstore.Entry
}

type fakeStore struct {
	calls     []storeCall
	upsertErr error
}

func (f *fakeStore) Upsert(_ context.Context, entries []vectorstore.Entry) error {
	f.calls = append(f.calls, storeCall{op: "upsert", entries: entries})
	return f.upsertErr
}

func (f *fakeStore) DeleteByFilePaths(_ context.Context, paths []string) error {
	f.calls = append(f.calls, storeCall{op: "delete", paths: paths})
	return nil
}

func (f *fakeStore) Query(context.Context, []float32, int) ([]vectorstore.Match, error) {
	return nil, nil
}

func (f *fakeStore) Count(context.Context) (uint64, error) { return 0, nil }
func (f *fakeStore) Close() error                          { return nil }

type fakeEmbedder struct {
	batchSizes []int
	err        error
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.batchSizes = append(f.batchSizes, len(texts))
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{float32(len(texts[i]))}
	}
	return vectors, nil
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{0}, nil
}

func newTestSynchronizer(t *testing.T, repo string, batchSize int, store *fakeStore, embedder *fakeEmbedder) *Synchronizer {
	t.Helper()
	chunker, err := chunk.NewChunker(chunk.DefaultSize, chunk.DefaultOverlap)
	require.NoError(t, err)

	sync, err := NewSynchronizer(Config{RepoPath: repo, BatchSize: batchSize}, chunker, embedder, store, nil)
	require.NoError(t, err)
	return sync
}

func writeFile(t *testing.T, repo, path, content string) {
	t.Helper()
	full := filepath.Join(repo, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestSynchronizeDeletesBeforeUpserts(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, repo, "new.py", "def fresh():\n    return 1\n")

	store := &fakeStore{}
	sync := newTestSynchronizer(t, repo, 100, store, &fakeEmbedder{})

	result, err := sync.Synchronize(context.Background(), []string{"new.py"}, []string{"old.py"})
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(store.calls), 2)
	assert.Equal(t, "delete", store.calls[0].op)
	assert.Equal(t, []string{"old.py"}, store.calls[0].paths)

	for _, call := range store.calls[1:] {
		assert.Equal(t, "upsert", call.op)
		for _, entry := range call.entries {
			assert.Equal(t, "new.py", entry.Metadata.FilePath)
		}
	}
	assert.Equal(t, 1, result.PathsDeleted)
	assert.Equal(t, 1, result.FilesIndexed)
}

func TestSynchronizeDeleteOnlyRun(t *testing.T) {
	store := &fakeStore{}
	sync := newTestSynchronizer(t, t.TempDir(), 100, store, &fakeEmbedder{})

	result, err := sync.Synchronize(context.Background(), nil, []string{"a.py", "b.go"})
	require.NoError(t, err)

	require.Len(t, store.calls, 1)
	assert.Equal(t, "delete", store.calls[0].op)
	assert.Equal(t, 2, result.PathsDeleted)
	assert.Zero(t, result.ChunksUpserted)
}

func TestSynchronizeEmptyIsNoOp(t *testing.T) {
	store := &fakeStore{}
	sync := newTestSynchronizer(t, t.TempDir(), 100, store, &fakeEmbedder{})

	result, err := sync.Synchronize(context.Background(), nil, nil)
	require.NoError(t, err)

	assert.Empty(t, store.calls, "empty input must not touch the store")
	assert.Zero(t, result.FilesDiscovered)
}

func TestSynchronizeBatching(t *testing.T) {
	repo := t.TempDir()
	// A large file yields many chunks with the default chunk size.
	writeFile(t, repo, "big.py", strings.Repeat("value = 12345\n", 400))

	store := &fakeStore{}
	embedder := &fakeEmbedder{}
	sync := newTestSynchronizer(t, repo, 4, store, embedder)

	result, err := sync.Synchronize(context.Background(), []string{"big.py"}, nil)
	require.NoError(t, err)
	require.Greater(t, result.ChunksUpserted, 4, "fixture must span multiple batches")

	total := 0
	for i, size := range embedder.batchSizes {
		assert.LessOrEqual(t, size, 4)
		if i < len(embedder.batchSizes)-1 {
			assert.Equal(t, 4, size, "only the final batch may be short")
		}
		total += size
	}
	assert.Equal(t, result.ChunksUpserted, total)
	assert.Equal(t, result.Batches, len(store.calls))
	for i, call := range store.calls {
		assert.Equal(t, "upsert", call.op)
		assert.Len(t, call.entries, embedder.batchSizes[i])
	}
}

func TestSynchronizeManifestFiltering(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, repo, "app.py", "x = 1\n")
	writeFile(t, repo, "README.md", "# docs\n")
	writeFile(t, repo, "__init__.py", "")

	store := &fakeStore{}
	sync := newTestSynchronizer(t, repo, 100, store, &fakeEmbedder{})

	result, err := sync.Synchronize(context.Background(), []string{"app.py", "README.md", "__init__.py"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesDiscovered)
	assert.Equal(t, 1, result.FilesIndexed)
}

func TestSynchronizeWalkDiscovery(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, repo, "main.go", "package main\n")
	writeFile(t, repo, "pkg/util.py", "x = 1\n")
	writeFile(t, repo, ".git/hooks/pre-commit.py", "hidden = True\n")
	writeFile(t, repo, "pkg/__init__.py", "")
	writeFile(t, repo, "docs/guide.md", "# guide\n")

	store := &fakeStore{}
	sync := newTestSynchronizer(t, repo, 100, store, &fakeEmbedder{})

	result, err := sync.Synchronize(context.Background(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, result.FilesDiscovered, "hidden dirs, init markers and unsupported files are skipped")

	indexed := make(map[string]bool)
	for _, call := range store.calls {
		for _, entry := range call.entries {
			indexed[entry.Metadata.FilePath] = true
		}
	}
	assert.True(t, indexed["main.go"])
	assert.True(t, indexed[filepath.Join("pkg", "util.py")])
}

func TestSynchronizeSkipsUnreadableFiles(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, repo, "good.py", "x = 1\n")

	store := &fakeStore{}
	sync := newTestSynchronizer(t, repo, 100, store, &fakeEmbedder{})

	result, err := sync.Synchronize(context.Background(), []string{"good.py", "missing.py"}, nil)
	require.NoError(t, err, "per-file read errors must not fail the run")

	assert.Equal(t, 1, result.FilesSkipped)
	assert.Equal(t, 1, result.FilesIndexed)
}

func TestSynchronizeEmbedFailureIsFatal(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, repo, "app.py", "x = 1\n")

	store := &fakeStore{}
	embedder := &fakeEmbedder{err: errors.New("model offline")}
	sync := newTestSynchronizer(t, repo, 100, store, embedder)

	_, err := sync.Synchronize(context.Background(), []string{"app.py"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSyncFailed)
	for _, call := range store.calls {
		assert.NotEqual(t, "upsert", call.op, "no upsert may follow a failed embedding batch")
	}
}

func TestSynchronizeIdempotentIDs(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, repo, "stable.py", "def f():\n    return 2\n")

	store := &fakeStore{}
	sync := newTestSynchronizer(t, repo, 100, store, &fakeEmbedder{})

	_, err := sync.Synchronize(context.Background(), []string{"stable.py"}, nil)
	require.NoError(t, err)
	_, err = sync.Synchronize(context.Background(), []string{"stable.py"}, nil)
	require.NoError(t, err)

	ids := make(map[string]int)
	for _, call := range store.calls {
		for _, entry := range call.entries {
			ids[entry.ID]++
		}
	}
	for id, count := range ids {
		assert.Equal(t, 2, count, "chunk %s must keep its id across runs", id)
	}
}

func TestNewSynchronizerValidation(t *testing.T) {
	chunker, err := chunk.NewChunker(0, 0)
	require.NoError(t, err)

	_, err = NewSynchronizer(Config{}, chunker, &fakeEmbedder{}, &fakeStore{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSynchronizer(Config{RepoPath: "."}, nil, &fakeEmbedder{}, &fakeStore{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
