package retrieval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeturtle/reviewd/internal/embeddings"
	"github.com/codeturtle/reviewd/internal/vectorstore"
)

type fakeEmbedder struct {
	queries []string
	err     error
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{1}
	}
	return vectors, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.queries = append(f.queries, text)
	return []float32{1}, nil
}

type fakeStore struct {
	matches []vectorstore.Match
	topK    int
	queries int
	err     error
}

func (f *fakeStore) Upsert(context.Context, []vectorstore.Entry) error { return nil }
func (f *fakeStore) DeleteByFilePaths(context.Context, []string) error { return nil }
func (f *fakeStore) Count(context.Context) (uint64, error)             { return 0, nil }
func (f *fakeStore) Close() error                                      { return nil }

func (f *fakeStore) Query(_ context.Context, _ []float32, topK int) ([]vectorstore.Match, error) {
	f.queries++
	f.topK = topK
	if f.err != nil {
		return nil, f.err
	}
	return f.matches, nil
}

func writeFile(t *testing.T, repo, path, content string) {
	t.Helper()
	full := filepath.Join(repo, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func match(path string, score float32) vectorstore.Match {
	return vectorstore.Match{
		Metadata: vectorstore.Metadata{FilePath: path, StartLine: 1, EndLine: 10},
		Score:    score,
	}
}

func newTestEngine(t *testing.T, repo string, embedder *fakeEmbedder, store *fakeStore) *Engine {
	t.Helper()
	engine, err := NewEngine(Config{RepoPath: repo}, embedder, store, nil)
	require.NoError(t, err)
	return engine
}

func TestRetrieveAssemblesPayload(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, repo, "foo.py", "import os\nprint(os.name)\n")
	writeFile(t, repo, "lib/helpers.py", "def helper():\n    pass\n")

	embedder := &fakeEmbedder{}
	store := &fakeStore{matches: []vectorstore.Match{
		match("lib/helpers.py", 0.92),
		match("lib/helpers.py", 0.88),
		match("lib/missing.py", 0.80),
	}}
	engine := newTestEngine(t, repo, embedder, store)

	diffText := "+++ b/foo.py\n@@ -1 +1,2 @@\n+import os\n+print(os.name)\n"
	payload, err := engine.Retrieve(context.Background(), diffText)
	require.NoError(t, err)

	assert.Equal(t, diffText, payload.Diff)
	assert.Equal(t, map[string]string{"foo.py": "import os\nprint(os.name)\n"}, payload.ChangedFiles)

	// Duplicate match paths collapse, unreadable ones drop out.
	assert.Equal(t, map[string]string{"lib/helpers.py": "def helper():\n    pass\n"}, payload.RetrievedContext)

	require.Len(t, embedder.queries, 1)
	assert.Equal(t, "import os\nprint(os.name)", embedder.queries[0])
	assert.Equal(t, DefaultTopK, store.topK)
}

func TestRetrieveNoAddedLinesSkipsQuery(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, repo, "kept.py", "x = 1\n")

	store := &fakeStore{}
	engine := newTestEngine(t, repo, &fakeEmbedder{}, store)

	// Deletion-only diff for kept.py plus a header for a file that no
	// longer exists at head.
	payload, err := engine.Retrieve(context.Background(), "+++ b/kept.py\n-old = True\n+++ b/gone.py\n-bye = 1\n")
	require.NoError(t, err)

	assert.Zero(t, store.queries, "no added lines means no index query")
	assert.Empty(t, payload.RetrievedContext)
	assert.NotNil(t, payload.RetrievedContext)
	assert.Equal(t, map[string]string{"kept.py": "x = 1\n"}, payload.ChangedFiles)
}

func TestRetrieveBlankAddedLinesSkipQuery(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, repo, "foo.py", "x = 1\n")

	// A real embedding client rejects empty query text, so the engine
	// must never reach it for a diff that only adds blank lines.
	embedder, err := embeddings.NewService(embeddings.Config{BaseURL: "http://localhost:1"})
	require.NoError(t, err)
	store := &fakeStore{}
	engine, err := NewEngine(Config{RepoPath: repo}, embedder, store, nil)
	require.NoError(t, err)

	payload, err := engine.Retrieve(context.Background(), "+++ b/foo.py\n@@\n+\n")
	require.NoError(t, err)

	assert.Zero(t, store.queries)
	assert.Empty(t, payload.RetrievedContext)
	assert.Equal(t, map[string]string{"foo.py": "x = 1\n"}, payload.ChangedFiles)

	payload, err = engine.Retrieve(context.Background(), "+++ b/foo.py\n+\t\n+   \n")
	require.NoError(t, err, "whitespace-only added lines must also skip the query")
	assert.Zero(t, store.queries)
	assert.Empty(t, payload.RetrievedContext)
}

func TestRetrieveUnionProperty(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, repo, "a.py", "a = 1\n")
	writeFile(t, repo, "b.go", "package b\n")

	engine := newTestEngine(t, repo, &fakeEmbedder{}, &fakeStore{})

	payload, err := engine.Retrieve(context.Background(), "+++ b/a.py\n+a = 1\n+++ b/b.go\n+package b\n+++ b/removed.py\n+gone = 1\n")
	require.NoError(t, err)

	// Every readable changed file appears; the unreadable one is
	// silently excluded.
	assert.Contains(t, payload.ChangedFiles, "a.py")
	assert.Contains(t, payload.ChangedFiles, "b.go")
	assert.NotContains(t, payload.ChangedFiles, "removed.py")
}

func TestRetrieveEmbedFailure(t *testing.T) {
	engine := newTestEngine(t, t.TempDir(), &fakeEmbedder{err: errors.New("offline")}, &fakeStore{})

	_, err := engine.Retrieve(context.Background(), "+++ b/x.py\n+x = 1\n")
	assert.ErrorIs(t, err, ErrRetrievalFailed)
}

func TestRetrieveQueryFailure(t *testing.T) {
	engine := newTestEngine(t, t.TempDir(), &fakeEmbedder{}, &fakeStore{err: errors.New("unreachable")})

	_, err := engine.Retrieve(context.Background(), "+++ b/x.py\n+x = 1\n")
	assert.ErrorIs(t, err, ErrRetrievalFailed)
}

func TestRetrieveCustomTopK(t *testing.T) {
	store := &fakeStore{}
	engine, err := NewEngine(Config{RepoPath: t.TempDir(), TopK: 3}, &fakeEmbedder{}, store, nil)
	require.NoError(t, err)

	_, err = engine.Retrieve(context.Background(), "+++ b/x.py\n+x = 1\n")
	require.NoError(t, err)
	assert.Equal(t, 3, store.topK)
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(Config{}, &fakeEmbedder{}, &fakeStore{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEngine(Config{RepoPath: ".", TopK: -1}, &fakeEmbedder{}, &fakeStore{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEngine(Config{RepoPath: "."}, nil, &fakeStore{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
