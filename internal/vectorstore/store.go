// Package vectorstore defines the interface to the remote similarity-
// searchable store holding the code index, plus its Qdrant implementation.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the store could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrEmptyEntries indicates an upsert with no entries.
	ErrEmptyEntries = errors.New("empty or nil entries")
)

// Metadata is the non-vector payload persisted with every entry.
type Metadata struct {
	FilePath  string
	StartLine int
	EndLine   int
}

// Entry is the persisted form of a chunk in the remote store.
//
// ID is the deterministic chunk id; upserting an entry with an existing
// id overwrites it in place.
type Entry struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Match is one similarity search result.
type Match struct {
	Metadata Metadata
	Score    float32
}

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts, one per
	// input, order preserved.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is the interface to the remote vector index.
//
// The store may exhibit read-after-write delay between a write and a
// subsequent query from a different caller; callers sequence deletions
// before upserts to bias races toward freshness rather than staleness.
type Store interface {
	// Upsert inserts or overwrites entries by id. No partial success is
	// assumed: an error is fatal for the whole batch.
	Upsert(ctx context.Context, entries []Entry) error

	// DeleteByFilePaths removes every entry whose metadata file path is
	// in the given set. Removing a path with no entries is a no-op.
	DeleteByFilePaths(ctx context.Context, paths []string) error

	// Query returns at most topK matches ordered by descending cosine
	// similarity. Tie order is the store's own and must not be relied on.
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)

	// Count returns the total number of entries in the index.
	Count(ctx context.Context) (uint64, error)

	// Close releases the store connection.
	Close() error
}
