// Package index keeps the remote vector index in sync with a source
// tree: it discovers files, chunks and embeds them, and drives the
// store's delete and upsert operations in batches.
package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/codeturtle/reviewd/internal/chunk"
	"github.com/codeturtle/reviewd/internal/logging"
	"github.com/codeturtle/reviewd/internal/vectorstore"
)

var tracer = otel.Tracer("reviewd.index")

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSyncFailed indicates a synchronization run failed.
	ErrSyncFailed = errors.New("index synchronization failed")
)

// ignoredFilenames are never indexed regardless of extension.
var ignoredFilenames = map[string]bool{
	"__init__.py": true,
	".DS_Store":   true,
}

// Config holds configuration for the synchronizer.
type Config struct {
	// RepoPath is the root of the source tree. File paths in the index
	// are relative to it.
	RepoPath string

	// BatchSize is the number of chunks embedded and upserted per store
	// call. Default 100.
	BatchSize int
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.RepoPath == "" {
		return fmt.Errorf("%w: repo path required", ErrInvalidConfig)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
}

// Result summarizes one synchronization run.
type Result struct {
	// PathsDeleted is the number of file paths in the deletion phase.
	PathsDeleted int

	// FilesDiscovered is the number of candidate files after filtering.
	FilesDiscovered int

	// FilesIndexed is the number of files that produced chunks.
	FilesIndexed int

	// FilesSkipped is the number of files skipped on read errors.
	FilesSkipped int

	// ChunksUpserted is the total number of chunks written to the store.
	ChunksUpserted int

	// Batches is the number of upsert batches issued.
	Batches int
}

// Synchronizer drives deletions then upserts across a file set.
//
// Not safe for concurrent Synchronize calls on one instance; callers
// serialize runs.
type Synchronizer struct {
	config   Config
	chunker  *chunk.Chunker
	embedder vectorstore.Embedder
	store    vectorstore.Store
	logger   *logging.Logger
}

// NewSynchronizer creates a synchronizer from its collaborators.
func NewSynchronizer(cfg Config, chunker *chunk.Chunker, embedder vectorstore.Embedder, store vectorstore.Store, logger *logging.Logger) (*Synchronizer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if chunker == nil || embedder == nil || store == nil {
		return nil, fmt.Errorf("%w: chunker, embedder and store are required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Synchronizer{
		config:   cfg,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		logger:   logger.Named("index"),
	}, nil
}

// Synchronize runs the deletion phase for deletePaths, then discovers,
// chunks, embeds and upserts upsertPaths.
//
// The deletion phase always runs first, even when upsertPaths is empty,
// so renamed or rewritten files never expose stale context. An empty
// upsert set, or one that yields zero chunks, completes as a no-op
// success.
func (s *Synchronizer) Synchronize(ctx context.Context, upsertPaths, deletePaths []string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Synchronizer.Synchronize")
	defer span.End()
	span.SetAttributes(
		attribute.Int("upsert_paths", len(upsertPaths)),
		attribute.Int("delete_paths", len(deletePaths)),
	)

	result := &Result{}

	if len(deletePaths) > 0 {
		if err := s.store.DeleteByFilePaths(ctx, deletePaths); err != nil {
			return nil, fmt.Errorf("%w: deletion phase: %v", ErrSyncFailed, err)
		}
		result.PathsDeleted = len(deletePaths)
		s.logger.Info(ctx, "deleted stale index entries", zap.Int("paths", len(deletePaths)))
	}

	files, err := s.discover(upsertPaths)
	if err != nil {
		return nil, fmt.Errorf("%w: discovery: %v", ErrSyncFailed, err)
	}
	result.FilesDiscovered = len(files)
	if len(files) == 0 {
		s.logger.Info(ctx, "no files to index")
		return result, nil
	}

	chunks := s.chunkFiles(ctx, files, result)
	if len(chunks) == 0 {
		s.logger.Info(ctx, "no chunks produced", zap.Int("files", len(files)))
		return result, nil
	}

	if err := s.upsertBatches(ctx, chunks, result); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "synchronization complete",
		zap.Int("files_indexed", result.FilesIndexed),
		zap.Int("chunks_upserted", result.ChunksUpserted),
		zap.Int("batches", result.Batches),
	)
	span.SetAttributes(attribute.Int("chunks_upserted", result.ChunksUpserted))
	return result, nil
}

// discover resolves the set of files to index. An explicit manifest is
// filtered to supported extensions; otherwise the tree is walked,
// skipping hidden directories and ignored filenames.
func (s *Synchronizer) discover(manifest []string) ([]string, error) {
	if len(manifest) > 0 {
		files := make([]string, 0, len(manifest))
		for _, path := range manifest {
			if chunk.Supported(path) && !ignoredFilenames[filepath.Base(path)] {
				files = append(files, path)
			}
		}
		return files, nil
	}

	var files []string
	err := filepath.WalkDir(s.config.RepoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.config.RepoPath && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if ignoredFilenames[d.Name()] || !chunk.Supported(path) {
			return nil
		}
		rel, err := filepath.Rel(s.config.RepoPath, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", s.config.RepoPath, err)
	}
	return files, nil
}

// chunkFiles reads and chunks each file. Unreadable files are logged
// and skipped rather than failing the run.
func (s *Synchronizer) chunkFiles(ctx context.Context, files []string, result *Result) []chunk.Chunk {
	var chunks []chunk.Chunk
	for _, path := range files {
		content, err := os.ReadFile(filepath.Join(s.config.RepoPath, path))
		if err != nil {
			result.FilesSkipped++
			s.logger.Warn(ctx, "skipping unreadable file", zap.String("path", path), zap.Error(err))
			continue
		}

		fileChunks := s.chunker.Chunk(chunk.NewSourceFile(path, string(content)))
		if len(fileChunks) == 0 {
			continue
		}
		result.FilesIndexed++
		chunks = append(chunks, fileChunks...)
	}
	return chunks
}

// upsertBatches embeds and upserts chunks in batches. Any embedding or
// store error is fatal for the run.
func (s *Synchronizer) upsertBatches(ctx context.Context, chunks []chunk.Chunk, result *Result) error {
	for start := 0; start < len(chunks); start += s.config.BatchSize {
		end := min(start+s.config.BatchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return fmt.Errorf("%w: embedding batch %d: %v", ErrSyncFailed, result.Batches, err)
		}

		entries := make([]vectorstore.Entry, len(batch))
		for i, c := range batch {
			entries[i] = vectorstore.Entry{
				ID:     c.ID,
				Vector: vectors[i],
				Metadata: vectorstore.Metadata{
					FilePath:  c.FilePath,
					StartLine: c.StartLine,
					EndLine:   c.EndLine,
				},
			}
		}

		if err := s.store.Upsert(ctx, entries); err != nil {
			return fmt.Errorf("%w: upserting batch %d: %v", ErrSyncFailed, result.Batches, err)
		}

		result.Batches++
		result.ChunksUpserted += len(batch)
		s.logger.Debug(ctx, "upserted batch",
			zap.Int("batch", result.Batches),
			zap.Int("chunks", len(batch)),
		)
	}
	return nil
}
