package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codeturtle/reviewd/internal/chunk"
	"github.com/codeturtle/reviewd/internal/config"
	"github.com/codeturtle/reviewd/internal/index"
	"github.com/codeturtle/reviewd/internal/logging"
	"github.com/codeturtle/reviewd/internal/vectorstore"
)

var (
	indexRepo       string
	indexUpsertList string
	indexDeleteList string
	indexWatch      bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Synchronize the vector index with the repository",
	Long: `Synchronize the vector index: delete entries for removed files, then
chunk, embed and upsert source files.

Without manifests the whole repository tree is scanned. With --watch the
command keeps running and re-syncs on file changes.

Examples:
  # Index the whole repository
  reviewd index --repo .

  # Sync only the files a CI job knows changed
  reviewd index --repo . --upsert-list changed.txt --delete-list removed.txt

  # Keep the index current while editing
  reviewd index --repo . --watch`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&indexRepo, "repo", "", "repository root (default from configuration)")
	indexCmd.Flags().StringVar(&indexUpsertList, "upsert-list", "", "newline-delimited file of paths to upsert")
	indexCmd.Flags().StringVar(&indexDeleteList, "delete-list", "", "newline-delimited file of paths to delete")
	indexCmd.Flags().BoolVar(&indexWatch, "watch", false, "keep running and re-sync on file changes")
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sync, store, err := buildSynchronizer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	upserts, err := readManifest(firstNonEmpty(indexUpsertList, cfg.Index.UpsertManifest))
	if err != nil {
		return err
	}
	deletes, err := readManifest(firstNonEmpty(indexDeleteList, cfg.Index.DeleteManifest))
	if err != nil {
		return err
	}

	result, err := sync.Synchronize(ctx, upserts, deletes)
	if err != nil {
		return err
	}

	count, err := store.Count(ctx)
	if err != nil {
		logger.Warn(ctx, "could not read index size", zap.Error(err))
	}
	fmt.Printf("indexed %d chunks from %d files (%d batches), index now holds %d entries\n",
		result.ChunksUpserted, result.FilesIndexed, result.Batches, count)

	if !indexWatch {
		return nil
	}

	watcher, err := index.NewWatcher(sync, logger)
	if err != nil {
		return err
	}
	if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// buildSynchronizer wires the chunker, embedder and store together.
// The returned store must be closed by the caller.
func buildSynchronizer(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*index.Synchronizer, *vectorstore.QdrantStore, error) {
	chunker, err := chunk.NewChunker(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	if err != nil {
		return nil, nil, err
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, nil, err
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	repo := firstNonEmpty(indexRepo, cfg.Index.RepoPath)
	sync, err := index.NewSynchronizer(index.Config{
		RepoPath:  repo,
		BatchSize: cfg.Index.BatchSize,
	}, chunker, embedder, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return sync, store, nil
}

// readManifest reads a newline-delimited path list. An empty path name
// yields a nil list.
func readManifest(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	defer f.Close()

	var paths []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			paths = append(paths, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	return paths, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
