package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codeturtle/reviewd/internal/config"
	"github.com/codeturtle/reviewd/internal/logging"
	"github.com/codeturtle/reviewd/internal/orchestrator"
	"github.com/codeturtle/reviewd/internal/retrieval"
	"github.com/codeturtle/reviewd/internal/vectorstore"
)

var reviewEventFile string

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Run the full review pipeline for a pull request event",
	Long: `Run the review pipeline: parse the event, diff base against head,
retrieve context, synthesize review text, and post it as a pull request
comment.

The event file defaults to $GITHUB_EVENT_PATH, so in a CI job a bare
"reviewd review" is usually enough.

Examples:
  reviewd review
  reviewd review --event-file /tmp/event.json`,
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().StringVar(&reviewEventFile, "event-file", "", "pull request event payload (default $GITHUB_EVENT_PATH)")
}

func runReview(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	eventFile := firstNonEmpty(reviewEventFile, os.Getenv("GITHUB_EVENT_PATH"))
	if eventFile == "" {
		return fmt.Errorf("no event file: pass --event-file or set GITHUB_EVENT_PATH")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pipeline, store, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	return pipeline.RunFromEventFile(ctx, eventFile)
}

// buildPipeline wires the retrieval engine into the review pipeline.
// The returned store must be closed by the caller.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*orchestrator.Pipeline, *vectorstore.QdrantStore, error) {
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, nil, err
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	engine, err := retrieval.NewEngine(retrieval.Config{
		RepoPath: cfg.Index.RepoPath,
		TopK:     cfg.Retrieval.TopK,
	}, embedder, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	pipeline, err := orchestrator.NewPipeline(orchestrator.Config{
		RepoPath:    cfg.Index.RepoPath,
		Synthesizer: cfg.Review.Synthesizer,
	}, engine, nil, logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return pipeline, store, nil
}
