package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codeturtle/reviewd/internal/retrieval"
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Build a review context payload from a diff on stdin",
	Long: `Read a unified diff from standard input, query the index with its added
lines, and print the context payload as JSON on standard output.

Examples:
  git diff main...HEAD | reviewd retrieve > context.json`,
	RunE: runRetrieve,
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	diffText, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("reading diff from stdin: %w", err)
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	engine, err := retrieval.NewEngine(retrieval.Config{
		RepoPath: cfg.Index.RepoPath,
		TopK:     cfg.Retrieval.TopK,
	}, embedder, store, logger)
	if err != nil {
		return err
	}

	payload, err := engine.Retrieve(ctx, string(diffText))
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
