// Package main implements the reviewd CLI: index synchronization,
// context retrieval, the review pipeline, the webhook server, and the
// web-search helper.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codeturtle/reviewd/internal/config"
	"github.com/codeturtle/reviewd/internal/embeddings"
	"github.com/codeturtle/reviewd/internal/logging"
	"github.com/codeturtle/reviewd/internal/vectorstore"
)

var (
	// configPath is the optional YAML configuration file
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reviewd",
	Short: "Semantic code index and PR review pipeline",
	Long: `reviewd keeps a vector index of a repository's source code and uses it
to assemble context for pull request reviews: the diff, the changed
files, and the most similar indexed code.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file")
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(searchCmd)
}

// setup loads configuration and builds the logger every command shares.
func setup() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing logger: %w", err)
	}
	return cfg, logger, nil
}

// newEmbedder builds the embedding service from configuration.
func newEmbedder(cfg *config.Config) (*embeddings.Service, error) {
	return embeddings.NewService(embeddings.Config{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
		APIKey:  cfg.Embeddings.APIKey,
	})
}

// newStore connects to the vector store from configuration.
func newStore(ctx context.Context, cfg *config.Config) (*vectorstore.QdrantStore, error) {
	return vectorstore.NewQdrantStore(ctx, vectorstore.QdrantConfig{
		Host:           cfg.Qdrant.Host,
		Port:           cfg.Qdrant.Port,
		CollectionName: cfg.Qdrant.CollectionName,
		VectorSize:     uint64(cfg.Qdrant.VectorSize),
		UseTLS:         cfg.Qdrant.UseTLS,
		MaxRetries:     cfg.Qdrant.MaxRetries,
		RetryBackoff:   cfg.Qdrant.RetryBackoff,
	})
}
