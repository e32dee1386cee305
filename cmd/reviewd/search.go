package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codeturtle/reviewd/internal/websearch"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a web search and summarize the top results",
	Long: `Run a web search through the configured endpoint and print a short
markdown summary of the top results as JSON.

Examples:
  reviewd search "golang context cancellation patterns"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := websearch.NewClient(websearch.Config{
		BaseURL: cfg.Search.BaseURL,
		APIKey:  cfg.Search.APIKey,
	})
	if err != nil {
		return err
	}

	result, err := client.Search(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
