package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codeturtle/reviewd/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the GitHub webhook ingress",
	Long: `Serve the webhook ingress. Accepted pull request events run the review
pipeline in the background; /health and /metrics are exposed alongside.

Examples:
  WEBHOOK_SECRET=s3cret reviewd serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pipeline, store, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	server, err := webhook.NewServer(webhook.Config{
		Host:   cfg.Webhook.Host,
		Port:   cfg.Webhook.Port,
		Secret: cfg.Webhook.Secret,
	}, pipeline, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	if !cfg.Webhook.Secret.IsSet() {
		logger.Warn(ctx, "no webhook secret configured, signature validation disabled")
	}

	serverErrors := make(chan error, 1)
	go func() { serverErrors <- server.Start() }()

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "server shutdown error", zap.Error(err))
		return err
	}

	logger.Info(ctx, "server stopped gracefully")
	return nil
}
