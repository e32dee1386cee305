// Package retrieval turns a pull-request diff into a context payload:
// the diff itself, the current content of the changed files, and the
// most similar indexed files from the vector store.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/codeturtle/reviewd/internal/diff"
	"github.com/codeturtle/reviewd/internal/logging"
	"github.com/codeturtle/reviewd/internal/vectorstore"
)

var tracer = otel.Tracer("reviewd.retrieval")

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrRetrievalFailed indicates the embedding or index query failed.
	ErrRetrievalFailed = errors.New("context retrieval failed")
)

// DefaultTopK is the default number of index matches per query.
const DefaultTopK = 7

// ContextPayload is the output handed to the review synthesis stage.
//
// ChangedFiles and RetrievedContext may share keys; the consumer treats
// ChangedFiles as authoritative for any overlap. Both maps are best
// effort: paths that cannot be read are absent, never an error.
type ContextPayload struct {
	Diff             string            `json:"diff"`
	ChangedFiles     map[string]string `json:"changed_files"`
	RetrievedContext map[string]string `json:"retrieved_context"`
}

// Config holds configuration for the retrieval engine.
type Config struct {
	// RepoPath is the root against which file paths are resolved.
	RepoPath string

	// TopK is the number of index matches per query. Default 7.
	TopK int
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.RepoPath == "" {
		return fmt.Errorf("%w: repo path required", ErrInvalidConfig)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidConfig, c.TopK)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK == 0 {
		c.TopK = DefaultTopK
	}
}

// Engine assembles context payloads from diffs.
type Engine struct {
	config   Config
	embedder vectorstore.Embedder
	store    vectorstore.Store
	logger   *logging.Logger
}

// NewEngine creates a retrieval engine from its collaborators.
func NewEngine(cfg Config, embedder vectorstore.Embedder, store vectorstore.Store, logger *logging.Logger) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if embedder == nil || store == nil {
		return nil, fmt.Errorf("%w: embedder and store are required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Engine{
		config:   cfg,
		embedder: embedder,
		store:    store,
		logger:   logger.Named("retrieval"),
	}, nil
}

// Retrieve parses diffText, queries the index with the added lines, and
// returns the assembled payload.
//
// A diff with no added lines skips the vector query entirely: an
// embedding of empty text is not meaningful. The changed files are
// always included regardless of similarity rank, so the literal delta
// stays visible to the reviewer even when it has no close match in the
// corpus.
func (e *Engine) Retrieve(ctx context.Context, diffText string) (*ContextPayload, error) {
	ctx, span := tracer.Start(ctx, "Engine.Retrieve")
	defer span.End()

	record := diff.Parse(diffText)
	span.SetAttributes(
		attribute.Int("changed_files", len(record.ChangedFiles)),
		attribute.Int("added_lines", len(record.AddedLines)),
	)

	payload := &ContextPayload{
		Diff:             diffText,
		ChangedFiles:     e.readFiles(ctx, record.ChangedFiles),
		RetrievedContext: map[string]string{},
	}

	// A diff may add only blank lines; those join to an empty query
	// string, which is as unembeddable as no added lines at all.
	query := record.QueryText()
	if strings.TrimSpace(query) == "" {
		e.logger.Info(ctx, "diff has no added text, skipping index query")
		return payload, nil
	}

	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", ErrRetrievalFailed, err)
	}

	matches, err := e.store.Query(ctx, vector, e.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("%w: querying index: %v", ErrRetrievalFailed, err)
	}

	payload.RetrievedContext = e.readFiles(ctx, matchPaths(matches))

	e.logger.Info(ctx, "retrieved context",
		zap.Int("matches", len(matches)),
		zap.Int("retrieved_files", len(payload.RetrievedContext)),
		zap.Int("changed_files", len(payload.ChangedFiles)),
	)
	span.SetAttributes(attribute.Int("matches", len(matches)))
	return payload, nil
}

// matchPaths collects distinct file paths from matches, best first.
func matchPaths(matches []vectorstore.Match) []string {
	seen := make(map[string]bool, len(matches))
	var paths []string
	for _, m := range matches {
		if m.Metadata.FilePath == "" || seen[m.Metadata.FilePath] {
			continue
		}
		seen[m.Metadata.FilePath] = true
		paths = append(paths, m.Metadata.FilePath)
	}
	return paths
}

// readFiles reads each path relative to the repo root. Unreadable paths
// are silently excluded; a changed file may legitimately no longer
// exist at the head revision.
func (e *Engine) readFiles(ctx context.Context, paths []string) map[string]string {
	contents := make(map[string]string, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(filepath.Join(e.config.RepoPath, path))
		if err != nil {
			e.logger.Debug(ctx, "excluding unreadable file", zap.String("path", path), zap.Error(err))
			continue
		}
		contents[path] = string(data)
	}
	return contents
}
