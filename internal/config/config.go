// Package config provides configuration loading for reviewd.
//
// Configuration is a value object constructed once at startup and passed
// into each component's constructor. It is loaded from an optional YAML
// file overridden by environment variables, with hardcoded defaults for
// everything else.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/codeturtle/reviewd/internal/logging"
)

// ErrInvalidConfig indicates a configuration value that fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete reviewd configuration.
type Config struct {
	Logging    logging.Config   `koanf:"logging"`
	Index      IndexConfig      `koanf:"index"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Qdrant     QdrantConfig     `koanf:"qdrant"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Webhook    WebhookConfig    `koanf:"webhook"`
	Review     ReviewConfig     `koanf:"review"`
	Search     SearchConfig     `koanf:"search"`
}

// IndexConfig holds index synchronizer configuration.
type IndexConfig struct {
	// RepoPath is the repository root to scan when no manifest is given.
	RepoPath string `koanf:"repo_path"`

	// UpsertManifest is an optional newline-delimited file listing paths to upsert.
	UpsertManifest string `koanf:"upsert_manifest"`

	// DeleteManifest is an optional newline-delimited file listing paths to delete.
	DeleteManifest string `koanf:"delete_manifest"`

	// BatchSize is the number of chunks embedded and upserted per store call.
	BatchSize int `koanf:"batch_size"`

	// ChunkSize is the target chunk size in characters.
	ChunkSize int `koanf:"chunk_size"`

	// ChunkOverlap is the overlap between consecutive chunks in characters.
	ChunkOverlap int `koanf:"chunk_overlap"`
}

// EmbeddingsConfig holds embedding service configuration.
type EmbeddingsConfig struct {
	// BaseURL is the TEI-style embedding server URL.
	BaseURL string `koanf:"base_url"`

	// Model is the embedding model name. Changing it requires a full reindex.
	Model string `koanf:"model"`

	// APIKey is an optional bearer token for hosted embedding servers.
	APIKey Secret `koanf:"api_key"`
}

// QdrantConfig holds vector store connection configuration.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string `koanf:"host"`

	// Port is the Qdrant gRPC port (6334, not the HTTP 6333).
	Port int `koanf:"port"`

	// CollectionName is the collection holding the code index.
	CollectionName string `koanf:"collection_name"`

	// VectorSize is the embedding dimensionality. Must match the model.
	VectorSize int `koanf:"vector_size"`

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool `koanf:"use_tls"`

	// MaxRetries is the retry budget for transient store failures.
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the initial backoff; doubles per attempt.
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// RetrievalConfig holds retrieval engine configuration.
type RetrievalConfig struct {
	// TopK is the number of similar chunks requested per query.
	TopK int `koanf:"top_k"`
}

// WebhookConfig holds webhook ingress configuration.
type WebhookConfig struct {
	// Host is the listen address.
	Host string `koanf:"host"`

	// Port is the listen port.
	Port int `koanf:"port"`

	// Secret is the shared GitHub webhook secret. When unset, signature
	// validation is skipped (documented weak mode).
	Secret Secret `koanf:"secret"`
}

// ReviewConfig holds review pipeline configuration.
type ReviewConfig struct {
	// Synthesizer is the external command that turns a context payload
	// into review markdown (payload on stdin, markdown on stdout).
	Synthesizer string `koanf:"synthesizer"`
}

// SearchConfig holds web-search helper configuration.
type SearchConfig struct {
	// BaseURL is the SerpAPI-compatible endpoint.
	BaseURL string `koanf:"base_url"`

	// APIKey authenticates search requests.
	APIKey Secret `koanf:"api_key"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Index.RepoPath == "" {
		cfg.Index.RepoPath = "."
	}
	if cfg.Index.BatchSize == 0 {
		cfg.Index.BatchSize = 100
	}
	if cfg.Index.ChunkSize == 0 {
		cfg.Index.ChunkSize = 512
	}
	if cfg.Index.ChunkOverlap == 0 {
		cfg.Index.ChunkOverlap = 64
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.CollectionName == "" {
		cfg.Qdrant.CollectionName = "code_turtle"
	}
	if cfg.Qdrant.VectorSize == 0 {
		cfg.Qdrant.VectorSize = 384 // all-MiniLM-L6-v2 dimensions
	}
	if cfg.Qdrant.MaxRetries == 0 {
		cfg.Qdrant.MaxRetries = 3
	}
	if cfg.Qdrant.RetryBackoff == 0 {
		cfg.Qdrant.RetryBackoff = time.Second
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 7
	}

	if cfg.Webhook.Host == "" {
		cfg.Webhook.Host = "0.0.0.0"
	}
	if cfg.Webhook.Port == 0 {
		cfg.Webhook.Port = 8000
	}

	if cfg.Search.BaseURL == "" {
		cfg.Search.BaseURL = "https://serpapi.com/search.json"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("%w: logging: %v", ErrInvalidConfig, err)
	}

	if c.Index.BatchSize < 1 {
		return fmt.Errorf("%w: index batch size must be positive, got %d", ErrInvalidConfig, c.Index.BatchSize)
	}
	if c.Index.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.Index.ChunkSize)
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return fmt.Errorf("%w: chunk overlap %d must be in [0, chunk size)", ErrInvalidConfig, c.Index.ChunkOverlap)
	}

	if c.Embeddings.BaseURL == "" {
		return fmt.Errorf("%w: embeddings base URL required", ErrInvalidConfig)
	}

	if c.Qdrant.Host == "" {
		return fmt.Errorf("%w: qdrant host required", ErrInvalidConfig)
	}
	if c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
		return fmt.Errorf("%w: invalid qdrant port %d", ErrInvalidConfig, c.Qdrant.Port)
	}
	if c.Qdrant.VectorSize < 1 {
		return fmt.Errorf("%w: qdrant vector size required", ErrInvalidConfig)
	}

	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("%w: retrieval top_k must be positive, got %d", ErrInvalidConfig, c.Retrieval.TopK)
	}

	if c.Webhook.Port < 1 || c.Webhook.Port > 65535 {
		return fmt.Errorf("%w: invalid webhook port %d", ErrInvalidConfig, c.Webhook.Port)
	}

	return nil
}
