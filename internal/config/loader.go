package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Load loads configuration from an optional YAML file, then overrides
// with environment variables, then fills defaults and validates.
//
// Precedence (highest to lowest):
//  1. Environment variables (QDRANT_HOST, WEBHOOK_SECRET, ...)
//  2. YAML config file (configPath, skipped when empty or missing)
//  3. Hardcoded defaults
//
// Environment variables map to config keys by splitting on the first
// underscore: QDRANT_COLLECTION_NAME -> qdrant.collection_name,
// EMBEDDINGS_BASE_URL -> embeddings.base_url, WEBHOOK_SECRET ->
// webhook.secret.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
			}
		} else {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider("", ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envToKey maps an environment variable name to a config key.
// The section is everything before the first underscore; the rest is
// the field name with underscores preserved.
func envToKey(s string) string {
	lower := strings.ToLower(s)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}
