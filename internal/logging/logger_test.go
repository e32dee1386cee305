package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults valid", *NewDefaultConfig(), false},
		{"console format", Config{Level: "debug", Format: "console"}, false},
		{"bad level", Config{Level: "loud", Format: "json"}, true},
		{"bad format", Config{Level: "info", Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewLoggerRejectsInvalidConfig(t *testing.T) {
	_, err := NewLogger(&Config{Level: "nope", Format: "json"})
	require.Error(t, err)
}

func TestNewLoggerNilConfigUsesDefaults(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info(context.Background(), "hello")
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, ContextFields(ctx))

	ctx = WithFields(ctx, zap.String("repo", "acme/widgets"))
	ctx = WithFields(ctx, zap.Int("pr", 42))

	fields := ContextFields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "repo", fields[0].Key)
	assert.Equal(t, "pr", fields[1].Key)
}
