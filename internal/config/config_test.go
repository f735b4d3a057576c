package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CONSOLIDATOR_EMBEDDING_DIMENSIONS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "smart", cfg.DefaultStrategy)
	assert.Equal(t, 0.7, cfg.DefaultConflictThreshold)
	assert.Equal(t, 1024, cfg.EmbeddingDimensions)
	assert.False(t, cfg.SSEEnabled)
}

func TestLoadInvalidInt(t *testing.T) {
	t.Setenv("CONSOLIDATOR_EMBEDDING_DIMENSIONS", "not-a-number")
	_, err := Load()
	require.Error(t, err)
}

func TestValidateRejectsOutOfRangeThreshold(t *testing.T) {
	cfg := Config{
		DatabaseURL:              "postgres://x",
		EmbeddingDimensions:      128,
		SSEPort:                  8080,
		LLMTimeout:               1,
		CallTimeout:              1,
		DefaultConflictThreshold: 1.5,
	}
	err := cfg.Validate()
	require.Error(t, err)
}
