package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Service.Port)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.AnswerTTL)
	assert.Equal(t, 30, cfg.Cache.FactTTLDays)
	assert.InDelta(t, 0.75, cfg.Cache.FactScoreThreshold, 1e-9)
	assert.InDelta(t, 0.85, cfg.Cache.QueryMapThreshold, 1e-9)
	assert.Equal(t, 2, cfg.Research.MaxIterations)
	assert.Equal(t, 3, cfg.Research.MaxConcurrentUnits)
	assert.Equal(t, 4, cfg.Research.MaxToolCallsPerUnit)
	assert.Equal(t, "text-embedding-3-small", cfg.Embeddings.Model)
	assert.Equal(t, 1536, cfg.Embeddings.Dimension)
	assert.Equal(t, "recap-resolver", cfg.Tracing.ServiceName)
}

func TestLoadFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recap.yaml")
	content := `
service:
  port: 9090
cache:
  answer_ttl: 48h
  fact_score_threshold: 0.8
research:
  max_iterations: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Service.Port)
	assert.Equal(t, 48*time.Hour, cfg.Cache.AnswerTTL)
	assert.InDelta(t, 0.8, cfg.Cache.FactScoreThreshold, 1e-9)
	assert.Equal(t, 1, cfg.Research.MaxIterations)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, 8081, cfg.Service.AdminPort)
	assert.Equal(t, 3, cfg.Research.MaxConcurrentUnits)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("REDIS_ADDR", "redis-test:6380")
	t.Setenv("QDRANT_HOST", "qdrant-test")
	t.Setenv("QDRANT_PORT", "7333")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis-test:6380", cfg.Redis.Addr)
	assert.Equal(t, "qdrant-test", cfg.Qdrant.Host)
	assert.Equal(t, 7333, cfg.Qdrant.Port)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "http://qdrant-test:7333", cfg.Qdrant.URL())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Service.Port = 0 }},
		{"threshold above one", func(c *Config) { c.Cache.FactScoreThreshold = 1.5 }},
		{"zero iterations", func(c *Config) { c.Research.MaxIterations = 0 }},
		{"zero units", func(c *Config) { c.Research.MaxConcurrentUnits = 0 }},
		{"negative ttl", func(c *Config) { c.Cache.AnswerTTL = -time.Hour }},
		{"zero dimension", func(c *Config) { c.Embeddings.Dimension = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
