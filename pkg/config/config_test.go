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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, DefaultSimilarityThreshold, cfg.Retrieval.SimilarityThreshold)
	assert.Equal(t, 10, cfg.Retrieval.DefaultLimit)
	assert.Equal(t, "english", cfg.Text.Language)
	assert.Equal(t, "index-requests", cfg.Kafka.Topics.IndexRequests)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "rewrite", cfg.Indexer.Strategy)
	assert.Equal(t, 30*time.Second, cfg.Indexer.MessageTimeout)
}

func TestLoadFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexisearch.yaml")
	body := `
server:
  port: 9999
storage:
  driver: sqlite
  sqlitePath: /tmp/lexi.db
redis:
  enabled: true
  cacheTTL: 5m
retrieval:
  similarityThreshold: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "/tmp/lexi.db", cfg.Storage.SQLitePath)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Redis.CacheTTL)
	assert.Equal(t, 0.5, cfg.Retrieval.SimilarityThreshold)
	assert.Equal(t, 100, cfg.Retrieval.MaxResults)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LX_SERVER_PORT", "7070")
	t.Setenv("LX_STORAGE_DRIVER", "sqlite")
	t.Setenv("LX_STORAGE_SQLITE_PATH", ":memory:")
	t.Setenv("LX_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LX_REDIS_ENABLED", "true")
	t.Setenv("LX_RETRIEVAL_SIMILARITY_THRESHOLD", "0.9")
	t.Setenv("LX_INDEXER_STRATEGY", "incremental")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, ":memory:", cfg.Storage.SQLitePath)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 0.9, cfg.Retrieval.SimilarityThreshold)
	assert.Equal(t, "incremental", cfg.Indexer.Strategy)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "storage:\n  driver: mysql\n"},
		{"sqlite without path", "storage:\n  driver: sqlite\n  sqlitePath: \"\"\n"},
		{"zero threshold", "retrieval:\n  similarityThreshold: 0\n"},
		{"threshold above one", "retrieval:\n  similarityThreshold: 1.5\n"},
		{"limit above max", "retrieval:\n  defaultLimit: 500\n"},
		{"unsupported language", "text:\n  language: klingon\n"},
		{"negative rate limit", "server:\n  rateLimit: -1\n"},
		{"unknown strategy", "indexer:\n  strategy: lazy\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "require"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=d sslmode=require", p.DSN())
}
