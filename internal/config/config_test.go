package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/logtide")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, BackendInDB, cfg.Queue.Backend)
	assert.Equal(t, 5, cfg.Queue.Concurrency)
	assert.Equal(t, 1000, cfg.Queue.PollIntervalMs)
	assert.Equal(t, 10, cfg.Listener.MaxReconnectAttempts)
	assert.Equal(t, 1000, cfg.Ingest.MaxBatchSize)
	assert.Equal(t, 4, cfg.Ingest.AsyncWorkers)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/logtide")
	t.Setenv("KV_URL", "redis://localhost:6379/0")
	t.Setenv("QUEUE_BACKEND", "kv-store")
	t.Setenv("PORT", "9090")
	t.Setenv("WORKER_CONCURRENCY", "12")
	t.Setenv("POLL_INTERVAL_MS", "250")
	t.Setenv("LISTENER_MAX_RECONNECT_ATTEMPTS", "3")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, BackendKVStore, cfg.Queue.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Queue.KVURL)
	assert.Equal(t, 12, cfg.Queue.Concurrency)
	assert.Equal(t, 250, cfg.Queue.PollIntervalMs)
	assert.Equal(t, 3, cfg.Listener.MaxReconnectAttempts)
}

func TestLoadConfigYamlFile(t *testing.T) {
	t.Setenv("DB_URL", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "7070"
queue:
  backend: in-db
  db_url: postgres://db.internal/logtide
  concurrency: 2
ingest:
  max_batch_size: 500
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "postgres://db.internal/logtide", cfg.Queue.DBURL)
	assert.Equal(t, 2, cfg.Queue.Concurrency)
	assert.Equal(t, 500, cfg.Ingest.MaxBatchSize)
}

func TestLoadConfigMissingFileIsNotAnError(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/logtide")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.NoError(t, err)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing db url", Config{Queue: QueueConfig{Backend: BackendInDB}}},
		{"unknown backend", Config{Queue: QueueConfig{Backend: "rabbitmq", DBURL: "x"}}},
		{"kv-store without kv url", Config{Queue: QueueConfig{Backend: BackendKVStore, DBURL: "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}
