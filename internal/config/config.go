package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// QueueBackend selects the substrate behind the job system.
type QueueBackend string

const (
	BackendInDB    QueueBackend = "in-db"
	BackendKVStore QueueBackend = "kv-store"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Queue    QueueConfig    `yaml:"queue"`
	Listener ListenerConfig `yaml:"listener"`
	Ingest   IngestConfig   `yaml:"ingest"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type QueueConfig struct {
	Backend        QueueBackend `yaml:"backend"`
	DBURL          string       `yaml:"db_url"`
	KVURL          string       `yaml:"kv_url"`
	Concurrency    int          `yaml:"concurrency"`
	PollIntervalMs int          `yaml:"poll_interval_ms"`
}

type ListenerConfig struct {
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
}

type IngestConfig struct {
	MaxBatchSize int `yaml:"max_batch_size"`
	AsyncWorkers int `yaml:"async_workers"`
}

// LoadConfig reads the yaml config file, applies environment overrides,
// fills defaults, and validates the result. A missing file is not an
// error — env-only deployments are supported.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("QUEUE_BACKEND"); v != "" {
		c.Queue.Backend = QueueBackend(v)
	}
	if v := os.Getenv("DB_URL"); v != "" {
		c.Queue.DBURL = v
	}
	if v := os.Getenv("KV_URL"); v != "" {
		c.Queue.KVURL = v
	}
	if v, err := strconv.Atoi(os.Getenv("WORKER_CONCURRENCY")); err == nil && v > 0 {
		c.Queue.Concurrency = v
	}
	if v, err := strconv.Atoi(os.Getenv("POLL_INTERVAL_MS")); err == nil && v > 0 {
		c.Queue.PollIntervalMs = v
	}
	if v, err := strconv.Atoi(os.Getenv("LISTENER_MAX_RECONNECT_ATTEMPTS")); err == nil && v > 0 {
		c.Listener.MaxReconnectAttempts = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = BackendInDB
	}
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = 5
	}
	if c.Queue.PollIntervalMs <= 0 {
		c.Queue.PollIntervalMs = 1000
	}
	if c.Listener.MaxReconnectAttempts <= 0 {
		c.Listener.MaxReconnectAttempts = 10
	}
	if c.Ingest.MaxBatchSize <= 0 {
		c.Ingest.MaxBatchSize = 1000
	}
	if c.Ingest.AsyncWorkers <= 0 {
		c.Ingest.AsyncWorkers = 4
	}
}

// Validate enforces the enumerated configuration contract.
func (c *Config) Validate() error {
	switch c.Queue.Backend {
	case BackendInDB, BackendKVStore:
	default:
		return fmt.Errorf("invalid QUEUE_BACKEND %q (want %q or %q)", c.Queue.Backend, BackendInDB, BackendKVStore)
	}
	if c.Queue.DBURL == "" {
		return fmt.Errorf("DB_URL is required")
	}
	if c.Queue.Backend == BackendKVStore && c.Queue.KVURL == "" {
		return fmt.Errorf("KV_URL is required when QUEUE_BACKEND=%s", BackendKVStore)
	}
	return nil
}
