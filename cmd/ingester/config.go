package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full ingester service configuration.
type Config struct {
	// Node endpoint configuration
	Node NodeConfig `yaml:"node"`

	// Programs are the tracked program ids (base58)
	Programs []string `yaml:"programs"`

	// Database connection settings
	Database DatabaseConfig `yaml:"database"`

	// Dedup cache settings
	Dedup DedupConfig `yaml:"dedup"`

	// Batch writer settings
	Writer WriterConfig `yaml:"writer"`

	// Backfill orchestrator settings
	Backfill BackfillConfig `yaml:"backfill"`

	// NATS fanout of persisted events (optional)
	Fanout FanoutConfig `yaml:"fanout"`

	// Kafka scan announcements (optional)
	Announce AnnounceConfig `yaml:"announce"`

	// S3/MinIO scan report archival (optional)
	Archive ArchiveConfig `yaml:"archive"`
}

// NodeConfig holds Solana node endpoints.
type NodeConfig struct {
	// RPC HTTP endpoint for history and transaction queries
	RPCURL string `yaml:"rpc_url"`

	// WebSocket endpoint for log subscriptions; derived from RPCURL
	// when empty
	WSURL string `yaml:"ws_url"`

	// Commitment level: processed, confirmed, finalized
	Commitment string `yaml:"commitment"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DedupConfig selects and tunes the dedup cache backend.
type DedupConfig struct {
	// Backend: memory or redis
	Backend string `yaml:"backend"`

	TTL     time.Duration `yaml:"ttl"`
	MaxSize int           `yaml:"max_size"`

	// Redis settings, used when backend is redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// WriterConfig holds batch writer tuning.
type WriterConfig struct {
	BatchSize  int           `yaml:"batch_size"`
	MaxWait    time.Duration `yaml:"max_wait"`
	BufferSize int           `yaml:"buffer_size"`
	MaxRetries int           `yaml:"max_retries"`
}

// BackfillConfig holds orchestrator tuning.
type BackfillConfig struct {
	Interval  time.Duration `yaml:"interval"`
	PageLimit int           `yaml:"page_limit"`
}

// FanoutConfig holds NATS JetStream fanout settings.
type FanoutConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// AnnounceConfig holds Kafka scan announcement settings.
type AnnounceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

// ArchiveConfig holds object storage settings for scan reports.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// LoadConfig loads configuration from file and/or CLI overrides.
func LoadConfig(configPath, rpcURL, programs string) (*Config, error) {
	cfg := &Config{
		Node: NodeConfig{
			RPCURL:     "http://localhost:8899",
			Commitment: "confirmed",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "anchorwatch",
			Password: "anchorwatch_dev",
			Database: "anchorwatch",
			SSLMode:  "disable",
		},
		Dedup: DedupConfig{
			Backend:   "memory",
			RedisAddr: "localhost:6379",
		},
		Backfill: BackfillConfig{
			Interval:  5 * time.Minute,
			PageLimit: 1000,
		},
		Fanout: FanoutConfig{
			URL: "nats://localhost:4222",
		},
		Announce: AnnounceConfig{
			Brokers: "localhost:9092",
		},
		Archive: ArchiveConfig{
			Endpoint: "localhost:9000",
			Bucket:   "anchorwatch-scans",
		},
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// CLI flags override the file
	if rpcURL != "" {
		cfg.Node.RPCURL = rpcURL
	}
	if programs != "" {
		cfg.Programs = splitAndTrim(programs)
	}

	if len(cfg.Programs) == 0 {
		return nil, fmt.Errorf("at least one program id is required")
	}

	return cfg, nil
}
