// Package config defines the analyzer configuration and its YAML loader.
package config

import "time"

// Config is the root configuration.
type Config struct {
	DataDir  string         `yaml:"data_dir"`
	Logging  LoggingConfig  `yaml:"logging"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Store    StoreConfig    `yaml:"store"`
	Server   ServerConfig   `yaml:"server"`
	Audit    AuditConfig    `yaml:"audit"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// ScannerConfig controls contract discovery.
type ScannerConfig struct {
	ContractGlobs []string `yaml:"contract_globs"`
	ModelGlobs    []string `yaml:"model_globs"`
	ModelMarker   string   `yaml:"model_marker"`
	Concurrency   int      `yaml:"concurrency"`
}

// StoreConfig controls version storage and the diff cache.
type StoreConfig struct {
	DiffCacheSize int           `yaml:"diff_cache_size"`
	DiffCacheTTL  time.Duration `yaml:"diff_cache_ttl"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AuditConfig controls the audit trail.
type AuditConfig struct {
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
}

// WebhooksConfig defines event webhook notification settings.
type WebhooksConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Endpoints []WebhookEndpoint  `yaml:"endpoints"`
	Retry     WebhookRetryConfig `yaml:"retry"`
	Workers   int                `yaml:"workers"`
	QueueSize int                `yaml:"queue_size"`
	Timeout   time.Duration      `yaml:"timeout"`
}

// WebhookEndpoint defines a single webhook receiver. Filter is an optional
// boolean expression over the event (variables: type, repo, data) that must
// evaluate true for delivery.
type WebhookEndpoint struct {
	URL     string            `yaml:"url"`
	Secret  string            `yaml:"secret"`
	Events  []string          `yaml:"events"`
	Filter  string            `yaml:"filter"`
	Headers map[string]string `yaml:"headers"`
}

// WebhookRetryConfig defines retry settings for webhook delivery.
type WebhookRetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "data",
		Logging: LoggingConfig{
			Level: "info",
		},
		Scanner: ScannerConfig{
			Concurrency: 4,
		},
		Store: StoreConfig{
			DiffCacheSize: 256,
			DiffCacheTTL:  10 * time.Minute,
		},
		Server: ServerConfig{
			Address:      ":8780",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Audit: AuditConfig{
			MaxSizeMB:  50,
			MaxBackups: 5,
		},
		Webhooks: WebhooksConfig{
			Workers:   4,
			QueueSize: 1000,
			Timeout:   5 * time.Second,
			Retry: WebhookRetryConfig{
				MaxRetries: 3,
				Backoff:    1 * time.Second,
				MaxBackoff: 30 * time.Second,
			},
		},
	}
}
