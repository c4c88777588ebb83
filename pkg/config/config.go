package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shuttlehq/shuttle/pkg/types"
)

// Storage backends for document bodies.
const (
	BackendEmbedded    = "embedded"
	BackendObjectStore = "object-store"
)

// Config holds the coordinator process configuration.
type Config struct {
	// ListenAddr is the coordinator HTTP bind address.
	ListenAddr string `yaml:"listen_addr"`

	// DataDir holds the embedded database.
	DataDir string `yaml:"data_dir"`

	// Connectors maps source type to connector worker base URL.
	Connectors map[types.SourceType]string `yaml:"connectors"`

	MaxConcurrentSyncs        int `yaml:"max_concurrent_syncs"`
	MaxConcurrentSyncsPerType int `yaml:"max_concurrent_syncs_per_type"`

	SchedulerInterval time.Duration `yaml:"scheduler_interval"`
	StaleSyncTimeout  time.Duration `yaml:"stale_sync_timeout"`

	// DefaultSyncInterval applies to sources that don't set their own.
	DefaultSyncInterval time.Duration `yaml:"default_sync_interval"`

	// StorageBackend selects where blob bodies live: embedded or object-store.
	StorageBackend string `yaml:"storage_backend"`

	ObjectStore ObjectStoreConfig `yaml:"object_store"`

	// SealPassphrase derives the credential sealing key.
	SealPassphrase string `yaml:"seal_passphrase"`

	// QueueRetentionDays bounds completed/dead-letter retention.
	QueueRetentionDays int `yaml:"queue_retention_days"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// ObjectStoreConfig configures the S3-compatible blob backend.
type ObjectStoreConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:                ":7700",
		DataDir:                   "./data",
		Connectors:                map[types.SourceType]string{},
		MaxConcurrentSyncs:        10,
		MaxConcurrentSyncsPerType: 3,
		SchedulerInterval:         30 * time.Second,
		StaleSyncTimeout:          10 * time.Minute,
		DefaultSyncInterval:       time.Hour,
		StorageBackend:            BackendEmbedded,
		// Development default; production deployments must override via
		// SHUTTLE_SEAL_PASSPHRASE or the config file.
		SealPassphrase:     "shuttle-dev",
		QueueRetentionDays: 7,
		LogLevel:           "info",
	}
}

// Load reads configuration from an optional YAML file, then applies
// SHUTTLE_* environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SHUTTLE_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("SHUTTLE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("SHUTTLE_MAX_CONCURRENT_SYNCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxConcurrentSyncs = n
		}
	}
	if v := os.Getenv("SHUTTLE_MAX_CONCURRENT_SYNCS_PER_TYPE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxConcurrentSyncsPerType = n
		}
	}
	if v := os.Getenv("SHUTTLE_SCHEDULER_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SchedulerInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("SHUTTLE_STALE_SYNC_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.StaleSyncTimeout = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv("SHUTTLE_STORAGE_BACKEND"); v != "" {
		c.StorageBackend = v
	}
	if v := os.Getenv("SHUTTLE_OBJECT_STORE_BUCKET"); v != "" {
		c.ObjectStore.Bucket = v
	}
	if v := os.Getenv("SHUTTLE_OBJECT_STORE_REGION"); v != "" {
		c.ObjectStore.Region = v
	}
	if v := os.Getenv("SHUTTLE_OBJECT_STORE_ENDPOINT"); v != "" {
		c.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("SHUTTLE_SEAL_PASSPHRASE"); v != "" {
		c.SealPassphrase = v
	}
	// SHUTTLE_CONNECTOR_FILES=http://... registers or overrides one worker.
	for _, st := range types.SourceTypes {
		if v := os.Getenv("SHUTTLE_CONNECTOR_" + strings.ToUpper(string(st))); v != "" {
			if c.Connectors == nil {
				c.Connectors = map[types.SourceType]string{}
			}
			c.Connectors[st] = v
		}
	}
}

// Validate rejects configurations the coordinator cannot start with.
func (c *Config) Validate() error {
	if c.MaxConcurrentSyncs < 1 {
		return fmt.Errorf("max_concurrent_syncs must be at least 1")
	}
	if c.MaxConcurrentSyncsPerType < 1 {
		return fmt.Errorf("max_concurrent_syncs_per_type must be at least 1")
	}
	if c.SchedulerInterval <= 0 {
		return fmt.Errorf("scheduler_interval must be positive")
	}
	switch c.StorageBackend {
	case BackendEmbedded:
	case BackendObjectStore:
		if c.ObjectStore.Bucket == "" {
			return fmt.Errorf("object_store.bucket is required for the object-store backend")
		}
	default:
		return fmt.Errorf("unknown storage_backend %q", c.StorageBackend)
	}
	for st := range c.Connectors {
		if !types.ValidSourceType(st) {
			return fmt.Errorf("unknown source type %q in connector map", st)
		}
	}
	return nil
}

// ConnectorURL resolves the worker base URL for a source type.
func (c *Config) ConnectorURL(st types.SourceType) (string, error) {
	url, ok := c.Connectors[st]
	if !ok || url == "" {
		return "", fmt.Errorf("no connector registered for source type %q", st)
	}
	return url, nil
}
