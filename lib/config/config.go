// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trackline/trackline/lib/journal"
)

// Config is the master configuration for trackline.
type Config struct {
	// Storage configures the local journal layer.
	Storage StorageConfig `yaml:"storage"`

	// Backend configures the delivery endpoint.
	Backend BackendConfig `yaml:"backend"`

	// Sync configures the background delivery engine.
	Sync SyncConfig `yaml:"sync"`
}

// StorageConfig configures the durable journal layer.
type StorageConfig struct {
	// Root is the base directory for run journals.
	Root string `yaml:"root"`

	// MaxDiskUtilization is the used-percent threshold that engages
	// backpressure. Zero disables the guard.
	MaxDiskUtilization float64 `yaml:"max_disk_utilization"`

	// Backpressure is what append does at the threshold: raise, block,
	// or drop.
	Backpressure string `yaml:"backpressure"`

	// BlockTimeout bounds the block policy, as a duration string.
	BlockTimeout string `yaml:"block_timeout"`

	// Compression applies to sealed journal segments: none, lz4, or
	// zstd.
	Compression string `yaml:"compression"`

	// MaxSegmentBytes rotates the active segment past this size.
	MaxSegmentBytes int64 `yaml:"max_segment_bytes"`

	// Unsynced trades crash safety for append throughput.
	Unsynced bool `yaml:"unsynced"`

	// TruncateCorrupt recovers corrupt journals by dropping the
	// unreadable records instead of failing closed.
	TruncateCorrupt bool `yaml:"truncate_corrupt"`
}

// BackendConfig configures the HTTP delivery client.
type BackendConfig struct {
	// URL is the service root, e.g. https://tracking.example.com.
	URL string `yaml:"url"`

	// APIToken authenticates requests. When empty, the
	// TRACKLINE_API_TOKEN environment variable is consulted.
	APIToken string `yaml:"api_token"`

	// RequestTimeout bounds one batch round trip.
	RequestTimeout string `yaml:"request_timeout"`
}

// SyncConfig configures the background delivery engine.
type SyncConfig struct {
	// MaxBatchCount and MaxBatchBytes bound one delivery batch.
	MaxBatchCount int   `yaml:"max_batch_count"`
	MaxBatchBytes int64 `yaml:"max_batch_bytes"`

	// InitialBackoff and MaxBackoff bound the retry delay sequence.
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`

	// RequestsPerSecond rate-limits sends. Zero means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// PoisonRetryBudget is how many times a rejected operation is
	// redelivered before being skipped.
	PoisonRetryBudget int `yaml:"poison_retry_budget"`

	// StopTimeout bounds the final drain at shutdown.
	StopTimeout string `yaml:"stop_timeout"`
}

// Default returns the default configuration, used as the base before a
// config file is merged in, and as the whole configuration when no
// file is given.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Storage: StorageConfig{
			Root:               filepath.Join(homeDir, ".cache", "trackline"),
			MaxDiskUtilization: 90,
			Backpressure:       "raise",
			BlockTimeout:       "30s",
			Compression:        "zstd",
		},
		Backend: BackendConfig{
			RequestTimeout: "30s",
		},
		Sync: SyncConfig{
			MaxBatchCount:     1000,
			MaxBatchBytes:     16 << 20,
			InitialBackoff:    "1s",
			MaxBackoff:        "30s",
			PoisonRetryBudget: 3,
			StopTimeout:       "30s",
		},
	}
}

// Load loads configuration from the TRACKLINE_CONFIG environment
// variable, falling back to Default when it is unset.
func Load() (*Config, error) {
	path := os.Getenv("TRACKLINE_CONFIG")
	if path == "" {
		cfg := Default()
		cfg.applyEnvironment()
		return cfg, cfg.Validate()
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merged over
// Default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyEnvironment()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnvironment() {
	if c.Backend.APIToken == "" {
		c.Backend.APIToken = os.Getenv("TRACKLINE_API_TOKEN")
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root must not be empty")
	}
	if c.Storage.MaxDiskUtilization < 0 || c.Storage.MaxDiskUtilization > 100 {
		return fmt.Errorf("storage.max_disk_utilization %v out of range [0, 100]",
			c.Storage.MaxDiskUtilization)
	}
	if _, err := journal.ParseBackpressurePolicy(c.Storage.Backpressure); err != nil {
		return fmt.Errorf("storage.backpressure: %w", err)
	}
	if _, err := journal.ParseCompression(c.Storage.Compression); err != nil {
		return fmt.Errorf("storage.compression: %w", err)
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"storage.block_timeout", c.Storage.BlockTimeout},
		{"backend.request_timeout", c.Backend.RequestTimeout},
		{"sync.initial_backoff", c.Sync.InitialBackoff},
		{"sync.max_backoff", c.Sync.MaxBackoff},
		{"sync.stop_timeout", c.Sync.StopTimeout},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	if c.Sync.MaxBatchCount < 0 {
		return fmt.Errorf("sync.max_batch_count must not be negative")
	}
	if c.Sync.PoisonRetryBudget < 0 {
		return fmt.Errorf("sync.poison_retry_budget must not be negative")
	}
	return nil
}

// Duration parses a duration field already checked by Validate. An
// empty value returns zero, letting the consuming layer apply its
// default.
func Duration(value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

// JournalOptions maps the storage section onto journal options. Dir is
// left for the caller, which knows the run and attempt.
func (c *Config) JournalOptions() journal.Options {
	policy, _ := journal.ParseBackpressurePolicy(c.Storage.Backpressure)
	compression, _ := journal.ParseCompression(c.Storage.Compression)
	return journal.Options{
		MaxSegmentBytes:    c.Storage.MaxSegmentBytes,
		Compression:        compression,
		Unsynced:           c.Storage.Unsynced,
		TruncateCorrupt:    c.Storage.TruncateCorrupt,
		MaxDiskUtilization: c.Storage.MaxDiskUtilization,
		Backpressure:       policy,
		BlockTimeout:       Duration(c.Storage.BlockTimeout),
	}
}
