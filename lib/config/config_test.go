// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/trackline/trackline/lib/journal"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trackline.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  root: /var/lib/trackline
  backpressure: block
  compression: lz4
backend:
  url: https://tracking.example.com
  api_token: file-token
sync:
  max_batch_count: 250
  requests_per_second: 10
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Storage.Root != "/var/lib/trackline" {
		t.Errorf("root = %q", cfg.Storage.Root)
	}
	if cfg.Storage.Backpressure != "block" {
		t.Errorf("backpressure = %q", cfg.Storage.Backpressure)
	}
	if cfg.Sync.MaxBatchCount != 250 {
		t.Errorf("max_batch_count = %d", cfg.Sync.MaxBatchCount)
	}
	// Untouched fields keep their defaults.
	if cfg.Sync.MaxBackoff != "30s" {
		t.Errorf("max_backoff = %q, want default 30s", cfg.Sync.MaxBackoff)
	}
	if cfg.Sync.PoisonRetryBudget != 3 {
		t.Errorf("poison_retry_budget = %d, want default 3", cfg.Sync.PoisonRetryBudget)
	}
}

func TestAPITokenFromEnvironment(t *testing.T) {
	t.Setenv("TRACKLINE_API_TOKEN", "env-token")

	path := writeConfig(t, "backend:\n  url: https://example.com\n")
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Backend.APIToken != "env-token" {
		t.Errorf("token = %q, want env-token", cfg.Backend.APIToken)
	}

	// The file wins when both are present.
	path = writeConfig(t, "backend:\n  api_token: file-token\n")
	cfg, err = LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Backend.APIToken != "file-token" {
		t.Errorf("token = %q, want file-token", cfg.Backend.APIToken)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		fragment string
	}{
		{"empty root", func(c *Config) { c.Storage.Root = "" }, "storage.root"},
		{"utilization out of range", func(c *Config) { c.Storage.MaxDiskUtilization = 150 }, "max_disk_utilization"},
		{"unknown policy", func(c *Config) { c.Storage.Backpressure = "panic" }, "backpressure"},
		{"unknown compression", func(c *Config) { c.Storage.Compression = "brotli" }, "compression"},
		{"bad duration", func(c *Config) { c.Sync.MaxBackoff = "fast" }, "max_backoff"},
		{"negative batch", func(c *Config) { c.Sync.MaxBatchCount = -1 }, "max_batch_count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted a bad config")
			}
			if !strings.Contains(err.Error(), tt.fragment) {
				t.Errorf("error %q does not mention %q", err, tt.fragment)
			}
		})
	}
}

func TestLoadWithoutEnvUsesDefaults(t *testing.T) {
	t.Setenv("TRACKLINE_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Backpressure != "raise" {
		t.Errorf("backpressure = %q, want raise", cfg.Storage.Backpressure)
	}
}

func TestJournalOptionsMapping(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backpressure = "drop"
	cfg.Storage.Compression = "lz4"
	cfg.Storage.BlockTimeout = "45s"
	cfg.Storage.MaxSegmentBytes = 1 << 20

	opts := cfg.JournalOptions()
	if opts.Backpressure != journal.BackpressureDrop {
		t.Errorf("policy = %q", opts.Backpressure)
	}
	if opts.Compression != journal.CompressionLZ4 {
		t.Errorf("compression = %q", opts.Compression)
	}
	if opts.BlockTimeout != 45*time.Second {
		t.Errorf("block timeout = %s", opts.BlockTimeout)
	}
	if opts.MaxSegmentBytes != 1<<20 {
		t.Errorf("segment bytes = %d", opts.MaxSegmentBytes)
	}
	if opts.MaxDiskUtilization != 90 {
		t.Errorf("utilization = %v", opts.MaxDiskUtilization)
	}
}
