package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate default config: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"empty metadata db", func(c *Config) { c.MetadataDB = "" }},
		{"zero shard interval", func(c *Config) { c.Sharding.IntervalDays = 0 }},
		{"zero max rows", func(c *Config) { c.Sharding.MaxRowsPerShard = 0 }},
		{"negative min age", func(c *Config) { c.Compression.MinAgeDays = -1 }},
		{"zero verify interval", func(c *Config) { c.Checksum.VerifyIntervalDays = 0 }},
		{"no checksum fields", func(c *Config) { c.Checksum.Fields = nil }},
		{"high coverage above 1", func(c *Config) { c.Optimizer.HighCoverage = 1.5 }},
		{"medium above high", func(c *Config) { c.Optimizer.MediumCoverage = 0.9 }},
		{"zero maintenance interval", func(c *Config) { c.Maintenance.IntervalHours = 0 }},
		{"unnamed table", func(c *Config) {
			c.Maintenance.Tables = append(c.Maintenance.Tables, TableConfig{})
		}},
		{"duplicate table", func(c *Config) {
			c.Maintenance.Tables = append(c.Maintenance.Tables, TableConfig{Name: "daily_bars"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tickvault.yaml")

	yaml := `
data_dir: /tmp/tickvault/shards
metadata_db: /tmp/tickvault/meta.db
sharding:
  default_strategy: size_based
  interval_days: 7
compression:
  default_codec: snappy
  min_age_days: 30
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Sharding.DefaultStrategy != "size_based" {
		t.Errorf("DefaultStrategy = %q, want size_based", cfg.Sharding.DefaultStrategy)
	}
	if cfg.Sharding.IntervalDays != 7 {
		t.Errorf("IntervalDays = %d, want 7", cfg.Sharding.IntervalDays)
	}
	if cfg.Compression.DefaultCodec != "snappy" {
		t.Errorf("DefaultCodec = %q, want snappy", cfg.Compression.DefaultCodec)
	}
	// Unset fields keep their defaults.
	if cfg.Checksum.VerifyIntervalDays != 7 {
		t.Errorf("VerifyIntervalDays = %d, want default 7", cfg.Checksum.VerifyIntervalDays)
	}
	if cfg.Optimizer.HighCoverage != 0.8 {
		t.Errorf("HighCoverage = %g, want default 0.8", cfg.Optimizer.HighCoverage)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load of a missing file succeeded")
	}
	// Callers fall back to defaults on a missing file, so the not-exist
	// condition must survive the wrapping.
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing-file error = %v, want fs.ErrNotExist in the chain", err)
	}
}

func TestTableLookup(t *testing.T) {
	cfg := DefaultConfig()

	tc := cfg.Table("daily_bars")
	if tc == nil {
		t.Fatal("Table(daily_bars) = nil")
	}
	if tc.ShardStrategy != "time_based" {
		t.Errorf("ShardStrategy = %q, want time_based", tc.ShardStrategy)
	}

	if cfg.Table("unknown_table") != nil {
		t.Error("Table(unknown_table) should be nil")
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "shards")
	cfg.MetadataDB = filepath.Join(dir, "meta", "tickvault.db")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	for _, d := range []string{cfg.DataDir, filepath.Dir(cfg.MetadataDB)} {
		if fi, err := os.Stat(d); err != nil || !fi.IsDir() {
			t.Errorf("directory %s missing after EnsureDirectories", d)
		}
	}
}
