// Package config holds the storage manager configuration.
//
// The recommendation cut-points, shard interval, and compression thresholds
// are tunable defaults, not load-tested optimums; deployments are expected
// to adjust them per table volume.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the complete storage manager configuration.
type Config struct {
	// DataDir is the root directory for shard files.
	DataDir string `yaml:"data_dir"`

	// MetadataDB is the path of the SQLite metadata database.
	MetadataDB string `yaml:"metadata_db"`

	// Sharding configures shard creation policy defaults.
	Sharding ShardingConfig `yaml:"sharding"`

	// Compression configures recompression policy defaults.
	Compression CompressionConfig `yaml:"compression"`

	// Checksum configures integrity verification.
	Checksum ChecksumConfig `yaml:"checksum"`

	// Optimizer configures query planning thresholds.
	Optimizer OptimizerConfig `yaml:"optimizer"`

	// Maintenance configures the scheduled maintenance pass.
	Maintenance MaintenanceConfig `yaml:"maintenance"`

	// Query configures the DuckDB query service.
	Query QueryConfig `yaml:"query"`
}

// ShardingConfig configures shard creation policy defaults.
type ShardingConfig struct {
	// DefaultStrategy names the strategy used when a table does not
	// override it: "time_based" or "size_based".
	DefaultStrategy string `yaml:"default_strategy"`

	// IntervalDays is the time-based shard window in days.
	IntervalDays int `yaml:"interval_days"`

	// MaxRowsPerShard is the size-based shard trigger.
	MaxRowsPerShard int64 `yaml:"max_rows_per_shard"`

	// FileFormat is the shard file format identifier.
	FileFormat string `yaml:"file_format"`
}

// CompressionConfig configures recompression policy defaults.
type CompressionConfig struct {
	// DefaultCodec is the codec used by auto-compression: snappy, zstd,
	// lz4, gzip.
	DefaultCodec string `yaml:"default_codec"`

	// Level is the codec level where the codec supports one
	// (zstd: 1-22, gzip: 1-9).
	Level int `yaml:"level"`

	// MinAgeDays is the time-based compression threshold.
	MinAgeDays int `yaml:"min_age_days"`

	// MinSizeMB is the size-based compression threshold.
	MinSizeMB int64 `yaml:"min_size_mb"`
}

// ChecksumConfig configures integrity verification.
type ChecksumConfig struct {
	// Fields is the ordered field set digests cover.
	Fields []string `yaml:"fields"`

	// VerifyIntervalDays is the re-verification cadence for the
	// time-based strategy.
	VerifyIntervalDays int `yaml:"verify_interval_days"`

	// CriticalIntervalDays is the cadence for the critical-data strategy.
	CriticalIntervalDays int `yaml:"critical_interval_days"`

	// SketchAccuracy is the DDSketch relative accuracy for the
	// verification-staleness distribution (0.01 = 1% error).
	SketchAccuracy float64 `yaml:"sketch_accuracy"`
}

// OptimizerConfig configures query planning thresholds.
type OptimizerConfig struct {
	// HighCoverage is the shard coverage ratio at or above which queries
	// should be served entirely from shards.
	HighCoverage float64 `yaml:"high_coverage"`

	// MediumCoverage is the ratio at or above which a hybrid plan is
	// recommended.
	MediumCoverage float64 `yaml:"medium_coverage"`
}

// MaintenanceConfig configures the scheduled maintenance pass.
type MaintenanceConfig struct {
	// IntervalHours is the default scheduling interval.
	IntervalHours float64 `yaml:"interval_hours"`

	// Tables lists the tracked table classes.
	Tables []TableConfig `yaml:"tables"`
}

// TableConfig describes one tracked table class and the strategies its
// maintenance steps use.
type TableConfig struct {
	// Name is the logical table name (e.g. "daily_bars").
	Name string `yaml:"name"`

	// ShardKey is the date-like column shards are bounded on.
	ShardKey string `yaml:"shard_key"`

	// ShardStrategy overrides Sharding.DefaultStrategy for this table.
	ShardStrategy string `yaml:"shard_strategy"`

	// CompressionStrategy names the auto-compression policy.
	CompressionStrategy string `yaml:"compression_strategy"`

	// ChecksumStrategy names the verification policy.
	ChecksumStrategy string `yaml:"checksum_strategy"`
}

// QueryConfig configures the DuckDB query service.
type QueryConfig struct {
	// MemoryLimit is the DuckDB memory limit (e.g. "2GB").
	MemoryLimit string `yaml:"memory_limit"`

	// MaxRows is the maximum number of rows returned per query.
	MaxRows int `yaml:"max_rows"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:    "/var/lib/tickvault/shards",
		MetadataDB: "/var/lib/tickvault/metadata.db",
		Sharding: ShardingConfig{
			DefaultStrategy: "time_based",
			IntervalDays:    30,
			MaxRowsPerShard: 1_000_000,
			FileFormat:      "parquet",
		},
		Compression: CompressionConfig{
			DefaultCodec: "zstd",
			Level:        3,
			MinAgeDays:   90,
			MinSizeMB:    100,
		},
		Checksum: ChecksumConfig{
			Fields:               []string{"symbol", "date", "open", "high", "low", "close", "volume"},
			VerifyIntervalDays:   7,
			CriticalIntervalDays: 1,
			SketchAccuracy:       0.01,
		},
		Optimizer: OptimizerConfig{
			HighCoverage:   0.8,
			MediumCoverage: 0.5,
		},
		Maintenance: MaintenanceConfig{
			IntervalHours: 24,
			Tables: []TableConfig{
				{Name: "daily_bars", ShardKey: "date", ShardStrategy: "time_based", CompressionStrategy: "time_based", ChecksumStrategy: "time_based"},
				{Name: "minute_bars", ShardKey: "date", ShardStrategy: "size_based", CompressionStrategy: "size_based", ChecksumStrategy: "time_based"},
				{Name: "tick_data", ShardKey: "date", ShardStrategy: "size_based", CompressionStrategy: "size_based", ChecksumStrategy: "critical_data"},
			},
		},
		Query: QueryConfig{
			MemoryLimit: "2GB",
			MaxRows:     1_000_000,
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.MetadataDB == "" {
		return fmt.Errorf("metadata_db is required")
	}
	if c.Sharding.IntervalDays <= 0 {
		return fmt.Errorf("sharding.interval_days must be positive, got %d", c.Sharding.IntervalDays)
	}
	if c.Sharding.MaxRowsPerShard <= 0 {
		return fmt.Errorf("sharding.max_rows_per_shard must be positive, got %d", c.Sharding.MaxRowsPerShard)
	}
	if c.Compression.MinAgeDays < 0 {
		return fmt.Errorf("compression.min_age_days must not be negative, got %d", c.Compression.MinAgeDays)
	}
	if c.Checksum.VerifyIntervalDays <= 0 {
		return fmt.Errorf("checksum.verify_interval_days must be positive, got %d", c.Checksum.VerifyIntervalDays)
	}
	if len(c.Checksum.Fields) == 0 {
		return fmt.Errorf("checksum.fields must not be empty")
	}
	if c.Optimizer.HighCoverage <= 0 || c.Optimizer.HighCoverage > 1 {
		return fmt.Errorf("optimizer.high_coverage must be in (0,1], got %g", c.Optimizer.HighCoverage)
	}
	if c.Optimizer.MediumCoverage <= 0 || c.Optimizer.MediumCoverage >= c.Optimizer.HighCoverage {
		return fmt.Errorf("optimizer.medium_coverage must be in (0, high_coverage), got %g", c.Optimizer.MediumCoverage)
	}
	if c.Maintenance.IntervalHours <= 0 {
		return fmt.Errorf("maintenance.interval_hours must be positive, got %g", c.Maintenance.IntervalHours)
	}
	seen := make(map[string]bool, len(c.Maintenance.Tables))
	for _, t := range c.Maintenance.Tables {
		if t.Name == "" {
			return fmt.Errorf("maintenance.tables entry without a name")
		}
		if seen[t.Name] {
			return fmt.Errorf("maintenance.tables lists %q twice", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// EnsureDirectories creates the data directories if missing.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, filepath.Dir(c.MetadataDB)}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// TableDir returns the shard file directory for a table.
func (c *Config) TableDir(table string) string {
	return filepath.Join(c.DataDir, table)
}

// Table returns the config of a tracked table, or nil if untracked.
func (c *Config) Table(name string) *TableConfig {
	for i := range c.Maintenance.Tables {
		if c.Maintenance.Tables[i].Name == name {
			return &c.Maintenance.Tables[i]
		}
	}
	return nil
}
