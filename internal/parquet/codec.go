// Package parquet persists shard extracts as Parquet files and maps codec
// names to parquet-go compression codecs.
package parquet

import (
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/parquet-go/parquet-go/compress/gzip"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// String returns the codec identifier stored in shard metadata.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	case CompressionGzip:
		return "gzip"
	default:
		return "none"
	}
}

// ParseCompressionType parses a compression type string. Unknown names map
// to none; use Supported to validate a primary compression type first.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	default:
		return CompressionNone
	}
}

// Supported reports whether the codec name is a valid primary compression
// type for shard files.
func Supported(name string) bool {
	switch name {
	case "none", "snappy", "zstd", "lz4", "gzip":
		return true
	default:
		return false
	}
}

// SupportedCodecs lists the valid compression type names.
func SupportedCodecs() []string {
	return []string{"none", "snappy", "zstd", "lz4", "gzip"}
}

// CodecParams resolves codec-specific tuning parameters from a codec name.
// Unknown names yield an empty map rather than an error; validation of a
// primary compression type happens earlier via Supported.
func CodecParams(name string) map[string]any {
	switch name {
	case "gzip":
		return map[string]any{"level": 6, "min_level": 1, "max_level": 9}
	case "zstd":
		return map[string]any{"level": 3, "min_level": 1, "max_level": 22}
	case "lz4":
		return map[string]any{"use_dictionary": true}
	case "snappy":
		return map[string]any{"block_size": 64 * 1024}
	default:
		return map[string]any{}
	}
}

// getCompression returns the parquet-go compression codec. A level of 0
// means the codec's default; zstd and gzip honor an explicit level, the
// other codecs have none to set.
func getCompression(ct CompressionType, level int) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		if level > 0 {
			return &zstd.Codec{Level: zstdLevel(level)}
		}
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		if level > 0 {
			return &gzip.Codec{Level: gzipLevel(level)}
		}
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// zstdLevel maps a numeric zstd level (1-22) onto the encoder's speed
// tiers, the same bucketing the underlying encoder applies to reference
// zstd levels.
func zstdLevel(level int) zstd.Level {
	switch {
	case level < 3:
		return zstd.SpeedFastest
	case level < 7:
		return zstd.SpeedDefault
	case level < 10:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// gzipLevel clamps a gzip level into the codec's valid 1-9 range.
func gzipLevel(level int) int {
	if level < gzip.BestSpeed {
		return gzip.BestSpeed
	}
	if level > gzip.BestCompression {
		return gzip.BestCompression
	}
	return level
}
