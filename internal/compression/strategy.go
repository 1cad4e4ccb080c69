// Package compression re-encodes cold shards with a stronger codec and
// reports size, ratio, and timing statistics.
package compression

import (
	"time"

	"github.com/tickvault/tickvault/internal/types"
)

// Strategy decides whether an existing shard qualifies for recompression.
type Strategy interface {
	// Name returns the registry name of the strategy.
	Name() string

	// ShouldCompress reports whether the shard qualifies.
	ShouldCompress(shard *types.Shard, now time.Time) bool
}

// TimeBased compresses a shard once it is older than MinAgeDays, measured
// from the shard's end date.
type TimeBased struct {
	MinAgeDays int
}

// NewTimeBased creates a time-based compression strategy.
func NewTimeBased(minAgeDays int) *TimeBased {
	return &TimeBased{MinAgeDays: minAgeDays}
}

// Name returns "time_based".
func (t *TimeBased) Name() string { return "time_based" }

// ShouldCompress reports whether the shard has aged past the threshold.
func (t *TimeBased) ShouldCompress(shard *types.Shard, now time.Time) bool {
	return shard.AgeDays(now) > t.MinAgeDays
}

// SizeBased compresses a shard once its file exceeds MinSizeMB.
type SizeBased struct {
	MinSizeMB int64
}

// NewSizeBased creates a size-based compression strategy.
func NewSizeBased(minSizeMB int64) *SizeBased {
	return &SizeBased{MinSizeMB: minSizeMB}
}

// Name returns "size_based".
func (s *SizeBased) Name() string { return "size_based" }

// ShouldCompress reports whether the shard file exceeds the size threshold.
func (s *SizeBased) ShouldCompress(shard *types.Shard, now time.Time) bool {
	return shard.FileSizeBytes > s.MinSizeMB*1024*1024
}
