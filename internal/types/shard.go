package types

import (
	"fmt"
	"time"
)

// DefaultFileFormat is the columnar format shards are persisted in.
const DefaultFileFormat = "parquet"

// CompressionNone marks a shard file written without compression.
const CompressionNone = "none"

// Shard is a bounded, immutable-once-written extract of one logical table.
// Shard bounds for the same table never overlap, and once FilePath is
// populated the row range it represents is never mutated in place; a
// reformat replaces the file wholesale.
type Shard struct {
	TableName     string
	ShardKey      string
	ShardID       string
	StartDate     time.Time // inclusive
	EndDate       time.Time // inclusive
	RowCount      int64
	FilePath      string
	FileFormat    string
	FileSizeBytes int64
	Compression   string
	IsCompressed  bool
	CreatedAt     time.Time
}

// ShardID derives the unique shard identifier from the table name and
// date bounds.
func ShardID(table string, start, end time.Time) string {
	return fmt.Sprintf("%s_%s_%s", table,
		start.UTC().Format("20060102"), end.UTC().Format("20060102"))
}

// Overlaps reports whether the shard's inclusive date range intersects
// [start, end].
func (s *Shard) Overlaps(start, end time.Time) bool {
	return !s.StartDate.After(end) && !s.EndDate.Before(start)
}

// OverlapDays returns the number of days of [start, end] covered by the
// shard, counting inclusive day bounds. Zero when disjoint.
func (s *Shard) OverlapDays(start, end time.Time) int {
	lo := s.StartDate
	if start.After(lo) {
		lo = start
	}
	hi := s.EndDate
	if end.Before(hi) {
		hi = end
	}
	if hi.Before(lo) {
		return 0
	}
	return DaysBetween(lo, hi) + 1
}

// AgeDays returns the shard's age in whole days as of now, measured from
// its end date. A shard covering recent data has age zero.
func (s *Shard) AgeDays(now time.Time) int {
	d := DaysBetween(s.EndDate, now)
	if d < 0 {
		return 0
	}
	return d
}
