// Package sharding carves finished date ranges of a live table into
// immutable Parquet shard files plus metadata rows, and answers range
// queries from them.
package sharding

import (
	"context"
	"fmt"
	"time"

	"github.com/tickvault/tickvault/internal/metadata"
	"github.com/tickvault/tickvault/internal/types"
)

// Params describes the window the next shard should cover.
type Params struct {
	StartDate time.Time
	EndDate   time.Time
	ShardKey  string
}

// Strategy decides whether a new shard is due for a table and what window
// it should cover. Strategies are registered by name on the manager.
type Strategy interface {
	// Name returns the registry name of the strategy.
	Name() string

	// ShouldCreateShard reports whether a shard is due for the table.
	ShouldCreateShard(ctx context.Context, table string, store *metadata.Store) (bool, error)

	// Parameters returns the window for the shard a due table should get.
	Parameters(ctx context.Context, table string, store *metadata.Store) (Params, error)
}

// TimeBased shards a table on a fixed calendar cadence: a shard is due once
// the most recent shard's end date is more than IntervalDays in the past,
// or when the table has unsharded history and no shard at all.
type TimeBased struct {
	IntervalDays int
	ShardKey     string

	// now is stubbed in tests.
	now func() time.Time
}

// NewTimeBased creates a time-based strategy with the given window.
func NewTimeBased(intervalDays int, shardKey string) *TimeBased {
	return &TimeBased{IntervalDays: intervalDays, ShardKey: shardKey, now: time.Now}
}

// Name returns "time_based".
func (t *TimeBased) Name() string { return "time_based" }

// ShouldCreateShard reports whether the table's last shard has aged past the
// interval.
func (t *TimeBased) ShouldCreateShard(ctx context.Context, table string, store *metadata.Store) (bool, error) {
	last, err := store.LastShard(ctx, table)
	if err != nil {
		return false, err
	}
	if last == nil {
		// No shard yet: due as soon as there is unsharded history.
		_, ok, err := store.EarliestUnsharded(ctx, table)
		if err != nil {
			return false, err
		}
		return ok, nil
	}
	return types.DaysBetween(last.EndDate, t.now()) > t.IntervalDays, nil
}

// Parameters returns a contiguous (IntervalDays-1)-wide window immediately
// following the last shard, or starting at the earliest unsharded date when
// no shard exists.
func (t *TimeBased) Parameters(ctx context.Context, table string, store *metadata.Store) (Params, error) {
	last, err := store.LastShard(ctx, table)
	if err != nil {
		return Params{}, err
	}

	var start time.Time
	if last != nil {
		start = types.Day(last.EndDate).AddDate(0, 0, 1)
	} else {
		earliest, ok, err := store.EarliestUnsharded(ctx, table)
		if err != nil {
			return Params{}, err
		}
		if !ok {
			return Params{}, fmt.Errorf("table %s has no unsharded data", table)
		}
		start = types.Day(earliest)
	}

	return Params{
		StartDate: start,
		EndDate:   start.AddDate(0, 0, t.IntervalDays-1),
		ShardKey:  t.ShardKey,
	}, nil
}

// SizeBased shards a table once its unsharded row count exceeds MaxRows.
type SizeBased struct {
	MaxRows  int64
	ShardKey string
}

// NewSizeBased creates a size-based strategy with the given row threshold.
func NewSizeBased(maxRows int64, shardKey string) *SizeBased {
	return &SizeBased{MaxRows: maxRows, ShardKey: shardKey}
}

// Name returns "size_based".
func (s *SizeBased) Name() string { return "size_based" }

// ShouldCreateShard reports whether the unsharded row count exceeds the
// threshold.
func (s *SizeBased) ShouldCreateShard(ctx context.Context, table string, store *metadata.Store) (bool, error) {
	count, err := store.UnshardedCount(ctx, table)
	if err != nil {
		return false, err
	}
	return count > s.MaxRows, nil
}

// Parameters returns a window from the earliest unsharded date to the day
// of the MaxRows-th unsharded row, so one shard absorbs roughly the
// threshold worth of rows.
func (s *SizeBased) Parameters(ctx context.Context, table string, store *metadata.Store) (Params, error) {
	earliest, ok, err := store.EarliestUnsharded(ctx, table)
	if err != nil {
		return Params{}, err
	}
	if !ok {
		return Params{}, fmt.Errorf("table %s has no unsharded data", table)
	}

	nth, err := store.DateOfNthUnsharded(ctx, table, s.MaxRows)
	if err != nil {
		return Params{}, err
	}

	start := types.Day(earliest)
	end := types.Day(nth)
	if end.Before(start) {
		end = start
	}

	return Params{StartDate: start, EndDate: end, ShardKey: s.ShardKey}, nil
}
