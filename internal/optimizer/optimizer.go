// Package optimizer estimates how much of a query's date range existing
// shards can serve and recommends an access strategy.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tickvault/tickvault/internal/config"
	"github.com/tickvault/tickvault/internal/errors"
	"github.com/tickvault/tickvault/internal/logging"
	"github.com/tickvault/tickvault/internal/sharding"
	"github.com/tickvault/tickvault/internal/types"
)

// Recommendation values.
const (
	UseShards        = "use_shards"
	UseHybrid        = "use_hybrid"
	UseOriginalTable = "use_original_table"
)

// Optimizer plans range queries against the shard population.
type Optimizer struct {
	sharding *sharding.Manager
	cfg      *config.Config
	log      *slog.Logger
}

// New creates a query optimizer.
func New(shardingMgr *sharding.Manager, cfg *config.Config) *Optimizer {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Optimizer{
		sharding: shardingMgr,
		cfg:      cfg,
		log:      logging.Component("optimizer"),
	}
}

// ShardOverlap describes how one shard intersects the query window.
type ShardOverlap struct {
	ShardID      string
	StartDate    time.Time
	EndDate      time.Time
	OverlapDays  int
	IsCompressed bool
}

// Optimization is the result of query planning.
type Optimization struct {
	TableName            string
	StartDate            time.Time
	EndDate              time.Time
	QueryDateRangeDays   int
	ShardCount           int
	ShardCoverageDays    int
	ShardCoverageRatio   float64
	Recommendation       string
	EstimatedPerformance string
	ShardBreakdown       []ShardOverlap
	PerformanceFactors   []string
	Suggestions          []string
}

// Optimize computes shard coverage for the query window and recommends an
// access strategy. The coverage ratio is always in [0, 1]; thresholds come
// from configuration.
func (o *Optimizer) Optimize(ctx context.Context, table string, start, end time.Time, symbols ...string) (*Optimization, error) {
	if table == "" {
		return nil, errors.NewMissingArgument("table")
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end before start: %w", errors.ErrInvalidInterval)
	}

	rangeDays := types.DaysBetween(start, end) + 1

	shards, err := o.sharding.ShardsForQuery(ctx, table, start, end, symbols...)
	if err != nil {
		return nil, err
	}

	opt := &Optimization{
		TableName:          table,
		StartDate:          start,
		EndDate:            end,
		QueryDateRangeDays: rangeDays,
		ShardCount:         len(shards),
	}

	compressed := 0
	for i := range shards {
		sh := &shards[i]
		overlap := sh.OverlapDays(start, end)
		opt.ShardCoverageDays += overlap
		if sh.IsCompressed {
			compressed++
		}
		opt.ShardBreakdown = append(opt.ShardBreakdown, ShardOverlap{
			ShardID:      sh.ShardID,
			StartDate:    sh.StartDate,
			EndDate:      sh.EndDate,
			OverlapDays:  overlap,
			IsCompressed: sh.IsCompressed,
		})
	}

	opt.ShardCoverageRatio = float64(opt.ShardCoverageDays) / float64(rangeDays)
	if opt.ShardCoverageRatio > 1 {
		// shards never overlap, but clamp defends against day rounding
		opt.ShardCoverageRatio = 1
	}

	switch {
	case len(shards) == 0:
		opt.Recommendation = UseOriginalTable
		opt.EstimatedPerformance = "baseline"
	case opt.ShardCoverageRatio >= o.cfg.Optimizer.HighCoverage:
		opt.Recommendation = UseShards
		opt.EstimatedPerformance = "high"
	case opt.ShardCoverageRatio >= o.cfg.Optimizer.MediumCoverage:
		opt.Recommendation = UseHybrid
		opt.EstimatedPerformance = "medium"
	default:
		opt.Recommendation = UseOriginalTable
		opt.EstimatedPerformance = "low"
	}

	opt.PerformanceFactors = append(opt.PerformanceFactors,
		fmt.Sprintf("%d of %d query days served from shard files", opt.ShardCoverageDays, rangeDays))
	if compressed > 0 {
		opt.PerformanceFactors = append(opt.PerformanceFactors,
			fmt.Sprintf("%d of %d candidate shards are compressed", compressed, len(shards)))
	}
	if len(shards) == 0 {
		opt.PerformanceFactors = append(opt.PerformanceFactors,
			"query window has no shard coverage; full live-table scan")
	}

	if opt.ShardCoverageRatio < o.cfg.Optimizer.HighCoverage {
		opt.Suggestions = append(opt.Suggestions,
			fmt.Sprintf("create shards for the uncovered %d days of this window",
				rangeDays-opt.ShardCoverageDays))
	}
	if len(shards) > 0 && compressed < len(shards) {
		opt.Suggestions = append(opt.Suggestions,
			"compress older shards to reduce read I/O")
	}

	o.log.Debug("query planned",
		"table", table,
		"range_days", rangeDays,
		"coverage", opt.ShardCoverageRatio,
		"recommendation", opt.Recommendation)

	return opt, nil
}

// CostEstimate is a relative, purely advisory cost figure for a planned
// query.
type CostEstimate struct {
	BaseCost          float64
	IOReductionFactor float64
	RelativeCost      float64
	Strategy          string
}

// EstimateCost derives a relative cost from the query's day span and the
// chosen strategy's expected I/O reduction.
func (o *Optimizer) EstimateCost(opt *Optimization) CostEstimate {
	base := float64(opt.QueryDateRangeDays)

	var factor float64
	switch opt.Recommendation {
	case UseShards:
		factor = 0.2
	case UseHybrid:
		factor = 0.6
	default:
		factor = 1.0
	}

	return CostEstimate{
		BaseCost:          base,
		IOReductionFactor: factor,
		RelativeCost:      base * factor,
		Strategy:          opt.Recommendation,
	}
}
