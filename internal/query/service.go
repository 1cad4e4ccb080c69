// Package query serves range queries over shard files and the live table.
//
// Shard files are read through DuckDB's read_parquet; the optimizer decides
// per query whether shards, the live table, or a hybrid of both serve the
// window best.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/tickvault/tickvault/internal/config"
	"github.com/tickvault/tickvault/internal/errors"
	"github.com/tickvault/tickvault/internal/logging"
	"github.com/tickvault/tickvault/internal/metadata"
	"github.com/tickvault/tickvault/internal/optimizer"
	"github.com/tickvault/tickvault/internal/sharding"
	"github.com/tickvault/tickvault/internal/types"
)

// Service provides query capabilities over shards and the live table.
type Service struct {
	mu sync.RWMutex

	cfg       *config.Config
	db        *sql.DB
	store     *metadata.Store
	sharding  *sharding.Manager
	optimizer *optimizer.Optimizer
	log       *slog.Logger

	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// New creates a query service backed by an in-memory DuckDB instance.
func New(cfg *config.Config, store *metadata.Store, shardingMgr *sharding.Manager, opt *optimizer.Optimizer) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if cfg.Query.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", cfg.Query.MemoryLimit)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{
		cfg:       cfg,
		db:        db,
		store:     store,
		sharding:  shardingMgr,
		optimizer: opt,
		log:       logging.Component("query"),
	}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Result is a planned range query's outcome.
type Result struct {
	Bars     []types.Bar
	Plan     string
	Coverage float64
}

// QueryRange answers a date-range query, following the optimizer's
// recommendation: shards first, the live table for whatever the shards do
// not cover.
func (s *Service) QueryRange(ctx context.Context, table string, start, end time.Time, symbols ...string) (*Result, error) {
	opt, err := s.optimizer.Optimize(ctx, table, start, end, symbols...)
	if err != nil {
		s.recordError()
		return nil, err
	}

	var bars []types.Bar

	switch opt.Recommendation {
	case optimizer.UseShards:
		bars, err = s.queryShardFiles(ctx, table, start, end, symbols)
	case optimizer.UseHybrid:
		bars, err = s.queryHybrid(ctx, table, start, end, symbols)
	default:
		bars, err = s.store.BarsInRange(ctx, table, start, end, symbols...)
	}
	if err != nil {
		s.recordError()
		return nil, err
	}

	if s.cfg.Query.MaxRows > 0 && len(bars) > s.cfg.Query.MaxRows {
		bars = bars[:s.cfg.Query.MaxRows]
	}

	s.mu.Lock()
	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(bars))
	s.mu.Unlock()

	s.log.Debug("range query served",
		"table", table,
		"plan", opt.Recommendation,
		"rows", len(bars))

	return &Result{
		Bars:     bars,
		Plan:     opt.Recommendation,
		Coverage: opt.ShardCoverageRatio,
	}, nil
}

// queryShardFiles reads the window from shard Parquet files via DuckDB.
func (s *Service) queryShardFiles(ctx context.Context, table string, start, end time.Time, symbols []string) ([]types.Bar, error) {
	shards, err := s.sharding.ShardsForQuery(ctx, table, start, end)
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, nil
	}

	paths := make([]string, len(shards))
	for i := range shards {
		paths[i] = shards[i].FilePath
	}

	query := fmt.Sprintf(`
		SELECT id, symbol, timestamp_ms, open, high, low, close, volume, checksum
		FROM read_parquet([%s])
		WHERE timestamp_ms >= ? AND timestamp_ms <= ?`, quotePaths(paths))
	args := []any{start.UTC().UnixMilli(), endOfDayMs(end)}

	if len(symbols) > 0 {
		query += " AND symbol IN (?" + strings.Repeat(",?", len(symbols)-1) + ")"
		for _, sym := range symbols {
			args = append(args, sym)
		}
	}
	query += " ORDER BY timestamp_ms, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query shard files")
	}
	defer rows.Close()

	return scanBars(rows)
}

// queryHybrid serves covered subranges from shards and the uncovered gaps
// from the live table.
func (s *Service) queryHybrid(ctx context.Context, table string, start, end time.Time, symbols []string) ([]types.Bar, error) {
	bars, err := s.queryShardFiles(ctx, table, start, end, symbols)
	if err != nil {
		return nil, err
	}

	shards, err := s.sharding.ShardsForQuery(ctx, table, start, end)
	if err != nil {
		return nil, err
	}

	for _, gap := range coverageGaps(shards, start, end) {
		live, err := s.store.BarsInRange(ctx, table, gap.start, gap.end, symbols...)
		if err != nil {
			return nil, err
		}
		bars = append(bars, live...)
	}

	sortBars(bars)
	return bars, nil
}

type dateRange struct {
	start, end time.Time
}

// coverageGaps returns the subranges of [start, end] no shard covers.
// Shards arrive ordered by start date and never overlap.
func coverageGaps(shards []types.Shard, start, end time.Time) []dateRange {
	var gaps []dateRange

	cursor := types.Day(start)
	for i := range shards {
		sh := &shards[i]
		if sh.StartDate.After(cursor) {
			gapEnd := sh.StartDate.AddDate(0, 0, -1)
			if !gapEnd.Before(cursor) {
				gaps = append(gaps, dateRange{start: cursor, end: gapEnd})
			}
		}
		next := types.Day(sh.EndDate).AddDate(0, 0, 1)
		if next.After(cursor) {
			cursor = next
		}
	}

	if !cursor.After(types.Day(end)) {
		gaps = append(gaps, dateRange{start: cursor, end: types.Day(end)})
	}

	return gaps
}

// ExecuteSQL executes a raw SQL query against DuckDB. Useful for ad-hoc
// inspection of shard files.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.recordError()
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	s.mu.Lock()
	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))
	s.mu.Unlock()

	return results, rows.Err()
}

// Stats returns query statistics.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Service) recordError() {
	s.mu.Lock()
	s.stats.Errors++
	s.mu.Unlock()
}

// scanBars scans DuckDB result rows into bars.
func scanBars(rows *sql.Rows) ([]types.Bar, error) {
	var bars []types.Bar
	for rows.Next() {
		var b types.Bar
		var tsMs int64
		var chk sql.NullString
		err := rows.Scan(&b.ID, &b.Symbol, &tsMs, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &chk)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		b.Date = time.UnixMilli(tsMs).UTC()
		b.Checksum = chk.String
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// sortBars orders bars by date, then id, matching the shard-file query's
// ORDER BY.
func sortBars(bars []types.Bar) {
	sort.Slice(bars, func(i, j int) bool {
		if !bars[i].Date.Equal(bars[j].Date) {
			return bars[i].Date.Before(bars[j].Date)
		}
		return bars[i].ID < bars[j].ID
	})
}

// quotePaths renders file paths as a DuckDB list literal.
func quotePaths(paths []string) string {
	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = "'" + strings.ReplaceAll(p, "'", "''") + "'"
	}
	return strings.Join(quoted, ", ")
}

// endOfDayMs returns the last millisecond of t's UTC day.
func endOfDayMs(t time.Time) int64 {
	return types.Day(t).UnixMilli() + 24*60*60*1000 - 1
}
