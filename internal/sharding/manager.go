package sharding

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tickvault/tickvault/internal/config"
	"github.com/tickvault/tickvault/internal/errors"
	"github.com/tickvault/tickvault/internal/logging"
	"github.com/tickvault/tickvault/internal/metadata"
	"github.com/tickvault/tickvault/internal/parquet"
	"github.com/tickvault/tickvault/internal/types"
)

// loadConcurrency bounds parallel shard file reads in QueryAcrossShards.
const loadConcurrency = 4

// Manager orchestrates shard creation, shard selection for query windows,
// and cross-shard result assembly.
type Manager struct {
	mu sync.RWMutex

	store *metadata.Store
	cfg   *config.Config
	log   *slog.Logger

	strategies map[string]Strategy

	stats Stats
}

// Stats holds sharding statistics for this manager instance.
type Stats struct {
	ShardsCreated int64
	RowsSharded   int64
	BytesWritten  int64
	LastShardTime time.Time
}

// NewManager creates a sharding manager with the built-in time-based and
// size-based strategies registered.
func NewManager(store *metadata.Store, cfg *config.Config) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	m := &Manager{
		store:      store,
		cfg:        cfg,
		log:        logging.Component("sharding"),
		strategies: make(map[string]Strategy),
	}

	shardKey := "date"
	m.Register(NewTimeBased(cfg.Sharding.IntervalDays, shardKey))
	m.Register(NewSizeBased(cfg.Sharding.MaxRowsPerShard, shardKey))

	return m
}

// Register adds a strategy under its name, replacing any previous one.
func (m *Manager) Register(s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[s.Name()] = s
}

// strategy looks up a registered strategy by name.
func (m *Manager) strategy(name string) (Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.strategies[name]
	if !ok {
		return nil, errors.NewUnknownStrategy("sharding", name)
	}
	return s, nil
}

// CreateShardIfNeeded asks the named strategy whether a shard is due for
// the table and, if so, extracts the window's rows, writes the shard file,
// and inserts the metadata row. Returns (nil, nil) when no shard is due.
// The metadata row is inserted only after the file write succeeds.
func (m *Manager) CreateShardIfNeeded(ctx context.Context, table, strategyName string) (*types.Shard, error) {
	if table == "" {
		return nil, errors.NewMissingArgument("table")
	}
	strat, err := m.strategy(strategyName)
	if err != nil {
		return nil, err
	}

	due, err := strat.ShouldCreateShard(ctx, table, m.store)
	if err != nil {
		return nil, errors.Wrapf(err, "check shard trigger for %s", table)
	}
	if !due {
		return nil, nil
	}

	params, err := strat.Parameters(ctx, table, m.store)
	if err != nil {
		return nil, errors.Wrapf(err, "shard parameters for %s", table)
	}

	bars, err := m.store.BarsInRange(ctx, table, params.StartDate, params.EndDate)
	if err != nil {
		return nil, errors.Wrapf(err, "extract rows for %s", table)
	}
	if len(bars) == 0 {
		// The window holds no rows (a data gap); nothing to persist.
		m.log.Debug("shard window empty, skipping",
			"table", table,
			"start", params.StartDate.Format("2006-01-02"),
			"end", params.EndDate.Format("2006-01-02"))
		return nil, nil
	}

	shardID := types.ShardID(table, params.StartDate, params.EndDate)
	filePath := filepath.Join(m.cfg.TableDir(table), shardID+".parquet")

	written, err := parquet.WriteBars(filePath, bars, parquet.DefaultOptions())
	if err != nil {
		os.Remove(filePath)
		return nil, errors.Wrapf(err, "write shard file %s", filePath)
	}

	info, err := os.Stat(filePath)
	if err != nil {
		os.Remove(filePath)
		return nil, errors.Wrapf(err, "stat shard file %s", filePath)
	}

	shard := &types.Shard{
		TableName:     table,
		ShardKey:      params.ShardKey,
		ShardID:       shardID,
		StartDate:     params.StartDate,
		EndDate:       params.EndDate,
		RowCount:      written,
		FilePath:      filePath,
		FileFormat:    m.cfg.Sharding.FileFormat,
		FileSizeBytes: info.Size(),
		Compression:   types.CompressionNone,
		IsCompressed:  false,
		CreatedAt:     time.Now().UTC(),
	}

	if err := m.store.InsertShard(ctx, shard); err != nil {
		os.Remove(filePath)
		return nil, errors.Wrapf(err, "register shard %s", shardID)
	}

	m.mu.Lock()
	m.stats.ShardsCreated++
	m.stats.RowsSharded += written
	m.stats.BytesWritten += info.Size()
	m.stats.LastShardTime = time.Now()
	m.mu.Unlock()

	m.log.Info("shard created",
		"table", table,
		"shard_id", shardID,
		"rows", written,
		"bytes", info.Size())

	return shard, nil
}

// ShardsForQuery returns all shards of a table intersecting the query
// window, ordered by start date. Pure metadata lookup; no file I/O. The
// symbol filter is accepted for interface symmetry but does not narrow the
// shard list, since shards are bounded by date, not symbol.
func (m *Manager) ShardsForQuery(ctx context.Context, table string, start, end time.Time, symbols ...string) ([]types.Shard, error) {
	if table == "" {
		return nil, errors.NewMissingArgument("table")
	}
	return m.store.ShardsIntersecting(ctx, table, start, end)
}

// QueryAcrossShards loads every shard file intersecting the window,
// concatenates their rows, and returns those inside [start, end]. Empty
// result when no shard intersects.
func (m *Manager) QueryAcrossShards(ctx context.Context, table string, start, end time.Time) ([]types.Bar, error) {
	shards, err := m.ShardsForQuery(ctx, table, start, end)
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, nil
	}

	perShard := make([][]types.Bar, len(shards))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)

	for i := range shards {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			bars, err := parquet.ReadBars(shards[i].FilePath)
			if err != nil {
				return errors.Wrapf(err, "load shard %s", shards[i].ShardID)
			}
			perShard[i] = filterWindow(bars, start, end)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var result []types.Bar
	for _, bars := range perShard {
		result = append(result, bars...)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// filterWindow keeps bars whose date falls inside the inclusive day window.
func filterWindow(bars []types.Bar, start, end time.Time) []types.Bar {
	lo := types.Day(start)
	hi := types.Day(end).AddDate(0, 0, 1)

	var out []types.Bar
	for _, b := range bars {
		if !b.Date.Before(lo) && b.Date.Before(hi) {
			out = append(out, b)
		}
	}
	return out
}

// TableStats summarizes the shards of one table.
type TableStats struct {
	ShardCount     int64
	TotalRows      int64
	TotalSizeBytes int64
}

// Statistics aggregates shard counts, rows, and bytes per table. An empty
// table name covers every table.
func (m *Manager) Statistics(ctx context.Context, table string) (map[string]TableStats, error) {
	aggs, err := m.store.ShardAggregates(ctx, table)
	if err != nil {
		return nil, err
	}

	result := make(map[string]TableStats, len(aggs))
	for name, agg := range aggs {
		result[name] = TableStats{
			ShardCount:     agg.ShardCount,
			TotalRows:      agg.TotalRows,
			TotalSizeBytes: agg.TotalSizeBytes,
		}
	}
	return result, nil
}

// Stats returns this manager instance's counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
