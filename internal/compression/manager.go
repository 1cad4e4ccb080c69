package compression

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tickvault/tickvault/internal/config"
	"github.com/tickvault/tickvault/internal/errors"
	"github.com/tickvault/tickvault/internal/logging"
	"github.com/tickvault/tickvault/internal/metadata"
	"github.com/tickvault/tickvault/internal/parquet"
	"github.com/tickvault/tickvault/internal/types"
)

// Manager compresses table ranges and shard files and tracks compression
// state across the shard population.
type Manager struct {
	mu sync.RWMutex

	store *metadata.Store
	cfg   *config.Config
	log   *slog.Logger

	strategies map[string]Strategy

	stats ManagerStats
}

// ManagerStats holds this instance's counters.
type ManagerStats struct {
	ShardsCompressed int64
	BytesBefore      int64
	BytesAfter       int64
	LastRunTime      time.Time
}

// Stats describes one compression of a table range.
type Stats struct {
	OriginalSizeBytes      int64
	CompressedSizeBytes    int64
	CompressionRatio       float64
	CompressionTimeSeconds float64
	CompressionType        string
	RowCount               int64
}

// ConversionStats describes an in-place format conversion.
type ConversionStats struct {
	OriginalSizeBytes int64
	NewSizeBytes      int64
	SizeRatio         float64
	TargetCompression string
	RowCount          int64
}

// ShardResult describes the outcome of auto-compression for one shard.
type ShardResult struct {
	ShardID       string
	TableName     string
	WouldCompress bool
	Compressed    bool
	SizeBefore    int64
	SizeAfter     int64
	Ratio         float64
	Error         string
}

// NewManager creates a compression manager with the built-in time-based and
// size-based strategies registered.
func NewManager(store *metadata.Store, cfg *config.Config) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	m := &Manager{
		store:      store,
		cfg:        cfg,
		log:        logging.Component("compression"),
		strategies: make(map[string]Strategy),
	}

	m.Register(NewTimeBased(cfg.Compression.MinAgeDays))
	m.Register(NewSizeBased(cfg.Compression.MinSizeMB))

	return m
}

// Register adds a strategy under its name, replacing any previous one.
func (m *Manager) Register(s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[s.Name()] = s
}

func (m *Manager) strategy(name string) (Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.strategies[name]
	if !ok {
		return nil, errors.NewUnknownStrategy("compression", name)
	}
	return s, nil
}

// CodecParams resolves codec-specific tuning parameters from a codec name.
// Unknown names yield an empty parameter set rather than an error.
func (m *Manager) CodecParams(name string) map[string]any {
	return parquet.CodecParams(name)
}

// CompressTableData extracts the table's rows in [start, end], serializes
// them to a Parquet file under the requested codec, and reports size and
// timing statistics. An empty range returns an empty path and zero stats,
// not an error. An unsupported codec fails before any extraction.
func (m *Manager) CompressTableData(ctx context.Context, table string, start, end time.Time, codec string) (string, Stats, error) {
	if table == "" {
		return "", Stats{}, errors.NewMissingArgument("table")
	}
	if !parquet.Supported(codec) {
		return "", Stats{}, errors.NewUnsupportedCompression(codec)
	}

	bars, err := m.store.BarsInRange(ctx, table, start, end)
	if err != nil {
		return "", Stats{}, errors.Wrapf(err, "extract rows for %s", table)
	}
	if len(bars) == 0 {
		return "", Stats{}, nil
	}

	originalSize, err := parquet.UncompressedSize(bars)
	if err != nil {
		return "", Stats{}, errors.Wrap(err, "measure uncompressed size")
	}

	name := fmt.Sprintf("%s_%s_%s_%s.parquet", table,
		start.UTC().Format("20060102"), end.UTC().Format("20060102"), codec)
	path := filepath.Join(m.cfg.TableDir(table), name)

	opts := parquet.Options{
		Compression:      parquet.ParseCompressionType(codec),
		CompressionLevel: m.cfg.Compression.Level,
	}

	began := time.Now()
	written, err := parquet.WriteBars(path, bars, opts)
	if err != nil {
		os.Remove(path)
		return "", Stats{}, errors.Wrapf(err, "write compressed file %s", path)
	}
	elapsed := time.Since(began)

	info, err := os.Stat(path)
	if err != nil {
		os.Remove(path)
		return "", Stats{}, errors.Wrapf(err, "stat compressed file %s", path)
	}

	stats := Stats{
		OriginalSizeBytes:      originalSize,
		CompressedSizeBytes:    info.Size(),
		CompressionRatio:       ratio(originalSize, info.Size()),
		CompressionTimeSeconds: elapsed.Seconds(),
		CompressionType:        codec,
		RowCount:               written,
	}

	m.log.Info("range compressed",
		"table", table,
		"codec", codec,
		"rows", written,
		"original_bytes", originalSize,
		"compressed_bytes", info.Size())

	return path, stats, nil
}

// ConvertFormat reads an existing shard file and rewrites it at targetPath
// under a new codec. Row count and field values survive the round trip.
func (m *Manager) ConvertFormat(ctx context.Context, sourcePath, targetPath, codec string) (ConversionStats, error) {
	if !parquet.Supported(codec) {
		return ConversionStats{}, errors.NewUnsupportedCompression(codec)
	}

	srcInfo, err := os.Stat(sourcePath)
	if err != nil {
		return ConversionStats{}, errors.Wrapf(err, "stat source %s", sourcePath)
	}

	bars, err := parquet.ReadBars(sourcePath)
	if err != nil {
		return ConversionStats{}, errors.Wrapf(err, "read source %s", sourcePath)
	}

	opts := parquet.Options{
		Compression:      parquet.ParseCompressionType(codec),
		CompressionLevel: m.cfg.Compression.Level,
	}
	written, err := parquet.WriteBars(targetPath, bars, opts)
	if err != nil {
		os.Remove(targetPath)
		return ConversionStats{}, errors.Wrapf(err, "write target %s", targetPath)
	}

	dstInfo, err := os.Stat(targetPath)
	if err != nil {
		os.Remove(targetPath)
		return ConversionStats{}, errors.Wrapf(err, "stat target %s", targetPath)
	}

	return ConversionStats{
		OriginalSizeBytes: srcInfo.Size(),
		NewSizeBytes:      dstInfo.Size(),
		SizeRatio:         ratio(srcInfo.Size(), dstInfo.Size()),
		TargetCompression: codec,
		RowCount:          written,
	}, nil
}

// AutoCompressOldData sweeps every uncompressed shard, asks the named
// strategy whether it qualifies, and compresses the qualifying ones with
// the configured default codec. With dryRun it only reports what would be
// compressed. Per-shard failures are recorded in the results and do not
// abort the sweep.
func (m *Manager) AutoCompressOldData(ctx context.Context, strategyName string, dryRun bool) ([]ShardResult, error) {
	return m.autoCompress(ctx, "", strategyName, dryRun)
}

// AutoCompressTable is AutoCompressOldData restricted to one table. Used by
// the maintenance orchestrator so one table's sweep cannot see another's.
func (m *Manager) AutoCompressTable(ctx context.Context, table, strategyName string, dryRun bool) ([]ShardResult, error) {
	if table == "" {
		return nil, errors.NewMissingArgument("table")
	}
	return m.autoCompress(ctx, table, strategyName, dryRun)
}

func (m *Manager) autoCompress(ctx context.Context, table, strategyName string, dryRun bool) ([]ShardResult, error) {
	strat, err := m.strategy(strategyName)
	if err != nil {
		return nil, err
	}

	shards, err := m.store.UncompressedShards(ctx, table)
	if err != nil {
		return nil, errors.Wrap(err, "list uncompressed shards")
	}

	now := time.Now()
	codec := m.cfg.Compression.DefaultCodec

	var results []ShardResult
	for i := range shards {
		shard := &shards[i]
		if !strat.ShouldCompress(shard, now) {
			continue
		}

		if dryRun {
			results = append(results, ShardResult{
				ShardID:       shard.ShardID,
				TableName:     shard.TableName,
				WouldCompress: true,
				SizeBefore:    shard.FileSizeBytes,
			})
			continue
		}

		res := m.compressShard(ctx, shard, codec)
		results = append(results, res)
	}

	m.mu.Lock()
	m.stats.LastRunTime = now
	m.mu.Unlock()

	return results, nil
}

// compressShard rewrites one shard file under the codec and updates its
// metadata row. The old file is removed only after the metadata update, so
// concurrent readers of the old path keep a consistent view.
func (m *Manager) compressShard(ctx context.Context, shard *types.Shard, codec string) ShardResult {
	res := ShardResult{
		ShardID:    shard.ShardID,
		TableName:  shard.TableName,
		SizeBefore: shard.FileSizeBytes,
	}

	bars, err := parquet.ReadBars(shard.FilePath)
	if err != nil {
		res.Error = fmt.Sprintf("read shard: %v", err)
		return res
	}

	newPath := compressedPath(shard.FilePath, codec)
	opts := parquet.Options{
		Compression:      parquet.ParseCompressionType(codec),
		CompressionLevel: m.cfg.Compression.Level,
	}
	if _, err := parquet.WriteBars(newPath, bars, opts); err != nil {
		os.Remove(newPath)
		res.Error = fmt.Sprintf("write compressed shard: %v", err)
		return res
	}

	info, err := os.Stat(newPath)
	if err != nil {
		os.Remove(newPath)
		res.Error = fmt.Sprintf("stat compressed shard: %v", err)
		return res
	}

	if err := m.store.UpdateShardCompression(ctx, shard.ShardID, codec, info.Size(), newPath); err != nil {
		os.Remove(newPath)
		res.Error = fmt.Sprintf("update shard metadata: %v", err)
		return res
	}

	if shard.FilePath != newPath {
		os.Remove(shard.FilePath)
	}

	res.Compressed = true
	res.SizeAfter = info.Size()
	res.Ratio = ratio(res.SizeBefore, res.SizeAfter)

	m.mu.Lock()
	m.stats.ShardsCompressed++
	m.stats.BytesBefore += res.SizeBefore
	m.stats.BytesAfter += res.SizeAfter
	m.mu.Unlock()

	m.log.Info("shard compressed",
		"shard_id", shard.ShardID,
		"codec", codec,
		"bytes_before", res.SizeBefore,
		"bytes_after", res.SizeAfter)

	return res
}

// compressedPath derives the replacement file path for a recompressed
// shard, inserting the codec before the extension.
func compressedPath(path, codec string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return base + "." + codec + ext
}

// Statistics aggregates shard counts by compression state, codec, and table.
type Statistics struct {
	TotalShards        int64
	CompressedShards   int64
	UncompressedShards int64
	ByCodec            map[string]int64
	ByTable            map[string]TableCompression
}

// TableCompression summarizes one table's compression state.
type TableCompression struct {
	Compressed   int64
	Uncompressed int64
}

// GetStatistics computes compression statistics over every shard.
func (m *Manager) GetStatistics(ctx context.Context) (Statistics, error) {
	shards, err := m.store.AllShards(ctx)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "list shards")
	}

	stats := Statistics{
		ByCodec: make(map[string]int64),
		ByTable: make(map[string]TableCompression),
	}

	for i := range shards {
		sh := &shards[i]
		stats.TotalShards++
		stats.ByCodec[sh.Compression]++

		tc := stats.ByTable[sh.TableName]
		if sh.IsCompressed {
			stats.CompressedShards++
			tc.Compressed++
		} else {
			stats.UncompressedShards++
			tc.Uncompressed++
		}
		stats.ByTable[sh.TableName] = tc
	}

	return stats, nil
}

// Stats returns this manager instance's counters.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func ratio(before, after int64) float64 {
	if after <= 0 {
		return 0
	}
	return float64(before) / float64(after)
}
