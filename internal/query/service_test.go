package query

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tickvault/tickvault/internal/config"
	"github.com/tickvault/tickvault/internal/metadata"
	"github.com/tickvault/tickvault/internal/optimizer"
	"github.com/tickvault/tickvault/internal/parquet"
	"github.com/tickvault/tickvault/internal/sharding"
	"github.com/tickvault/tickvault/internal/types"
)

func testService(t *testing.T) (*Service, *metadata.Store, *sharding.Manager) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "shards")
	cfg.MetadataDB = filepath.Join(dir, "meta.db")

	store, err := metadata.Open(cfg.MetadataDB)
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	shardingMgr := sharding.NewManager(store, cfg)
	opt := optimizer.New(shardingMgr, cfg)

	svc, err := New(cfg, store, shardingMgr, opt)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	return svc, store, shardingMgr
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedDays(t *testing.T, store *metadata.Store, table string, start time.Time, days int) {
	t.Helper()
	bars := make([]types.Bar, days)
	for i := range bars {
		bars[i] = types.Bar{
			Symbol: "AAPL",
			Date:   start.AddDate(0, 0, i),
			Open:   100,
			High:   101,
			Low:    99,
			Close:  100.5,
			Volume: 1000,
		}
	}
	if err := store.InsertBars(context.Background(), table, bars); err != nil {
		t.Fatalf("InsertBars: %v", err)
	}
}

// seedShard writes a shard file covering [start, start+days-1] and registers
// its metadata.
func seedShard(t *testing.T, svc *Service, store *metadata.Store, table string, start time.Time, days int) *types.Shard {
	t.Helper()
	end := start.AddDate(0, 0, days-1)

	bars := make([]types.Bar, days)
	for i := range bars {
		bars[i] = types.Bar{
			ID:     int64(i + 1),
			Symbol: "AAPL",
			Date:   start.AddDate(0, 0, i),
			Close:  100.5,
			Volume: 1000,
		}
	}

	shardID := types.ShardID(table, start, end)
	path := filepath.Join(svc.cfg.TableDir(table), shardID+".parquet")
	written, err := parquet.WriteBars(path, bars, parquet.DefaultOptions())
	if err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	shard := &types.Shard{
		TableName:   table,
		ShardID:     shardID,
		StartDate:   start,
		EndDate:     end,
		RowCount:    written,
		FilePath:    path,
		FileFormat:  types.DefaultFileFormat,
		Compression: types.CompressionNone,
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.InsertShard(context.Background(), shard); err != nil {
		t.Fatalf("InsertShard: %v", err)
	}
	return shard
}

func TestQueryRangeUsesShards(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()

	seedShard(t, svc, store, "daily_bars", date(2024, 1, 1), 31)

	res, err := svc.QueryRange(ctx, "daily_bars", date(2024, 1, 1), date(2024, 1, 31))
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if res.Plan != optimizer.UseShards {
		t.Errorf("plan = %q, want %q", res.Plan, optimizer.UseShards)
	}
	if res.Coverage != 1.0 {
		t.Errorf("coverage = %g, want 1.0", res.Coverage)
	}
	if len(res.Bars) != 31 {
		t.Fatalf("got %d bars, want 31", len(res.Bars))
	}
	for i := 1; i < len(res.Bars); i++ {
		if res.Bars[i].Date.Before(res.Bars[i-1].Date) {
			t.Fatal("results not ordered by date")
		}
	}
}

func TestQueryRangeLiveTableFallback(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()

	seedDays(t, store, "daily_bars", date(2024, 1, 1), 31)

	res, err := svc.QueryRange(ctx, "daily_bars", date(2024, 1, 1), date(2024, 1, 31))
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if res.Plan != optimizer.UseOriginalTable {
		t.Errorf("plan = %q, want %q", res.Plan, optimizer.UseOriginalTable)
	}
	if len(res.Bars) != 31 {
		t.Errorf("got %d bars, want 31", len(res.Bars))
	}
}

func TestQueryRangeHybrid(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()

	// Shard covers Jan 1-20; live table carries Jan 21-31.
	seedShard(t, svc, store, "daily_bars", date(2024, 1, 1), 20)
	seedDays(t, store, "daily_bars", date(2024, 1, 21), 11)

	res, err := svc.QueryRange(ctx, "daily_bars", date(2024, 1, 1), date(2024, 1, 31))
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if res.Plan != optimizer.UseHybrid {
		t.Fatalf("plan = %q, want %q (coverage %g)", res.Plan, optimizer.UseHybrid, res.Coverage)
	}
	if len(res.Bars) != 31 {
		t.Fatalf("hybrid returned %d bars, want 31", len(res.Bars))
	}
	for i := 1; i < len(res.Bars); i++ {
		if res.Bars[i].Date.Before(res.Bars[i-1].Date) {
			t.Fatal("hybrid results not ordered by date")
		}
	}
}

func TestSortBars(t *testing.T) {
	day1 := date(2024, 1, 1)
	day2 := date(2024, 1, 2)

	bars := []types.Bar{
		{ID: 7, Date: day2},
		{ID: 3, Date: day1},
		{ID: 9, Date: day1},
		{ID: 1, Date: day2},
		{ID: 5, Date: day1},
	}
	sortBars(bars)

	wantIDs := []int64{3, 5, 9, 1, 7}
	for i, want := range wantIDs {
		if bars[i].ID != want {
			t.Fatalf("bars[%d].ID = %d, want %d (order %v)", i, bars[i].ID, want, wantIDs)
		}
	}
}

func TestQueryRangeSymbolFilter(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()
	seedShard(t, svc, store, "daily_bars", date(2024, 1, 1), 10)

	res, err := svc.QueryRange(ctx, "daily_bars", date(2024, 1, 1), date(2024, 1, 10), "MSFT")
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if len(res.Bars) != 0 {
		t.Errorf("got %d MSFT bars from an AAPL shard, want 0", len(res.Bars))
	}
}

func TestQueryRangeMaxRows(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()
	svc.cfg.Query.MaxRows = 5

	seedShard(t, svc, store, "daily_bars", date(2024, 1, 1), 31)

	res, err := svc.QueryRange(ctx, "daily_bars", date(2024, 1, 1), date(2024, 1, 31))
	if err != nil {
		t.Fatalf("QueryRange: %v", err)
	}
	if len(res.Bars) != 5 {
		t.Errorf("got %d bars with max_rows=5", len(res.Bars))
	}
}

func TestExecuteSQL(t *testing.T) {
	svc, _, _ := testService(t)

	rows, err := svc.ExecuteSQL(context.Background(), "SELECT 1 AS one, 'x' AS two")
	if err != nil {
		t.Fatalf("ExecuteSQL: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if _, ok := rows[0]["one"]; !ok {
		t.Errorf("row = %v, missing column one", rows[0])
	}

	stats := svc.Stats()
	if stats.QueriesExecuted == 0 {
		t.Error("stats not recorded")
	}
}

func TestCoverageGaps(t *testing.T) {
	shards := []types.Shard{
		{StartDate: date(2024, 1, 5), EndDate: date(2024, 1, 10)},
		{StartDate: date(2024, 1, 16), EndDate: date(2024, 1, 20)},
	}

	gaps := coverageGaps(shards, date(2024, 1, 1), date(2024, 1, 31))
	if len(gaps) != 3 {
		t.Fatalf("got %d gaps, want 3: %+v", len(gaps), gaps)
	}

	want := []dateRange{
		{date(2024, 1, 1), date(2024, 1, 4)},
		{date(2024, 1, 11), date(2024, 1, 15)},
		{date(2024, 1, 21), date(2024, 1, 31)},
	}
	for i, g := range gaps {
		if !g.start.Equal(want[i].start) || !g.end.Equal(want[i].end) {
			t.Errorf("gap %d = [%v, %v], want [%v, %v]", i, g.start, g.end, want[i].start, want[i].end)
		}
	}

	// Full coverage: no gaps.
	full := []types.Shard{{StartDate: date(2024, 1, 1), EndDate: date(2024, 1, 31)}}
	if gaps := coverageGaps(full, date(2024, 1, 1), date(2024, 1, 31)); len(gaps) != 0 {
		t.Errorf("full coverage produced gaps: %+v", gaps)
	}

	// No shards: one gap spanning the window.
	if gaps := coverageGaps(nil, date(2024, 1, 1), date(2024, 1, 31)); len(gaps) != 1 {
		t.Errorf("empty shard list gaps = %+v, want the whole window", gaps)
	}
}
