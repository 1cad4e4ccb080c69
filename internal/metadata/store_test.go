package metadata

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tickvault/tickvault/internal/errors"
	"github.com/tickvault/tickvault/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// seedDays inserts one bar per day starting at start.
func seedDays(t *testing.T, s *Store, table string, start time.Time, days int) []types.Bar {
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
	if err := s.InsertBars(context.Background(), table, bars); err != nil {
		t.Fatalf("InsertBars: %v", err)
	}
	return bars
}

func TestInsertBarsAssignsIDs(t *testing.T) {
	s := openTestStore(t)
	bars := seedDays(t, s, "daily_bars", date(2024, 1, 1), 3)

	for i, b := range bars {
		if b.ID == 0 {
			t.Errorf("bar %d has no id after insert", i)
		}
	}
}

func TestBarsInRange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedDays(t, s, "daily_bars", date(2024, 1, 1), 31)

	got, err := s.BarsInRange(ctx, "daily_bars", date(2024, 1, 10), date(2024, 1, 19))
	if err != nil {
		t.Fatalf("BarsInRange: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("got %d bars, want 10", len(got))
	}
	if !got[0].Date.Equal(date(2024, 1, 10)) {
		t.Errorf("first bar date = %v, want 2024-01-10", got[0].Date)
	}

	// Symbol filter excludes everything else.
	got, err = s.BarsInRange(ctx, "daily_bars", date(2024, 1, 1), date(2024, 1, 31), "MSFT")
	if err != nil {
		t.Fatalf("BarsInRange with symbol: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d MSFT bars, want 0", len(got))
	}
}

func TestBarsInRangeCoversIntraday(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bars := []types.Bar{{
		Symbol: "AAPL",
		Date:   time.Date(2024, 1, 15, 15, 30, 0, 0, time.UTC),
		Close:  100,
	}}
	if err := s.InsertBars(ctx, "minute_bars", bars); err != nil {
		t.Fatalf("InsertBars: %v", err)
	}

	// An end bound on the same day includes intraday timestamps.
	got, err := s.BarsInRange(ctx, "minute_bars", date(2024, 1, 15), date(2024, 1, 15))
	if err != nil {
		t.Fatalf("BarsInRange: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d bars, want 1", len(got))
	}
}

func TestBarByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	bars := seedDays(t, s, "daily_bars", date(2024, 1, 1), 1)

	got, err := s.BarByID(ctx, "daily_bars", bars[0].ID)
	if err != nil {
		t.Fatalf("BarByID: %v", err)
	}
	if got.Symbol != "AAPL" {
		t.Errorf("symbol = %q, want AAPL", got.Symbol)
	}

	_, err = s.BarByID(ctx, "daily_bars", 99999)
	if !errors.Is(err, errors.ErrRecordNotFound) {
		t.Errorf("missing id error = %v, want ErrRecordNotFound", err)
	}
}

func TestShardOverlapRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &types.Shard{
		TableName: "daily_bars",
		ShardID:   types.ShardID("daily_bars", date(2024, 1, 1), date(2024, 1, 30)),
		StartDate: date(2024, 1, 1),
		EndDate:   date(2024, 1, 30),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.InsertShard(ctx, first); err != nil {
		t.Fatalf("InsertShard: %v", err)
	}

	overlapping := &types.Shard{
		TableName: "daily_bars",
		ShardID:   types.ShardID("daily_bars", date(2024, 1, 15), date(2024, 2, 15)),
		StartDate: date(2024, 1, 15),
		EndDate:   date(2024, 2, 15),
		CreatedAt: time.Now().UTC(),
	}
	err := s.InsertShard(ctx, overlapping)
	if !errors.Is(err, errors.ErrShardOverlap) {
		t.Errorf("overlap insert error = %v, want ErrShardOverlap", err)
	}

	// Same bounds on a different table are fine.
	other := *overlapping
	other.TableName = "minute_bars"
	other.ShardID = types.ShardID("minute_bars", other.StartDate, other.EndDate)
	if err := s.InsertShard(ctx, &other); err != nil {
		t.Errorf("InsertShard on other table: %v", err)
	}

	// Adjacent, non-overlapping shard is fine.
	next := &types.Shard{
		TableName: "daily_bars",
		ShardID:   types.ShardID("daily_bars", date(2024, 1, 31), date(2024, 2, 29)),
		StartDate: date(2024, 1, 31),
		EndDate:   date(2024, 2, 29),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.InsertShard(ctx, next); err != nil {
		t.Errorf("adjacent InsertShard: %v", err)
	}
}

func TestUnshardedAccounting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedDays(t, s, "daily_bars", date(2024, 1, 1), 45)

	count, err := s.UnshardedCount(ctx, "daily_bars")
	if err != nil {
		t.Fatalf("UnshardedCount: %v", err)
	}
	if count != 45 {
		t.Fatalf("unsharded = %d, want 45 with no shards", count)
	}

	shard := &types.Shard{
		TableName: "daily_bars",
		ShardID:   types.ShardID("daily_bars", date(2024, 1, 1), date(2024, 1, 30)),
		StartDate: date(2024, 1, 1),
		EndDate:   date(2024, 1, 30),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.InsertShard(ctx, shard); err != nil {
		t.Fatalf("InsertShard: %v", err)
	}

	count, err = s.UnshardedCount(ctx, "daily_bars")
	if err != nil {
		t.Fatalf("UnshardedCount: %v", err)
	}
	if count != 15 {
		t.Errorf("unsharded after shard = %d, want 15", count)
	}

	earliest, ok, err := s.EarliestUnsharded(ctx, "daily_bars")
	if err != nil {
		t.Fatalf("EarliestUnsharded: %v", err)
	}
	if !ok || !earliest.Equal(date(2024, 1, 31)) {
		t.Errorf("earliest unsharded = (%v, %v), want 2024-01-31", earliest, ok)
	}

	nth, err := s.DateOfNthUnsharded(ctx, "daily_bars", 10)
	if err != nil {
		t.Fatalf("DateOfNthUnsharded: %v", err)
	}
	if !nth.Equal(date(2024, 2, 9)) {
		t.Errorf("10th unsharded = %v, want 2024-02-09", nth)
	}

	// Asking beyond the population falls back to the newest row.
	nth, err = s.DateOfNthUnsharded(ctx, "daily_bars", 1000)
	if err != nil {
		t.Fatalf("DateOfNthUnsharded overflow: %v", err)
	}
	if !nth.Equal(date(2024, 2, 14)) {
		t.Errorf("overflow nth = %v, want last date 2024-02-14", nth)
	}
}

func TestLastShard(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	last, err := s.LastShard(ctx, "daily_bars")
	if err != nil {
		t.Fatalf("LastShard: %v", err)
	}
	if last != nil {
		t.Fatal("LastShard on empty table should be nil")
	}

	for _, bounds := range [][2]time.Time{
		{date(2024, 1, 1), date(2024, 1, 30)},
		{date(2024, 1, 31), date(2024, 2, 29)},
	} {
		sh := &types.Shard{
			TableName: "daily_bars",
			ShardID:   types.ShardID("daily_bars", bounds[0], bounds[1]),
			StartDate: bounds[0],
			EndDate:   bounds[1],
			CreatedAt: time.Now().UTC(),
		}
		if err := s.InsertShard(ctx, sh); err != nil {
			t.Fatalf("InsertShard: %v", err)
		}
	}

	last, err = s.LastShard(ctx, "daily_bars")
	if err != nil {
		t.Fatalf("LastShard: %v", err)
	}
	if last == nil || !last.EndDate.Equal(date(2024, 2, 29)) {
		t.Errorf("LastShard end = %v, want 2024-02-29", last)
	}
}

func TestShardsIntersecting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, bounds := range [][2]time.Time{
		{date(2024, 1, 1), date(2024, 1, 31)},
		{date(2024, 2, 1), date(2024, 2, 29)},
		{date(2024, 3, 1), date(2024, 3, 31)},
	} {
		sh := &types.Shard{
			TableName: "daily_bars",
			ShardID:   types.ShardID("daily_bars", bounds[0], bounds[1]),
			StartDate: bounds[0],
			EndDate:   bounds[1],
			CreatedAt: time.Now().UTC(),
		}
		if err := s.InsertShard(ctx, sh); err != nil {
			t.Fatalf("InsertShard: %v", err)
		}
	}

	got, err := s.ShardsIntersecting(ctx, "daily_bars", date(2024, 1, 15), date(2024, 2, 15))
	if err != nil {
		t.Fatalf("ShardsIntersecting: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d shards, want 2", len(got))
	}
	if !got[0].StartDate.Equal(date(2024, 1, 1)) || !got[1].StartDate.Equal(date(2024, 2, 1)) {
		t.Errorf("shards out of order: %v, %v", got[0].StartDate, got[1].StartDate)
	}
}

func TestChecksumLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	bars := seedDays(t, s, "daily_bars", date(2024, 1, 1), 2)

	// Missing checksum is nil, not an error.
	rec, err := s.Checksum(ctx, "daily_bars", bars[0].ID)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	if rec != nil {
		t.Fatal("expected nil checksum before creation")
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	want := &types.ChecksumRecord{
		TableName:      "daily_bars",
		RecordID:       bars[0].ID,
		Checksum:       "abc123",
		ChecksumFields: []string{"symbol", "close"},
		CreatedAt:      now,
		VerifiedAt:     now,
		IsValid:        true,
	}
	if err := s.UpsertChecksum(ctx, want); err != nil {
		t.Fatalf("UpsertChecksum: %v", err)
	}

	rec, err = s.Checksum(ctx, "daily_bars", bars[0].ID)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	if rec == nil || rec.Checksum != "abc123" || !rec.IsValid {
		t.Fatalf("checksum record = %+v", rec)
	}
	if len(rec.ChecksumFields) != 2 || rec.ChecksumFields[1] != "close" {
		t.Errorf("fields = %v, want [symbol close]", rec.ChecksumFields)
	}

	// Upsert replaces rather than duplicating.
	want.Checksum = "def456"
	if err := s.UpsertChecksum(ctx, want); err != nil {
		t.Fatalf("second UpsertChecksum: %v", err)
	}
	all, err := s.AllChecksums(ctx, "daily_bars")
	if err != nil {
		t.Fatalf("AllChecksums: %v", err)
	}
	if len(all) != 1 || all[0].Checksum != "def456" {
		t.Fatalf("after upsert: %+v", all)
	}

	// Verification outcome lands.
	later := now.Add(time.Hour)
	if err := s.UpdateVerification(ctx, "daily_bars", bars[0].ID, false, later); err != nil {
		t.Fatalf("UpdateVerification: %v", err)
	}
	rec, _ = s.Checksum(ctx, "daily_bars", bars[0].ID)
	if rec.IsValid {
		t.Error("is_valid should be false after failed verification")
	}
	if !rec.VerifiedAt.Equal(later) {
		t.Errorf("verified_at = %v, want %v", rec.VerifiedAt, later)
	}

	// Unknown record id.
	err = s.UpdateVerification(ctx, "daily_bars", 99999, true, later)
	if !errors.Is(err, errors.ErrChecksumNotFound) {
		t.Errorf("UpdateVerification on missing = %v, want ErrChecksumNotFound", err)
	}
}

func TestBarsWithoutChecksum(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	bars := seedDays(t, s, "daily_bars", date(2024, 1, 1), 5)

	rec := &types.ChecksumRecord{
		TableName: "daily_bars",
		RecordID:  bars[2].ID,
		Checksum:  "x",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.UpsertChecksum(ctx, rec); err != nil {
		t.Fatalf("UpsertChecksum: %v", err)
	}

	missing, err := s.BarsWithoutChecksum(ctx, "daily_bars", 10)
	if err != nil {
		t.Fatalf("BarsWithoutChecksum: %v", err)
	}
	if len(missing) != 4 {
		t.Fatalf("got %d unchecksummed, want 4", len(missing))
	}
	for _, b := range missing {
		if b.ID == bars[2].ID {
			t.Error("checksummed record listed as missing")
		}
	}
}

func TestTables(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedDays(t, s, "daily_bars", date(2024, 1, 1), 1)
	seedDays(t, s, "minute_bars", date(2024, 1, 1), 1)

	tables, err := s.Tables(ctx)
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	if len(tables) != 2 || tables[0] != "daily_bars" || tables[1] != "minute_bars" {
		t.Errorf("tables = %v", tables)
	}
}
