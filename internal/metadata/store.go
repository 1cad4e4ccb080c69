// Package metadata provides the SQLite-backed store holding live table rows,
// shard metadata, and per-record checksums.
//
// One write connection guarded by a mutex serializes mutations; every logical
// step commits on its own, so a crash mid-maintenance leaves the store valid
// if incomplete. Shard rows enforce the non-overlap invariant on insert.
package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tickvault/tickvault/internal/errors"
	"github.com/tickvault/tickvault/internal/types"
)

// Store manages shard, checksum, and live-row metadata in SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex // serializes writes
}

// Open opens (and if needed initializes) the metadata database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("metadata: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, dbPath: dbPath}

	for _, stmt := range schemaSQL {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("metadata: init schema: %w", err)
		}
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// =============================================================================
// Live table rows
// =============================================================================

// InsertBars inserts rows into a live table. IDs are assigned by the store
// and written back into the slice.
func (s *Store) InsertBars(ctx context.Context, table string, bars []types.Bar) error {
	if table == "" {
		return errors.NewMissingArgument("table")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metadata: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (table_name, symbol, date, open, high, low, close, volume, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("metadata: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range bars {
		b := &bars[i]
		res, err := stmt.ExecContext(ctx, table, b.Symbol, b.Date.UTC().UnixMilli(),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.Checksum)
		if err != nil {
			return fmt.Errorf("metadata: insert record: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("metadata: last insert id: %w", err)
		}
		b.ID = id
	}

	return tx.Commit()
}

// BarsInRange returns rows of a table with date in [start, end], optionally
// filtered by symbol, ordered by date then id.
func (s *Store) BarsInRange(ctx context.Context, table string, start, end time.Time, symbols ...string) ([]types.Bar, error) {
	query := `
		SELECT id, symbol, date, open, high, low, close, volume, checksum
		FROM records
		WHERE table_name = ? AND date >= ? AND date <= ?`
	args := []any{table, start.UTC().UnixMilli(), endOfDayMs(end)}

	if len(symbols) > 0 {
		query += " AND symbol IN (?" + strings.Repeat(",?", len(symbols)-1) + ")"
		for _, sym := range symbols {
			args = append(args, sym)
		}
	}
	query += " ORDER BY date, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("metadata: query records: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// BarByID returns one row of a table by primary key.
func (s *Store) BarByID(ctx context.Context, table string, id int64) (*types.Bar, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, date, open, high, low, close, volume, checksum
		FROM records WHERE table_name = ? AND id = ?`, table, id)

	b, err := scanBar(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s id=%d: %w", table, id, errors.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("metadata: query record: %w", err)
	}
	return b, nil
}

// UpdateBar rewrites the OHLCV values of a row. Administrative repair path;
// the storage manager itself never calls this.
func (s *Store) UpdateBar(ctx context.Context, table string, bar types.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET symbol = ?, date = ?, open = ?, high = ?, low = ?, close = ?, volume = ?
		WHERE table_name = ? AND id = ?`,
		bar.Symbol, bar.Date.UTC().UnixMilli(), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume,
		table, bar.ID)
	if err != nil {
		return fmt.Errorf("metadata: update record: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%s id=%d: %w", table, bar.ID, errors.ErrRecordNotFound)
	}
	return nil
}

// UpdateBarChecksum caches a digest on the row itself.
func (s *Store) UpdateBarChecksum(ctx context.Context, table string, id int64, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE records SET checksum = ? WHERE table_name = ? AND id = ?`, digest, table, id)
	if err != nil {
		return fmt.Errorf("metadata: update record checksum: %w", err)
	}
	return nil
}

// UnshardedCount returns the number of rows not yet covered by any shard.
func (s *Store) UnshardedCount(ctx context.Context, table string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM records
		WHERE table_name = ?
		  AND date > COALESCE(
			(SELECT MAX(end_date) FROM shards WHERE table_name = ?) + 86399999,
			-9223372036854775808)`,
		table, table).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("metadata: count unsharded: %w", err)
	}
	return count, nil
}

// EarliestUnsharded returns the date of the oldest row not covered by any
// shard. The second return is false when every row is sharded.
func (s *Store) EarliestUnsharded(ctx context.Context, table string) (time.Time, bool, error) {
	var ms sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(date) FROM records
		WHERE table_name = ?
		  AND date > COALESCE(
			(SELECT MAX(end_date) FROM shards WHERE table_name = ?) + 86399999,
			-9223372036854775808)`,
		table, table).Scan(&ms)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("metadata: earliest unsharded: %w", err)
	}
	if !ms.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms.Int64).UTC(), true, nil
}

// DateOfNthUnsharded returns the date of the n-th oldest unsharded row
// (1-based). Falls back to the newest unsharded row when fewer than n exist.
func (s *Store) DateOfNthUnsharded(ctx context.Context, table string, n int64) (time.Time, error) {
	var ms sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT date FROM records
		WHERE table_name = ?
		  AND date > COALESCE(
			(SELECT MAX(end_date) FROM shards WHERE table_name = ?) + 86399999,
			-9223372036854775808)
		ORDER BY date
		LIMIT 1 OFFSET ?`,
		table, table, n-1).Scan(&ms)
	if err == sql.ErrNoRows {
		// fewer than n unsharded rows: use the newest one
		err = s.db.QueryRowContext(ctx, `
			SELECT MAX(date) FROM records WHERE table_name = ?`, table).Scan(&ms)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("metadata: nth unsharded: %w", err)
	}
	if !ms.Valid {
		return time.Time{}, errors.NewNotFound("records", table)
	}
	return time.UnixMilli(ms.Int64).UTC(), nil
}

// BarsWithoutChecksum returns up to limit rows lacking a checksum record,
// oldest first.
func (s *Store) BarsWithoutChecksum(ctx context.Context, table string, limit int) ([]types.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.symbol, r.date, r.open, r.high, r.low, r.close, r.volume, r.checksum
		FROM records r
		LEFT JOIN checksums c ON c.table_name = r.table_name AND c.record_id = r.id
		WHERE r.table_name = ? AND c.record_id IS NULL
		ORDER BY r.date, r.id
		LIMIT ?`, table, limit)
	if err != nil {
		return nil, fmt.Errorf("metadata: query unchecksummed: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// Tables returns the distinct logical table names present in the store.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT table_name FROM records
		UNION SELECT DISTINCT table_name FROM shards
		ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("metadata: list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// =============================================================================
// Shards
// =============================================================================

// InsertShard inserts a shard metadata row. Fails with ErrShardOverlap when
// the date bounds intersect an existing shard of the same table, and
// ErrShardExists on a duplicate shard id.
func (s *Store) InsertShard(ctx context.Context, shard *types.Shard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metadata: begin: %w", err)
	}
	defer tx.Rollback()

	var overlap int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM shards
		WHERE table_name = ? AND start_date <= ? AND end_date >= ?`,
		shard.TableName, endOfDayMs(shard.EndDate), shard.StartDate.UTC().UnixMilli()).Scan(&overlap)
	if err != nil {
		return fmt.Errorf("metadata: overlap check: %w", err)
	}
	if overlap > 0 {
		return fmt.Errorf("%s [%s, %s]: %w", shard.TableName,
			shard.StartDate.Format("2006-01-02"), shard.EndDate.Format("2006-01-02"),
			errors.ErrShardOverlap)
	}

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM shards WHERE shard_id = ?`, shard.ShardID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("metadata: uniqueness check: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%s: %w", shard.ShardID, errors.ErrShardExists)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO shards (shard_id, table_name, shard_key, start_date, end_date,
			row_count, file_path, file_format, file_size_bytes, compression, is_compressed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		shard.ShardID, shard.TableName, shard.ShardKey,
		shard.StartDate.UTC().UnixMilli(), shard.EndDate.UTC().UnixMilli(),
		shard.RowCount, shard.FilePath, shard.FileFormat, shard.FileSizeBytes,
		shard.Compression, boolToInt(shard.IsCompressed), shard.CreatedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("metadata: insert shard: %w", err)
	}

	return tx.Commit()
}

// ShardsForTable returns all shards of a table ordered by start date.
func (s *Store) ShardsForTable(ctx context.Context, table string) ([]types.Shard, error) {
	return s.queryShards(ctx, `WHERE table_name = ? ORDER BY start_date`, table)
}

// AllShards returns every shard ordered by table then start date.
func (s *Store) AllShards(ctx context.Context) ([]types.Shard, error) {
	return s.queryShards(ctx, `ORDER BY table_name, start_date`)
}

// LastShard returns the shard with the latest end date for a table, or nil
// when the table has no shards.
func (s *Store) LastShard(ctx context.Context, table string) (*types.Shard, error) {
	shards, err := s.queryShards(ctx, `WHERE table_name = ? ORDER BY end_date DESC LIMIT 1`, table)
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, nil
	}
	return &shards[0], nil
}

// ShardByID returns one shard by id.
func (s *Store) ShardByID(ctx context.Context, shardID string) (*types.Shard, error) {
	shards, err := s.queryShards(ctx, `WHERE shard_id = ?`, shardID)
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("%s: %w", shardID, errors.ErrShardNotFound)
	}
	return &shards[0], nil
}

// ShardsIntersecting returns the shards of a table whose inclusive date
// bounds intersect [start, end], ordered by start date. Metadata only.
func (s *Store) ShardsIntersecting(ctx context.Context, table string, start, end time.Time) ([]types.Shard, error) {
	return s.queryShards(ctx, `
		WHERE table_name = ? AND start_date <= ? AND end_date >= ?
		ORDER BY start_date`,
		table, endOfDayMs(end), start.UTC().UnixMilli())
}

// UncompressedShards returns every shard not yet compressed, optionally
// restricted to one table.
func (s *Store) UncompressedShards(ctx context.Context, table string) ([]types.Shard, error) {
	if table != "" {
		return s.queryShards(ctx, `WHERE is_compressed = 0 AND table_name = ? ORDER BY table_name, start_date`, table)
	}
	return s.queryShards(ctx, `WHERE is_compressed = 0 ORDER BY table_name, start_date`)
}

// UpdateShardCompression records the outcome of a recompression: new codec,
// file size, and file path.
func (s *Store) UpdateShardCompression(ctx context.Context, shardID, compression string, sizeBytes int64, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE shards SET compression = ?, is_compressed = 1, file_size_bytes = ?, file_path = ?
		WHERE shard_id = ?`,
		compression, sizeBytes, filePath, shardID)
	if err != nil {
		return fmt.Errorf("metadata: update shard compression: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%s: %w", shardID, errors.ErrShardNotFound)
	}
	return nil
}

// ShardAggregate summarizes the shards of one table.
type ShardAggregate struct {
	ShardCount     int64
	TotalRows      int64
	TotalSizeBytes int64
}

// ShardAggregates returns per-table shard summaries. An empty table name
// aggregates every table.
func (s *Store) ShardAggregates(ctx context.Context, table string) (map[string]ShardAggregate, error) {
	query := `
		SELECT table_name, COUNT(*), COALESCE(SUM(row_count), 0), COALESCE(SUM(file_size_bytes), 0)
		FROM shards`
	var args []any
	if table != "" {
		query += ` WHERE table_name = ?`
		args = append(args, table)
	}
	query += ` GROUP BY table_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("metadata: shard aggregates: %w", err)
	}
	defer rows.Close()

	result := make(map[string]ShardAggregate)
	for rows.Next() {
		var name string
		var agg ShardAggregate
		if err := rows.Scan(&name, &agg.ShardCount, &agg.TotalRows, &agg.TotalSizeBytes); err != nil {
			return nil, err
		}
		result[name] = agg
	}
	return result, rows.Err()
}

// =============================================================================
// Checksums
// =============================================================================

// UpsertChecksum inserts or replaces the checksum record for a row. The
// (table_name, record_id) primary key keeps at most one per row.
func (s *Store) UpsertChecksum(ctx context.Context, rec *types.ChecksumRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var verifiedAt any
	if !rec.VerifiedAt.IsZero() {
		verifiedAt = rec.VerifiedAt.UTC().UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checksums (table_name, record_id, checksum, checksum_fields, created_at, verified_at, is_valid)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name, record_id) DO UPDATE SET
			checksum = excluded.checksum,
			checksum_fields = excluded.checksum_fields,
			verified_at = excluded.verified_at,
			is_valid = excluded.is_valid`,
		rec.TableName, rec.RecordID, rec.Checksum, strings.Join(rec.ChecksumFields, ","),
		rec.CreatedAt.UTC().UnixMilli(), verifiedAt, boolToInt(rec.IsValid))
	if err != nil {
		return fmt.Errorf("metadata: upsert checksum: %w", err)
	}
	return nil
}

// Checksum returns the checksum record for one row, or nil when the row has
// no checksum yet. A missing checksum is a steady-state condition, not an
// error.
func (s *Store) Checksum(ctx context.Context, table string, recordID int64) (*types.ChecksumRecord, error) {
	rows, err := s.queryChecksums(ctx, `WHERE table_name = ? AND record_id = ?`, table, recordID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Checksums returns up to limit checksum records of a table, oldest
// verification first. limit <= 0 returns all.
func (s *Store) Checksums(ctx context.Context, table string, limit int) ([]types.ChecksumRecord, error) {
	if limit <= 0 {
		return s.queryChecksums(ctx, `WHERE table_name = ? ORDER BY COALESCE(verified_at, 0), record_id`, table)
	}
	return s.queryChecksums(ctx,
		`WHERE table_name = ? ORDER BY COALESCE(verified_at, 0), record_id LIMIT ?`, table, limit)
}

// AllChecksums returns every checksum record, optionally restricted to one
// table.
func (s *Store) AllChecksums(ctx context.Context, table string) ([]types.ChecksumRecord, error) {
	if table != "" {
		return s.queryChecksums(ctx, `WHERE table_name = ? ORDER BY record_id`, table)
	}
	return s.queryChecksums(ctx, `ORDER BY table_name, record_id`)
}

// UpdateVerification records the outcome of one verification pass.
func (s *Store) UpdateVerification(ctx context.Context, table string, recordID int64, isValid bool, verifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE checksums SET is_valid = ?, verified_at = ?
		WHERE table_name = ? AND record_id = ?`,
		boolToInt(isValid), verifiedAt.UTC().UnixMilli(), table, recordID)
	if err != nil {
		return fmt.Errorf("metadata: update verification: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%s id=%d: %w", table, recordID, errors.ErrChecksumNotFound)
	}
	return nil
}

// =============================================================================
// Scan helpers
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBar(r rowScanner) (*types.Bar, error) {
	var b types.Bar
	var dateMs int64
	err := r.Scan(&b.ID, &b.Symbol, &dateMs, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Checksum)
	if err != nil {
		return nil, err
	}
	b.Date = time.UnixMilli(dateMs).UTC()
	return &b, nil
}

func scanBars(rows *sql.Rows) ([]types.Bar, error) {
	var bars []types.Bar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, fmt.Errorf("metadata: scan record: %w", err)
		}
		bars = append(bars, *b)
	}
	return bars, rows.Err()
}

func (s *Store) queryShards(ctx context.Context, clause string, args ...any) ([]types.Shard, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT shard_id, table_name, shard_key, start_date, end_date,
			row_count, file_path, file_format, file_size_bytes, compression, is_compressed, created_at
		FROM shards `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("metadata: query shards: %w", err)
	}
	defer rows.Close()

	var shards []types.Shard
	for rows.Next() {
		var sh types.Shard
		var startMs, endMs, createdMs int64
		var compressed int
		err := rows.Scan(&sh.ShardID, &sh.TableName, &sh.ShardKey, &startMs, &endMs,
			&sh.RowCount, &sh.FilePath, &sh.FileFormat, &sh.FileSizeBytes,
			&sh.Compression, &compressed, &createdMs)
		if err != nil {
			return nil, fmt.Errorf("metadata: scan shard: %w", err)
		}
		sh.StartDate = time.UnixMilli(startMs).UTC()
		sh.EndDate = time.UnixMilli(endMs).UTC()
		sh.CreatedAt = time.UnixMilli(createdMs).UTC()
		sh.IsCompressed = compressed != 0
		shards = append(shards, sh)
	}
	return shards, rows.Err()
}

func (s *Store) queryChecksums(ctx context.Context, clause string, args ...any) ([]types.ChecksumRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name, record_id, checksum, checksum_fields, created_at, verified_at, is_valid
		FROM checksums `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("metadata: query checksums: %w", err)
	}
	defer rows.Close()

	var recs []types.ChecksumRecord
	for rows.Next() {
		var rec types.ChecksumRecord
		var fields string
		var createdMs int64
		var verifiedMs sql.NullInt64
		var valid int
		err := rows.Scan(&rec.TableName, &rec.RecordID, &rec.Checksum, &fields, &createdMs, &verifiedMs, &valid)
		if err != nil {
			return nil, fmt.Errorf("metadata: scan checksum: %w", err)
		}
		if fields != "" {
			rec.ChecksumFields = strings.Split(fields, ",")
		}
		rec.CreatedAt = time.UnixMilli(createdMs).UTC()
		if verifiedMs.Valid {
			rec.VerifiedAt = time.UnixMilli(verifiedMs.Int64).UTC()
		}
		rec.IsValid = valid != 0
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// endOfDayMs returns the last millisecond of t's UTC day, so inclusive day
// bounds also cover intraday timestamps.
func endOfDayMs(t time.Time) int64 {
	return types.Day(t).UnixMilli() + 24*60*60*1000 - 1
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
