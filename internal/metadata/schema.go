package metadata

// schemaSQL lists the statements that create the metadata schema.
// Dates are stored as UTC unix milliseconds.
var schemaSQL = []string{
	`CREATE TABLE IF NOT EXISTS records (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		table_name  TEXT    NOT NULL,
		symbol      TEXT    NOT NULL,
		date        INTEGER NOT NULL,
		open        REAL    NOT NULL DEFAULT 0,
		high        REAL    NOT NULL DEFAULT 0,
		low         REAL    NOT NULL DEFAULT 0,
		close       REAL    NOT NULL DEFAULT 0,
		volume      INTEGER NOT NULL DEFAULT 0,
		checksum    TEXT    NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_records_table_date
		ON records(table_name, date)`,
	`CREATE INDEX IF NOT EXISTS idx_records_table_symbol
		ON records(table_name, symbol, date)`,

	`CREATE TABLE IF NOT EXISTS shards (
		shard_id        TEXT    PRIMARY KEY,
		table_name      TEXT    NOT NULL,
		shard_key       TEXT    NOT NULL,
		start_date      INTEGER NOT NULL,
		end_date        INTEGER NOT NULL,
		row_count       INTEGER NOT NULL,
		file_path       TEXT    NOT NULL,
		file_format     TEXT    NOT NULL,
		file_size_bytes INTEGER NOT NULL,
		compression     TEXT    NOT NULL,
		is_compressed   INTEGER NOT NULL,
		created_at      INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_shards_table_start
		ON shards(table_name, start_date)`,

	`CREATE TABLE IF NOT EXISTS checksums (
		table_name      TEXT    NOT NULL,
		record_id       INTEGER NOT NULL,
		checksum        TEXT    NOT NULL,
		checksum_fields TEXT    NOT NULL,
		created_at      INTEGER NOT NULL,
		verified_at     INTEGER,
		is_valid        INTEGER NOT NULL,
		PRIMARY KEY (table_name, record_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_checksums_table_valid
		ON checksums(table_name, is_valid)`,
}
