// Package types defines the core data units of the storage manager: market
// records (bars), date-bounded shards, and per-record checksum witnesses.
package types

import (
	"strconv"
	"time"
)

// Bar represents a single market-data record: one row of a live table
// (daily bar, minute bar, or tick). This is the unit being sharded and
// checksummed; the storage manager never mutates bar values.
type Bar struct {
	// ID is the primary key of the row in its live table.
	ID int64

	// Symbol is the instrument identifier (e.g. "AAPL").
	Symbol string

	// Date is the shard key. Day-truncated for daily tables, full
	// timestamp for minute and tick tables.
	Date time.Time

	// OHLCV values
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64

	// Checksum is the digest cached on the row itself, if the schema
	// carries one. Empty until a checksum record is created.
	Checksum string
}

// Field returns the canonical string form of a named field, used when
// digesting a configured field set. The second return is false for an
// unknown field name.
func (b *Bar) Field(name string) (string, bool) {
	switch name {
	case "symbol":
		return b.Symbol, true
	case "date":
		return b.Date.UTC().Format(time.RFC3339Nano), true
	case "open":
		return strconv.FormatFloat(b.Open, 'g', -1, 64), true
	case "high":
		return strconv.FormatFloat(b.High, 'g', -1, 64), true
	case "low":
		return strconv.FormatFloat(b.Low, 'g', -1, 64), true
	case "close":
		return strconv.FormatFloat(b.Close, 'g', -1, 64), true
	case "volume":
		return strconv.FormatInt(b.Volume, 10), true
	default:
		return "", false
	}
}

// BarFields lists the digestable field names of a Bar.
func BarFields() []string {
	return []string{"symbol", "date", "open", "high", "low", "close", "volume"}
}

// Day truncates a time to midnight UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole days from a to b.
// Negative when b is before a.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)) / (24 * time.Hour))
}
