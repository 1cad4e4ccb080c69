package parquet

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/tickvault/tickvault/internal/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// CompressionLevel for algorithms that support it (zstd: 1-22, gzip: 1-9)
	CompressionLevel int
}

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:      CompressionNone,
		CompressionLevel: 0,
	}
}

// BarRow represents a market record in Parquet format.
type BarRow struct {
	ID          int64   `parquet:"id"`
	Symbol      string  `parquet:"symbol"`
	TimestampMs int64   `parquet:"timestamp_ms"`
	Open        float64 `parquet:"open"`
	High        float64 `parquet:"high"`
	Low         float64 `parquet:"low"`
	Close       float64 `parquet:"close"`
	Volume      int64   `parquet:"volume"`
	Checksum    string  `parquet:"checksum,optional"`
}

// BarToRow converts a Bar to a BarRow.
func BarToRow(b *types.Bar) BarRow {
	return BarRow{
		ID:          b.ID,
		Symbol:      b.Symbol,
		TimestampMs: b.Date.UTC().UnixMilli(),
		Open:        b.Open,
		High:        b.High,
		Low:         b.Low,
		Close:       b.Close,
		Volume:      b.Volume,
		Checksum:    b.Checksum,
	}
}

// RowToBar converts a BarRow to a Bar.
func RowToBar(r *BarRow) types.Bar {
	return types.Bar{
		ID:       r.ID,
		Symbol:   r.Symbol,
		Date:     time.UnixMilli(r.TimestampMs).UTC(),
		Open:     r.Open,
		High:     r.High,
		Low:      r.Low,
		Close:    r.Close,
		Volume:   r.Volume,
		Checksum: r.Checksum,
	}
}

// WriteBars writes bars to a Parquet file at path, creating parent
// directories first. Returns the number of rows written.
func WriteBars(path string, bars []types.Bar, opts Options) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	n, err := writeBarsTo(f, bars, opts)
	if err != nil {
		f.Close()
		return 0, err
	}

	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close file: %w", err)
	}
	return n, nil
}

// writeBarsTo serializes bars to an arbitrary writer.
func writeBarsTo(w io.Writer, bars []types.Bar, opts Options) (int64, error) {
	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression, opts.CompressionLevel)),
	}

	writer := parquet.NewGenericWriter[BarRow](w, writerOpts...)

	rows := make([]BarRow, len(bars))
	for i := range bars {
		rows[i] = BarToRow(&bars[i])
	}

	n, err := writer.Write(rows)
	if err != nil {
		writer.Close()
		return 0, fmt.Errorf("write rows: %w", err)
	}

	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("close writer: %w", err)
	}
	return int64(n), nil
}

// countingWriter counts written bytes and discards them.
type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// UncompressedSize serializes bars without compression, counting bytes
// instead of persisting them. Used for original-size statistics.
func UncompressedSize(bars []types.Bar) (int64, error) {
	cw := &countingWriter{}
	if _, err := writeBarsTo(cw, bars, Options{Compression: CompressionNone}); err != nil {
		return 0, err
	}
	return cw.n, nil
}
