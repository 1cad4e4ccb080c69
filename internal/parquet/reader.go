package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/tickvault/tickvault/internal/types"
)

// BarReader reads market records from a Parquet file.
type BarReader struct {
	file   *os.File
	reader *parquet.GenericReader[BarRow]
	path   string
}

// NewBarReader creates a new bar Parquet reader.
func NewBarReader(path string) (*BarReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	pf, err := parquet.OpenFile(f, info.Size(), parquet.ReadBufferSize(1024*1024))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	reader := parquet.NewGenericReader[BarRow](pf)

	return &BarReader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// ReadAll reads all bars from the file.
func (r *BarReader) ReadAll() ([]types.Bar, error) {
	numRows := r.reader.NumRows()
	if numRows == 0 {
		return nil, nil
	}
	rows := make([]BarRow, numRows)

	// io.EOF just marks the end of the file; any other error means the
	// rows decoded so far cannot be trusted.
	n, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	bars := make([]types.Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = RowToBar(&rows[i])
	}

	return bars, nil
}

// NumRows returns the total number of rows in the file.
func (r *BarReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *BarReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *BarReader) Path() string {
	return r.path
}

// ReadBars reads all bars from a Parquet file in one call.
func ReadBars(path string) ([]types.Bar, error) {
	reader, err := NewBarReader(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return reader.ReadAll()
}
