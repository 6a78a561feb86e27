// Package export writes normalized catalog rows to a semicolon-delimited file.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sternrassler/lemana-scraper/pkg/catalog"
)

// Delimiter separates columns in the output file.
const Delimiter = ';'

// CSVWriter writes rows to a semicolon-delimited file, flushing after every
// batch so a killed run keeps everything written so far.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	rows   int
}

// NewCSVWriter truncates or creates filename and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	writer.Comma = Delimiter
	if err := writer.Write(catalog.Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends rows and flushes them to disk.
func (cw *CSVWriter) Write(rows []catalog.Row) error {
	for _, row := range rows {
		if err := cw.writer.Write(row.Record()); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	cw.rows += len(rows)
	return nil
}

// Rows returns the number of data rows written so far.
func (cw *CSVWriter) Rows() int {
	return cw.rows
}

// Path returns the output file path.
func (cw *CSVWriter) Path() string {
	return cw.file.Name()
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		cw.file.Close()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
