package city

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// ReaderSource reads a comma-delimited table from the reader returned by open.
// open is called on every Rows call so the same source can be reloaded.
type ReaderSource func() (io.ReadCloser, error)

// FileSource returns a Source reading the CSV file at path.
func FileSource(path string) ReaderSource {
	return func() (io.ReadCloser, error) {
		return os.Open(path)
	}
}

// Rows reads the whole table. Row length is validated by Build, not here.
func (s ReaderSource) Rows(_ context.Context) ([][]string, error) {
	rc, err := s()
	if err != nil {
		return nil, fmt.Errorf("opening city table: %w", err)
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing city table: %w", err)
	}
	return rows, nil
}
