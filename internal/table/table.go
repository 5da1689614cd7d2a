// Package table loads and saves CSV tables with named columns.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
)

// ErrNoHeader is returned when the input file has no header row.
var ErrNoHeader = errors.New("table has no header row")

// Table holds a CSV table in memory: a header row plus data rows.
// Rows are addressed by their stable index; columns by name or by the
// index resolved once via Column/EnsureColumn.
type Table struct {
	header []string
	rows   [][]string
	index  map[string]int
}

// Load reads a CSV file into a Table. The first record is the header.
func Load(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // allow variable fields

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read table %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoHeader, path)
	}

	t := &Table{
		header: records[0],
		rows:   records[1:],
		index:  make(map[string]int, len(records[0])),
	}
	for i, name := range t.header {
		t.index[name] = i
	}

	return t, nil
}

// Save writes the full table to path, overwriting any existing file.
// The write goes through a temp file renamed into place so a kill mid-write
// never leaves a truncated table behind.
func (t *Table) Save(path string) error {
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create table file %s: %w", tempPath, err)
	}

	writer := csv.NewWriter(file)
	if err = writer.Write(t.header); err != nil {
		file.Close()
		return fmt.Errorf("failed to write table header: %w", err)
	}
	width := len(t.header)
	for i, row := range t.rows {
		if err = writer.Write(padded(row, width)); err != nil {
			file.Close()
			return fmt.Errorf("failed to write table row %d: %w", i, err)
		}
	}
	writer.Flush()
	if err = writer.Error(); err != nil {
		file.Close()
		return fmt.Errorf("failed to flush table %s: %w", tempPath, err)
	}
	if err = file.Close(); err != nil {
		return fmt.Errorf("failed to close table file %s: %w", tempPath, err)
	}

	if err = os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename table file into place: %w", err)
	}

	return nil
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// Header returns the column names.
func (t *Table) Header() []string { return t.header }

// Column returns the index of a named column.
func (t *Table) Column(name string) (int, bool) {
	idx, ok := t.index[name]
	return idx, ok
}

// EnsureColumn returns the index of a named column, appending it to the
// header first when missing. Existing rows are padded lazily by Get/Set.
func (t *Table) EnsureColumn(name string) int {
	if idx, ok := t.index[name]; ok {
		return idx
	}
	idx := len(t.header)
	t.header = append(t.header, name)
	t.index[name] = idx
	return idx
}

// Get returns the value at (row, col), or "" when the row is shorter than
// the header (columns appended after load).
func (t *Table) Get(row, col int) string {
	if col >= len(t.rows[row]) {
		return ""
	}
	return t.rows[row][col]
}

// Set writes the value at (row, col), growing the row as needed.
func (t *Table) Set(row, col int, value string) {
	if col >= len(t.rows[row]) {
		t.rows[row] = padded(t.rows[row], col+1)
	}
	t.rows[row][col] = value
}

func padded(row []string, width int) []string {
	if len(row) >= width {
		return row
	}
	grown := make([]string, width)
	copy(grown, row)
	return grown
}
