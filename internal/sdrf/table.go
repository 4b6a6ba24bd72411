// Package sdrf loads SDRF sample-metadata tables from tab-separated files.
//
// Cell values are kept as raw strings; interpreting them is left to schema rules.
package sdrf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrSourceNotFound is matched by load errors for files that do not exist.
var ErrSourceNotFound = errors.New("source not found")

// LoadError reports why a file could not be turned into a Table.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e == nil {
		return "sdrf load error"
	}
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Table is an immutable, ordered-column view of one SDRF file.
type Table struct {
	path    string
	columns []string
	index   map[string]int
	rows    [][]string
}

// Load reads and parses the file at path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &LoadError{Path: path, Err: ErrSourceNotFound}
		}
		return nil, &LoadError{Path: path, Err: err}
	}
	defer func() {
		_ = f.Close()
	}()

	t, err := Parse(f, path)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Parse reads a table from r. name is recorded as the table path and used in errors.
//
// Lines are split on tabs with no quoting, so every cell reaches the rules exactly as
// written. Lines starting with '#' are skipped only before the header.
func Parse(r io.Reader, name string) (*Table, error) {
	lr := newLineReader(r)

	header, err := lr.header()
	if err != nil {
		return nil, &LoadError{Path: name, Err: err}
	}
	t, err := newTable(name, header)
	if err != nil {
		return nil, &LoadError{Path: name, Err: err}
	}

	for {
		rec, err := lr.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &LoadError{Path: name, Err: fmt.Errorf("read row: %w", err)}
		}
		if isBlank(rec) {
			continue
		}
		if len(rec) > len(t.columns) {
			return nil, &LoadError{Path: name, Err: fmt.Errorf("line %d has %d fields, header has %d", lr.line, len(rec), len(t.columns))}
		}
		row := make([]string, len(t.columns))
		copy(row, rec)
		t.rows = append(t.rows, row)
	}

	if len(t.rows) == 0 {
		return nil, &LoadError{Path: name, Err: errors.New("no data rows")}
	}
	return t, nil
}

// ReadHeader returns the header row of the file at path. Files without data rows are accepted.
func ReadHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &LoadError{Path: path, Err: ErrSourceNotFound}
		}
		return nil, &LoadError{Path: path, Err: err}
	}
	defer func() {
		_ = f.Close()
	}()

	header, err := newLineReader(f).header()
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return header, nil
}

// maxLineBytes bounds a single table line.
const maxLineBytes = 16 << 20

type lineReader struct {
	sc   *bufio.Scanner
	line int
}

func newLineReader(r io.Reader) *lineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	return &lineReader{sc: sc}
}

// next returns the fields of the next line, or io.EOF.
func (lr *lineReader) next() ([]string, error) {
	if !lr.sc.Scan() {
		if err := lr.sc.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	lr.line++
	return strings.Split(strings.TrimSuffix(lr.sc.Text(), "\r"), "\t"), nil
}

func (lr *lineReader) header() ([]string, error) {
	for {
		rec, err := lr.next()
		if err == io.EOF {
			return nil, errors.New("missing header row")
		}
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		if lr.line == 1 {
			rec[0] = strings.TrimPrefix(rec[0], "\ufeff")
		}
		if isBlank(rec) || strings.HasPrefix(rec[0], "#") {
			continue
		}
		header := make([]string, len(rec))
		for i, col := range rec {
			header[i] = strings.TrimSpace(col)
		}
		return header, nil
	}
}

func newTable(path string, header []string) (*Table, error) {
	t := &Table{
		path:    path,
		columns: header,
		index:   make(map[string]int, len(header)),
	}
	for i, col := range header {
		if col == "" {
			return nil, fmt.Errorf("header column %d is empty", i+1)
		}
		key := columnKey(col)
		if prev, ok := t.index[key]; ok {
			return nil, fmt.Errorf("duplicate column %q (columns %d and %d)", col, prev+1, i+1)
		}
		t.index[key] = i
	}
	return t, nil
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func columnKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Path returns the path the table was read from.
func (t *Table) Path() string { return t.path }

// Name returns the base name of the table path.
func (t *Table) Name() string { return filepath.Base(t.path) }

// Columns returns a copy of the header in file order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// Has reports whether the table declares column (case-insensitive).
func (t *Table) Has(column string) bool {
	_, ok := t.index[columnKey(column)]
	return ok
}

// Value returns the raw value at row for column, or "" if the column is absent.
func (t *Table) Value(row int, column string) string {
	i, ok := t.index[columnKey(column)]
	if !ok || row < 0 || row >= len(t.rows) {
		return ""
	}
	return t.rows[row][i]
}

// Column returns all values of column in row order, or nil if the column is absent.
func (t *Table) Column(column string) []string {
	i, ok := t.index[columnKey(column)]
	if !ok {
		return nil
	}
	out := make([]string, len(t.rows))
	for r, row := range t.rows {
		out[r] = row[i]
	}
	return out
}

// Distinct returns the distinct values of column in first-seen order.
func (t *Table) Distinct(column string) []string {
	vals := t.Column(column)
	seen := make(map[string]struct{}, len(vals))
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Filter returns a table sharing the header with only the rows for which keep returns true.
// Rows are shared with the receiver and must not be modified.
func (t *Table) Filter(keep func(row int) bool) *Table {
	out := &Table{
		path:    t.path,
		columns: t.columns,
		index:   t.index,
	}
	for i, row := range t.rows {
		if keep(i) {
			out.rows = append(out.rows, row)
		}
	}
	return out
}
