// Package sdrftest builds SDRF tables and files for tests.
package sdrftest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bigbio/sdrf-validate/internal/sdrf"
)

// Row maps column names to values. Columns missing from a row are written empty.
type Row map[string]string

// Columns covers the default, human, vertebrate and mass spectrometry bundles.
var Columns = []string{
	"source name",
	"characteristics[organism]",
	"characteristics[organism part]",
	"characteristics[disease]",
	"characteristics[cell type]",
	"characteristics[biological replicate]",
	"characteristics[age]",
	"characteristics[sex]",
	"characteristics[ancestry category]",
	"characteristics[developmental stage]",
	"assay name",
	"technology type",
	"comment[data file]",
	"comment[fraction identifier]",
	"comment[technical replicate]",
	"comment[label]",
	"comment[instrument]",
	"comment[cleavage agent details]",
}

// Valid returns a row that passes every built-in bundle for organism.
func Valid(organism string) Row {
	return Row{
		"source name":                           "sample 1",
		"characteristics[organism]":             organism,
		"characteristics[organism part]":        "liver",
		"characteristics[disease]":              "normal",
		"characteristics[cell type]":            "hepatocyte",
		"characteristics[biological replicate]": "1",
		"characteristics[age]":                  "40Y",
		"characteristics[sex]":                  "female",
		"characteristics[ancestry category]":    "European",
		"characteristics[developmental stage]":  "adult",
		"assay name":                            "run 1",
		"technology type":                       "proteomic profiling by mass spectrometry",
		"comment[data file]":                    "run1.raw",
		"comment[fraction identifier]":          "1",
		"comment[technical replicate]":          "1",
		"comment[label]":                        "NT=label free sample;AC=MS:1002038",
		"comment[instrument]":                   "NT=Q Exactive;AC=MS:1001911",
		"comment[cleavage agent details]":       "NT=Trypsin;AC=MS:1001251",
	}
}

// With returns a copy of r with the given column set to value.
func (r Row) With(column, value string) Row {
	out := make(Row, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out[column] = value
	return out
}

// Without returns columns minus the named ones.
func Without(columns []string, drop ...string) []string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		keep := true
		for _, d := range drop {
			if strings.EqualFold(c, d) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, c)
		}
	}
	return out
}

// TSV renders columns and rows as a tab-separated document.
func TSV(columns []string, rows ...Row) string {
	var b strings.Builder
	b.WriteString(strings.Join(columns, "\t"))
	b.WriteByte('\n')
	for _, r := range rows {
		vals := make([]string, len(columns))
		for i, c := range columns {
			vals[i] = r[c]
		}
		b.WriteString(strings.Join(vals, "\t"))
		b.WriteByte('\n')
	}
	return b.String()
}

// Table parses the rendered rows into a table named name.
func Table(t testing.TB, name string, columns []string, rows ...Row) *sdrf.Table {
	t.Helper()
	tbl, err := sdrf.Parse(strings.NewReader(TSV(columns, rows...)), name)
	if err != nil {
		t.Fatalf("parse %s: %v", name, err)
	}
	return tbl
}

// WriteFile writes the rendered rows to dir/name, creating dir, and returns the path.
func WriteFile(t testing.TB, dir, name string, columns []string, rows ...Row) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(TSV(columns, rows...)), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
