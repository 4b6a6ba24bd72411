package report

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"

	"github.com/bigbio/sdrf-validate/internal/schema"
)

// Verbosity levels for diagnostic output.
const (
	Quiet    = 0
	Collapse = 1
	Full     = 2
)

// CollapseWarnings folds WARNING diagnostics sharing (column, message) into one
// line each, sorted by (column, message). The line reports the group size and the
// occurrence with the smallest row index. ERRORs are ignored.
func CollapseWarnings(diags []schema.Diagnostic) []string {
	type key struct{ column, message string }
	type group struct {
		count int
		first schema.Diagnostic
	}

	groups := make(map[key]*group)
	var keys []key
	for _, d := range diags {
		if d.Severity != schema.Warning {
			continue
		}
		k := key{column: d.Column, message: d.Message}
		g, ok := groups[k]
		if !ok {
			groups[k] = &group{count: 1, first: d}
			keys = append(keys, k)
			continue
		}
		g.count++
		if d.Row < g.first.Row {
			g.first = d
		}
	}

	slices.SortFunc(keys, func(a, b key) int {
		return cmp.Or(cmp.Compare(a.column, b.column), cmp.Compare(a.message, b.message))
	})

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		out = append(out, fmt.Sprintf("%d validation warnings collapsed on column %s (first row %s, value %s): %s",
			g.count, k.column, rowLabel(g.first.Row), g.first.Value, k.message))
	}
	return out
}

// Lines renders the diagnostics of one file for the given verbosity: nothing at
// Quiet, collapsed warnings followed by every ERROR at Collapse, every
// diagnostic in order at Full.
func Lines(r FileResult, verbosity int) []string {
	if verbosity <= Quiet {
		return nil
	}
	var out []string
	if r.Err != nil {
		out = append(out, fmt.Sprintf("%s {file: %s}: %v", schema.Error, strconv.Quote(r.Name()), r.Err))
	}
	diags := r.Diagnostics()
	if verbosity >= Full {
		for _, d := range diags {
			out = append(out, d.String())
		}
		return out
	}
	out = append(out, CollapseWarnings(diags)...)
	for _, d := range diags {
		if d.Severity == schema.Error {
			out = append(out, d.String())
		}
	}
	return out
}

func rowLabel(row int) string {
	if row == schema.NoRow {
		return "-"
	}
	return strconv.Itoa(row)
}
