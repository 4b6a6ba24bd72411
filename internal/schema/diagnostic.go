package schema

import (
	"fmt"
	"strconv"
)

// Severity is the verdict attached to a diagnostic, and the derived verdict of a
// file or project. The ordering is total: OK < Warning < Error.
type Severity uint8

const (
	OK Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case OK:
		return "OK"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	}
	return "UNKNOWN"
}

// Worst returns the more severe of a and b.
func Worst(a, b Severity) Severity {
	if a > b {
		return a
	}
	return b
}

// ParseSeverity maps "error" and "warning" (any case) to a diagnostic severity.
func ParseSeverity(raw string) (Severity, error) {
	switch normalizeWord(raw) {
	case "", "error":
		return Error, nil
	case "warning", "warn":
		return Warning, nil
	}
	return OK, fmt.Errorf("unknown severity %q", raw)
}

// NoRow marks structural diagnostics that are not tied to a data row.
const NoRow = -1

// Diagnostic is one finding produced by a column rule. Diagnostics are values and
// are never mutated after construction.
type Diagnostic struct {
	Severity Severity
	Column   string
	// Row is the 0-based data row index, or NoRow for structural findings.
	Row     int
	Value   string
	Message string
}

// Structural reports whether d concerns the table shape rather than a cell.
func (d Diagnostic) Structural() bool { return d.Row == NoRow }

func (d Diagnostic) String() string {
	if d.Structural() {
		return fmt.Sprintf("%s {column: %s}: %s", d.Severity, strconv.Quote(d.Column), d.Message)
	}
	return fmt.Sprintf("%s {row: %d, column: %s}: %s %s", d.Severity, d.Row, strconv.Quote(d.Column), strconv.Quote(d.Value), d.Message)
}

// MaxSeverity returns the worst severity across diags, OK when empty.
func MaxSeverity(diags []Diagnostic) Severity {
	out := OK
	for _, d := range diags {
		out = Worst(out, d.Severity)
	}
	return out
}

// HasErrors reports whether any diagnostic is an Error.
func HasErrors(diags []Diagnostic) bool {
	return MaxSeverity(diags) == Error
}
