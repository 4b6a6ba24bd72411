package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bigbio/sdrf-validate/internal/sdrf"
)

// Violation is what a predicate reports for a value it rejects.
type Violation struct {
	Severity Severity
	Message  string
}

// Predicate checks one cell value. It returns nil when the value is acceptable.
type Predicate interface {
	Check(value string) *Violation
}

// PredicateFunc adapts a function to the Predicate interface.
type PredicateFunc func(value string) *Violation

func (f PredicateFunc) Check(value string) *Violation { return f(value) }

// ColumnRule validates one column. Predicates run in order and the first
// violation is reported, so a rule yields at most one diagnostic per row.
type ColumnRule struct {
	Name       string
	Optional   bool
	Predicates []Predicate
}

// Evaluate applies the rule to every row of t.
func (r ColumnRule) Evaluate(t *sdrf.Table) []Diagnostic {
	values := t.Column(r.Name)
	if values == nil {
		if r.Optional {
			return nil
		}
		return []Diagnostic{{
			Severity: Error,
			Column:   r.Name,
			Row:      NoRow,
			Message:  "mandatory column is missing from the table",
		}}
	}

	var out []Diagnostic
	for row, v := range values {
		for _, p := range r.Predicates {
			violation := p.Check(v)
			if violation == nil {
				continue
			}
			out = append(out, Diagnostic{
				Severity: violation.Severity,
				Column:   r.Name,
				Row:      row,
				Value:    v,
				Message:  violation.Message,
			})
			break
		}
	}
	return out
}

// Required rejects empty values.
func Required() Predicate {
	return PredicateFunc(func(v string) *Violation {
		if strings.TrimSpace(v) == "" {
			return &Violation{Severity: Error, Message: "value is empty"}
		}
		return nil
	})
}

// NoOuterWhitespace rejects values with leading or trailing whitespace.
func NoOuterWhitespace() Predicate {
	return PredicateFunc(func(v string) *Violation {
		if v != strings.TrimSpace(v) {
			return &Violation{Severity: Error, Message: "value has leading or trailing whitespace"}
		}
		return nil
	})
}

// OneOf accepts values from a vocabulary, compared case-insensitively.
// With sev Warning it models a recommended, not mandatory, vocabulary.
func OneOf(sev Severity, values []string, message string) Predicate {
	allowed := wordSet(values)
	if message == "" {
		message = fmt.Sprintf("value is not one of: %s", strings.Join(values, ", "))
	}
	return PredicateFunc(func(v string) *Violation {
		if _, ok := allowed[normalizeWord(v)]; ok {
			return nil
		}
		return &Violation{Severity: sev, Message: message}
	})
}

// Matches accepts values matching re, or any of the allow-listed placeholders.
func Matches(sev Severity, re *regexp.Regexp, allow []string, message string) Predicate {
	allowed := wordSet(allow)
	if message == "" {
		message = fmt.Sprintf("value does not match the pattern %s", strconv.Quote(re.String()))
	}
	return PredicateFunc(func(v string) *Violation {
		if _, ok := allowed[normalizeWord(v)]; ok {
			return nil
		}
		if re.MatchString(strings.TrimSpace(v)) {
			return nil
		}
		return &Violation{Severity: sev, Message: message}
	})
}

// OntologyTerm accepts plain names and key=value encoded terms that carry an NT= name,
// e.g. "NT=Trypsin;AC=MS:1001251".
func OntologyTerm() Predicate {
	return PredicateFunc(func(v string) *Violation {
		if !strings.Contains(v, "=") {
			return nil
		}
		for _, part := range strings.Split(v, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			key, val, ok := strings.Cut(part, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return &Violation{Severity: Error, Message: fmt.Sprintf("malformed ontology term component %s", strconv.Quote(part))}
			}
			if strings.EqualFold(strings.TrimSpace(key), "nt") && strings.TrimSpace(val) != "" {
				return nil
			}
		}
		return &Violation{Severity: Error, Message: "ontology term has no NT= name"}
	})
}

// PositiveInteger accepts integers >= 1, or any of the allow-listed placeholders.
func PositiveInteger(allow []string) Predicate {
	allowed := wordSet(allow)
	return PredicateFunc(func(v string) *Violation {
		if _, ok := allowed[normalizeWord(v)]; ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 1 {
			return &Violation{Severity: Error, Message: "value is not a positive integer"}
		}
		return nil
	})
}

func wordSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[normalizeWord(v)] = struct{}{}
	}
	return out
}

func normalizeWord(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
