package schema

import (
	"github.com/bigbio/sdrf-validate/internal/sdrf"
)

// Phase orders bundles within a validation plan.
type Phase string

const (
	// PhaseStructural bundles run first; their errors may stop validation.
	PhaseStructural Phase = "structural"
	// PhaseTemplate bundles are organism or cell-line specific.
	PhaseTemplate Phase = "template"
	// PhaseFinal bundles run after every template bundle.
	PhaseFinal Phase = "final"
)

// Applicability says when a bundle is part of a plan.
type Applicability string

const (
	// Always applies to every table.
	Always Applicability = "always"
	// Classified applies only when the taxonomy classifier selected the bundle.
	Classified Applicability = "classified"
)

// Bundle is an ordered, named set of column rules.
type Bundle struct {
	Name string
	// Stage is the label reported when the bundle fails, e.g. "basic" or "human template".
	Stage   string
	Phase   Phase
	Applies Applicability
	Rules   []ColumnRule
}

// Applicable reports whether b belongs to the plan for the given classifier selection.
func (b *Bundle) Applicable(selected map[string]struct{}) bool {
	switch b.Applies {
	case Always:
		return true
	case Classified:
		_, ok := selected[b.Name]
		return ok
	}
	return false
}

// Validate runs every rule of b over t, in rule order.
func (b *Bundle) Validate(t *sdrf.Table) []Diagnostic {
	var out []Diagnostic
	for _, r := range b.Rules {
		out = append(out, r.Evaluate(t)...)
	}
	return out
}

// Columns returns the column names of b split by optionality.
func (b *Bundle) Columns() (mandatory, optional []string) {
	for _, r := range b.Rules {
		if r.Optional {
			optional = append(optional, r.Name)
			continue
		}
		mandatory = append(mandatory, r.Name)
	}
	return mandatory, optional
}
