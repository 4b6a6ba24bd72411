// Package report aggregates diagnostics into file, project and run verdicts and
// renders them for humans.
package report

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bigbio/sdrf-validate/internal/schema"
)

// Stage labels for file-level failures that are not produced by a bundle.
const (
	StageParse    = "parse"
	StageInternal = "internal"
)

// BundleResult holds the diagnostics one bundle produced for one file.
type BundleResult struct {
	Bundle      string
	Stage       string
	Diagnostics []schema.Diagnostic
}

// Failed reports whether the bundle produced an ERROR.
func (b BundleResult) Failed() bool { return schema.HasErrors(b.Diagnostics) }

// FileResult is the validation outcome of one file.
type FileResult struct {
	Path string
	// Selected lists the classified bundles in resolution order.
	Selected []string
	// Bundles are in execution order.
	Bundles []BundleResult

	// Err is set when the file could not be validated at all; Stage labels it.
	Err   error
	Stage string
}

// Name returns the base name of the file.
func (r FileResult) Name() string { return filepath.Base(r.Path) }

// Diagnostics returns every diagnostic in bundle execution order.
func (r FileResult) Diagnostics() []schema.Diagnostic {
	var out []schema.Diagnostic
	for _, b := range r.Bundles {
		out = append(out, b.Diagnostics...)
	}
	return out
}

// Severity is the worst severity of the file; a file-level error counts as ERROR.
func (r FileResult) Severity() schema.Severity {
	if r.Err != nil {
		return schema.Error
	}
	sev := schema.OK
	for _, b := range r.Bundles {
		sev = schema.Worst(sev, schema.MaxSeverity(b.Diagnostics))
	}
	return sev
}

// FailedStages lists the stage labels of failed bundles, plus the file-level stage.
func (r FileResult) FailedStages() []string {
	var out []string
	for _, b := range r.Bundles {
		if b.Failed() {
			out = appendUnique(out, b.Stage)
		}
	}
	if r.Err != nil {
		stage := r.Stage
		if stage == "" {
			stage = StageInternal
		}
		out = appendUnique(out, stage)
	}
	return out
}

// Outcome distinguishes projects without input files from validated ones.
type Outcome uint8

const (
	Validated Outcome = iota
	// NotFound is the source-not-found outcome: the project has no SDRF file.
	// It renders as "SDRF file not found".
	NotFound
)

// ProjectStatus folds the file results of one project.
type ProjectStatus struct {
	Project  string
	Outcome  Outcome
	Severity schema.Severity
	// FailedStages, FailedFiles and Bundles keep first-seen order.
	FailedStages []string
	FailedFiles  []string
	Bundles      []string
	Files        int
}

// Add folds r into the project status.
func (p *ProjectStatus) Add(r FileResult) {
	p.Files++
	p.Severity = schema.Worst(p.Severity, r.Severity())
	for _, b := range r.Selected {
		p.Bundles = appendUnique(p.Bundles, b)
	}
	stages := r.FailedStages()
	for _, s := range stages {
		p.FailedStages = appendUnique(p.FailedStages, s)
	}
	if len(stages) > 0 {
		p.FailedFiles = appendUnique(p.FailedFiles, r.Name())
	}
}

// Failed reports whether any file failed a stage.
func (p ProjectStatus) Failed() bool { return len(p.FailedStages) > 0 }

// Text renders the one-line project status, without the project name.
func (p ProjectStatus) Text() string {
	if p.Outcome == NotFound {
		return "SDRF file not found"
	}
	if p.Failed() {
		return fmt.Sprintf("Failed %s validation (%s)", strings.Join(p.FailedStages, ", "), strings.Join(p.FailedFiles, ", "))
	}
	bundles := "default"
	if len(p.Bundles) > 0 {
		bundles = strings.Join(p.Bundles, ", ")
	}
	result := "OK"
	if p.Severity == schema.Warning {
		result = "OK (with warnings)"
	}
	return fmt.Sprintf("[%s template]\t%s", bundles, result)
}

// Summary counts project verdicts across a run.
type Summary struct {
	// Total is the number of projects scheduled; Checked how many completed.
	Total    int
	Checked  int
	Errors   int
	Warnings int
}

// Add counts a completed project.
func (s *Summary) Add(p ProjectStatus) {
	s.Checked++
	if p.Outcome == NotFound {
		return
	}
	switch {
	case p.Failed() || p.Severity == schema.Error:
		s.Errors++
	case p.Severity == schema.Warning:
		s.Warnings++
	}
}

// Line renders the final summary line.
func (s Summary) Line() string {
	return fmt.Sprintf("Total: %d of %d projects checked, %d had validation errors, %d had validation warnings.",
		s.Checked, s.Total, s.Errors, s.Warnings)
}

// ExitCode is the number of projects with errors, capped at 255 so it never wraps to 0.
func (s Summary) ExitCode() int {
	return min(s.Errors, 255)
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
