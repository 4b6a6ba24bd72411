// Package validate runs the bundle plan of a table: the structural bundle, the
// classified organism and cell-line bundles, then the final bundles.
package validate

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/bigbio/sdrf-validate/internal/report"
	"github.com/bigbio/sdrf-validate/internal/schema"
	"github.com/bigbio/sdrf-validate/internal/sdrf"
	"github.com/bigbio/sdrf-validate/internal/taxonomy"
	"go.uber.org/zap"
)

// Classifier selects the classified bundles of a table.
type Classifier interface {
	Classify(ctx context.Context, t *sdrf.Table) (taxonomy.Result, error)
}

// Engine validates tables against a bundle registry.
type Engine struct {
	Registry   *schema.Registry
	Classifier Classifier
	// StopOnBasicFailure skips classification and every later bundle when a
	// structural bundle reports an ERROR.
	StopOnBasicFailure bool
	Logger             *zap.Logger
}

// New returns an engine that stops after a failed structural bundle.
func New(reg *schema.Registry, c Classifier, log *zap.Logger) *Engine {
	return &Engine{Registry: reg, Classifier: c, StopOnBasicFailure: true, Logger: log}
}

// PanicError is returned when a rule or the classifier panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic during validation: %v", e.Value)
}

// ValidateFile loads path and validates it. Load failures are reported on the
// result with stage "parse"; other failures with stage "internal". The returned
// error is non-nil only when ctx was cancelled.
func (e *Engine) ValidateFile(ctx context.Context, path string) (report.FileResult, error) {
	t, err := sdrf.Load(path)
	if err != nil {
		return report.FileResult{Path: path, Err: err, Stage: report.StageParse}, nil
	}
	res, err := e.ValidateTable(ctx, t)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return report.FileResult{}, ctxErr
		}
		return report.FileResult{Path: path, Err: err, Stage: report.StageInternal}, nil
	}
	return res, nil
}

// ValidateTable runs the plan for t and returns the diagnostics of every bundle
// that ran. Panics in rules or the classifier are recovered into a *PanicError.
func (e *Engine) ValidateTable(ctx context.Context, t *sdrf.Table) (res report.FileResult, err error) {
	log := e.logger().With(zap.String("file", t.Path()))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = report.FileResult{}
			err = &PanicError{Value: r, Stack: debug.Stack()}
			log.Error("validation panicked", zap.Any("panic", r))
		}
	}()

	res.Path = t.Path()

	structural := e.Registry.Plan(nil)
	for _, b := range structural {
		if b.Phase != schema.PhaseStructural {
			continue
		}
		res.Bundles = append(res.Bundles, runBundle(b, t))
	}
	if e.StopOnBasicFailure && failed(res.Bundles) {
		log.Debug("structural validation failed, skipping remaining bundles", zap.Duration("duration", time.Since(start)))
		return res, nil
	}

	var selected []string
	if e.Classifier != nil {
		cls, err := e.Classifier.Classify(ctx, t)
		if err != nil {
			return report.FileResult{}, fmt.Errorf("classify %s: %w", t.Name(), err)
		}
		selected = cls.Bundles
	}
	res.Selected = selected

	for _, b := range e.Registry.Plan(selected) {
		if b.Phase == schema.PhaseStructural {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report.FileResult{}, err
		}
		res.Bundles = append(res.Bundles, runBundle(b, t))
	}

	log.Debug("table validated",
		zap.Strings("bundles", selected),
		zap.Stringer("severity", res.Severity()),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func runBundle(b *schema.Bundle, t *sdrf.Table) report.BundleResult {
	return report.BundleResult{Bundle: b.Name, Stage: b.Stage, Diagnostics: b.Validate(t)}
}

func failed(bundles []report.BundleResult) bool {
	for _, b := range bundles {
		if b.Failed() {
			return true
		}
	}
	return false
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}
