package validate_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bigbio/sdrf-validate/internal/report"
	"github.com/bigbio/sdrf-validate/internal/schema"
	"github.com/bigbio/sdrf-validate/internal/sdrf"
	"github.com/bigbio/sdrf-validate/internal/sdrf/sdrftest"
	"github.com/bigbio/sdrf-validate/internal/taxonomy"
	"github.com/bigbio/sdrf-validate/internal/validate"
	"github.com/google/go-cmp/cmp"
)

type fixedClassifier struct {
	bundles []string
	err     error
	calls   int
}

func (f *fixedClassifier) Classify(context.Context, *sdrf.Table) (taxonomy.Result, error) {
	f.calls++
	return taxonomy.Result{Bundles: f.bundles}, f.err
}

type panicClassifier struct{}

func (panicClassifier) Classify(context.Context, *sdrf.Table) (taxonomy.Result, error) {
	panic("rule exploded")
}

func bundleNames(r report.FileResult) []string {
	var out []string
	for _, b := range r.Bundles {
		out = append(out, b.Bundle)
	}
	return out
}

func TestValidateTable_CleanHumanTable(t *testing.T) {
	cls := &fixedClassifier{bundles: []string{schema.BundleHuman}}
	eng := validate.New(schema.Builtin(), cls, nil)

	tbl := sdrftest.Table(t, "a.sdrf.tsv", sdrftest.Columns, sdrftest.Valid("Homo sapiens"))
	res, err := eng.ValidateTable(context.Background(), tbl)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if diff := cmp.Diff([]string{"default", "human", "mass spectrometry"}, bundleNames(res)); diff != "" {
		t.Fatalf("bundle order mismatch (-want +got):\n%s", diff)
	}
	if sev := res.Severity(); sev != schema.OK {
		t.Fatalf("expected OK, got %s: %v", sev, res.Diagnostics())
	}
}

func TestValidateTable_BasicFailureStops(t *testing.T) {
	cls := &fixedClassifier{bundles: []string{schema.BundleHuman}}
	eng := validate.New(schema.Builtin(), cls, nil)

	cols := sdrftest.Without(sdrftest.Columns, "assay name")
	tbl := sdrftest.Table(t, "a.sdrf.tsv", cols, sdrftest.Valid("Homo sapiens"))
	res, err := eng.ValidateTable(context.Background(), tbl)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if diff := cmp.Diff([]string{"basic"}, res.FailedStages()); diff != "" {
		t.Fatalf("failed stages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"default"}, bundleNames(res)); diff != "" {
		t.Fatalf("expected only the default bundle to run (-want +got):\n%s", diff)
	}
	if cls.calls != 0 {
		t.Fatalf("classifier must not run after a basic failure")
	}
	diags := res.Diagnostics()
	if len(diags) != 1 || !diags[0].Structural() || diags[0].Column != "assay name" {
		t.Fatalf("expected one structural diagnostic for assay name, got %v", diags)
	}
}

func TestValidateTable_BasicFailureContinuesWhenToggledOff(t *testing.T) {
	cls := &fixedClassifier{bundles: []string{schema.BundleHuman}}
	eng := validate.New(schema.Builtin(), cls, nil)
	eng.StopOnBasicFailure = false

	cols := sdrftest.Without(sdrftest.Columns, "assay name", "comment[instrument]")
	tbl := sdrftest.Table(t, "a.sdrf.tsv", cols, sdrftest.Valid("Homo sapiens"))
	res, err := eng.ValidateTable(context.Background(), tbl)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if diff := cmp.Diff([]string{"basic", "mass spectrometry"}, res.FailedStages()); diff != "" {
		t.Fatalf("failed stages mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateTable_TemplateAndMassSpecStages(t *testing.T) {
	cls := &fixedClassifier{bundles: []string{schema.BundleVertebrates, schema.BundleHuman, schema.BundleVertebrates}}
	eng := validate.New(schema.Builtin(), cls, nil)

	row := sdrftest.Valid("Mus musculus").
		With("characteristics[developmental stage]", "").
		With("comment[cleavage agent details]", "AC=MS:1001251")
	tbl := sdrftest.Table(t, "a.sdrf.tsv", sdrftest.Columns, row)
	res, err := eng.ValidateTable(context.Background(), tbl)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	want := []string{"vertebrates template", "human template", "mass spectrometry"}
	if diff := cmp.Diff(want, res.FailedStages()); diff != "" {
		t.Fatalf("failed stages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"default", "vertebrates", "human", "mass spectrometry"}, bundleNames(res)); diff != "" {
		t.Fatalf("bundle order mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateTable_WarningsOnly(t *testing.T) {
	eng := validate.New(schema.Builtin(), &fixedClassifier{bundles: []string{schema.BundleVertebrates}}, nil)

	rows := []sdrftest.Row{
		sdrftest.Valid("Mus musculus").With("characteristics[age]", "8 weeks"),
		sdrftest.Valid("Mus musculus"),
		sdrftest.Valid("Mus musculus").With("characteristics[age]", "10 weeks"),
	}
	res, err := eng.ValidateTable(context.Background(), sdrftest.Table(t, "a.sdrf.tsv", sdrftest.Columns, rows...))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if sev := res.Severity(); sev != schema.Warning {
		t.Fatalf("expected WARNING, got %s: %v", sev, res.Diagnostics())
	}
	if len(res.FailedStages()) != 0 {
		t.Fatalf("warnings must not fail a stage: %v", res.FailedStages())
	}
}

func TestValidateTable_RecoversPanics(t *testing.T) {
	eng := validate.New(schema.Builtin(), panicClassifier{}, nil)
	tbl := sdrftest.Table(t, "a.sdrf.tsv", sdrftest.Columns, sdrftest.Valid("Mus musculus"))

	_, err := eng.ValidateTable(context.Background(), tbl)
	var pe *validate.PanicError
	if !errors.As(err, &pe) || pe.Value != "rule exploded" {
		t.Fatalf("expected recovered panic, got %v", err)
	}
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()
	eng := validate.New(schema.Builtin(), &fixedClassifier{err: errors.New("ontology said 400")}, nil)
	ctx := context.Background()

	t.Run("missing file is a parse failure", func(t *testing.T) {
		res, err := eng.ValidateFile(ctx, filepath.Join(dir, "missing.sdrf.tsv"))
		if err != nil {
			t.Fatalf("validate file: %v", err)
		}
		if res.Stage != report.StageParse || !errors.Is(res.Err, sdrf.ErrSourceNotFound) {
			t.Fatalf("unexpected result: stage=%q err=%v", res.Stage, res.Err)
		}
	})

	t.Run("header only is a parse failure", func(t *testing.T) {
		path := filepath.Join(dir, "empty.sdrf.tsv")
		if err := os.WriteFile(path, []byte(sdrftest.TSV(sdrftest.Columns)), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		res, err := eng.ValidateFile(ctx, path)
		if err != nil {
			t.Fatalf("validate file: %v", err)
		}
		if diff := cmp.Diff([]string{report.StageParse}, res.FailedStages()); diff != "" {
			t.Fatalf("failed stages mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("classifier error is an internal failure", func(t *testing.T) {
		path := sdrftest.WriteFile(t, dir, "ok.sdrf.tsv", sdrftest.Columns, sdrftest.Valid("Mus musculus"))
		res, err := eng.ValidateFile(ctx, path)
		if err != nil {
			t.Fatalf("validate file: %v", err)
		}
		if res.Stage != report.StageInternal || res.Err == nil || res.Name() != "ok.sdrf.tsv" {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("cancelled context is returned", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		cancelled := validate.New(schema.Builtin(), &fixedClassifier{err: context.Canceled}, nil)
		path := sdrftest.WriteFile(t, dir, "c.sdrf.tsv", sdrftest.Columns, sdrftest.Valid("Mus musculus"))
		if _, err := cancelled.ValidateFile(cctx, path); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}
