package taxonomy_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bigbio/sdrf-validate/internal/schema"
	"github.com/bigbio/sdrf-validate/internal/sdrf"
	"github.com/bigbio/sdrf-validate/internal/taxonomy"
	"github.com/bigbio/sdrf-validate/pkg/ols"
	"github.com/bigbio/sdrf-validate/pkg/pipeline/core"
	"github.com/google/go-cmp/cmp"
)

// fakeOntology serves a fixed taxonomy keyed by lowercase label.
type fakeOntology struct {
	ancestors map[string][]string

	searches  atomic.Int32
	ancestry  atomic.Int32
	failTimes atomic.Int32
	failErr   error
}

func newFake() *fakeOntology {
	return &fakeOntology{ancestors: map[string][]string{
		"mus musculus":             {"Mus", "Gnathostomata <vertebrates>", "Metazoa"},
		"drosophila melanogaster":  {"Drosophila", "Insecta", "Metazoa"},
		"arabidopsis thaliana":     {"Brassicaceae", "Viridiplantae"},
		"saccharomyces cerevisiae": {"Fungi", "Eukaryota"},
	}}
}

func (f *fakeOntology) fail() error {
	if f.failTimes.Load() > 0 {
		f.failTimes.Add(-1)
		return f.failErr
	}
	return nil
}

func (f *fakeOntology) BestMatch(_ context.Context, term, _ string) (ols.Term, bool, error) {
	f.searches.Add(1)
	if err := f.fail(); err != nil {
		return ols.Term{}, false, err
	}
	if _, ok := f.ancestors[term]; !ok {
		return ols.Term{}, false, nil
	}
	return ols.Term{IRI: "iri:" + term, Label: term}, true, nil
}

func (f *fakeOntology) Ancestors(_ context.Context, _, iri string) ([]ols.Term, error) {
	f.ancestry.Add(1)
	if err := f.fail(); err != nil {
		return nil, err
	}
	var out []ols.Term
	for _, label := range f.ancestors[strings.TrimPrefix(iri, "iri:")] {
		out = append(out, ols.Term{Label: label})
	}
	return out, nil
}

func (f *fakeOntology) calls() int {
	return int(f.searches.Load() + f.ancestry.Load())
}

func table(t *testing.T, in string) *sdrf.Table {
	t.Helper()
	tbl, err := sdrf.Parse(strings.NewReader(in), "t.sdrf.tsv")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return tbl
}

func TestNormalizeOrganism(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Homo sapiens", want: "homo sapiens"},
		{in: "  HOMO SAPIENS ", want: "homo sapiens"},
		{in: "NT=Homo sapiens;AC=NCBITaxon:9606", want: "homo sapiens"},
		{in: "AC=NCBITaxon:10090;NT=Mus musculus", want: "mus musculus"},
		{in: "Straße", want: "strasse"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		if got := taxonomy.NormalizeOrganism(tt.in); got != tt.want {
			t.Fatalf("NormalizeOrganism(%q)=%q want=%q", tt.in, got, tt.want)
		}
	}
}

func TestClassify_HumanNeedsNoLookup(t *testing.T) {
	fake := newFake()
	c := taxonomy.New(fake, taxonomy.Options{})

	tbl := table(t, "characteristics[organism]\n"+
		"Homo sapiens\n"+
		"NT=homo sapiens;AC=NCBITaxon:9606\n"+
		"HOMO SAPIENS\n")
	res, err := c.Classify(context.Background(), tbl)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if diff := cmp.Diff([]string{schema.BundleHuman}, res.Bundles); diff != "" {
		t.Fatalf("bundles mismatch (-want +got):\n%s", diff)
	}
	if n := fake.calls(); n != 0 {
		t.Fatalf("expected zero ontology calls, got %d", n)
	}
}

func TestClassify_AncestryPriority(t *testing.T) {
	tests := []struct {
		organism string
		want     []string
	}{
		{organism: "Mus musculus", want: []string{schema.BundleVertebrates}},
		{organism: "Drosophila melanogaster", want: []string{schema.BundleNonVertebrates}},
		{organism: "Arabidopsis thaliana", want: []string{schema.BundlePlants}},
		{organism: "Saccharomyces cerevisiae", want: nil},
		{organism: "unknown bug", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.organism, func(t *testing.T) {
			c := taxonomy.New(newFake(), taxonomy.Options{})
			res, err := c.Classify(context.Background(), table(t, "characteristics[organism]\n"+tt.organism+"\n"))
			if err != nil {
				t.Fatalf("classify: %v", err)
			}
			if diff := cmp.Diff(tt.want, res.Bundles); diff != "" {
				t.Fatalf("bundles mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClassify_CellLinesAndOrder(t *testing.T) {
	fake := newFake()
	c := taxonomy.New(fake, taxonomy.Options{})

	tbl := table(t, "characteristics[organism]\tcharacteristics[cultured cell]\n"+
		"Mus musculus\tnot applicable\n"+
		"Drosophila melanogaster\tS2\n"+
		"Homo sapiens\tNot Available\n"+
		"Mus musculus\tnot applicable\n")
	res, err := c.Classify(context.Background(), tbl)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	want := []string{schema.BundleCellLines, schema.BundleVertebrates, schema.BundleHuman}
	if diff := cmp.Diff(want, res.Bundles); diff != "" {
		t.Fatalf("bundles mismatch (-want +got):\n%s", diff)
	}
	// The drosophila row is a cell line and is never looked up.
	if got := fake.searches.Load(); got != 1 {
		t.Fatalf("expected 1 search, got %d", got)
	}
}

func TestClassify_NoCellLineWhenAllPlaceholders(t *testing.T) {
	c := taxonomy.New(newFake(), taxonomy.Options{})
	tbl := table(t, "characteristics[organism]\tcharacteristics[cultured cell]\n"+
		"Homo sapiens\tnot applicable\n")
	res, err := c.Classify(context.Background(), tbl)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if diff := cmp.Diff([]string{schema.BundleHuman}, res.Bundles); diff != "" {
		t.Fatalf("bundles mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_Memoized(t *testing.T) {
	fake := newFake()
	c := taxonomy.New(fake, taxonomy.Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tbl := table(t, "characteristics[organism]\nMus musculus\nNT=mus musculus;AC=NCBITaxon:10090\n")
		if _, err := c.Classify(ctx, tbl); err != nil {
			t.Fatalf("classify: %v", err)
		}
	}
	if got := fake.searches.Load(); got != 1 {
		t.Fatalf("expected 1 search across tables, got %d", got)
	}
	if got := fake.ancestry.Load(); got != 1 {
		t.Fatalf("expected 1 ancestors call across tables, got %d", got)
	}
}

func TestResolve_ConcurrentCallsShareLookup(t *testing.T) {
	fake := newFake()
	c := taxonomy.New(fake, taxonomy.Options{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := c.Resolve(context.Background(), "Arabidopsis thaliana")
			if err != nil || m.Bundle != schema.BundlePlants {
				t.Errorf("resolve: bundle=%q err=%v", m.Bundle, err)
			}
		}()
	}
	wg.Wait()
	if got := fake.searches.Load(); got != 1 {
		t.Fatalf("expected 1 search, got %d", got)
	}
}

func TestResolve_RetriesTransientFailures(t *testing.T) {
	fake := newFake()
	fake.failErr = core.Transient(errors.New("503"))
	fake.failTimes.Store(4)
	c := taxonomy.New(fake, taxonomy.Options{})

	m, err := c.Resolve(context.Background(), "Mus musculus")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.Outcome != taxonomy.Resolved || m.Bundle != schema.BundleVertebrates {
		t.Fatalf("unexpected match %+v", m)
	}
	if got := fake.searches.Load(); got != 5 {
		t.Fatalf("expected 5 search attempts, got %d", got)
	}
}

func TestResolve_ExhaustionIsUnavailable(t *testing.T) {
	fake := newFake()
	fake.failErr = core.Transient(errors.New("503"))
	// Search succeeds on its 5th attempt, then every ancestors attempt fails.
	fake.failTimes.Store(4 + 5)
	c := taxonomy.New(fake, taxonomy.Options{})

	tbl := table(t, "characteristics[organism]\nMus musculus\n")
	res, err := c.Classify(context.Background(), tbl)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(res.Bundles) != 0 {
		t.Fatalf("expected no bundles, got %v", res.Bundles)
	}
	if len(res.Matches) != 1 || res.Matches[0].Outcome != taxonomy.Unavailable {
		t.Fatalf("expected an unavailable match, got %+v", res.Matches)
	}
	if got := fake.ancestry.Load(); got != 5 {
		t.Fatalf("expected 5 ancestors attempts, got %d", got)
	}
}

func TestResolve_PermanentErrorPropagates(t *testing.T) {
	fake := newFake()
	fake.failErr = errors.New("400 bad request")
	fake.failTimes.Store(1)
	c := taxonomy.New(fake, taxonomy.Options{})

	_, err := c.Resolve(context.Background(), "Mus musculus")
	if err == nil || !strings.Contains(err.Error(), "400 bad request") {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if got := fake.searches.Load(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}

	// Errors are not cached.
	m, err := c.Resolve(context.Background(), "Mus musculus")
	if err != nil || m.Bundle != schema.BundleVertebrates {
		t.Fatalf("expected recovery on the next call, bundle=%q err=%v", m.Bundle, err)
	}
}
