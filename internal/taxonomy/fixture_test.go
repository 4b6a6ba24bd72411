package taxonomy_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/bigbio/sdrf-validate/internal/schema"
	"github.com/bigbio/sdrf-validate/internal/taxonomy"
	"github.com/bigbio/sdrf-validate/pkg/mockols"
	"github.com/bigbio/sdrf-validate/pkg/ols"
)

// TestResolve_TaxonomyFixture resolves organisms through the HTTP client against
// the mock service loaded with the fixture shipped for cmd/mock-ols.
func TestResolve_TaxonomyFixture(t *testing.T) {
	f, err := os.Open(filepath.Join("..", "..", "testdata", "taxonomy.yaml"))
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer func() {
		_ = f.Close()
	}()
	terms, err := mockols.LoadFixture(f)
	if err != nil {
		t.Fatalf("load fixture: %v", err)
	}

	ts := httptest.NewServer(mockols.New(terms...).Handler())
	t.Cleanup(ts.Close)
	client, err := ols.NewClient(ts.URL, ols.Options{PageSize: 3})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	c := taxonomy.New(client, taxonomy.Options{})

	tests := []struct {
		organism string
		outcome  taxonomy.Outcome
		bundle   string
	}{
		{organism: "Homo sapiens", outcome: taxonomy.Resolved, bundle: schema.BundleHuman},
		{organism: "Mus musculus", outcome: taxonomy.Resolved, bundle: schema.BundleVertebrates},
		{organism: "rat", outcome: taxonomy.Resolved, bundle: schema.BundleVertebrates},
		{organism: "NT=Danio rerio;AC=NCBITaxon:7955", outcome: taxonomy.Resolved, bundle: schema.BundleVertebrates},
		{organism: "Drosophila melanogaster", outcome: taxonomy.Resolved, bundle: schema.BundleNonVertebrates},
		{organism: "Caenorhabditis elegans", outcome: taxonomy.Resolved, bundle: schema.BundleNonVertebrates},
		{organism: "thale cress", outcome: taxonomy.Resolved, bundle: schema.BundlePlants},
		{organism: "Saccharomyces cerevisiae", outcome: taxonomy.Resolved, bundle: ""},
		{organism: "Escherichia coli", outcome: taxonomy.Resolved, bundle: ""},
		{organism: "Unobtainium grandis", outcome: taxonomy.NoMatch, bundle: ""},
	}
	for _, tt := range tests {
		t.Run(tt.organism, func(t *testing.T) {
			m, err := c.Resolve(context.Background(), tt.organism)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if m.Outcome != tt.outcome || m.Bundle != tt.bundle {
				t.Fatalf("got outcome=%s bundle=%q, want outcome=%s bundle=%q", m.Outcome, m.Bundle, tt.outcome, tt.bundle)
			}
		})
	}
}
