// Package taxonomy picks the organism and cell-line bundles that apply to a table.
//
// Organisms are resolved through an ontology service (NCBITaxon on OLS) and the
// ancestry of the best-matching term decides the bundle. Lookups are retried with
// a retry.Policy and memoized for the lifetime of a Classifier.
package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/bigbio/sdrf-validate/internal/schema"
	"github.com/bigbio/sdrf-validate/internal/sdrf"
	"github.com/bigbio/sdrf-validate/pkg/ols"
	"github.com/bigbio/sdrf-validate/pkg/pipeline/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
)

// Column names inspected by the classifier.
const (
	ColumnOrganism     = "characteristics[organism]"
	ColumnCulturedCell = "characteristics[cultured cell]"
)

// DefaultOntology is the taxonomy ontology searched for organisms.
const DefaultOntology = "ncbitaxon"

// DefaultMaxAttempts is the attempt ceiling for each ontology call.
const DefaultMaxAttempts = 5

// Ancestor labels checked in priority order; the first present wins.
var ancestorBundles = []struct {
	label  string
	bundle string
}{
	{label: "Gnathostomata <vertebrates>", bundle: schema.BundleVertebrates},
	{label: "Metazoa", bundle: schema.BundleNonVertebrates},
	{label: "Viridiplantae", bundle: schema.BundlePlants},
}

const humanOrganism = "homo sapiens"

var notCellLine = map[string]struct{}{
	"not applicable": {},
	"not available":  {},
}

var termNameRe = regexp.MustCompile(`nt=([^;]*)`)

// Ontology is the subset of the OLS client used for classification.
type Ontology interface {
	BestMatch(ctx context.Context, term, ontology string) (ols.Term, bool, error)
	Ancestors(ctx context.Context, ontology, iri string) ([]ols.Term, error)
}

// Outcome says how an organism lookup ended.
type Outcome uint8

const (
	// Resolved means the organism was looked up; Bundle may still be empty when
	// no ancestor label matched.
	Resolved Outcome = iota
	// NoMatch means the ontology had no term for the organism.
	NoMatch
	// Unavailable means the ontology kept failing transiently until retries ran out.
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Resolved:
		return "resolved"
	case NoMatch:
		return "no match"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

// Match is the classification of one normalized organism.
type Match struct {
	Organism string
	Outcome  Outcome
	// IRI of the best-matching term, empty unless the search found one.
	IRI string
	// Bundle is the selected bundle name, or "" when unresolved.
	Bundle string
}

// Result is the classification of one table.
type Result struct {
	// Bundles are ordered and de-duplicated.
	Bundles []string
	Matches []Match
}

// Options configures a Classifier.
type Options struct {
	// Ontology is the ontology searched for organisms. Empty means DefaultOntology.
	Ontology string
	// Retry wraps every ontology call. MaxAttempts <= 0 means DefaultMaxAttempts.
	Retry  retry.Policy
	Logger *zap.Logger
}

// Classifier maps organism declarations to bundle names. It is safe for
// concurrent use; results are cached per normalized organism.
type Classifier struct {
	onto     Ontology
	ontology string
	policy   retry.Policy
	log      *zap.Logger

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]Match
}

// New constructs a Classifier backed by onto.
func New(onto Ontology, opts Options) *Classifier {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ontology := strings.TrimSpace(opts.Ontology)
	if ontology == "" {
		ontology = DefaultOntology
	}
	policy := opts.Retry
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error) {
			log.Debug("ontology lookup failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		}
	}
	return &Classifier{
		onto:     onto,
		ontology: ontology,
		policy:   policy,
		log:      log,
		cache:    make(map[string]Match),
	}
}

// NormalizeOrganism case-folds raw and extracts the name of an NT=<name>;AC=<acc>
// encoded term.
func NormalizeOrganism(raw string) string {
	s := cases.Fold().String(strings.TrimSpace(raw))
	if m := termNameRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	return strings.TrimSpace(s)
}

// Classify returns the bundles selected for t.
//
// Rows declaring a cultured cell select the cell lines bundle and are left out of
// organism classification. A non-transient ontology error or a cancelled ctx is
// returned as an error.
func (c *Classifier) Classify(ctx context.Context, t *sdrf.Table) (Result, error) {
	var res Result
	seen := make(map[string]struct{})
	add := func(bundle string) {
		if bundle == "" {
			return
		}
		if _, dup := seen[bundle]; dup {
			return
		}
		seen[bundle] = struct{}{}
		res.Bundles = append(res.Bundles, bundle)
	}

	organisms := t
	if t.Has(ColumnCulturedCell) {
		cells := t.Column(ColumnCulturedCell)
		isCellLine := func(row int) bool {
			_, placeholder := notCellLine[cases.Fold().String(strings.TrimSpace(cells[row]))]
			return !placeholder
		}
		for row := range cells {
			if isCellLine(row) {
				add(schema.BundleCellLines)
				organisms = t.Filter(func(row int) bool { return !isCellLine(row) })
				break
			}
		}
	}

	matched := make(map[string]struct{})
	for _, raw := range organisms.Distinct(ColumnOrganism) {
		org := NormalizeOrganism(raw)
		if org == "" {
			continue
		}
		if _, dup := matched[org]; dup {
			continue
		}
		matched[org] = struct{}{}

		m, err := c.Resolve(ctx, org)
		if err != nil {
			return Result{}, err
		}
		res.Matches = append(res.Matches, m)
		add(m.Bundle)
	}
	return res, nil
}

// Resolve classifies one organism, normalizing it first. Results are memoized and
// concurrent calls for the same organism share one lookup.
func (c *Classifier) Resolve(ctx context.Context, organism string) (Match, error) {
	org := NormalizeOrganism(organism)
	if org == humanOrganism {
		return Match{Organism: org, Outcome: Resolved, Bundle: schema.BundleHuman}, nil
	}

	c.mu.Lock()
	m, ok := c.cache[org]
	c.mu.Unlock()
	if ok {
		return m, nil
	}

	v, err, _ := c.group.Do(org, func() (any, error) {
		c.mu.Lock()
		m, ok := c.cache[org]
		c.mu.Unlock()
		if ok {
			return m, nil
		}
		m, err := c.lookup(ctx, org)
		if err != nil {
			return Match{}, err
		}
		c.mu.Lock()
		c.cache[org] = m
		c.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return Match{}, err
	}
	return v.(Match), nil
}

func (c *Classifier) lookup(ctx context.Context, org string) (Match, error) {
	m := Match{Organism: org}
	log := c.log.With(zap.String("organism", org))

	type hit struct {
		term ols.Term
		ok   bool
	}
	h, err := retry.Do(ctx, c.policy, func(ctx context.Context) (hit, error) {
		term, ok, err := c.onto.BestMatch(ctx, org, c.ontology)
		return hit{term: term, ok: ok}, err
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			log.Warn(fmt.Sprintf("could not search the ontology for %s", org), zap.Error(err))
			m.Outcome = Unavailable
			return m, nil
		}
		return Match{}, fmt.Errorf("search %s for %q: %w", c.ontology, org, err)
	}
	if !h.ok {
		log.Debug("no ontology term matches organism", zap.String("ontology", c.ontology))
		m.Outcome = NoMatch
		return m, nil
	}
	m.IRI = h.term.IRI

	ancestors, err := retry.Do(ctx, c.policy, func(ctx context.Context) ([]ols.Term, error) {
		return c.onto.Ancestors(ctx, c.ontology, h.term.IRI)
	})
	if err != nil {
		if !errors.Is(err, retry.ErrExhausted) {
			return Match{}, fmt.Errorf("ancestors of %q (%s): %w", org, h.term.IRI, err)
		}
		log.Warn(fmt.Sprintf("could not resolve ancestors for %s", org), zap.String("iri", h.term.IRI), zap.Error(err))
		m.Outcome = Unavailable
		return m, nil
	}

	m.Outcome = Resolved
	m.Bundle = bundleForAncestors(ancestors)
	if m.Bundle == "" {
		log.Debug("organism ancestry selects no bundle", zap.String("iri", h.term.IRI))
	}
	return m, nil
}

func bundleForAncestors(ancestors []ols.Term) string {
	labels := make(map[string]struct{}, len(ancestors))
	for _, a := range ancestors {
		labels[cases.Fold().String(strings.TrimSpace(a.Label))] = struct{}{}
	}
	for _, ab := range ancestorBundles {
		if _, ok := labels[cases.Fold().String(ab.label)]; ok {
			return ab.bundle
		}
	}
	return ""
}
