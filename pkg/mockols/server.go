// Package mockols serves a minimal OLS-like search and ancestors API from an
// in-memory taxonomy, for tests and local runs without network access.
package mockols

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Term is one taxonomy entry. Ancestors lists labels, nearest first.
type Term struct {
	IRI       string   `yaml:"iri"`
	Label     string   `yaml:"label"`
	Synonyms  []string `yaml:"synonyms,omitempty"`
	Ancestors []string `yaml:"ancestors,omitempty"`
}

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
	Query  string
}

// Server implements the OLS endpoints used by the ontology client.
type Server struct {
	mu      sync.Mutex
	terms   []Term
	byIRI   map[string]int
	byLabel map[string]int
	calls   []Call

	expectedAuthorization string

	failRemaining int
	failStatus    int
}

// New constructs a server holding terms.
func New(terms ...Term) *Server {
	s := &Server{
		byIRI:   make(map[string]int),
		byLabel: make(map[string]int),
	}
	for _, t := range terms {
		s.AddTerm(t)
	}
	return s
}

// AddTerm registers t, replacing any term with the same IRI.
func (s *Server) AddTerm(t Term) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.IRI == "" {
		t.IRI = "http://purl.obolibrary.org/obo/MOCK_" + strings.ReplaceAll(strings.TrimSpace(t.Label), " ", "_")
	}
	idx, ok := s.byIRI[t.IRI]
	if ok {
		s.terms[idx] = t
	} else {
		idx = len(s.terms)
		s.terms = append(s.terms, t)
		s.byIRI[t.IRI] = idx
	}
	s.byLabel[labelKey(t.Label)] = idx
	for _, syn := range t.Synonyms {
		if _, taken := s.byLabel[labelKey(syn)]; !taken {
			s.byLabel[labelKey(syn)] = idx
		}
	}
}

// RequireBearerToken enforces that requests include an Authorization header matching the token.
// If token is empty, authorization is not enforced.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// FailNext makes the next n requests fail with the given HTTP status.
func (s *Server) FailNext(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 {
		n = 0
	}
	s.failRemaining = n
	s.failStatus = status
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/ontologies/", s.handleOntologies)
	return mux
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many requests hit paths starting with prefix.
func (s *Server) CallCount(prefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if strings.HasPrefix(c.Path, prefix) {
			n++
		}
	}
	return n
}

// LoadFixture reads terms from a YAML document of the form
//
//	terms:
//	  - label: Mus musculus
//	    iri: http://purl.obolibrary.org/obo/NCBITaxon_10090
//	    ancestors: [Mus, Gnathostomata <vertebrates>, Metazoa]
func LoadFixture(r io.Reader) ([]Term, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc struct {
		Terms []Term `yaml:"terms"`
	}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse fixture YAML: %w", err)
	}
	for i, t := range doc.Terms {
		if strings.TrimSpace(t.Label) == "" {
			return nil, fmt.Errorf("fixture term %d: label is required", i+1)
		}
	}
	return doc.Terms, nil
}

// begin records the call and applies auth and injected failures.
// It returns false when the response has already been written.
func (s *Server) begin(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery})
	expected := s.expectedAuthorization
	fail := 0
	if s.failRemaining > 0 {
		s.failRemaining--
		fail = s.failStatus
	}
	s.mu.Unlock()

	if expected != "" && r.Header.Get("Authorization") != expected {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid bearer token")
		return false
	}
	if fail != 0 {
		writeError(w, fail, http.StatusText(fail), "injected failure")
		return false
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "only GET is supported")
		return false
	}
	return true
}

type doc struct {
	IRI   string `json:"iri"`
	Label string `json:"label"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r) {
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "Bad Request", "q is required")
		return
	}

	var docs []doc
	if t, ok := s.search(q); ok {
		docs = append(docs, doc{IRI: t.IRI, Label: t.Label})
	}
	body := map[string]any{
		"response": map[string]any{
			"numFound": len(docs),
			"start":    0,
			"docs":     nonNil(docs),
		},
	}
	writeJSON(w, http.StatusOK, body)
}

// search prefers exact label or synonym matches, then the first label containing q.
func (s *Server) search(q string) (Term, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := labelKey(q)
	if idx, ok := s.byLabel[key]; ok {
		return s.terms[idx], true
	}
	for _, t := range s.terms {
		if strings.Contains(labelKey(t.Label), key) {
			return t, true
		}
	}
	return Term{}, false
}

func (s *Server) handleOntologies(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r) {
		return
	}

	// /api/ontologies/{ontology}/terms/{iri, encoded twice}/ancestors
	rest := strings.TrimPrefix(r.URL.Path, "/api/ontologies/")
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[1] != "terms" || parts[3] != "ancestors" {
		writeError(w, http.StatusNotFound, "Not Found", "unknown endpoint")
		return
	}
	iri, err := url.QueryUnescape(parts[2])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request", "invalid term iri encoding")
		return
	}

	s.mu.Lock()
	idx, ok := s.byIRI[iri]
	var ancestors []doc
	if ok {
		for _, label := range s.terms[idx].Ancestors {
			d := doc{Label: label}
			if a, known := s.byLabel[labelKey(label)]; known {
				d.IRI = s.terms[a].IRI
			}
			ancestors = append(ancestors, d)
		}
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found", "term not found")
		return
	}

	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", 20)
	if size <= 0 {
		size = 20
	}
	totalPages := (len(ancestors) + size - 1) / size
	start := min(page*size, len(ancestors))
	end := min(start+size, len(ancestors))

	writeJSON(w, http.StatusOK, map[string]any{
		"_embedded": map[string]any{"terms": nonNil(ancestors[start:end])},
		"page": map[string]any{
			"size":          size,
			"totalElements": len(ancestors),
			"totalPages":    totalPages,
			"number":        page,
		},
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func nonNil(docs []doc) []doc {
	if docs == nil {
		return []doc{}
	}
	return docs
}

func labelKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func writeError(w http.ResponseWriter, status int, name, message string) {
	writeJSON(w, status, map[string]any{
		"status":  status,
		"error":   name,
		"message": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
