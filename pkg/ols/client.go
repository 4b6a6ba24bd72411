// Package ols is a small client for the EBI Ontology Lookup Service (OLS) REST API.
//
// Only the two endpoints needed for taxonomy classification are implemented:
// term search and term ancestors.
package ols

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bigbio/sdrf-validate/pkg/pipeline/core"
)

// DefaultBaseURL is the public OLS4 deployment.
const DefaultBaseURL = "https://www.ebi.ac.uk/ols4"

const (
	defaultPageSize = 100
	// maxPages bounds ancestor paging against servers that misreport totals.
	maxPages = 100
)

// Term is an ontology term as returned by OLS.
type Term struct {
	IRI   string `json:"iri"`
	Label string `json:"label"`
	OBOID string `json:"obo_id,omitempty"`
}

// Options configures a Client. The zero value is usable.
type Options struct {
	// Token is sent as a bearer token when set. Public OLS does not need one.
	Token string
	// DefaultCAPath optionally points at a PEM bundle used as the TLS trust store.
	DefaultCAPath string
	// Timeout bounds a whole HTTP exchange. Zero means 60s.
	Timeout time.Duration
	// PageSize is the ancestors page size. Zero means 100.
	PageSize int
}

// Client talks to one OLS deployment.
type Client struct {
	baseURL  *url.URL
	token    string
	pageSize int
	http     *http.Client
}

// NewClient constructs a client for an OLS base URL such as "https://www.ebi.ac.uk/ols4".
func NewClient(baseURL string, opts Options) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	hc, err := newHTTPClient(opts.DefaultCAPath, opts.Timeout)
	if err != nil {
		return nil, err
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Client{
		baseURL:  base,
		token:    strings.TrimSpace(opts.Token),
		pageSize: pageSize,
		http:     hc,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("ols base URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse ols base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("ols base URL must include a host (got %q)", raw)
	}
	// Ensure the base path ends with a slash so ResolveReference treats it as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func newHTTPClient(defaultCAPath string, timeout time.Duration) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if strings.TrimSpace(defaultCAPath) != "" {
		b, err := os.ReadFile(strings.TrimSpace(defaultCAPath))
		if err != nil {
			return nil, fmt.Errorf("read DEFAULT_CA_PATH file: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse DEFAULT_CA_PATH PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

type searchResponse struct {
	Response struct {
		NumFound int    `json:"numFound"`
		Docs     []Term `json:"docs"`
	} `json:"response"`
}

// BestMatch returns the top search hit for term in ontology. ok is false when
// the search has no hits.
func (c *Client) BestMatch(ctx context.Context, term, ontology string) (Term, bool, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return Term{}, false, fmt.Errorf("search term is required")
	}

	q := url.Values{}
	q.Set("q", term)
	if o := strings.TrimSpace(ontology); o != "" {
		q.Set("ontology", strings.ToLower(o))
	}
	q.Set("rows", "1")
	q.Set("exact", "false")

	u := c.resolve("api/search")
	u.RawQuery = q.Encode()

	var out searchResponse
	if err := c.getJSON(ctx, "search", u, &out); err != nil {
		return Term{}, false, err
	}
	if len(out.Response.Docs) == 0 {
		return Term{}, false, nil
	}
	return out.Response.Docs[0], true, nil
}

type ancestorsResponse struct {
	Embedded struct {
		Terms []Term `json:"terms"`
	} `json:"_embedded"`
	Page struct {
		Size          int `json:"size"`
		TotalElements int `json:"totalElements"`
		TotalPages    int `json:"totalPages"`
		Number        int `json:"number"`
	} `json:"page"`
}

// Ancestors returns every ancestor of the term identified by iri, following pagination.
func (c *Client) Ancestors(ctx context.Context, ontology, iri string) ([]Term, error) {
	ontology = strings.ToLower(strings.TrimSpace(ontology))
	iri = strings.TrimSpace(iri)
	if ontology == "" {
		return nil, fmt.Errorf("ontology is required")
	}
	if iri == "" {
		return nil, fmt.Errorf("term iri is required")
	}

	// OLS expects the IRI URL-encoded twice inside the path.
	ref, err := url.Parse(fmt.Sprintf(
		"api/ontologies/%s/terms/%s/ancestors",
		url.PathEscape(ontology),
		url.QueryEscape(url.QueryEscape(iri)),
	))
	if err != nil {
		return nil, fmt.Errorf("build ancestors url: %w", err)
	}

	var terms []Term
	for page := 0; page < maxPages; page++ {
		u := c.baseURL.ResolveReference(ref)
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("size", strconv.Itoa(c.pageSize))
		u.RawQuery = q.Encode()

		var out ancestorsResponse
		if err := c.getJSON(ctx, "ancestors", u, &out); err != nil {
			return nil, err
		}
		terms = append(terms, out.Embedded.Terms...)
		if len(out.Embedded.Terms) == 0 || out.Page.Number+1 >= out.Page.TotalPages {
			break
		}
	}
	return terms, nil
}

// getJSON performs a GET and decodes a 2xx JSON body into out.
//
// Errors a retry may fix (429, 5xx, transport failures) are wrapped in
// *core.TransientError; everything else is returned as-is.
func (c *Client) getJSON(ctx context.Context, op string, u *url.URL, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		return core.Transient(fmt.Errorf("ols %s: %w", op, err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.Transient(fmt.Errorf("ols %s: read body: %w", op, err))
	}
	if resp.StatusCode/100 != 2 {
		herr := newHTTPError(op, resp, b)
		if herr.Temporary() {
			return core.Transient(herr)
		}
		return herr
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("parse %s response: %w", op, err)
	}
	return nil
}

func (c *Client) resolve(rel string) *url.URL {
	ref := &url.URL{Path: strings.TrimLeft(rel, "/")}
	return c.baseURL.ResolveReference(ref)
}
