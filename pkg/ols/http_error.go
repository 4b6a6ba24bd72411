package ols

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bigbio/sdrf-validate/pkg/pipeline/redact"
)

// errorEnvelope is the Spring error body returned by OLS.
// Real responses may include additional fields; we ignore them.
type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

// HTTPError is a sanitized summary of a non-2xx OLS API response.
//
// Important: do not include raw response bodies here (can leak tokens).
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	ErrorName  string
	Message    string

	// Snippet is a redacted, truncated hint for non-JSON responses.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "ols http error"
	}
	parts := []string{
		fmt.Sprintf("ols api error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if strings.TrimSpace(e.ErrorName) != "" {
		parts = append(parts, "error="+strings.TrimSpace(e.ErrorName))
	}
	if strings.TrimSpace(e.Message) != "" {
		parts = append(parts, "message="+strconv.Quote(strings.TrimSpace(e.Message)))
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

// Temporary reports whether retrying the same request may succeed.
func (e *HTTPError) Temporary() bool {
	if e == nil {
		return false
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout || e.StatusCode >= 500
}

func newHTTPError(op string, resp *http.Response, body []byte) *HTTPError {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}

	// Best effort: parse the error envelope.
	var env errorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		h.ErrorName = strings.TrimSpace(env.Error)
		h.Message = redact.Secrets(strings.TrimSpace(env.Message))
		if h.ErrorName != "" || h.Message != "" {
			return h
		}
	}

	// Fallback: include a small, redacted hint only.
	h.Snippet = redact.Snippet(body, 256)
	return h
}
