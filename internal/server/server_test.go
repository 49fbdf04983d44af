// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelens-dev/codelens/internal/backend"
	"github.com/codelens-dev/codelens/internal/manager"
	"github.com/codelens-dev/codelens/internal/metrics"
	"github.com/codelens-dev/codelens/internal/server"
)

// stubBackend answers every Generate with a fixed outcome and remembers
// the options it was called with.
type stubBackend struct {
	name string
	err  error

	gotOpts backend.Options
}

func (s *stubBackend) Name() string                             { return s.name }
func (s *stubBackend) Available() bool                          { return true }
func (s *stubBackend) ValidateConfig(context.Context) error     { return nil }
func (s *stubBackend) Cleanup() error                           { return nil }
func (s *stubBackend) Generate(_ context.Context, _ string, _ []backend.SearchResult, opts backend.Options) (*backend.ExplanationResult, error) {
	s.gotOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	return &backend.ExplanationResult{
		Success:     true,
		Explanation: "It validates the input.",
		Model:       "gpt-4o-mini",
		BackendName: s.name,
	}, nil
}

func newTestServer(t *testing.T, backends ...backend.Backend) *server.Server {
	t.Helper()
	collector := metrics.NewCollector(metrics.Config{})
	mgr, err := manager.New(manager.Config{}, backends, collector)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, mgr)
	require.NoError(t, err)
	return srv
}

const explainBody = `{
	"query": "what does validate do",
	"results": [{"file_path": "v.go", "node_type": "function", "similarity": 0.8, "source_text": "func v() {}"}]
}`

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func getJSON(t *testing.T, h http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestNewRequiresListenAddrAndManager(t *testing.T) {
	_, err := server.New(server.Config{}, nil)
	assert.Error(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubBackend{name: "a"})

	var body struct {
		Status string `json:"status"`
	}
	rec := getJSON(t, srv.Handler(), "/health", &body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body.Status)
}

func TestExplainSuccess(t *testing.T) {
	srv := newTestServer(t, &stubBackend{name: "a"})

	rec := postJSON(t, srv.Handler(), "/api/v1/explain", explainBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res backend.ExplanationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "It validates the input.", res.Explanation)
	assert.Equal(t, "a", res.BackendName)
}

func TestExplainForwardsOptions(t *testing.T) {
	stub := &stubBackend{name: "a"}
	srv := newTestServer(t, stub)

	body := `{
		"query": "what does validate do",
		"results": [{"file_path": "v.go", "node_type": "function", "similarity": 0.8, "source_text": "func v() {}"}],
		"model": "gpt-4o",
		"max_tokens": 256,
		"max_results": 2,
		"timeout_ms": 1500
	}`
	rec := postJSON(t, srv.Handler(), "/api/v1/explain", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "gpt-4o", stub.gotOpts.Model)
	assert.Equal(t, 256, stub.gotOpts.MaxTokens)
	assert.Equal(t, 2, stub.gotOpts.MaxResults)
	assert.Equal(t, 1500*time.Millisecond, stub.gotOpts.Timeout)
}

func TestExplainAllBackendsFailReturnsResultShape(t *testing.T) {
	srv := newTestServer(t,
		&stubBackend{name: "a", err: backend.Errf(backend.KindUnavailable, "a down")},
		&stubBackend{name: "b", err: backend.Errf(backend.KindUnavailable, "b down")})

	rec := postJSON(t, srv.Handler(), "/api/v1/explain", explainBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res backend.ExplanationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, string(backend.KindUnavailable))
	assert.Empty(t, res.Explanation)
}

func TestExplainSanitizesErrors(t *testing.T) {
	srv := newTestServer(t,
		&stubBackend{name: "a", err: backend.Errf(backend.KindAuthentication,
			"key sk-abcdef1234567890abcdef1234567890abcdef12 rejected")})

	rec := postJSON(t, srv.Handler(), "/api/v1/explain", explainBody)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.NotContains(t, rec.Body.String(), "sk-abcdef")
	assert.Contains(t, rec.Body.String(), "sk-***REDACTED***")
}

func TestExplainRejectsEmptyQuery(t *testing.T) {
	srv := newTestServer(t, &stubBackend{name: "a"})

	rec := postJSON(t, srv.Handler(), "/api/v1/explain", `{"query": "", "results": []}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListBackends(t *testing.T) {
	srv := newTestServer(t, &stubBackend{name: "a"}, &stubBackend{name: "b"})

	var body struct {
		Backends []struct {
			Name   string `json:"name"`
			Health struct {
				Healthy bool `json:"healthy"`
			} `json:"health"`
		} `json:"backends"`
	}
	rec := getJSON(t, srv.Handler(), "/api/v1/backends", &body)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body.Backends, 2)
	assert.Equal(t, "a", body.Backends[0].Name)
	assert.Equal(t, "b", body.Backends[1].Name)
}

func TestCompareAndFailureEndpoints(t *testing.T) {
	srv := newTestServer(t,
		&stubBackend{name: "a", err: backend.Errf(backend.KindRateLimit, "throttled")},
		&stubBackend{name: "b"})

	rec := postJSON(t, srv.Handler(), "/api/v1/explain", explainBody)
	require.Equal(t, http.StatusOK, rec.Code)

	var cmp struct {
		Backends []struct {
			BackendName   string  `json:"backend_name"`
			SuccessRate   float64 `json:"success_rate"`
			TotalRequests uint64  `json:"total_requests"`
		} `json:"backends"`
	}
	rec = getJSON(t, srv.Handler(), "/api/v1/metrics/compare", &cmp)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, cmp.Backends, 2)
	assert.Equal(t, "a", cmp.Backends[0].BackendName)
	assert.Equal(t, float64(0), cmp.Backends[0].SuccessRate)
	assert.Equal(t, "b", cmp.Backends[1].BackendName)
	assert.Equal(t, float64(100), cmp.Backends[1].SuccessRate)

	var failures struct {
		Failures map[string]uint64 `json:"failures"`
	}
	rec = getJSON(t, srv.Handler(), "/api/v1/metrics/failures?backend=a", &failures)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(1), failures.Failures[string(backend.KindRateLimit)])
}
