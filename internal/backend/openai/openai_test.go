// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package openai_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelens-dev/codelens/internal/backend"
	"github.com/codelens-dev/codelens/internal/backend/openai"
)

// Compile-time interface satisfaction check.
var _ backend.Backend = (*openai.Backend)(nil)

const modelsListBody = `{"object":"list","data":[{"id":"gpt-4o-mini","object":"model","created":0,"owned_by":"openai"}]}`

func completionBody(content string) string {
	return fmt.Sprintf(`{
		"id": "chatcmpl-123",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "gpt-4o-mini",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": %q}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 42, "completion_tokens": 17, "total_tokens": 59}
	}`, content)
}

// mockUpstream serves the models probe and a configurable completions
// handler.
func mockUpstream(t *testing.T, completions http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/models"):
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(modelsListBody))
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			completions(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(apiURL string) backend.Config {
	return backend.Config{
		Timeout:    5 * time.Second,
		MaxRetries: 0,
		RetryDelay: time.Millisecond,
		Variant:    backend.VariantExternal,
		External: &backend.ExternalConfig{
			APIURL:    apiURL,
			APIKey:    "test-key-not-real",
			Model:     "gpt-4o-mini",
			MaxTokens: 256,
		},
	}
}

func validatedBackend(t *testing.T, srv *httptest.Server) *openai.Backend {
	t.Helper()
	b, err := openai.New("openai-test", testConfig(srv.URL))
	require.NoError(t, err)
	require.NoError(t, b.ValidateConfig(context.Background()))
	require.True(t, b.Available())
	return b
}

func TestNewRejectsLocalVariant(t *testing.T) {
	cfg := backend.Config{
		Timeout: time.Second,
		Variant: backend.VariantLocal,
		Local:   &backend.LocalConfig{ModelName: "m", Command: []string{"runner"}},
	}

	_, err := openai.New("openai", cfg)
	require.Error(t, err)

	kind, ok := backend.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, backend.KindConfiguration, kind)
}

func TestValidateConfigSetsAvailability(t *testing.T) {
	t.Run("reachable upstream", func(t *testing.T) {
		srv := mockUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "unused", http.StatusTeapot)
		})

		b, err := openai.New("openai", testConfig(srv.URL))
		require.NoError(t, err)
		assert.False(t, b.Available(), "unvalidated backend must be unavailable")

		require.NoError(t, b.ValidateConfig(context.Background()))
		assert.True(t, b.Available())
	})

	t.Run("unreachable upstream keeps config valid", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":{"type":"server_error"}}`, http.StatusInternalServerError)
		}))
		t.Cleanup(srv.Close)

		b, err := openai.New("openai", testConfig(srv.URL))
		require.NoError(t, err)

		require.NoError(t, b.ValidateConfig(context.Background()))
		assert.False(t, b.Available())
	})
}

func TestGenerateRequiresAvailability(t *testing.T) {
	srv := mockUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(completionBody("unused")))
	})

	b, err := openai.New("openai", testConfig(srv.URL))
	require.NoError(t, err)

	_, err = b.Generate(context.Background(), "explain this",
		[]backend.SearchResult{{FilePath: "a.go", SourceText: "func a() {}"}}, backend.Options{})
	require.Error(t, err)

	kind, ok := backend.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, backend.KindUnavailable, kind)
}

func TestGenerateSuccess(t *testing.T) {
	var gotSystem, gotUser string
	srv := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		gotSystem = req.Messages[0].Content
		gotUser = req.Messages[1].Content

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("This function parses tokens.")))
	})

	b := validatedBackend(t, srv)

	res, err := b.Generate(context.Background(), "debug the parser",
		[]backend.SearchResult{{FilePath: "parser.go", NodeType: "function", Similarity: 0.9, SourceText: "func parse() {}"}},
		backend.Options{})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "This function parses tokens.", res.Explanation)
	assert.Equal(t, "gpt-4o-mini", res.Model)
	assert.Equal(t, "openai-test", res.BackendName)
	assert.Equal(t, "chatcmpl-123", res.ResponseID)
	assert.Equal(t, "stop", res.FinishReason)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 59, res.Usage.TotalTokens)

	assert.Contains(t, gotSystem, "debug")
	assert.Contains(t, gotUser, "parser.go")
	assert.Contains(t, gotUser, "Query: debug the parser")
}

func TestGenerateErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind backend.Kind
	}{
		{
			"invalid request", http.StatusBadRequest,
			`{"error":{"type":"invalid_request_error","message":"bad params"}}`,
			backend.KindConfiguration,
		},
		{
			"authentication", http.StatusUnauthorized,
			`{"error":{"type":"authentication_error","message":"bad key"}}`,
			backend.KindAuthentication,
		},
		{
			"permission", http.StatusForbidden,
			`{"error":{"type":"permission_error","message":"no access"}}`,
			backend.KindAuthentication,
		},
		{
			"rate limit", http.StatusTooManyRequests,
			`{"error":{"type":"rate_limit_error","message":"slow down"}}`,
			backend.KindRateLimit,
		},
		{
			"quota", http.StatusTooManyRequests,
			`{"error":{"type":"insufficient_quota","message":"quota exhausted"}}`,
			backend.KindRateLimit,
		},
		{
			"server error", http.StatusInternalServerError,
			`{"error":{"type":"server_error","message":"boom"}}`,
			backend.KindUnavailable,
		},
		{
			"bad gateway by status", http.StatusBadGateway,
			`{"error":{"message":"upstream gone"}}`,
			backend.KindUnavailable,
		},
		{
			"unknown 4xx falls back to network", http.StatusTeapot,
			`{"error":{"message":"weird"}}`,
			backend.KindNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := mockUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			b := validatedBackend(t, srv)

			_, err := b.Generate(context.Background(), "explain",
				[]backend.SearchResult{{FilePath: "a.go", SourceText: "func a() {}"}}, backend.Options{})
			require.Error(t, err)

			kind, ok := backend.KindOf(err)
			require.True(t, ok, "error should carry a kind: %v", err)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestGenerateMalformedSuccessPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no choices", `{"id":"x","object":"chat.completion","model":"gpt-4o-mini","choices":[]}`},
		{"empty content", `{"id":"x","object":"chat.completion","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":""},"finish_reason":"stop"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := mockUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			})

			b := validatedBackend(t, srv)

			_, err := b.Generate(context.Background(), "explain",
				[]backend.SearchResult{{FilePath: "a.go", SourceText: "func a() {}"}}, backend.Options{})
			require.Error(t, err)

			kind, ok := backend.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, backend.KindResponseFormat, kind)
		})
	}
}

func TestGenerateRetriesTransientFailure(t *testing.T) {
	calls := 0
	srv := mockUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"type":"server_error","message":"overloaded"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("recovered")))
	})

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 2
	cfg.RetryDelay = time.Millisecond

	b, err := openai.New("openai", cfg)
	require.NoError(t, err)
	require.NoError(t, b.ValidateConfig(context.Background()))

	res, err := b.Generate(context.Background(), "explain",
		[]backend.SearchResult{{FilePath: "a.go", SourceText: "func a() {}"}}, backend.Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.Equal(t, "recovered", res.Explanation)
}

func TestGenerateRejectsInvalidRequest(t *testing.T) {
	srv := mockUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(completionBody("unused")))
	})
	b := validatedBackend(t, srv)

	_, err := b.Generate(context.Background(), "", nil, backend.Options{})
	require.Error(t, err)

	kind, ok := backend.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, backend.KindConfiguration, kind)
}
