// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/codelens-dev/codelens/internal/backend"
	"github.com/codelens-dev/codelens/internal/metrics"
	"github.com/codelens-dev/codelens/pkg/health"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "explain",
		Method:      http.MethodPost,
		Path:        "/api/v1/explain",
		Summary:     "Explain code search results",
		Tags:        []string{"explain"},
	}, s.handleExplain)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-backends",
		Method:      http.MethodGet,
		Path:        "/api/v1/backends",
		Summary:     "Backend health snapshots",
		Tags:        []string{"backends"},
	}, s.handleListBackends)

	huma.Register(s.api, huma.Operation{
		OperationID: "compare-metrics",
		Method:      http.MethodGet,
		Path:        "/api/v1/metrics/compare",
		Summary:     "Compare backend performance",
		Tags:        []string{"metrics"},
	}, s.handleCompareMetrics)

	huma.Register(s.api, huma.Operation{
		OperationID: "failure-patterns",
		Method:      http.MethodGet,
		Path:        "/api/v1/metrics/failures",
		Summary:     "Failure counts by error kind",
		Tags:        []string{"metrics"},
	}, s.handleFailurePatterns)
}

// --- Request/Response types for huma ---

type explainInput struct {
	Body struct {
		Query      string                 `json:"query" minLength:"1" doc:"Natural-language question about the code"`
		Results    []backend.SearchResult `json:"results" doc:"Code search results to explain"`
		Model      string                 `json:"model,omitempty" doc:"Model override"`
		MaxTokens  int                    `json:"max_tokens,omitempty" minimum:"0" doc:"Completion token cap"`
		MaxResults int                    `json:"max_results,omitempty" minimum:"0" doc:"Cap on search results sent to the backend"`
		TimeoutMs  int                    `json:"timeout_ms,omitempty" minimum:"0" doc:"Per-call timeout override in milliseconds"`
	}
}

type explainOutput struct {
	Body backend.ExplanationResult
}

// handleExplain routes the request through the manager. Backend failures
// come back as a 200 with success=false and a sanitized error, so clients
// always get the same result shape; only malformed requests are 4xx.
func (s *Server) handleExplain(ctx context.Context, in *explainInput) (*explainOutput, error) {
	opts := backend.Options{
		Model:      in.Body.Model,
		MaxTokens:  in.Body.MaxTokens,
		MaxResults: in.Body.MaxResults,
		Timeout:    time.Duration(in.Body.TimeoutMs) * time.Millisecond,
	}

	result, err := s.mgr.Explain(ctx, in.Body.Query, in.Body.Results, opts)
	if err != nil {
		kind, ok := backend.KindOf(err)
		if !ok {
			kind = backend.KindUnavailable
		}
		if kind == backend.KindConfiguration {
			return nil, huma.Error422UnprocessableEntity(metrics.Sanitize(err.Error()))
		}
		return &explainOutput{Body: backend.ExplanationResult{
			Success: false,
			Error:   string(kind) + ": " + metrics.Sanitize(err.Error()),
		}}, nil
	}

	return &explainOutput{Body: *result}, nil
}

type listBackendsOutput struct {
	Body struct {
		Backends []backendStatus `json:"backends"`
	}
}

type backendStatus struct {
	Name   string         `json:"name"`
	Health health.Metrics `json:"health"`
}

func (s *Server) handleListBackends(_ context.Context, _ *struct{}) (*listBackendsOutput, error) {
	snapshot := s.mgr.HealthSnapshot()

	out := &listBackendsOutput{}
	for _, name := range s.mgr.Backends() {
		out.Body.Backends = append(out.Body.Backends, backendStatus{
			Name:   name,
			Health: snapshot[name],
		})
	}
	return out, nil
}

type compareMetricsOutput struct {
	Body struct {
		Backends []metrics.Comparison `json:"backends"`
	}
}

func (s *Server) handleCompareMetrics(_ context.Context, _ *struct{}) (*compareMetricsOutput, error) {
	out := &compareMetricsOutput{}
	out.Body.Backends = s.mgr.Metrics().Compare()
	return out, nil
}

type failurePatternsInput struct {
	Backend string `query:"backend" doc:"Limit to one backend; empty means all"`
}

type failurePatternsOutput struct {
	Body struct {
		Backend  string                  `json:"backend,omitempty"`
		Failures map[backend.Kind]uint64 `json:"failures"`
	}
}

func (s *Server) handleFailurePatterns(_ context.Context, in *failurePatternsInput) (*failurePatternsOutput, error) {
	out := &failurePatternsOutput{}
	out.Body.Backend = in.Backend
	out.Body.Failures = s.mgr.Metrics().FailurePatterns(in.Backend)
	return out, nil
}
