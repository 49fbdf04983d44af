// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package backend

import (
	"context"
	"sync"
	"time"
)

// Backend is the core interface every generation backend implements.
//
// Generate explains a set of code search results. ValidateConfig checks the
// backend's configuration and refreshes the cached availability flag.
// Cleanup releases resources; it is best-effort and must tolerate being
// called on a backend that never validated.
type Backend interface {
	Name() string
	Available() bool
	ValidateConfig(ctx context.Context) error
	Generate(ctx context.Context, query string, results []SearchResult, opts Options) (*ExplanationResult, error)
	Cleanup() error
}

// SearchResult is one code snippet produced by the external search pipeline.
type SearchResult struct {
	FilePath   string  `json:"file_path"`
	NodeType   string  `json:"node_type"`
	Similarity float64 `json:"similarity"`
	SourceText string  `json:"source_text"`
}

// Options contains per-call generation configuration.
type Options struct {
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	MaxResults int
}

// TokenUsage tracks token consumption reported by a backend.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ExplanationResult is the outcome of a generation call.
// When Success is true Explanation is non-empty; when false Error is non-empty.
type ExplanationResult struct {
	Success      bool        `json:"success"`
	Explanation  string      `json:"explanation,omitempty"`
	Model        string      `json:"model"`
	BackendName  string      `json:"backend_name,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
	ResponseID   string      `json:"response_id,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// Availability is the cached fail-closed availability gate shared by all
// backend variants. It reports unavailable until ValidateConfig has run at
// least once and recorded an outcome.
type Availability struct {
	mu        sync.RWMutex
	validated bool
	available bool
}

// Available reports the cached availability. False until the first Set.
func (a *Availability) Available() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.validated && a.available
}

// Set records a validation outcome.
func (a *Availability) Set(available bool) {
	a.mu.Lock()
	a.validated = true
	a.available = available
	a.mu.Unlock()
}
