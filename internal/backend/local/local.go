// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package local

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/codelens-dev/codelens/internal/backend"
)

// Backend implements backend.Backend by delegating to an out-of-process
// model runner: it spawns the configured command, writes one JSON request
// to stdin, and reads one JSON response from stdout. The call timeout is
// enforced by killing the process.
type Backend struct {
	name  string
	cfg   backend.Config
	avail backend.Availability

	// lookPath is swapped in tests.
	lookPath func(file string) (string, error)
}

// Compile-time interface check.
var _ backend.Backend = (*Backend)(nil)

// runnerRequest is the payload written to the runner's stdin.
type runnerRequest struct {
	Query      string                 `json:"query"`
	Results    []backend.SearchResult `json:"results"`
	Model      string                 `json:"model"`
	MaxResults int                    `json:"max_results"`
}

// runnerResponse is the structured output expected on stdout.
type runnerResponse struct {
	Explanation string `json:"explanation"`
	Model       string `json:"model"`
	Error       string `json:"error,omitempty"`
}

// New creates a local process backend from a local-variant config.
func New(name string, cfg backend.Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Variant != backend.VariantLocal {
		return nil, backend.Errf(backend.KindConfiguration,
			"local backend requires local variant, got %q", cfg.Variant)
	}

	return &Backend{
		name:     name,
		cfg:      cfg,
		lookPath: exec.LookPath,
	}, nil
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Available() bool { return b.avail.Available() }

// ValidateConfig checks that the runner binary is present without
// installing anything. A missing runner leaves the config valid but the
// backend unavailable.
func (b *Backend) ValidateConfig(_ context.Context) error {
	if err := b.cfg.Validate(); err != nil {
		b.avail.Set(false)
		return err
	}

	_, err := b.lookPath(b.cfg.Local.Command[0])
	if err != nil {
		slog.Debug("local runner not found", "backend", b.name, "command", b.cfg.Local.Command[0], "error", err)
	}
	b.avail.Set(err == nil)
	return nil
}

func (b *Backend) Generate(ctx context.Context, query string, results []backend.SearchResult, opts backend.Options) (*backend.ExplanationResult, error) {
	if err := backend.ValidateRequest(query, results); err != nil {
		return nil, err
	}
	if !b.avail.Available() {
		return nil, backend.Errf(backend.KindUnavailable, "backend %s is not available", b.name)
	}

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = b.cfg.Local.MaxResults
	}
	results = backend.CapResults(results, maxResults)

	model := opts.Model
	if model == "" {
		model = b.cfg.Local.ModelName
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = b.cfg.Timeout
	}

	payload, err := json.Marshal(runnerRequest{
		Query:      query,
		Results:    results,
		Model:      model,
		MaxResults: maxResults,
	})
	if err != nil {
		return nil, backend.WrapKind(err, backend.KindConfiguration, "encoding runner request")
	}

	call := backend.NewCall(query, len(results), b.cfg.Policy())

	return call.Do(ctx, func(ctx context.Context) (*backend.ExplanationResult, error) {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		out, err := b.runOnce(cctx, payload)
		if err != nil {
			return nil, err
		}

		return &backend.ExplanationResult{
			Success:     true,
			Explanation: out.Explanation,
			Model:       out.Model,
			BackendName: b.name,
		}, nil
	})
}

func (b *Backend) Cleanup() error { return nil }

// runOnce spawns the runner for a single request.
func (b *Backend) runOnce(ctx context.Context, payload []byte) (*runnerResponse, error) {
	cmd := exec.CommandContext(ctx, b.cfg.Local.Command[0], b.cfg.Local.Command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, backend.Errf(backend.KindNetwork, "runner timeout after killing process: %v", err)
		}
		return nil, mapRunnerError(err.Error() + " " + stderr.String())
	}

	var resp runnerResponse
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return nil, backend.Errf(backend.KindResponseFormat, "parse runner output: %v", err)
	}

	if resp.Error != "" {
		return nil, mapRunnerError(resp.Error)
	}
	if resp.Explanation == "" {
		return nil, backend.NewError(backend.KindResponseFormat, "runner returned an empty explanation")
	}
	if resp.Model == "" {
		resp.Model = b.cfg.Local.ModelName
	}

	return &resp, nil
}

// mapRunnerError classifies a runner failure by substring match on the
// failure message.
func mapRunnerError(msg string) error {
	lower := strings.ToLower(msg)

	kind := backend.KindNetwork
	switch {
	case strings.Contains(lower, "timeout"):
		kind = backend.KindNetwork
	case strings.Contains(lower, "dependency"), strings.Contains(lower, "not available"):
		kind = backend.KindUnavailable
	case strings.Contains(lower, "parse"), strings.Contains(lower, "format"):
		kind = backend.KindResponseFormat
	case strings.Contains(lower, "config"):
		kind = backend.KindConfiguration
	}

	return backend.Errf(kind, "runner failed: %s", strings.TrimSpace(msg))
}
