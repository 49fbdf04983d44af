// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package anthropic

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/codelens-dev/codelens/internal/backend"
)

// defaultMaxTokens is used when neither the call options nor the config
// set a token limit; the Messages API requires one.
const defaultMaxTokens = 4096

// Backend implements backend.Backend against the Anthropic Messages API.
type Backend struct {
	name   string
	cfg    backend.Config
	client anthropicsdk.Client
	avail  backend.Availability
}

// Compile-time interface check.
var _ backend.Backend = (*Backend)(nil)

// New creates an Anthropic backend from an external-variant config.
func New(name string, cfg backend.Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Variant != backend.VariantExternal {
		return nil, backend.Errf(backend.KindConfiguration,
			"anthropic backend requires external variant, got %q", cfg.Variant)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.External.APIKey),
		option.WithMaxRetries(0), // retries are owned by the retry engine
	}
	if cfg.External.APIURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.External.APIURL))
	}

	return &Backend{
		name:   name,
		cfg:    cfg,
		client: anthropicsdk.NewClient(opts...),
	}, nil
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Available() bool { return b.avail.Available() }

// ValidateConfig re-checks configuration shape, then probes the models
// endpoint. The probe sets availability without failing validation.
func (b *Backend) ValidateConfig(ctx context.Context) error {
	if err := b.cfg.Validate(); err != nil {
		b.avail.Set(false)
		return err
	}

	_, err := b.client.Models.List(ctx, anthropicsdk.ModelListParams{})
	if err != nil {
		slog.Debug("anthropic connectivity probe failed", "backend", b.name, "error", err)
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

	results = backend.CapResults(results, opts.MaxResults)
	params := b.buildParams(query, results, opts)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = b.cfg.Timeout
	}

	call := backend.NewCall(query, len(results), b.cfg.Policy())

	return call.Do(ctx, func(ctx context.Context) (*backend.ExplanationResult, error) {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		msg, err := b.client.Messages.New(cctx, params,
			option.WithHeader("X-Request-ID", call.RequestID))
		if err != nil {
			return nil, b.mapError(err, call)
		}

		return b.buildResult(msg)
	})
}

func (b *Backend) Cleanup() error { return nil }

func (b *Backend) buildParams(query string, results []backend.SearchResult, opts backend.Options) anthropicsdk.MessageNewParams {
	model := opts.Model
	if model == "" {
		model = b.cfg.External.Model
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.cfg.External.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		MaxTokens: int64(maxTokens),
		System: []anthropicsdk.TextBlockParam{
			{Text: backend.SystemPrompt(query)},
		},
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(
				anthropicsdk.NewTextBlock(backend.BuildUserMessage(query, results)),
			),
		},
	}

	if b.cfg.External.Temperature > 0 {
		params.Temperature = anthropicsdk.Float(b.cfg.External.Temperature)
	}

	return params
}

// buildResult validates the response shape and converts it.
func (b *Backend) buildResult(msg *anthropicsdk.Message) (*backend.ExplanationResult, error) {
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, backend.NewError(backend.KindResponseFormat, "response contains no text content")
	}

	if msg.Usage.InputTokens < 0 || msg.Usage.OutputTokens < 0 {
		return nil, backend.NewError(backend.KindResponseFormat, "response token usage is negative")
	}

	res := &backend.ExplanationResult{
		Success:      true,
		Explanation:  text.String(),
		Model:        string(msg.Model),
		BackendName:  b.name,
		ResponseID:   msg.ID,
		FinishReason: string(msg.StopReason),
	}

	in := int(msg.Usage.InputTokens)
	out := int(msg.Usage.OutputTokens)
	if in > 0 || out > 0 {
		res.Usage = &backend.TokenUsage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		}
	}

	return res, nil
}

// mapError translates an SDK error into a backend kind. The Messages API
// reports a structured sub-type in the error body; it is matched first,
// then the HTTP status range decides.
func (b *Backend) mapError(err error, call *backend.Call) error {
	var apierr *anthropicsdk.Error
	if !errors.As(err, &apierr) {
		return backend.WrapKind(err, backend.KindNetwork, "request failed")
	}

	if apierr.StatusCode == http.StatusTooManyRequests {
		call.SetRateLimitHint(rateLimitResetAt(apierr.Response, time.Now()))
	}

	if kind, ok := kindForErrorBody(apierr.Error()); ok {
		return backend.WrapKind(err, kind, "api error")
	}

	return backend.WrapKind(err, kindForStatus(apierr.StatusCode), "api error")
}

// kindForErrorBody matches known error sub-type names in the serialized
// error body.
func kindForErrorBody(body string) (backend.Kind, bool) {
	switch {
	case strings.Contains(body, "invalid_request_error"), strings.Contains(body, "not_found_error"):
		return backend.KindConfiguration, true
	case strings.Contains(body, "authentication_error"), strings.Contains(body, "permission_error"):
		return backend.KindAuthentication, true
	case strings.Contains(body, "rate_limit_error"):
		return backend.KindRateLimit, true
	case strings.Contains(body, "overloaded_error"), strings.Contains(body, "api_error"):
		return backend.KindUnavailable, true
	}
	return "", false
}

func kindForStatus(status int) backend.Kind {
	switch {
	case status == http.StatusBadRequest:
		return backend.KindConfiguration
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return backend.KindAuthentication
	case status == http.StatusTooManyRequests:
		return backend.KindRateLimit
	case status >= 500:
		return backend.KindUnavailable
	default:
		return backend.KindNetwork
	}
}

func rateLimitResetAt(resp *http.Response, now time.Time) time.Time {
	if resp == nil {
		return time.Time{}
	}

	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return time.Time{}
	}

	if secs, err := strconv.Atoi(ra); err == nil && secs >= 0 {
		return now.Add(time.Duration(secs) * time.Second)
	}
	if t, err := http.ParseTime(ra); err == nil {
		return t
	}
	return time.Time{}
}
