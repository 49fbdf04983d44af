// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package openai

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/codelens-dev/codelens/internal/backend"
)

// Backend implements backend.Backend against an OpenAI-compatible Chat
// Completions API.
type Backend struct {
	name   string
	cfg    backend.Config
	client openaisdk.Client
	avail  backend.Availability
}

// Compile-time interface check.
var _ backend.Backend = (*Backend)(nil)

// New creates an OpenAI backend from an external-variant config.
func New(name string, cfg backend.Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Variant != backend.VariantExternal {
		return nil, backend.Errf(backend.KindConfiguration,
			"openai backend requires external variant, got %q", cfg.Variant)
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
		client: openaisdk.NewClient(opts...),
	}, nil
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Available() bool { return b.avail.Available() }

// ValidateConfig re-checks the configuration shape, then performs one
// lightweight connectivity probe. The probe outcome sets availability but
// never fails validation: configuration validity and runtime availability
// are distinct.
func (b *Backend) ValidateConfig(ctx context.Context) error {
	if err := b.cfg.Validate(); err != nil {
		b.avail.Set(false)
		return err
	}

	_, err := b.client.Models.List(ctx)
	if err != nil {
		slog.Debug("openai connectivity probe failed", "backend", b.name, "error", err)
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

		completion, err := b.client.Chat.Completions.New(cctx, params,
			option.WithHeader("X-Request-ID", call.RequestID))
		if err != nil {
			mapped := b.mapError(err, call)
			return nil, mapped
		}

		return b.buildResult(completion)
	})
}

func (b *Backend) Cleanup() error { return nil }

func (b *Backend) buildParams(query string, results []backend.SearchResult, opts backend.Options) openaisdk.ChatCompletionNewParams {
	model := opts.Model
	if model == "" {
		model = b.cfg.External.Model
	}

	params := openaisdk.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(backend.SystemPrompt(query)),
			openaisdk.UserMessage(backend.BuildUserMessage(query, results)),
		},
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.cfg.External.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(maxTokens))
	}

	if b.cfg.External.Temperature > 0 {
		params.Temperature = param.NewOpt(b.cfg.External.Temperature)
	}

	return params
}

// buildResult validates the response shape and converts it. A malformed
// success payload is a failure: no partial explanations are returned.
func (b *Backend) buildResult(completion *openaisdk.ChatCompletion) (*backend.ExplanationResult, error) {
	if len(completion.Choices) == 0 {
		return nil, backend.NewError(backend.KindResponseFormat, "response contains no choices")
	}

	choice := completion.Choices[0]
	if choice.Message.Content == "" {
		return nil, backend.NewError(backend.KindResponseFormat, "response message content is empty")
	}

	if completion.Usage.PromptTokens < 0 || completion.Usage.CompletionTokens < 0 || completion.Usage.TotalTokens < 0 {
		return nil, backend.NewError(backend.KindResponseFormat, "response token usage is negative")
	}

	res := &backend.ExplanationResult{
		Success:      true,
		Explanation:  choice.Message.Content,
		Model:        completion.Model,
		BackendName:  b.name,
		ResponseID:   completion.ID,
		FinishReason: string(choice.FinishReason),
	}

	if completion.Usage.TotalTokens > 0 {
		res.Usage = &backend.TokenUsage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		}
	}

	return res, nil
}

// mapError translates an SDK error into a backend kind. A structured error
// body is mapped by sub-type first; otherwise the HTTP status range decides.
func (b *Backend) mapError(err error, call *backend.Call) error {
	var apierr *openaisdk.Error
	if !errors.As(err, &apierr) {
		return backend.WrapKind(err, backend.KindNetwork, "request failed")
	}

	if apierr.StatusCode == http.StatusTooManyRequests {
		call.SetRateLimitHint(rateLimitResetAt(apierr.Response, time.Now()))
	}

	if kind, ok := kindForErrorType(apierr.Type, apierr.Code); ok {
		return backend.WrapKind(err, kind, "api error")
	}

	return backend.WrapKind(err, kindForStatus(apierr.StatusCode), "api error")
}

// kindForErrorType maps known structured error sub-types.
func kindForErrorType(values ...string) (backend.Kind, bool) {
	for _, v := range values {
		switch v {
		case "invalid_request_error", "model_not_found":
			return backend.KindConfiguration, true
		case "authentication_error", "permission_error":
			return backend.KindAuthentication, true
		case "rate_limit_error", "insufficient_quota":
			return backend.KindRateLimit, true
		case "server_error", "service_unavailable":
			return backend.KindUnavailable, true
		}
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

// rateLimitResetAt reads the Retry-After header (delta seconds or an HTTP
// date). A zero time means no usable hint.
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
