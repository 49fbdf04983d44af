// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package backend

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// Policy controls the per-call retry loop. MaxAttempts counts the first
// attempt, so a config of maxRetries=2 yields MaxAttempts=3.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	Jitter         bool
	RetryableKinds map[Kind]bool
}

// DefaultPolicy derives a Policy from the per-backend retry settings.
func DefaultPolicy(maxRetries int, baseDelay time.Duration) Policy {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return Policy{
		MaxAttempts:    maxRetries + 1,
		BaseDelay:      baseDelay,
		MaxDelay:       30 * time.Second,
		Multiplier:     2,
		Jitter:         true,
		RetryableKinds: DefaultRetryableKinds(),
	}
}

// RateLimitHint carries the upstream's reported rate-limit reset time.
type RateLimitHint struct {
	ResetAt time.Time
}

// Attempt is one entry in a call's retry history.
type Attempt struct {
	Number int
	Err    error
	Delay  time.Duration
	At     time.Time
}

// Call is the per-invocation context owned by a single Generate call.
// It is never shared between goroutines; only its sanitized summary
// survives the call, as a request metric.
type Call struct {
	RequestID   string
	StartTime   time.Time
	Query       string // truncated for logging
	ResultCount int
	Policy      Policy
	Hint        *RateLimitHint
	History     []Attempt
}

const logQueryLimit = 120

// NewCall builds a Call with a fresh request ID and a log-safe query.
func NewCall(query string, resultCount int, policy Policy) *Call {
	q := query
	if len(q) > logQueryLimit {
		q = q[:logQueryLimit]
	}
	return &Call{
		RequestID:   uuid.NewString(),
		StartTime:   time.Now(),
		Query:       q,
		ResultCount: resultCount,
		Policy:      policy,
	}
}

// SetRateLimitHint records the upstream reset time for subsequent delay
// computation. A zero time clears the hint.
func (c *Call) SetRateLimitHint(resetAt time.Time) {
	if resetAt.IsZero() {
		c.Hint = nil
		return
	}
	c.Hint = &RateLimitHint{ResetAt: resetAt}
}

// Delay computes the backoff before the given retry (retry >= 1 is the
// delay preceding attempt retry+1). It is a pure function of its inputs:
// delay = min(base * multiplier^(retry-1), max), plus up to 10% jitter,
// extended to (resetAt-now)+1s when a rate-limit reset is imminent.
func Delay(retry int, p Policy, hint *RateLimitHint, now time.Time) time.Duration {
	if retry < 1 {
		retry = 1
	}

	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}

	d := time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(retry-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}

	if p.Jitter && d > 0 {
		d += time.Duration(rand.Float64() * 0.1 * float64(d))
	}

	if hint != nil && !hint.ResetAt.IsZero() {
		wait := hint.ResetAt.Sub(now)
		if wait > 0 && wait < 2*d {
			d = wait + time.Second
		}
	}

	return d
}

// Do runs op under the call's retry policy. Attempts run 1..MaxAttempts;
// before each retry it sleeps for the computed delay and appends a history
// entry. A non-retryable error kind re-raises immediately. Context
// cancellation aborts the current attempt instead of silently retrying.
func (c *Call) Do(ctx context.Context, op func(ctx context.Context) (*ExplanationResult, error)) (*ExplanationResult, error) {
	var lastErr error

	for attempt := 1; attempt <= c.Policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := Delay(attempt-1, c.Policy, c.Hint, time.Now())
			c.History = append(c.History, Attempt{
				Number: attempt,
				Err:    lastErr,
				Delay:  delay,
				At:     time.Now(),
			})

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, WrapKind(ctx.Err(), KindNetwork, "call cancelled while waiting to retry")
			case <-timer.C:
			}
		}

		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}

		kind, ok := KindOf(err)
		if !ok || !c.Policy.RetryableKinds[kind] {
			return nil, err
		}
	}

	return nil, lastErr
}
