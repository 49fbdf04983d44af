// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

// Package manager coordinates multiple explanation backends: it tracks
// their health, orders them by the configured selection strategy, walks
// the order until one succeeds, and records a metric for every attempt.
package manager

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/codelens-dev/codelens/internal/backend"
	"github.com/codelens-dev/codelens/internal/metrics"
	clerr "github.com/codelens-dev/codelens/pkg/errors"
	"github.com/codelens-dev/codelens/pkg/health"
	"github.com/google/uuid"
)

// Strategy names the backend ordering policy.
type Strategy string

const (
	// StrategyPrimaryFallback tries backends in configured order.
	StrategyPrimaryFallback Strategy = "primary-fallback"
	// StrategyFastestFirst orders healthy backends by average response
	// time; backends with no recorded latency sort last.
	StrategyFastestFirst Strategy = "fastest-first"
	// StrategyRoundRobin rotates the starting backend once per minute.
	StrategyRoundRobin Strategy = "round-robin"
)

const (
	defaultMaxConsecutiveFailures = 3
	defaultHealthCheckInterval    = 60 * time.Second
	defaultHealthCheckTimeout     = 10 * time.Second
)

// Config configures a Manager. Zero values take the defaults above.
type Config struct {
	Strategy               Strategy
	MaxConsecutiveFailures uint64
	HealthCheckInterval    time.Duration
	HealthCheckTimeout     time.Duration
}

// healthState is the per-backend health record. Unknown until the first
// observation; healthy flips to unhealthy after MaxConsecutiveFailures
// consecutive failed calls, and back on any success.
type healthState struct {
	known               bool
	healthy             bool
	lastCheckedAt       time.Time
	consecutiveFailures uint64
	lastError           string
	lastResponseTime    time.Duration
	hasResponseTime     bool
}

// Manager owns the configured backends and routes Explain calls across
// them. Backends are registered once at construction; ordering is
// recomputed per request.
type Manager struct {
	cfg       Config
	collector *metrics.Collector

	mu       sync.Mutex
	names    []string // configured order, primary first
	backends map[string]backend.Backend
	states   map[string]*healthState

	stopProbes  func()
	probeDone   chan struct{}
	cleanupOnce sync.Once

	nowFunc func() time.Time
}

// New creates a Manager over the given backends. Order is the configured
// order: the first entry is the primary. The collector must not be nil.
func New(cfg Config, ordered []backend.Backend, collector *metrics.Collector) (*Manager, error) {
	if len(ordered) == 0 {
		return nil, clerr.New(clerr.CodeBackendConfigInvalid, "at least one backend is required")
	}
	if collector == nil {
		return nil, clerr.New(clerr.CodeBackendConfigInvalid, "metrics collector is required")
	}

	switch cfg.Strategy {
	case "":
		cfg.Strategy = StrategyPrimaryFallback
	case StrategyPrimaryFallback, StrategyFastestFirst, StrategyRoundRobin:
	default:
		return nil, clerr.Errorf(clerr.CodeBackendConfigInvalid,
			"unknown selection strategy %q", cfg.Strategy)
	}
	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = defaultMaxConsecutiveFailures
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = defaultHealthCheckInterval
	}
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = defaultHealthCheckTimeout
	}

	m := &Manager{
		cfg:       cfg,
		collector: collector,
		backends:  make(map[string]backend.Backend, len(ordered)),
		states:    make(map[string]*healthState, len(ordered)),
		nowFunc:   time.Now,
	}
	for _, b := range ordered {
		name := b.Name()
		if _, dup := m.backends[name]; dup {
			return nil, clerr.Errorf(clerr.CodeBackendConfigInvalid,
				"duplicate backend name %q", name)
		}
		m.names = append(m.names, name)
		m.backends[name] = b
		m.states[name] = &healthState{}
	}

	return m, nil
}

// SetNowFunc overrides the time source (for testing).
func (m *Manager) SetNowFunc(fn func() time.Time) {
	m.mu.Lock()
	m.nowFunc = fn
	m.mu.Unlock()
}

// Explain routes one explanation request. Candidates are the currently
// healthy (or unknown) backends in strategy order; each is tried once,
// and the first success wins. Every attempt, success or failure, is
// recorded as a metric and folded into that backend's health state.
func (m *Manager) Explain(ctx context.Context, query string, results []backend.SearchResult, opts backend.Options) (*backend.ExplanationResult, error) {
	if err := backend.ValidateRequest(query, results); err != nil {
		return nil, err
	}

	candidates := m.candidates()
	if len(candidates) == 0 {
		return nil, backend.NewError(backend.KindUnavailable, "no healthy backends available")
	}

	requestID := uuid.NewString()
	var lastErr error

	for _, name := range candidates {
		b := m.backends[name]

		start := m.now()
		result, err := b.Generate(ctx, query, results, opts)
		elapsed := m.now().Sub(start)

		m.observe(name, err, elapsed)
		m.record(requestID, name, query, results, result, err, elapsed)

		if err == nil {
			return result, nil
		}

		lastErr = err
		kind, _ := backend.KindOf(err)
		slog.Warn("backend failed, trying next candidate",
			"backend", name, "kind", string(kind), "request_id", requestID, "error", err)

		if ctx.Err() != nil {
			return nil, err
		}
	}

	return nil, clerr.Wrapf(lastErr, clerr.CodeBackendUnavailable,
		"all backends failed for request %s", requestID)
}

// candidates returns eligible backend names in strategy order. Unknown
// health counts as eligible so new backends get traffic.
func (m *Manager) candidates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	eligible := make([]string, 0, len(m.names))
	for _, name := range m.names {
		st := m.states[name]
		if !st.known || st.healthy {
			eligible = append(eligible, name)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	switch m.cfg.Strategy {
	case StrategyFastestFirst:
		// Stable sort keeps configured order as the tie-break; backends
		// without a recorded latency sort after those with one.
		sort.SliceStable(eligible, func(i, j int) bool {
			si, sj := m.states[eligible[i]], m.states[eligible[j]]
			if si.hasResponseTime != sj.hasResponseTime {
				return si.hasResponseTime
			}
			if !si.hasResponseTime {
				return false
			}
			return si.lastResponseTime < sj.lastResponseTime
		})
	case StrategyRoundRobin:
		rot := int(m.nowFunc().Unix()/60) % len(eligible)
		eligible = append(eligible[rot:], eligible[:rot]...)
	}

	return eligible
}

// observe folds one call outcome into a backend's health state.
func (m *Manager) observe(name string, callErr error, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.states[name]
	now := m.nowFunc()
	st.known = true
	st.lastCheckedAt = now

	if callErr == nil {
		wasUnhealthy := st.consecutiveFailures >= m.cfg.MaxConsecutiveFailures
		st.healthy = true
		st.consecutiveFailures = 0
		st.lastError = ""
		st.lastResponseTime = elapsed
		st.hasResponseTime = true
		if wasUnhealthy {
			slog.Info("backend recovered", "backend", name)
		}
		return
	}

	st.consecutiveFailures++
	st.lastError = metrics.Sanitize(callErr.Error())
	if st.consecutiveFailures >= m.cfg.MaxConsecutiveFailures {
		if st.healthy {
			slog.Warn("backend marked unhealthy",
				"backend", name, "consecutive_failures", st.consecutiveFailures)
		}
		st.healthy = false
	}
}

// record emits one RequestMetric for a routed call.
func (m *Manager) record(requestID, name, query string, results []backend.SearchResult, result *backend.ExplanationResult, callErr error, elapsed time.Duration) {
	metric := metrics.RequestMetric{
		RequestID:    requestID,
		BackendName:  name,
		QueryLength:  len(query),
		ResultCount:  len(results),
		ResponseTime: elapsed,
		Success:      callErr == nil,
	}

	if callErr != nil {
		kind, ok := backend.KindOf(callErr)
		if !ok {
			kind = backend.KindUnavailable
		}
		metric.ErrorKind = kind
		metric.ErrorMessage = callErr.Error()
	} else if result != nil {
		metric.Model = result.Model
		metric.ExplanationLength = len(result.Explanation)
		metric.Usage = result.Usage
	}

	m.collector.Record(metric)
}

// Probe runs one synchronous validation pass over every backend,
// opening their availability gates and seeding health state. One-shot
// callers that never run the probe loop must call this before routing.
func (m *Manager) Probe(ctx context.Context) {
	m.probeAll(ctx)
}

// Start validates every backend once, then runs the periodic probe loop
// until ctx is cancelled or Close is called. The first pass runs
// synchronously so requests arriving right after Start returns see
// probed backends instead of the fail-closed availability gate.
// Recurring probes run in a single goroutine, so they never overlap.
func (m *Manager) Start(ctx context.Context) {
	pctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.stopProbes = cancel
	m.probeDone = make(chan struct{})
	done := m.probeDone
	m.mu.Unlock()

	m.probeAll(pctx)

	go func() {
		defer close(done)

		ticker := time.NewTicker(m.cfg.HealthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-pctx.Done():
				return
			case <-ticker.C:
				m.probeAll(pctx)
			}
		}
	}()
}

// probeAll runs one health probe against every backend. A probe outcome
// feeds the same state machine as a real call: probe failures count
// toward consecutive failures, probe successes reset them.
func (m *Manager) probeAll(ctx context.Context) {
	m.mu.Lock()
	names := append([]string(nil), m.names...)
	m.mu.Unlock()

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		b := m.backends[name]

		pctx, cancel := context.WithTimeout(ctx, m.cfg.HealthCheckTimeout)
		start := m.now()
		err := b.ValidateConfig(pctx)
		elapsed := m.now().Sub(start)
		cancel()

		if err == nil && !b.Available() {
			err = backend.Errf(backend.KindUnavailable, "backend %s probe reports unavailable", name)
		}
		m.observe(name, err, elapsed)

		if err != nil {
			slog.Debug("health probe failed", "backend", name, "error", err)
		}
	}
}

// HealthSnapshot returns a copy of the health state for every backend.
func (m *Manager) HealthSnapshot() map[string]health.Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]health.Metrics, len(m.names))
	for _, name := range m.names {
		st := m.states[name]

		hm := health.Metrics{
			Healthy:             st.known && st.healthy,
			ConsecutiveFailures: st.consecutiveFailures,
			LastError:           st.lastError,
		}
		if st.known {
			t := st.lastCheckedAt
			hm.LastCheckedAt = &t
		}
		if st.hasResponseTime {
			ms := st.lastResponseTime.Milliseconds()
			hm.LastResponseTimeMs = &ms
		}
		out[name] = hm
	}
	return out
}

// Backends returns the configured backend names in order.
func (m *Manager) Backends() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.names...)
}

// Metrics returns the manager's collector.
func (m *Manager) Metrics() *metrics.Collector { return m.collector }

// Close stops the probe loop and cleans up every backend exactly once.
// Cleanup errors are logged, not returned; shutdown keeps going.
func (m *Manager) Close() error {
	m.cleanupOnce.Do(func() {
		m.mu.Lock()
		stop := m.stopProbes
		done := m.probeDone
		m.mu.Unlock()

		if stop != nil {
			stop()
			<-done
		}

		for _, name := range m.names {
			if err := m.backends[name].Cleanup(); err != nil {
				slog.Warn("backend cleanup failed", "backend", name, "error", err)
			}
		}
	})
	return nil
}

func (m *Manager) now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nowFunc()
}
