// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package metrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/codelens-dev/codelens/internal/backend"
)

// RequestMetric is one immutable record per completed backend call.
// ErrorMessage is stored sanitized.
type RequestMetric struct {
	RequestID         string              `json:"request_id"`
	BackendName       string              `json:"backend_name"`
	Timestamp         time.Time           `json:"timestamp"`
	QueryLength       int                 `json:"query_length"`
	ResultCount       int                 `json:"result_count"`
	ResponseTime      time.Duration       `json:"response_time_ms"`
	Success           bool                `json:"success"`
	ErrorKind         backend.Kind        `json:"error_kind,omitempty"`
	ErrorMessage      string              `json:"error_message,omitempty"`
	Model             string              `json:"model,omitempty"`
	ExplanationLength int                 `json:"explanation_length,omitempty"`
	Usage             *backend.TokenUsage `json:"token_usage,omitempty"`
}

// Aggregate holds rolling statistics for one backend. It is updated
// incrementally, never recomputed from scratch.
type Aggregate struct {
	TotalRequests      uint64                  `json:"total_requests"`
	SuccessfulRequests uint64                  `json:"successful_requests"`
	FailedRequests     uint64                  `json:"failed_requests"`
	SuccessRate        float64                 `json:"success_rate"`
	AvgResponseTime    time.Duration           `json:"avg_response_time_ms"`
	TotalTokensUsed    uint64                  `json:"total_tokens_used"`
	ErrorKindCounts    map[backend.Kind]uint64 `json:"error_kind_counts"`
	WindowStart        time.Time               `json:"window_start"`
	WindowEnd          time.Time               `json:"window_end"`
}

// Comparison is one row of the cross-backend table.
type Comparison struct {
	BackendName      string        `json:"backend_name"`
	SuccessRate      float64       `json:"success_rate"`
	AvgResponseTime  time.Duration `json:"avg_response_time_ms"`
	TotalRequests    uint64        `json:"total_requests"`
	TokensPerRequest float64       `json:"tokens_per_request"`
}

// Store is an optional persistence sink for sanitized metric records.
type Store interface {
	Append(ctx context.Context, m RequestMetric) error
	Recent(ctx context.Context, limit int) ([]RequestMetric, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

const (
	// DefaultCapacity bounds the in-memory ring of raw records.
	DefaultCapacity = 10000
	// DefaultRetention is the aggregate window horizon.
	DefaultRetention = 24 * time.Hour
)

// Config configures a Collector. Zero values take the defaults above;
// Store is optional.
type Config struct {
	Capacity  int
	Retention time.Duration
	Store     Store
}

// Collector records per-call outcomes, aggregates rolling statistics per
// backend, and enforces retention. It is an explicit instance injected
// into the manager, never package-level state; Reset exists for tests.
type Collector struct {
	mu         sync.Mutex
	capacity   int
	retention  time.Duration
	records    []RequestMetric
	aggregates map[string]*Aggregate
	store      Store
	nowFunc    func() time.Time
}

// NewCollector creates a Collector.
func NewCollector(cfg Config) *Collector {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Collector{
		capacity:   cfg.Capacity,
		retention:  cfg.Retention,
		aggregates: make(map[string]*Aggregate),
		store:      cfg.Store,
		nowFunc:    time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (c *Collector) SetNowFunc(fn func() time.Time) {
	c.mu.Lock()
	c.nowFunc = fn
	c.mu.Unlock()
}

// Record sanitizes and stores one request metric, updating the backend's
// aggregate incrementally. Oldest raw records are dropped once the ring
// is full. Store append failures are logged, never propagated.
func (c *Collector) Record(m RequestMetric) {
	m.ErrorMessage = Sanitize(m.ErrorMessage)

	c.mu.Lock()
	now := c.nowFunc()
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}

	c.records = append(c.records, m)
	if len(c.records) > c.capacity {
		c.records = c.records[len(c.records)-c.capacity:]
	}

	agg := c.aggregates[m.BackendName]
	if agg == nil {
		agg = &Aggregate{
			ErrorKindCounts: make(map[backend.Kind]uint64),
			WindowStart:     now,
		}
		c.aggregates[m.BackendName] = agg
	}

	// Retention: reset the window instead of deleting history.
	if now.Sub(agg.WindowStart) > c.retention {
		*agg = Aggregate{
			ErrorKindCounts: make(map[backend.Kind]uint64),
			WindowStart:     now,
		}
	}

	agg.TotalRequests++
	if m.Success {
		agg.SuccessfulRequests++
	} else {
		agg.FailedRequests++
		if m.ErrorKind != "" {
			agg.ErrorKindCounts[m.ErrorKind]++
		}
	}
	agg.SuccessRate = float64(agg.SuccessfulRequests) / float64(agg.TotalRequests) * 100

	// Running average: avg_new = (avg*(n-1) + x) / n.
	n := agg.TotalRequests
	agg.AvgResponseTime = time.Duration(
		(float64(agg.AvgResponseTime)*float64(n-1) + float64(m.ResponseTime)) / float64(n))

	if m.Usage != nil {
		agg.TotalTokensUsed += uint64(m.Usage.TotalTokens)
	}
	agg.WindowEnd = now
	store := c.store
	c.mu.Unlock()

	if store != nil {
		if err := store.Append(context.Background(), m); err != nil {
			slog.Warn("persisting request metric failed",
				"backend", m.BackendName, "request_id", m.RequestID, "error", err)
		}
	}
}

// Aggregate returns a copy of one backend's aggregate, if known.
func (c *Collector) Aggregate(name string) (Aggregate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	agg, ok := c.aggregates[name]
	if !ok {
		return Aggregate{}, false
	}
	return snapshotAggregate(agg), true
}

// Compare produces the cross-backend table for all known backends,
// sorted by name.
func (c *Collector) Compare() []Comparison {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows := make([]Comparison, 0, len(c.aggregates))
	for name, agg := range c.aggregates {
		row := Comparison{
			BackendName:     name,
			SuccessRate:     agg.SuccessRate,
			AvgResponseTime: agg.AvgResponseTime,
			TotalRequests:   agg.TotalRequests,
		}
		if agg.TotalRequests > 0 {
			row.TokensPerRequest = float64(agg.TotalTokensUsed) / float64(agg.TotalRequests)
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].BackendName < rows[j].BackendName })
	return rows
}

// FailurePatterns sums error-kind counts for one backend, or across all
// backends when name is empty.
func (c *Collector) FailurePatterns(name string) map[backend.Kind]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[backend.Kind]uint64)
	for n, agg := range c.aggregates {
		if name != "" && n != name {
			continue
		}
		for k, v := range agg.ErrorKindCounts {
			out[k] += v
		}
	}
	return out
}

// Recent returns up to limit raw records, newest last.
func (c *Collector) Recent(limit int) []RequestMetric {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limit <= 0 || limit > len(c.records) {
		limit = len(c.records)
	}
	out := make([]RequestMetric, limit)
	copy(out, c.records[len(c.records)-limit:])
	return out
}

// Reset clears all records and aggregates (for tests).
func (c *Collector) Reset() {
	c.mu.Lock()
	c.records = nil
	c.aggregates = make(map[string]*Aggregate)
	c.mu.Unlock()
}

func snapshotAggregate(agg *Aggregate) Aggregate {
	out := *agg
	out.ErrorKindCounts = make(map[backend.Kind]uint64, len(agg.ErrorKindCounts))
	for k, v := range agg.ErrorKindCounts {
		out.ErrorKindCounts[k] = v
	}
	return out
}
