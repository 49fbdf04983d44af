// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/codelens-dev/codelens/internal/backend"
	"github.com/codelens-dev/codelens/internal/metrics"
	"github.com/codelens-dev/codelens/internal/store"
	clerr "github.com/codelens-dev/codelens/pkg/errors"
)

func init() {
	store.RegisterBackend("sqlite", func(path string) (metrics.Store, error) {
		return NewMetricStore(path)
	})
}

// Compile-time interface check.
var _ metrics.Store = (*MetricStore)(nil)

// MetricStore persists sanitized request metrics in a single SQLite
// database. Records arrive already sanitized; this layer never sees raw
// error messages.
type MetricStore struct {
	db *sql.DB
}

// NewMetricStore opens (or creates) a SQLite database at dbPath and
// initialises the request_metrics table.
func NewMetricStore(dbPath string) (*MetricStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, clerr.Wrap(err, clerr.CodeStoreDatabaseFailure, "opening metrics db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, clerr.Wrap(err, clerr.CodeStoreDatabaseFailure, "pinging metrics db")
	}

	if err := migrateMetrics(db); err != nil {
		_ = db.Close()
		return nil, clerr.Wrap(err, clerr.CodeStoreDatabaseFailure, "migrating metrics db")
	}

	return &MetricStore{db: db}, nil
}

func migrateMetrics(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS request_metrics (
	request_id         TEXT NOT NULL,
	backend_name       TEXT NOT NULL,
	timestamp          TEXT NOT NULL,
	query_length       INTEGER NOT NULL DEFAULT 0,
	result_count       INTEGER NOT NULL DEFAULT 0,
	response_time_ms   INTEGER NOT NULL DEFAULT 0,
	success            INTEGER NOT NULL DEFAULT 0,
	error_kind         TEXT NOT NULL DEFAULT '',
	error_message      TEXT NOT NULL DEFAULT '',
	model              TEXT NOT NULL DEFAULT '',
	explanation_length INTEGER NOT NULL DEFAULT 0,
	token_usage        TEXT NOT NULL DEFAULT '{}',
	-- A fallback sequence records one row per candidate under the same
	-- request ID, so the key must include the backend.
	PRIMARY KEY (request_id, backend_name)
);

CREATE INDEX IF NOT EXISTS idx_request_metrics_timestamp ON request_metrics(timestamp);
CREATE INDEX IF NOT EXISTS idx_request_metrics_backend   ON request_metrics(backend_name);
`
	_, err := db.Exec(ddl)
	return err
}

// Append inserts one metric record.
func (s *MetricStore) Append(ctx context.Context, m metrics.RequestMetric) error {
	usage := "{}"
	if m.Usage != nil {
		raw, err := json.Marshal(m.Usage)
		if err != nil {
			return clerr.Wrap(err, clerr.CodeStoreDatabaseFailure, "encoding token usage")
		}
		usage = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_metrics (
			request_id, backend_name, timestamp, query_length, result_count,
			response_time_ms, success, error_kind, error_message, model,
			explanation_length, token_usage
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RequestID, m.BackendName, m.Timestamp.UTC().Format(time.RFC3339Nano),
		m.QueryLength, m.ResultCount, m.ResponseTime.Milliseconds(),
		boolToInt(m.Success), string(m.ErrorKind), m.ErrorMessage, m.Model,
		m.ExplanationLength, usage,
	)
	if err != nil {
		return clerr.Wrap(err, clerr.CodeStoreDatabaseFailure, "inserting request metric")
	}
	return nil
}

// Recent returns up to limit records, oldest first.
func (s *MetricStore) Recent(ctx context.Context, limit int) ([]metrics.RequestMetric, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, backend_name, timestamp, query_length, result_count,
		       response_time_ms, success, error_kind, error_message, model,
		       explanation_length, token_usage
		FROM (
			SELECT * FROM request_metrics ORDER BY timestamp DESC LIMIT ?
		) ORDER BY timestamp ASC`, limit)
	if err != nil {
		return nil, clerr.Wrap(err, clerr.CodeStoreDatabaseFailure, "querying request metrics")
	}
	defer func() { _ = rows.Close() }()

	var out []metrics.RequestMetric
	for rows.Next() {
		var (
			m       metrics.RequestMetric
			ts      string
			ms      int64
			success int
			kind    string
			usage   string
		)
		if err := rows.Scan(&m.RequestID, &m.BackendName, &ts, &m.QueryLength,
			&m.ResultCount, &ms, &success, &kind, &m.ErrorMessage, &m.Model,
			&m.ExplanationLength, &usage); err != nil {
			return nil, clerr.Wrap(err, clerr.CodeStoreDatabaseFailure, "scanning request metric")
		}

		m.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, clerr.Wrapf(err, clerr.CodeStoreDatabaseFailure,
				"parsing stored timestamp %q", ts)
		}
		m.ResponseTime = time.Duration(ms) * time.Millisecond
		m.Success = success != 0
		m.ErrorKind = backend.Kind(kind)
		if usage != "" && usage != "{}" {
			var u backend.TokenUsage
			if err := json.Unmarshal([]byte(usage), &u); err != nil {
				return nil, clerr.Wrap(err, clerr.CodeStoreDatabaseFailure, "decoding token usage")
			}
			m.Usage = &u
		}

		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, clerr.Wrap(err, clerr.CodeStoreDatabaseFailure, "iterating request metrics")
	}
	return out, nil
}

// Prune deletes records older than the cutoff and reports how many went.
func (s *MetricStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM request_metrics WHERE timestamp < ?`,
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, clerr.Wrap(err, clerr.CodeStoreDatabaseFailure, "pruning request metrics")
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *MetricStore) Close() error {
	if err := s.db.Close(); err != nil {
		return clerr.Wrap(err, clerr.CodeStoreDatabaseFailure, "closing metrics db")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
