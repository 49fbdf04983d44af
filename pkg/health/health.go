// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package health

import "time"

// Metrics exposes the current health state of a backend for monitoring
// and operator visibility. All fields are point-in-time snapshots safe
// to serialize to JSON.
type Metrics struct {
	Healthy             bool       `json:"healthy"`
	LastCheckedAt       *time.Time `json:"last_checked_at,omitempty"`
	ConsecutiveFailures uint64     `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastResponseTimeMs  *int64     `json:"last_response_time_ms,omitempty"`
}
