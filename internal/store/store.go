// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

// Package store selects the metric persistence backend. Backend packages
// register themselves from init(); "none" disables persistence and is
// the default.
package store

import (
	"sync"

	"github.com/codelens-dev/codelens/internal/metrics"
	clerr "github.com/codelens-dev/codelens/pkg/errors"
)

// Config selects and configures the persistence backend.
type Config struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// MetricStoreFactory creates a metric store given the database path.
type MetricStoreFactory func(path string) (metrics.Store, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]MetricStoreFactory{}
)

// RegisterBackend registers a factory for a named storage backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, factory MetricStoreFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// NewMetricStore creates the configured metric store. It returns
// (nil, nil) when persistence is disabled.
func NewMetricStore(cfg Config) (metrics.Store, error) {
	backend := cfg.Backend
	if backend == "" || backend == "none" {
		return nil, nil
	}

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, clerr.Errorf(clerr.CodeStoreBackendUnsupported,
			"unsupported storage backend: %q", backend)
	}

	if cfg.Path == "" {
		return nil, clerr.New(clerr.CodeStoreDatabaseFailure,
			"storage path is required when persistence is enabled")
	}

	return factory(cfg.Path)
}
