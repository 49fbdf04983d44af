// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package main

import (
	"log/slog"

	"github.com/codelens-dev/codelens/internal/backend"
	"github.com/codelens-dev/codelens/internal/backend/factory"
	"github.com/codelens-dev/codelens/internal/config"
	"github.com/codelens-dev/codelens/internal/manager"
	"github.com/codelens-dev/codelens/internal/metrics"
	"github.com/codelens-dev/codelens/internal/store"
	_ "github.com/codelens-dev/codelens/internal/store/sqlite" // register sqlite backend
	clerr "github.com/codelens-dev/codelens/pkg/errors"
)

// App holds the wired subsystems and manages their lifecycle.
type App struct {
	Manager   *manager.Manager
	Collector *metrics.Collector

	metricStore metrics.Store
}

// WireApp creates and wires the metric store, collector, backends, and
// manager from validated configuration.
func WireApp(cfg *config.Config) (*App, error) {
	metricStore, err := store.NewMetricStore(cfg.Metrics.Store)
	if err != nil {
		return nil, clerr.Wrap(err, clerr.CodeCLISetupFailure, "creating metric store")
	}

	collector := metrics.NewCollector(metrics.Config{
		Capacity:  cfg.Metrics.Capacity,
		Retention: cfg.Metrics.Retention,
		Store:     metricStore,
	})

	ordered := make([]backend.Backend, 0, 1+len(cfg.Fallbacks))
	for _, name := range cfg.RoutingOrder() {
		b, err := factory.New(name, cfg.Backends[name])
		if err != nil {
			closeStore(metricStore)
			return nil, clerr.Wrapf(err, clerr.CodeCLISetupFailure, "creating backend %q", name)
		}
		ordered = append(ordered, b)
	}

	mgr, err := manager.New(manager.Config{
		Strategy:               manager.Strategy(cfg.Strategy),
		MaxConsecutiveFailures: cfg.Health.MaxConsecutiveFailures,
		HealthCheckInterval:    cfg.Health.Interval,
		HealthCheckTimeout:     cfg.Health.Timeout,
	}, ordered, collector)
	if err != nil {
		closeStore(metricStore)
		return nil, clerr.Wrap(err, clerr.CodeCLISetupFailure, "creating backend manager")
	}

	return &App{
		Manager:     mgr,
		Collector:   collector,
		metricStore: metricStore,
	}, nil
}

// Close shuts down the manager and then the metric store.
func (a *App) Close() {
	if err := a.Manager.Close(); err != nil {
		slog.Warn("closing manager", "error", err)
	}
	closeStore(a.metricStore)
}

func closeStore(s metrics.Store) {
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		slog.Warn("closing metric store", "error", err)
	}
}
