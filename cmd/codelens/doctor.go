// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/codelens-dev/codelens/internal/backend"
	"github.com/codelens-dev/codelens/internal/backend/factory"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check the binary, configuration, and every configured backend's reachability.",
		RunE:  runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()

	if _, err := fmt.Fprintf(w, "%-20s codelens %s (%s/%s, Go %s)\n",
		"Binary:", version, runtime.GOOS, runtime.GOARCH, runtime.Version()); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%-20s %s\n", "Config:", checkConfig()); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		_, werr := fmt.Fprintf(w, "%-20s invalid: %s\n", "Validation:", err)
		return werr
	}

	for _, name := range cfg.RoutingOrder() {
		status := checkBackend(cmd.Context(), name, cfg.Backends[name], cfg.Health.Timeout)
		if _, err := fmt.Fprintf(w, "%-20s %s\n", name+":", status); err != nil {
			return err
		}
	}

	return nil
}

func checkConfig() string {
	if cfgFile := viper.ConfigFileUsed(); cfgFile != "" {
		return fmt.Sprintf("loaded from %s", cfgFile)
	}
	return "using defaults (no config file found)"
}

// checkBackend constructs the backend and runs one connectivity probe.
func checkBackend(ctx context.Context, name string, cfg backend.Config, timeout time.Duration) string {
	b, err := factory.New(name, cfg)
	if err != nil {
		return fmt.Sprintf("invalid config: %s", err)
	}
	defer func() { _ = b.Cleanup() }()

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := b.ValidateConfig(pctx); err != nil {
		return fmt.Sprintf("probe failed: %s", err)
	}
	if !b.Available() {
		return "unreachable"
	}
	return "ok"
}
