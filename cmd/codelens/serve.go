// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/codelens-dev/codelens/internal/server"
	clerr "github.com/codelens-dev/codelens/pkg/errors"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the codelens HTTP server",
		Long:  "Load configuration, wire the backend pool, start health probes, and serve the explanation API.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := WireApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Server.Listen,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, app.Manager)
	if err != nil {
		return clerr.Wrap(err, clerr.CodeCLISetupFailure, "creating server")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app.Manager.Start(ctx)

	slog.Info("codelens listening", "addr", cfg.Server.Listen, "backends", app.Manager.Backends())
	return srv.Start(ctx)
}
