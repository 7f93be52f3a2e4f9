// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/q-lhzp/project-genesis-core/internal/config"
	"github.com/q-lhzp/project-genesis-core/internal/kernel"
	"github.com/q-lhzp/project-genesis-core/internal/logging"
	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the genesis kernel",
		Long:  "Load configuration, load plugins, and serve the HTTP API until interrupted.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadStartConfig(cmd)
	if err != nil {
		return err
	}

	closer, err := logging.Setup(cmd.ErrOrStderr(), cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	if cfg.File != "" {
		slog.Info("config loaded", "path", cfg.File)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	k, err := kernel.New(ctx, kernel.Options{Config: cfg, Version: version})
	if err != nil {
		return err
	}
	defer func() {
		if err := k.Close(); err != nil {
			slog.Error("kernel close failed", "error", err)
		}
	}()

	if err := k.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadStartConfig reads the config file and applies command line overrides.
func loadStartConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("listen") {
		listen, _ := cmd.Flags().GetString("listen")
		if err := config.ValidateListen(listen); err != nil {
			return nil, generr.Errorf(generr.CodeCLIInputInvalid, "--listen: %w", err)
		}
		cfg.Server.Listen = listen
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.Paths.DataDir = viper.GetString("paths.data_dir")
	}
	if viper.GetBool("verbose") {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}
