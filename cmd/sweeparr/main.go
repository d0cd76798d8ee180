// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/sweeparr/internal/buildinfo"
	"github.com/autobrr/sweeparr/internal/config"
	"github.com/autobrr/sweeparr/internal/domain"
	"github.com/autobrr/sweeparr/internal/events"
	"github.com/autobrr/sweeparr/internal/metrics"
	"github.com/autobrr/sweeparr/internal/notifications"
	"github.com/autobrr/sweeparr/internal/runner"
	"github.com/autobrr/sweeparr/internal/strikes"
	"github.com/autobrr/sweeparr/internal/update"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var (
		dryRun bool
		once   bool
	)

	cmd := &cobra.Command{
		Use:   "sweeparr",
		Short: "Download queue janitor for Sonarr, Radarr and Lidarr",
		Long: `sweeparr watches the managers' download queues, strikes items that stall
or stop making progress, and removes repeat offenders with a blocklist
entry and an optional replacement search.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), configPath, dryRun, once)
		},
	}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = domain.DefaultConfigPath
	}
	cmd.PersistentFlags().String("config", defaultConfig, "Path to the YAML config file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log actions without removing anything")
	cmd.Flags().BoolVar(&once, "once", false, "Run a single sweep cycle and exit")

	cmd.AddCommand(
		RunVersionCommand(),
		RunUpdateCommand(),
		RunListCommand(),
		RunClearCommand(),
		RunStatusCommand(),
		RunSimulateCommand(),
	)

	return cmd
}

func runDaemon(ctx context.Context, configPath string, dryRun, once bool) error {
	app, err := config.New(configPath)
	if err != nil {
		return err
	}
	cfg := app.Config
	if dryRun {
		cfg.General.DryRun = true
	}

	setupLogger(&cfg.General)

	log.Info().
		Str("version", buildinfo.Version).
		Str("config", configPath).
		Bool("dry_run", cfg.General.DryRun).
		Msg("Starting sweeparr")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.Watch(func(updated *domain.Config) {
		setupLogger(&updated.General)
		log.Info().Msg("Reloaded logging settings from config change")
	})

	updates := update.NewService(log.Logger, cfg.General.CheckForUpdates, buildinfo.Version, buildinfo.UserAgent)
	updates.Start(ctx)

	ledger := strikes.Load(cfg.General.StrikeFilePath, time.Now().Unix())
	notifier := notifications.NewService(cfg.Notifications.Destinations, cfg.General.DryRun)
	bus := events.NewBus(cfg.General.StructuredLogs, notifier)

	var manager *metrics.Manager
	if cfg.General.HTTP.Enabled {
		manager = metrics.NewManager()
		srv := metrics.NewMetricsServer(manager, ledger,
			cfg.General.HTTP.Host, cfg.General.HTTP.Port,
			cfg.General.HTTP.BasePath, cfg.General.HTTP.BasicAuthUsers)
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer func() {
			if err := srv.Stop(); err != nil {
				log.Debug().Err(err).Msg("Metrics server shutdown failed")
			}
		}()
	}

	r := runner.New(cfg, ledger, bus, manager)
	if once {
		r.RunOnce(ctx)
		return nil
	}

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("Shutting down")
	return nil
}

func RunVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Print(buildinfo.String())
		},
	}
}
