// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/autobrr/sweeparr/internal/config"
	"github.com/autobrr/sweeparr/internal/domain"
	"github.com/autobrr/sweeparr/internal/strikes"
)

// loadConfig resolves the persistent --config flag into a parsed
// configuration. Subcommands use it so the strike file and timings
// follow the same precedence as the daemon.
func loadConfig(cmd *cobra.Command) (*domain.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	app, err := config.New(path)
	if err != nil {
		return nil, err
	}
	return app.Config, nil
}

func RunListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the strike ledger as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ledger := strikes.Load(cfg.General.StrikeFilePath, time.Now().Unix())
			data, err := ledger.Dump()
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			return nil
		},
	}
}

func RunClearCommand() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear strikes, either all of them or a single key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ledger := strikes.Load(cfg.General.StrikeFilePath, time.Now().Unix())

			if key != "" {
				if _, ok := ledger.Get(key); !ok {
					cmd.Println("Key not found")
					return nil
				}
				ledger.Delete(key)
				if err := ledger.Save(); err != nil {
					return err
				}
				cmd.Printf("Cleared %s\n", key)
				return nil
			}

			ledger.Clear()
			if err := ledger.Save(); err != nil {
				return err
			}
			cmd.Println("Cleared all strikes")
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Strike key to clear, e.g. Sonarr:123")

	return cmd
}

func RunStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show a strike summary and the next sweep time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			now := time.Now()
			ledger := strikes.Load(cfg.General.StrikeFilePath, now.Unix())
			items, indexers := ledger.Counts()
			next := now.Add(time.Duration(cfg.General.APITimeout) * time.Second)

			out, err := json.MarshalIndent(map[string]any{
				"strike_file":     ledger.Path(),
				"entries":         items,
				"active_strikes":  ledger.ActiveStrikes(),
				"indexer_entries": indexers,
				"api_timeout":     cfg.General.APITimeout,
				"next_run":        next.Format("2006-01-02 15:04:05"),
			}, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}
}
