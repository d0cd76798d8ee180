// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/autobrr/sweeparr/internal/domain"
	"github.com/autobrr/sweeparr/internal/rules"
	"github.com/autobrr/sweeparr/internal/strikes"
)

func RunSimulateCommand() *cobra.Command {
	var service string

	cmd := &cobra.Command{
		Use:   "simulate <item.json>",
		Short: "Evaluate the removal rules against a queue item JSON file",
		Long: `simulate runs the rule engine against a single queue item read from a
JSON file, using a synthetic strike entry first seen an hour ago, and
prints the removal reason a live sweep would produce (or null).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var item domain.Item
			if err := json.Unmarshal(data, &item); err != nil {
				return errors.Wrapf(err, "decode item file %q", args[0])
			}

			now := time.Now().Unix()
			entry := strikes.NewEntry(now - 3600)
			var done int64
			if size, ok := item.Size(); ok && size != 0 {
				if left, ok := item.SizeLeft(); ok && left != 0 {
					done = size - left
				}
			}
			entry.LastDL = &done

			rs := rules.NewRuleSet(cfg, rules.NewResolver(cfg))
			reason := rs.Evaluate(service, item, entry, false, now)

			out := map[string]any{"reason": nil}
			if reason != "" {
				out["reason"] = reason
			}
			payload, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(payload))
			return nil
		},
	}

	cmd.Flags().StringVar(&service, "service", domain.ServiceSonarr, "Manager the item belongs to")

	return cmd
}
