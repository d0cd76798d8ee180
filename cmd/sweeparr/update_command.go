// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/spf13/cobra"

	"github.com/autobrr/sweeparr/internal/buildinfo"
	"github.com/autobrr/sweeparr/internal/update"
)

func RunUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Self-update to the latest release",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !update.CanSelfUpdate() {
				return update.ErrSelfUpdateUnsupported
			}

			updater := update.NewUpdater(update.Config{
				Repository: "autobrr/sweeparr",
				Version:    buildinfo.Version,
			})
			return updater.Run(cmd.Context())
		},
	}
}
