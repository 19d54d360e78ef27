/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var unpauseCmd = &cobra.Command{
	Use:   "unpause",
	Short: "Unpause the simulation world",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		if err := newEngine().Unpause(ctx); err != nil {
			return fmt.Errorf("unpause %s: %w", cfg.WorldName, err)
		}
		logger.Info().Str("world", cfg.WorldName).Msg("world unpaused")
		return nil
	},
}
