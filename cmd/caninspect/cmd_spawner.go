/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/caninspect/internal/conveyor"
	"github.com/friendsincode/caninspect/internal/eventbus"
	"github.com/friendsincode/caninspect/internal/events"
	"github.com/friendsincode/caninspect/internal/server"
)

var spawnerUnpause bool

var spawnerCmd = &cobra.Command{
	Use:   "spawner",
	Short: "Run the conveyor can pool",
	Long:  "Spawn the can pool into the simulation world and move it along the belt until interrupted.",
	RunE:  runSpawner,
}

func init() {
	spawnerCmd.Flags().BoolVar(&spawnerUnpause, "unpause", false, "Unpause the world before spawning the pool")
}

func runSpawner(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := initTracing(ctx, "caninspect-spawner")
	if err != nil {
		return err
	}
	defer shutdownTracing()

	bus, err := eventbus.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer bus.Close()

	engine := newEngine()
	controller, err := conveyor.NewController(conveyor.ParamsFromConfig(cfg), engine, bus, logger)
	if err != nil {
		return fmt.Errorf("initialize conveyor: %w", err)
	}

	status := server.NewStatus(cfg.MetricsBind, controller, logBuf, logger)
	if err := status.Listen(); err != nil {
		return fmt.Errorf("status server: %w", err)
	}

	// A status server failure stops the pool instead of waiting for it.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	statusErr := make(chan error, 1)
	go func() {
		err := status.Run(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("status server failed")
			cancel()
		}
		statusErr <- err
	}()

	logger.Info().
		Str("world", cfg.WorldName).
		Dur("startup_delay", cfg.StartupDelay).
		Msg("waiting for the simulation to come up")
	select {
	case <-ctx.Done():
		return <-statusErr
	case <-time.After(cfg.StartupDelay):
	}

	if spawnerUnpause {
		if err := engine.Unpause(ctx); err != nil {
			logger.Warn().Err(err).Msg("world unpause failed, continuing")
		} else {
			bus.Publish(events.EventWorldUnpaused, events.Payload{"world": cfg.WorldName})
		}
	}

	if err := controller.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize pool: %w", err)
	}
	if err := controller.Run(ctx); err != nil {
		return err
	}

	if err := <-statusErr; err != nil {
		return err
	}
	logger.Info().Msg("spawner stopped")
	return nil
}
