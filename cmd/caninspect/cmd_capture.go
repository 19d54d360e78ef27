/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/caninspect/internal/camera"
	"github.com/friendsincode/caninspect/internal/capture"
	"github.com/friendsincode/caninspect/internal/eventbus"
	"github.com/friendsincode/caninspect/internal/storage"
)

var (
	captureSamples   int
	capturePrefix    string
	captureCamera    string
	captureSeed      uint64
	captureMaxOffset float64
	captureNoCleanup bool
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture labeled training images of good and dented cans",
	Long: `Spawn one can at a time under the inspection camera, grab a frame for it and
store the image with its PASS/FAIL label and bounding box. The conveyor
spawner should be stopped first so no other cans are in view.`,
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().IntVar(&captureSamples, "samples", 50, "Images per class")
	captureCmd.Flags().StringVar(&capturePrefix, "prefix", "", "Object key prefix (default training/<UTC timestamp>)")
	captureCmd.Flags().StringVar(&captureCamera, "camera", "inspection", "Camera id to capture from")
	captureCmd.Flags().Uint64Var(&captureSeed, "seed", 0, "Seed for position jitter, 0 picks one")
	captureCmd.Flags().Float64Var(&captureMaxOffset, "max-offset", 0.02, "Maximum position jitter in meters")
	captureCmd.Flags().BoolVar(&captureNoCleanup, "no-cleanup", false, "Skip removing leftovers of an earlier run")
}

func runCapture(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := initTracing(ctx, "caninspect-capture")
	if err != nil {
		return err
	}
	defer shutdownTracing()

	catalog := camera.DefaultCatalog(cfg.OverviewTopic, cfg.InspectionTopic)
	if cfg.CamerasFile != "" {
		if catalog, err = camera.LoadCatalog(cfg.CamerasFile); err != nil {
			return err
		}
	}
	if _, err := catalog.Get(captureCamera); err != nil {
		return err
	}
	hub := camera.NewHub(catalog, logger)

	bus, err := eventbus.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer bus.Close()

	source, closeSource, err := newFrameSource()
	if err != nil {
		return err
	}
	defer closeSource()

	store, err := storage.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize capture storage: %w", err)
	}

	prefix := capturePrefix
	if prefix == "" {
		prefix = "training/" + time.Now().UTC().Format("20060102T150405Z")
	}

	collector, err := capture.NewCollector(capture.CollectorOptions{
		Geometry:       capture.DefaultGeometry(),
		Camera:         captureCamera,
		GoodModel:      cfg.GoodModel,
		DefectiveModel: cfg.DefectiveModel,
		Samples:        captureSamples,
		MaxOffset:      captureMaxOffset,
		Settle:         200 * time.Millisecond,
		FrameTimeout:   2 * time.Second,
		Clear:          500 * time.Millisecond,
		Cleanup:        !captureNoCleanup,
		Seed:           captureSeed,
	}, newEngine(), hub, capture.NewDataset(store, prefix, logger), bus, logger)
	if err != nil {
		return err
	}

	sourceCtx, stopSource := context.WithCancel(ctx)
	defer stopSource()
	go func() {
		if err := source.Run(sourceCtx, hub); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("frame source exited")
		}
	}()

	summary, err := collector.Run(ctx)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	logger.Info().
		Int("pass", summary.Pass).
		Int("fail", summary.Fail).
		Int("skipped", summary.Skipped).
		Str("annotations", store.Location(summary.IndexKey)).
		Msg("training data captured")
	return nil
}
