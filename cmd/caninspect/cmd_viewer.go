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

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/friendsincode/caninspect/internal/camera"
	"github.com/friendsincode/caninspect/internal/capture"
	"github.com/friendsincode/caninspect/internal/config"
	"github.com/friendsincode/caninspect/internal/eventbus"
	"github.com/friendsincode/caninspect/internal/robotconfig"
	"github.com/friendsincode/caninspect/internal/server"
	"github.com/friendsincode/caninspect/internal/storage"
	"github.com/friendsincode/caninspect/internal/web"
)

var viewerNoVideo bool

var viewerCmd = &cobra.Command{
	Use:   "viewer",
	Short: "Serve the camera viewer and robot config editor",
	RunE:  runViewer,
}

func init() {
	viewerCmd.Flags().BoolVar(&viewerNoVideo, "no-video", false, "Disable the ffmpeg H.264 endpoint")
}

func runViewer(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := initTracing(ctx, "caninspect-viewer")
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
	hub := camera.NewHub(catalog, logger)

	bus, err := eventbus.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}

	source, closeSource, err := newFrameSource()
	if err != nil {
		bus.Close()
		return err
	}

	store, err := storage.New(ctx, cfg, logger)
	if err != nil {
		bus.Close()
		closeSource()
		return fmt.Errorf("initialize capture storage: %w", err)
	}

	var video *camera.VideoEncoder
	if !viewerNoVideo {
		video = camera.NewVideoEncoder(cfg.FFmpegBin, cfg.Framerate, logger)
	}

	supervisor := robotconfig.NewSupervisor(robotconfig.SupervisorOptions{
		Service:       cfg.RobotService,
		Supervisorctl: cfg.SupervisorctlBin,
	}, logger)

	handler, err := web.NewHandler(web.Options{
		Hub:         hub,
		Video:       video,
		Archive:     capture.NewArchive(store, bus, logger),
		RobotConfig: robotconfig.NewStore(cfg.RobotConfigPath),
		Supervisor:  supervisor,
		Bus:         bus,
		StationName: cfg.StationName,
		FrameDelay:  cfg.FrameDelay(),
	}, logger)
	if err != nil {
		bus.Close()
		closeSource()
		return fmt.Errorf("initialize web handler: %w", err)
	}

	srv := server.NewViewer(cfg.HTTPAddr(), hub, handler, logger)
	srv.DeferClose(bus.Close)
	srv.DeferClose(func() error { closeSource(); return nil })

	go func() {
		if err := source.Run(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("frame source exited")
		}
	}()

	logger.Info().
		Str("source", string(cfg.FrameSource)).
		Int("cameras", len(catalog.List())).
		Float64("framerate", cfg.Framerate).
		Msg("camera viewer starting")

	runErr := srv.Run(ctx)
	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}
	return runErr
}

func newFrameSource() (camera.Source, func(), error) {
	switch cfg.FrameSource {
	case config.FrameSourceNATS:
		conn, err := nats.Connect(cfg.NATSURL,
			nats.Name("caninspect-viewer"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to NATS: %w", err)
		}
		return camera.NewNATSSource(conn, cfg.NATSSubjectPrefix, logger), conn.Close, nil
	default:
		return camera.NewGazeboSource(newEngine(), logger), func() {}, nil
	}
}
