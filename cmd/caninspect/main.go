package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/caninspect/internal/config"
	"github.com/friendsincode/caninspect/internal/gazebo"
	"github.com/friendsincode/caninspect/internal/logbuffer"
	"github.com/friendsincode/caninspect/internal/logging"
	"github.com/friendsincode/caninspect/internal/telemetry"
	"github.com/friendsincode/caninspect/internal/version"
)

const logBufferCapacity = 2000

var (
	logger zerolog.Logger
	cfg    *config.Config
	logBuf *logbuffer.Buffer
)

var rootCmd = &cobra.Command{
	Use:          "caninspect",
	Short:        "Can inspection station - conveyor simulation and camera viewer",
	Long:         "caninspect drives the conveyor can pool of the inspection simulation and serves the camera viewer and robot configuration editor.",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

func init() {
	rootCmd.AddCommand(spawnerCmd)
	rootCmd.AddCommand(viewerCmd)
	rootCmd.AddCommand(unpauseCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it) and tees
// log lines into the in-memory buffer.
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logBuf = logbuffer.New(logBufferCapacity)
	logger = logging.SetupWithWriter(cfg.Environment, logbuffer.NewWriter(logBuf, nil))
	for _, warn := range cfg.Warnings {
		logger.Warn().Msg(warn)
	}
	return nil
}

// initTracing installs the tracer provider; the returned func flushes it.
func initTracing(ctx context.Context, service string) (func(), error) {
	tp, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    service,
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize tracer: %w", err)
	}
	return func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}, nil
}

func newEngine() *gazebo.Client {
	return gazebo.NewClient(gazebo.Options{
		Bin:          cfg.GazeboBin,
		World:        cfg.WorldName,
		PoseTimeout:  cfg.PoseTimeout,
		SpawnTimeout: cfg.SpawnTimeout,
	}, logger)
}
