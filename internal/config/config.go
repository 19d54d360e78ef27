/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default values shared with the conveyor and viewer packages.
const (
	DefaultTickInterval = 50 * time.Millisecond
	DefaultFramerate    = 30.0
	MaxFramerate        = 240.0
)

// EventBusBackend selects the transport for conveyor events.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusNATS   EventBusBackend = "nats"
	EventBusRedis  EventBusBackend = "redis"
)

// FrameSourceKind selects where the viewer receives camera frames from.
type FrameSourceKind string

const (
	FrameSourceGazebo FrameSourceKind = "gz"
	FrameSourceNATS   FrameSourceKind = "nats"
)

// CaptureBackend selects the object store used for snapshot captures.
type CaptureBackend string

const (
	CaptureFS CaptureBackend = "fs"
	CaptureS3 CaptureBackend = "s3"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string

	// Simulation engine
	WorldName      string
	GazeboBin      string
	PoseTimeout    time.Duration
	SpawnTimeout   time.Duration
	StartupDelay   time.Duration
	GoodModel      string
	DefectiveModel string

	// Belt geometry (meters)
	BeltEntryX float64
	BeltExitX  float64
	BeltY      float64
	CanZ       float64
	SpawnLift  float64

	// Pool and motion
	PoolSize       int
	DefectiveCount int
	CanSpacing     float64
	BeltSpeed      float64 // meters per second
	TickInterval   time.Duration

	// Spawner status server
	MetricsBind string

	// Viewer
	HTTPBind        string
	HTTPPort        int
	StationName     string
	OverviewTopic   string
	InspectionTopic string
	CamerasFile     string // Optional YAML camera catalog
	Framerate       float64
	FrameSource     FrameSourceKind
	FFmpegBin       string

	// Robot server configuration editor
	RobotConfigPath  string
	RobotService     string
	SupervisorctlBin string

	// Event bus
	EventBus          EventBusBackend
	NATSURL           string
	NATSSubjectPrefix string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int

	// Snapshot capture storage
	CaptureBackend    CaptureBackend
	CaptureDir        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, etc.)
	S3UsePathStyle    bool

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Warnings collects values that were rejected and replaced by a default.
	Warnings []string
}

// Load reads an optional .env file and the environment, applies defaults, and
// validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	l := &loader{}
	cfg := &Config{
		Environment:    l.str([]string{"CANSIM_ENV"}, "development"),
		WorldName:      l.str([]string{"CANSIM_WORLD_NAME", "GZ_WORLD_NAME"}, "cylinder_inspection"),
		GazeboBin:      l.str([]string{"CANSIM_GZ_BIN"}, "gz"),
		PoseTimeout:    l.millis([]string{"CANSIM_POSE_TIMEOUT_MS"}, 100),
		SpawnTimeout:   l.millis([]string{"CANSIM_SPAWN_TIMEOUT_MS"}, 5000),
		StartupDelay:   l.millis([]string{"CANSIM_STARTUP_DELAY_MS"}, 5000),
		GoodModel:      l.str([]string{"CANSIM_GOOD_MODEL"}, "model://can_good"),
		DefectiveModel: l.str([]string{"CANSIM_DEFECTIVE_MODEL"}, "model://can_dented"),

		BeltEntryX: l.float([]string{"CANSIM_BELT_ENTRY_X"}, -0.92),
		BeltExitX:  l.float([]string{"CANSIM_BELT_EXIT_X"}, 1.00),
		BeltY:      l.float([]string{"CANSIM_BELT_Y"}, 0.0),
		CanZ:       l.float([]string{"CANSIM_CAN_Z"}, 0.54),
		SpawnLift:  l.float([]string{"CANSIM_SPAWN_LIFT"}, 0.06),

		PoolSize:       l.int([]string{"CANSIM_POOL_SIZE"}, 5),
		DefectiveCount: l.int([]string{"CANSIM_DEFECTIVE_COUNT"}, 1),
		CanSpacing:     l.float([]string{"CANSIM_CAN_SPACING"}, 0.40),
		BeltSpeed:      l.float([]string{"CANSIM_BELT_SPEED"}, 0.10),
		TickInterval:   l.millis([]string{"CANSIM_TICK_INTERVAL_MS"}, int(DefaultTickInterval/time.Millisecond)),

		MetricsBind: l.str([]string{"CANSIM_METRICS_BIND"}, "127.0.0.1:9100"),

		HTTPBind:        l.str([]string{"CANSIM_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:        l.int([]string{"CANSIM_HTTP_PORT"}, 8081),
		StationName:     l.str([]string{"CANSIM_STATION_NAME", "GZ_STATION_NAME"}, ""),
		OverviewTopic:   l.str([]string{"CANSIM_OVERVIEW_TOPIC", "GZ_OVERVIEW_TOPIC"}, "/overview_camera"),
		InspectionTopic: l.str([]string{"CANSIM_INSPECTION_TOPIC", "GZ_INSPECTION_TOPIC"}, "/inspection_camera"),
		CamerasFile:     l.str([]string{"CANSIM_CAMERAS_FILE"}, ""),
		Framerate:       l.float([]string{"CANSIM_FRAMERATE", "FRAMERATE"}, DefaultFramerate),
		FrameSource:     FrameSourceKind(l.str([]string{"CANSIM_FRAME_SOURCE"}, string(FrameSourceGazebo))),
		FFmpegBin:       l.str([]string{"CANSIM_FFMPEG_BIN"}, "ffmpeg"),

		RobotConfigPath:  l.str([]string{"CANSIM_ROBOT_CONFIG_PATH"}, "/etc/viam.json"),
		RobotService:     l.str([]string{"CANSIM_ROBOT_SERVICE"}, "viam-server"),
		SupervisorctlBin: l.str([]string{"CANSIM_SUPERVISORCTL_BIN"}, "supervisorctl"),

		EventBus:          EventBusBackend(l.str([]string{"CANSIM_EVENT_BUS"}, string(EventBusMemory))),
		NATSURL:           l.str([]string{"CANSIM_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),
		NATSSubjectPrefix: l.str([]string{"CANSIM_NATS_SUBJECT_PREFIX"}, "caninspect"),
		RedisAddr:         l.str([]string{"CANSIM_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:     l.str([]string{"CANSIM_REDIS_PASSWORD"}, ""),
		RedisDB:           l.int([]string{"CANSIM_REDIS_DB"}, 0),

		CaptureBackend:    CaptureBackend(l.str([]string{"CANSIM_CAPTURE_BACKEND"}, string(CaptureFS))),
		CaptureDir:        l.str([]string{"CANSIM_CAPTURE_DIR"}, "./captures"),
		S3AccessKeyID:     l.str([]string{"CANSIM_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: l.str([]string{"CANSIM_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          l.str([]string{"CANSIM_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          l.str([]string{"CANSIM_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        l.str([]string{"CANSIM_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    l.bool([]string{"CANSIM_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		TracingEnabled:    l.bool([]string{"CANSIM_TRACING_ENABLED"}, false),
		OTLPEndpoint:      l.str([]string{"CANSIM_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: l.float([]string{"CANSIM_TRACING_SAMPLE_RATE"}, 1.0),
	}

	// A usable default exists for timing values, so bad input degrades with a
	// warning instead of aborting. Pool geometry is left to the controller.
	if cfg.TickInterval <= 0 {
		l.warnf("CANSIM_TICK_INTERVAL_MS must be positive, using default %s", DefaultTickInterval)
		cfg.TickInterval = DefaultTickInterval
	}
	if !ValidFramerate(cfg.Framerate) {
		l.warnf("FRAMERATE must be between 0 and %.0f fps, using default %.0f fps", MaxFramerate, DefaultFramerate)
		cfg.Framerate = DefaultFramerate
	}

	switch cfg.EventBus {
	case EventBusMemory, EventBusNATS, EventBusRedis:
	default:
		return nil, fmt.Errorf("unsupported event bus backend %q", cfg.EventBus)
	}

	switch cfg.FrameSource {
	case FrameSourceGazebo, FrameSourceNATS:
	default:
		return nil, fmt.Errorf("unsupported frame source %q", cfg.FrameSource)
	}

	switch cfg.CaptureBackend {
	case CaptureFS:
	case CaptureS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("CANSIM_S3_BUCKET must be provided when capture backend is s3")
		}
	default:
		return nil, fmt.Errorf("unsupported capture backend %q", cfg.CaptureBackend)
	}

	if strings.TrimSpace(cfg.WorldName) == "" {
		return nil, fmt.Errorf("CANSIM_WORLD_NAME or GZ_WORLD_NAME must not be blank")
	}

	cfg.Warnings = l.warnings
	return cfg, nil
}

// FrameDelay is the pause between two frames of a stream at the configured rate.
func (c *Config) FrameDelay() time.Duration {
	if c == nil {
		return FrameDelay(DefaultFramerate)
	}
	return FrameDelay(c.Framerate)
}

// ValidFramerate reports whether fps lies in (0, MaxFramerate]. NaN fails both
// comparisons.
func ValidFramerate(fps float64) bool {
	return fps > 0 && fps <= MaxFramerate
}

// FrameDelay converts fps into a frame interval, falling back to
// DefaultFramerate when fps is out of range. The result is always positive.
func FrameDelay(fps float64) time.Duration {
	if !ValidFramerate(fps) {
		return time.Second / time.Duration(DefaultFramerate)
	}
	return time.Duration(float64(time.Second) / fps)
}

// HTTPAddr returns the viewer listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// loader reads typed values and remembers which ones could not be parsed.
type loader struct {
	warnings []string
}

func (l *loader) warnf(format string, args ...any) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, args...))
}

// lookup returns the first non-empty environment variable value from keys.
func lookup(keys []string) (string, string, bool) {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return k, v, true
		}
	}
	return "", "", false
}

func (l *loader) str(keys []string, def string) string {
	if _, v, ok := lookup(keys); ok {
		return v
	}
	return def
}

func (l *loader) int(keys []string, def int) int {
	k, v, ok := lookup(keys)
	if !ok {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		l.warnf("invalid integer %s=%q, using default %d", k, v, def)
		return def
	}
	return parsed
}

func (l *loader) float(keys []string, def float64) float64 {
	k, v, ok := lookup(keys)
	if !ok {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		l.warnf("invalid number %s=%q, using default %g", k, v, def)
		return def
	}
	return parsed
}

func (l *loader) millis(keys []string, def int) time.Duration {
	return time.Duration(l.int(keys, def)) * time.Millisecond
}

func (l *loader) bool(keys []string, def bool) bool {
	k, v, ok := lookup(keys)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	l.warnf("invalid boolean %s=%q, using default %t", k, v, def)
	return def
}
