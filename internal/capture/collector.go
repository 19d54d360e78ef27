/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/caninspect/internal/camera"
	"github.com/friendsincode/caninspect/internal/events"
	"github.com/friendsincode/caninspect/internal/gazebo"
	"github.com/friendsincode/caninspect/internal/telemetry"
)

const tracerName = "caninspect/capture"

const framePoll = 50 * time.Millisecond

// Scene is the part of the engine a collector places cans with.
type Scene interface {
	Spawn(ctx context.Context, identity, variant string, pose gazebo.Pose) error
	Remove(ctx context.Context, identity string) error
}

// FrameReader returns the newest frame of a camera.
type FrameReader interface {
	Latest(cameraID string) (*camera.Latest, error)
}

// CollectorOptions configures a training data run.
type CollectorOptions struct {
	Geometry Geometry
	Camera   string // Camera id in the frame reader

	// Cans spawn under the camera model, which is not where the sensor sits.
	CenterX float64
	CenterY float64

	GoodModel      string
	DefectiveModel string

	Samples   int     // Per class
	MaxOffset float64 // Uniform jitter in meters on both belt axes

	Settle       time.Duration // Wait after a spawn before taking a frame
	FrameTimeout time.Duration
	Clear        time.Duration // Wait after a removal before the next spawn
	Cleanup      bool          // Remove leftovers of an earlier run first

	Seed uint64
}

// Summary reports the outcome of a run.
type Summary struct {
	Pass     int
	Fail     int
	Skipped  int
	IndexKey string
}

// Collector spawns one can at a time under the inspection camera, grabs a
// frame for it and records the image with its label and bounding box.
type Collector struct {
	opts    CollectorOptions
	scene   Scene
	frames  FrameReader
	dataset *Dataset
	bus     events.Publisher
	logger  zerolog.Logger
	rng     *rand.Rand
	sleep   func(context.Context, time.Duration) error
}

// NewCollector validates opts. bus may be nil.
func NewCollector(opts CollectorOptions, scene Scene, frames FrameReader, dataset *Dataset, bus events.Publisher, logger zerolog.Logger) (*Collector, error) {
	if err := opts.Geometry.Validate(); err != nil {
		return nil, fmt.Errorf("camera geometry: %w", err)
	}
	switch {
	case opts.Samples <= 0:
		return nil, fmt.Errorf("samples per class must be positive, got %d", opts.Samples)
	case opts.MaxOffset < 0 || math.IsNaN(opts.MaxOffset) || math.IsInf(opts.MaxOffset, 0):
		return nil, fmt.Errorf("invalid offset %g", opts.MaxOffset)
	case opts.GoodModel == "" || opts.DefectiveModel == "":
		return nil, errors.New("model variants must be set")
	case opts.Camera == "":
		return nil, errors.New("camera id is required")
	}
	if opts.FrameTimeout <= 0 {
		opts.FrameTimeout = 2 * time.Second
	}
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Collector{
		opts:    opts,
		scene:   scene,
		frames:  frames,
		dataset: dataset,
		bus:     bus,
		logger:  logger.With().Str("component", "collector").Str("camera", opts.Camera).Logger(),
		rng:     rand.New(rand.NewPCG(seed, seed)),
		sleep:   sleepCtx,
	}, nil
}

// EntityName is the engine name of the i-th can of a class.
func EntityName(label string, i int) string {
	return fmt.Sprintf("capture_can_%s_%03d", label, i)
}

// Run captures Samples images per class, PASS first, then writes the
// annotation index. A failed spawn or a missing frame skips the sample.
func (c *Collector) Run(ctx context.Context) (Summary, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "capture.collect")
	defer span.End()

	g := c.opts.Geometry
	c.logger.Info().
		Float64("distance", g.Distance()).
		Float64("pixels_per_meter", g.PixelsPerMeter()).
		Float64("can_radius_px", g.CanRadius*g.PixelsPerMeter()).
		Int("samples", c.opts.Samples).
		Msg("capture starting")

	if c.opts.Cleanup {
		c.cleanup(ctx)
	}

	var summary Summary
	for _, class := range []struct {
		label   string
		variant string
	}{
		{LabelPass, c.opts.GoodModel},
		{LabelFail, c.opts.DefectiveModel},
	} {
		for i := 0; i < c.opts.Samples; i++ {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			ok, err := c.sample(ctx, class.label, class.variant, i)
			if err != nil {
				telemetry.RecordError(span, err)
				return summary, err
			}
			if !ok {
				summary.Skipped++
				continue
			}
			if (i+1)%10 == 0 {
				c.logger.Info().Str("label", class.label).Int("captured", i+1).Int("of", c.opts.Samples).Msg("progress")
			}
		}
	}

	summary.Pass = c.dataset.Count(LabelPass)
	summary.Fail = c.dataset.Count(LabelFail)
	key, err := c.dataset.WriteIndex(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return summary, err
	}
	summary.IndexKey = key

	c.logger.Info().
		Int("pass", summary.Pass).
		Int("fail", summary.Fail).
		Int("skipped", summary.Skipped).
		Msg("capture complete")
	return summary, nil
}

// sample places one can, records it and removes it again. It reports false
// for a skipped sample; only storage errors and cancellation are returned.
func (c *Collector) sample(ctx context.Context, label, variant string, i int) (bool, error) {
	name := EntityName(label, i)
	dx := c.offset()
	dy := c.offset()
	yaw := c.rng.Float64() * 2 * math.Pi
	x, y := c.opts.CenterX+dx, c.opts.CenterY+dy

	log := c.logger.With().Str("entity", name).Str("label", label).Logger()

	if err := c.scene.Spawn(ctx, name, variant, gazebo.NewYawPose(x, y, c.opts.Geometry.CanZ, yaw)); err != nil {
		telemetry.CaptureSamplesTotal.WithLabelValues(label, "spawn_error").Inc()
		log.Warn().Err(err).Msg("spawn failed, skipping")
		return false, nil
	}
	defer c.remove(ctx, log, name)

	if err := c.sleep(ctx, c.opts.Settle); err != nil {
		return false, err
	}

	jpeg, err := c.nextFrame(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		telemetry.CaptureSamplesTotal.WithLabelValues(label, "no_frame").Inc()
		log.Warn().Err(err).Msg("no frame, skipping")
		return false, nil
	}

	a, err := c.dataset.Add(ctx, Annotation{
		Filename: SampleFilename(label, i),
		Label:    label,
		BBox:     c.opts.Geometry.BoundingBox(x, y),
		XOffset:  dx,
		YOffset:  dy,
		Yaw:      yaw,
	}, jpeg)
	if err != nil {
		telemetry.CaptureSamplesTotal.WithLabelValues(label, "store_error").Inc()
		return false, err
	}
	telemetry.CaptureSamplesTotal.WithLabelValues(label, "ok").Inc()
	log.Debug().Str("location", a.Location).Msg("sample captured")
	if c.bus != nil {
		c.bus.Publish(events.EventSampleCaptured, events.Payload{
			"label":    label,
			"filename": a.Filename,
			"location": a.Location,
		})
	}
	return true, nil
}

func (c *Collector) offset() float64 {
	return (c.rng.Float64()*2 - 1) * c.opts.MaxOffset
}

// nextFrame waits for a frame newer than the one current on entry.
func (c *Collector) nextFrame(ctx context.Context) ([]byte, error) {
	var seen uint64
	if l, err := c.frames.Latest(c.opts.Camera); err == nil {
		seen = l.Seq
	} else if !errors.Is(err, camera.ErrNoFrame) {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.FrameTimeout)
	defer cancel()
	for {
		if l, err := c.frames.Latest(c.opts.Camera); err == nil && l.Seq > seen {
			return l.JPEG, nil
		}
		if err := c.sleep(ctx, framePoll); err != nil {
			return nil, fmt.Errorf("no new frame within %s", c.opts.FrameTimeout)
		}
	}
}

func (c *Collector) remove(ctx context.Context, log zerolog.Logger, name string) {
	// Removal runs even when the run is being cancelled.
	if err := c.scene.Remove(context.WithoutCancel(ctx), name); err != nil {
		log.Warn().Err(err).Msg("remove failed")
		return
	}
	_ = c.sleep(ctx, c.opts.Clear)
}

// cleanup removes cans a previous run may have left behind. Most names do
// not exist, so failures are expected and ignored.
func (c *Collector) cleanup(ctx context.Context) {
	removed := 0
	for _, label := range []string{LabelPass, LabelFail} {
		for i := 0; i < c.opts.Samples; i++ {
			if ctx.Err() != nil {
				return
			}
			if err := c.scene.Remove(ctx, EntityName(label, i)); err == nil {
				removed++
			}
		}
	}
	c.logger.Info().Int("removed", removed).Msg("scene cleaned")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
