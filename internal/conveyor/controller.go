/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package conveyor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/caninspect/internal/events"
	"github.com/friendsincode/caninspect/internal/gazebo"
	"github.com/friendsincode/caninspect/internal/telemetry"
)

const tracerName = "caninspect/conveyor"

// ErrNotInitialized is returned by Run before the pool has been spawned.
var ErrNotInitialized = errors.New("conveyor pool not initialized")

// Engine is the part of the simulation engine the controller drives.
type Engine interface {
	Spawn(ctx context.Context, identity, variant string, pose gazebo.Pose) error
	SetPose(ctx context.Context, identity string, pose gazebo.Pose) error
}

// PoseFailure records one rejected set pose request.
type PoseFailure struct {
	Identity string  `json:"identity"`
	Position float64 `json:"position"`
	Err      error   `json:"-"`
}

// TickReport summarizes one tick.
type TickReport struct {
	Tick     uint64
	Updated  int // Slots whose pose request succeeded
	Recycled []string
	Failures []PoseFailure
	Duration time.Duration
	Overran  bool // Duration exceeded the tick interval
}

// Snapshot is an immutable copy of the pool published after each tick.
type Snapshot struct {
	Tick      uint64    `json:"tick"`
	UpdatedAt time.Time `json:"updated_at"`
	Slots     []Slot    `json:"slots"`
}

// Controller owns the pool. Only the goroutine calling Initialize, Tick and
// Run touches the slots; other goroutines read Snapshot.
type Controller struct {
	params Params
	engine Engine
	bus    events.Publisher
	logger zerolog.Logger

	slots    []Slot
	tick     uint64
	snapshot atomic.Pointer[Snapshot]
}

// NewController validates params and lays out the pool. Nothing is sent to
// the engine until Initialize.
func NewController(params Params, engine Engine, bus events.Publisher, logger zerolog.Logger) (*Controller, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, fmt.Errorf("%w: engine is required", ErrInvalidParams)
	}

	c := &Controller{
		params: params,
		engine: engine,
		bus:    bus,
		logger: logger.With().Str("component", "conveyor").Logger(),
	}
	return c, nil
}

// Params returns the controller parameters.
func (c *Controller) Params() Params {
	return c.params
}

// Initialize creates the pool and spawns one model per slot. The first spawn
// error aborts initialization.
func (c *Controller) Initialize(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "conveyor.initialize")
	defer span.End()

	slots := NewPool(c.params)
	if last := slots[len(slots)-1].Position; last > c.params.ExitX {
		c.logger.Warn().
			Float64("last_position", last).
			Float64("exit", c.params.ExitX).
			Msg("pool is longer than the belt, trailing cans recycle on the first tick")
	}

	for _, slot := range slots {
		pose := c.pose(slot.Position)
		pose.Z += c.params.SpawnLift
		variant := c.params.Variant(slot.Kind)

		if err := c.engine.Spawn(ctx, slot.Identity, variant, pose); err != nil {
			telemetry.ConveyorSpawnsTotal.WithLabelValues("error").Inc()
			telemetry.RecordError(span, err)
			return fmt.Errorf("spawn %s: %w", slot.Identity, err)
		}
		telemetry.ConveyorSpawnsTotal.WithLabelValues("ok").Inc()

		c.logger.Info().
			Str("slot", slot.Identity).
			Stringer("kind", slot.Kind).
			Float64("x", slot.Position).
			Msg("spawned")
	}

	c.slots = slots
	telemetry.ConveyorPoolSlots.WithLabelValues(KindDefective.String()).Set(float64(c.params.DefectiveCount))
	telemetry.ConveyorPoolSlots.WithLabelValues(KindNormal.String()).Set(float64(c.params.PoolSize - c.params.DefectiveCount))
	c.publishSnapshot()

	c.logger.Info().
		Int("pool_size", c.params.PoolSize).
		Int("defective", c.params.DefectiveCount).
		Msg("pool initialized")
	c.publish(events.EventPoolSpawned, events.Payload{
		"pool_size": c.params.PoolSize,
		"defective": c.params.DefectiveCount,
	})
	return nil
}

// Tick advances every slot by one step, recycles slots past the exit and
// sends one pose update per slot in pool order. Pose failures are reported
// and logged, never returned.
func (c *Controller) Tick(ctx context.Context) TickReport {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "conveyor.tick")
	defer span.End()

	start := time.Now()
	c.tick++
	report := TickReport{Tick: c.tick}
	step := c.params.Step()

	for i := range c.slots {
		slot := &c.slots[i]
		slot.Position += step
		if slot.Position > c.params.ExitX {
			slot.Position = c.params.EntryX
			report.Recycled = append(report.Recycled, slot.Identity)
			telemetry.ConveyorRecyclesTotal.WithLabelValues(slot.Kind.String()).Inc()
			c.logger.Debug().Str("slot", slot.Identity).Msg("recycled")
			c.publish(events.EventSlotRecycled, events.Payload{
				"slot": slot.Identity,
				"kind": slot.Kind.String(),
				"tick": c.tick,
			})
		}

		if err := c.engine.SetPose(ctx, slot.Identity, c.pose(slot.Position)); err != nil {
			report.Failures = append(report.Failures, PoseFailure{
				Identity: slot.Identity,
				Position: slot.Position,
				Err:      err,
			})
			telemetry.ConveyorPoseFailuresTotal.WithLabelValues(slot.Identity).Inc()
			c.logger.Warn().Err(err).Str("slot", slot.Identity).Uint64("tick", c.tick).Msg("set pose failed")
			c.publish(events.EventPoseFailed, events.Payload{
				"slot":  slot.Identity,
				"tick":  c.tick,
				"error": err.Error(),
			})
			continue
		}
		report.Updated++
	}

	report.Duration = time.Since(start)
	telemetry.ConveyorTicksTotal.Inc()
	telemetry.ConveyorTickDuration.Observe(report.Duration.Seconds())
	if report.Duration > c.params.Interval {
		report.Overran = true
		telemetry.ConveyorTickOverrunsTotal.Inc()
		// Each pose update is one engine round trip, so the belt runs slow.
		c.logger.Warn().
			Uint64("tick", c.tick).
			Dur("duration", report.Duration).
			Dur("interval", c.params.Interval).
			Int("slots", len(c.slots)).
			Msg("tick overran interval")
	}
	c.publishSnapshot()
	return report
}

// Run ticks every Interval until ctx is cancelled. A tick that overruns the
// interval delays the next one; ticks never overlap.
func (c *Controller) Run(ctx context.Context) error {
	if c.slots == nil {
		return ErrNotInitialized
	}

	ticker := time.NewTicker(c.params.Interval)
	defer ticker.Stop()

	c.logger.Info().
		Dur("interval", c.params.Interval).
		Float64("speed", c.params.Speed).
		Msg("conveyor running")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Uint64("ticks", c.tick).Msg("conveyor stopped")
			return nil
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Snapshot returns the pool as of the last completed tick, or nil before
// Initialize.
func (c *Controller) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

func (c *Controller) pose(x float64) gazebo.Pose {
	return gazebo.NewPose(x, c.params.LateralY, c.params.Height)
}

func (c *Controller) publishSnapshot() {
	slots := make([]Slot, len(c.slots))
	copy(slots, c.slots)
	c.snapshot.Store(&Snapshot{
		Tick:      c.tick,
		UpdatedAt: time.Now(),
		Slots:     slots,
	})
}

func (c *Controller) publish(eventType events.EventType, payload events.Payload) {
	if c.bus != nil {
		c.bus.Publish(eventType, payload)
	}
}
