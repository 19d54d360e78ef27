/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package conveyor moves a fixed pool of cans along a virtual belt, recycling
// each can to the belt entry once it passes the exit.
package conveyor

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/friendsincode/caninspect/internal/config"
)

// ErrInvalidParams is wrapped by every parameter validation failure.
var ErrInvalidParams = errors.New("invalid conveyor parameters")

// Kind is the visual variant of a slot, fixed when the pool is created.
type Kind int

const (
	KindNormal Kind = iota
	KindDefective
)

func (k Kind) String() string {
	if k == KindDefective {
		return "defective"
	}
	return "normal"
}

// MarshalText renders the kind by name in JSON snapshots.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Slot is one can in the pool. Identity and Kind never change after creation.
type Slot struct {
	Identity string  `json:"identity"`
	Kind     Kind    `json:"kind"`
	Position float64 `json:"position"`
}

// Params describes the belt geometry, the pool and its motion.
type Params struct {
	EntryX    float64 // Belt entry offset along the travel axis
	ExitX     float64 // Slots strictly beyond this offset are recycled
	LateralY  float64
	Height    float64
	SpawnLift float64 // Added to Height for the spawn pose only

	PoolSize       int
	DefectiveCount int
	Spacing        float64

	Speed    float64 // Meters per second
	Interval time.Duration

	GoodModel      string
	DefectiveModel string
}

// ParamsFromConfig maps process configuration onto controller parameters.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		EntryX:         cfg.BeltEntryX,
		ExitX:          cfg.BeltExitX,
		LateralY:       cfg.BeltY,
		Height:         cfg.CanZ,
		SpawnLift:      cfg.SpawnLift,
		PoolSize:       cfg.PoolSize,
		DefectiveCount: cfg.DefectiveCount,
		Spacing:        cfg.CanSpacing,
		Speed:          cfg.BeltSpeed,
		Interval:       cfg.TickInterval,
		GoodModel:      cfg.GoodModel,
		DefectiveModel: cfg.DefectiveModel,
	}
}

// Validate reports the first parameter that would make ticking undefined.
func (p Params) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"belt entry", p.EntryX},
		{"belt exit", p.ExitX},
		{"lateral offset", p.LateralY},
		{"height", p.Height},
		{"spawn lift", p.SpawnLift},
		{"can spacing", p.Spacing},
		{"belt speed", p.Speed},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s must be finite, got %g", ErrInvalidParams, f.name, f.value)
		}
	}

	switch {
	case p.Interval <= 0:
		return fmt.Errorf("%w: tick interval must be positive, got %s", ErrInvalidParams, p.Interval)
	case p.Speed <= 0:
		return fmt.Errorf("%w: belt speed must be positive, got %g", ErrInvalidParams, p.Speed)
	case p.PoolSize <= 0:
		return fmt.Errorf("%w: pool size must be positive, got %d", ErrInvalidParams, p.PoolSize)
	case p.DefectiveCount < 0 || p.DefectiveCount >= p.PoolSize:
		return fmt.Errorf("%w: defective count must be in [0, %d), got %d", ErrInvalidParams, p.PoolSize, p.DefectiveCount)
	case p.Spacing <= 0:
		return fmt.Errorf("%w: can spacing must be positive, got %g", ErrInvalidParams, p.Spacing)
	case p.ExitX <= p.EntryX:
		return fmt.Errorf("%w: belt exit %g must lie beyond entry %g", ErrInvalidParams, p.ExitX, p.EntryX)
	case p.GoodModel == "" || p.DefectiveModel == "":
		return fmt.Errorf("%w: model variants must be set", ErrInvalidParams)
	}
	return nil
}

// Step is the distance every slot advances per tick.
func (p Params) Step() float64 {
	return p.Speed * p.Interval.Seconds()
}

// Variant returns the model URI spawned for a kind.
func (p Params) Variant(k Kind) string {
	if k == KindDefective {
		return p.DefectiveModel
	}
	return p.GoodModel
}

// Identity returns the engine name of the slot at index i.
func Identity(i int) string {
	return fmt.Sprintf("pool_can_%02d", i)
}

// NewPool lays out PoolSize slots Spacing apart starting at EntryX. The first
// DefectiveCount slots are defective.
func NewPool(p Params) []Slot {
	slots := make([]Slot, p.PoolSize)
	for i := range slots {
		kind := KindNormal
		if i < p.DefectiveCount {
			kind = KindDefective
		}
		slots[i] = Slot{
			Identity: Identity(i),
			Kind:     kind,
			Position: p.EntryX + float64(i)*p.Spacing,
		}
	}
	return slots
}
