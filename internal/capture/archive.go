/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package capture archives camera snapshots as training data.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/caninspect/internal/events"
	"github.com/friendsincode/caninspect/internal/storage"
)

const timestampLayout = "20060102T150405.000Z"

// Result describes one archived snapshot.
type Result struct {
	Key        string    `json:"key"`
	Location   string    `json:"location"`
	Camera     string    `json:"camera"`
	Bytes      int       `json:"bytes"`
	CapturedAt time.Time `json:"captured_at"`
}

// Archive writes JPEG snapshots into an object store.
type Archive struct {
	store  storage.ObjectStore
	bus    events.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

// NewArchive creates an archive. bus may be nil.
func NewArchive(store storage.ObjectStore, bus events.Publisher, logger zerolog.Logger) *Archive {
	return &Archive{
		store:  store,
		bus:    bus,
		logger: logger.With().Str("component", "capture").Logger(),
		now:    time.Now,
	}
}

// Key returns the object key for a snapshot of camera taken at t:
// <camera>/<UTC timestamp>-<uuid>.jpg.
func Key(camera string, t time.Time, id uuid.UUID) string {
	return fmt.Sprintf("%s/%s-%s.jpg", camera, t.UTC().Format(timestampLayout), id)
}

// Capture stores jpeg under a fresh key.
func (a *Archive) Capture(ctx context.Context, camera string, jpeg []byte) (Result, error) {
	if len(jpeg) == 0 {
		return Result{}, fmt.Errorf("capture %s: empty image", camera)
	}

	now := a.now()
	key := Key(camera, now, uuid.New())
	if err := a.store.Put(ctx, key, jpeg, "image/jpeg"); err != nil {
		return Result{}, fmt.Errorf("capture %s: %w", camera, err)
	}

	res := Result{
		Key:        key,
		Location:   a.store.Location(key),
		Camera:     camera,
		Bytes:      len(jpeg),
		CapturedAt: now.UTC(),
	}
	a.logger.Info().Str("camera", camera).Str("key", key).Int("bytes", len(jpeg)).Msg("snapshot captured")
	if a.bus != nil {
		a.bus.Publish(events.EventSnapshotCaptured, events.Payload{
			"camera": camera,
			"key":    key,
			"bytes":  len(jpeg),
		})
	}
	return res, nil
}
