/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package camera

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/caninspect/internal/telemetry"
)

// Latest is the newest frame of a camera together with its JPEG encoding.
// Values are never modified after they are stored.
type Latest struct {
	Frame      Frame
	JPEG       []byte
	Seq        uint64
	ReceivedAt time.Time
}

// feed holds the latest frame of one camera.
type feed struct {
	camera Camera

	mu      sync.RWMutex
	latest  *Latest
	seq     uint64
	clients int
}

// Hub keeps one latest-frame slot per catalog camera. Sources write frames,
// stream handlers read them.
type Hub struct {
	catalog *Catalog
	feeds   map[string]*feed
	logger  zerolog.Logger
}

// NewHub creates a hub for every camera in the catalog.
func NewHub(catalog *Catalog, logger zerolog.Logger) *Hub {
	h := &Hub{
		catalog: catalog,
		feeds:   make(map[string]*feed),
		logger:  logger.With().Str("component", "camera").Logger(),
	}
	for _, cam := range catalog.List() {
		h.feeds[cam.ID] = &feed{camera: cam}
	}
	return h
}

// Catalog returns the cameras served by the hub.
func (h *Hub) Catalog() *Catalog {
	return h.catalog
}

// Publish encodes a frame and makes it the latest of the camera. Frames that
// fail to encode are dropped and the previous frame stays current.
func (h *Hub) Publish(cameraID string, frame Frame) error {
	f, err := h.feed(cameraID)
	if err != nil {
		return err
	}

	jpg, err := EncodeJPEG(frame)
	if err != nil {
		telemetry.CameraFrameErrorsTotal.WithLabelValues(cameraID).Inc()
		return err
	}

	f.mu.Lock()
	f.seq++
	if f.seq == 1 {
		h.logger.Info().
			Str("camera", cameraID).
			Int("width", frame.Width).
			Int("height", frame.Height).
			Str("format", string(frame.Format)).
			Msg("first frame received")
	}
	f.latest = &Latest{
		Frame:      frame,
		JPEG:       jpg,
		Seq:        f.seq,
		ReceivedAt: time.Now(),
	}
	f.mu.Unlock()

	telemetry.CameraFramesTotal.WithLabelValues(cameraID).Inc()
	return nil
}

// Latest returns the newest frame of a camera.
func (h *Hub) Latest(cameraID string) (*Latest, error) {
	f, err := h.feed(cameraID)
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.latest == nil {
		return nil, ErrNoFrame
	}
	return f.latest, nil
}

// Watch calls fn with the latest frame once per delay until ctx ends or fn
// returns an error. Ticks before the first frame are skipped. format labels
// the client in the stream gauge.
func (h *Hub) Watch(ctx context.Context, cameraID, format string, delay time.Duration, fn func(*Latest) error) error {
	f, err := h.feed(cameraID)
	if err != nil {
		return err
	}

	gauge := telemetry.CameraStreamClients.WithLabelValues(cameraID, format)
	gauge.Inc()
	f.mu.Lock()
	f.clients++
	clients := f.clients
	f.mu.Unlock()
	h.logger.Debug().Str("camera", cameraID).Str("format", format).Int("clients", clients).Msg("client connected")

	defer func() {
		gauge.Dec()
		f.mu.Lock()
		f.clients--
		clients := f.clients
		f.mu.Unlock()
		h.logger.Debug().Str("camera", cameraID).Str("format", format).Int("clients", clients).Msg("client disconnected")
	}()

	ticker := time.NewTicker(delay)
	defer ticker.Stop()

	for {
		f.mu.RLock()
		latest := f.latest
		f.mu.RUnlock()

		if latest != nil {
			if err := fn(latest); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ClientCount returns the number of stream clients watching a camera.
func (h *Hub) ClientCount(cameraID string) int {
	f, err := h.feed(cameraID)
	if err != nil {
		return 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.clients
}

func (h *Hub) feed(cameraID string) (*feed, error) {
	f, ok := h.feeds[cameraID]
	if !ok {
		return nil, ErrUnknownCamera
	}
	return f, nil
}
