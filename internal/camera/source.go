/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package camera

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/caninspect/internal/gazebo"
)

// Source delivers frames for every catalog camera into a hub until ctx ends.
type Source interface {
	Run(ctx context.Context, hub *Hub) error
}

// TopicSubscriber is the part of the engine client a GazeboSource needs.
type TopicSubscriber interface {
	Subscribe(ctx context.Context, topic string, handle func(gazebo.Image)) error
}

// GazeboSource subscribes to each camera's image topic on the engine.
type GazeboSource struct {
	engine     TopicSubscriber
	logger     zerolog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewGazeboSource creates a source reading engine topics.
func NewGazeboSource(engine TopicSubscriber, logger zerolog.Logger) *GazeboSource {
	return &GazeboSource{
		engine:     engine,
		logger:     logger.With().Str("component", "camera_source").Str("source", "gz").Logger(),
		minBackoff: time.Second,
		maxBackoff: 10 * time.Second,
	}
}

// Run subscribes to every camera and resubscribes with backoff when the echo
// process exits, which happens whenever the simulation restarts.
func (s *GazeboSource) Run(ctx context.Context, hub *Hub) error {
	var wg sync.WaitGroup
	for _, cam := range hub.Catalog().List() {
		wg.Add(1)
		go func(cam Camera) {
			defer wg.Done()
			s.follow(ctx, hub, cam)
		}(cam)
	}
	wg.Wait()
	return nil
}

func (s *GazeboSource) follow(ctx context.Context, hub *Hub, cam Camera) {
	backoff := s.minBackoff
	logger := s.logger.With().Str("camera", cam.ID).Str("topic", cam.Topic).Logger()

	for {
		received := false
		err := s.engine.Subscribe(ctx, cam.Topic, func(img gazebo.Image) {
			received = true
			frame, err := FrameFromImage(img)
			if err == nil {
				err = hub.Publish(cam.ID, frame)
			}
			if err != nil {
				logger.Debug().Err(err).Msg("frame dropped")
			}
		})
		if ctx.Err() != nil {
			return
		}
		if received {
			backoff = s.minBackoff
		}
		logger.Warn().Err(err).Dur("retry_in", backoff).Msg("camera subscription ended")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// FrameFromImage converts an engine image message.
func FrameFromImage(img gazebo.Image) (Frame, error) {
	format, err := ParsePixelFormat(img.PixelFormatType, int(img.Width), int(img.Step))
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Width:  int(img.Width),
		Height: int(img.Height),
		Step:   int(img.Step),
		Format: format,
		Data:   img.Data,
	}, nil
}

// NATS frame message headers.
const (
	HeaderWidth  = "Width"
	HeaderHeight = "Height"
	HeaderFormat = "Format"
	HeaderStep   = "Step"
)

// NATSSource receives raw frames published on <prefix>.frames.<camera id>, for
// bridges that forward engine images over NATS.
type NATSSource struct {
	conn   *nats.Conn
	prefix string
	logger zerolog.Logger
}

// NewNATSSource creates a source on an open connection.
func NewNATSSource(conn *nats.Conn, prefix string, logger zerolog.Logger) *NATSSource {
	return &NATSSource{
		conn:   conn,
		prefix: prefix,
		logger: logger.With().Str("component", "camera_source").Str("source", "nats").Logger(),
	}
}

// Subject returns the subject frames of a camera are published on.
func (s *NATSSource) Subject(cameraID string) string {
	return s.prefix + ".frames." + cameraID
}

// Run subscribes to every camera subject until ctx ends.
func (s *NATSSource) Run(ctx context.Context, hub *Hub) error {
	var subs []*nats.Subscription
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()

	for _, cam := range hub.Catalog().List() {
		cameraID := cam.ID
		sub, err := s.conn.Subscribe(s.Subject(cameraID), func(msg *nats.Msg) {
			frame, err := FrameFromMsg(msg)
			if err == nil {
				err = hub.Publish(cameraID, frame)
			}
			if err != nil {
				s.logger.Debug().Err(err).Str("camera", cameraID).Msg("frame dropped")
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", s.Subject(cameraID), err)
		}
		subs = append(subs, sub)
		s.logger.Info().Str("camera", cameraID).Str("subject", sub.Subject).Msg("subscribed")
	}

	<-ctx.Done()
	return nil
}

// FrameFromMsg decodes a raw frame message.
func FrameFromMsg(msg *nats.Msg) (Frame, error) {
	if msg.Header == nil {
		return Frame{}, fmt.Errorf("frame message without headers")
	}
	width, err := strconv.Atoi(msg.Header.Get(HeaderWidth))
	if err != nil {
		return Frame{}, fmt.Errorf("frame width: %w", err)
	}
	height, err := strconv.Atoi(msg.Header.Get(HeaderHeight))
	if err != nil {
		return Frame{}, fmt.Errorf("frame height: %w", err)
	}
	step := 0
	if v := msg.Header.Get(HeaderStep); v != "" {
		if step, err = strconv.Atoi(v); err != nil {
			return Frame{}, fmt.Errorf("frame step: %w", err)
		}
	}
	name := msg.Header.Get(HeaderFormat)
	if name == "" {
		name = string(FormatRGB)
	}
	format, err := ParsePixelFormat(name, width, step)
	if err != nil {
		return Frame{}, err
	}
	frame := Frame{Width: width, Height: height, Step: step, Format: format, Data: msg.Data}
	if err := frame.Validate(); err != nil {
		return Frame{}, err
	}
	return frame, nil
}
