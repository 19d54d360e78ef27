/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus extends the in-process event bus across processes over
// NATS or Redis, so the viewer sees conveyor events raised by the spawner.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/caninspect/internal/config"
	"github.com/friendsincode/caninspect/internal/events"
)

// Bus is implemented by every bus flavour.
type Bus interface {
	events.Publisher
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
	Close() error
}

// New returns the bus selected by configuration. Distributed buses fall back
// to in-process delivery when their server is unreachable.
func New(cfg *config.Config, logger zerolog.Logger) (Bus, error) {
	logger = logger.With().Str("component", "eventbus").Logger()
	nodeID := NewNodeID()

	switch cfg.EventBus {
	case config.EventBusNATS:
		natsCfg := DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.SubjectPrefix = cfg.NATSSubjectPrefix
		return NewNATSBus(natsCfg, nodeID, logger), nil
	case config.EventBusRedis:
		redisCfg := DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		redisCfg.ChannelPrefix = cfg.NATSSubjectPrefix
		return NewRedisBus(redisCfg, nodeID, logger), nil
	case config.EventBusMemory, "":
		return NewMemoryBus(), nil
	default:
		return nil, fmt.Errorf("unknown event bus %q", cfg.EventBus)
	}
}

// MemoryBus is the in-process bus with a no-op Close.
type MemoryBus struct {
	*events.Bus
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{Bus: events.NewBus()}
}

// Close implements Bus.
func (MemoryBus) Close() error { return nil }

// NewNodeID identifies this process in published messages, so a bus can
// skip its own messages when they come back from the server.
func NewNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}

// envelope is the wire format shared by the NATS and Redis buses.
type envelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalEnvelope(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(envelope{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if env.EventType == "" {
		return nil, fmt.Errorf("unmarshal event: missing event type")
	}
	return &env, nil
}

func subject(prefix string, eventType events.EventType) string {
	if prefix == "" {
		return string(eventType)
	}
	return prefix + "." + string(eventType)
}
