/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/caninspect/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	SubjectPrefix string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "caninspect",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus publishes events on <prefix>.<event type> subjects and delivers
// events from other nodes to local subscribers.
type NATSBus struct {
	conn   *nats.Conn
	cfg    NATSConfig
	local  *events.Bus
	nodeID string
	logger zerolog.Logger

	mu      sync.Mutex
	counts  map[events.EventType]int
	remotes map[events.EventType]*nats.Subscription
}

// NewNATSBus connects to NATS. When the server is unreachable the bus
// delivers in-process only.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) *NATSBus {
	nb := &NATSBus{
		cfg:     cfg,
		local:   events.NewBus(),
		nodeID:  nodeID,
		logger:  logger.With().Str("backend", "nats").Logger(),
		counts:  make(map[events.EventType]int),
		remotes: make(map[events.EventType]*nats.Subscription),
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("caninspect-"+nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			nb.logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			nb.logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		nb.logger.Warn().Err(err).Str("url", cfg.URL).Msg("NATS connection failed, using in-memory fallback")
		return nb
	}

	nb.conn = conn
	nb.logger.Info().Str("url", conn.ConnectedUrl()).Str("node_id", nodeID).Msg("NATS event bus initialized")
	return nb
}

// Connected reports whether events leave this process.
func (nb *NATSBus) Connected() bool {
	return nb.conn != nil && nb.conn.IsConnected()
}

// Subscribe registers a subscriber for an event type.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := nb.local.Subscribe(eventType)

	nb.mu.Lock()
	defer nb.mu.Unlock()
	nb.counts[eventType]++
	if nb.conn == nil || nb.remotes[eventType] != nil {
		return sub
	}

	remote, err := nb.conn.Subscribe(subject(nb.cfg.SubjectPrefix, eventType), nb.receive)
	if err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("NATS subscribe failed")
		return sub
	}
	nb.remotes[eventType] = remote
	return sub
}

// receive delivers a message from another node to local subscribers.
func (nb *NATSBus) receive(msg *nats.Msg) {
	env, err := unmarshalEnvelope(msg.Data)
	if err != nil {
		nb.logger.Error().Err(err).Str("subject", msg.Subject).Msg("dropping malformed event")
		return
	}
	if env.NodeID == nb.nodeID {
		return
	}
	nb.local.Publish(env.EventType, env.Payload)
}

// Publish sends an event to local subscribers and to NATS.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)
	if nb.conn == nil {
		return
	}

	data, err := marshalEnvelope(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to marshal event")
		return
	}
	if err := nb.conn.Publish(subject(nb.cfg.SubjectPrefix, eventType), data); err != nil {
		nb.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("NATS publish failed")
	}
}

// Unsubscribe removes a subscriber and drops the NATS subscription with the
// last local subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)

	nb.mu.Lock()
	defer nb.mu.Unlock()
	if nb.counts[eventType] > 0 {
		nb.counts[eventType]--
	}
	if nb.counts[eventType] == 0 {
		if remote := nb.remotes[eventType]; remote != nil {
			_ = remote.Unsubscribe()
			delete(nb.remotes, eventType)
		}
	}
}

// Conn returns the NATS connection, or nil in fallback mode.
func (nb *NATSBus) Conn() *nats.Conn {
	return nb.conn
}

// Close drains the NATS connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil {
		return nil
	}
	nb.logger.Info().Msg("closing NATS event bus")
	return nb.conn.Drain()
}
