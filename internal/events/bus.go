/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventPoolSpawned   EventType = "conveyor.pool_spawned"
	EventSlotRecycled  EventType = "conveyor.slot_recycled"
	EventPoseFailed    EventType = "conveyor.pose_failed"
	EventWorldUnpaused EventType = "world.unpaused"

	EventRobotConfigUpdated EventType = "robot.config_updated"
	EventRobotRestarted     EventType = "robot.restarted"

	EventSnapshotCaptured EventType = "camera.snapshot_captured"
	EventSampleCaptured   EventType = "capture.sample_captured"
)

// AllEventTypes lists every event type, in a stable order, for relays that
// forward everything.
var AllEventTypes = []EventType{
	EventPoolSpawned,
	EventSlotRecycled,
	EventPoseFailed,
	EventWorldUnpaused,
	EventRobotConfigUpdated,
	EventRobotRestarted,
	EventSnapshotCaptured,
	EventSampleCaptured,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is implemented by every bus flavour.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Bus implements a simple in-process pubsub. Slow subscribers lose events
// rather than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 32)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. The read lock is held across the
// sends so Unsubscribe cannot close a channel mid-delivery; sends never block.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber and closes it.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			b.subs[eventType] = append(subs[:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}
