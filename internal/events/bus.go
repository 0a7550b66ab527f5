/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"sync"

	"github.com/friendsincode/grimnir_playback/internal/telemetry"
)

// EventType enumerates event categories.
type EventType string

const (
	EventSessionCreated EventType = "session.created"
	EventSessionClosed  EventType = "session.closed"

	EventMetadata     EventType = "playback.metadata"
	EventFirstFrame   EventType = "playback.first_frame"
	EventPosition     EventType = "playback.position"
	EventSeekStarted  EventType = "playback.seek_started"
	EventSeekStopped  EventType = "playback.seek_stopped"
	EventEnded        EventType = "playback.ended"
	EventError        EventType = "playback.error"
	EventReadyState   EventType = "playback.ready_state"
	EventDuration     EventType = "playback.duration"
	EventStateChanged EventType = "playback.state"
)

// AllEventTypes lists every event type, for subscribers that want them all.
var AllEventTypes = []EventType{
	EventSessionCreated, EventSessionClosed,
	EventMetadata, EventFirstFrame, EventPosition,
	EventSeekStarted, EventSeekStopped, EventEnded, EventError,
	EventReadyState, EventDuration, EventStateChanged,
}

// Payload generic event payload.
type Payload map[string]any

// SessionID returns the session_id field, if any.
func (p Payload) SessionID() string {
	id, _ := p["session_id"].(string)
	return id
}

// Subscriber receives event payloads.
type Subscriber chan Payload

// Broker is the publish/subscribe surface shared by the in-process bus and
// the distributed backends.
type Broker interface {
	Subscribe(eventType EventType) Subscriber
	Publish(eventType EventType, payload Payload)
	Unsubscribe(eventType EventType, sub Subscriber)
}

// Bus implements a simple in-process pubsub.
type Bus struct {
	backend string

	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return NewBusForBackend("memory")
}

// NewBusForBackend creates a bus whose metrics carry the given backend label.
func NewBusForBackend(backend string) *Bus {
	return &Bus{backend: backend, subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 32)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Full subscribers miss the event.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	telemetry.EventsPublished.WithLabelValues(b.backend, string(eventType)).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
			telemetry.EventsDropped.WithLabelValues(b.backend).Inc()
		}
	}
}

// Unsubscribe removes the subscriber and closes it. Unknown subscribers are
// ignored.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// SubscriberCount returns the number of subscribers for eventType.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}
