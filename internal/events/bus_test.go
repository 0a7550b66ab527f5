/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/friendsincode/grimnir_playback/internal/telemetry"
)

func TestBusDeliversToSubscribersOfType(t *testing.T) {
	bus := NewBus()
	ended := bus.Subscribe(EventEnded)
	pos := bus.Subscribe(EventPosition)

	bus.Publish(EventEnded, Payload{"session_id": "abc"})

	select {
	case p := <-ended:
		if p.SessionID() != "abc" {
			t.Fatalf("SessionID() = %q", p.SessionID())
		}
	default:
		t.Fatal("ended subscriber got nothing")
	}
	select {
	case p := <-pos:
		t.Fatalf("position subscriber got %v", p)
	default:
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBusForBackend("test-full")
	sub := bus.Subscribe(EventPosition)

	for range cap(sub) + 3 {
		bus.Publish(EventPosition, Payload{})
	}

	if got := testutil.ToFloat64(telemetry.EventsDropped.WithLabelValues("test-full")); got != 3 {
		t.Fatalf("dropped = %v, want 3", got)
	}
	if len(sub) != cap(sub) {
		t.Fatalf("buffered = %d, want %d", len(sub), cap(sub))
	}
}

func TestBusUnsubscribeClosesOnce(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventError)
	bus.Unsubscribe(EventError, sub)

	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel")
	}
	// A second unsubscribe must not panic on a double close.
	bus.Unsubscribe(EventError, sub)

	if n := bus.SubscriberCount(EventError); n != 0 {
		t.Fatalf("SubscriberCount = %d", n)
	}
	bus.Publish(EventError, Payload{})
}
