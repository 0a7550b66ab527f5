/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus mirrors playback events between nodes over Redis pub/sub
// or NATS. Local subscribers are always served by an in-process bus.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/grimnir_playback/internal/events"
)

// subjectPrefix namespaces wire channels and subjects.
const subjectPrefix = "grimnir."

// busMessage is the wire envelope shared by the Redis and NATS backends.
type busMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(busMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*busMessage, error) {
	var msg busMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal bus message: %w", err)
	}
	if msg.EventType == "" {
		return nil, fmt.Errorf("unmarshal bus message: missing event_type")
	}
	return &msg, nil
}

// subjectFor maps an event type to its wire name, e.g.
// "playback.ended" -> "grimnir.playback.ended".
func subjectFor(eventType events.EventType) string {
	return subjectPrefix + string(eventType)
}

// NodeID builds a node identity from the instance id (or hostname) plus a
// random suffix so restarts never collide.
func NodeID(instanceID string) string {
	if instanceID == "" {
		instanceID, _ = os.Hostname()
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		instanceID = "node"
	}
	return instanceID + "-" + uuid.NewString()[:8]
}
