/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/grimnir_playback/internal/events"
	"github.com/friendsincode/grimnir_playback/internal/telemetry"
)

const (
	wsPingInterval = 15 * time.Second
	wsWriteTimeout = 5 * time.Second
)

type streamedEvent struct {
	Type    events.EventType `json:"type"`
	Payload events.Payload   `json:"payload"`
}

// handleEvents streams one session's events over a websocket until the
// client goes away or the session shuts down. The optional types query
// parameter is a comma-separated list of event types.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = events.AllEventTypes
	}

	// Subscribe before the handshake so no event published after it is lost.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	out := make(chan streamedEvent, 64)
	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		sub := a.bus.Subscribe(eventType)
		subscribers = append(subscribers, sub)
		go forwardSessionEvents(ctx, s.ID(), eventType, sub, out)
	}
	defer func() {
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	// CloseRead drains control frames and cancels ctx when the peer leaves.
	ctx = conn.CloseRead(ctx)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-s.Done():
			a.drain(ctx, conn, out)
			conn.Close(ws.StatusNormalClosure, "session closed")
			return
		case <-ticker.C:
			if err := a.write(ctx, conn, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case ev := <-out:
			if err := a.writeEvent(ctx, conn, ev); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

// drain flushes events already queued for a closing session.
func (a *API) drain(ctx context.Context, conn *ws.Conn, out <-chan streamedEvent) {
	for {
		select {
		case ev := <-out:
			if err := a.writeEvent(ctx, conn, ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func forwardSessionEvents(ctx context.Context, sessionID string, eventType events.EventType, sub events.Subscriber, out chan<- streamedEvent) {
	for payload := range sub {
		if payload.SessionID() != sessionID {
			continue
		}
		select {
		case out <- streamedEvent{Type: eventType, Payload: payload}:
		case <-ctx.Done():
			return
		}
	}
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, ev streamedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return a.write(ctx, conn, data)
}

func (a *API) write(ctx context.Context, conn *ws.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, ws.MessageText, data)
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	var out []events.EventType
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, events.EventType(part))
	}
	return out
}
