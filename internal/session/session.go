/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playback/internal/events"
	"github.com/friendsincode/grimnir_playback/internal/playback"
)

// Session is one playback of one resource.
type Session struct {
	id        string
	uri       string
	createdAt time.Time
	decoder   *playback.Decoder
	positions PositionStore
	bus       events.Broker
	logger    zerolog.Logger
}

// Info is the JSON view of a session.
type Info struct {
	playback.Snapshot
	CreatedAt time.Time `json:"created_at"`
}

func (s *Session) ID() string { return s.id }

func (s *Session) URI() string { return s.uri }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Decoder exposes the underlying decoder.
func (s *Session) Decoder() *playback.Decoder { return s.decoder }

// Done is closed when the session has shut down.
func (s *Session) Done() <-chan struct{} { return s.decoder.Done() }

// Info captures the session state.
func (s *Session) Info() Info {
	snap := s.decoder.Snapshot()
	if snap.URI == "" {
		snap.URI = s.uri
	}
	return Info{Snapshot: snap, CreatedAt: s.createdAt}
}

func (s *Session) Play(ctx context.Context) error {
	if err := s.decoder.Play(ctx); err != nil {
		return err
	}
	s.publishState()
	return nil
}

// Pause pauses playback and saves the position.
func (s *Session) Pause(ctx context.Context) error {
	if err := s.decoder.Pause(ctx); err != nil {
		return err
	}
	s.publishState()
	s.persist(ctx, false)
	return nil
}

func (s *Session) Seek(ctx context.Context, seconds float64) error {
	return s.decoder.Seek(ctx, seconds)
}

// SetVolume sets the volume, clamped to [0,1], and returns the applied value.
func (s *Session) SetVolume(v float64) float64 {
	s.decoder.SetVolume(v)
	return s.decoder.Volume()
}

// Close saves the position and shuts the decoder down. Ended sessions keep
// the position recorded when they ended.
func (s *Session) Close(ctx context.Context) error {
	switch s.decoder.State() {
	case playback.PlayEnded, playback.PlayShutdown, playback.PlayStart:
	default:
		s.persist(ctx, false)
	}
	return s.decoder.Shutdown(ctx)
}

func (s *Session) publishState() {
	s.bus.Publish(events.EventStateChanged, events.Payload{
		"session_id": s.id,
		"uri":        s.uri,
		"state":      s.decoder.State().String(),
		"timestamp":  time.Now().UTC(),
	})
}
