/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"time"

	"github.com/friendsincode/grimnir_playback/internal/events"
	"github.com/friendsincode/grimnir_playback/internal/media"
	"github.com/friendsincode/grimnir_playback/internal/playback"
	"github.com/friendsincode/grimnir_playback/internal/store"
)

const persistTimeout = 2 * time.Second

// busElement publishes decoder notifications on the event bus. The position
// is saved before seek-stopped and ended are published.
type busElement struct {
	sess *Session
	bus  events.Broker
}

func (e *busElement) publish(t events.EventType, fields events.Payload) {
	p := events.Payload{
		"session_id": e.sess.id,
		"uri":        e.sess.uri,
		"timestamp":  time.Now().UTC(),
	}
	for k, v := range fields {
		p[k] = v
	}
	e.bus.Publish(t, p)
}

func (e *busElement) MetadataLoaded(_ context.Context, md media.Metadata) {
	e.publish(events.EventMetadata, events.Payload{
		"duration":  md.Duration,
		"channels":  md.Channels,
		"rate":      md.Rate,
		"has_audio": md.HasAudio,
		"has_video": md.HasVideo,
		"tags":      md.Tags,
	})
}

func (e *busElement) FirstFrameLoaded(context.Context) {
	e.publish(events.EventFirstFrame, nil)
}

func (e *busElement) PlaybackPositionChanged(_ context.Context, seconds float64) {
	e.publish(events.EventPosition, events.Payload{"position": seconds})
}

func (e *busElement) PlaybackEnded(ctx context.Context) {
	e.sess.persist(ctx, true)
	e.publish(events.EventEnded, nil)
}

func (e *busElement) SeekStarted(context.Context) {
	e.publish(events.EventSeekStarted, nil)
}

func (e *busElement) SeekStopped(ctx context.Context) {
	e.sess.persist(ctx, false)
	e.publish(events.EventSeekStopped, events.Payload{"at_end": false, "position": e.sess.decoder.CurrentTime()})
}

func (e *busElement) SeekStoppedAtEnd(ctx context.Context) {
	e.sess.persist(ctx, false)
	e.publish(events.EventSeekStopped, events.Payload{"at_end": true, "position": e.sess.decoder.CurrentTime()})
}

func (e *busElement) DecodeError(_ context.Context, err error) {
	e.publish(events.EventError, events.Payload{"error": err.Error(), "reason": playback.ErrorReason(err)})
}

func (e *busElement) ReadyStateChanged(_ context.Context, rs playback.ReadyState) {
	e.publish(events.EventReadyState, events.Payload{"ready_state": rs.String()})
}

func (e *busElement) DurationChanged(_ context.Context, seconds float64) {
	e.publish(events.EventDuration, events.Payload{"duration": seconds})
}

// persist writes the session position to the store. Infinite streams have
// no meaningful position and are skipped.
func (s *Session) persist(ctx context.Context, ended bool) {
	if s.positions == nil || s.decoder.IsInfinite() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	pos := store.PlaybackPosition{
		ResourceURI: s.uri,
		SessionID:   s.id,
		Position:    s.decoder.CurrentTime(),
		Duration:    s.decoder.Duration(),
		Ended:       ended,
	}
	if ended && pos.Duration > 0 {
		pos.Position = pos.Duration
	}
	if err := s.positions.Save(ctx, pos); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist playback position")
	}
}
