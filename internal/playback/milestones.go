/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"

	"github.com/friendsincode/grimnir_playback/internal/media"
)

// Milestone handlers run on the actor goroutine. Each first checks that the
// posting state machine is still current, so stale messages from a torn
// down machine are dropped.

func (d *Decoder) currentLocked(sm *StateMachine) bool {
	return d.sm == sm && d.playState != PlayShutdown
}

func (d *Decoder) onMetadataLoaded(ctx context.Context, sm *StateMachine, md media.Metadata) {
	d.mon.Lock()
	if !d.currentLocked(sm) {
		d.mon.Unlock()
		return
	}
	d.metadata = md
	if md.Duration > 0 && !d.infinite {
		d.duration = md.Duration
	} else {
		d.duration = -1
	}
	d.seekable = d.res.Seekable() && !d.infinite
	d.mon.Unlock()

	d.logger.Debug().
		Int("channels", md.Channels).
		Int("rate", md.Rate).
		Bool("audio", md.HasAudio).
		Bool("video", md.HasVideo).
		Float64("duration", md.Duration).
		Msg("metadata loaded")
	d.element.MetadataLoaded(ctx, md)
}

func (d *Decoder) onFirstFrameLoaded(ctx context.Context, sm *StateMachine) {
	d.mon.Lock()
	if !d.currentLocked(sm) {
		d.mon.Unlock()
		return
	}
	if d.playState == PlayLoading {
		if d.requestedSeekTime >= 0 {
			d.setPlayStateLocked(PlaySeeking)
		} else {
			d.setPlayStateLocked(d.nextState)
		}
	}
	changed := d.setReadyStateLocked(ReadyAvailable)
	d.scheduleLocked()
	d.mon.Unlock()

	d.element.FirstFrameLoaded(ctx)
	if changed {
		d.element.ReadyStateChanged(ctx, ReadyAvailable)
	}
}

func (d *Decoder) onPositionChanged(ctx context.Context, sm *StateMachine, t float64) {
	d.mon.Lock()
	ok := d.currentLocked(sm) && d.playState != PlaySeeking
	d.mon.Unlock()
	if ok {
		d.element.PlaybackPositionChanged(ctx, t)
	}
}

func (d *Decoder) onSeekingStarted(ctx context.Context, sm *StateMachine) {
	d.mon.Lock()
	if !d.currentLocked(sm) {
		d.mon.Unlock()
		return
	}
	d.ignoreProgress = true
	d.mon.Unlock()
	d.element.SeekStarted(ctx)
}

// onSeekingStopped settles a seek. A seek requested after the engine took
// this one aborts it: the engine is already starting the next.
func (d *Decoder) onSeekingStopped(ctx context.Context, sm *StateMachine, atEnd bool, t float64) {
	d.mon.Lock()
	if !d.currentLocked(sm) {
		d.mon.Unlock()
		return
	}
	aborted := d.requestedSeekTime >= 0
	fireEnded := false
	if !aborted {
		d.ignoreProgress = false
		d.currentTime = t
		if d.playState == PlaySeeking {
			if atEnd && d.nextState != PlayPlaying {
				fireEnded = true
				d.setPlayStateLocked(PlayEnded)
				sm.requestShutdownLocked()
			} else {
				d.setPlayStateLocked(d.nextState)
			}
		}
	}
	d.scheduleLocked()
	d.mon.Unlock()

	if aborted {
		d.logger.Debug().Float64("time", t).Msg("seek superseded")
		return
	}
	if atEnd {
		d.element.SeekStoppedAtEnd(ctx)
	} else {
		d.element.SeekStopped(ctx)
	}
	if fireEnded {
		d.element.PlaybackEnded(ctx)
	}
}

func (d *Decoder) onPlaybackEnded(ctx context.Context, sm *StateMachine) {
	d.mon.Lock()
	if !d.currentLocked(sm) || d.playState == PlaySeeking || d.playState == PlayEnded {
		d.mon.Unlock()
		return
	}
	d.setPlayStateLocked(PlayEnded)
	sm.requestShutdownLocked()
	d.scheduleLocked()
	d.mon.Unlock()

	d.logger.Info().Msg("playback ended")
	d.element.PlaybackEnded(ctx)
}

func (d *Decoder) onDecodeError(ctx context.Context, sm *StateMachine, err error) {
	d.mon.Lock()
	if !d.currentLocked(sm) {
		d.mon.Unlock()
		return
	}
	d.err = err
	d.setPlayStateLocked(PlayEnded)
	d.requestedSeekTime = -1
	d.ignoreProgress = false
	changed := d.setReadyStateLocked(ReadyUnavailable)
	d.mon.Unlock()

	d.logger.Error().Err(err).Msg("decode error")
	d.element.DecodeError(ctx, err)
	if changed {
		d.element.ReadyStateChanged(ctx, ReadyUnavailable)
	}
}

func (d *Decoder) onReadyState(ctx context.Context, sm *StateMachine, rs ReadyState) {
	d.mon.Lock()
	changed := d.currentLocked(sm) && d.setReadyStateLocked(rs)
	d.mon.Unlock()
	if changed {
		d.element.ReadyStateChanged(ctx, rs)
	}
}

func (d *Decoder) onDurationChanged(ctx context.Context, sm *StateMachine, seconds float64) {
	d.mon.Lock()
	if !d.currentLocked(sm) || d.infinite || seconds == d.duration {
		d.mon.Unlock()
		return
	}
	d.duration = seconds
	d.mon.Unlock()
	d.element.DurationChanged(ctx, seconds)
}

func (d *Decoder) onAudioAvailable(ctx context.Context, sm *StateMachine, samples []float32, t float64) {
	if d.audioL == nil {
		return
	}
	d.mon.Lock()
	ok := d.currentLocked(sm)
	d.mon.Unlock()
	if ok {
		d.audioL.AudioAvailable(ctx, samples, t)
	}
}

// onStopped handles the terminal message of a state machine: its scheduler
// reference is released exactly once here.
func (d *Decoder) onStopped(ctx context.Context, sm *StateMachine) {
	d.mon.Lock()
	if d.sm != sm {
		d.mon.Unlock()
		return
	}
	d.sm = nil
	d.lastEngine = EngineShutdown
	sched := d.sched
	d.sched = nil
	state := d.playState
	d.mon.Broadcast()
	d.mon.Unlock()

	d.registry.Release(sched)
	d.logger.Debug().Msg("state machine stopped")

	switch {
	case state == PlayShutdown:
		d.finish()
	case d.replayPending:
		d.replayPending = false
		_ = d.reload(ctx)
	}
}

func (d *Decoder) setReadyStateLocked(rs ReadyState) bool {
	if d.readyState == rs {
		return false
	}
	d.readyState = rs
	return true
}
