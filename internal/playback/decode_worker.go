/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/friendsincode/grimnir_playback/internal/media"
	"github.com/friendsincode/grimnir_playback/internal/telemetry"
)

// decodeLoop pulls frames from the reader into the queues. It reads metadata
// first if needed and, for a seek, positions the reader and discards frames
// that end before the target.
func (sm *StateMachine) decodeLoop(ctx context.Context, cancel context.CancelFunc, seek float64) {
	defer func() {
		cancel()
		sm.mon.Lock()
		sm.decodeRunning = false
		sm.decodeCancel = nil
		sm.decodeWaitingFull = false
		sm.mon.Broadcast()
		sm.mon.Unlock()
		sm.schedule()
	}()

	sm.mon.Lock()
	needMetadata := !sm.haveMetadata
	sm.mon.Unlock()

	if needMetadata {
		md, err := sm.reader.ReadMetadata(ctx)
		sm.mon.Lock()
		if err != nil {
			sm.failUnlessStoppingLocked(fmt.Errorf("%w: metadata: %v", ErrDecode, err))
			sm.mon.Unlock()
			return
		}
		sm.metadata = md
		sm.haveMetadata = true
		sm.mon.Unlock()
		sm.schedule()
	}

	if seek >= 0 {
		if err := sm.reader.Seek(ctx, seek); err != nil {
			sm.mon.Lock()
			sm.failUnlessStoppingLocked(fmt.Errorf("%w: seek to %.3f: %v", ErrDecode, seek, err))
			sm.mon.Unlock()
			return
		}
	}

	for {
		sm.mon.Lock()
		for !sm.decodeStop && sm.decodeMustWaitLocked() {
			if !sm.decodeWaitingFull && sm.queuesFullLocked() {
				sm.decodeWaitingFull = true
				sm.schedule()
			}
			sm.mon.Wait()
		}
		sm.decodeWaitingFull = false
		if sm.decodeStop {
			sm.mon.Unlock()
			return
		}
		sm.mon.Unlock()

		f, err := sm.reader.DecodeNext(ctx)
		pos := sm.reader.Position()

		sm.mon.Lock()
		if sm.decodeStop {
			sm.mon.Unlock()
			return
		}
		sm.decodePosition = pos

		if errors.Is(err, io.EOF) || (err == nil && sm.pastEndTimeLocked(f)) {
			sm.decodeEnded = true
			if sm.seekTarget >= 0 {
				sm.seekDone = true
			}
			sm.mon.Broadcast()
			sm.mon.Unlock()
			return
		}
		if err != nil {
			sm.failUnlessStoppingLocked(fmt.Errorf("%w: %v", ErrDecode, err))
			sm.mon.Unlock()
			return
		}
		if f == nil {
			sm.mon.Unlock()
			continue
		}

		wake := sm.pushLocked(f)
		sm.mon.Unlock()
		if wake {
			sm.schedule()
		}
	}
}

// pushLocked queues f and reports whether a cycle should run.
func (sm *StateMachine) pushLocked(f *media.Frame) bool {
	sm.normalizeLocked(f)

	wake := false
	if sm.seekTarget >= 0 && !sm.seekDone {
		if f.Time < sm.seekTarget && f.EndTime <= sm.seekTarget {
			return false
		}
		sm.seekDone = true
		wake = true
	}

	telemetry.FramesDecoded.WithLabelValues(f.Kind.String()).Inc()
	if f.Kind == media.FrameVideo {
		sm.videoQ.push(f)
		if sm.audioStarvedLocked() && (f.Time-sm.audioEnd >= audioGapLimit.Seconds() ||
			sm.videoQ.Len() >= sm.videoQ.limit*videoOverrunFactor) {
			sm.markAudioExhaustedLocked()
			wake = true
		}
	} else {
		if sm.audioExhausted {
			telemetry.FramesDropped.WithLabelValues(f.Kind.String()).Inc()
			return wake
		}
		sm.audioQ.push(f)
		sm.audioEnd = max(sm.audioEnd, f.EndTime)
	}

	if dur := sm.durationLocked(); dur > 0 && f.EndTime > dur {
		sm.metadata.Duration = f.EndTime
		sm.durationDirty = true
		wake = true
	}
	if !sm.firstFrame {
		sm.firstFrame = true
		wake = true
	}
	if sm.state == EngineBuffering || sm.state == EngineDecodingMetadata {
		wake = true
	}
	sm.mon.Broadcast()
	return wake
}

// normalizeLocked fills in EndTime for frames whose reader left it unset.
func (sm *StateMachine) normalizeLocked(f *media.Frame) {
	if f.EndTime > f.Time {
		return
	}
	if f.Kind == media.FrameAudio && sm.metadata.Channels > 0 && sm.metadata.Rate > 0 {
		frames := len(f.Samples) / sm.metadata.Channels
		f.EndTime = f.Time + float64(frames)/float64(sm.metadata.Rate)
		return
	}
	f.EndTime = f.Time
}

func (sm *StateMachine) decodeMustWaitLocked() bool {
	if sm.queuesFullLocked() {
		return true
	}
	// A newer seek will restart decoding; stop wasting reads once the
	// first frame is in.
	return sm.d.requestedSeekTime >= 0 && sm.firstFrame
}

func (sm *StateMachine) pastEndTimeLocked(f *media.Frame) bool {
	return f != nil && sm.d.endTime >= 0 && f.Time >= sm.d.endTime
}

// failUnlessStoppingLocked records err unless the worker is being stopped,
// in which case the read failed because its resource went away.
func (sm *StateMachine) failUnlessStoppingLocked(err error) {
	if !sm.decodeStop && !sm.shutdownRequested {
		sm.failLocked(err)
	}
}
