/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"fmt"

	"github.com/friendsincode/grimnir_playback/internal/media"
	"github.com/friendsincode/grimnir_playback/internal/telemetry"
)

// audioLoop drains the audio queue into the sink at real-time rate. It waits
// while paused and exits on its own once the stream is fully played.
func (sm *StateMachine) audioLoop() {
	defer func() {
		sm.mon.Lock()
		sm.audioRunning = false
		sm.mon.Broadcast()
		sm.mon.Unlock()
		sm.schedule()
	}()

	var (
		sink      media.AudioSink
		volume    = -1.0
		underruns int64
		avail     audioBlock
	)

	for {
		sm.mon.Lock()
		for {
			if sm.audioStop {
				sm.mon.Unlock()
				return
			}
			if sm.audioQ.Len() == 0 && (sm.audioExhausted || (sm.state == EngineCompleted && sm.decodeEnded)) {
				sm.audioCompleted = true
				sm.mon.Unlock()
				return
			}
			if sm.audioReadyLocked() {
				break
			}
			sm.mon.Wait()
		}

		f := sm.audioQ.pop()
		gen := sm.audioGen
		if !sm.audioClockSet {
			sm.audioClockBase = f.Time
			sm.framesWritten = 0
			sm.audioClockSet = true
		}
		vol := sm.d.volume
		channels, rateHz := sm.metadata.Channels, sm.metadata.Rate
		blockLen := sm.d.frameBufferLength
		sink = sm.sink
		sm.mon.Broadcast()
		sm.mon.Unlock()

		if sink == nil {
			s := sm.opts.NewAudioSink()
			if err := s.Open(channels, rateHz); err != nil {
				sm.mon.Lock()
				sm.failLocked(fmt.Errorf("%w: open: %v", ErrAudioSink, err))
				sm.mon.Unlock()
				return
			}
			sm.mon.Lock()
			sm.sink = s
			sm.mon.Unlock()
			sink = s
		}
		if vol != volume {
			sink.SetVolume(vol)
			volume = vol
		}

		err := sink.Write(f.Samples)
		if n := sink.Underruns(); n > underruns {
			telemetry.AudioUnderruns.Add(float64(n - underruns))
			underruns = n
		}

		sm.mon.Lock()
		if err != nil {
			if !sm.audioStop {
				sm.failLocked(fmt.Errorf("%w: %v", ErrAudioSink, err))
			}
			sm.mon.Unlock()
			return
		}
		current := gen == sm.audioGen
		if current && channels > 0 {
			sm.framesWritten += int64(len(f.Samples) / channels)
			sm.playbackPosition = f.Offset
		}
		sm.mon.Unlock()

		if sm.d.audioL != nil && current {
			for _, b := range avail.add(gen, f, blockLen, channels, rateHz) {
				sm.d.post(func(ctx context.Context) { sm.d.onAudioAvailable(ctx, sm, b.samples, b.time) })
			}
		}
	}
}

func (sm *StateMachine) audioReadyLocked() bool {
	return sm.d.playState == PlayPlaying &&
		(sm.state == EngineDecoding || sm.state == EngineCompleted) &&
		sm.audioQ.Len() > 0
}

// audioBlock regroups played samples into fixed-size blocks for
// audio-available delivery.
type audioBlock struct {
	gen     uint64
	buf     []float32
	startAt float64
}

type readyBlock struct {
	samples []float32
	time    float64
}

func (a *audioBlock) add(gen uint64, f *media.Frame, size, channels, rate int) []readyBlock {
	if gen != a.gen {
		a.gen = gen
		a.buf = a.buf[:0]
	}
	if len(a.buf) == 0 {
		a.startAt = f.Time
	}
	a.buf = append(a.buf, f.Samples...)

	var out []readyBlock
	for size > 0 && len(a.buf) >= size {
		block := make([]float32, size)
		copy(block, a.buf[:size])
		out = append(out, readyBlock{samples: block, time: a.startAt})

		n := copy(a.buf, a.buf[size:])
		a.buf = a.buf[:n]
		if channels > 0 && rate > 0 {
			a.startAt += float64(size/channels) / float64(rate)
		}
	}
	return out
}
