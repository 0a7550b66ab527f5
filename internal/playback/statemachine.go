/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/friendsincode/grimnir_playback/internal/media"
	"github.com/friendsincode/grimnir_playback/internal/scheduler"
	"github.com/friendsincode/grimnir_playback/internal/telemetry"
)

// StateMachine owns the decode and audio workers of one loaded resource and
// runs as a scheduler.Task. All fields below the reader share the decoder's
// monitor.
type StateMachine struct {
	d       *Decoder
	mon     *Monitor
	reader  media.Reader
	sched   *scheduler.Scheduler
	opts    Options
	logger  zerolog.Logger
	limiter *rate.Limiter

	state             EngineState
	shutdownRequested bool
	err               error
	errorPosted       bool
	closing           bool

	metadata       media.Metadata
	haveMetadata   bool
	metadataPosted bool
	firstFrame     bool
	durationDirty  bool

	audioQ *frameQueue
	videoQ *frameQueue

	decodeRunning     bool
	decodeStop        bool
	decodeCancel      context.CancelFunc
	decodeWaitingFull bool
	decodeEnded       bool

	seekTarget float64
	seekLaunch bool
	seekDone   bool

	audioRunning   bool
	audioStop      bool
	audioCompleted bool
	audioExhausted bool
	audioEnd       float64
	audioGen       uint64
	sink           media.AudioSink
	framesWritten  int64
	audioClockBase float64
	audioClockSet  bool

	wallBase    float64
	wallAnchor  time.Time
	wallRunning bool

	decodePosition   int64
	playbackPosition int64

	bufferingSince time.Time
	endedPosted    bool

	outbox  []func(context.Context)
	renders []*media.Frame
}

const (
	// videoOverrunFactor caps the video queue, as a multiple of its limit,
	// while the audio queue is starved.
	videoOverrunFactor = 4
	// audioGapLimit is how far decoded video may run past the last audio
	// before the audio track is treated as finished.
	audioGapLimit = time.Second
)

func newStateMachine(d *Decoder, reader media.Reader, sched *scheduler.Scheduler) *StateMachine {
	telemetry.EngineStateTransitions.WithLabelValues(EngineNone.String(), EngineDecodingMetadata.String()).Inc()
	return &StateMachine{
		d:          d,
		mon:        d.mon,
		reader:     reader,
		sched:      sched,
		opts:       d.opts,
		logger:     d.logger.With().Str("component", "state_machine").Logger(),
		limiter:    rate.NewLimiter(rate.Every(d.opts.PositionUpdateInterval), 1),
		state:      EngineDecodingMetadata,
		seekTarget: -1,
		audioQ:     newFrameQueue(d.opts.AudioQueueFrames),
		videoQ:     newFrameQueue(d.opts.VideoQueueFrames),
	}
}

// RunCycle implements scheduler.Task. It never blocks: milestones and video
// frames collected under the monitor are handed off after it is released.
func (sm *StateMachine) RunCycle(now time.Time) (time.Duration, bool) {
	delay, again, out, renders := sm.step(now)
	if vs := sm.opts.VideoSink; vs != nil {
		for _, f := range renders {
			vs.Render(f)
		}
	}
	for _, fn := range out {
		sm.d.post(fn)
	}
	return delay, again
}

func (sm *StateMachine) step(now time.Time) (time.Duration, bool, []func(context.Context), []*media.Frame) {
	sm.mon.Lock()
	defer sm.mon.Unlock()

	delay, again := sm.cycleLocked(now)
	out, renders := sm.outbox, sm.renders
	sm.outbox, sm.renders = nil, nil
	return delay, again, out, renders
}

// CyclePanicked implements scheduler.PanicHandler.
func (sm *StateMachine) CyclePanicked(v any) {
	sm.mon.Lock()
	sm.failLocked(fmt.Errorf("%w: %v", ErrCyclePanic, v))
	sm.mon.Unlock()
	sm.schedule()
}

func (sm *StateMachine) cycleLocked(now time.Time) (time.Duration, bool) {
	if sm.shutdownRequested || sm.err != nil || sm.state == EngineShutdown {
		return sm.shutdownLocked()
	}
	if sm.state == EngineDecodingMetadata {
		return sm.decodingMetadataLocked()
	}
	if sm.d.requestedSeekTime >= 0 {
		sm.beginSeekLocked()
	}
	if sm.state == EngineSeeking {
		return sm.seekingLocked()
	}
	return sm.playLocked(now)
}

func (sm *StateMachine) decodingMetadataLocked() (time.Duration, bool) {
	if !sm.decodeRunning && !sm.decodeEnded {
		sm.startDecodeLocked(-1)
		return 0, false
	}
	if sm.haveMetadata && !sm.metadataPosted {
		sm.metadataPosted = true
		md := sm.metadata
		sm.postLocked(func(ctx context.Context) { sm.d.onMetadataLoaded(ctx, sm, md) })
	}
	if !sm.haveMetadata || !(sm.firstFrame || sm.decodeEnded) {
		return 0, false
	}
	sm.transitionLocked(EngineDecoding)
	sm.postLocked(func(ctx context.Context) { sm.d.onFirstFrameLoaded(ctx, sm) })
	return 0, true
}

func (sm *StateMachine) beginSeekLocked() {
	target := sm.d.requestedSeekTime
	sm.d.requestedSeekTime = -1
	if target < 0 {
		target = 0
	}
	if dur := sm.durationLocked(); dur >= 0 && target > dur {
		target = dur
	}

	sm.stopDecodeLocked(true)
	sm.flushLocked()
	sm.decodeEnded = false
	sm.audioCompleted = false
	sm.audioExhausted = false
	sm.audioEnd = target
	sm.endedPosted = false
	sm.seekTarget = target
	sm.seekLaunch = true
	sm.seekDone = false

	if sm.state != EngineSeeking {
		sm.transitionLocked(EngineSeeking)
	}
	sm.logger.Debug().Float64("target", target).Msg("seek started")
	sm.postLocked(func(ctx context.Context) { sm.d.onSeekingStarted(ctx, sm) })
}

// seekingLocked waits for the old decode worker to exit, launches one at the
// seek target, and settles once it reports the first frame or end of stream.
func (sm *StateMachine) seekingLocked() (time.Duration, bool) {
	if sm.seekLaunch {
		if sm.decodeRunning {
			return 0, false
		}
		sm.seekLaunch = false
		sm.startDecodeLocked(sm.seekTarget)
		return 0, false
	}
	if !sm.seekDone {
		return 0, false
	}

	t := sm.seekTarget
	sm.seekTarget = -1
	sm.seekDone = false
	sm.resetClocksLocked(t)

	dur := sm.durationLocked()
	drained := sm.decodeEnded && sm.audioQ.Len() == 0 && sm.videoQ.Len() == 0
	atEnd := drained || (dur >= 0 && t >= dur)
	if sm.decodeEnded {
		sm.transitionLocked(EngineCompleted)
	} else {
		sm.transitionLocked(EngineDecoding)
	}
	sm.logger.Debug().Float64("time", t).Bool("at_end", atEnd).Msg("seek stopped")
	sm.postLocked(func(ctx context.Context) { sm.d.onSeekingStopped(ctx, sm, atEnd, t) })
	return 0, true
}

// playLocked handles Decoding, Buffering and Completed.
func (sm *StateMachine) playLocked(now time.Time) (time.Duration, bool) {
	d := sm.d
	playing := d.playState == PlayPlaying

	if sm.state == EngineBuffering {
		if sm.decodeEnded || sm.bufferedEnoughLocked() {
			sm.transitionLocked(EngineDecoding)
			sm.postReadyLocked(ReadyAvailable)
		} else if sm.opts.StallTimeout > 0 && now.Sub(sm.bufferingSince) >= sm.opts.StallTimeout {
			sm.failLocked(fmt.Errorf("%w after %s", ErrStalled, sm.opts.StallTimeout))
			return 0, true
		}
	}
	if sm.decodeEnded && sm.state == EngineDecoding {
		sm.transitionLocked(EngineCompleted)
	}
	if sm.metadata.HasVideo && sm.decodeEnded && sm.audioQ.Len() == 0 {
		sm.markAudioExhaustedLocked()
	}

	if !sm.decodeRunning && !sm.decodeEnded && (playing || !sm.queuesFullLocked()) {
		sm.startDecodeLocked(-1)
	}
	if d.playState == PlayPaused && sm.state == EngineDecoding && sm.decodeRunning && sm.decodeWaitingFull {
		sm.stopDecodeLocked(false)
	}
	if playing && sm.metadata.HasAudio && !sm.audioRunning && !sm.audioCompleted &&
		(sm.state == EngineDecoding || sm.state == EngineCompleted) {
		sm.startAudioLocked()
	}

	if sm.durationDirty {
		sm.durationDirty = false
		dur := sm.metadata.Duration
		sm.postLocked(func(ctx context.Context) { sm.d.onDurationChanged(ctx, sm, dur) })
	}

	running := playing && (sm.state == EngineDecoding || sm.state == EngineCompleted)
	sm.runWallClockLocked(running, now)
	t := sm.clockLocked(now)
	if d.playState == PlayPlaying || d.playState == PlayPaused {
		if t != d.currentTime {
			d.currentTime = t
			if sm.limiter.AllowN(now, 1) {
				sm.postLocked(func(ctx context.Context) { sm.d.onPositionChanged(ctx, sm, t) })
			}
		}
	}

	next := sm.syncVideoLocked(t)

	if sm.state == EngineDecoding && playing && sm.decodeRunning && !sm.decodeEnded && sm.underrunLocked() {
		sm.transitionLocked(EngineBuffering)
		sm.bufferingSince = now
		telemetry.BufferingEpisodes.Inc()
		sm.logger.Debug().Msg("buffering started")
		sm.postReadyLocked(ReadyBuffering)
	}

	if sm.state == EngineCompleted && playing &&
		(!sm.metadata.HasAudio || sm.audioCompleted) && sm.videoQ.Len() == 0 {
		if !sm.endedPosted {
			sm.endedPosted = true
			sm.postLocked(func(ctx context.Context) { sm.d.onPlaybackEnded(ctx, sm) })
		}
		return 0, false
	}
	if !playing {
		return 0, false
	}

	return sm.cycleDelay(next), true
}

// cycleDelay bounds the wait for the next video frame by the liveness
// ceiling. A negative next means no frame is queued.
func (sm *StateMachine) cycleDelay(next time.Duration) time.Duration {
	if next >= 0 && next < sm.opts.LivenessCeiling {
		return next
	}
	return sm.opts.LivenessCeiling
}

// syncVideoLocked renders at most one due frame, dropping frames that are
// late when a newer one is also due. It returns the time until the next
// queued frame is due, or -1 with nothing queued.
func (sm *StateMachine) syncVideoLocked(clock float64) time.Duration {
	late := sm.opts.LateFrameThreshold.Seconds()
	popped := false
	for sm.videoQ.Len() > 0 {
		f := sm.videoQ.peek()
		if f.Time > clock {
			break
		}
		popped = true
		if next := sm.videoQ.at(1); next != nil && next.Time <= clock && clock-f.Time > late {
			sm.videoQ.pop()
			telemetry.FramesDropped.WithLabelValues(media.FrameVideo.String()).Inc()
			continue
		}
		sm.videoQ.pop()
		sm.renders = append(sm.renders, f)
		if !sm.metadata.HasAudio {
			sm.playbackPosition = f.Offset
		}
		break
	}
	if popped {
		sm.mon.Broadcast()
	}

	f := sm.videoQ.peek()
	if f == nil {
		return -1
	}
	wait := time.Duration((f.Time - clock) * float64(time.Second))
	if wait < 0 {
		wait = 0
	}
	return wait
}

// shutdownLocked drives the machine to Shutdown. It parks until both
// workers have exited, then closes the reader and sink off the scheduler.
func (sm *StateMachine) shutdownLocked() (time.Duration, bool) {
	if sm.err != nil && !sm.errorPosted {
		sm.errorPosted = true
		err := sm.err
		telemetry.DecodeErrors.WithLabelValues(ErrorReason(err)).Inc()
		sm.postLocked(func(ctx context.Context) { sm.d.onDecodeError(ctx, sm, err) })
	}
	if sm.state != EngineShutdown {
		sm.transitionLocked(EngineShutdown)
	}

	sm.stopDecodeLocked(true)
	sm.stopAudioLocked()
	if sm.decodeRunning || sm.audioRunning || sm.closing {
		return 0, false
	}

	sm.closing = true
	sm.flushLocked()
	sink := sm.sink
	sm.sink = nil
	go sm.teardown(sink)
	return 0, false
}

func (sm *StateMachine) teardown(sink media.AudioSink) {
	if err := sm.reader.Close(); err != nil {
		sm.logger.Warn().Err(err).Msg("close reader")
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			sm.logger.Warn().Err(err).Msg("close audio sink")
		}
	}
	sm.d.post(func(ctx context.Context) { sm.d.onStopped(ctx, sm) })
}

func (sm *StateMachine) requestShutdownLocked() {
	sm.shutdownRequested = true
	sm.mon.Broadcast()
}

// failLocked records the first engine error. The next cycle tears down.
func (sm *StateMachine) failLocked(err error) {
	if sm.err == nil {
		sm.err = err
	}
	sm.mon.Broadcast()
}

func (sm *StateMachine) transitionLocked(to EngineState) {
	if err := checkTransition(sm.state, to); err != nil {
		sm.logger.Error().Err(err).Msg("rejected engine transition")
		sm.failLocked(err)
		return
	}
	telemetry.EngineStateTransitions.WithLabelValues(sm.state.String(), to.String()).Inc()
	sm.state = to
	sm.mon.Broadcast()
}

func (sm *StateMachine) postLocked(fn func(context.Context)) {
	sm.outbox = append(sm.outbox, fn)
}

func (sm *StateMachine) postReadyLocked(rs ReadyState) {
	sm.postLocked(func(ctx context.Context) { sm.d.onReadyState(ctx, sm, rs) })
}

func (sm *StateMachine) schedule() {
	sm.sched.Schedule(sm, 0)
}

// durationLocked returns the stream duration, -1 when unknown or live.
func (sm *StateMachine) durationLocked() float64 {
	if sm.d.infinite || sm.metadata.Duration <= 0 {
		return -1
	}
	return sm.metadata.Duration
}

// queuesFullLocked reports whether the decode worker should wait. A starved
// audio queue lets video run over its limit, up to videoOverrunFactor times
// it, so interleaved streams cannot wedge with audio empty behind a full
// video queue.
func (sm *StateMachine) queuesFullLocked() bool {
	if sm.audioStarvedLocked() {
		return sm.videoQ.Len() >= sm.videoQ.limit*videoOverrunFactor
	}
	return sm.audioQ.Full() || sm.videoQ.Full()
}

// audioClockedLocked reports whether the audio track still drives the clock.
func (sm *StateMachine) audioClockedLocked() bool {
	return sm.metadata.HasAudio && !sm.audioExhausted
}

func (sm *StateMachine) audioStarvedLocked() bool {
	return sm.audioClockedLocked() && sm.audioQ.Len() == 0
}

// markAudioExhaustedLocked hands the clock to the wall clock, anchored at
// the last audio time, once the audio track has run out before the video.
func (sm *StateMachine) markAudioExhaustedLocked() {
	if !sm.audioClockedLocked() {
		return
	}
	t := sm.d.currentTime
	if sm.audioClockSet && sm.metadata.Rate > 0 {
		t = sm.audioClockBase + float64(sm.framesWritten)/float64(sm.metadata.Rate)
	}
	sm.audioExhausted = true
	sm.wallBase = t
	sm.wallRunning = false
	sm.logger.Debug().Float64("at", t).Msg("audio track ended")
	sm.mon.Broadcast()
}

func (sm *StateMachine) underrunLocked() bool {
	switch {
	case sm.audioClockedLocked():
		return sm.audioQ.Len() == 0
	case sm.metadata.HasVideo:
		return sm.videoQ.Len() == 0
	default:
		return false
	}
}

func (sm *StateMachine) bufferedEnoughLocked() bool {
	if sm.queuesFullLocked() {
		return true
	}
	if sm.audioClockedLocked() {
		return sm.audioQ.seconds() >= sm.opts.BufferingWatermark.Seconds()
	}
	return sm.videoQ.Len() >= sm.opts.VideoWatermarkFrames
}

// flushLocked drops queued frames and invalidates in-flight audio writes.
func (sm *StateMachine) flushLocked() {
	sm.audioQ.clear()
	sm.videoQ.clear()
	sm.audioGen++
	sm.audioClockSet = false
	sm.framesWritten = 0
	sm.mon.Broadcast()
}

func (sm *StateMachine) resetClocksLocked(t float64) {
	sm.wallBase = t
	sm.wallRunning = false
	sm.audioClockSet = false
	sm.framesWritten = 0
}

func (sm *StateMachine) runWallClockLocked(running bool, now time.Time) {
	switch {
	case running && !sm.wallRunning:
		sm.wallAnchor = now
		sm.wallRunning = true
	case !running && sm.wallRunning:
		sm.wallBase += now.Sub(sm.wallAnchor).Seconds()
		sm.wallRunning = false
	}
}

// clockLocked returns the media time being heard, or seen once there is no
// audio left to play.
func (sm *StateMachine) clockLocked(now time.Time) float64 {
	var t float64
	switch {
	case sm.audioClockedLocked() && sm.audioClockSet && sm.metadata.Rate > 0:
		t = sm.audioClockBase + float64(sm.framesWritten)/float64(sm.metadata.Rate)
	case sm.audioClockedLocked():
		return sm.d.currentTime
	case sm.wallRunning:
		t = sm.wallBase + now.Sub(sm.wallAnchor).Seconds()
	default:
		t = sm.wallBase
	}
	if dur := sm.durationLocked(); dur >= 0 && t > dur {
		t = dur
	}
	return t
}

func (sm *StateMachine) startDecodeLocked(seek float64) {
	ctx, cancel := context.WithCancel(context.Background())
	sm.decodeRunning = true
	sm.decodeStop = false
	sm.decodeCancel = cancel
	sm.decodeWaitingFull = false
	go sm.decodeLoop(ctx, cancel, seek)
}

// stopDecodeLocked asks the decode worker to exit. Without cancel the worker
// leaves at its next wait check and the reader stays positioned for a
// restart.
func (sm *StateMachine) stopDecodeLocked(cancel bool) {
	if !sm.decodeRunning {
		return
	}
	sm.decodeStop = true
	if cancel && sm.decodeCancel != nil {
		sm.decodeCancel()
	}
	sm.mon.Broadcast()
}

func (sm *StateMachine) startAudioLocked() {
	sm.audioRunning = true
	sm.audioStop = false
	go sm.audioLoop()
}

func (sm *StateMachine) stopAudioLocked() {
	if !sm.audioRunning {
		return
	}
	sm.audioStop = true
	sm.mon.Broadcast()
}
