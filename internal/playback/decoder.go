/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback coordinates media playback sessions. A Decoder holds the
// user's play intent and a StateMachine drives decoding, audio output and
// A/V sync in short cycles on a scheduler shared by every session.
package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playback/internal/media"
	"github.com/friendsincode/grimnir_playback/internal/scheduler"
	"github.com/friendsincode/grimnir_playback/internal/telemetry"
)

type actorKey struct{}

// Decoder is the per-session facade. Intent calls are serialized on an actor
// goroutine; queries read under the monitor from any goroutine.
type Decoder struct {
	id       string
	backend  media.Backend
	element  Element
	audioL   AudioAvailableListener
	registry *scheduler.Registry
	opts     Options
	logger   zerolog.Logger

	mon    *Monitor
	mbox   *mailbox
	done   chan struct{}
	loaded atomic.Bool

	// Guarded by mon.
	playState         PlayState
	nextState         PlayState
	currentTime       float64
	requestedSeekTime float64
	duration          float64
	seekable          bool
	infinite          bool
	endTime           float64
	volume            float64
	frameBufferLength int
	readyState        ReadyState
	resourceLoaded    bool
	ignoreProgress    bool
	err               error
	metadata          media.Metadata
	progress          progress
	res               media.Resource
	sm                *StateMachine
	sched             *scheduler.Scheduler
	lastEngine        EngineState

	// Owned by the actor goroutine.
	replayPending bool
	replaySeek    float64
	finished      bool
}

// NewDecoder creates a decoder and starts its actor goroutine. The caller
// must eventually call Shutdown and may wait on Done.
func NewDecoder(id string, backend media.Backend, element Element, registry *scheduler.Registry, opts Options, logger zerolog.Logger) *Decoder {
	if element == nil {
		element = NopElement{}
	}
	if registry == nil {
		registry = scheduler.Shared()
	}
	opts = opts.withDefaults()

	d := &Decoder{
		id:                id,
		backend:           backend,
		element:           element,
		registry:          registry,
		opts:              opts,
		logger:            logger.With().Str("component", "decoder").Str("session_id", id).Logger(),
		mon:               NewMonitor(),
		mbox:              newMailbox(),
		done:              make(chan struct{}),
		playState:         PlayStart,
		nextState:         PlayPaused,
		requestedSeekTime: -1,
		duration:          -1,
		endTime:           -1,
		volume:            opts.InitialVolume,
		frameBufferLength: DefaultFrameBufferLength,
		replaySeek:        -1,
	}
	if l, ok := element.(AudioAvailableListener); ok {
		d.audioL = l
	}

	telemetry.SessionsActive.Inc()
	go d.run()
	return d
}

// ID returns the session identifier.
func (d *Decoder) ID() string { return d.id }

func (d *Decoder) run() {
	defer close(d.done)
	ctx := context.WithValue(context.Background(), actorKey{}, d)
	for {
		fn, ok := d.mbox.next()
		if !ok {
			return
		}
		fn(ctx)
	}
}

// do runs fn on the actor and waits for its result. Calls made from the actor
// itself, such as from an Element callback, run inline.
func (d *Decoder) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(actorKey{}) == d {
		return fn(ctx)
	}
	reply := make(chan error, 1)
	if !d.mbox.post(func(actx context.Context) { reply <- fn(actx) }) {
		return ErrShutdown
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Decoder) post(fn func(context.Context)) {
	d.mbox.post(fn)
}

// Load attaches res and starts decoding its metadata. It does not wait for
// the metadata to arrive.
func (d *Decoder) Load(ctx context.Context, res media.Resource) error {
	if res == nil {
		return ErrNilResource
	}
	if !d.loaded.CompareAndSwap(false, true) {
		return ErrAlreadyLoaded
	}

	ctx, span := telemetry.StartSpan(ctx, "playback.load", telemetry.SessionAttrs(d.id, res.URI())...)
	defer span.End()

	err := d.do(ctx, func(ctx context.Context) error {
		d.mon.Lock()
		if d.playState == PlayShutdown {
			d.mon.Unlock()
			return ErrShutdown
		}
		d.res = res
		d.mon.Unlock()

		if n, ok := res.(media.Notifier); ok {
			n.SetListener(d)
		}
		if err := d.startStateMachine(ctx); err != nil {
			d.mon.Lock()
			d.res = nil
			d.mon.Unlock()
			d.loaded.Store(false)
			return err
		}
		return nil
	})
	telemetry.RecordError(span, err)
	return err
}

// startStateMachine builds a reader and a state machine for the current
// resource and moves to Loading. Runs on the actor.
func (d *Decoder) startStateMachine(ctx context.Context) error {
	reader, err := d.backend.NewReader(d.res)
	if err != nil {
		return fmt.Errorf("%s reader: %w", d.backend.Name(), err)
	}
	sched, err := d.registry.Acquire(ctx)
	if err != nil {
		_ = reader.Close()
		d.logger.Error().Err(err).Msg("scheduler unavailable")
		return fmt.Errorf("%w: %v", ErrSchedulerUnavailable, err)
	}

	sm := newStateMachine(d, reader, sched)

	d.mon.Lock()
	d.sm = sm
	d.sched = sched
	d.resourceLoaded = false
	d.setPlayStateLocked(PlayLoading)
	d.mon.Unlock()

	d.logger.Debug().Str("backend", d.backend.Name()).Msg("state machine started")
	sched.Schedule(sm, 0)
	return nil
}

// Play starts or resumes playback.
func (d *Decoder) Play(ctx context.Context) error {
	return d.do(ctx, func(ctx context.Context) error {
		d.mon.Lock()
		switch d.playState {
		case PlayShutdown:
			d.mon.Unlock()
			return ErrShutdown
		case PlayStart:
			d.mon.Unlock()
			return ErrNotLoaded
		case PlayLoading, PlaySeeking:
			d.nextState = PlayPlaying
			d.mon.Unlock()
			return nil
		case PlayEnded:
			d.nextState = PlayPlaying
			d.mon.Unlock()
			return d.replay(ctx, -1)
		case PlayPlaying:
			d.mon.Unlock()
			return nil
		}
		d.setPlayStateLocked(PlayPlaying)
		d.mon.Unlock()
		d.schedule()
		return nil
	})
}

// Pause stops playback. The state machine decides when the decode worker
// can idle.
func (d *Decoder) Pause(ctx context.Context) error {
	return d.do(ctx, func(ctx context.Context) error {
		d.mon.Lock()
		defer d.mon.Unlock()
		switch d.playState {
		case PlayShutdown:
			return ErrShutdown
		case PlayStart:
			return ErrNotLoaded
		case PlayLoading, PlaySeeking, PlayEnded:
			d.nextState = PlayPaused
			return nil
		case PlayPaused:
			return nil
		}
		d.setPlayStateLocked(PlayPaused)
		d.scheduleLocked()
		return nil
	})
}

// Seek moves playback to seconds, clamped into the known duration.
func (d *Decoder) Seek(ctx context.Context, seconds float64) error {
	if math.IsNaN(seconds) {
		return ErrInvalidSeekTarget
	}

	ctx, span := telemetry.StartSpan(ctx, "playback.seek")
	defer span.End()

	err := d.do(ctx, func(ctx context.Context) error {
		d.mon.Lock()
		switch d.playState {
		case PlayShutdown:
			d.mon.Unlock()
			return ErrShutdown
		case PlayStart:
			d.mon.Unlock()
			return ErrNotLoaded
		}
		if d.infinite {
			d.mon.Unlock()
			return ErrNotSeekable
		}
		target, ok := d.clampSeekLocked(seconds)
		if !ok {
			d.mon.Unlock()
			return ErrInvalidSeekTarget
		}

		if d.playState == PlayEnded {
			d.nextState = PlayPaused
			d.currentTime = target
			d.mon.Unlock()
			return d.replay(ctx, target)
		}

		switch d.playState {
		case PlayPlaying:
			d.nextState = PlayPlaying
		case PlayPaused:
			d.nextState = PlayPaused
		}
		d.requestedSeekTime = target
		d.currentTime = target
		if d.playState != PlayLoading {
			d.setPlayStateLocked(PlaySeeking)
		}
		d.mon.Broadcast()
		d.scheduleLocked()
		d.mon.Unlock()

		d.logger.Debug().Float64("target", target).Msg("seek requested")
		return nil
	})
	telemetry.RecordError(span, err)
	return err
}

func (d *Decoder) clampSeekLocked(t float64) (float64, bool) {
	if t < 0 {
		t = 0
	}
	if d.duration >= 0 {
		return math.Min(t, d.duration), true
	}
	return t, !math.IsInf(t, 1)
}

// replay reloads the resource after the session ended. If the old state
// machine is still tearing down, the reload waits for its terminal message.
func (d *Decoder) replay(ctx context.Context, seek float64) error {
	d.replaySeek = seek
	d.mon.Lock()
	busy := d.sm != nil
	d.mon.Unlock()
	if busy {
		d.replayPending = true
		return nil
	}
	return d.reload(ctx)
}

func (d *Decoder) reload(ctx context.Context) error {
	seek := d.replaySeek
	d.replaySeek = -1

	d.mon.Lock()
	d.err = nil
	d.requestedSeekTime = seek
	if seek < 0 {
		d.currentTime = 0
	}
	d.mon.Unlock()

	if err := d.startStateMachine(ctx); err != nil {
		d.logger.Error().Err(err).Msg("reload failed")
		d.mon.Lock()
		d.err = err
		d.requestedSeekTime = -1
		d.mon.Unlock()
		d.element.DecodeError(ctx, err)
		return err
	}
	return nil
}

// Shutdown tears the session down. It returns once teardown has started;
// Done is closed when it completes. Repeated calls are no-ops.
func (d *Decoder) Shutdown(ctx context.Context) error {
	err := d.do(ctx, func(ctx context.Context) error {
		d.mon.Lock()
		if d.playState == PlayShutdown {
			d.mon.Unlock()
			return nil
		}
		from := d.playState
		d.setPlayStateLocked(PlayShutdown)
		d.replayPending = false
		sm := d.sm
		if sm != nil {
			sm.requestShutdownLocked()
		}
		res := d.res
		d.mon.Broadcast()
		d.mon.Unlock()

		d.logger.Info().Str("from", from.String()).Msg("shutdown requested")
		if sm != nil {
			d.sched.Schedule(sm, 0)
		}
		if res != nil {
			if err := res.Close(); err != nil {
				d.logger.Warn().Err(err).Msg("close resource")
			}
		}
		if sm == nil {
			d.finish()
		}
		return nil
	})
	if errors.Is(err, ErrShutdown) {
		return nil
	}
	return err
}

// finish completes shutdown once no state machine remains. Runs on the actor.
func (d *Decoder) finish() {
	if d.finished {
		return
	}
	d.finished = true
	telemetry.SessionsActive.Dec()
	d.mbox.close()
	d.logger.Info().Msg("session shut down")
}

// Done is closed once shutdown has completed.
func (d *Decoder) Done() <-chan struct{} { return d.done }

// Err returns the error that ended playback, if any.
func (d *Decoder) Err() error {
	d.mon.Lock()
	defer d.mon.Unlock()
	return d.err
}

func (d *Decoder) setPlayStateLocked(s PlayState) {
	if d.playState == s {
		return
	}
	telemetry.PlayStateTransitions.WithLabelValues(d.playState.String(), s.String()).Inc()
	d.logger.Debug().Str("from", d.playState.String()).Str("to", s.String()).Msg("play state")
	d.playState = s
	d.mon.Broadcast()
}

// scheduleLocked queues a cycle of the current state machine.
func (d *Decoder) scheduleLocked() {
	if d.sm != nil {
		d.sched.Schedule(d.sm, 0)
	}
}

func (d *Decoder) schedule() {
	d.mon.Lock()
	d.scheduleLocked()
	d.mon.Unlock()
}

// CurrentTime returns the playback position in seconds.
func (d *Decoder) CurrentTime() float64 {
	d.mon.Lock()
	defer d.mon.Unlock()
	return d.currentTime
}

// Duration returns the media duration in seconds, or -1 when unknown.
func (d *Decoder) Duration() float64 {
	d.mon.Lock()
	defer d.mon.Unlock()
	if d.infinite {
		return -1
	}
	return d.duration
}

// IsSeekable reports whether Seek can reposition the media.
func (d *Decoder) IsSeekable() bool {
	d.mon.Lock()
	defer d.mon.Unlock()
	return d.seekable && !d.infinite
}

// State returns the current PlayState.
func (d *Decoder) State() PlayState {
	d.mon.Lock()
	defer d.mon.Unlock()
	return d.playState
}

// EngineState returns the state machine's state, or the last one it had.
func (d *Decoder) EngineState() EngineState {
	d.mon.Lock()
	defer d.mon.Unlock()
	return d.engineStateLocked()
}

func (d *Decoder) engineStateLocked() EngineState {
	if d.sm != nil {
		return d.sm.state
	}
	return d.lastEngine
}

// ReadyState returns the current data availability.
func (d *Decoder) ReadyState() ReadyState {
	d.mon.Lock()
	defer d.mon.Unlock()
	return d.readyState
}

// Metadata returns the stream metadata once loaded.
func (d *Decoder) Metadata() media.Metadata {
	d.mon.Lock()
	defer d.mon.Unlock()
	return d.metadata
}

// Buffered maps the resource's cached bytes onto the media timeline.
func (d *Decoder) Buffered() TimeRanges {
	d.mon.Lock()
	res, duration := d.res, d.duration
	d.mon.Unlock()
	if res == nil {
		return nil
	}
	return bytesToTime(res.CachedRanges(), res.Length(), duration)
}

// Volume returns the output volume in [0,1].
func (d *Decoder) Volume() float64 {
	d.mon.Lock()
	defer d.mon.Unlock()
	return d.volume
}

// SetVolume sets the output volume, clamped to [0,1]. The audio worker
// applies it before its next write.
func (d *Decoder) SetVolume(v float64) {
	d.mon.Lock()
	d.volume = clampVolume(v)
	d.mon.Broadcast()
	d.mon.Unlock()
}

// RequestFrameBufferLength sets the audio-available block size and returns
// the clamped value in effect.
func (d *Decoder) RequestFrameBufferLength(n int) int {
	n = clampFrameBufferLength(n)
	d.mon.Lock()
	d.frameBufferLength = n
	d.mon.Unlock()
	return n
}

// SetInfinite marks the media as a live stream with no duration.
func (d *Decoder) SetInfinite(infinite bool) {
	d.mon.Lock()
	d.infinite = infinite
	d.mon.Unlock()
}

// IsInfinite reports whether the media is a live stream.
func (d *Decoder) IsInfinite() bool {
	d.mon.Lock()
	defer d.mon.Unlock()
	return d.infinite
}

// SetEndTime treats seconds as the end of the stream. A negative value
// clears it.
func (d *Decoder) SetEndTime(seconds float64) {
	if math.IsNaN(seconds) {
		return
	}
	d.mon.Lock()
	d.endTime = seconds
	d.mon.Broadcast()
	d.mon.Unlock()
}

// Suspend pauses background fetching on resources that support it.
func (d *Decoder) Suspend() {
	if s, ok := d.resource().(media.Suspender); ok {
		s.Suspend()
	}
}

// Resume restarts background fetching.
func (d *Decoder) Resume() {
	if s, ok := d.resource().(media.Suspender); ok {
		s.Resume()
	}
}

func (d *Decoder) resource() media.Resource {
	d.mon.Lock()
	defer d.mon.Unlock()
	return d.res
}

// Statistics returns download and decode progress.
func (d *Decoder) Statistics() Statistics {
	d.mon.Lock()
	defer d.mon.Unlock()

	st := Statistics{
		DownloadPosition: d.progress.downloaded,
		TotalBytes:       -1,
		DownloadRate:     d.progress.rate(),
		DownloadComplete: d.resourceLoaded,
	}
	if d.res != nil {
		st.TotalBytes = d.res.Length()
	}
	if d.sm != nil {
		st.DecoderPosition = d.sm.decodePosition
		st.PlaybackPosition = d.sm.playbackPosition
	}
	if d.currentTime > 0 {
		st.PlaybackRate = float64(st.DecoderPosition) / d.currentTime
	}
	return st
}

// Snapshot is a consistent view of a session.
type Snapshot struct {
	ID          string     `json:"id"`
	URI         string     `json:"uri,omitempty"`
	State       string     `json:"state"`
	Engine      string     `json:"engine_state"`
	ReadyState  string     `json:"ready_state"`
	CurrentTime float64    `json:"current_time"`
	Duration    float64    `json:"duration"`
	Seekable    bool       `json:"seekable"`
	Infinite    bool       `json:"infinite"`
	Volume      float64    `json:"volume"`
	Buffered    TimeRanges `json:"buffered"`
	Statistics  Statistics `json:"statistics"`
	Error       string     `json:"error,omitempty"`

	play   PlayState
	engine EngineState
}

// PlayState returns the snapshot's play state.
func (s Snapshot) PlayState() PlayState { return s.play }

// EngineState returns the snapshot's engine state.
func (s Snapshot) EngineState() EngineState { return s.engine }

// Snapshot captures the session state in one pass.
func (d *Decoder) Snapshot() Snapshot {
	buffered := d.Buffered()
	stats := d.Statistics()

	d.mon.Lock()
	defer d.mon.Unlock()
	s := Snapshot{
		ID:          d.id,
		State:       d.playState.String(),
		Engine:      d.engineStateLocked().String(),
		ReadyState:  d.readyState.String(),
		CurrentTime: d.currentTime,
		Duration:    d.duration,
		Seekable:    d.seekable && !d.infinite,
		Infinite:    d.infinite,
		Volume:      d.volume,
		Buffered:    buffered,
		Statistics:  stats,
		play:        d.playState,
		engine:      d.engineStateLocked(),
	}
	if d.infinite {
		s.Duration = -1
	}
	if d.res != nil {
		s.URI = d.res.URI()
	}
	if d.err != nil {
		s.Error = d.err.Error()
	}
	return s
}

// BytesDownloaded implements media.ResourceListener.
func (d *Decoder) BytesDownloaded(n int64) {
	now := time.Now()
	d.post(func(context.Context) {
		d.mon.Lock()
		if !d.ignoreProgress {
			d.progress.add(n, now)
		}
		d.scheduleLocked()
		d.mon.Unlock()
	})
}

// DownloadEnded implements media.ResourceListener. A non-nil error fails the
// session with ErrNetwork.
func (d *Decoder) DownloadEnded(err error) {
	d.post(func(context.Context) {
		d.mon.Lock()
		defer d.mon.Unlock()
		if err == nil {
			d.resourceLoaded = true
			return
		}
		if d.sm != nil && d.playState != PlayShutdown {
			d.sm.failLocked(fmt.Errorf("%w: %v", ErrNetwork, err))
			d.scheduleLocked()
		}
	})
}
