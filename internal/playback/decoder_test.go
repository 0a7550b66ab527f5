package playback

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/friendsincode/grimnir_playback/internal/media"
)

func TestLoadResolvesToPausedDecoding(t *testing.T) {
	rec := &recorder{}
	d, _ := newTestDecoder(t, audioStream(60), rec, newTestRegistry(), fastOptions())

	require.Equal(t, PlayStart, d.State())
	require.NoError(t, d.Load(context.Background(), newMemResource()))

	waitForStates(t, d, PlayPaused, EngineDecoding)
	require.True(t, Consistent(d.State(), d.EngineState()))

	md := d.Metadata()
	require.Equal(t, 2, md.Channels)
	require.Equal(t, 44100, md.Rate)
	require.True(t, md.HasAudio)
	require.Equal(t, 60.0, d.Duration())
	require.True(t, d.IsSeekable())
	require.Equal(t, ReadyAvailable, d.ReadyState())
	waitEvent(t, rec, "ready:available", 1)
	require.Equal(t, []string{"metadata", "first_frame", "ready:available"}, rec.list())

	// Paused with full queues idles the decode worker.
	require.Eventually(t, func() bool {
		running, ok := internal(d, func(sm *StateMachine) bool { return sm.decodeRunning })
		return ok && !running
	}, waitTimeout, 2*time.Millisecond)
}

func TestLoadTwiceRejected(t *testing.T) {
	d, _ := newTestDecoder(t, audioStream(10), nil, newTestRegistry(), fastOptions())

	require.NoError(t, d.Load(context.Background(), newMemResource()))
	require.ErrorIs(t, d.Load(context.Background(), newMemResource()), ErrAlreadyLoaded)
	require.ErrorIs(t, d.Load(context.Background(), nil), ErrNilResource)
}

func TestIntentBeforeLoad(t *testing.T) {
	d, _ := newTestDecoder(t, audioStream(10), nil, newTestRegistry(), fastOptions())
	ctx := context.Background()

	require.ErrorIs(t, d.Play(ctx), ErrNotLoaded)
	require.ErrorIs(t, d.Pause(ctx), ErrNotLoaded)
	require.ErrorIs(t, d.Seek(ctx, 1), ErrNotLoaded)
}

func TestSeekRejectsNaN(t *testing.T) {
	d, _ := newTestDecoder(t, audioStream(60), nil, newTestRegistry(), fastOptions())
	require.NoError(t, d.Load(context.Background(), newMemResource()))
	waitForStates(t, d, PlayPaused, EngineDecoding)

	require.ErrorIs(t, d.Seek(context.Background(), math.NaN()), ErrInvalidSeekTarget)
	require.Equal(t, PlayPaused, d.State())
	require.Equal(t, 0.0, d.CurrentTime())
}

func TestSeekMidStream(t *testing.T) {
	rec := &recorder{}
	d, _ := newTestDecoder(t, audioStream(60), rec, newTestRegistry(), fastOptions())
	ctx := context.Background()

	require.NoError(t, d.Load(ctx, newMemResource()))
	waitForStates(t, d, PlayPaused, EngineDecoding)

	require.NoError(t, d.Seek(ctx, 30))
	require.Equal(t, PlaySeeking, d.State())
	require.Equal(t, 30.0, d.CurrentTime())

	waitForStates(t, d, PlayPaused, EngineDecoding)
	waitEvent(t, rec, "seek_stopped", 1)
	require.InDelta(t, 30, d.CurrentTime(), 0.05)
	require.Equal(t, 1, rec.count("seek_started"))
	require.Equal(t, 1, rec.count("seek_stopped"))
	require.Zero(t, rec.count("seek_stopped_at_end"))

	events := rec.list()
	require.Equal(t, []string{"seek_started", "seek_stopped"}, events[len(events)-2:])

	d.mon.Lock()
	pending := d.requestedSeekTime
	d.mon.Unlock()
	require.Less(t, pending, 0.0)
}

func TestSeekClampsToDurationAndEnds(t *testing.T) {
	rec := &recorder{}
	d, _ := newTestDecoder(t, audioStream(60), rec, newTestRegistry(), Options{})
	ctx := context.Background()

	require.NoError(t, d.Load(ctx, newMemResource()))
	require.NoError(t, d.Play(ctx))
	waitForStates(t, d, PlayPlaying, EngineDecoding)

	require.NoError(t, d.Seek(ctx, 100))
	require.Equal(t, 60.0, d.CurrentTime())

	waitForStates(t, d, PlayEnded, EngineShutdown)
	waitEvent(t, rec, "ended", 1)
	require.Equal(t, 1, rec.count("seek_stopped_at_end"))
	require.Zero(t, rec.count("seek_stopped"))
	require.Equal(t, 1, rec.count("ended"))

	events := rec.list()
	require.Equal(t, []string{"seek_started", "seek_stopped_at_end", "ended"}, events[len(events)-3:])
}

func TestSeekAtEndWhilePausedEndsImmediately(t *testing.T) {
	rec := &recorder{}
	d, _ := newTestDecoder(t, audioStream(60), rec, newTestRegistry(), fastOptions())
	ctx := context.Background()

	require.NoError(t, d.Load(ctx, newMemResource()))
	waitForStates(t, d, PlayPaused, EngineDecoding)

	require.NoError(t, d.Seek(ctx, 60))
	waitForStates(t, d, PlayEnded, EngineShutdown)
	waitEvent(t, rec, "ended", 1)
	require.Equal(t, []string{"seek_started", "seek_stopped_at_end", "ended"}, rec.list()[3:])
}

func TestSeekDuringLoadingAppliesAfterFirstFrame(t *testing.T) {
	rec := &recorder{}
	d, _ := newTestDecoder(t, audioStream(60), rec, newTestRegistry(), fastOptions())
	ctx := context.Background()

	require.NoError(t, d.Load(ctx, newMemResource()))
	require.NoError(t, d.Seek(ctx, 12))

	waitForStates(t, d, PlayPaused, EngineDecoding)
	waitEvent(t, rec, "seek_stopped", 1)
	require.InDelta(t, 12, d.CurrentTime(), 0.05)
	require.Equal(t, 1, rec.count("seek_stopped"))
}

func TestPlayAdvancesClockAndPauseFreezesIt(t *testing.T) {
	rec := &recorder{}
	opts := Options{PositionUpdateInterval: 20 * time.Millisecond}
	d, _ := newTestDecoder(t, audioStream(60), rec, newTestRegistry(), opts)
	ctx := context.Background()

	require.NoError(t, d.Load(ctx, newMemResource()))
	require.NoError(t, d.Play(ctx))
	waitForStates(t, d, PlayPlaying, EngineDecoding)

	require.Eventually(t, func() bool { return d.CurrentTime() > 0.1 }, waitTimeout, 5*time.Millisecond)

	require.NoError(t, d.Pause(ctx))
	require.Equal(t, PlayPaused, d.State())
	time.Sleep(100 * time.Millisecond)
	frozen := d.CurrentTime()
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, frozen, d.CurrentTime())

	rec.mu.Lock()
	positions := rec.positions
	rec.mu.Unlock()
	require.Positive(t, positions)
}

func TestUnderrunEntersBufferingOnce(t *testing.T) {
	stream := audioStream(60)
	stream.gateAfter = 8
	stream.gate = make(chan struct{})

	rec := &recorder{}
	d, _ := newTestDecoder(t, stream, rec, newTestRegistry(), Options{})
	ctx := context.Background()

	require.NoError(t, d.Load(ctx, newMemResource()))
	require.NoError(t, d.Play(ctx))

	waitForStates(t, d, PlayPlaying, EngineBuffering)
	time.Sleep(100 * time.Millisecond)

	require.Equal(t, EngineBuffering, d.EngineState())
	require.Equal(t, 1, rec.count("ready:buffering"))
	require.Equal(t, ReadyBuffering, d.ReadyState())
	running, ok := internal(d, func(sm *StateMachine) bool { return sm.decodeRunning })
	require.True(t, ok)
	require.True(t, running, "decode worker must stay alive while buffering")

	close(stream.gate)
	waitForStates(t, d, PlayPlaying, EngineDecoding)
	require.Eventually(t, func() bool { return d.ReadyState() == ReadyAvailable }, waitTimeout, 2*time.Millisecond)
}

func TestShutdownWhileBufferingReleasesSchedulerOnce(t *testing.T) {
	reg := newTestRegistry()
	ctx := context.Background()

	stream := audioStream(60)
	stream.gateAfter = 4
	stream.gate = make(chan struct{})
	buffering, backend := newTestDecoder(t, stream, nil, reg, Options{})

	other, _ := newTestDecoder(t, audioStream(60), nil, reg, fastOptions())
	require.NoError(t, other.Load(ctx, newMemResource()))

	require.NoError(t, buffering.Load(ctx, newMemResource()))
	require.NoError(t, buffering.Play(ctx))
	waitForStates(t, buffering, PlayPlaying, EngineBuffering)
	require.Equal(t, 2, reg.Stats().Refs)

	shutdownAndWait(t, buffering)

	require.Equal(t, PlayShutdown, buffering.State())
	require.Equal(t, EngineShutdown, buffering.EngineState())
	require.True(t, backend.readers[0].closed.Load())

	stats := reg.Stats()
	require.Equal(t, 1, stats.Refs)
	require.Equal(t, uint64(1), stats.Released)
	require.True(t, stats.Running, "scheduler must survive while another session uses it")

	shutdownAndWait(t, other)
	stats = reg.Stats()
	require.Zero(t, stats.Refs)
	require.False(t, stats.Running)
}

func TestShutdownIsIdempotent(t *testing.T) {
	reg := newTestRegistry()
	rec := &recorder{}
	d, backend := newTestDecoder(t, audioStream(60), rec, reg, fastOptions())
	ctx := context.Background()

	res := newMemResource()
	require.NoError(t, d.Load(ctx, res))
	waitForStates(t, d, PlayPaused, EngineDecoding)

	require.NoError(t, d.Shutdown(ctx))
	require.NoError(t, d.Shutdown(ctx))
	<-d.Done()
	require.NoError(t, d.Shutdown(ctx))

	require.True(t, res.closed.Load())
	require.Equal(t, 1, backend.readerCount())
	stats := reg.Stats()
	require.Equal(t, uint64(1), stats.Acquired)
	require.Equal(t, uint64(1), stats.Released)
	require.False(t, stats.Running)
	require.Zero(t, rec.count("error"))

	require.ErrorIs(t, d.Play(ctx), ErrShutdown)
	require.ErrorIs(t, d.Seek(ctx, 1), ErrShutdown)
}

func TestShutdownBeforeLoad(t *testing.T) {
	d, _ := newTestDecoder(t, audioStream(10), nil, newTestRegistry(), fastOptions())
	shutdownAndWait(t, d)

	require.Equal(t, PlayShutdown, d.State())
	require.Equal(t, EngineNone, d.EngineState())
	require.True(t, Consistent(d.State(), d.EngineState()))
	require.ErrorIs(t, d.Load(context.Background(), newMemResource()), ErrShutdown)
}

func TestDecodeErrorEndsPlayback(t *testing.T) {
	stream := audioStream(60)
	stream.failAfter = 3
	stream.failErr = errBoom

	rec := &recorder{}
	d, _ := newTestDecoder(t, stream, rec, newTestRegistry(), fastOptions())
	require.NoError(t, d.Load(context.Background(), newMemResource()))

	waitForStates(t, d, PlayEnded, EngineShutdown)
	waitEvent(t, rec, "error", 1)
	require.ErrorIs(t, d.Err(), ErrDecode)
	require.Equal(t, 1, rec.count("error"))
	require.Equal(t, ReadyUnavailable, d.ReadyState())
}

func TestMetadataErrorEndsPlayback(t *testing.T) {
	stream := audioStream(60)
	stream.metadataErr = errBoom

	rec := &recorder{}
	d, _ := newTestDecoder(t, stream, rec, newTestRegistry(), fastOptions())
	require.NoError(t, d.Load(context.Background(), newMemResource()))

	waitForStates(t, d, PlayEnded, EngineShutdown)
	require.ErrorIs(t, d.Err(), ErrDecode)
	require.Zero(t, rec.count("metadata"))
}

func TestStallTimeoutEscalates(t *testing.T) {
	stream := audioStream(60)
	stream.gateAfter = 4
	stream.gate = make(chan struct{})

	rec := &recorder{}
	d, _ := newTestDecoder(t, stream, rec, newTestRegistry(), Options{StallTimeout: 100 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, d.Load(ctx, newMemResource()))
	require.NoError(t, d.Play(ctx))

	waitForStates(t, d, PlayEnded, EngineShutdown)
	waitEvent(t, rec, "error", 1)
	require.ErrorIs(t, d.Err(), ErrStalled)
	require.Equal(t, 1, rec.count("ready:buffering"))
}

func TestNetworkErrorFromResource(t *testing.T) {
	stream := audioStream(60)
	stream.gateAfter = 2
	stream.gate = make(chan struct{})

	rec := &recorder{}
	d, _ := newTestDecoder(t, stream, rec, newTestRegistry(), fastOptions())
	res := newMemResource()
	require.NoError(t, d.Load(context.Background(), res))

	res.mu.Lock()
	listener := res.listener
	res.mu.Unlock()
	require.NotNil(t, listener)

	listener.BytesDownloaded(1000)
	listener.DownloadEnded(errors.New("connection reset"))

	waitForStates(t, d, PlayEnded, EngineShutdown)
	require.ErrorIs(t, d.Err(), ErrNetwork)
	require.Equal(t, int64(1000), d.Statistics().DownloadPosition)
}

func TestReplayAfterEnded(t *testing.T) {
	rec := &recorder{}
	d, backend := newTestDecoder(t, audioStream(0.2), rec, newTestRegistry(), Options{})
	ctx := context.Background()

	require.NoError(t, d.Load(ctx, newMemResource()))
	require.NoError(t, d.Play(ctx))
	waitForStates(t, d, PlayEnded, EngineShutdown)
	waitEvent(t, rec, "ended", 1)

	require.NoError(t, d.Play(ctx))
	require.Eventually(t, func() bool { return rec.count("ended") == 2 }, waitTimeout, 5*time.Millisecond)
	waitForStates(t, d, PlayEnded, EngineShutdown)
	require.Equal(t, 2, backend.readerCount())
}

func TestSeekFromEndedReloadsPaused(t *testing.T) {
	rec := &recorder{}
	d, _ := newTestDecoder(t, audioStream(0.2), rec, newTestRegistry(), Options{})
	ctx := context.Background()

	require.NoError(t, d.Load(ctx, newMemResource()))
	require.NoError(t, d.Play(ctx))
	waitForStates(t, d, PlayEnded, EngineShutdown)

	require.NoError(t, d.Seek(ctx, 0.1))
	require.Eventually(t, func() bool {
		s := d.Snapshot()
		return s.PlayState() == PlayPaused && Consistent(s.PlayState(), s.EngineState())
	}, waitTimeout, 2*time.Millisecond)
	require.InDelta(t, 0.1, d.CurrentTime(), 0.03)
	require.Zero(t, rec.count("seek_stopped_at_end"))
}

func TestElementCallbackMayReenter(t *testing.T) {
	rec := &recorder{}
	d, _ := newTestDecoder(t, audioStream(60), rec, newTestRegistry(), Options{})
	rec.onFirstFrame = func(ctx context.Context) {
		require.NoError(t, d.Play(ctx))
	}

	require.NoError(t, d.Load(context.Background(), newMemResource()))
	waitForStates(t, d, PlayPlaying, EngineDecoding)
}

func TestAudioAvailableBlocks(t *testing.T) {
	rec := &audioRecorder{}
	d, _ := newTestDecoder(t, audioStream(60), rec, newTestRegistry(), Options{})
	ctx := context.Background()

	require.Equal(t, MinFrameBufferLength, d.RequestFrameBufferLength(100))
	require.Equal(t, MaxFrameBufferLength, d.RequestFrameBufferLength(1<<20))
	require.Equal(t, 2048, d.RequestFrameBufferLength(2048))

	require.NoError(t, d.Load(ctx, newMemResource()))
	require.NoError(t, d.Play(ctx))

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.blocks) >= 4
	}, waitTimeout, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i, b := range rec.blocks {
		require.Len(t, b, 2048)
		if i > 0 {
			require.Greater(t, rec.times[i], rec.times[i-1])
		}
	}
}

func TestVolumeClampedAndApplied(t *testing.T) {
	sink := &fastSink{}
	opts := Options{NewAudioSink: func() media.AudioSink { return sink }}
	d, _ := newTestDecoder(t, audioStream(60), nil, newTestRegistry(), opts)
	ctx := context.Background()

	require.Equal(t, 1.0, d.Volume())
	d.SetVolume(2)
	require.Equal(t, 1.0, d.Volume())
	d.SetVolume(-1)
	require.Equal(t, 0.0, d.Volume())
	d.SetVolume(0.5)

	require.NoError(t, d.Load(ctx, newMemResource()))
	require.NoError(t, d.Play(ctx))
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.written > 0 && sink.volume == 0.5
	}, waitTimeout, 5*time.Millisecond)
}

type renderLog struct {
	mu    sync.Mutex
	times []float64
}

func (r *renderLog) Render(f *media.Frame) {
	r.mu.Lock()
	r.times = append(r.times, f.Time)
	r.mu.Unlock()
}

func TestVideoOnlyPlaysInOrderAndEnds(t *testing.T) {
	rec := &recorder{}
	renders := &renderLog{}
	d, _ := newTestDecoder(t, videoStream(0.4), rec, newTestRegistry(), Options{VideoSink: renders})
	ctx := context.Background()

	require.NoError(t, d.Load(ctx, newMemResource()))
	require.NoError(t, d.Play(ctx))
	waitForStates(t, d, PlayEnded, EngineShutdown)
	waitEvent(t, rec, "ended", 1)

	renders.mu.Lock()
	defer renders.mu.Unlock()
	require.NotEmpty(t, renders.times)
	for i := 1; i < len(renders.times); i++ {
		require.Greater(t, renders.times[i], renders.times[i-1])
	}
	require.Equal(t, 1, rec.count("ended"))
}

type panicSink struct{}

func (panicSink) Render(*media.Frame) { panic("render failed") }

func TestCyclePanicBecomesDecodeError(t *testing.T) {
	rec := &recorder{}
	d, _ := newTestDecoder(t, videoStream(10), rec, newTestRegistry(), Options{VideoSink: panicSink{}})

	require.NoError(t, d.Load(context.Background(), newMemResource()))
	waitForStates(t, d, PlayEnded, EngineShutdown)
	waitEvent(t, rec, "error", 1)
	require.ErrorIs(t, d.Err(), ErrCyclePanic)
	require.Equal(t, 1, rec.count("error"))
}

func TestEndTimeStopsDecoding(t *testing.T) {
	rec := &recorder{}
	d, _ := newTestDecoder(t, audioStream(60), rec, newTestRegistry(), Options{})
	ctx := context.Background()

	d.SetEndTime(0.2)
	require.NoError(t, d.Load(ctx, newMemResource()))
	require.NoError(t, d.Play(ctx))

	waitForStates(t, d, PlayEnded, EngineShutdown)
	require.InDelta(t, 0.2, d.CurrentTime(), 0.05)
}

func TestInfiniteStreamIsNotSeekable(t *testing.T) {
	d, _ := newTestDecoder(t, audioStream(60), nil, newTestRegistry(), fastOptions())
	ctx := context.Background()

	d.SetInfinite(true)
	require.True(t, d.IsInfinite())
	require.NoError(t, d.Load(ctx, newMemResource()))
	waitForStates(t, d, PlayPaused, EngineDecoding)

	require.Equal(t, -1.0, d.Duration())
	require.False(t, d.IsSeekable())
	require.ErrorIs(t, d.Seek(ctx, 5), ErrNotSeekable)
}

func TestBufferedMapsCachedBytes(t *testing.T) {
	d, _ := newTestDecoder(t, audioStream(60), nil, newTestRegistry(), fastOptions())
	require.Nil(t, d.Buffered())

	require.NoError(t, d.Load(context.Background(), newMemResource()))
	waitForStates(t, d, PlayPaused, EngineDecoding)

	require.Equal(t, TimeRanges{{Start: 0, End: 30}}, d.Buffered())
	require.True(t, d.Buffered().Contains(10))
	require.False(t, d.Buffered().Contains(45))
}

func TestCycleStaysWithinBudget(t *testing.T) {
	stream := audioStream(60)
	stream.gateAfter = 8
	stream.gate = make(chan struct{})
	defer close(stream.gate)

	d, _ := newTestDecoder(t, stream, nil, newTestRegistry(), fastOptions())
	ctx := context.Background()
	require.NoError(t, d.Load(ctx, newMemResource()))
	require.NoError(t, d.Play(ctx))
	waitForStates(t, d, PlayPlaying, EngineBuffering)

	sm, ok := internal(d, func(sm *StateMachine) *StateMachine { return sm })
	require.True(t, ok)
	for range 50 {
		start := time.Now()
		sm.RunCycle(start)
		require.Less(t, time.Since(start), 5*time.Millisecond)
	}
}

func TestStatisticsAndSnapshot(t *testing.T) {
	d, _ := newTestDecoder(t, audioStream(60), nil, newTestRegistry(), fastOptions())
	require.NoError(t, d.Load(context.Background(), newMemResource()))
	waitForStates(t, d, PlayPaused, EngineDecoding)

	st := d.Statistics()
	require.Equal(t, int64(1<<20), st.TotalBytes)
	require.Positive(t, st.DecoderPosition)

	snap := d.Snapshot()
	require.Equal(t, "test", snap.ID)
	require.Equal(t, "mem://test", snap.URI)
	require.Equal(t, "paused", snap.State)
	require.Equal(t, "decoding", snap.Engine)
	require.Equal(t, 60.0, snap.Duration)
	require.Empty(t, snap.Error)
}

func TestNewDecoderDefaults(t *testing.T) {
	d := NewDecoder("defaults", &fakeBackend{stream: audioStream(1)}, nil, nil, Options{}, zerolog.Nop())
	defer shutdownAndWait(t, d)

	require.Equal(t, "defaults", d.ID())
	require.Equal(t, -1.0, d.Duration())
	require.Equal(t, DefaultOptions().AudioQueueFrames, d.opts.AudioQueueFrames)
}
