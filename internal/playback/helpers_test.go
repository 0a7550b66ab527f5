package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/friendsincode/grimnir_playback/internal/media"
	"github.com/friendsincode/grimnir_playback/internal/scheduler"
)

const waitTimeout = 5 * time.Second

// fakeStream describes the media a fakeReader produces.
type fakeStream struct {
	channels     int
	rate         int
	frameSamples int
	duration     float64
	audio        bool
	video        bool
	fps          float64

	// gateAfter blocks DecodeNext after that many frames until gate closes.
	gateAfter int
	gate      chan struct{}

	metadataErr error
	failAfter   int
	failErr     error
}

func audioStream(duration float64) fakeStream {
	return fakeStream{channels: 2, rate: 44100, frameSamples: 1024, duration: duration, audio: true}
}

func videoStream(duration float64) fakeStream {
	return fakeStream{duration: duration, video: true, fps: 25}
}

func (s fakeStream) frameLen() float64 {
	if s.audio {
		return float64(s.frameSamples) / float64(s.rate)
	}
	return 1 / s.fps
}

type fakeBackend struct {
	stream fakeStream

	mu      sync.Mutex
	readers []*fakeReader
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) NewReader(media.Resource) (media.Reader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := &fakeReader{s: b.stream}
	b.readers = append(b.readers, r)
	return r, nil
}

func (b *fakeBackend) readerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.readers)
}

type fakeReader struct {
	s      fakeStream
	next   float64
	count  int
	pos    int64
	closed atomic.Bool
}

func (r *fakeReader) ReadMetadata(ctx context.Context) (media.Metadata, error) {
	if r.s.metadataErr != nil {
		return media.Metadata{}, r.s.metadataErr
	}
	return media.Metadata{
		Channels: r.s.channels,
		Rate:     r.s.rate,
		HasAudio: r.s.audio,
		HasVideo: r.s.video,
		Duration: r.s.duration,
	}, nil
}

func (r *fakeReader) DecodeNext(ctx context.Context) (*media.Frame, error) {
	if r.s.gate != nil && r.count >= r.s.gateAfter {
		select {
		case <-r.s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.s.failErr != nil && r.count >= r.s.failAfter {
		return nil, r.s.failErr
	}
	if r.next >= r.s.duration-1e-9 {
		return nil, io.EOF
	}

	step := r.s.frameLen()
	f := &media.Frame{
		Time:    r.next,
		EndTime: math.Min(r.next+step, r.s.duration),
		Offset:  r.pos,
	}
	if r.s.audio {
		f.Kind = media.FrameAudio
		f.Samples = make([]float32, r.s.frameSamples*r.s.channels)
		for i := range f.Samples {
			f.Samples[i] = 0.25
		}
	} else {
		f.Kind = media.FrameVideo
		f.Image = []byte{byte(r.count)}
	}
	r.next += step
	r.count++
	r.pos += 4096
	return f, nil
}

func (r *fakeReader) Seek(ctx context.Context, target float64) error {
	step := r.s.frameLen()
	r.next = math.Floor(target/step) * step
	r.pos = int64(r.next/step) * 4096
	return ctx.Err()
}

func (r *fakeReader) Position() int64 { return r.pos }

func (r *fakeReader) Close() error {
	r.closed.Store(true)
	return nil
}

// memResource is an in-memory resource with half its bytes cached.
type memResource struct {
	length   int64
	closed   atomic.Bool
	mu       sync.Mutex
	listener media.ResourceListener
}

func newMemResource() *memResource { return &memResource{length: 1 << 20} }

func (m *memResource) ReadAt(p []byte, off int64) (int, error) {
	if m.closed.Load() {
		return 0, media.ErrResourceClosed
	}
	if off >= m.length {
		return 0, io.EOF
	}
	n := min(int64(len(p)), m.length-off)
	clear(p[:n])
	return int(n), nil
}

func (m *memResource) URI() string    { return "mem://test" }
func (m *memResource) Length() int64  { return m.length }
func (m *memResource) Seekable() bool { return true }

func (m *memResource) CachedRanges() []media.ByteRange {
	return []media.ByteRange{{Start: 0, End: m.length / 2}}
}

func (m *memResource) SetListener(l media.ResourceListener) {
	m.mu.Lock()
	m.listener = l
	m.mu.Unlock()
}

func (m *memResource) Close() error {
	m.closed.Store(true)
	return nil
}

// fastSink accepts audio without pacing.
type fastSink struct {
	mu      sync.Mutex
	volume  float64
	written int
}

func (s *fastSink) Open(channels, rate int) error { return nil }

func (s *fastSink) Write(samples []float32) error {
	s.mu.Lock()
	s.written += len(samples)
	s.mu.Unlock()
	return nil
}

func (s *fastSink) SetVolume(v float64) {
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

func (s *fastSink) Underruns() int64 { return 0 }
func (s *fastSink) Close() error     { return nil }

// recorder is an Element that logs notifications in order.
type recorder struct {
	NopElement

	mu        sync.Mutex
	events    []string
	errs      []error
	positions int
	blocks    [][]float32

	onFirstFrame func(ctx context.Context)
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(e string) int {
	n := 0
	for _, got := range r.list() {
		if got == e {
			n++
		}
	}
	return n
}

func (r *recorder) MetadataLoaded(context.Context, media.Metadata) { r.add("metadata") }

func (r *recorder) FirstFrameLoaded(ctx context.Context) {
	r.add("first_frame")
	if r.onFirstFrame != nil {
		r.onFirstFrame(ctx)
	}
}

func (r *recorder) PlaybackPositionChanged(context.Context, float64) {
	r.mu.Lock()
	r.positions++
	r.mu.Unlock()
}

func (r *recorder) PlaybackEnded(context.Context)    { r.add("ended") }
func (r *recorder) SeekStarted(context.Context)      { r.add("seek_started") }
func (r *recorder) SeekStopped(context.Context)      { r.add("seek_stopped") }
func (r *recorder) SeekStoppedAtEnd(context.Context) { r.add("seek_stopped_at_end") }

func (r *recorder) DecodeError(_ context.Context, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.add("error")
}

func (r *recorder) ReadyStateChanged(_ context.Context, rs ReadyState) {
	r.add(fmt.Sprintf("ready:%s", rs))
}

func (r *recorder) DurationChanged(context.Context, float64) { r.add("duration") }

// audioRecorder also receives audio-available blocks.
type audioRecorder struct {
	recorder
	times []float64
}

func (a *audioRecorder) AudioAvailable(_ context.Context, samples []float32, t float64) {
	a.mu.Lock()
	a.blocks = append(a.blocks, samples)
	a.times = append(a.times, t)
	a.mu.Unlock()
}

func newTestRegistry() *scheduler.Registry {
	return scheduler.NewRegistry(scheduler.Options{}, zerolog.Nop())
}

func fastOptions() Options {
	return Options{NewAudioSink: func() media.AudioSink { return &fastSink{} }}
}

func newTestDecoder(t *testing.T, stream fakeStream, el Element, reg *scheduler.Registry, opts Options) (*Decoder, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{stream: stream}
	d := NewDecoder("test", backend, el, reg, opts, zerolog.Nop())
	t.Cleanup(func() { shutdownAndWait(t, d) })
	return d, backend
}

func shutdownAndWait(t *testing.T, d *Decoder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
	select {
	case <-d.Done():
	case <-time.After(waitTimeout):
		t.Fatal("decoder did not finish shutdown")
	}
}

func waitForStates(t *testing.T, d *Decoder, play PlayState, engine EngineState) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := d.Snapshot()
		return s.PlayState() == play && s.EngineState() == engine
	}, waitTimeout, 2*time.Millisecond, "want %s/%s, have %s/%s", play, engine, d.State(), d.EngineState())
}

// internal reads a state machine field under the monitor.
func internal[T any](d *Decoder, fn func(sm *StateMachine) T) (T, bool) {
	d.mon.Lock()
	defer d.mon.Unlock()
	var zero T
	if d.sm == nil {
		return zero, false
	}
	return fn(d.sm), true
}

var errBoom = errors.New("boom")

func waitEvent(t *testing.T, rec *recorder, name string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return rec.count(name) >= n }, waitTimeout, 2*time.Millisecond, "waiting for %d %q", n, name)
}
