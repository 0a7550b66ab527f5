/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playback/internal/media"
)

// GStreamerOptions configures the subprocess decode backend.
type GStreamerOptions struct {
	LaunchBin     string // gst-launch-1.0
	DiscovererBin string // gst-discoverer-1.0
	SampleRate    int
	Channels      int
	// ChunkFrames is the number of sample frames per decoded Frame.
	ChunkFrames int
}

// GStreamerBackend decodes any format decodebin understands by piping the
// resource through a gst-launch subprocess that emits S16LE PCM.
type GStreamerBackend struct {
	opts   GStreamerOptions
	logger zerolog.Logger
}

// NewGStreamerBackend creates a backend. Zero options take defaults.
func NewGStreamerBackend(opts GStreamerOptions, logger zerolog.Logger) *GStreamerBackend {
	if opts.LaunchBin == "" {
		opts.LaunchBin = "gst-launch-1.0"
	}
	if opts.DiscovererBin == "" {
		opts.DiscovererBin = "gst-discoverer-1.0"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 44100
	}
	if opts.Channels <= 0 {
		opts.Channels = 2
	}
	if opts.ChunkFrames <= 0 {
		opts.ChunkFrames = 1024
	}
	return &GStreamerBackend{
		opts:   opts,
		logger: logger.With().Str("component", "gstreamer_backend").Logger(),
	}
}

func (b *GStreamerBackend) Name() string { return "gstreamer" }

func (b *GStreamerBackend) NewReader(res media.Resource) (media.Reader, error) {
	if res == nil {
		return nil, errors.New("gstreamer: nil resource")
	}
	return &gstReader{
		b:      b,
		res:    res,
		logger: b.logger.With().Str("uri", res.URI()).Logger(),
	}, nil
}

func (b *GStreamerBackend) pipeline() string {
	return fmt.Sprintf(
		`fdsrc fd=0 ! decodebin ! audioconvert ! audioresample ! audio/x-raw,format=S16LE,rate=%d,channels=%d ! fdsink fd=1`,
		b.opts.SampleRate, b.opts.Channels,
	)
}

// gstReader streams decoded PCM out of one subprocess. A seek restarts the
// subprocess and skips output up to the target.
type gstReader struct {
	b      *GStreamerBackend
	res    media.Resource
	logger zerolog.Logger

	proc     *gstProcess
	chunks   chan []byte
	pumpDone chan struct{}
	quit     chan struct{}
	pumpErr  error

	fed     atomic.Int64
	frames  int64
	skipTo  float64
	scratch []float32
	closed  bool
}

func (r *gstReader) ReadMetadata(ctx context.Context) (media.Metadata, error) {
	md, err := Discover(ctx, r.b.opts.DiscovererBin, r.res.URI())
	if err != nil {
		if ctx.Err() != nil {
			return media.Metadata{}, ctx.Err()
		}
		// Discovery is advisory; decodebin may still handle the stream.
		r.logger.Debug().Err(err).Msg("discovery failed, duration unknown")
		md = media.Metadata{Duration: -1}
	}
	md.Channels = r.b.opts.Channels
	md.Rate = r.b.opts.SampleRate
	md.HasAudio = true
	md.HasVideo = false

	if err := r.ensureStarted(); err != nil {
		return media.Metadata{}, err
	}
	return md, nil
}

func (r *gstReader) ensureStarted() error {
	if r.closed {
		return media.ErrResourceClosed
	}
	if r.proc != nil {
		return nil
	}

	proc, err := startProcess(context.Background(), r.b.opts.LaunchBin, r.b.pipeline(), r.logger)
	if err != nil {
		return err
	}
	r.proc = proc
	r.fed.Store(0)
	r.chunks = make(chan []byte, 4)
	r.pumpDone = make(chan struct{})
	r.quit = make(chan struct{})
	r.pumpErr = nil

	go r.feed(proc)
	go r.pump(proc, r.chunks, r.quit, r.pumpDone)
	return nil
}

// feed copies resource bytes into the subprocess.
func (r *gstReader) feed(proc *gstProcess) {
	src := &countingReader{r: media.NewSectionReader(r.res), n: &r.fed}
	if _, err := io.Copy(proc.stdin, src); err != nil {
		r.logger.Debug().Err(err).Msg("feeder stopped")
	}
	_ = proc.CloseInput()
}

// pump reads fixed-size PCM chunks from the subprocess.
func (r *gstReader) pump(proc *gstProcess, out chan<- []byte, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	size := r.b.opts.ChunkFrames * r.b.opts.Channels * 2
	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(proc.stdout, buf)
		if n > 0 {
			select {
			case out <- buf[:n]:
			case <-quit:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				r.pumpErr = err
			} else if werr := proc.Wait(); werr != nil {
				r.pumpErr = fmt.Errorf("gstreamer exited: %w: %s", werr, proc.Stderr())
			}
			return
		}
	}
}

func (r *gstReader) DecodeNext(ctx context.Context) (*media.Frame, error) {
	if err := r.ensureStarted(); err != nil {
		return nil, err
	}

	for {
		var chunk []byte
		var ok bool
		select {
		case chunk, ok = <-r.chunks:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if !ok {
			if r.pumpErr != nil {
				return nil, r.pumpErr
			}
			return nil, io.EOF
		}

		rate := float64(r.b.opts.SampleRate)
		n := int64(len(chunk) / (2 * r.b.opts.Channels))
		start := float64(r.frames)/rate
		r.frames += n
		end := float64(r.frames)/rate

		if end <= r.skipTo {
			continue
		}

		r.scratch = s16leToFloat(r.scratch[:0], chunk)
		samples := make([]float32, len(r.scratch))
		copy(samples, r.scratch)

		return &media.Frame{
			Kind:    media.FrameAudio,
			Time:    start,
			EndTime: end,
			Offset:  r.fed.Load(),
			Samples: samples,
		}, nil
	}
}

// Seek restarts decoding and discards output before target.
func (r *gstReader) Seek(ctx context.Context, target float64) error {
	if r.closed {
		return media.ErrResourceClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.stop()
	r.frames = 0
	r.skipTo = target
	return r.ensureStarted()
}

func (r *gstReader) Position() int64 {
	return r.fed.Load()
}

func (r *gstReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.stop()
	return nil
}

func (r *gstReader) stop() {
	if r.proc == nil {
		return
	}
	close(r.quit)
	_ = r.proc.Close()
	<-r.pumpDone
	r.proc = nil
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
