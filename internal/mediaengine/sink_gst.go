/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrSinkNotOpen is returned by writes before Open.
var ErrSinkNotOpen = errors.New("audio sink not open")

// GStreamerSink plays float PCM through a gst-launch subprocess ending in
// autoaudiosink. Volume is applied before samples leave the process.
type GStreamerSink struct {
	bin    string
	logger zerolog.Logger

	mu        sync.Mutex
	proc      *gstProcess
	channels  int
	rate      int
	gain      float32
	buf       []byte
	deadline  time.Time
	underruns int64
	closed    bool
}

// NewGStreamerSink returns an unopened sink. bin defaults to gst-launch-1.0.
func NewGStreamerSink(bin string, logger zerolog.Logger) *GStreamerSink {
	if bin == "" {
		bin = "gst-launch-1.0"
	}
	return &GStreamerSink{
		bin:    bin,
		gain:   1,
		logger: logger.With().Str("component", "gstreamer_sink").Logger(),
	}
}

func sinkPipeline(channels, rate int) string {
	return fmt.Sprintf(
		`fdsrc fd=0 ! rawaudioparse use-sink-caps=false format=pcm pcm-format=f32le sample-rate=%d num-channels=%d ! audioconvert ! audioresample ! autoaudiosink`,
		rate, channels,
	)
}

func (s *GStreamerSink) Open(channels, rate int) error {
	if channels <= 0 || rate <= 0 {
		return fmt.Errorf("gstreamer sink: invalid format %d ch @ %d Hz", channels, rate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("gstreamer sink: closed")
	}
	if s.proc != nil {
		return nil
	}

	proc, err := startProcess(context.Background(), s.bin, sinkPipeline(channels, rate), s.logger)
	if err != nil {
		return err
	}
	s.proc = proc
	s.channels = channels
	s.rate = rate
	s.logger.Info().Int("channels", channels).Int("rate", rate).Msg("audio output opened")
	return nil
}

// Write blocks while the subprocess pipe is full.
func (s *GStreamerSink) Write(samples []float32) error {
	s.mu.Lock()
	if s.proc == nil {
		s.mu.Unlock()
		return ErrSinkNotOpen
	}
	proc := s.proc
	s.buf = floatToF32le(s.buf[:0], samples, s.gain)
	data := s.buf

	now := time.Now()
	if !s.deadline.IsZero() && now.After(s.deadline) {
		s.underruns++
	}
	if s.deadline.Before(now) {
		s.deadline = now
	}
	frames := len(samples) / s.channels
	s.deadline = s.deadline.Add(time.Duration(float64(frames) / float64(s.rate) * float64(time.Second)))
	s.mu.Unlock()

	// The pipe write happens outside the lock so Close can interrupt it.
	if _, err := proc.stdin.Write(data); err != nil {
		return fmt.Errorf("gstreamer sink write: %w: %s", err, proc.Stderr())
	}
	return nil
}

// SetVolume sets the linear gain, clamped to [0,1].
func (s *GStreamerSink) SetVolume(v float64) {
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.mu.Lock()
	s.gain = float32(v)
	s.mu.Unlock()
}

func (s *GStreamerSink) Underruns() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.underruns
}

func (s *GStreamerSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	proc := s.proc
	s.proc = nil
	s.mu.Unlock()

	return proc.Close()
}
