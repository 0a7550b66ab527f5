/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"errors"
	"sync"
	"time"
)

// ErrSinkClosed is returned by writes to a closed sink.
var ErrSinkClosed = errors.New("audio sink closed")

// NullSink discards audio but consumes it at real-time rate, so the audio
// clock behaves as it would with hardware attached.
type NullSink struct {
	mu        sync.Mutex
	channels  int
	rate      int
	volume    float64
	deadline  time.Time
	underruns int64
	written   int64
	closed    bool
	done      chan struct{}
}

// NewNullSink returns an unopened NullSink.
func NewNullSink() *NullSink {
	return &NullSink{volume: 1, done: make(chan struct{})}
}

func (s *NullSink) Open(channels, rate int) error {
	if channels <= 0 || rate <= 0 {
		return errors.New("null sink: invalid format")
	}
	s.mu.Lock()
	s.channels = channels
	s.rate = rate
	s.mu.Unlock()
	return nil
}

// Write blocks until the previous samples would have finished playing.
func (s *NullSink) Write(samples []float32) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	if s.rate == 0 {
		s.mu.Unlock()
		return errors.New("null sink: not opened")
	}

	now := time.Now()
	if s.deadline.IsZero() || now.After(s.deadline) {
		if !s.deadline.IsZero() {
			s.underruns++
		}
		s.deadline = now
	}
	frames := len(samples) / s.channels
	playFor := time.Duration(float64(frames) / float64(s.rate) * float64(time.Second))
	wait := s.deadline.Sub(now)
	s.deadline = s.deadline.Add(playFor)
	s.written += int64(frames)
	s.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-s.done:
		return ErrSinkClosed
	}
}

func (s *NullSink) SetVolume(v float64) {
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

// Volume returns the last volume set.
func (s *NullSink) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Written returns the number of sample frames consumed.
func (s *NullSink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *NullSink) Underruns() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.underruns
}

func (s *NullSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}
