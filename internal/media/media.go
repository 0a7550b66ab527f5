/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media defines the collaborators the playback engine consumes:
// byte resources, demux/decode readers, and audio/video sinks.
package media

import (
	"context"
	"errors"
	"io"
)

// ErrResourceClosed is returned by reads on a closed resource.
var ErrResourceClosed = errors.New("resource closed")

// Metadata describes a decoded stream.
type Metadata struct {
	Channels int
	Rate     int
	HasAudio bool
	HasVideo bool
	// Duration in seconds, negative when unknown.
	Duration float64
	Tags     map[string]string
}

// FrameKind distinguishes audio from video frames.
type FrameKind int

const (
	FrameAudio FrameKind = iota
	FrameVideo
)

func (k FrameKind) String() string {
	if k == FrameVideo {
		return "video"
	}
	return "audio"
}

// Frame is one decoded unit of audio or video.
type Frame struct {
	Kind FrameKind
	// Time and EndTime are presentation times in seconds.
	Time    float64
	EndTime float64
	// Offset is the source byte offset the frame was decoded from.
	Offset int64
	// Samples holds interleaved PCM for audio frames.
	Samples []float32
	// Image is an opaque picture payload for video frames.
	Image    []byte
	KeyFrame bool
}

// Duration returns the frame's presentation length in seconds.
func (f *Frame) Duration() float64 {
	if f == nil || f.EndTime < f.Time {
		return 0
	}
	return f.EndTime - f.Time
}

// ByteRange is a half-open [Start, End) span of resource bytes.
type ByteRange struct {
	Start int64
	End   int64
}

// Resource is a random-access byte source.
type Resource interface {
	io.ReaderAt
	// URI identifies the resource.
	URI() string
	// Length returns the total size in bytes, or -1 when unknown.
	Length() int64
	Seekable() bool
	// CachedRanges reports which byte ranges are available without further I/O.
	CachedRanges() []ByteRange
	Close() error
}

// ResourceListener receives download progress from a resource.
type ResourceListener interface {
	BytesDownloaded(n int64)
	DownloadEnded(err error)
}

// Notifier is implemented by resources that report download progress.
type Notifier interface {
	SetListener(l ResourceListener)
}

// Suspender is implemented by resources that can pause background fetching.
type Suspender interface {
	Suspend()
	Resume()
}

// Reader demuxes and decodes a resource. Implementations are used from a
// single goroutine at a time.
type Reader interface {
	ReadMetadata(ctx context.Context) (Metadata, error)
	// DecodeNext returns the next frame, or io.EOF at end of stream.
	DecodeNext(ctx context.Context) (*Frame, error)
	// Seek positions the reader so the next frame covers target seconds.
	Seek(ctx context.Context, target float64) error
	// Position returns the number of source bytes consumed.
	Position() int64
	Close() error
}

// Backend builds format-specific readers.
type Backend interface {
	Name() string
	NewReader(res Resource) (Reader, error)
}

// AudioSink accepts PCM at a fixed rate. Write blocks until the sink can
// take more data.
type AudioSink interface {
	Open(channels, rate int) error
	Write(samples []float32) error
	SetVolume(v float64)
	// Underruns reports how many times the sink ran dry.
	Underruns() int64
	Close() error
}

// VideoSink receives frames due for display. Render must not block.
type VideoSink interface {
	Render(f *Frame)
}

// NewSectionReader exposes a resource as a sequential io.ReadSeeker.
func NewSectionReader(res Resource) *io.SectionReader {
	n := res.Length()
	if n < 0 {
		n = 1<<63 - 1
	}
	return io.NewSectionReader(res, 0, n)
}
