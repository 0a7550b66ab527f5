/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"

	"github.com/friendsincode/grimnir_playback/internal/media"
)

// Element receives decoder notifications. Callbacks run on the decoder's
// actor goroutine; to call back into the decoder from one, pass along the ctx
// it was given.
type Element interface {
	MetadataLoaded(ctx context.Context, md media.Metadata)
	FirstFrameLoaded(ctx context.Context)
	PlaybackPositionChanged(ctx context.Context, seconds float64)
	PlaybackEnded(ctx context.Context)
	SeekStarted(ctx context.Context)
	SeekStopped(ctx context.Context)
	SeekStoppedAtEnd(ctx context.Context)
	DecodeError(ctx context.Context, err error)
	ReadyStateChanged(ctx context.Context, rs ReadyState)
	DurationChanged(ctx context.Context, seconds float64)
}

// AudioAvailableListener is implemented by elements that want decoded PCM as
// it is played, in blocks of RequestFrameBufferLength samples.
type AudioAvailableListener interface {
	AudioAvailable(ctx context.Context, samples []float32, seconds float64)
}

// NopElement ignores every notification. Embed it to implement a subset.
type NopElement struct{}

func (NopElement) MetadataLoaded(context.Context, media.Metadata) {}
func (NopElement) FirstFrameLoaded(context.Context) {}
func (NopElement) PlaybackPositionChanged(context.Context, float64) {}
func (NopElement) PlaybackEnded(context.Context) {}
func (NopElement) SeekStarted(context.Context) {}
func (NopElement) SeekStopped(context.Context) {}
func (NopElement) SeekStoppedAtEnd(context.Context) {}
func (NopElement) DecodeError(context.Context, error) {}
func (NopElement) ReadyStateChanged(context.Context, ReadyState) {}
func (NopElement) DurationChanged(context.Context, float64) {}
