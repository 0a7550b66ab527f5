/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"time"

	"github.com/friendsincode/grimnir_playback/internal/config"
	"github.com/friendsincode/grimnir_playback/internal/media"
)

// Frame buffer length bounds for audio-available delivery, in samples.
const (
	MinFrameBufferLength     = 512
	MaxFrameBufferLength     = 16384
	DefaultFrameBufferLength = 1024
)

// Options tunes a Decoder and its state machines. Zero fields take defaults.
type Options struct {
	AudioQueueFrames int
	VideoQueueFrames int

	// BufferingWatermark is the queued audio needed to leave Buffering.
	BufferingWatermark time.Duration
	// VideoWatermarkFrames replaces BufferingWatermark for video-only media.
	VideoWatermarkFrames int
	// StallTimeout turns a buffering episode into a decode error. Zero disables it.
	StallTimeout time.Duration

	LateFrameThreshold     time.Duration
	LivenessCeiling        time.Duration
	PositionUpdateInterval time.Duration

	// InitialVolume in [0,1]. Zero means full volume; mute with SetVolume.
	InitialVolume float64

	// NewAudioSink builds the sink opened by the audio worker. Defaults to a
	// real-time NullSink.
	NewAudioSink func() media.AudioSink
	// VideoSink receives frames as they come due. Optional.
	VideoSink media.VideoSink
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		AudioQueueFrames:       64,
		VideoQueueFrames:       8,
		BufferingWatermark:     500 * time.Millisecond,
		VideoWatermarkFrames:   3,
		LateFrameThreshold:     50 * time.Millisecond,
		LivenessCeiling:        40 * time.Millisecond,
		PositionUpdateInterval: 250 * time.Millisecond,
		InitialVolume:          1,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.AudioQueueFrames <= 0 {
		o.AudioQueueFrames = def.AudioQueueFrames
	}
	if o.VideoQueueFrames <= 0 {
		o.VideoQueueFrames = def.VideoQueueFrames
	}
	if o.BufferingWatermark <= 0 {
		o.BufferingWatermark = def.BufferingWatermark
	}
	if o.VideoWatermarkFrames <= 0 {
		o.VideoWatermarkFrames = def.VideoWatermarkFrames
	}
	if o.VideoWatermarkFrames > o.VideoQueueFrames {
		o.VideoWatermarkFrames = o.VideoQueueFrames
	}
	if o.StallTimeout < 0 {
		o.StallTimeout = 0
	}
	if o.LateFrameThreshold <= 0 {
		o.LateFrameThreshold = def.LateFrameThreshold
	}
	if o.LivenessCeiling <= 0 {
		o.LivenessCeiling = def.LivenessCeiling
	}
	if o.PositionUpdateInterval <= 0 {
		o.PositionUpdateInterval = def.PositionUpdateInterval
	}
	if o.InitialVolume <= 0 || o.InitialVolume > 1 {
		o.InitialVolume = def.InitialVolume
	}
	if o.NewAudioSink == nil {
		o.NewAudioSink = func() media.AudioSink { return media.NewNullSink() }
	}
	return o
}

// OptionsFromConfig maps the engine tunables of cfg onto Options. Sinks are
// left for the caller to set.
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		return DefaultOptions()
	}
	return Options{
		AudioQueueFrames:       cfg.AudioQueueFrames,
		VideoQueueFrames:       cfg.VideoQueueFrames,
		BufferingWatermark:     cfg.BufferingWatermark,
		VideoWatermarkFrames:   cfg.VideoWatermarkFrames,
		StallTimeout:           cfg.StallTimeout,
		LateFrameThreshold:     cfg.LateFrameThreshold,
		LivenessCeiling:        cfg.LivenessCeiling,
		PositionUpdateInterval: cfg.PositionUpdateInterval,
		InitialVolume:          cfg.InitialVolume,
	}
}

func clampFrameBufferLength(n int) int {
	if n < MinFrameBufferLength {
		return MinFrameBufferLength
	}
	if n > MaxFrameBufferLength {
		return MaxFrameBufferLength
	}
	return n
}

func clampVolume(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
