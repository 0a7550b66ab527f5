/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import "errors"

// Protocol errors returned synchronously by intent calls.
var (
	ErrAlreadyLoaded        = errors.New("decoder already loaded")
	ErrNotLoaded            = errors.New("decoder not loaded")
	ErrNilResource          = errors.New("nil resource")
	ErrInvalidSeekTarget    = errors.New("invalid seek target")
	ErrNotSeekable          = errors.New("resource is not seekable")
	ErrShutdown             = errors.New("decoder shut down")
	ErrSchedulerUnavailable = errors.New("scheduler unavailable")
)

// Engine errors. These reach the element through DecodeError and Err.
var (
	ErrInvalidTransition = errors.New("invalid engine transition")
	ErrDecode            = errors.New("decode error")
	ErrNetwork           = errors.New("network error")
	ErrStalled           = errors.New("buffering stalled")
	ErrAudioSink         = errors.New("audio sink error")
	ErrCyclePanic        = errors.New("cycle panicked")
)

// ErrorReason maps an engine error to a short label for metrics and events.
func ErrorReason(err error) string {
	switch {
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrStalled):
		return "stall"
	case errors.Is(err, ErrAudioSink):
		return "sink"
	case errors.Is(err, ErrCyclePanic):
		return "panic"
	case errors.Is(err, ErrInvalidTransition):
		return "transition"
	default:
		return "decode"
	}
}
