/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"net/url"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playback/internal/config"
	"github.com/friendsincode/grimnir_playback/internal/media"
)

// AutoBackend picks the WAV backend for .wav resources and GStreamer for
// everything else.
type AutoBackend struct {
	wav *WAVBackend
	gst *GStreamerBackend
}

// NewBackend builds the default backend from process configuration.
func NewBackend(cfg *config.Config, logger zerolog.Logger) *AutoBackend {
	opts := GStreamerOptions{}
	if cfg != nil {
		opts.LaunchBin = cfg.GStreamerBin
	}
	return &AutoBackend{
		wav: NewWAVBackend(0),
		gst: NewGStreamerBackend(opts, logger),
	}
}

func (b *AutoBackend) Name() string { return "auto" }

func (b *AutoBackend) NewReader(res media.Resource) (media.Reader, error) {
	return b.For(res.URI()).NewReader(res)
}

// For returns the backend that handles uri.
func (b *AutoBackend) For(uri string) media.Backend {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".wav", ".wave":
		return b.wav
	default:
		return b.gst
	}
}
