/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import "time"

// Statistics describes download and decode progress of a session.
type Statistics struct {
	// DownloadPosition is the number of bytes reported by the resource.
	DownloadPosition int64 `json:"download_position"`
	// TotalBytes is the resource length, -1 when unknown.
	TotalBytes int64 `json:"total_bytes"`
	// DownloadRate in bytes per second.
	DownloadRate     float64 `json:"download_rate"`
	DownloadComplete bool    `json:"download_complete"`
	DecoderPosition  int64   `json:"decoder_position"`
	PlaybackPosition int64   `json:"playback_position"`
	// PlaybackRate is the estimated media bitrate in bytes per second.
	PlaybackRate float64 `json:"playback_rate"`
}

// progress accumulates resource notifications. Guarded by the monitor.
type progress struct {
	downloaded int64
	started    time.Time
	last       time.Time
}

func (p *progress) add(n int64, now time.Time) {
	if p.started.IsZero() {
		p.started = now
	}
	p.downloaded += n
	p.last = now
}

func (p *progress) rate() float64 {
	elapsed := p.last.Sub(p.started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(p.downloaded) / elapsed
}
