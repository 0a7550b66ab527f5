/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"context"
	"testing"
)

func TestFracToSeconds(t *testing.T) {
	cases := []struct {
		name string
		frac string
		want float64
	}{
		{"empty", "", 0},
		{"ms_3_digits", "345", 0.345},
		{"ns_9_digits", "345000000", 0.345},
		{"one_digit_tenths", "1", 0.1},
		{"leading_zeros", "004", 0.004},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := fracToSeconds(tt.frac); got < tt.want-1e-9 || got > tt.want+1e-9 {
				t.Fatalf("fracToSeconds(%q) = %v, want %v", tt.frac, got, tt.want)
			}
		})
	}
}

func TestParseDiscovererOutput(t *testing.T) {
	md := parseDiscovererOutput(`
Analyzing file:///media/test.mp3
Done discovering file:///media/test.mp3

Properties:
  Duration: 0:58:12.345000000
  Seekable: yes
  Live: no
  Tags:
      title: Night Drive
      artist: The Examples
      datetime: 2019-04-01
  audio #0: MPEG-1 Layer 3 (MP3)
    Stream ID: 1234
    Language: <unknown>
    Channels: 2 (front-left, front-right)
    Sample rate: 44100
`)

	const want = 58*60 + 12.345
	if md.Duration < want-1e-6 || md.Duration > want+1e-6 {
		t.Fatalf("Duration = %v, want %v", md.Duration, want)
	}
	if md.Rate != 44100 || md.Channels != 2 {
		t.Fatalf("format = %d ch @ %d Hz", md.Channels, md.Rate)
	}
	if !md.HasAudio || md.HasVideo {
		t.Fatalf("streams: audio=%v video=%v", md.HasAudio, md.HasVideo)
	}
	if md.Tags["title"] != "Night Drive" || md.Tags["date"] != "2019-04-01" {
		t.Fatalf("tags = %v", md.Tags)
	}
}

func TestParseDiscovererOutputLiveHasNoDuration(t *testing.T) {
	md := parseDiscovererOutput(`
  Duration: 99:99:99.999999999
  Live: yes
  video #0: H.264
`)
	if md.Duration != -1 {
		t.Fatalf("live stream Duration = %v, want -1", md.Duration)
	}
	if !md.HasVideo {
		t.Fatal("expected video stream")
	}
}

func TestDiscoverMissingBinary(t *testing.T) {
	md, err := Discover(context.Background(), "/nonexistent/gst-discoverer-1.0", "/tmp/x.mp3")
	if err == nil {
		t.Fatal("expected error for missing discoverer")
	}
	if md.Duration != -1 {
		t.Fatalf("Duration = %v, want -1 on failure", md.Duration)
	}
}

func TestDiscovererURI(t *testing.T) {
	if got := discovererURI("/media/a.mp3"); got != "file:///media/a.mp3" {
		t.Fatalf("discovererURI(path) = %q", got)
	}
	if got := discovererURI("https://cdn.example.com/a.mp3"); got != "https://cdn.example.com/a.mp3" {
		t.Fatalf("discovererURI(url) = %q", got)
	}
}
