/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/friendsincode/grimnir_playback/internal/media"
)

var (
	// gst-discoverer prints fractional seconds with variable precision,
	// e.g. "Duration: 0:58:12.345000000".
	durationRegex   = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)(?:\.(\d+))?`)
	samplerateRegex = regexp.MustCompile(`(?i)sample rate:\s*(\d+)`)
	channelsRegex   = regexp.MustCompile(`(?i)channels:\s*(\d+)`)
	videoRegex      = regexp.MustCompile(`(?i)^\s*video(?:\s*#\d+)?:`)
	audioRegex      = regexp.MustCompile(`(?i)^\s*audio(?:\s*#\d+)?:`)
	liveRegex       = regexp.MustCompile(`(?i)^\s*live:\s*yes`)
	tagRegex        = regexp.MustCompile(`(?i)^\s*(title|artist|album|genre|date|datetime|album-artist|composer|isrc|track-number):\s*(.+)$`)
)

// Discover runs gst-discoverer against uri and returns what it reports.
// A missing duration is reported as -1.
func Discover(ctx context.Context, bin, uri string) (media.Metadata, error) {
	if bin == "" {
		bin = "gst-discoverer-1.0"
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, bin, "-v", discovererURI(uri)).CombinedOutput()
	if err != nil {
		return media.Metadata{Duration: -1}, fmt.Errorf("gst-discoverer failed: %w", err)
	}
	return parseDiscovererOutput(string(output)), nil
}

// discovererURI turns bare paths into file URIs, which discoverer requires.
func discovererURI(uri string) string {
	if strings.Contains(uri, "://") {
		return uri
	}
	return "file://" + uri
}

func parseDiscovererOutput(output string) media.Metadata {
	md := media.Metadata{Duration: -1, Tags: map[string]string{}}
	live := false

	for _, line := range strings.Split(output, "\n") {
		if liveRegex.MatchString(line) {
			live = true
		}
		if audioRegex.MatchString(line) {
			md.HasAudio = true
		}
		if videoRegex.MatchString(line) {
			md.HasVideo = true
		}

		line = strings.TrimSpace(line)

		if m := durationRegex.FindStringSubmatch(line); m != nil {
			hours, _ := strconv.Atoi(m[1])
			minutes, _ := strconv.Atoi(m[2])
			seconds, _ := strconv.Atoi(m[3])
			md.Duration = float64(hours*3600+minutes*60+seconds) + fracToSeconds(m[4])
		}
		if m := samplerateRegex.FindStringSubmatch(line); m != nil && md.Rate == 0 {
			md.Rate, _ = strconv.Atoi(m[1])
		}
		if m := channelsRegex.FindStringSubmatch(line); m != nil && md.Channels == 0 {
			md.Channels, _ = strconv.Atoi(m[1])
		}
		if m := tagRegex.FindStringSubmatch(line); m != nil {
			key := strings.ToLower(m[1])
			if key == "datetime" {
				key = "date"
			}
			if _, seen := md.Tags[key]; !seen {
				md.Tags[key] = strings.TrimSpace(m[2])
			}
		}
	}

	if live {
		md.Duration = -1
	}
	return md
}

// fracToSeconds converts the digits after the decimal point into seconds.
func fracToSeconds(frac string) float64 {
	if frac == "" {
		return 0
	}
	v, err := strconv.ParseFloat("0."+frac, 64)
	if err != nil {
		return 0
	}
	return v
}
