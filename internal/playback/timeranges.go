/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"sort"

	"github.com/friendsincode/grimnir_playback/internal/media"
)

// TimeRange is a span of media time in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// TimeRanges is a sorted list of disjoint ranges.
type TimeRanges []TimeRange

// Normalize sorts the ranges and merges overlapping or touching ones.
func (tr TimeRanges) Normalize() TimeRanges {
	if len(tr) < 2 {
		return tr
	}
	out := make(TimeRanges, len(tr))
	copy(out, tr)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	merged := out[:1]
	for _, r := range out[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// Contains reports whether t falls inside any range.
func (tr TimeRanges) Contains(t float64) bool {
	for _, r := range tr {
		if t >= r.Start && t <= r.End {
			return true
		}
	}
	return false
}

// bytesToTime maps cached byte ranges onto the timeline assuming a constant
// bitrate.
func bytesToTime(ranges []media.ByteRange, length int64, duration float64) TimeRanges {
	if length <= 0 || duration <= 0 {
		return nil
	}
	out := make(TimeRanges, 0, len(ranges))
	scale := duration / float64(length)
	for _, r := range ranges {
		if r.End <= r.Start {
			continue
		}
		out = append(out, TimeRange{
			Start: float64(r.Start) * scale,
			End:   min(float64(r.End)*scale, duration),
		})
	}
	return out.Normalize()
}
