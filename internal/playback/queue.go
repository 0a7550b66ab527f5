/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import "github.com/friendsincode/grimnir_playback/internal/media"

// frameQueue is a bounded FIFO of decoded frames. Guarded by the monitor.
type frameQueue struct {
	frames []*media.Frame
	limit  int
}

func newFrameQueue(limit int) *frameQueue {
	return &frameQueue{frames: make([]*media.Frame, 0, limit), limit: limit}
}

func (q *frameQueue) Len() int   { return len(q.frames) }
func (q *frameQueue) Full() bool { return len(q.frames) >= q.limit }

func (q *frameQueue) push(f *media.Frame) {
	q.frames = append(q.frames, f)
}

func (q *frameQueue) peek() *media.Frame {
	if len(q.frames) == 0 {
		return nil
	}
	return q.frames[0]
}

func (q *frameQueue) at(i int) *media.Frame {
	if i < 0 || i >= len(q.frames) {
		return nil
	}
	return q.frames[i]
}

func (q *frameQueue) pop() *media.Frame {
	if len(q.frames) == 0 {
		return nil
	}
	f := q.frames[0]
	copy(q.frames, q.frames[1:])
	q.frames[len(q.frames)-1] = nil
	q.frames = q.frames[:len(q.frames)-1]
	return f
}

func (q *frameQueue) clear() {
	clear(q.frames)
	q.frames = q.frames[:0]
}

// seconds returns the total presentation length of the queued frames.
func (q *frameQueue) seconds() float64 {
	var total float64
	for _, f := range q.frames {
		total += f.Duration()
	}
	return total
}
