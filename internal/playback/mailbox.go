/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"sync"
)

// mailbox is an unbounded FIFO consumed by one actor goroutine. Posting
// never blocks, so cycles and workers may post while holding other locks.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []func(context.Context)
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// post enqueues fn. It returns false once the mailbox is closed.
func (m *mailbox) post(fn func(context.Context)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.items = append(m.items, fn)
	m.cond.Signal()
	return true
}

// next blocks for the next item. After close it drains what was queued and
// then reports ok=false.
func (m *mailbox) next() (fn func(context.Context), ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.items) == 0 && !m.closed {
		m.cond.Wait()
	}
	if len(m.items) == 0 {
		return nil, false
	}
	fn = m.items[0]
	m.items[0] = nil
	m.items = m.items[1:]
	return fn, true
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}
