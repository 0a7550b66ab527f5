/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import "sync"

// Monitor guards all cross-goroutine state of one session. It is not
// reentrant: functions suffixed Locked expect the caller to hold it.
type Monitor struct {
	mu   sync.Mutex
	cond *sync.Cond
}

// NewMonitor returns an unlocked monitor.
func NewMonitor() *Monitor {
	m := &Monitor{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *Monitor) Lock()   { m.mu.Lock() }
func (m *Monitor) Unlock() { m.mu.Unlock() }

// Wait releases the monitor until Broadcast is called.
func (m *Monitor) Wait() { m.cond.Wait() }

// Broadcast wakes every goroutine blocked in Wait.
func (m *Monitor) Broadcast() { m.cond.Broadcast() }
