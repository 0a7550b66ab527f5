/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler runs cooperative cycle tasks for every playback session
// on one shared goroutine.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playback/internal/telemetry"
)

// Scheduler errors.
var (
	ErrUnavailable = errors.New("scheduler unavailable")
	ErrStopped     = errors.New("scheduler stopped")
)

// DefaultCycleBudget is the cycle duration above which an overrun is logged.
const DefaultCycleBudget = 10 * time.Millisecond

// Task is a unit of cooperative work. RunCycle must not block; it returns
// the delay before it wants to run again, or again=false to park until
// someone calls Schedule.
type Task interface {
	RunCycle(now time.Time) (delay time.Duration, again bool)
}

// PanicHandler is implemented by tasks that want to observe a recovered panic.
type PanicHandler interface {
	CyclePanicked(v any)
}

// Options tunes a scheduler.
type Options struct {
	// CycleBudget is the soft per-cycle time limit.
	CycleBudget time.Duration
}

// Scheduler executes tasks from a delayed queue on a single goroutine.
type Scheduler struct {
	budget time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	queue   taskQueue
	pending map[Task]*entry
	seq     uint64
	started bool
	stopped bool

	wake  chan struct{}
	quit  chan struct{}
	ready chan struct{}
	done  chan struct{}
}

// New creates a scheduler. Call Start to launch its goroutine.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.CycleBudget <= 0 {
		opts.CycleBudget = DefaultCycleBudget
	}
	return &Scheduler{
		budget:  opts.CycleBudget,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		pending: make(map[Task]*entry),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the scheduler goroutine and waits until it is running.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	go s.loop()

	select {
	case <-s.ready:
		telemetry.SchedulerRunning.Inc()
		s.logger.Debug().Msg("scheduler started")
		return nil
	case <-ctx.Done():
		s.Stop()
		return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
}

// Schedule queues t to run after delay. If t is already queued, the earlier
// of the two due times wins.
func (s *Scheduler) Schedule(t Task, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	at := time.Now().Add(delay)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}

	if e, ok := s.pending[t]; ok {
		if !at.Before(e.at) {
			s.mu.Unlock()
			return
		}
		e.at = at
		heap.Fix(&s.queue, e.index)
	} else {
		s.seq++
		e := &entry{task: t, at: at, seq: s.seq}
		heap.Push(&s.queue, e)
		s.pending[t] = e
	}
	first := s.queue[0].task == t
	depth := len(s.queue)
	s.mu.Unlock()

	telemetry.SchedulerQueueDepth.Set(float64(depth))
	if first {
		s.signal()
	}
}

// Cancel removes any queued run of t.
func (s *Scheduler) Cancel(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.pending[t]; ok {
		heap.Remove(&s.queue, e.index)
		delete(s.pending, t)
	}
}

// Pending reports whether t has a queued run.
func (s *Scheduler) Pending(t Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[t]
	return ok
}

// Len returns the number of queued runs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Stop asks the goroutine to exit after the current cycle. Queued runs are
// discarded. Stop does not wait; use Done for that.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.queue = nil
	s.pending = make(map[Task]*entry)
	s.mu.Unlock()

	close(s.quit)
	if !started {
		close(s.done)
	}
}

// Done is closed once the scheduler goroutine has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer func() {
		telemetry.SchedulerRunning.Dec()
		telemetry.SchedulerQueueDepth.Set(0)
		s.logger.Debug().Msg("scheduler stopped")
		close(s.done)
	}()
	close(s.ready)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-s.quit:
			return
		default:
		}

		next, wait := s.next(time.Now())
		if next != nil {
			s.run(next)
			continue
		}

		if wait < 0 {
			select {
			case <-s.wake:
			case <-s.quit:
				return
			}
			continue
		}

		timer.Reset(wait)
		select {
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		case <-s.quit:
			return
		}
	}
}

// next pops the first due task. When nothing is due it returns the wait until
// the earliest entry, or -1 when the queue is empty.
func (s *Scheduler) next(now time.Time) (Task, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil, -1
	}
	head := s.queue[0]
	if head.at.After(now) {
		return nil, head.at.Sub(now)
	}
	heap.Pop(&s.queue)
	delete(s.pending, head.task)
	return head.task, 0
}

func (s *Scheduler) run(t Task) {
	start := time.Now()
	delay, again := s.invoke(t, start)
	elapsed := time.Since(start)

	telemetry.SchedulerCyclesTotal.Inc()
	telemetry.SchedulerCycleDuration.Observe(elapsed.Seconds())
	if elapsed > s.budget {
		telemetry.SchedulerCycleOverruns.Inc()
		s.logger.Warn().
			Dur("elapsed", elapsed).
			Dur("budget", s.budget).
			Msg("cycle exceeded budget")
	}

	if again {
		s.Schedule(t, delay)
	}
}

func (s *Scheduler) invoke(t Task, now time.Time) (delay time.Duration, again bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("cycle panicked")
			again = false
			if h, ok := t.(PanicHandler); ok {
				h.CyclePanicked(r)
			}
		}
	}()
	return t.RunCycle(now)
}
