/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Registry hands out a process-wide scheduler with reference counting: the
// first Acquire starts it and the last Release stops it.
type Registry struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	current  *Scheduler
	refs     int
	acquired uint64
	released uint64
}

// RegistryStats is a snapshot of registry counters.
type RegistryStats struct {
	Refs     int
	Acquired uint64
	Released uint64
	Running  bool
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options, logger zerolog.Logger) *Registry {
	return &Registry{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler_registry").Logger(),
	}
}

var (
	sharedOnce sync.Once
	shared     *Registry
)

// Shared returns the process-wide registry.
func Shared() *Registry {
	sharedOnce.Do(func() {
		shared = NewRegistry(Options{}, log.Logger)
	})
	return shared
}

// Acquire returns the running scheduler, starting one if needed.
func (r *Registry) Acquire(ctx context.Context) (*Scheduler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		s := New(r.opts, r.logger)
		if err := s.Start(ctx); err != nil {
			r.logger.Error().Err(err).Msg("failed to start shared scheduler")
			return nil, err
		}
		r.current = s
		r.logger.Info().Msg("shared scheduler created")
	}

	r.refs++
	r.acquired++
	return r.current, nil
}

// Release drops one reference to s. Releasing a scheduler that is no longer
// current is a no-op.
func (r *Registry) Release(s *Scheduler) {
	if s == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s != r.current || r.refs == 0 {
		r.logger.Warn().Msg("release of unknown scheduler ignored")
		return
	}

	r.refs--
	r.released++
	if r.refs == 0 {
		r.current.Stop()
		r.current = nil
		r.logger.Info().Msg("shared scheduler torn down")
	}
}

// Current returns the running scheduler, or nil.
func (r *Registry) Current() *Scheduler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Stats returns reference counters.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RegistryStats{
		Refs:     r.refs,
		Acquired: r.acquired,
		Released: r.released,
		Running:  r.current != nil,
	}
}
