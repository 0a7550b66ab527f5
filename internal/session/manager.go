/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session manages playback sessions: each wraps a Decoder, publishes
// its notifications on the event bus and remembers where it stopped.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playback/internal/events"
	"github.com/friendsincode/grimnir_playback/internal/media"
	"github.com/friendsincode/grimnir_playback/internal/playback"
	"github.com/friendsincode/grimnir_playback/internal/scheduler"
	"github.com/friendsincode/grimnir_playback/internal/store"
)

// Manager errors.
var (
	ErrNotFound        = errors.New("session not found")
	ErrTooManySessions = errors.New("too many sessions")
	ErrManagerClosed   = errors.New("session manager closed")
)

// Opener resolves a URI to a media resource.
type Opener interface {
	Open(ctx context.Context, uri string) (media.Resource, error)
}

// PositionStore persists playback positions.
type PositionStore interface {
	Save(ctx context.Context, p store.PlaybackPosition) error
	Get(ctx context.Context, uri string) (store.PlaybackPosition, error)
}

// Config tunes a Manager.
type Config struct {
	// MaxSessions caps concurrently open sessions. Zero means no limit.
	MaxSessions int
	// Options are passed to every Decoder.
	Options playback.Options
	// Registry supplies the shared scheduler. Defaults to scheduler.Shared().
	Registry *scheduler.Registry
}

// CreateRequest describes a new session.
type CreateRequest struct {
	URI      string `json:"uri"`
	Autoplay bool   `json:"autoplay"`
	// Resume seeks to the stored position for URI, if any.
	Resume bool `json:"resume"`
	// StartAt seeks to the given time after load. Ignored when zero or when a
	// stored position is resumed.
	StartAt float64 `json:"start_at,omitempty"`
	// Infinite marks the resource as a live stream.
	Infinite bool `json:"infinite,omitempty"`
}

// Manager owns the set of live sessions.
type Manager struct {
	opener    Opener
	backend   media.Backend
	bus       events.Broker
	positions PositionStore
	cfg       Config
	base      zerolog.Logger
	logger    zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

// NewManager creates a session manager. positions may be nil to disable
// resume.
func NewManager(opener Opener, backend media.Backend, bus events.Broker, positions PositionStore, cfg Config, logger zerolog.Logger) *Manager {
	if bus == nil {
		bus = events.NewBus()
	}
	if cfg.Registry == nil {
		cfg.Registry = scheduler.Shared()
	}
	return &Manager{
		opener:    opener,
		backend:   backend,
		bus:       bus,
		positions: positions,
		cfg:       cfg,
		base:      logger,
		logger:    logger.With().Str("component", "session_manager").Logger(),
		sessions:  make(map[string]*Session),
	}
}

// Create opens req.URI, loads it into a new Decoder and registers the
// session. The session is live once Create returns; metadata arrives
// asynchronously.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	if req.URI == "" {
		return nil, fmt.Errorf("%w: empty uri", playback.ErrNilResource)
	}
	if math.IsNaN(req.StartAt) || req.StartAt < 0 {
		return nil, playback.ErrInvalidSeekTarget
	}
	if err := m.reserve(); err != nil {
		return nil, err
	}
	registered := false
	defer func() {
		if !registered {
			m.wg.Done()
		}
	}()

	res, err := m.opener.Open(ctx, req.URI)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", req.URI, err)
	}

	id := uuid.NewString()
	s := &Session{
		id:        id,
		uri:       req.URI,
		createdAt: time.Now().UTC(),
		positions: m.positions,
		bus:       m.bus,
		logger:    m.logger.With().Str("session_id", id).Logger(),
	}
	el := &busElement{sess: s, bus: m.bus}
	s.decoder = playback.NewDecoder(id, m.backend, el, m.cfg.Registry, m.cfg.Options, m.base)
	if req.Infinite {
		s.decoder.SetInfinite(true)
	}

	if err := s.decoder.Load(ctx, res); err != nil {
		_ = s.decoder.Shutdown(context.WithoutCancel(ctx))
		_ = res.Close()
		return nil, fmt.Errorf("load %s: %w", req.URI, err)
	}

	if seek := m.startPosition(ctx, req); seek > 0 {
		if err := s.decoder.Seek(ctx, seek); err != nil {
			s.logger.Warn().Err(err).Float64("position", seek).Msg("initial seek failed")
		}
	}
	if req.Autoplay {
		if err := s.decoder.Play(ctx); err != nil {
			_ = s.decoder.Shutdown(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("play %s: %w", req.URI, err)
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = s.decoder.Shutdown(context.WithoutCancel(ctx))
		return nil, ErrManagerClosed
	}
	m.sessions[id] = s
	m.mu.Unlock()
	registered = true
	go m.reap(s)

	s.logger.Info().Str("uri", req.URI).Bool("autoplay", req.Autoplay).Msg("session created")
	m.bus.Publish(events.EventSessionCreated, events.Payload{
		"session_id": id,
		"uri":        req.URI,
		"timestamp":  s.createdAt,
	})
	return s, nil
}

// reserve claims a slot for a session being created.
func (m *Manager) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return fmt.Errorf("%w: limit %d", ErrTooManySessions, m.cfg.MaxSessions)
	}
	m.wg.Add(1)
	return nil
}

func (m *Manager) startPosition(ctx context.Context, req CreateRequest) float64 {
	if req.Resume && m.positions != nil && !req.Infinite {
		p, err := m.positions.Get(ctx, req.URI)
		switch {
		case err == nil && !p.Ended && p.Position > 0:
			m.logger.Debug().Str("uri", req.URI).Float64("position", p.Position).Msg("resuming stored position")
			return p.Position
		case err != nil && !errors.Is(err, store.ErrNotFound):
			m.logger.Warn().Err(err).Str("uri", req.URI).Msg("failed to read stored position")
		}
	}
	return req.StartAt
}

// reap drops s from the manager once its decoder has shut down.
func (m *Manager) reap(s *Session) {
	defer m.wg.Done()
	<-s.decoder.Done()

	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()

	payload := events.Payload{"session_id": s.id, "uri": s.uri, "timestamp": time.Now().UTC()}
	if err := s.decoder.Err(); err != nil {
		payload["error"] = err.Error()
	}
	m.bus.Publish(events.EventSessionClosed, payload)
	s.logger.Info().Msg("session closed")
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// List returns live sessions ordered by creation time, then ID.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].createdAt.Before(out[j].createdAt)
		}
		return out[i].id < out[j].id
	})
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close shuts down one session. It returns once teardown has started.
func (m *Manager) Close(ctx context.Context, id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Close(ctx)
}

// Shutdown closes every session and waits for their teardown, or for ctx.
// No sessions can be created afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	m.logger.Info().Int("sessions", len(live)).Msg("shutting down sessions")
	var errs []error
	for _, s := range live {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", s.id, err))
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for sessions: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}
