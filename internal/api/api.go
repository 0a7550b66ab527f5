/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes playback sessions over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playback/internal/events"
	"github.com/friendsincode/grimnir_playback/internal/logbuffer"
	"github.com/friendsincode/grimnir_playback/internal/playback"
	"github.com/friendsincode/grimnir_playback/internal/session"
	"github.com/friendsincode/grimnir_playback/internal/telemetry"
)

const maxBodyBytes = 1 << 16

// API exposes HTTP handlers.
type API struct {
	sessions *session.Manager
	bus      events.Broker
	logs     *logbuffer.Buffer
	logger   zerolog.Logger
}

// New creates the API router wrapper. logs may be nil.
func New(sessions *session.Manager, bus events.Broker, logs *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		sessions: sessions,
		bus:      bus,
		logs:     logs,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers the API routes on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())
	r.Get("/api/v1/logs", a.handleLogs)
	r.Get("/api/v1/logs/stats", a.handleLogStats)

	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", a.handleCreateSession)
		r.Get("/", a.handleListSessions)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", a.handleGetSession)
			r.Delete("/", a.handleDeleteSession)
			r.Post("/play", a.handlePlay)
			r.Post("/pause", a.handlePause)
			r.Post("/seek", a.handleSeek)
			r.Post("/volume", a.handleVolume)
			r.Get("/events", a.handleEvents)
			r.Get("/logs", a.handleSessionLogs)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": a.sessions.Count(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// decodeJSON reads a bounded JSON body into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

// writeSessionError maps manager and decoder errors to HTTP responses.
func (a *API) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session_not_found")
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "resource_not_found")
	case errors.Is(err, session.ErrTooManySessions):
		writeError(w, http.StatusTooManyRequests, "too_many_sessions")
	case errors.Is(err, session.ErrManagerClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting_down")
	case errors.Is(err, playback.ErrInvalidSeekTarget):
		writeError(w, http.StatusBadRequest, "invalid_seek_target")
	case errors.Is(err, playback.ErrNilResource):
		writeError(w, http.StatusBadRequest, "uri_required")
	case errors.Is(err, playback.ErrNotSeekable):
		writeError(w, http.StatusConflict, "not_seekable")
	case errors.Is(err, playback.ErrNotLoaded):
		writeError(w, http.StatusConflict, "not_loaded")
	case errors.Is(err, playback.ErrAlreadyLoaded):
		writeError(w, http.StatusConflict, "already_loaded")
	case errors.Is(err, playback.ErrShutdown):
		writeError(w, http.StatusConflict, "session_shut_down")
	case errors.Is(err, playback.ErrSchedulerUnavailable):
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable")
	default:
		a.logger.Error().Err(err).Msg("session operation failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}
