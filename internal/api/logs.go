/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/grimnir_playback/internal/logbuffer"
)

const defaultLogLimit = 200

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	params, ok := a.logQuery(w, r)
	if !ok {
		return
	}
	a.writeLogs(w, params)
}

func (a *API) handleSessionLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := a.sessions.Get(id); err != nil {
		a.writeSessionError(w, err)
		return
	}
	params, ok := a.logQuery(w, r)
	if !ok {
		return
	}
	params.SessionID = id
	a.writeLogs(w, params)
}

func (a *API) handleLogStats(w http.ResponseWriter, _ *http.Request) {
	if a.logs == nil {
		writeError(w, http.StatusNotFound, "log_buffer_disabled")
		return
	}
	writeJSON(w, http.StatusOK, a.logs.Stats())
}

// logQuery parses level, component, session_id, search, since (RFC 3339)
// and limit. Results are newest first.
func (a *API) logQuery(w http.ResponseWriter, r *http.Request) (logbuffer.QueryParams, bool) {
	if a.logs == nil {
		writeError(w, http.StatusNotFound, "log_buffer_disabled")
		return logbuffer.QueryParams{}, false
	}

	q := r.URL.Query()
	params := logbuffer.QueryParams{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		SessionID:  q.Get("session_id"),
		Search:     q.Get("search"),
		Limit:      defaultLogLimit,
		Descending: true,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return params, false
		}
		params.Limit = n
	}
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return params, false
		}
		params.Since = t
	}
	return params, true
}

func (a *API) writeLogs(w http.ResponseWriter, params logbuffer.QueryParams) {
	writeJSON(w, http.StatusOK, map[string]any{"logs": a.logs.Query(params)})
}
