/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/grimnir_playback/internal/session"
)

type seekRequest struct {
	Time *float64 `json:"time"`
}

type volumeRequest struct {
	Volume *float64 `json:"volume"`
}

func (a *API) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := a.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		a.writeSessionError(w, err)
		return nil, false
	}
	return s, true
}

func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URI == "" {
		writeError(w, http.StatusBadRequest, "uri_required")
		return
	}

	s, err := a.sessions.Create(r.Context(), req)
	if err != nil {
		a.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.Info())
}

func (a *API) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	list := a.sessions.List()
	out := make([]session.Info, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

func (a *API) handlePlay(w http.ResponseWriter, r *http.Request) {
	a.intent(w, r, (*session.Session).Play)
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	a.intent(w, r, (*session.Session).Pause)
}

func (a *API) intent(w http.ResponseWriter, r *http.Request, fn func(*session.Session, context.Context) error) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	if err := fn(s, r.Context()); err != nil {
		a.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

func (a *API) handleSeek(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	var req seekRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Time == nil {
		writeError(w, http.StatusBadRequest, "time_required")
		return
	}
	if err := s.Seek(r.Context(), *req.Time); err != nil {
		a.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

func (a *API) handleVolume(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	var req volumeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Volume == nil {
		writeError(w, http.StatusBadRequest, "volume_required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"volume": s.SetVolume(*req.Volume)})
}

func (a *API) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := a.sessions.Close(r.Context(), id); err != nil {
		a.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "closing", "id": id})
}
