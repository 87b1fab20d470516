/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/bragi_autodj/internal/autoplay"
	"github.com/friendsincode/bragi_autodj/internal/engine"
	"github.com/friendsincode/bragi_autodj/internal/telemetry"
)

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	s.router.Get("/readyz", s.handleReadyz)
	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Route("/api/engine", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/next", s.handleNext)
		r.Post("/playback", s.handlePlayback)
		r.Post("/prefetch", s.handlePrefetch)
		r.Post("/refresh", s.handleRefresh)
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.db.DB()
	if err != nil || sqlDB.PingContext(r.Context()) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "database unavailable"})
		return
	}
	if !s.mediaRootWritable() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "media root not writable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"weights":           s.selector.Weights(),
		"recommend_pool":    len(s.recommend.Snapshot()),
		"recommend_seed":    s.recommend.Seed(),
		"cache_available":   s.cache != nil && s.cache.IsAvailable(),
		"prefetch_horizon":  s.cfg.PrefetchHorizon,
		"download_attempts": s.cfg.DownloadAttempts,
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	exclude := r.URL.Query()["exclude"]
	if current := r.URL.Query().Get("current"); current != "" {
		exclude = append(exclude, current)
	}

	next, err := s.engine.NextReady(r.Context(), exclude...)
	if errors.Is(err, autoplay.ErrNoCandidates) || errors.Is(err, engine.ErrExhausted) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"track_id": next.TrackID,
		"title":    next.Title,
		"path":     next.Path,
		"source":   string(next.Category),
	})
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackID string `json:"track_id"`
		Manual  bool   `json:"manual"`
		Skipped bool   `json:"skipped"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TrackID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "track_id required"})
		return
	}

	if err := s.engine.ReportPlayback(r.Context(), req.TrackID, req.Manual, req.Skipped); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "recorded"})
}

func (s *Server) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	if err := s.prefetcher.Sweep(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sweeping"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.blocks.Refresh(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if err := s.cooldowns.Refresh(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "refreshed"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
