/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/friendsincode/caninspect/internal/conveyor"
	"github.com/friendsincode/caninspect/internal/logbuffer"
	"github.com/friendsincode/caninspect/internal/telemetry"
)

const defaultLogLimit = 200

// PoolSource provides the latest pool snapshot.
type PoolSource interface {
	Snapshot() *conveyor.Snapshot
}

// NewStatus creates the spawner status server. logs may be nil.
func NewStatus(addr string, pool PoolSource, logs *logbuffer.Buffer, logger zerolog.Logger) *Server {
	s := newServer(addr, "caninspect-spawner", logger.With().Str("component", "status_server").Logger())

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := pool.Snapshot()
		if snap == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "initializing"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"tick":   snap.Tick,
			"slots":  len(snap.Slots),
		})
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Get("/api/pool", func(w http.ResponseWriter, r *http.Request) {
		snap := pool.Snapshot()
		if snap == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "pool not initialized"})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	s.router.Get("/api/logs", func(w http.ResponseWriter, r *http.Request) {
		if logs == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "log buffer disabled"})
			return
		}
		q := r.URL.Query()
		params := logbuffer.QueryParams{
			Level:      q.Get("level"),
			Component:  q.Get("component"),
			Slot:       q.Get("slot"),
			Search:     q.Get("search"),
			Limit:      defaultLogLimit,
			Descending: true,
		}
		if v := q.Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
				return
			}
			params.Limit = limit
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"entries": logs.Query(params),
			"total":   logs.Len(),
		})
	})

	return s
}
