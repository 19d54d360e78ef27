/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes registers all web UI routes on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Handle("/static/*", h.StaticHandler())

	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write([]byte(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 32 32"><rect x="9" y="4" width="14" height="24" rx="3" fill="#94a3b8"/><rect x="9" y="10" width="14" height="12" fill="#ef4444"/></svg>`))
	})

	// Camera viewer
	r.Get("/", h.Index)
	r.Get("/stream/{camera}", h.Stream)
	r.Get("/video/{camera}", h.Video)
	r.Get("/snapshot/{camera}", h.Snapshot)
	r.With(h.CSRFMiddleware).Post("/api/snapshot/{camera}/capture", h.CaptureSnapshot)

	// Robot config editor
	r.Get("/config", h.ConfigPage)
	r.With(h.CSRFMiddleware).Post("/config/update", h.ConfigUpdate)
	r.Get("/api/robot-running", h.RobotRunning)

	// Live conveyor events
	r.Get("/ws/events", h.EventsWebSocket)
}
