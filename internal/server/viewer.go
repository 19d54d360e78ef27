/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/friendsincode/caninspect/internal/camera"
	"github.com/friendsincode/caninspect/internal/telemetry"
	"github.com/friendsincode/caninspect/internal/web"
)

// NewViewer creates the camera viewer server.
func NewViewer(addr string, hub *camera.Hub, handler *web.Handler, logger zerolog.Logger) *Server {
	s := newServer(addr, "caninspect-viewer", logger.With().Str("component", "viewer_server").Logger())

	// Cameras without a frame yet do not fail the check; the simulation may
	// still be starting.
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		cameras := make(map[string]bool)
		for _, cam := range hub.Catalog().List() {
			_, err := hub.Latest(cam.ID)
			cameras[cam.ID] = err == nil
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"cameras": cameras,
		})
	})

	s.router.Handle("/metrics", telemetry.Handler())

	handler.Routes(s.router)
	return s
}
