/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/caninspect/internal/camera"
)

// Index renders the camera grid.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.Render(w, r, "pages/index", PageData{
		Data: map[string]any{
			"Cameras": h.hub.Catalog().List(),
		},
	})
}

// lookupCamera writes a 404 and returns false for unknown cameras.
func (h *Handler) lookupCamera(w http.ResponseWriter, r *http.Request) (camera.Camera, bool) {
	cam, err := h.hub.Catalog().Get(chi.URLParam(r, "camera"))
	if err != nil {
		http.Error(w, "Camera not found", http.StatusNotFound)
		return camera.Camera{}, false
	}
	return cam, true
}

func setStreamHeaders(w http.ResponseWriter, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("X-Accel-Buffering", "no")
}

// Stream serves an MJPEG stream, one part per frame delay once the camera
// has produced a frame.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	cam, ok := h.lookupCamera(w, r)
	if !ok {
		return
	}

	setStreamHeaders(w, camera.MJPEGContentType)
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	mjpeg := camera.NewMJPEGWriter(w, func() { _ = rc.Flush() })

	err := h.hub.Watch(r.Context(), cam.ID, "mjpeg", h.frameDelay, func(l *camera.Latest) error {
		return mjpeg.WritePart(l.JPEG)
	})
	if err != nil {
		h.logger.Debug().Err(err).Str("camera", cam.ID).Msg("mjpeg client gone")
	}
}

// flushWriter flushes after every write so encoded video reaches the
// browser as soon as ffmpeg emits it.
type flushWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err == nil {
		_ = f.rc.Flush()
	}
	return n, err
}

// Video serves H.264 in MPEG-TS encoded from the camera's frames.
func (h *Handler) Video(w http.ResponseWriter, r *http.Request) {
	cam, ok := h.lookupCamera(w, r)
	if !ok {
		return
	}
	if h.video == nil {
		http.Error(w, "Video encoding disabled", http.StatusServiceUnavailable)
		return
	}

	setStreamHeaders(w, camera.VideoContentType)
	w.WriteHeader(http.StatusOK)

	out := flushWriter{w: w, rc: http.NewResponseController(w)}
	if err := h.video.Stream(r.Context(), h.hub, cam.ID, out); err != nil {
		h.logger.Warn().Err(err).Str("camera", cam.ID).Msg("video stream ended")
	}
}

// Snapshot returns the latest JPEG of a camera.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	cam, ok := h.lookupCamera(w, r)
	if !ok {
		return
	}

	latest, err := h.hub.Latest(cam.ID)
	if errors.Is(err, camera.ErrNoFrame) {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(latest.JPEG)
}

// CaptureSnapshot archives the latest JPEG of a camera as training data.
func (h *Handler) CaptureSnapshot(w http.ResponseWriter, r *http.Request) {
	cam, ok := h.lookupCamera(w, r)
	if !ok {
		return
	}
	if h.archive == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "snapshot archive not configured")
		return
	}

	latest, err := h.hub.Latest(cam.ID)
	if errors.Is(err, camera.ErrNoFrame) {
		writeJSONError(w, http.StatusServiceUnavailable, "No frame available")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	res, err := h.archive.Capture(r.Context(), cam.ID, latest.JPEG)
	if err != nil {
		h.logger.Error().Err(err).Str("camera", cam.ID).Msg("snapshot capture failed")
		writeJSONError(w, http.StatusInternalServerError, "capture failed")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
