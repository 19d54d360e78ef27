/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"errors"
	"net/http"

	"github.com/friendsincode/caninspect/internal/events"
	"github.com/friendsincode/caninspect/internal/robotconfig"
	"github.com/friendsincode/caninspect/internal/telemetry"
)

// ConfigPage shows the robot server configuration editor.
func (h *Handler) ConfigPage(w http.ResponseWriter, r *http.Request) {
	flash := popFlash(w, r)

	content, exists, err := h.robotConfig.Read()
	if err != nil {
		h.logger.Error().Err(err).Str("path", h.robotConfig.Path()).Msg("read robot config failed")
		flash = &FlashMessage{Type: "error", Message: "Error reading config: " + err.Error()}
	}

	h.Render(w, r, "pages/config", PageData{
		Title: "Robot Configuration",
		Flash: flash,
		Data: map[string]any{
			"Config":  content,
			"Exists":  exists,
			"Path":    h.robotConfig.Path(),
			"Running": h.supervisor.Running(r.Context()),
		},
	})
}

// ConfigUpdate validates and writes the submitted configuration, then
// restarts the robot server. It always redirects back to the editor.
func (h *Handler) ConfigUpdate(w http.ResponseWriter, r *http.Request) {
	defer http.Redirect(w, r, "/config", http.StatusSeeOther)

	if err := r.ParseForm(); err != nil {
		setFlash(w, "error", "Error updating config: "+err.Error())
		return
	}

	err := h.robotConfig.Write(r.PostFormValue("config"))
	switch {
	case errors.Is(err, robotconfig.ErrEmptyConfig):
		telemetry.RobotConfigUpdatesTotal.WithLabelValues("empty").Inc()
		setFlash(w, "error", "Configuration cannot be empty")
		return
	case errors.Is(err, robotconfig.ErrInvalidJSON):
		telemetry.RobotConfigUpdatesTotal.WithLabelValues("invalid").Inc()
		setFlash(w, "error", "Invalid JSON: "+trimSentinel(err, robotconfig.ErrInvalidJSON))
		return
	case err != nil:
		telemetry.RobotConfigUpdatesTotal.WithLabelValues("error").Inc()
		h.logger.Error().Err(err).Msg("write robot config failed")
		setFlash(w, "error", "Error updating config: "+err.Error())
		return
	}

	telemetry.RobotConfigUpdatesTotal.WithLabelValues("ok").Inc()
	h.logger.Info().Str("path", h.robotConfig.Path()).Msg("robot config updated")
	h.publish(events.EventRobotConfigUpdated, events.Payload{"path": h.robotConfig.Path()})

	if err := h.supervisor.Restart(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("robot server restart failed")
		setFlash(w, "error", "Configuration saved but the robot server could not be restarted: "+err.Error())
		return
	}
	h.publish(events.EventRobotRestarted, events.Payload{"reason": "config_updated"})
	setFlash(w, "success", "Configuration updated successfully. Robot server is restarting...")
}

// RobotRunning renders the self-polling robot server status fragment.
func (h *Handler) RobotRunning(w http.ResponseWriter, r *http.Request) {
	h.RenderPartial(w, "partials/robot_status", map[string]any{
		"Running": h.supervisor.Running(r.Context()),
	})
}

func (h *Handler) publish(eventType events.EventType, payload events.Payload) {
	if h.bus != nil {
		h.bus.Publish(eventType, payload)
	}
}

// trimSentinel drops the "<sentinel>: " prefix from a wrapped error.
func trimSentinel(err, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
