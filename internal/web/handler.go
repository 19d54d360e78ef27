/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package web serves the camera viewer and the robot config editor.
package web

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/caninspect/internal/camera"
	"github.com/friendsincode/caninspect/internal/capture"
	"github.com/friendsincode/caninspect/internal/events"
	"github.com/friendsincode/caninspect/internal/robotconfig"
	"github.com/friendsincode/caninspect/internal/version"
)

// RobotSupervisor reports on and restarts the robot server.
type RobotSupervisor interface {
	Running(ctx context.Context) bool
	Restart(ctx context.Context) error
}

// EventBus is the part of the event bus the viewer uses.
type EventBus interface {
	events.Publisher
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
}

// Options wires the handler's collaborators. Archive and Bus may be nil.
type Options struct {
	Hub         *camera.Hub
	Video       *camera.VideoEncoder
	Archive     *capture.Archive
	RobotConfig *robotconfig.Store
	Supervisor  RobotSupervisor
	Bus         EventBus
	StationName string
	FrameDelay  time.Duration
}

// Handler provides web UI endpoints with server-rendered templates.
type Handler struct {
	hub         *camera.Hub
	video       *camera.VideoEncoder
	archive     *capture.Archive
	robotConfig *robotconfig.Store
	supervisor  RobotSupervisor
	bus         EventBus
	stationName string
	frameDelay  time.Duration
	logger      zerolog.Logger

	templates map[string]*template.Template // Each page gets its own template set
	partials  *template.Template            // Shared partials
}

// PageData holds common data passed to all templates.
type PageData struct {
	Title       string
	Heading     string
	Flash       *FlashMessage
	CurrentPath string
	CSRFToken   string
	Version     string
	Data        any
}

// FlashMessage is a one-shot notice shown after a redirect.
type FlashMessage struct {
	Type    string // success, error
	Message string
}

// NewHandler creates a new web handler.
func NewHandler(opts Options, logger zerolog.Logger) (*Handler, error) {
	if opts.Hub == nil || opts.RobotConfig == nil || opts.Supervisor == nil {
		return nil, fmt.Errorf("web handler: hub, robot config and supervisor are required")
	}
	if opts.FrameDelay <= 0 {
		opts.FrameDelay = time.Second / 30
	}

	h := &Handler{
		hub:         opts.Hub,
		video:       opts.Video,
		archive:     opts.Archive,
		robotConfig: opts.RobotConfig,
		supervisor:  opts.Supervisor,
		bus:         opts.Bus,
		stationName: opts.StationName,
		frameDelay:  opts.FrameDelay,
		logger:      logger.With().Str("component", "web").Logger(),
	}

	if err := h.loadTemplates(); err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	return h, nil
}

func (h *Handler) loadTemplates() error {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
	}

	h.templates = make(map[string]*template.Template)

	var layoutFiles, partialFiles, pageFiles []string
	err := fs.WalkDir(TemplateFS, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".html") {
			return nil
		}
		switch {
		case strings.HasPrefix(path, "templates/layouts/"):
			layoutFiles = append(layoutFiles, path)
		case strings.HasPrefix(path, "templates/partials/"):
			partialFiles = append(partialFiles, path)
		case strings.HasPrefix(path, "templates/pages/"):
			pageFiles = append(pageFiles, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.partials = template.New("").Funcs(funcMap)
	for _, path := range partialFiles {
		if err := parseInto(h.partials, path); err != nil {
			return err
		}
	}

	// Pages share layouts and partials but get their own set so block
	// definitions do not collide.
	for _, pagePath := range pageFiles {
		tmpl := template.New("").Funcs(funcMap)
		for _, path := range append(append([]string{}, layoutFiles...), partialFiles...) {
			if err := parseInto(tmpl, path); err != nil {
				return err
			}
		}
		if err := parseInto(tmpl, pagePath); err != nil {
			return err
		}
		name := templateName(pagePath)
		h.templates[name] = tmpl
		h.logger.Debug().Str("template", name).Msg("loaded template")
	}
	return nil
}

func parseInto(set *template.Template, path string) error {
	content, err := fs.ReadFile(TemplateFS, path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if _, err := set.New(templateName(path)).Parse(string(content)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func templateName(path string) string {
	return strings.TrimSuffix(strings.TrimPrefix(path, "templates/"), ".html")
}

// Render renders a page template with the given data.
func (h *Handler) Render(w http.ResponseWriter, r *http.Request, name string, data PageData) {
	data.CurrentPath = r.URL.Path
	data.CSRFToken = ensureCSRFCookie(w, r)
	data.Version = version.Version
	if data.Title == "" {
		data.Title = h.title()
	}
	if data.Heading == "" {
		data.Heading = h.heading()
	}

	tmpl, ok := h.templates[name]
	if !ok {
		h.logger.Error().Str("template", name).Msg("template not found")
		http.Error(w, "Template not found", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, name, data); err != nil {
		h.logger.Error().Err(err).Str("template", name).Msg("template render failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// RenderPartial renders a partial template (for HTMX responses).
func (h *Handler) RenderPartial(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.partials.ExecuteTemplate(w, name, data); err != nil {
		h.logger.Error().Err(err).Str("template", name).Msg("partial render failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) title() string {
	if h.stationName != "" {
		return "Can Inspection - " + h.stationName
	}
	return "Can Inspection Station"
}

func (h *Handler) heading() string {
	if h.stationName != "" {
		return "Can Inspection " + h.stationName
	}
	return "Can Inspection Station"
}

// StaticHandler returns an http.Handler for static files.
func (h *Handler) StaticHandler() http.Handler {
	fsys, _ := fs.Sub(StaticFS, "static")
	return http.StripPrefix("/static/", http.FileServer(http.FS(fsys)))
}
