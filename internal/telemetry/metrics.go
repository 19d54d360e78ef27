/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "caninspect"

// Conveyor metrics.
var (
	ConveyorTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "conveyor",
		Name:      "ticks_total",
		Help:      "Number of conveyor ticks executed.",
	})

	ConveyorTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "conveyor",
		Name:      "tick_duration_seconds",
		Help:      "Wall time spent issuing pose updates for one tick.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	ConveyorTickOverrunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "conveyor",
		Name:      "tick_overruns_total",
		Help:      "Ticks whose pose updates took longer than the tick interval.",
	})

	ConveyorPoseFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "conveyor",
		Name:      "pose_failures_total",
		Help:      "Set pose requests that failed, by slot.",
	}, []string{"slot"})

	ConveyorRecyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "conveyor",
		Name:      "recycles_total",
		Help:      "Slots moved back to the belt entry, by kind.",
	}, []string{"kind"})

	ConveyorSpawnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "conveyor",
		Name:      "spawns_total",
		Help:      "Spawn requests issued at pool creation, by result.",
	}, []string{"result"})

	ConveyorPoolSlots = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "conveyor",
		Name:      "pool_slots",
		Help:      "Slots in the pool, by kind.",
	}, []string{"kind"})
)

// Camera metrics.
var (
	CameraFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "camera",
		Name:      "frames_total",
		Help:      "Frames received from the image transport, by camera.",
	}, []string{"camera"})

	CameraFrameErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "camera",
		Name:      "frame_errors_total",
		Help:      "Frames that could not be decoded or encoded, by camera.",
	}, []string{"camera"})

	CaptureSamplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "samples_total",
		Help:      "Training samples attempted, by label and result.",
	}, []string{"label", "result"})

	CameraStreamClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "camera",
		Name:      "stream_clients",
		Help:      "Open stream responses, by camera and format.",
	}, []string{"camera", "format"})
)

// Robot server metrics.
var (
	RobotConfigUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "robot",
		Name:      "config_updates_total",
		Help:      "Robot configuration update attempts, by result.",
	}, []string{"result"})

	RobotRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "robot",
		Name:      "restarts_total",
		Help:      "Robot server restarts, by method.",
	}, []string{"method"})
)

// HTTP metrics.
var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests, by method, route and status.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency, by method, route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "active_connections",
		Help:      "Requests currently being served.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
