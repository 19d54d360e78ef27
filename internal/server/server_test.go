package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/caninspect/internal/camera"
	"github.com/friendsincode/caninspect/internal/conveyor"
	"github.com/friendsincode/caninspect/internal/logbuffer"
	"github.com/friendsincode/caninspect/internal/robotconfig"
	"github.com/friendsincode/caninspect/internal/web"
)

type fakePool struct {
	snap *conveyor.Snapshot
}

func (f *fakePool) Snapshot() *conveyor.Snapshot { return f.snap }

type fakeSupervisor struct{}

func (fakeSupervisor) Running(context.Context) bool  { return true }
func (fakeSupervisor) Restart(context.Context) error { return nil }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestSecurityHeadersMiddleware_BaselineHeaders(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := get(t, h, "/")
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options=%q, want nosniff", got)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options=%q, want DENY", got)
	}
	if got := rr.Header().Get("Content-Security-Policy"); !strings.Contains(got, "connect-src 'self' ws: wss:") {
		t.Fatalf("Content-Security-Policy=%q, want websocket connect-src", got)
	}
	if got := rr.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("expected no HSTS on non-HTTPS request, got %q", got)
	}
}

func TestSecurityHeadersMiddleware_SetsHSTSOnHTTPS(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Fatalf("Strict-Transport-Security=%q, want max-age=31536000; includeSubDomains", got)
	}
}

func TestIsLongLived(t *testing.T) {
	tests := map[string]bool{
		"/stream/overview":   true,
		"/video/inspection":  true,
		"/ws/events":         true,
		"/snapshot/overview": false,
		"/config":            false,
	}
	for path, want := range tests {
		if got := isLongLived(httptest.NewRequest(http.MethodGet, path, nil)); got != want {
			t.Errorf("isLongLived(%s)=%v, want %v", path, got, want)
		}
	}
}

func TestStatusHealthAndPool(t *testing.T) {
	pool := &fakePool{}
	s := NewStatus("127.0.0.1:0", pool, nil, zerolog.Nop())

	if rr := get(t, s.Handler(), "/healthz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before initialization, got %d", rr.Code)
	}
	if rr := get(t, s.Handler(), "/api/pool"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before initialization, got %d", rr.Code)
	}

	pool.snap = &conveyor.Snapshot{
		Tick:      42,
		UpdatedAt: time.Now(),
		Slots: []conveyor.Slot{
			{Identity: "pool_can_00", Kind: conveyor.KindDefective, Position: -0.92},
			{Identity: "pool_can_01", Kind: conveyor.KindNormal, Position: -0.52},
		},
	}

	rr := get(t, s.Handler(), "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var health map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health["status"] != "ok" || health["tick"] != float64(42) || health["slots"] != float64(2) {
		t.Fatalf("unexpected health %v", health)
	}

	rr = get(t, s.Handler(), "/api/pool")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"identity":"pool_can_00"`) || !strings.Contains(body, `"kind":"defective"`) {
		t.Fatalf("unexpected pool body %s", body)
	}
}

func TestStatusLogs(t *testing.T) {
	logs := logbuffer.New(10)
	logs.Add(logbuffer.LogEntry{Level: "info", Message: "pool initialized", Component: "conveyor"})
	logs.Add(logbuffer.LogEntry{Level: "warn", Message: "set pose failed", Component: "conveyor", Fields: map[string]any{"slot": "pool_can_02"}})
	logs.Add(logbuffer.LogEntry{Level: "info", Message: "HTTP server listening", Component: "status_server"})

	s := NewStatus("127.0.0.1:0", &fakePool{}, logs, zerolog.Nop())

	var resp struct {
		Entries []logbuffer.LogEntry `json:"entries"`
		Total   int                  `json:"total"`
	}
	rr := get(t, s.Handler(), "/api/logs?component=conveyor")
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 3 || len(resp.Entries) != 2 {
		t.Fatalf("expected 2 of 3 entries, got %d of %d", len(resp.Entries), resp.Total)
	}
	if resp.Entries[0].Message != "set pose failed" {
		t.Fatalf("expected newest first, got %q", resp.Entries[0].Message)
	}

	rr = get(t, s.Handler(), "/api/logs?slot=pool_can_02&limit=1")
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Level != "warn" {
		t.Fatalf("unexpected entries %+v", resp.Entries)
	}

	if rr := get(t, s.Handler(), "/api/logs?limit=abc"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}
}

func TestStatusLogsDisabled(t *testing.T) {
	s := NewStatus("127.0.0.1:0", &fakePool{}, nil, zerolog.Nop())
	if rr := get(t, s.Handler(), "/api/logs"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestStatusMetrics(t *testing.T) {
	s := NewStatus("127.0.0.1:0", &fakePool{}, nil, zerolog.Nop())
	get(t, s.Handler(), "/healthz")

	rr := get(t, s.Handler(), "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "caninspect_http_requests_total") {
		t.Fatal("expected http request metrics")
	}
}

func TestViewerHealthReportsCameras(t *testing.T) {
	hub := camera.NewHub(camera.DefaultCatalog("/overview_camera", "/inspection_camera"), zerolog.Nop())
	handler, err := web.NewHandler(web.Options{
		Hub:         hub,
		RobotConfig: robotconfig.NewStore(filepath.Join(t.TempDir(), "viam.json")),
		Supervisor:  fakeSupervisor{},
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	s := NewViewer("127.0.0.1:0", hub, handler, zerolog.Nop())

	frame := camera.Frame{Width: 2, Height: 2, Format: camera.FormatGray, Data: make([]byte, 4)}
	if err := hub.Publish("overview", frame); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	rr := get(t, s.Handler(), "/healthz")
	var health struct {
		Status  string          `json:"status"`
		Cameras map[string]bool `json:"cameras"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" || !health.Cameras["overview"] || health.Cameras["inspection"] {
		t.Fatalf("unexpected health %+v", health)
	}

	if rr := get(t, s.Handler(), "/"); rr.Code != http.StatusOK || rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("expected index with security headers, got %d", rr.Code)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := NewStatus("127.0.0.1:0", &fakePool{}, nil, zerolog.Nop())
	closed := false
	s.DeferClose(func() error { closed = true; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if err := s.Close(); err != nil || !closed {
		t.Fatalf("expected closers to run, err=%v", err)
	}
}

func TestListenReportsBindFailureImmediately(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer taken.Close()

	s := NewStatus(taken.Addr().String(), &fakePool{}, nil, zerolog.Nop())
	if err := s.Listen(); err == nil {
		t.Fatal("expected bind failure on an address in use")
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected Run to report the bind failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return on bind failure")
	}
}

func TestRunServesOnListenedAddress(t *testing.T) {
	s := NewStatus("127.0.0.1:0", &fakePool{}, nil, zerolog.Nop())
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	// The pool has no snapshot yet.
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("healthz status=%d", resp.StatusCode)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
