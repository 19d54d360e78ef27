package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCSRFMiddleware_AllowsValidMutatingRequest(t *testing.T) {
	h := &Handler{}
	token := "csrf-token-123"

	req := httptest.NewRequest(http.MethodPost, "http://example.com/config/update", strings.NewReader("config=%7B%7D"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set(csrfHeaderName, token)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: token})

	rr := httptest.NewRecorder()
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	h.CSRFMiddleware(next).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if !called {
		t.Fatalf("expected next handler to be called")
	}
}

func TestCSRFMiddleware_AcceptsFormField(t *testing.T) {
	h := &Handler{}

	req := httptest.NewRequest(http.MethodPost, "http://example.com/config/update", strings.NewReader("csrf_token=form-token&config=%7B%7D"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "form-token"})

	rr := httptest.NewRecorder()
	h.CSRFMiddleware(okHandler()).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestCSRFMiddleware_RejectsMissingToken(t *testing.T) {
	h := &Handler{}

	req := httptest.NewRequest(http.MethodPost, "http://example.com/api/snapshot/overview/capture", nil)
	req.Header.Set("Origin", "http://example.com")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "csrf-token-123"})

	rr := httptest.NewRecorder()
	h.CSRFMiddleware(okHandler()).ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestCSRFMiddleware_RejectsMismatchedToken(t *testing.T) {
	h := &Handler{}

	req := httptest.NewRequest(http.MethodPost, "http://example.com/config/update", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set(csrfHeaderName, "token-a")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "token-b"})

	rr := httptest.NewRecorder()
	h.CSRFMiddleware(okHandler()).ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestCSRFMiddleware_RejectsForeignOrigin(t *testing.T) {
	h := &Handler{}

	req := httptest.NewRequest(http.MethodPost, "http://example.com/config/update", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set(csrfHeaderName, "token")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "token"})

	rr := httptest.NewRecorder()
	h.CSRFMiddleware(okHandler()).ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestCSRFMiddleware_PassesSafeMethods(t *testing.T) {
	h := &Handler{}
	rr := httptest.NewRecorder()
	h.CSRFMiddleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://example.com/config", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestEnsureCSRFCookie_ReusesExistingToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/config", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-token"})
	rr := httptest.NewRecorder()

	token := ensureCSRFCookie(rr, req)
	if token != "existing-token" {
		t.Fatalf("expected existing token, got %q", token)
	}
	if got := rr.Header().Get("Set-Cookie"); got != "" {
		t.Fatalf("expected no Set-Cookie when token exists, got %q", got)
	}
}

func TestEnsureCSRFCookie_IssuesToken(t *testing.T) {
	rr := httptest.NewRecorder()
	token := ensureCSRFCookie(rr, httptest.NewRequest(http.MethodGet, "http://example.com/", nil))
	if token == "" {
		t.Fatal("expected a token")
	}
	if got := rr.Header().Get("Set-Cookie"); !strings.Contains(got, csrfCookieName+"="+token) || !strings.Contains(got, "SameSite=Strict") {
		t.Fatalf("unexpected Set-Cookie %q", got)
	}
}
