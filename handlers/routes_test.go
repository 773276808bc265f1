// ABOUTME: Tests for the route table and router wiring
// ABOUTME: Verifies routes, base path mounting, guard placement and login throttling

package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/markalston/admin-gateway/config"
)

func TestRoutes_AllRoutesHaveRequiredFields(t *testing.T) {
	h, _ := newTestHandler(t)

	for i, route := range h.Routes() {
		if route.Path == "" {
			t.Errorf("Route %d: Path is empty", i)
		}
		if route.Handler == nil {
			t.Errorf("Route %d: Handler is nil", i)
		}
		if !strings.HasPrefix(route.Path, "/") {
			t.Errorf("Route %d: Path %q must be absolute", i, route.Path)
		}
	}
}

func TestRoutes_NoDuplicatePatterns(t *testing.T) {
	h, _ := newTestHandler(t)

	seen := make(map[string]bool)
	for _, route := range h.Routes() {
		key := route.Method + " " + route.Path
		if seen[key] {
			t.Errorf("Duplicate route: %s", key)
		}
		seen[key] = true
	}
}

func TestRoutes_ExpectedEndpoints(t *testing.T) {
	h, _ := newTestHandler(t)

	expected := map[string]bool{
		"GET /healthz":          false,
		"POST /api/auth/login":  false,
		"POST /api/auth/logout": false,
		"GET /api/auth/me":      false,
		" /api/":                false,
		"GET /login":            false,
		"GET /session-expired":  false,
		"GET /console":          false,
		"GET /console/":         false,
	}

	for _, route := range h.Routes() {
		key := route.Method + " " + route.Path
		if _, ok := expected[key]; ok {
			expected[key] = true
		}
	}

	for key, found := range expected {
		if !found {
			t.Errorf("Missing expected route: %q", key)
		}
	}
}

func TestRouter_BasePathMountsEverything(t *testing.T) {
	h, _ := newTestHandler(t, func(c *config.Config) { c.BasePath = "/admin" })
	router := h.NewRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected /admin/healthz to be 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("Expected request logging middleware to set X-Request-ID")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected unprefixed /healthz to be 404, got %d", rec.Code)
	}
}

func TestRouter_GuardsConsoleOnly(t *testing.T) {
	h, _ := newTestHandler(t, func(c *config.Config) { c.BasePath = "/admin" })
	router := h.NewRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/console/customers", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("Expected guarded page to redirect, got %d", rec.Code)
	}
	loc, _ := url.Parse(rec.Header().Get("Location"))
	if loc.Path != "/admin/login" {
		t.Errorf("Expected redirect to /admin/login, got %s", loc.Path)
	}
	if got := loc.Query().Get("redirect"); got != "/admin/console/customers" {
		t.Errorf("Expected return target /admin/console/customers, got %q", got)
	}

	for _, path := range []string{"/admin/login", "/admin/session-expired"} {
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("Expected %s to render without a session, got %d", path, rec.Code)
		}
	}
}

func TestRouter_ConsoleRendersWithSession(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.NewRouter()

	req := withCookies(httptest.NewRequest(http.MethodGet, "/console", nil),
		map[string]string{"admin_access_token": "good"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Ada") {
		t.Error("Expected console to show the signed-in user")
	}
}

func TestRouter_ForwardsAnyMethodUnderAPI(t *testing.T) {
	h, up := newTestHandler(t)
	router := h.NewRouter()

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		req := withCookies(httptest.NewRequest(method, "/api/packages/3", nil),
			map[string]string{"admin_access_token": "good"})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", method, rec.Code)
		}
	}
	if n := up.count("/api/v1/packages/3"); n != 5 {
		t.Errorf("Expected 5 forwarded calls, got %d", n)
	}
}

func TestRouter_LoginIsRateLimited(t *testing.T) {
	h, _ := newTestHandler(t, func(c *config.Config) { c.RateLimitLogin = 1 })
	router := h.NewRouter()

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"account":"ada","password":"secret"}`))
		req.RemoteAddr = "198.51.100.7:4000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(); code != http.StatusOK {
		t.Fatalf("Expected first login 200, got %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Errorf("Expected second login 429, got %d", code)
	}
}

func TestRouter_RateLimitDisabled(t *testing.T) {
	h, _ := newTestHandler(t, func(c *config.Config) {
		c.RateLimitEnabled = false
		c.RateLimitLogin = 1
	})
	router := h.NewRouter()

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"account":"ada","password":"secret"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200 with rate limiting disabled, got %d", i+1, rec.Code)
		}
	}
}
