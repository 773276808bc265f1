// ABOUTME: Shared test helpers for handler tests
// ABOUTME: Fake upstream API with rotate-on-use refresh and per-path call counters

package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/markalston/admin-gateway/config"
	"github.com/markalston/admin-gateway/models"
)

// cannedResponse overrides what the fake upstream returns for business calls
type cannedResponse struct {
	status      int
	contentType string
	body        string
	header      map[string]string
}

// hangUp makes a canned response drop the connection instead of answering
const hangUp = -1

// dropConnection closes the client connection without writing a response
func dropConnection(w http.ResponseWriter) {
	conn, _, err := w.(http.Hijacker).Hijack()
	if err == nil {
		conn.Close()
	}
}

type fakeUpstream struct {
	mu        sync.Mutex
	valid     map[string]bool      // access tokens the upstream accepts
	rotations map[string][2]string // refresh token -> {access, refresh}
	calls     map[string]int       // upstream path -> call count
	bodies    map[string][]string  // upstream path -> request bodies seen
	auth      map[string][]string  // upstream path -> Authorization headers seen
	canned    map[string]cannedResponse
	refreshDo func(w http.ResponseWriter) bool // optional refresh override
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		valid:     map[string]bool{"good": true},
		rotations: map[string][2]string{"r1": {"fresh", "r2"}},
		calls:     map[string]int{},
		bodies:    map[string][]string{},
		auth:      map[string][]string{},
		canned:    map[string]cannedResponse{},
	}
}

func (u *fakeUpstream) count(path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[path]
}

func (u *fakeUpstream) seenBodies(path string) []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.bodies[path]...)
}

func (u *fakeUpstream) seenAuth(path string) []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.auth[path]...)
}

func (u *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	u.mu.Lock()
	defer u.mu.Unlock()

	path := r.URL.Path
	u.calls[path]++
	u.bodies[path] = append(u.bodies[path], string(body))
	u.auth[path] = append(u.auth[path], r.Header.Get("Authorization"))
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	w.Header().Set("Content-Type", "application/json")
	switch path {
	case "/api/v1/auth/login":
		var req models.LoginRequest
		json.Unmarshal(body, &req)
		if req.Account != "ada" || req.Password != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":40001,"message":"账号或密码错误","timestamp":1}`))
			return
		}
		u.valid["a1"] = true
		w.Write([]byte(`{"code":200,"message":"ok","data":{"accessToken":"a1","refreshToken":"r1","user":{"id":1,"name":"Ada"}}}`))
	case "/api/v1/auth/refresh":
		if u.refreshDo != nil && u.refreshDo(w) {
			return
		}
		var req models.RefreshRequest
		json.Unmarshal(body, &req)
		pair, ok := u.rotations[req.RefreshToken]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code":401,"message":"refresh token revoked","timestamp":1}`))
			return
		}
		delete(u.rotations, req.RefreshToken)
		u.valid[pair[0]] = true
		fmt.Fprintf(w, `{"code":200,"data":{"accessToken":%q,"refreshToken":%q}}`, pair[0], pair[1])
	case "/api/v1/auth/logout":
		w.Write([]byte(`{"code":200,"message":"ok"}`))
	default:
		if !u.valid[token] {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code":401,"message":"token expired","timestamp":1}`))
			return
		}
		if path == "/api/v1/auth/me" {
			w.Write([]byte(`{"code":200,"message":"ok","data":{"user":{"id":1,"name":"Ada"}}}`))
			return
		}
		if c, ok := u.canned[path]; ok {
			if c.status == hangUp {
				dropConnection(w)
				return
			}
			for k, v := range c.header {
				w.Header().Set(k, v)
			}
			if c.contentType != "" {
				w.Header().Set("Content-Type", c.contentType)
			}
			w.WriteHeader(c.status)
			w.Write([]byte(c.body))
			return
		}
		fmt.Fprintf(w, `{"code":200,"message":"ok","data":{"method":%q,"path":%q,"query":%q}}`, r.Method, path, r.URL.RawQuery)
	}
}

func testConfig(upstreamURL string) *config.Config {
	return &config.Config{
		Port:               "0",
		AppEnv:             "development",
		ProtectedPrefix:    "/console",
		UpstreamBaseURL:    upstreamURL,
		UpstreamTimeout:    2 * time.Second,
		AccessTokenMaxAge:  15 * time.Minute,
		RefreshTokenMaxAge: 168 * time.Hour,
		RateLimitEnabled:   true,
		RateLimitLogin:     10,
	}
}

// newTestHandler starts a fake upstream and a handler pointed at it
func newTestHandler(t *testing.T, mods ...func(*config.Config)) (*Handler, *fakeUpstream) {
	t.Helper()

	up := newFakeUpstream()
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	for _, mod := range mods {
		mod(cfg)
	}

	h, err := NewHandler(cfg)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h, up
}

func withCookies(r *http.Request, cookies map[string]string) *http.Request {
	for name, value := range cookies {
		r.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return r
}

func responseCookies(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) models.Envelope {
	t.Helper()
	env, ok := models.ParseEnvelope(rec.Body.Bytes())
	if !ok {
		t.Fatalf("Response is not an envelope: %s", rec.Body.String())
	}
	return *env
}

func assertClearedCookies(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	cookies := responseCookies(rec)
	for _, name := range []string{"admin_access_token", "admin_refresh_token"} {
		c, ok := cookies[name]
		if !ok {
			t.Errorf("Expected %s to be cleared", name)
			continue
		}
		if c.Value != "" || c.MaxAge >= 0 {
			t.Errorf("Expected %s cleared, got value %q max-age %d", name, c.Value, c.MaxAge)
		}
	}
}
