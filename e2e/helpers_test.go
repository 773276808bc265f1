// ABOUTME: Test helpers for e2e tests
// ABOUTME: Fake upstream API, gateway bootstrapping from env, and a cookie-carrying browser

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/markalston/admin-gateway/config"
	"github.com/markalston/admin-gateway/handlers"
	"github.com/markalston/admin-gateway/models"
)

const (
	accessCookie  = "admin_access_token"
	refreshCookie = "admin_refresh_token"
)

// upstream fakes the backend API. Access tokens are HS256 JWTs; refresh
// tokens are single use and rotate on every successful refresh.
type upstream struct {
	mu        sync.Mutex
	secret    []byte
	access    map[string]bool
	refresh   map[string]bool
	calls     map[string]int
	bodies    map[string][]string
	dropPaths map[string]bool // paths whose connection is closed without a response
	retryAuth map[string]bool // paths that keep answering 401 to every token
}

func newUpstream() *upstream {
	return &upstream{
		secret:    []byte("upstream-test-secret"),
		access:    map[string]bool{},
		refresh:   map[string]bool{},
		calls:     map[string]int{},
		bodies:    map[string][]string{},
		dropPaths: map[string]bool{},
		retryAuth: map[string]bool{},
	}
}

// start serves the fake upstream for the duration of the test
func (u *upstream) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(u)
	t.Cleanup(srv.Close)
	return srv
}

// issue mints a session: a live access token and a live refresh token
func (u *upstream) issue(t *testing.T) (string, string) {
	t.Helper()
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.issueLocked(t), u.newRefreshLocked()
}

// issueExpired mints a refresh token plus an access token the upstream no longer accepts
func (u *upstream) issueExpired(t *testing.T) (string, string) {
	t.Helper()
	u.mu.Lock()
	defer u.mu.Unlock()
	access := u.issueLocked(t)
	delete(u.access, access)
	return access, u.newRefreshLocked()
}

func (u *upstream) issueLocked(t *testing.T) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}).SignedString(u.secret)
	if err != nil && t != nil {
		t.Fatalf("signing access token: %v", err)
	}
	u.access[token] = true
	return token
}

func (u *upstream) newRefreshLocked() string {
	token := "rt-" + uuid.NewString()
	u.refresh[token] = true
	return token
}

func (u *upstream) count(path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[path]
}

func (u *upstream) seenBodies(path string) []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.bodies[path]...)
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	u.mu.Lock()
	defer u.mu.Unlock()

	path := r.URL.Path
	u.calls[path]++
	u.bodies[path] = append(u.bodies[path], string(body))

	if u.dropPaths[path] {
		if conn, _, err := w.(http.Hijacker).Hijack(); err == nil {
			conn.Close()
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	switch path {
	case "/api/v1/auth/login":
		var req models.LoginRequest
		json.Unmarshal(body, &req)
		if req.Account != "ada" || req.Password != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":40001,"message":"账号或密码错误","timestamp":1}`))
			return
		}
		access := u.issueLocked(nil)
		refresh := u.newRefreshLocked()
		fmt.Fprintf(w, `{"code":200,"message":"ok","data":{"accessToken":%q,"refreshToken":%q,"user":{"id":1,"name":"Ada"}},"timestamp":1}`, access, refresh)
	case "/api/v1/auth/refresh":
		var req models.RefreshRequest
		json.Unmarshal(body, &req)
		if !u.refresh[req.RefreshToken] {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code":401,"message":"refresh token revoked","timestamp":1}`))
			return
		}
		delete(u.refresh, req.RefreshToken)
		access := u.issueLocked(nil)
		refresh := u.newRefreshLocked()
		fmt.Fprintf(w, `{"code":200,"message":"ok","data":{"accessToken":%q,"refreshToken":%q},"timestamp":1}`, access, refresh)
	default:
		if !u.access[token] || u.retryAuth[path] {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code":401,"message":"token expired","timestamp":1}`))
			return
		}
		switch {
		case path == "/api/v1/auth/me":
			w.Write([]byte(`{"code":200,"message":"ok","data":{"user":{"id":1,"name":"Ada","roles":["admin"]}},"timestamp":1712345678901}`))
		case r.Method == http.MethodGet:
			fmt.Fprintf(w, `{"code":200,"message":"ok","data":{"path":%q,"items":[{"id":1},{"id":2}]},"timestamp":1712345678901}`, path)
		default:
			fmt.Fprintf(w, `{"code":200,"message":"updated","data":%s,"timestamp":1712345678901}`, orNull(body))
		}
	}
}

func orNull(body []byte) string {
	if len(body) == 0 {
		return "null"
	}
	return string(body)
}

// startGateway configures the gateway through the environment, the way the
// binary is configured, and serves its router.
func startGateway(t *testing.T, upstreamURL string, extra map[string]string) *httptest.Server {
	t.Helper()

	t.Setenv("UPSTREAM_BASE_URL", upstreamURL)
	t.Setenv("APP_ENV", "development")
	t.Setenv("UPSTREAM_TIMEOUT", "2s")
	for key, value := range extra {
		t.Setenv(key, value)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	h, err := handlers.NewHandler(cfg)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	srv := httptest.NewServer(h.NewRouter())
	t.Cleanup(srv.Close)
	return srv
}

// deadURL returns the address of a server that is no longer listening
func deadURL() string {
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	return u
}

// browser holds the cookie values a browser would send to the gateway
type browser map[string]string

// result is a gateway response with its body already read
type result struct {
	status  int
	header  http.Header
	cookies map[string]*http.Cookie
	body    []byte
}

func (res result) envelope(t *testing.T) *models.Envelope {
	t.Helper()
	env, ok := models.ParseEnvelope(res.body)
	if !ok {
		t.Fatalf("Response is not an envelope: %s", res.body)
	}
	return env
}

// send issues one request with the browser's cookies and applies the
// response's Set-Cookie headers back to it. Redirects are not followed.
func (b browser) send(t *testing.T, gw *httptest.Server, method, path, body string) result {
	t.Helper()
	res, err := b.do(context.Background(), gw, method, path, body)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

// do is send without a *testing.T, for requests issued from other goroutines
func (b browser) do(ctx context.Context, gw *httptest.Server, method, path, body string) (result, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, gw.URL+path, reader)
	if err != nil {
		return result{}, fmt.Errorf("building request: %w", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range b {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Do(req)
	if err != nil {
		return result{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return result{}, fmt.Errorf("reading body: %w", err)
	}

	res := result{status: resp.StatusCode, header: resp.Header, cookies: map[string]*http.Cookie{}, body: data}
	for _, c := range resp.Cookies() {
		res.cookies[c.Name] = c
		if c.MaxAge < 0 {
			delete(b, c.Name)
		} else {
			b[c.Name] = c.Value
		}
	}
	return res, nil
}

func assertCleared(t *testing.T, res result) {
	t.Helper()
	for _, name := range []string{accessCookie, refreshCookie} {
		c, ok := res.cookies[name]
		if !ok {
			t.Errorf("Expected %s to be cleared", name)
			continue
		}
		if c.Value != "" || c.MaxAge >= 0 {
			t.Errorf("Expected %s cleared, got value %q max-age %d", name, c.Value, c.MaxAge)
		}
	}
}
