// ABOUTME: Route guard for server-rendered pages behind the login wall
// ABOUTME: Probes the upstream session, refreshes once, and redirects on expiry

package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/markalston/admin-gateway/models"
	"github.com/markalston/admin-gateway/services"
)

type contextKey string

const identityKey contextKey = "identity"

const expiredReason = "登录已过期，请重新登录"

// GuardConfig wires the guard to the credential cookies and the upstream.
// BasePath is prepended to redirect targets; LoginPath and ExpiredPath are
// relative to it.
type GuardConfig struct {
	Store       *services.CredentialStore
	Backend     *services.BackendClient
	Refresher   *services.RefreshCoordinator
	BasePath    string
	LoginPath   string
	ExpiredPath string
}

// GetIdentity returns the user resolved by Guard, or nil when the page is
// rendered without one (fail-open paths).
func GetIdentity(r *http.Request) *models.Identity {
	id, _ := r.Context().Value(identityKey).(*models.Identity)
	return id
}

// Guard returns middleware that gates page requests on a live session.
//
// Without any credential the browser is sent to the login page. A valid
// access token renders the page with the upstream identity in context. An
// expired one is refreshed once; a rejected refresh clears both cookies and
// redirects to the session-expired page. When the upstream cannot be reached
// the page renders without identity, since an unreachable session is not a
// revoked one.
func Guard(cfg GuardConfig) func(http.HandlerFunc) http.HandlerFunc {
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.ExpiredPath == "" {
		cfg.ExpiredPath = "/session-expired"
	}

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if cfg.exempt(r.URL.Path) {
				next(w, r)
				return
			}

			access, hasAccess := cfg.Store.Read(r, services.AccessToken)
			refresh, hasRefresh := cfg.Store.Read(r, services.RefreshToken)
			returnTo := requestTarget(r)

			// The access cookie expires with its token, so a lone refresh
			// cookie is an expired session rather than a signed-out one.
			if !hasAccess && !hasRefresh {
				slog.Debug("Guard: no credential", "path", sanitizePath(r.URL.Path))
				cfg.redirect(w, r, cfg.LoginPath, url.Values{"redirect": {returnTo}})
				return
			}

			if hasAccess {
				resp, err := cfg.probe(r.Context(), access)
				switch {
				case err != nil:
					slog.Warn("Guard: session probe failed, rendering without identity", "error", err)
					next(w, r)
					return
				case resp.StatusCode == http.StatusUnauthorized:
					// expired, fall through to refresh
				case isSuccess(resp.StatusCode):
					next(w, withIdentity(r, resp))
					return
				default:
					slog.Warn("Guard: unexpected probe status, rendering without identity", "status", resp.StatusCode)
					next(w, r)
					return
				}
			}

			pending := cfg.Store.Begin()

			if !hasRefresh {
				pending.ClearAll()
				pending.Flush(w)
				cfg.redirectExpired(w, r, returnTo)
				return
			}

			result := cfg.Refresher.Refresh(r.Context(), refresh)
			if result.Cause == services.Unreachable {
				slog.Warn("Guard: refresh unreachable, rendering without identity", "error", result.Err)
				next(w, r)
				return
			}
			if !result.Refreshed {
				pending.ClearAll()
				pending.Flush(w)
				cfg.redirectExpired(w, r, returnTo)
				return
			}

			pending.WritePair(result.Tokens)
			r = cfg.Store.Inject(r, services.AccessToken, result.Tokens.AccessToken)
			if result.Tokens.RefreshToken != "" {
				r = cfg.Store.Inject(r, services.RefreshToken, result.Tokens.RefreshToken)
			}

			resp, err := cfg.probe(r.Context(), result.Tokens.AccessToken)
			switch {
			case err != nil:
				slog.Warn("Guard: re-probe failed after refresh", "error", err)
			case resp.StatusCode == http.StatusUnauthorized:
				pending.ClearAll()
				pending.Flush(w)
				cfg.redirectExpired(w, r, returnTo)
				return
			case isSuccess(resp.StatusCode):
				r = withIdentity(r, resp)
			}

			pending.Flush(w)
			next(w, r)
		}
	}
}

func (cfg GuardConfig) probe(ctx context.Context, token string) (*services.RawResponse, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")
	return cfg.Backend.Call(ctx, services.CallRequest{
		Method:     http.MethodGet,
		Path:       services.MePath,
		Header:     header,
		Credential: token,
	})
}

func (cfg GuardConfig) exempt(path string) bool {
	switch path {
	case cfg.LoginPath, cfg.ExpiredPath, services.LoginPath, services.RefreshPath, services.LogoutPath:
		return true
	}
	return false
}

func (cfg GuardConfig) redirect(w http.ResponseWriter, r *http.Request, path string, query url.Values) {
	target := strings.TrimSuffix(cfg.BasePath, "/") + path + "?" + query.Encode()
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusFound)
}

func (cfg GuardConfig) redirectExpired(w http.ResponseWriter, r *http.Request, returnTo string) {
	slog.Info("Guard: session expired", "path", sanitizePath(r.URL.Path))
	cfg.redirect(w, r, cfg.ExpiredPath, url.Values{
		"redirect": {returnTo},
		"reason":   {expiredReason},
	})
}

// requestTarget is the path the browser asked for, including any mount prefix
func requestTarget(r *http.Request) string {
	if r.RequestURI != "" {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}

// withIdentity attaches the probed user when the body decodes; a malformed
// body leaves the request without one.
func withIdentity(r *http.Request, resp *services.RawResponse) *http.Request {
	identity, err := models.DecodeIdentity(resp.Body)
	if err != nil {
		slog.Warn("Guard: identity response malformed, rendering without identity", "error", err)
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), identityKey, identity))
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}
