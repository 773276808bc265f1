// ABOUTME: HTTP handlers for the admin gateway
// ABOUTME: Shared handler state and envelope response helpers

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/markalston/admin-gateway/config"
	"github.com/markalston/admin-gateway/middleware"
	"github.com/markalston/admin-gateway/models"
	"github.com/markalston/admin-gateway/services"
)

const (
	msgNotLoggedIn     = "未登录"
	msgSessionExpired  = "登录已过期，请重新登录"
	msgBadGateway      = "Bad Gateway"
	msgBadRequest      = "请求参数错误"
	msgBodyTooLarge    = "请求体过大"
	msgLoginSucceeded  = "登录成功"
	msgLogoutSucceeded = "已退出登录"
)

// sessionReturnHeader tells the browser which path to come back to after
// signing in again. It is set on every 401 the gateway emits.
const sessionReturnHeader = "X-Session-Return-To"

type Handler struct {
	cfg         *config.Config
	store       *services.CredentialStore
	backend     *services.BackendClient
	refresher   *services.RefreshCoordinator
	loginLimit  *middleware.RateLimiter
	pages       pageSet
	pingTimeout time.Duration
}

// NewHandler builds the gateway handlers from cfg
func NewHandler(cfg *config.Config) (*Handler, error) {
	backend, err := services.NewBackendClient(cfg.UpstreamBaseURL, cfg.UpstreamTimeout, cfg.UpstreamAllProxy)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		cfg:         cfg,
		store:       services.NewCredentialStore(cfg.CookieSecure, cfg.AccessTokenMaxAge, cfg.RefreshTokenMaxAge),
		backend:     backend,
		refresher:   services.NewRefreshCoordinator(backend),
		pages:       parsePages(),
		pingTimeout: min(cfg.UpstreamTimeout, 3*time.Second),
	}

	if cfg.RateLimitEnabled {
		h.loginLimit = middleware.NewRateLimiter(cfg.RateLimitLogin, time.Minute)
	}

	return h, nil
}

// Backend exposes the upstream client, mainly for tests that swap its transport
func (h *Handler) Backend() *services.BackendClient {
	return h.backend
}

func writeEnvelope(w http.ResponseWriter, status int, env *models.Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeBadGateway reports a failed upstream exchange. The reason is only
// exposed outside production.
func (h *Handler) writeBadGateway(w http.ResponseWriter, err error) {
	env := models.NewEnvelope(http.StatusBadGateway, msgBadGateway)
	if !h.cfg.IsProduction() && err != nil {
		reason := err.Error()
		var te *services.TransportError
		if errors.As(err, &te) {
			reason = te.Reason
		}
		env.WithError("upstream", reason)
	}
	writeEnvelope(w, http.StatusBadGateway, env)
}

// returnTarget is the request path including any mount prefix and query
func returnTarget(r *http.Request) string {
	if r.RequestURI != "" {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}
