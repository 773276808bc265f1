// ABOUTME: Auth handlers implementing the BFF cookie pattern
// ABOUTME: Login stores upstream tokens in httpOnly cookies; logout clears them

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/markalston/admin-gateway/models"
	"github.com/markalston/admin-gateway/services"
)

// maxLoginBody bounds the login form; credentials are tiny
const maxLoginBody = 64 << 10

// logoutTimeout bounds the best-effort upstream logout
const logoutTimeout = 3 * time.Second

// Login authenticates against the upstream and stores the returned tokens
// in cookies. Tokens never appear in the response body.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest,
			models.NewEnvelope(http.StatusBadRequest, msgBadRequest).WithError("body", "invalid JSON"))
		return
	}

	req.Account = strings.TrimSpace(req.Account)
	if req.Account == "" || req.Password == "" {
		env := models.NewEnvelope(http.StatusBadRequest, msgBadRequest)
		if req.Account == "" {
			env.WithError("account", "required")
		}
		if req.Password == "" {
			env.WithError("password", "required")
		}
		writeEnvelope(w, http.StatusBadRequest, env)
		return
	}

	body, err := json.Marshal(req)
	if err != nil {
		slog.Error("Failed to encode login request", "error", err)
		writeEnvelope(w, http.StatusInternalServerError, models.NewEnvelope(http.StatusInternalServerError, "Internal Server Error"))
		return
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")

	resp, err := h.backend.Call(r.Context(), services.CallRequest{
		Method: http.MethodPost,
		Path:   services.LoginPath,
		Header: header,
		Body:   body,
	})
	if err != nil {
		h.writeBadGateway(w, err)
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if _, ok := resp.Envelope(); !ok {
			slog.Warn("Login failure response is not an envelope", "status", resp.StatusCode, "content_type", resp.ContentType())
			h.writeBadGateway(w, fmt.Errorf("login returned status %d without an envelope: %w", resp.StatusCode, models.ErrMalformedPayload))
			return
		}
		slog.Info("Login rejected by upstream", "account", req.Account, "status", resp.StatusCode)
		h.relay(w, r, nil, resp)
		return
	}

	payload, err := models.DecodeAuthPayload(resp.Body)
	if err != nil || payload.AccessToken == "" {
		slog.Error("Login response missing access token", "status", resp.StatusCode, "content_type", resp.ContentType())
		h.writeBadGateway(w, fmt.Errorf("login response has no access token: %w", models.ErrMalformedPayload))
		return
	}

	pending := h.store.Begin()
	pending.Write(services.AccessToken, payload.AccessToken, 0)
	if payload.RefreshToken != "" {
		pending.Write(services.RefreshToken, payload.RefreshToken, 0)
	} else {
		pending.Clear(services.RefreshToken)
	}
	pending.Flush(w)

	slog.Info("Login succeeded", "account", req.Account)
	writeEnvelope(w, http.StatusOK,
		models.NewEnvelope(http.StatusOK, msgLoginSucceeded).WithData(models.LoginResult{User: payload.User}))
}

// Logout clears both credential cookies. The upstream is told about the
// logout when an access token is present, but its answer does not change
// the outcome.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if access, ok := h.store.Read(r, services.AccessToken); ok {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), logoutTimeout)
		resp, err := h.backend.Call(ctx, services.CallRequest{
			Method:     http.MethodPost,
			Path:       services.LogoutPath,
			Credential: access,
		})
		cancel()
		if err != nil {
			slog.Warn("Upstream logout failed", "error", err)
		} else {
			slog.Debug("Upstream logout completed", "status", resp.StatusCode)
		}
	}

	pending := h.store.Begin()
	pending.ClearAll()
	pending.Flush(w)

	writeEnvelope(w, http.StatusOK, models.NewEnvelope(http.StatusOK, msgLogoutSucceeded))
}
