// ABOUTME: Catch-all API forwarder with a single refresh-and-retry
// ABOUTME: Attaches the cookie-held bearer token and relays upstream responses verbatim

package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/markalston/admin-gateway/models"
	"github.com/markalston/admin-gateway/services"
)

// maxRequestBody bounds the inbound body buffered for a possible retry
const maxRequestBody = 10 << 20

// relayedHeaders are the upstream response headers passed back to the browser
var relayedHeaders = []string{
	"Content-Type",
	"ETag",
	"Cache-Control",
	"Last-Modified",
	"Content-Disposition",
	"Location",
}

// Forward proxies an /api request to the upstream.
//
// A 401 from the upstream triggers at most one refresh and one retry with the
// same body bytes. Rotated credentials are written whatever the retry returns;
// a retry that is still unauthorized clears both cookies. Transport failures
// are 502 and never touch cookies.
func (h *Handler) Forward(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeEnvelope(w, http.StatusRequestEntityTooLarge, models.NewEnvelope(http.StatusRequestEntityTooLarge, msgBodyTooLarge))
			return
		}
		slog.Warn("Failed to read request body", "error", err)
		writeEnvelope(w, http.StatusBadRequest, models.NewEnvelope(http.StatusBadRequest, msgBadRequest))
		return
	}

	access, hasAccess := h.store.Read(r, services.AccessToken)
	refresh, hasRefresh := h.store.Read(r, services.RefreshToken)
	if !hasAccess && !hasRefresh {
		h.writeUnauthorized(w, r, nil, models.NewEnvelope(http.StatusUnauthorized, msgNotLoggedIn))
		return
	}

	call := services.CallRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		RawQuery:   r.URL.RawQuery,
		Header:     r.Header,
		Body:       body,
		Credential: access,
	}

	resp, err := h.backend.Call(r.Context(), call)
	if err != nil {
		h.writeBadGateway(w, err)
		return
	}
	if resp.StatusCode != http.StatusUnauthorized {
		h.relay(w, r, nil, resp)
		return
	}

	pending := h.store.Begin()

	if !hasRefresh {
		pending.ClearAll()
		h.relay(w, r, pending, resp)
		return
	}

	result := h.refresher.Refresh(r.Context(), refresh)
	if result.Cause == services.Unreachable {
		h.writeBadGateway(w, result.Err)
		return
	}
	if !result.Refreshed {
		pending.ClearAll()
		h.writeRefreshRejected(w, r, pending, result)
		return
	}

	pending.WritePair(result.Tokens)
	call.Credential = result.Tokens.AccessToken

	retry, err := h.backend.Call(r.Context(), call)
	if err != nil {
		pending.Flush(w)
		h.writeBadGateway(w, err)
		return
	}
	if retry.StatusCode == http.StatusUnauthorized {
		slog.Info("Retry still unauthorized after refresh", "path", r.URL.Path)
		pending.ClearAll()
	}
	h.relay(w, r, pending, retry)
}

// Me reports the signed-in user. It has forwarder semantics, so an expired
// access token is refreshed transparently.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	h.Forward(w, r)
}

// relay writes resp to the browser unchanged: status, body bytes and the
// relayed headers, with any pending credential cookies.
func (h *Handler) relay(w http.ResponseWriter, r *http.Request, pending *services.PendingWrites, resp *services.RawResponse) {
	for _, name := range relayedHeaders {
		if value := resp.Header.Get(name); value != "" {
			w.Header().Set(name, value)
		}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		w.Header().Set(sessionReturnHeader, returnTarget(r))
	}
	if pending != nil {
		pending.Flush(w)
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		slog.Debug("Failed to write relayed response", "error", err)
	}
}

// writeRefreshRejected answers a request whose refresh was turned down. The
// upstream's own error envelope is reused when there is one.
func (h *Handler) writeRefreshRejected(w http.ResponseWriter, r *http.Request, pending *services.PendingWrites, result services.RefreshResult) {
	if resp := result.Response; resp != nil && resp.StatusCode >= 400 {
		if _, ok := resp.Envelope(); ok {
			w.Header().Set(sessionReturnHeader, returnTarget(r))
			w.Header().Set("Content-Type", resp.ContentType())
			w.Header().Set("Cache-Control", "no-store")
			pending.Flush(w)
			w.WriteHeader(http.StatusUnauthorized)
			if _, err := w.Write(resp.Body); err != nil {
				slog.Debug("Failed to write refresh rejection", "error", err)
			}
			return
		}
	}
	h.writeUnauthorized(w, r, pending, models.NewEnvelope(http.StatusUnauthorized, msgSessionExpired))
}

func (h *Handler) writeUnauthorized(w http.ResponseWriter, r *http.Request, pending *services.PendingWrites, env *models.Envelope) {
	w.Header().Set(sessionReturnHeader, returnTarget(r))
	if pending != nil {
		pending.Flush(w)
	}
	writeEnvelope(w, http.StatusUnauthorized, env)
}

// readBody buffers the request body once so it can be replayed on retry.
// Bodiless methods and empty bodies yield nil.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return nil, nil
	}
	defer r.Body.Close()

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}
