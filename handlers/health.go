// ABOUTME: Liveness endpoint for the gateway
// ABOUTME: Reports whether the upstream currently accepts connections

package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/markalston/admin-gateway/models"
)

// HealthStatus is the data member of the health envelope
type HealthStatus struct {
	Upstream string `json:"upstream"` // ok or unreachable
}

// Health always answers 200 while the process is serving; upstream
// reachability is reported in the body.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.pingTimeout)
	defer cancel()

	status := HealthStatus{Upstream: "ok"}
	if err := h.backend.Ping(ctx); err != nil {
		slog.Warn("Upstream health check failed", "error", err)
		status.Upstream = "unreachable"
	}

	writeEnvelope(w, http.StatusOK, models.NewEnvelope(http.StatusOK, "ok").WithData(status))
}
