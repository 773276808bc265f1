// ABOUTME: Envelope error response helper for middleware
// ABOUTME: Keeps middleware rejections in the same shape as handler responses

package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/markalston/admin-gateway/models"
)

// writeEnvelope writes env as JSON with the given HTTP status
func writeEnvelope(w http.ResponseWriter, status int, env *models.Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}
