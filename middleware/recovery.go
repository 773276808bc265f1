// ABOUTME: Panic recovery middleware
// ABOUTME: Converts a handler panic into a 500 envelope instead of a dropped connection

package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/markalston/admin-gateway/models"
)

// Recover logs a panic with its stack and responds with a 500 envelope.
// http.ErrAbortHandler is re-raised so the server can abort the response.
func Recover(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			slog.Error("Handler panic",
				"method", r.Method,
				"path", sanitizePath(r.URL.Path),
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			writeEnvelope(w, http.StatusInternalServerError, models.NewEnvelope(http.StatusInternalServerError, "Internal Server Error"))
		}()

		next(w, r)
	}
}
