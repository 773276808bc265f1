// ABOUTME: Declarative route table for the gateway surface
// ABOUTME: Registers routes on a ServeMux and mounts them under the base path

package handlers

import (
	"net/http"

	"github.com/markalston/admin-gateway/middleware"
)

// Route defines an endpoint with its HTTP method, handler and any
// route-specific middleware.
type Route struct {
	Method     string           // HTTP method; empty matches every method
	Path       string           // ServeMux path pattern, e.g. "/api/auth/login"
	Handler    http.HandlerFunc // Handler function
	Middleware []func(http.HandlerFunc) http.HandlerFunc
}

// Routes returns all routes for registration
func (h *Handler) Routes() []Route {
	guard := middleware.Guard(middleware.GuardConfig{
		Store:     h.store,
		Backend:   h.backend,
		Refresher: h.refresher,
		BasePath:  h.cfg.BasePath,
	})
	loginLimit := middleware.RateLimit(h.loginLimit, middleware.ClientIP)
	console := h.cfg.ProtectedPrefix

	return []Route{
		// Health
		{Method: http.MethodGet, Path: "/healthz", Handler: h.Health},

		// Auth
		{Method: http.MethodPost, Path: "/api/auth/login", Handler: h.Login, Middleware: mw(loginLimit)},
		{Method: http.MethodPost, Path: "/api/auth/logout", Handler: h.Logout},
		{Method: http.MethodGet, Path: "/api/auth/me", Handler: h.Me},

		// Everything else under /api goes upstream
		{Path: "/api/", Handler: h.Forward},

		// Pages
		{Method: http.MethodGet, Path: "/login", Handler: h.LoginPage},
		{Method: http.MethodGet, Path: "/session-expired", Handler: h.SessionExpiredPage},
		{Method: http.MethodGet, Path: console, Handler: h.ConsolePage, Middleware: mw(guard)},
		{Method: http.MethodGet, Path: console + "/", Handler: h.ConsolePage, Middleware: mw(guard)},
	}
}

// NewRouter builds the complete HTTP handler: every route on one ServeMux,
// mounted under BASE_PATH when set, wrapped in recovery, request logging
// and CORS.
func (h *Handler) NewRouter() http.Handler {
	mux := http.NewServeMux()
	for _, route := range h.Routes() {
		pattern := route.Path
		if route.Method != "" {
			pattern = route.Method + " " + route.Path
		}
		mux.HandleFunc(pattern, middleware.Chain(route.Handler, route.Middleware...))
	}

	var handler http.Handler = mux
	if base := h.cfg.BasePath; base != "" {
		outer := http.NewServeMux()
		outer.Handle(base+"/", http.StripPrefix(base, mux))
		handler = outer
	}

	return middleware.Chain(handler.ServeHTTP,
		middleware.Recover,
		middleware.LogRequest,
		middleware.CORS(h.cfg.CORSAllowedOrigins),
	)
}

func mw(m ...func(http.HandlerFunc) http.HandlerFunc) []func(http.HandlerFunc) http.HandlerFunc {
	return m
}
