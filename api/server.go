/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/documents/*       Document registration and lookup
  /api/impressions       Ad impression logging
  /api/sessions/*        Reading session create + heartbeat
  /api/profiles/*        Account profiles
  /api/authors/*         Author earnings
  /api/settlement/*      Run audit trail
  /api/cron/settle       Settlement trigger (bearer-token protected)

SECURITY NOTE:
  Only the settlement trigger is authenticated (shared bearer secret).
  The ingest endpoints are public; put an API gateway in front for
  production.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Document routes
		r.Route("/documents", func(r chi.Router) {
			r.Get("/", h.ListDocuments)
			r.Post("/", h.CreateDocument)
			r.Get("/{id}", h.GetDocument)
		})

		// Impression logging
		r.Post("/impressions", h.RecordImpression)

		// Reading session routes
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Put("/{id}", h.Heartbeat)
			r.Get("/{id}", h.GetSession)
		})

		// Profile routes
		r.Route("/profiles", func(r chi.Router) {
			r.Post("/", h.CreateProfile)
			r.Get("/{id}", h.GetProfile)
		})

		// Author routes
		r.Route("/authors", func(r chi.Router) {
			r.Get("/{id}/earnings", h.GetEarnings)
		})

		// Settlement routes
		r.Route("/settlement", func(r chi.Router) {
			r.Get("/runs", h.ListRuns)
		})

		// Cron trigger (authenticated)
		r.Get("/cron/settle", h.TriggerSettlement)
	})

	// Minimal index page pointing at the API
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Revenue Settlement Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Revenue Settlement Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/documents">/api/documents</a> - List documents</li>
<li><a href="/api/settlement/runs">/api/settlement/runs</a> - Settlement run history</li>
<li>/api/cron/settle - Settlement trigger (requires bearer token)</li>
</ul>
</body>
</html>`))
	})

	return r
}
