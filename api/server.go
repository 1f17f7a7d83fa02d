/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. Metrics:    Request count and latency per route pattern
  5. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /health               Liveness, plus a database ping when the store has one
  /metrics              Prometheus scrape endpoint
  /api/contacts/*       Contacts
  /api/policies/*       Policy accounting
  /api/admin/*          Seed, log purge, sweep

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - metrics.go: Collectors and instrumentation
  - cmd/server/main.go: Server startup
*/
package api

import (
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
	r.Use(h.Metrics.Instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", h.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/contacts", h.ListContacts)

		// Policy routes
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Get("/{id}", h.GetPolicy)
			r.Get("/{id}/view", h.ViewPolicy)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/pending", h.GetPending)
			r.Get("/{id}/invoices", h.ListInvoices)
			r.Get("/{id}/payments", h.ListPayments)
			r.Post("/{id}/payments", h.MakePayment)
			r.Post("/{id}/cancellation", h.EvaluateCancellation)
			r.Post("/{id}/billing-schedule", h.ChangeBillingSchedule)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/seed", h.SeedDatabase)
			r.Post("/logs/purge", h.PurgeLogs)
			r.Post("/sweep", h.RunSweep)
		})
	})

	return r
}
