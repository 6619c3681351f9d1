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
  4. CORS:       Cross-origin requests for kiosk frontends

ROUTE GROUPS:
  /api/attendance/*   Check-in, check-out, toggle, occupancy, sweep
  /api/targets/*      Per-target stats, records, corrections
  /api/analytics/*    Tenant-wide rollups
  /api/config/*       Target model configuration
  /api/health         Liveness probe

SECURITY NOTE:
  No authentication middleware currently. The engine is meant to run
  behind the host application's auth layer.

SEE ALSO:
  - handlers.go: Handler implementations
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
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Attendance routes
		r.Route("/attendance", func(r chi.Router) {
			r.Post("/check-in", h.CheckIn)
			r.Post("/check-out", h.CheckOut)
			r.Post("/toggle", h.Toggle)
			r.Get("/occupancy", h.Occupancy)
			r.Post("/sweep", h.Sweep)
		})

		// Target routes
		r.Route("/targets/{model}/{id}", func(r chi.Router) {
			r.Get("/stats", h.GetStats)
			r.Post("/stats/recalculate", h.RecalculateStats)
			r.Get("/records", h.ListRecords)

			r.Route("/records/{year}/{month}", func(r chi.Router) {
				r.Get("/", h.GetRecord)
				r.Post("/retroactive", h.AddRetroactive)

				r.Route("/check-ins/{checkInId}", func(r chi.Router) {
					r.Put("/check-in-time", h.CorrectCheckInTime)
					r.Put("/check-out-time", h.CorrectCheckOutTime)
					r.Put("/type", h.OverrideType)
					r.Delete("/", h.DeleteCheckIn)
				})
			})
		})

		// Analytics routes
		r.Route("/analytics", func(r chi.Router) {
			r.Get("/dashboard", h.Dashboard)
			r.Get("/time-slots", h.TimeSlots)
			r.Get("/trend", h.Trend)
		})

		// Config routes
		r.Route("/config/{model}", func(r chi.Router) {
			r.Get("/", h.GetConfig)
			r.Put("/", h.RegisterConfig)
		})
	})

	return r
}
