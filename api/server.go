/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the till frontend

ROUTE GROUPS:
  /api/till/*           Shift lifecycle and drawer movements
  /api/transactions     Sales, loans and refunds
  /api/safe/*           Safe operations and balance
  /api/reports/*        End-of-day report
  /api/settings/*       Till policy
  /api/import           Legacy export import
  /api/scenarios/*      Demo scenarios (reset the database)

SECURITY NOTE:
  No authentication middleware. The acting user is taken from X-User as-is.

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
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", HeaderUser, HeaderTerminal},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/till", func(r chi.Router) {
			r.Get("/session", h.GetSession)
			r.Post("/open", h.OpenTill)
			r.Post("/close", h.CloseTill)
			r.Post("/reconcile", h.ReconcileTill)
			r.Get("/drawer", h.GetDrawer)
			r.Post("/float", h.Float)
			r.Post("/tender-removal", h.TenderRemoval)

			r.Route("/keycards", func(r chi.Router) {
				r.Post("/reconcile", h.ReconcileKeycards)
				r.Post("/add", h.AddKeycards)
				r.Post("/return", h.ReturnKeycards)
			})
		})

		r.Post("/transactions", h.RecordTransaction)

		// Safe routes
		r.Route("/safe", func(r chi.Router) {
			r.Get("/balance", h.GetSafeBalance)
			r.Post("/{operation}", h.RecordSafe)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/eod", h.GetEndOfDay)
			r.Get("/eod/export", h.ExportEndOfDay)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/till", h.GetTillSettings)
			r.Put("/till", h.PutTillSettings)
		})

		r.Post("/import", h.Import)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
