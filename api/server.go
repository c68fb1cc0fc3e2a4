/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Requests:   Structured request logging (logrus)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the app frontend
  6. Authenticate (under /api): identity before any body is read

ROUTE GROUPS:
  /api/redeem, /api/rewards/*   Earn and spend
  /api/me/*                     Caller's account
  /api/admin/*                  Admin only (403 otherwise)
  /healthz                      Unauthenticated health probe

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authenticators
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/recycle-points/logging"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Auth           Authenticator
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Requests(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", headerIdempotencyKey, "X-User-ID", "X-Admin"},
		ExposedHeaders: []string{headerReplayed},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.Authenticate(opts.Auth))

		r.Post("/redeem", h.Redeem)
		r.Post("/rewards/{reward_id}/exchange", h.ExchangeReward)

		r.Route("/me", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/transactions", h.GetTransactions)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.RequireAdmin)
			r.Post("/adjustments", h.CreateAdjustment)
			r.Get("/audit", h.Audit)
		})
	})

	return r
}
