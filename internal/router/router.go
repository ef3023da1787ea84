package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/FACorreiaa/haru-planner/internal/api"
	"github.com/FACorreiaa/haru-planner/internal/api/conversation"
	"github.com/FACorreiaa/haru-planner/internal/api/plans"
)

// Config contains dependencies needed for the router setup
type Config struct {
	ConversationHandler    *conversation.Handler
	PlansHandler           *plans.Handler
	AuthenticateMiddleware func(http.Handler) http.Handler
	AllowedOrigins         []string
	Timeout                time.Duration
	// Ready reports whether dependencies are reachable; nil means always.
	Ready func(r *http.Request) bool
}

// SetupRouter initializes and configures the API router. Request logging,
// request ids and panic recovery are applied by the caller.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if cfg.Timeout > 0 {
		r.Use(middleware.Timeout(cfg.Timeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil && !cfg.Ready(r) {
			api.ErrorResponse(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "database unreachable")
			return
		}
		api.WriteJSONResponse(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(cfg.AuthenticateMiddleware)

			r.Route("/sessions", cfg.ConversationHandler.Routes)
			r.Get("/plans", cfg.PlansHandler.ListPlans)
		})
	})

	return r
}
