package api

import (
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds settings for the API router.
// Passed from main.go so the router can configure CORS and auth from env vars.
type RouterConfig struct {
	// JWTSecret signs user bearer tokens. If empty, user routes are left
	// unauthenticated (development mode only).
	JWTSecret string

	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// If empty, defaults to "*" (development mode).
	CorsAllowedOrigins string
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (applied to all routes including /health)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// CORS: restrict origins when configured, otherwise allow all (dev mode)
	allowedOrigins := []string{"*"}
	if cfg.CorsAllowedOrigins != "" {
		origins := strings.Split(cfg.CorsAllowedOrigins, ",")
		trimmed := make([]string, 0, len(origins))
		for _, o := range origins {
			if s := strings.TrimSpace(o); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			allowedOrigins = trimmed
		}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check — public, no auth required
	r.Get("/health", h.Health)

	// Billing webhook — authenticated by its HMAC signature, not a user token
	r.Post("/v1/webhooks/billing", h.BillingWebhook)

	// User-facing API — protected by JWT auth
	r.Route("/v1", func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(JWTAuth(cfg.JWTSecret))
		}

		// Generation
		r.Post("/videos", h.CreateVideo)
		r.Post("/videos/{id}/extend", h.ExtendVideo)
		r.Post("/images", h.CreateImage)
		r.Post("/music", h.CreateMusic)

		// Jobs
		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{id}", h.GetJob)
		r.Post("/jobs/{id}/cancel", h.CancelJob)

		// Credits
		r.Get("/credits", h.GetBalance)
		r.Get("/credits/history", h.GetCreditHistory)

		// Scripts and translation
		r.Post("/scripts", h.GenerateScript)
		r.Post("/translate", h.Translate)

		// Catalog — avatars and voices available for video creation
		r.Get("/catalog/avatars", h.ListAvatars)
		r.Get("/catalog/voices", h.ListVoices)
	})

	return r
}
