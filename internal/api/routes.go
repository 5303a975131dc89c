package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/email-verifier/internal/auth"
)

// SetupRoutes builds the router: health and token exchange outside auth,
// everything under /api behind it.
func SetupRoutes(h *Handlers, authManager *auth.Manager, corsOrigins []string) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.HandleHealth)
	r.Post("/auth/token", authManager.HandleToken)

	r.Route("/api", func(r chi.Router) {
		r.Use(authManager.Middleware)

		r.Post("/verify", h.HandleVerify)

		r.Post("/jobs", h.HandleCreateJob)
		r.Get("/jobs", h.HandleListJobs)
		r.Get("/jobs/{jobID}", h.HandleGetJob)
		r.Get("/jobs/{jobID}/results", h.HandleJobResults)

		r.Get("/results", h.HandleLatestResult)
		r.Get("/history", h.HandleHistory)

		r.Get("/domains/{domain}/reputation", h.HandleDomainReputation)
	})

	return r
}
