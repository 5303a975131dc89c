package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/email-verifier/internal/auth"
	"github.com/ignite/email-verifier/internal/config"
)

// Server is the HTTP front of the verifier.
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer wires handlers, auth, and routing into a ready server.
func NewServer(
	cfg *config.Config,
	service VerificationService,
	rep ReputationSource,
	db *sql.DB,
	redisClient *redis.Client,
) *Server {
	handlers := NewHandlers(service, rep, db, redisClient)
	authManager := auth.NewManager(cfg.API.APIKey, cfg.API.JWTSecret)
	router := SetupRoutes(handlers, authManager, cfg.API.CORSOrigins)

	return &Server{
		config:  cfg.Server,
		handler: router,
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
