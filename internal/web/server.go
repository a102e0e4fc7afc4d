// Package web provides the HTTP API for beatscore.
package web

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	spotifyauth "github.com/zmb3/spotify/v2/auth"

	"github.com/beatscore/beatscore/internal/auth"
	"github.com/beatscore/beatscore/internal/db"
	"github.com/beatscore/beatscore/internal/groups"
	"github.com/beatscore/beatscore/internal/score"
	"github.com/beatscore/beatscore/internal/spotify"
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	JWTSecret    string
}

// Server is the HTTP server.
type Server struct {
	router   chi.Router
	server   *http.Server
	handlers *Handlers
	logger   *log.Logger
}

// NewServer creates a web server wired to the given services.
func NewServer(cfg ServerConfig, users *db.UserRepository, groupSvc *groups.Service, scoreSvc *score.Service, upstream *spotify.Client, creds auth.CredentialProvider, logger *log.Logger) *Server {
	authenticator := spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithRedirectURL(cfg.RedirectURL),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserReadEmail,
			spotifyauth.ScopeUserReadPrivate,
			spotifyauth.ScopeUserReadRecentlyPlayed,
			spotifyauth.ScopeUserReadCurrentlyPlaying,
			spotifyauth.ScopeUserTopRead,
		),
	)

	handlers := NewHandlers(authenticator, users, groupSvc, scoreSvc, upstream, creds, cfg.JWTSecret, logger)

	router := chi.NewRouter()
	s := &Server{
		router:   router,
		handlers: handlers,
		logger:   logger.With("component", "web"),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware for the router.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures routes for the application.
func (s *Server) setupRoutes() {
	// Auth routes
	s.router.Get("/auth/login", s.handlers.Login)
	s.router.Get("/callback", s.handlers.Callback)

	// API routes behind the identity middleware
	s.router.Group(func(r chi.Router) {
		r.Use(s.handlers.RequireAuth)

		r.Post("/groups", s.handlers.CreateGroup)
		r.Get("/groups", s.handlers.MyGroups)
		r.Get("/groups/{id}", s.handlers.GroupDetail)
		r.Post("/groups/join", s.handlers.JoinGroup)
		r.Get("/groups/invite-code/{id}", s.handlers.InviteCode)
		r.Post("/groups/join-by-code", s.handlers.JoinByCode)
		r.Post("/groups/{id}/update-tracks", s.handlers.UpdateMemberTracks)

		r.Post("/members/{id}/recommend", s.handlers.Recommend)
		r.Get("/members/{id}/recommendations", s.handlers.Recommendations)

		r.Get("/score", s.handlers.Score)
		r.Get("/search", s.handlers.Search)
		r.Get("/tracks/{id}/genres", s.handlers.TrackGenres)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Run starts the server and handles graceful shutdown on interrupt signals.
func (s *Server) Run() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
		s.logger.Info("shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
