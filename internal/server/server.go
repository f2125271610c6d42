// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the download flows over a small REST API with
// live job updates on a WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/groupmodeling/eventlogs/pkg/eventlogs"
)

// Config holds server configuration.
type Config struct {
	Addr string
	Port int

	// DropboxDir is the directory hashed by every job. History requests
	// name files relative to it.
	DropboxDir string

	// Settings carries credentials, output directories and retry policy.
	// Output directories are not configurable via the API.
	Settings eventlogs.Settings

	AllowedOrigins []string // CORS origins
	Version        string
	Logger         zerolog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:       "127.0.0.1",
		Port:       8080,
		DropboxDir: ".",
		Settings:   eventlogs.DefaultSettings(),
		Version:    "dev",
		Logger:     zerolog.Nop(),
	}
}

// Server is the HTTP server for eventlogs.
type Server struct {
	mu         sync.RWMutex
	config     Config
	log        zerolog.Logger
	httpServer *http.Server
	jobs       *JobManager
	wsHub      *WSHub
}

// New creates a new server with the given configuration.
func New(cfg Config) *Server {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	wsHub := NewWSHub(cfg.Logger)
	return &Server{
		config: cfg,
		log:    cfg.Logger,
		jobs:   NewJobManager(cfg, wsHub),
		wsHub:  wsHub,
	}
}

// Handler returns the API routes wrapped in the server middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerAPIRoutes(mux)
	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// ListenAndServe starts the HTTP server and blocks until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Addr, fmt.Sprint(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.wsHub.Run(hubCtx)

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.jobs.CancelAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("dropbox", s.config.DropboxDir).
		Msgf("server listening on http://%s/api", ln.Addr())

	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// registerAPIRoutes sets up all API endpoints.
func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)

	// Local files
	mux.HandleFunc("GET /api/hashes", s.handleHashes)

	// Jobs
	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleCancelJob)

	// Settings
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleUpdateSettings)

	mux.HandleFunc("GET /api/ws", s.handleWebSocket)
}

// Middleware

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if r.URL.Path == "/api/ws" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed accepts everything when no origins are configured.
func (s *Server) originAllowed(origin string) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// settings returns a copy of the current settings.
func (s *Server) settings() eventlogs.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Settings
}
