// Package web provides the HTTP server and handlers for the ledger UI and
// JSON API.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/tabledger/internal/core"
	"github.com/JonMunkholm/tabledger/internal/metrics"
	weblog "github.com/JonMunkholm/tabledger/internal/web/middleware"
)

// DefaultMaxUploadSize is the default request body limit (100MB).
const DefaultMaxUploadSize = 100 * 1024 * 1024

// Options configure a Server.
type Options struct {
	// MaxUploadSize bounds ingest request bodies.
	MaxUploadSize int64
	// Metrics serves /metrics and observes requests when enabled.
	Metrics *metrics.Metrics

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server is the HTTP server for the ingestion engine.
type Server struct {
	service *core.Service
	metrics *metrics.Metrics
	router  *chi.Mux
	server  *http.Server
	opts    Options
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, opts Options) *Server {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = DefaultMaxUploadSize
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(false)
	}
	s := &Server{
		service: service,
		metrics: opts.Metrics,
		router:  chi.NewRouter(),
		opts:    opts,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(weblog.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.metrics.Middleware)
	s.router.Use(securityHeaders)
	s.router.Use(withActor)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Pages
	s.router.Get("/", s.handleOverview)
	s.router.Get("/tables/{table}", s.handleTablePage)

	// Operations
	s.router.Get("/healthz", s.handleHealth)
	if s.metrics.IsEnabled() {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	// API routes
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/tables", s.handleListTables)
		r.Get("/tables/{table}/rows", s.handleTableRows)
		r.Get("/ledger", s.handleLedger)
		r.Get("/ledger/{table}", s.handleLedger)

		r.Post("/ingest/{table}", s.handleIngest)
		r.Post("/harmonize", s.handleHarmonize)
		r.Post("/query", s.handleQuery)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON and writes it to w with status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
