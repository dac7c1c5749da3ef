// Package api provides the HTTP surface of LeadPipe.
//
// It exposes a health check, read access to the lead archive, and the inbound webhook used by the
// Twilio transport.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/LeadPipe/internal/store"
)

// Server defaults
const (
	DefaultAddr            = ":8080"
	DefaultAdminUser       = "admin"
	adminRealm             = "leadpipe"
	DefaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// SessionCounter reports how many conversations are in progress.
type SessionCounter interface {
	Count() int
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	AdminUser     string
	AdminPassword string // GET /leads is mounted only when set
	Leads         store.Store
	Sessions      SessionCounter
	TwilioWebhook http.HandlerFunc
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAdminCredentials protects GET /leads with HTTP basic auth. An empty user means
// DefaultAdminUser.
func WithAdminCredentials(user, password string) Option {
	return func(o *Opts) {
		if user != "" {
			o.AdminUser = user
		}
		o.AdminPassword = password
	}
}

// WithLeadStore exposes the lead archive on GET /leads.
func WithLeadStore(st store.Store) Option {
	return func(o *Opts) { o.Leads = st }
}

// WithSessionCounter reports live sessions on GET /health.
func WithSessionCounter(c SessionCounter) Option {
	return func(o *Opts) { o.Sessions = c }
}

// WithTwilioWebhook mounts h on POST /webhooks/twilio.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.TwilioWebhook = h }
}

// Server is the HTTP API server.
type Server struct {
	cfg    Opts
	router chi.Router
	srv    *http.Server
}

// NewServer creates the server and its routes.
func NewServer(opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, AdminUser: DefaultAdminUser}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{cfg: cfg}
	s.router = s.routes()
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)
	if s.cfg.AdminPassword != "" {
		r.With(middleware.BasicAuth(adminRealm, map[string]string{s.cfg.AdminUser: s.cfg.AdminPassword})).
			Get("/leads", s.leadsHandler)
	} else {
		slog.Warn("Server: no admin password configured, GET /leads is disabled")
	}
	if s.cfg.TwilioWebhook != nil {
		r.Post("/webhooks/twilio", s.cfg.TwilioWebhook)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address and serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Serve: API listening", "addr", ln.Addr().String())
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Serve: graceful shutdown failed", "error", err)
		return err
	}
	slog.Info("Server.Serve: API stopped")
	return nil
}

// requestLogger logs each request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("Server: request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
