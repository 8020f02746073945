// Package server provides the HTTP surface: auth endpoints, the query
// endpoint, profile, health, and metrics. Routing is chi; every
// response body is JSON and error-kind to status-code mapping lives in
// one place (statusFor).
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"askdesk/internal/auth"
	"askdesk/internal/config"
	"askdesk/internal/index"
	"askdesk/internal/rbac"
	"askdesk/internal/retrieval"
)

// Server is the askdesk HTTP server.
type Server struct {
	cfg      *config.Config
	auth     *auth.Service
	pipeline *retrieval.Pipeline
	store    *index.Store
	rbacCfg  *rbac.Config
	log      *zap.Logger

	httpServer *http.Server
}

// New wires the server. The zap logger is for the access log; the
// categorized file logs are written by the packages themselves.
func New(cfg *config.Config, authSvc *auth.Service, pipeline *retrieval.Pipeline, store *index.Store, rbacCfg *rbac.Config, log *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		auth:     authSvc,
		pipeline: pipeline,
		store:    store,
		rbacCfg:  rbacCfg,
		log:      log,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed for httptest.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestID)
	r.Use(s.accessLog)

	// Operational endpoints bypass the concurrency limiter so probes
	// keep working while the service sheds load.
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.concurrencyLimit(s.cfg.Server.MaxConcurrentRequests))

		r.Group(func(r chi.Router) {
			r.Use(s.deadline(s.cfg.LoginDeadline()))
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.bearerAuth)
			r.Get("/user/profile", s.handleProfile)

			r.Group(func(r chi.Router) {
				r.Use(s.deadline(s.cfg.QueryDeadline()))
				r.Post("/query", s.handleQuery)
			})
		})
	})

	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("listening", zap.String("addr", s.cfg.Server.ListenAddr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")
	return s.httpServer.Shutdown(ctx)
}
