// SPDX-License-Identifier: MIT

// Package api exposes the dubbing service over HTTP: job submission,
// status polling, cancellation, result download and a system probe.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vodub/vodub/internal/config"
	"github.com/vodub/vodub/internal/engine"
	"github.com/vodub/vodub/internal/gate"
	"github.com/vodub/vodub/internal/gpu"
	"github.com/vodub/vodub/internal/jobs"
	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/pipeline"
)

// Server holds the HTTP surface and its collaborators.
type Server struct {
	cfg      config.Config
	mgr      *jobs.Manager
	pool     *pipeline.Pool
	registry *engine.Registry
	gpuGate  *gate.Gate
	prober   *gpu.Prober

	httpSrv *http.Server
}

// New assembles a Server. The pool must already be started.
func New(cfg config.Config, mgr *jobs.Manager, pool *pipeline.Pool, registry *engine.Registry, gpuGate *gate.Gate, prober *gpu.Prober) *Server {
	s := &Server{
		cfg:      cfg,
		mgr:      mgr,
		pool:     pool,
		registry: registry,
		gpuGate:  gpuGate,
		prober:   prober,
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Router builds the chi routing tree with the full middleware stack.
func (s *Server) Router() http.Handler {
	setTrustedProxies(s.cfg.TrustedProxies)

	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(s.logRequests)
	r.Use(securityHeaders)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(corsMiddleware(s.cfg.AllowedOrigins))
	}

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.Limit(
			s.cfg.RateLimit,
			s.cfg.RateWindow,
			httprate.WithKeyFuncs(rateKey),
			httprate.WithLimitHandler(rateLimited(s.cfg.RateWindow)),
		))
		if s.cfg.AuthEnabled {
			r.Use(s.requireAPIKey)
		}

		r.Post("/jobs", s.handleCreateJob)
		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Post("/cancel", s.handleCancelJob)
			r.Get("/download", s.handleDownload)
		})
		r.Get("/system/status", s.handleSystemStatus)
	})
	return r
}

// ListenAndServe runs the HTTP server until Shutdown.
func (s *Server) ListenAndServe() error {
	lg := log.WithComponent("api")
	lg.Info().Str("addr", s.cfg.ListenAddr).Msg("http server listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
