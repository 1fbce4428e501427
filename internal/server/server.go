// Package server exposes the analysis service over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/sizemap/internal/service"
	"github.com/sizemap/pkg/selfprof"
	"github.com/sizemap/pkg/telemetry"
	"github.com/sizemap/pkg/utils"
)

const shutdownTimeout = 10 * time.Second

// Server is the sizemap HTTP API.
type Server struct {
	svc     *service.Service
	router  chi.Router
	metrics *Metrics
	logger  utils.Logger
	server  *http.Server
}

// New creates a server for an initialized service.
func New(svc *service.Service, logger utils.Logger) *Server {
	s := &Server{
		svc:     svc,
		metrics: NewMetrics(),
		logger:  utils.OrNull(logger),
	}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:              svc.Config().Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	cfg := s.svc.Config().Server
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(s.logger))
	r.Use(s.metrics.Middleware)
	r.Use(tracing)

	r.Get("/healthz", s.handleHealth)
	if cfg.Metrics {
		r.Handle("/metrics", s.metrics.Handler())
	}
	if cfg.Pprof {
		r.Mount("/debug", selfprof.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.With(MaxBody(cfg.MaxBodyBytes)).Post("/analyze", s.handleAnalyze)
		r.Get("/reports", s.handleListReports)
		r.Get("/reports/{id}", s.handleGetReport)
		r.Delete("/reports/{id}", s.handleDeleteReport)
		r.Get("/reports/{id}/diff/{other}", s.handleDiff)
	})
	return r
}

// tracing continues any trace the caller propagated.
func tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !telemetry.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := telemetry.StartSpan(ctx, "http "+r.Method,
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening on %s", s.server.Addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	return s.server.Shutdown(ctx)
}
