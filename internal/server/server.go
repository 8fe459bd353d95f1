// Package server exposes the pipeline, reconsolidation and audit operations
// over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bureau-cli/internal/audit"
	"github.com/sells-group/bureau-cli/internal/export"
	"github.com/sells-group/bureau-cli/internal/model"
	"github.com/sells-group/bureau-cli/internal/monitoring"
	"github.com/sells-group/bureau-cli/internal/pipeline"
	"github.com/sells-group/bureau-cli/internal/resilience"
	"github.com/sells-group/bureau-cli/internal/store"
)

const shutdownTimeout = 15 * time.Second

// Pipeline is the subset of the orchestrator the API drives.
type Pipeline interface {
	RunPipeline(ctx context.Context, reportID string) (*pipeline.RunResult, error)
	Reconsolidate(ctx context.Context, reportID string, strategy model.Strategy) (*pipeline.ReconsolidateResult, error)
}

// Server serves the report API.
type Server struct {
	store    store.Store
	pipeline Pipeline
	auditor  *audit.Auditor
	exporter *export.Exporter
	breakers *resilience.Registry
	metrics  *monitoring.Collector
	lookback int
	origins  []string
}

// Option customizes a Server.
type Option func(*Server)

// WithBreakers reports breaker states on /health.
func WithBreakers(r *resilience.Registry) Option {
	return func(s *Server) { s.breakers = r }
}

// WithMetrics serves collector snapshots over the given lookback on /metrics.
func WithMetrics(c *monitoring.Collector, lookbackHours int) Option {
	return func(s *Server) {
		s.metrics = c
		s.lookback = lookbackHours
	}
}

// WithAllowedOrigins sets the CORS allow list. Empty allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// New creates a Server.
func New(st store.Store, p Pipeline, opts ...Option) *Server {
	s := &Server{
		store:    st,
		pipeline: p,
		auditor:  audit.New(st),
		exporter: export.New(st),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Get("/metrics", s.handleMetrics)
	}
	r.Route("/reports", func(r chi.Router) {
		r.Post("/", s.handleCreateReport)
		r.Get("/", s.handleListReports)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetReport)
			r.Post("/run", s.handleRun)
			r.Post("/reconsolidate", s.handleReconsolidate)
			r.Get("/audit", s.handleAudit)
			r.Get("/entities", s.handleEntities)
			r.Get("/export", s.handleExport)
		})
	})
	return r
}

// ListenAndServe serves on port until ctx is canceled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			zap.L().Warn("server: shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("server: listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}
