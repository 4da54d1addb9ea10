// Package server exposes the export pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pdfexport/internal/export"
	"pdfexport/internal/logging"
)

const defaultMaxBodyBytes = 8 << 20

// Config describes server wiring.
type Config struct {
	// MaxBodyBytes caps request bodies. Larger bodies get 413.
	MaxBodyBytes int64
	Logger       *slog.Logger
	// Registry receives the server metrics. A private registry is created
	// when nil so several servers can coexist in one process.
	Registry *prometheus.Registry
	Clock    func() time.Time
}

// Server implements the /export, /verify and /normalize endpoints.
type Server struct {
	cfg      Config
	exporter *export.Exporter
	router   chi.Router
	logger   *slog.Logger
	metrics  *metrics
	clock    func() time.Time
}

// New wires a server around exporter.
func New(exporter *export.Exporter, cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	s := &Server{
		cfg:      cfg,
		exporter: exporter,
		router:   chi.NewRouter(),
		logger:   cfg.Logger,
		metrics:  newMetrics(cfg.Registry),
		clock:    cfg.Clock,
	}
	s.registerRoutes()
	return s
}

// Handler exposes the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler { return s }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(withLogging(s.logger, s.clock))
	s.router.Use(middleware.Recoverer)

	s.router.Get("/ping", s.handlePing)
	s.router.Post("/export", s.handleExport)
	s.router.Post("/verify", s.handleVerify)
	s.router.Post("/normalize", s.handleNormalize)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.cfg.Registry, promhttp.HandlerOpts{}))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
