package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/handlers/health"
	auditmiddleware "github.com/cs-shadowbq/falcon-policy-scoring/pkg/server/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// HealthServer serves liveness, readiness and metrics for the daemon.
type HealthServer struct {
	logger   *zerolog.Logger
	server   *http.Server
	listener net.Listener
	timeout  time.Duration
	errs     chan error
}

type Dependencies struct {
	Status health.StatusProvider
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	Dependencies    Dependencies
}

func ConfigureRouter(logger zerolog.Logger, config Config) (http.Handler, error) {
	h := health.NewHandler(config.Dependencies.Status)
	prom, err := health.PrometheusHandler(config.Dependencies.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to register prometheus collector: %w", err)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(auditmiddleware.Logger(&logger))
	router.Use(middleware.Recoverer)

	router.Get("/health", h.Health)
	router.Get("/healthz", h.Health)
	router.Get("/ready", h.Ready)
	router.Get("/readiness", h.Ready)
	router.Get("/metrics", h.Metrics)
	router.Method(http.MethodGet, "/metrics/prometheus", prom)

	return router, nil
}

func New(logger zerolog.Logger, config Config) (*HealthServer, error) {
	router, err := ConfigureRouter(logger, config)
	if err != nil {
		return nil, err
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	return &HealthServer{
		logger: &logger,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		timeout: config.ShutdownTimeout,
		errs:    make(chan error, 1),
	}, nil
}

// Start binds the listener before returning, so a port conflict is
// reported to the caller instead of from the serving goroutine.
func (s *HealthServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind health server on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("starting health server")
		err := s.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.errs <- err
	}()
	return nil
}

// Addr is the bound address, useful when the configured port is 0.
func (s *HealthServer) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

func (s *HealthServer) Stop(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.logger.Info().Msg("stopping health server")
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("graceful shutdown failed")
		if err := s.server.Close(); err != nil {
			return err
		}
	}
	return <-s.errs
}
