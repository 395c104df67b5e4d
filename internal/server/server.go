package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/theblitlabs/misuse-detection/internal/config"
	"github.com/theblitlabs/misuse-detection/internal/metrics"
)

const shutdownTimeout = 15 * time.Second

type Server struct {
	log        zerolog.Logger
	httpServer *http.Server
	system     *metrics.SystemCollector
	gauges     *metrics.Prometheus
}

type Option func(*Server)

// WithSystemMetrics samples host memory and CPU into the gauges while the
// server runs.
func WithSystemMetrics(c *metrics.SystemCollector, p *metrics.Prometheus) Option {
	return func(s *Server) {
		s.system = c
		s.gauges = p
	}
}

func NewServer(cfg config.ServerConfig, handler http.Handler, log zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		log: log.With().Str("component", "server").Logger(),
		httpServer: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.system != nil && s.gauges != nil {
		go s.sampleSystem(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("Starting HTTP server")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Dur("timeout", shutdownTimeout).Msg("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) sampleSystem(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		s.gauges.ObserveSystem(s.system.GetSystemMetrics())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
