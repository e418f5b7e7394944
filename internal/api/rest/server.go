package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/treumlabs/risk-engine/internal/infrastructure/telemetry"
)

// ServerConfig tunes the HTTP listener
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Server is the risk engine's HTTP front end: the REST surface, the
// alert stream upgrade endpoint and the Prometheus scrape endpoint.
type Server struct {
	config     ServerConfig
	logger     *zap.Logger
	httpServer *http.Server
}

// NewServer builds the route table and middleware chain. alertStream,
// when non-nil, is mounted at /api/v1/alerts/stream; write timeouts do
// not apply to it because the connection upgrades away from HTTP.
func NewServer(config ServerConfig, handler *Handler, alertStream http.Handler, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	mux.Handle("GET /metrics", MetricsHandler())
	if alertStream != nil {
		mux.Handle("GET /api/v1/alerts/stream", alertStream)
	}

	chained := Chain(mux,
		Recovery(logger),
		SecurityHeaders(),
		RequestID(),
		RequestLogging(logger),
		Tracing(telemetry.Tracer("api.rest")),
	)

	return &Server{
		config: config,
		logger: logger,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      chained,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}
}

// Start serves until ctx is cancelled, then drains in-flight requests
// within the shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("http server draining")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
