// Package api provides the ingestion HTTP server: router, middleware,
// and the handlers that bind the upload paths and the shared-memory
// exchange subsystem to the HTTP surface.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/modalgate/modalgate/internal/logger"
	"github.com/modalgate/modalgate/pkg/config"
)

// Server is the ingestion HTTP server. It is created stopped; Start
// blocks until the context is cancelled or the listener fails.
type Server struct {
	server       *http.Server
	config       config.ServerConfig
	shutdownOnce sync.Once
}

// NewServer creates the server around an already-built router.
func NewServer(cfg config.ServerConfig, handler http.Handler) *Server {
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		config: cfg,
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start serves requests until ctx is cancelled, then shuts down
// gracefully within the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		logger.Info("ingestion server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errChan:
		return fmt.Errorf("ingestion server failed: %w", err)
	}
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		logger.Info("shutting down ingestion server")
		err = s.server.Shutdown(shutdownCtx)
	})
	return err
}
