// Package metrics owns the process-wide Prometheus registry and the
// metrics HTTP server. Collection is opt-in: until InitRegistry is
// called every constructor returns nil and the nil-safe observer
// methods are no-ops, so a disabled server pays nothing.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modalgate/modalgate/internal/logger"
)

var registry *prometheus.Registry

// InitRegistry creates the process registry with the standard Go and
// process collectors. Safe to call once, before any New*Metrics call.
func InitRegistry() {
	if registry != nil {
		return
	}
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IsEnabled reports whether metrics collection is active.
func IsEnabled() bool {
	return registry != nil
}

// GetRegistry returns the process registry; nil when disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// Serve runs the metrics HTTP server on the given port until the
// context is cancelled.
func Serve(ctx context.Context, port int) error {
	if !IsEnabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}
