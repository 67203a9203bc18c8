package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/modalgate/modalgate/internal/logger"
	"github.com/modalgate/modalgate/internal/telemetry"
	"github.com/modalgate/modalgate/pkg/api"
	"github.com/modalgate/modalgate/pkg/api/handlers"
	"github.com/modalgate/modalgate/pkg/config"
	"github.com/modalgate/modalgate/pkg/ingest"
	"github.com/modalgate/modalgate/pkg/metrics"
	"github.com/modalgate/modalgate/pkg/shm"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ModalGate server",
	Long: `Start the ModalGate server with the specified configuration.

The server runs in the foreground until interrupted; SIGINT and
SIGTERM trigger a graceful shutdown that drains in-flight requests and
unlinks every tracked shared-memory region.

Examples:
  # Start with the default config file
  modalgate start

  # Start with a custom config file
  modalgate start --config /etc/modalgate/config.yaml

  # Start with environment variable overrides
  MODALGATE_LOGGING_LEVEL=DEBUG modalgate start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "modalgate",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "modalgate",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}
	ingestMetrics := metrics.NewIngestMetrics()

	if err := os.MkdirAll(cfg.Upload.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create upload directory %q: %w", cfg.Upload.Directory, err)
	}

	// Core wiring: registry, handler table, sessions, orchestrator.
	regions := shm.NewRegistry(cfg.Shm.Directory)
	defer regions.CloseAll()

	handlerRegistry := ingest.NewRegistry(cfg.Upload.Directory)
	sessions := ingest.NewSessionStore()

	dispatch := func(kind string, data []byte, meta map[string]string) (map[string]any, error) {
		result, err := handlerRegistry.Dispatch(kind, data, ingest.Metadata{
			Kind:     kind,
			Mode:     "shm",
			Filename: meta["filename"],
			Params:   meta,
		})
		return map[string]any(result), err
	}

	exchange := shm.NewExchange(regions, dispatch, nil, shm.ExchangeConfig{
		ReadTimeout:       cfg.Shm.ReadTimeout,
		ExchangeTimeout:   cfg.Shm.ExchangeTimeout,
		PollInterval:      cfg.Shm.PollInterval,
		DefaultRegionSize: uint32(cfg.Shm.DefaultRegionSize.Bytes()),
	})

	uploadHandler := handlers.NewUploadHandler(cfg.Upload, handlerRegistry, sessions, exchange, ingestMetrics)
	shmHandler := handlers.NewShmHandler(regions, uint32(cfg.Shm.DefaultRegionSize.Bytes()))

	server := api.NewServer(cfg.Server, api.NewRouter(uploadHandler, shmHandler))

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Port); err != nil {
				logger.Error("metrics server error", logger.KeyError, err)
			}
		}()
	}

	logger.Info("modalgate starting",
		"version", Version,
		"upload_dir", cfg.Upload.Directory,
		"shm_dir", cfg.Shm.Directory,
	)

	return server.Start(ctx)
}
