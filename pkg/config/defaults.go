package config

import (
	"strings"
	"time"

	"github.com/modalgate/modalgate/internal/bytesize"
)

// Ingestion path constants shared with the HTTP layer.
const (
	// DefaultMaxContentLength caps request bodies at 16 GiB.
	DefaultMaxContentLength = 16 * bytesize.GiB

	// DefaultStreamThreshold switches the normal path to incremental
	// body reads above 10 MiB declared length.
	DefaultStreamThreshold = 10 * bytesize.MiB

	// DefaultIOChunkSize is the 8 KiB unit for incremental I/O.
	DefaultIOChunkSize = 8 * bytesize.KiB

	// DefaultRegionSize is the fallback shared-memory payload capacity.
	DefaultRegionSize = 1 * bytesize.MiB
)

// ApplyDefaults sets default values for any unspecified fields.
// Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyServerDefaults(&cfg.Server)
	applyUploadDefaults(&cfg.Upload)
	applyShmDefaults(&cfg.Shm)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{"cpu", "inuse_space", "goroutines"}
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port <= 0 {
		cfg.Port = 8080
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

func applyUploadDefaults(cfg *UploadConfig) {
	if cfg.Directory == "" {
		cfg.Directory = "./uploads"
	}
	if cfg.MaxContentLength == 0 {
		cfg.MaxContentLength = DefaultMaxContentLength
	}
	if cfg.StreamThreshold == 0 {
		cfg.StreamThreshold = DefaultStreamThreshold
	}
	if cfg.IOChunkSize == 0 {
		cfg.IOChunkSize = DefaultIOChunkSize
	}
}

func applyShmDefaults(cfg *ShmConfig) {
	if cfg.Directory == "" {
		cfg.Directory = "/dev/shm"
	}
	if cfg.DefaultRegionSize == 0 {
		cfg.DefaultRegionSize = DefaultRegionSize
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.ExchangeTimeout == 0 {
		cfg.ExchangeTimeout = 10 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port <= 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a configuration with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
