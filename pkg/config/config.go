// Package config loads, validates, and persists the ModalGate server
// configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (MODALGATE_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/modalgate/modalgate/internal/bytesize"
)

// Config represents the ModalGate server configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Server configures the ingestion HTTP server.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Upload configures the ingestion paths (directories, size caps).
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`

	// Shm configures the shared-memory exchange subsystem.
	Shm ShmConfig `mapstructure:"shm" yaml:"shm"`

	// Metrics configures the Prometheus metrics server.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls the global structured logger.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR" yaml:"level"`

	// Format is "text" or "json".
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json" yaml:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `mapstructure:"output" yaml:"output"`
}

// TelemetryConfig controls tracing and profiling.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,min=0,max=1" yaml:"sample_rate"`

	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// ServerConfig configures the ingestion HTTP server.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the HTTP port for the ingestion endpoints.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ReadHeaderTimeout bounds request header reads. Body reads are
	// deliberately unbounded: multi-gigabyte uploads are expected.
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// UploadConfig configures the ingestion paths.
type UploadConfig struct {
	// Directory is where the file handler stores payloads.
	Directory string `mapstructure:"directory" yaml:"directory"`

	// SpoolDirectory holds the temporary files of the streamed path.
	// Empty means the OS temp directory.
	SpoolDirectory string `mapstructure:"spool_directory" yaml:"spool_directory"`

	// MaxContentLength is the request body cap. Larger declared
	// bodies are rejected with 413 and chunked-mode guidance.
	MaxContentLength bytesize.ByteSize `mapstructure:"max_content_length" yaml:"max_content_length"`

	// StreamThreshold is the declared length above which the normal
	// path reads the body incrementally instead of in one call.
	StreamThreshold bytesize.ByteSize `mapstructure:"stream_threshold" yaml:"stream_threshold"`

	// IOChunkSize is the buffer size for incremental body and spool I/O.
	IOChunkSize bytesize.ByteSize `mapstructure:"io_chunk_size" yaml:"io_chunk_size"`
}

// ShmConfig configures the shared-memory exchange subsystem.
type ShmConfig struct {
	// Directory is where region objects live (/dev/shm on Linux).
	Directory string `mapstructure:"directory" yaml:"directory"`

	// DefaultRegionSize is used when a create or write operation
	// carries no explicit size.
	DefaultRegionSize bytesize.ByteSize `mapstructure:"default_region_size" yaml:"default_region_size"`

	// ReadTimeout bounds the wait for client data on the read path.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// ExchangeTimeout bounds the wait for client data on the
	// bidirectional path.
	ExchangeTimeout time.Duration `mapstructure:"exchange_timeout" yaml:"exchange_timeout"`

	// PollInterval is the status poll period.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the /metrics endpoint.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath uses the default location; a missing file is
// not an error and yields the defaults plus any environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	// Bind every known key so MODALGATE_* overrides also reach keys the file does not set.
	if raw, err := yaml.Marshal(GetDefaultConfig()); err == nil {
		keys := viper.New()
		keys.SetConfigType("yaml")
		if keys.ReadConfig(strings.NewReader(string(raw))) == nil {
			for _, key := range keys.AllKeys() {
				_ = v.BindEnv(key)
			}
		}
	}

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the
// file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  modalgate init\n\n"+
				"Or specify a custom config file:\n"+
				"  modalgate <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  modalgate init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variable support and the config
// file location. Example: MODALGATE_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("MODALGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaultConfigDir())
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// decodeHooks converts string values from YAML and the environment
// into durations and byte sizes.
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

var validate = validator.New()

// Validate checks structural constraints on the configuration.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	if cfg.Upload.StreamThreshold > cfg.Upload.MaxContentLength {
		return fmt.Errorf("upload.stream_threshold (%s) exceeds upload.max_content_length (%s)",
			cfg.Upload.StreamThreshold, cfg.Upload.MaxContentLength)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Server.Port {
		return fmt.Errorf("metrics.port must differ from server.port (%d)", cfg.Server.Port)
	}
	return nil
}

// defaultConfigDir returns $XDG_CONFIG_HOME/modalgate (or the
// platform equivalent of ~/.config/modalgate).
func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "modalgate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "modalgate")
}

// GetDefaultConfigPath returns the default config file location.
func GetDefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
