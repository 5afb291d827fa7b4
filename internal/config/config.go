// Package config provides configuration management for the archiver.
// It assembles the per-concern configurations from a single Viper instance,
// which merges the YAML config file with ARCHIVER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/warc-archiver/internal/config/archive"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/config/storage"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/logger"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/worker"
	"github.com/spf13/viper"
)

// ErrInvalid wraps every configuration validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Server defaults
const (
	defaultServerReadTimeout  = 30 * time.Second
	defaultServerWriteTimeout = 30 * time.Second
	defaultServerIdleTimeout  = 60 * time.Second
)

// ServerConfig configures the optional health and metrics endpoint.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080"); empty disables the server.
	Address string `yaml:"address"`
	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// WriteTimeout is the maximum duration before timing out writes of the response
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// Enabled reports whether an address has been configured.
func (c *ServerConfig) Enabled() bool {
	return c.Address != ""
}

// Config represents the application configuration.
type Config struct {
	// Logging configures the zap logger
	Logging logger.Config `yaml:"logging"`
	// Archive holds rotation and compression settings
	Archive *archive.Config `yaml:"archive"`
	// Storage selects the commit backend
	Storage *storage.Config `yaml:"storage"`
	// Worker sizes the shared encode pool
	Worker worker.Config `yaml:"worker"`
	// Server configures /health and /metrics
	Server ServerConfig `yaml:"server"`
}

// Load builds the configuration from v. Unset keys keep their defaults.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Archive: archive.LoadFromViper(v),
		Storage: storage.LoadFromViper(v),
		Worker:  worker.DefaultConfig(),
		Server: ServerConfig{
			ReadTimeout:  defaultServerReadTimeout,
			WriteTimeout: defaultServerWriteTimeout,
			IdleTimeout:  defaultServerIdleTimeout,
		},
	}

	if err := v.UnmarshalKey("logging", &cfg.Logging); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	if v.IsSet("LOG_LEVEL") {
		cfg.Logging.Level = v.GetString("LOG_LEVEL")
	}
	cfg.Logging.SetDefaults()

	if err := v.UnmarshalKey("worker", &cfg.Worker); err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}
	if v.IsSet("ARCHIVER_ENCODE_WORKERS") {
		cfg.Worker.PoolSize = v.GetInt("ARCHIVER_ENCODE_WORKERS")
	}
	cfg.Worker.SetDefaults()

	loadServer(v, &cfg.Server)

	return cfg, nil
}

func loadServer(v *viper.Viper, s *ServerConfig) {
	if v.IsSet("server.address") {
		s.Address = v.GetString("server.address")
	}
	if v.IsSet("ARCHIVER_SERVER_ADDRESS") {
		s.Address = v.GetString("ARCHIVER_SERVER_ADDRESS")
	}
	if v.IsSet("server.read_timeout") {
		s.ReadTimeout = v.GetDuration("server.read_timeout")
	}
	if v.IsSet("server.write_timeout") {
		s.WriteTimeout = v.GetDuration("server.write_timeout")
	}
	if v.IsSet("server.idle_timeout") {
		s.IdleTimeout = v.GetDuration("server.idle_timeout")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Archive.Validate(); err != nil {
		return fmt.Errorf("%w: archive: %w", ErrInvalid, err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("%w: storage: %w", ErrInvalid, err)
	}
	if err := c.Worker.Validate(); err != nil {
		return fmt.Errorf("%w: worker: %w", ErrInvalid, err)
	}
	return nil
}
