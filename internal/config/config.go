// Package config loads the read service configuration from defaults, an
// optional YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"telemetry_read/internal/logging"
	"telemetry_read/internal/storage"
)

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Store   StoreConfig   `koanf:"store"`
	Logging LoggingConfig `koanf:"logging"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	CORSOrigins    []string      `koanf:"cors_origins"`
	RateLimit      int           `koanf:"rate_limit"` // Requests per minute per client IP; 0 disables.
}

// StoreConfig configures the time-series store.
type StoreConfig struct {
	Backend         string        `koanf:"backend"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Database        string        `koanf:"database"`
	User            string        `koanf:"user"`
	Password        string        `koanf:"password"`
	Path            string        `koanf:"path"`
	Measurement     string        `koanf:"measurement"`
	QueryTimeout    time.Duration `koanf:"query_timeout"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

func defaultConfig() *Config {
	st := storage.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Port:           3000,
			RequestTimeout: 30 * time.Second,
			CORSOrigins:    []string{"*"},
			RateLimit:      600,
		},
		Store: StoreConfig{
			Backend:         st.Backend,
			Host:            st.Host,
			Port:            st.Port,
			Database:        st.Database,
			User:            st.User,
			Password:        st.Password,
			Path:            st.Path,
			Measurement:     st.Measurement,
			QueryTimeout:    10 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// StorageConfig returns the connection settings for storage.Open.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Backend:     c.Store.Backend,
		Host:        c.Store.Host,
		Port:        c.Store.Port,
		Database:    c.Store.Database,
		User:        c.Store.User,
		Password:    c.Store.Password,
		Path:        c.Store.Path,
		Measurement: c.Store.Measurement,
	}
}

// LoggerConfig returns the settings for logging.New.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RequestTimeout <= 0 {
		return errors.New("server.request_timeout must be positive")
	}
	if c.Server.RateLimit < 0 {
		return errors.New("server.rate_limit must not be negative")
	}

	switch c.Store.Backend {
	case storage.BackendClickHouse, storage.BackendPostgres, storage.BackendInflux:
		if c.Store.Host == "" {
			return fmt.Errorf("store.host is required for %s", c.Store.Backend)
		}
		if c.Store.Port < 1 || c.Store.Port > 65535 {
			return fmt.Errorf("store.port must be between 1 and 65535, got %d", c.Store.Port)
		}
	case storage.BackendSQLite:
		if c.Store.Path == "" {
			return errors.New("store.path is required for sqlite")
		}
	default:
		return fmt.Errorf("store.backend must be one of clickhouse, postgres, influx, sqlite, got %q", c.Store.Backend)
	}
	if !storage.ValidIdentifier(c.Store.Measurement) {
		return fmt.Errorf("store.measurement must be a plain identifier, got %q", c.Store.Measurement)
	}
	if c.Store.QueryTimeout <= 0 {
		return errors.New("store.query_timeout must be positive")
	}
	if c.Store.BreakerFailures == 0 {
		return errors.New("store.breaker_failures must be positive")
	}
	if c.Store.BreakerCooldown <= 0 {
		return errors.New("store.breaker_cooldown must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("logging.level is invalid: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
