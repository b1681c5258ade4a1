package storage

import (
	"context"
	"fmt"
)

// Backend names.
const (
	BackendClickHouse = "clickhouse"
	BackendPostgres   = "postgres"
	BackendSQLite     = "sqlite"
	BackendInflux     = "influx"
)

// Config holds store connection settings for every backend.
type Config struct {
	Backend     string
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	Path        string // SQLite database file.
	Measurement string // Table holding the telemetry stream.
}

// DefaultConfig returns a configuration with default local development settings.
func DefaultConfig() Config {
	return Config{
		Backend:     BackendClickHouse,
		Host:        "localhost",
		Port:        9000,
		Database:    "ballometer",
		User:        "default",
		Password:    "",
		Path:        "ballometer.db",
		Measurement: "ballometer",
	}
}

// Open opens the configured backend and verifies the connection.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if !ValidIdentifier(cfg.Measurement) {
		return nil, fmt.Errorf("invalid measurement name: %q", cfg.Measurement)
	}

	switch cfg.Backend {
	case BackendClickHouse:
		s, err := OpenClickHouse(ctx, ClickHouseConfig{
			Host:        cfg.Host,
			Port:        cfg.Port,
			Database:    cfg.Database,
			User:        cfg.User,
			Password:    cfg.Password,
			Measurement: cfg.Measurement,
		})
		if err != nil {
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		return s, nil
	case BackendPostgres:
		s, err := OpenPostgres(ctx, PostgresConfig{
			Host:        cfg.Host,
			Port:        cfg.Port,
			Database:    cfg.Database,
			User:        cfg.User,
			Password:    cfg.Password,
			Measurement: cfg.Measurement,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return s, nil
	case BackendInflux:
		s, err := OpenInflux(ctx, InfluxConfig{
			Addr:        fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
			Database:    cfg.Database,
			User:        cfg.User,
			Password:    cfg.Password,
			Measurement: cfg.Measurement,
		})
		if err != nil {
			return nil, fmt.Errorf("influx: %w", err)
		}
		return s, nil
	case BackendSQLite:
		s, err := OpenSQLite(cfg.Path, cfg.Measurement)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q", cfg.Backend)
	}
}
