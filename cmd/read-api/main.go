// Package main provides the read-api server for flight telemetry.
//
// This is a standalone REST API server that exposes recorded flight telemetry
// (altitude, speed, heading, climb rate, GPS position) per user and flight
// from a time-series store. It is read-only and unauthenticated.
//
// Configuration is read from defaults, an optional YAML file (CONFIG_PATH or
// ./config.yaml) and environment variables:
//
//	PORT                 HTTP port (default: 3000)
//	STORE_BACKEND        clickhouse, postgres, influx or sqlite (default: clickhouse)
//	STORE_HOST           Store host (default: localhost)
//	STORE_PORT           Store port (default: 9000; InfluxDB listens on 8086)
//	STORE_DATABASE       Store database (default: ballometer)
//	STORE_USER           Store user (default: default)
//	STORE_PASSWORD       Store password
//	STORE_PATH           SQLite database file (default: ballometer.db)
//	STORE_MEASUREMENT    Telemetry table (default: ballometer)
//	STORE_QUERY_TIMEOUT  Per-query timeout (default: 10s)
//	LOG_LEVEL            Log level (default: info)
//	LOG_FORMAT           json or console (default: json)
//
// API Endpoints:
//
//	GET /now?username=NAME
//	    Latest value of every field.
//
//	GET /points?username=NAME[&flightId=N]
//	    Resampled series of a flight (default: highest flight id).
//
//	GET /listFlights?username=NAME
//	    Flight ids with their start times.
//
//	GET /listUsernames
//	    Every username with recorded telemetry.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"telemetry_read/internal/api"
	"telemetry_read/internal/config"
	"telemetry_read/internal/logging"
	"telemetry_read/internal/storage"
	"telemetry_read/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LoggerConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open the time-series store.
	backend, err := storage.Open(ctx, cfg.StorageConfig())
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("error opening store")
	}

	var store storage.Store = storage.NewInstrumented(backend, cfg.Store.QueryTimeout)
	store = storage.NewBreaker(store, storage.BreakerConfig{
		Failures: cfg.Store.BreakerFailures,
		Cooldown: cfg.Store.BreakerCooldown,
	}, log)
	defer store.Close()

	log.Info().
		Str("backend", cfg.Store.Backend).
		Str("measurement", cfg.Store.Measurement).
		Dur("query_timeout", cfg.Store.QueryTimeout).
		Msg("store connected")

	svc := telemetry.NewService(store, log)
	server := api.NewServer(svc, store, log, api.Config{
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.Server.RequestTimeout,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RateLimit:      cfg.Server.RateLimit,
		Metrics:        cfg.Metrics.Enabled,
	})

	if err := server.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server error")
		_ = store.Close()
		os.Exit(1)
	}
}
