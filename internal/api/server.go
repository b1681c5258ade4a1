// Package api provides the read-only REST API over flight telemetry.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"telemetry_read/internal/logging"
	"telemetry_read/internal/metrics"
	"telemetry_read/internal/storage"
	"telemetry_read/internal/telemetry"
)

// Server provides REST API access to flight telemetry.
type Server struct {
	svc      *telemetry.Service
	store    storage.Store // Used for health checks only.
	log      zerolog.Logger
	cfg      Config
	validate *validator.Validate
}

// Config holds configuration for the API server.
type Config struct {
	Port           int
	RequestTimeout time.Duration
	CORSOrigins    []string
	RateLimit      int  // Requests per minute per client IP; 0 disables.
	Metrics        bool // Serve /metrics.
}

// NewServer creates a new API server.
func NewServer(svc *telemetry.Service, store storage.Store, log zerolog.Logger, cfg Config) *Server {
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return &Server{
		svc:      svc,
		store:    store,
		log:      log.With().Str("component", "api").Logger(),
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Router returns the configured chi router.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	// Standard middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(instrument)
	if s.cfg.RequestTimeout > 0 {
		r.Use(requestDeadline(s.cfg.RequestTimeout))
	}

	// CORS for browser access; the API is public.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	if s.cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimit, time.Minute))
	}

	r.Get("/now", s.handleNow)
	r.Get("/points", s.handlePoints)
	r.Get("/listFlights", s.handleListFlights)
	r.Get("/listUsernames", s.handleListUsernames)

	r.Get("/health", s.handleHealth)
	if s.cfg.Metrics {
		r.Handle("/metrics", metrics.Handler())
	}

	return r
}

// Run serves HTTP until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.cfg.RequestTimeout > 0 {
		srv.WriteTimeout = s.cfg.RequestTimeout + 5*time.Second
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", s.cfg.Port).Msg("read service running")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// requestDeadline bounds the request context. It writes no response of its
// own: a store call that runs out of time fails and the handler answers 500.
func requestDeadline(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// instrument records request metrics labeled by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordAPIRequest(r.Method, route, strconv.Itoa(status), time.Since(start))
	})
}
