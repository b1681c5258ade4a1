package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telemetry_read/internal/storage"
)

// Service answers telemetry read queries. It holds no state besides the store
// handle; every call re-queries the store.
type Service struct {
	store storage.Store
	log   zerolog.Logger
}

// NewService creates a service reading from store.
func NewService(store storage.Store, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		log:   log.With().Str("component", "telemetry").Logger(),
	}
}

// Usernames returns every username that has recorded telemetry.
func (s *Service) Usernames(ctx context.Context) ([]string, error) {
	return s.store.TagValues(ctx, storage.TagUsername, "")
}

// seconds converts a store time to Unix seconds, mapping the zero time to the
// 0.0 no-data sentinel.
func seconds(t time.Time) float64 {
	if t.IsZero() {
		return 0.0
	}
	return storage.Seconds(t)
}
