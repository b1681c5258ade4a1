package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"telemetry_read/internal/metrics"
)

// BreakerConfig configures the store circuit breaker.
type BreakerConfig struct {
	Failures uint32        // Consecutive failures that open the circuit.
	Cooldown time.Duration // Time spent open before probing again.
}

// Breaker fails queries fast while the store is known to be down. It never
// retries; a rejected call surfaces as a QueryError wrapping ErrUnavailable.
type Breaker struct {
	next Store
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreaker wraps next with a circuit breaker.
func NewBreaker(next Store, cfg BreakerConfig, log zerolog.Logger) *Breaker {
	failures := cfg.Failures
	if failures == 0 {
		failures = 5
	}
	settings := gobreaker.Settings{
		Name:        "telemetry-store",
		// Half-open admits one full snapshot fan-out, one LatestValue per field.
		MaxRequests: uint32(len(Fields)),
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(int(to))
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("store circuit breaker state changed")
		},
		// A caller hanging up says nothing about the store.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// State returns the breaker state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func run[T any](b *Breaker, op string, fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, &QueryError{Op: op, Err: ErrUnavailable}
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

func (b *Breaker) TagValues(ctx context.Context, key, username string) ([]string, error) {
	return run(b, "tag_values", func() ([]string, error) {
		return b.next.TagValues(ctx, key, username)
	})
}

func (b *Breaker) FlightBound(ctx context.Context, username, flightID string, last bool) (*time.Time, error) {
	return run(b, "flight_bound", func() (*time.Time, error) {
		return b.next.FlightBound(ctx, username, flightID, last)
	})
}

func (b *Breaker) LatestValue(ctx context.Context, username, field string) (*Sample, error) {
	return run(b, "latest_value", func() (*Sample, error) {
		return b.next.LatestValue(ctx, username, field)
	})
}

func (b *Breaker) BucketMeans(ctx context.Context, q BucketQuery) ([]Bucket, error) {
	return run(b, "bucket_means", func() ([]Bucket, error) {
		return b.next.BucketMeans(ctx, q)
	})
}

// Ping bypasses the breaker so health checks observe the real store.
func (b *Breaker) Ping(ctx context.Context) error {
	return b.next.Ping(ctx)
}

func (b *Breaker) Close() error {
	return b.next.Close()
}
