package storage

import (
	"context"
	"time"

	"telemetry_read/internal/metrics"
)

// Instrumented bounds every query with a timeout and records its duration.
type Instrumented struct {
	next    Store
	timeout time.Duration
}

// NewInstrumented wraps next. A non-positive timeout disables the bound.
func NewInstrumented(next Store, timeout time.Duration) *Instrumented {
	return &Instrumented{next: next, timeout: timeout}
}

func (s *Instrumented) begin(ctx context.Context) (context.Context, context.CancelFunc, time.Time) {
	if s.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		return ctx, cancel, time.Now()
	}
	return ctx, func() {}, time.Now()
}

func (s *Instrumented) TagValues(ctx context.Context, key, username string) ([]string, error) {
	ctx, cancel, start := s.begin(ctx)
	defer cancel()
	values, err := s.next.TagValues(ctx, key, username)
	metrics.RecordStoreQuery("tag_values", time.Since(start), err)
	return values, err
}

func (s *Instrumented) FlightBound(ctx context.Context, username, flightID string, last bool) (*time.Time, error) {
	ctx, cancel, start := s.begin(ctx)
	defer cancel()
	t, err := s.next.FlightBound(ctx, username, flightID, last)
	metrics.RecordStoreQuery("flight_bound", time.Since(start), err)
	return t, err
}

func (s *Instrumented) LatestValue(ctx context.Context, username, field string) (*Sample, error) {
	ctx, cancel, start := s.begin(ctx)
	defer cancel()
	sample, err := s.next.LatestValue(ctx, username, field)
	metrics.RecordStoreQuery("latest_value", time.Since(start), err)
	return sample, err
}

func (s *Instrumented) BucketMeans(ctx context.Context, q BucketQuery) ([]Bucket, error) {
	ctx, cancel, start := s.begin(ctx)
	defer cancel()
	buckets, err := s.next.BucketMeans(ctx, q)
	metrics.RecordStoreQuery("bucket_means", time.Since(start), err)
	return buckets, err
}

func (s *Instrumented) Ping(ctx context.Context) error {
	ctx, cancel, start := s.begin(ctx)
	defer cancel()
	err := s.next.Ping(ctx)
	metrics.RecordStoreQuery("ping", time.Since(start), err)
	return err
}

func (s *Instrumented) Close() error {
	return s.next.Close()
}
