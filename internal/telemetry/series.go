package telemetry

import (
	"context"
	"math"
	"time"

	"telemetry_read/internal/storage"
)

const (
	// maxSamples caps the number of buckets of a long recording.
	maxSamples = 3600
	// minIntervalMs is the bucket width of recordings up to maxSamples seconds.
	minIntervalMs = 1000
)

// Series is a flight resampled into evenly spaced buckets. Every field slice
// has the length of Time and is index-aligned with it.
type Series struct {
	Time      []float64  `json:"time"`
	Altitude  []*float64 `json:"altitude"`
	Speed     []*float64 `json:"speed"`
	Heading   []*float64 `json:"heading"`
	Climb     []*float64 `json:"climb"`
	Longitude []*float64 `json:"longitude"`
	Latitude  []*float64 `json:"latitude"`
}

func newSeries(n int) *Series {
	return &Series{
		Time:      make([]float64, n),
		Altitude:  make([]*float64, n),
		Speed:     make([]*float64, n),
		Heading:   make([]*float64, n),
		Climb:     make([]*float64, n),
		Longitude: make([]*float64, n),
		Latitude:  make([]*float64, n),
	}
}

// Column returns the values of a public field.
func (s *Series) Column(public string) []*float64 {
	switch public {
	case "altitude":
		return s.Altitude
	case "speed":
		return s.Speed
	case "heading":
		return s.Heading
	case "climb":
		return s.Climb
	case "longitude":
		return s.Longitude
	case "latitude":
		return s.Latitude
	}
	return nil
}

// SamplingInterval returns the bucket width in milliseconds for a recording
// from start to stop (Unix seconds). Recordings up to an hour get 1000 ms;
// longer ones get wider buckets so there are at most about 3600 of them.
func SamplingInterval(start, stop float64) int64 {
	ms := math.Floor((stop - start) / maxSamples / 1e-3)
	if ms < minIntervalMs || math.IsNaN(ms) {
		return minIntervalMs
	}
	return int64(ms)
}

// BucketCount returns the number of buckets of width intervalMs covering w.
// An empty window has none; a window holding a single instant has one.
func BucketCount(w Window, intervalMs int64) int {
	if w.Empty() || intervalMs <= 0 {
		return 0
	}
	span := w.Stop.Sub(w.Start)
	interval := time.Duration(intervalMs) * time.Millisecond
	n := int((span + interval - 1) / interval)
	if n < 1 {
		n = 1
	}
	return n
}

// Interpolate fills null runs that have a value on both sides by linear
// interpolation over the index. Leading and trailing nulls stay null. The
// input is not modified.
func Interpolate(values []*float64) []*float64 {
	out := make([]*float64, len(values))
	copy(out, values)

	prev := -1
	for i, v := range out {
		if v == nil {
			continue
		}
		if prev >= 0 && i-prev > 1 {
			lo, hi := *out[prev], *v
			step := (hi - lo) / float64(i-prev)
			for j := prev + 1; j < i; j++ {
				x := lo + step*float64(j-prev)
				out[j] = &x
			}
		}
		prev = i
	}
	return out
}

// Points returns the resampled series of a flight. An empty flightID selects
// the user's highest flight id. A user or flight without points yields empty
// slices.
func (s *Service) Points(ctx context.Context, username, flightID string) (*Series, error) {
	flight, ok, err := s.ResolveFlightID(ctx, username, flightID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return newSeries(0), nil
	}

	w, err := s.Window(ctx, username, flight.Tag)
	if err != nil {
		return nil, err
	}

	intervalMs := SamplingInterval(w.StartSeconds(), w.StopSeconds())
	n := BucketCount(w, intervalMs)
	s.log.Debug().
		Str("username", username).
		Str("flight_id", flight.Tag).
		Int64("interval_ms", intervalMs).
		Int("buckets", n).
		Msg("resampling flight")
	if n == 0 {
		return newSeries(0), nil
	}

	interval := time.Duration(intervalMs) * time.Millisecond
	buckets, err := s.store.BucketMeans(ctx, storage.BucketQuery{
		Username: username,
		FlightID: flight.Tag,
		Start:    w.Start,
		Stop:     w.Stop,
		Interval: interval,
		Count:    n,
		Fields:   storageFields(),
	})
	if err != nil {
		return nil, err
	}

	series := newSeries(n)
	for i := range series.Time {
		series.Time[i] = seconds(w.Start.Add(time.Duration(i) * interval))
	}
	for _, b := range buckets {
		if b.Index < 0 || b.Index >= n {
			continue
		}
		for _, m := range Mappings {
			series.Column(m.Public)[b.Index] = b.Means[m.Storage]
		}
	}
	for _, m := range Mappings {
		copy(series.Column(m.Public), Interpolate(series.Column(m.Public)))
	}
	return series, nil
}
