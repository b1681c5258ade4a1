// Package storagetest provides an in-memory storage.Store for tests.
package storagetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"telemetry_read/internal/storage"
)

// Point is one stored telemetry row.
type Point struct {
	Time     time.Time
	Username string
	FlightID string
	Fields   map[string]float64
}

// Store is an in-memory storage.Store. Errors set in Err are returned by the
// operation of the same name ("tag_values", "flight_bound", "latest_value",
// "bucket_means", "ping").
type Store struct {
	mu     sync.Mutex
	points []Point
	Err    map[string]error
	calls  map[string]int
}

// New returns an empty store.
func New() *Store {
	return &Store{Err: map[string]error{}, calls: map[string]int{}}
}

// Add appends points.
func (s *Store) Add(points ...Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, points...)
}

// Calls returns how often op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// TotalCalls returns the number of store queries of any kind.
func (s *Store) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *Store) enter(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	if err := s.Err[op]; err != nil {
		return &storage.QueryError{Op: op, Err: err}
	}
	return nil
}

func (s *Store) sorted() []Point {
	s.mu.Lock()
	out := make([]Point, len(s.points))
	copy(out, s.points)
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func (s *Store) TagValues(ctx context.Context, key, username string) ([]string, error) {
	if err := s.enter("tag_values"); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	values := []string{}
	for _, p := range s.sorted() {
		var v string
		switch key {
		case storage.TagUsername:
			v = p.Username
		case storage.TagFlightID:
			if p.Username != username {
				continue
			}
			v = p.FlightID
		}
		if !seen[v] {
			seen[v] = true
			values = append(values, v)
		}
	}
	sort.Strings(values)
	return values, nil
}

func (s *Store) FlightBound(ctx context.Context, username, flightID string, last bool) (*time.Time, error) {
	if err := s.enter("flight_bound"); err != nil {
		return nil, err
	}
	var found *time.Time
	for _, p := range s.sorted() {
		if p.Username != username || p.FlightID != flightID {
			continue
		}
		t := p.Time
		if found == nil || last {
			found = &t
		}
	}
	return found, nil
}

func (s *Store) LatestValue(ctx context.Context, username, field string) (*storage.Sample, error) {
	if err := s.enter("latest_value"); err != nil {
		return nil, err
	}
	var found *storage.Sample
	for _, p := range s.sorted() {
		if p.Username != username {
			continue
		}
		if v, ok := p.Fields[field]; ok {
			found = &storage.Sample{Field: field, Value: v, Time: p.Time}
		}
	}
	return found, nil
}

func (s *Store) BucketMeans(ctx context.Context, q storage.BucketQuery) ([]storage.Bucket, error) {
	if err := s.enter("bucket_means"); err != nil {
		return nil, err
	}
	type acc struct {
		sum map[string]float64
		n   map[string]int
	}
	accs := map[int]*acc{}
	for _, p := range s.sorted() {
		if p.Username != q.Username || p.FlightID != q.FlightID {
			continue
		}
		if p.Time.Before(q.Start) || p.Time.After(q.Stop) {
			continue
		}
		idx := int(p.Time.Sub(q.Start) / q.Interval)
		if idx > q.Count-1 {
			idx = q.Count - 1
		}
		a := accs[idx]
		if a == nil {
			a = &acc{sum: map[string]float64{}, n: map[string]int{}}
			accs[idx] = a
		}
		for _, f := range q.Fields {
			if v, ok := p.Fields[f]; ok {
				a.sum[f] += v
				a.n[f]++
			}
		}
	}

	indexes := make([]int, 0, len(accs))
	for idx := range accs {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	buckets := []storage.Bucket{}
	for _, idx := range indexes {
		a := accs[idx]
		b := storage.Bucket{Index: idx, Means: map[string]*float64{}}
		for _, f := range q.Fields {
			if a.n[f] > 0 {
				m := a.sum[f] / float64(a.n[f])
				b.Means[f] = &m
			} else {
				b.Means[f] = nil
			}
		}
		buckets = append(buckets, b)
	}
	return buckets, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.enter("ping")
}

func (s *Store) Close() error {
	return nil
}
