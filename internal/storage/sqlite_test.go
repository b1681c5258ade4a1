package storage

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func setupTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "telemetry.db"), "ballometer")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// insertPoint writes one row; nil values are stored as NULL.
func insertPoint(t *testing.T, s *SQLiteStore, ts time.Time, username, flightID string, fields map[string]float64) {
	t.Helper()
	args := []any{ts.UnixNano(), username, flightID}
	for _, f := range Fields {
		if v, ok := fields[f]; ok {
			args = append(args, v)
		} else {
			args = append(args, nil)
		}
	}
	_, err := s.DB().Exec(`INSERT INTO ballometer (time, username, flight_id,
		vario_altitude, gps_speed, gps_heading, vario_speed, gps_longitude, gps_latitude)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		t.Fatalf("insert point: %v", err)
	}
}

func TestSQLiteTagValues(t *testing.T) {
	s := setupTestSQLite(t)
	base := time.Unix(1608369593, 0)
	insertPoint(t, s, base, "bob", "3", map[string]float64{FieldVarioAltitude: 1})
	insertPoint(t, s, base.Add(time.Second), "bob", "7", map[string]float64{FieldVarioAltitude: 1})
	insertPoint(t, s, base.Add(2*time.Second), "bob", "7", map[string]float64{FieldVarioAltitude: 1})
	insertPoint(t, s, base, "alice", "1", map[string]float64{FieldVarioAltitude: 1})

	ctx := context.Background()
	users, err := s.TagValues(ctx, TagUsername, "")
	if err != nil {
		t.Fatalf("TagValues: %v", err)
	}
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Errorf("expected [alice bob], got %v", users)
	}

	ids, err := s.TagValues(ctx, TagFlightID, "bob")
	if err != nil {
		t.Fatalf("TagValues: %v", err)
	}
	if len(ids) != 2 || ids[0] != "3" || ids[1] != "7" {
		t.Errorf("expected [3 7], got %v", ids)
	}

	ids, err = s.TagValues(ctx, TagFlightID, "carol")
	if err != nil {
		t.Fatalf("TagValues: %v", err)
	}
	if ids == nil || len(ids) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", ids)
	}
}

func TestSQLiteTagValuesRejectsUnknownKey(t *testing.T) {
	s := setupTestSQLite(t)
	_, err := s.TagValues(context.Background(), "password", "")
	var qe *QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QueryError, got %v", err)
	}
}

func TestSQLiteFlightBound(t *testing.T) {
	s := setupTestSQLite(t)
	first := time.Unix(1608369593, 250_000_000)
	last := first.Add(90 * time.Second)
	insertPoint(t, s, last, "bob", "7", map[string]float64{FieldGPSSpeed: 3})
	insertPoint(t, s, first, "bob", "7", map[string]float64{FieldGPSSpeed: 1})
	insertPoint(t, s, first.Add(time.Second), "bob", "7", map[string]float64{FieldGPSSpeed: 2})

	ctx := context.Background()
	start, err := s.FlightBound(ctx, "bob", "7", false)
	if err != nil {
		t.Fatalf("FlightBound: %v", err)
	}
	if start == nil || !start.Equal(first) {
		t.Errorf("expected start %v, got %v", first, start)
	}

	stop, err := s.FlightBound(ctx, "bob", "7", true)
	if err != nil {
		t.Fatalf("FlightBound: %v", err)
	}
	if stop == nil || !stop.Equal(last) {
		t.Errorf("expected stop %v, got %v", last, stop)
	}

	missing, err := s.FlightBound(ctx, "bob", "8", false)
	if err != nil {
		t.Fatalf("FlightBound: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown flight, got %v", missing)
	}
}

func TestSQLiteLatestValueSkipsNulls(t *testing.T) {
	s := setupTestSQLite(t)
	base := time.Unix(1608369593, 0)
	insertPoint(t, s, base, "bob", "7", map[string]float64{FieldVarioAltitude: 1000, FieldGPSSpeed: 8})
	insertPoint(t, s, base.Add(2*time.Second), "bob", "7", map[string]float64{FieldVarioAltitude: 1010})

	ctx := context.Background()
	alt, err := s.LatestValue(ctx, "bob", FieldVarioAltitude)
	if err != nil {
		t.Fatalf("LatestValue: %v", err)
	}
	if alt == nil || alt.Value != 1010 || !alt.Time.Equal(base.Add(2*time.Second)) {
		t.Errorf("unexpected altitude sample: %+v", alt)
	}

	speed, err := s.LatestValue(ctx, "bob", FieldGPSSpeed)
	if err != nil {
		t.Fatalf("LatestValue: %v", err)
	}
	if speed == nil || speed.Value != 8 || !speed.Time.Equal(base) {
		t.Errorf("unexpected speed sample: %+v", speed)
	}

	heading, err := s.LatestValue(ctx, "bob", FieldGPSHeading)
	if err != nil {
		t.Fatalf("LatestValue: %v", err)
	}
	if heading != nil {
		t.Errorf("expected nil heading, got %+v", heading)
	}
}

func TestSQLiteLatestValueRejectsUnknownField(t *testing.T) {
	s := setupTestSQLite(t)
	_, err := s.LatestValue(context.Background(), "bob", "username FROM ballometer; --")
	var qe *QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QueryError, got %v", err)
	}
}

func TestSQLiteBoundParametersAreNotInterpreted(t *testing.T) {
	s := setupTestSQLite(t)
	insertPoint(t, s, time.Unix(1608369593, 0), "bob", "7", map[string]float64{FieldGPSSpeed: 1})

	ctx := context.Background()
	for _, username := range []string{"bob' OR '1'='1", "bob'--", "x' UNION SELECT time, gps_speed FROM ballometer --"} {
		sample, err := s.LatestValue(ctx, username, FieldGPSSpeed)
		if err != nil {
			t.Fatalf("LatestValue(%q): %v", username, err)
		}
		if sample != nil {
			t.Errorf("LatestValue(%q) matched a row", username)
		}
	}
}

func TestSQLiteBucketMeans(t *testing.T) {
	s := setupTestSQLite(t)
	start := time.Unix(1000, 0)

	// Bucket 0: two altitude samples. Bucket 1: empty. Bucket 2: speed only.
	insertPoint(t, s, start, "bob", "7", map[string]float64{FieldVarioAltitude: 10})
	insertPoint(t, s, start.Add(500*time.Millisecond), "bob", "7", map[string]float64{FieldVarioAltitude: 20})
	insertPoint(t, s, start.Add(2500*time.Millisecond), "bob", "7", map[string]float64{FieldGPSSpeed: 4})
	// Exactly at stop: clamped into the last bucket.
	insertPoint(t, s, start.Add(3*time.Second), "bob", "7", map[string]float64{FieldGPSSpeed: 6})
	// Other flight and other user are ignored.
	insertPoint(t, s, start, "bob", "8", map[string]float64{FieldVarioAltitude: 999})
	insertPoint(t, s, start, "alice", "7", map[string]float64{FieldVarioAltitude: 999})

	buckets, err := s.BucketMeans(context.Background(), BucketQuery{
		Username: "bob",
		FlightID: "7",
		Start:    start,
		Stop:     start.Add(3 * time.Second),
		Interval: time.Second,
		Count:    3,
		Fields:   []string{FieldVarioAltitude, FieldGPSSpeed},
	})
	if err != nil {
		t.Fatalf("BucketMeans: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("expected 2 non-empty buckets, got %d: %+v", len(buckets), buckets)
	}

	if buckets[0].Index != 0 {
		t.Errorf("expected first bucket index 0, got %d", buckets[0].Index)
	}
	if alt := buckets[0].Means[FieldVarioAltitude]; alt == nil || math.Abs(*alt-15) > 1e-9 {
		t.Errorf("expected altitude mean 15, got %v", alt)
	}
	if speed := buckets[0].Means[FieldGPSSpeed]; speed != nil {
		t.Errorf("expected nil speed in bucket 0, got %v", *speed)
	}

	if buckets[1].Index != 2 {
		t.Errorf("expected second bucket index 2, got %d", buckets[1].Index)
	}
	if speed := buckets[1].Means[FieldGPSSpeed]; speed == nil || math.Abs(*speed-5) > 1e-9 {
		t.Errorf("expected speed mean 5, got %v", speed)
	}
}

func TestSQLiteBucketMeansValidatesQuery(t *testing.T) {
	s := setupTestSQLite(t)
	start := time.Unix(1000, 0)

	tests := []struct {
		name string
		q    BucketQuery
	}{
		{"zero count", BucketQuery{Start: start, Stop: start, Interval: time.Second, Fields: []string{FieldGPSSpeed}}},
		{"zero interval", BucketQuery{Start: start, Stop: start, Count: 1, Fields: []string{FieldGPSSpeed}}},
		{"stop before start", BucketQuery{Start: start, Stop: start.Add(-time.Second), Interval: time.Second, Count: 1, Fields: []string{FieldGPSSpeed}}},
		{"unknown field", BucketQuery{Start: start, Stop: start, Interval: time.Second, Count: 1, Fields: []string{"sht_temperature"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.BucketMeans(context.Background(), tt.q)
			var qe *QueryError
			if !errors.As(err, &qe) {
				t.Errorf("expected QueryError, got %v", err)
			}
		})
	}
}

func TestOpenRejectsBadMeasurement(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendSQLite
	cfg.Path = filepath.Join(t.TempDir(), "x.db")
	cfg.Measurement = "ballometer; DROP TABLE ballometer"

	if _, err := Open(context.Background(), cfg); err == nil {
		t.Fatal("expected error for invalid measurement")
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "mongodb"
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestSeconds(t *testing.T) {
	ts := time.Unix(1608369595, 400_000_000)
	got := Seconds(ts)
	if math.Abs(got-1608369595.4) > 1e-6 {
		t.Errorf("expected 1608369595.4, got %f", got)
	}
}
