// Package storage provides read access to the flight telemetry time-series store.
//
// Telemetry is stored as one table (the measurement) with a nanosecond
// timestamp, two tags (username, flight_id) and one nullable Float64 column
// per recorded field. Backends exist for ClickHouse, PostgreSQL and SQLite;
// all of them bind user-supplied values as query parameters.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Storage field names as recorded by the logger.
const (
	FieldVarioAltitude = "vario_altitude"
	FieldGPSSpeed      = "gps_speed"
	FieldGPSHeading    = "gps_heading"
	FieldVarioSpeed    = "vario_speed"
	FieldGPSLongitude  = "gps_longitude"
	FieldGPSLatitude   = "gps_latitude"
)

// Tag keys.
const (
	TagUsername = "username"
	TagFlightID = "flight_id"
)

// Fields lists every numeric column a backend may be asked to read.
var Fields = []string{
	FieldVarioAltitude,
	FieldGPSSpeed,
	FieldGPSHeading,
	FieldVarioSpeed,
	FieldGPSLongitude,
	FieldGPSLatitude,
}

// ErrUnavailable is returned when the store is not accepting queries.
var ErrUnavailable = errors.New("store unavailable")

// QueryError is the single error kind for failed store queries. Backends wrap
// every driver or transport error in it; callers should not inspect the cause.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("store query %s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func queryErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return err
	}
	return &QueryError{Op: op, Err: err}
}

// Sample is a single field value at a point in time.
type Sample struct {
	Field string
	Value float64
	Time  time.Time
}

// BucketQuery describes a bucketed mean aggregation over one flight.
//
// Rows with Start <= time <= Stop are grouped into Count buckets of width
// Interval anchored at Start. Rows past the last bucket boundary (only the
// row at Stop when the window is an exact multiple of Interval) fall into the
// last bucket.
type BucketQuery struct {
	Username string
	FlightID string
	Start    time.Time
	Stop     time.Time
	Interval time.Duration
	Count    int
	Fields   []string
}

// Bucket holds the per-field means of one non-empty bucket. A nil mean means
// no row in the bucket carried that field.
type Bucket struct {
	Index int
	Means map[string]*float64
}

// Store is the query gateway to the time-series store.
type Store interface {
	// TagValues returns the distinct values of a tag key. For TagFlightID the
	// values are scoped to username; for TagUsername username is ignored.
	TagValues(ctx context.Context, key, username string) ([]string, error)

	// FlightBound returns the time of the first (last=false) or last
	// (last=true) point of a flight, or nil if the flight has no points.
	FlightBound(ctx context.Context, username, flightID string, last bool) (*time.Time, error)

	// LatestValue returns the most recent non-null value of field for
	// username, or nil if there is none.
	LatestValue(ctx context.Context, username, field string) (*Sample, error)

	// BucketMeans returns the non-empty buckets of q ordered by index.
	BucketMeans(ctx context.Context, q BucketQuery) ([]Bucket, error)

	Ping(ctx context.Context) error
	Close() error
}

// Seconds converts a store timestamp to fractional Unix seconds.
func Seconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name can be composed into query text as a
// table or column name.
func ValidIdentifier(name string) bool {
	return identRe.MatchString(name)
}

// ValidField reports whether name is one of the known numeric columns.
func ValidField(name string) bool {
	for _, f := range Fields {
		if f == name {
			return true
		}
	}
	return false
}

func validTag(key string) bool {
	return key == TagUsername || key == TagFlightID
}

func (q BucketQuery) validate() error {
	if q.Count <= 0 {
		return fmt.Errorf("bucket count must be positive, got %d", q.Count)
	}
	if q.Interval <= 0 {
		return fmt.Errorf("bucket interval must be positive, got %s", q.Interval)
	}
	if q.Stop.Before(q.Start) {
		return fmt.Errorf("window stop %s before start %s", q.Stop, q.Start)
	}
	if len(q.Fields) == 0 {
		return errors.New("no fields requested")
	}
	for _, f := range q.Fields {
		if !ValidField(f) {
			return fmt.Errorf("invalid field: %s", f)
		}
	}
	return nil
}
