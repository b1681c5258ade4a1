package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore reads telemetry from an embedded SQLite database. Time is stored
// as INTEGER Unix nanoseconds. Used for local development and tests.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// OpenSQLite opens or creates a SQLite database at the given path.
func OpenSQLite(path, measurement string) (*SQLiteStore, error) {
	if !ValidIdentifier(measurement) {
		return nil, fmt.Errorf("invalid measurement name: %q", measurement)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &SQLiteStore{db: db, table: measurement}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return s, nil
}

// DB returns the underlying database handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return queryErr("ping", s.db.PingContext(ctx))
}

// createSchema creates the telemetry table and indices.
func (s *SQLiteStore) createSchema() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		time            INTEGER NOT NULL,
		username        TEXT NOT NULL,
		flight_id       TEXT NOT NULL,
		vario_altitude  REAL,
		gps_speed       REAL,
		gps_heading     REAL,
		vario_speed     REAL,
		gps_longitude   REAL,
		gps_latitude    REAL
	);

	CREATE INDEX IF NOT EXISTS idx_%[1]s_flight ON %[1]s(username, flight_id, time);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_user_time ON %[1]s(username, time);
	`, s.table)

	_, err := s.db.Exec(schema)
	return err
}

// TagValues returns distinct tag values in ascending order.
func (s *SQLiteStore) TagValues(ctx context.Context, key, username string) ([]string, error) {
	if !validTag(key) {
		return nil, queryErr("tag_values", fmt.Errorf("invalid tag key: %s", key))
	}

	var rows *sql.Rows
	var err error
	if key == TagUsername {
		rows, err = s.db.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT username FROM %s ORDER BY username", s.table))
	} else {
		rows, err = s.db.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT flight_id FROM %s WHERE username = ? ORDER BY flight_id", s.table), username)
	}
	if err != nil {
		return nil, queryErr("tag_values", err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, queryErr("tag_values", fmt.Errorf("scan tag value: %w", err))
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr("tag_values", fmt.Errorf("iterate tag values: %w", err))
	}
	return values, nil
}

// FlightBound returns the first or last point time of a flight.
func (s *SQLiteStore) FlightBound(ctx context.Context, username, flightID string, last bool) (*time.Time, error) {
	direction := "ASC"
	if last {
		direction = "DESC"
	}
	query := fmt.Sprintf("SELECT time FROM %s WHERE username = ? AND flight_id = ? ORDER BY time %s LIMIT 1", s.table, direction)

	var ns int64
	err := s.db.QueryRowContext(ctx, query, username, flightID).Scan(&ns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, queryErr("flight_bound", err)
	}
	t := time.Unix(0, ns).UTC()
	return &t, nil
}

// LatestValue returns the newest non-null value of field for username.
func (s *SQLiteStore) LatestValue(ctx context.Context, username, field string) (*Sample, error) {
	if !ValidField(field) {
		return nil, queryErr("latest_value", fmt.Errorf("invalid field: %s", field))
	}
	query := fmt.Sprintf("SELECT time, %s FROM %s WHERE username = ? AND %s IS NOT NULL ORDER BY time DESC LIMIT 1",
		field, s.table, field)

	var ns int64
	var v float64
	err := s.db.QueryRowContext(ctx, query, username).Scan(&ns, &v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, queryErr("latest_value", err)
	}
	return &Sample{Field: field, Value: v, Time: time.Unix(0, ns).UTC()}, nil
}

// BucketMeans averages each field per bucket in SQL.
func (s *SQLiteStore) BucketMeans(ctx context.Context, q BucketQuery) ([]Bucket, error) {
	if err := q.validate(); err != nil {
		return nil, queryErr("bucket_means", err)
	}

	// Multi-argument MIN is SQLite's scalar minimum.
	query := fmt.Sprintf(`SELECT MIN((time - ?) / ?, ?) AS bucket, %s
		FROM %s
		WHERE username = ? AND flight_id = ? AND time >= ? AND time <= ?
		GROUP BY bucket
		ORDER BY bucket`, meanList("AVG", q.Fields), s.table)

	start, stop := q.Start.UnixNano(), q.Stop.UnixNano()
	rows, err := s.db.QueryContext(ctx, query,
		start, q.Interval.Nanoseconds(), lastBucket(q),
		q.Username, q.FlightID, start, stop)
	if err != nil {
		return nil, queryErr("bucket_means", err)
	}
	defer rows.Close()

	buckets := []Bucket{}
	for rows.Next() {
		var index int64
		means, dests := meanDests(len(q.Fields))
		if err := rows.Scan(append([]any{&index}, dests...)...); err != nil {
			return nil, queryErr("bucket_means", fmt.Errorf("scan bucket: %w", err))
		}
		buckets = append(buckets, newBucket(index, q.Fields, means))
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr("bucket_means", fmt.Errorf("iterate buckets: %w", err))
	}
	return buckets, nil
}
