package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	Measurement string
}

// ClickHouseStore reads telemetry from a ClickHouse MergeTree table.
type ClickHouseStore struct {
	conn  driver.Conn
	table string
}

// OpenClickHouse opens a connection to ClickHouse.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	// Test the connection.
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouseStore{conn: conn, table: cfg.Measurement}, nil
}

// Close closes the ClickHouse connection.
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

// Ping checks the connection.
func (s *ClickHouseStore) Ping(ctx context.Context) error {
	return queryErr("ping", s.conn.Ping(ctx))
}

// CreateSchema creates the telemetry table if it does not exist. The read
// service never calls it; the writer owns the table in production.
func (s *ClickHouseStore) CreateSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		time            DateTime64(9),
		username        LowCardinality(String),
		flight_id       LowCardinality(String),
		vario_altitude  Nullable(Float64),
		gps_speed       Nullable(Float64),
		gps_heading     Nullable(Float64),
		vario_speed     Nullable(Float64),
		gps_longitude   Nullable(Float64),
		gps_latitude    Nullable(Float64)
	)
	ENGINE = MergeTree()
	PARTITION BY toYYYYMM(time)
	ORDER BY (username, flight_id, time)`, s.table)
	if err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// TagValues returns distinct tag values in ascending order.
func (s *ClickHouseStore) TagValues(ctx context.Context, key, username string) ([]string, error) {
	if !validTag(key) {
		return nil, queryErr("tag_values", fmt.Errorf("invalid tag key: %s", key))
	}

	var query string
	var args []interface{}
	if key == TagUsername {
		query = fmt.Sprintf("SELECT DISTINCT username FROM %s ORDER BY username", s.table)
	} else {
		query = fmt.Sprintf("SELECT DISTINCT flight_id FROM %s WHERE username = ? ORDER BY flight_id", s.table)
		args = append(args, username)
	}

	rows, err := s.conn.Query(ctx, query, args...)
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
func (s *ClickHouseStore) FlightBound(ctx context.Context, username, flightID string, last bool) (*time.Time, error) {
	direction := "ASC"
	if last {
		direction = "DESC"
	}
	query := fmt.Sprintf("SELECT time FROM %s WHERE username = ? AND flight_id = ? ORDER BY time %s LIMIT 1", s.table, direction)

	rows, err := s.conn.Query(ctx, query, username, flightID)
	if err != nil {
		return nil, queryErr("flight_bound", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, queryErr("flight_bound", err)
		}
		return nil, nil
	}
	var t time.Time
	if err := rows.Scan(&t); err != nil {
		return nil, queryErr("flight_bound", fmt.Errorf("scan time: %w", err))
	}
	return &t, nil
}

// LatestValue returns the newest non-null value of field for username.
func (s *ClickHouseStore) LatestValue(ctx context.Context, username, field string) (*Sample, error) {
	if !ValidField(field) {
		return nil, queryErr("latest_value", fmt.Errorf("invalid field: %s", field))
	}
	query := fmt.Sprintf("SELECT time, %s FROM %s WHERE username = ? AND %s IS NOT NULL ORDER BY time DESC LIMIT 1",
		field, s.table, field)

	rows, err := s.conn.Query(ctx, query, username)
	if err != nil {
		return nil, queryErr("latest_value", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, queryErr("latest_value", err)
		}
		return nil, nil
	}
	var t time.Time
	var v *float64
	if err := rows.Scan(&t, &v); err != nil {
		return nil, queryErr("latest_value", fmt.Errorf("scan value: %w", err))
	}
	if v == nil {
		return nil, nil
	}
	return &Sample{Field: field, Value: *v, Time: t}, nil
}

// BucketMeans averages each field per bucket on the server.
func (s *ClickHouseStore) BucketMeans(ctx context.Context, q BucketQuery) ([]Bucket, error) {
	if err := q.validate(); err != nil {
		return nil, queryErr("bucket_means", err)
	}

	query := fmt.Sprintf(`SELECT toInt64(least(intDiv(toUnixTimestamp64Nano(time) - ?, ?), ?)) AS bucket, %s
		FROM %s
		WHERE username = ? AND flight_id = ?
			AND toUnixTimestamp64Nano(time) >= ? AND toUnixTimestamp64Nano(time) <= ?
		GROUP BY bucket
		ORDER BY bucket`, meanList("avg", q.Fields), s.table)

	start, stop := q.Start.UnixNano(), q.Stop.UnixNano()
	rows, err := s.conn.Query(ctx, query,
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
