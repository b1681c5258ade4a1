package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	Measurement string
}

// PostgresStore reads telemetry from a PostgreSQL (or TimescaleDB) table.
// Timestamps are TIMESTAMPTZ and therefore microsecond resolution.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// OpenPostgres opens a connection pool to PostgreSQL.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Test the connection.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool, table: cfg.Measurement}, nil
}

// Close closes the PostgreSQL connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return queryErr("ping", s.pool.Ping(ctx))
}

// CreateSchema creates the telemetry table if it does not exist.
func (s *PostgresStore) CreateSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		time            TIMESTAMPTZ NOT NULL,
		username        TEXT NOT NULL,
		flight_id       TEXT NOT NULL,
		vario_altitude  DOUBLE PRECISION,
		gps_speed       DOUBLE PRECISION,
		gps_heading     DOUBLE PRECISION,
		vario_speed     DOUBLE PRECISION,
		gps_longitude   DOUBLE PRECISION,
		gps_latitude    DOUBLE PRECISION
	);

	CREATE INDEX IF NOT EXISTS idx_%[1]s_flight ON %[1]s(username, flight_id, time);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_user_time ON %[1]s(username, time DESC);
	`, s.table)

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// TagValues returns distinct tag values in ascending order.
func (s *PostgresStore) TagValues(ctx context.Context, key, username string) ([]string, error) {
	if !validTag(key) {
		return nil, queryErr("tag_values", fmt.Errorf("invalid tag key: %s", key))
	}

	var rows pgx.Rows
	var err error
	if key == TagUsername {
		rows, err = s.pool.Query(ctx, fmt.Sprintf("SELECT DISTINCT username FROM %s ORDER BY username", s.table))
	} else {
		rows, err = s.pool.Query(ctx, fmt.Sprintf("SELECT DISTINCT flight_id FROM %s WHERE username = $1 ORDER BY flight_id", s.table), username)
	}
	if err != nil {
		return nil, queryErr("tag_values", err)
	}

	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, queryErr("tag_values", fmt.Errorf("collect tag values: %w", err))
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

// FlightBound returns the first or last point time of a flight.
func (s *PostgresStore) FlightBound(ctx context.Context, username, flightID string, last bool) (*time.Time, error) {
	direction := "ASC"
	if last {
		direction = "DESC"
	}
	query := fmt.Sprintf("SELECT time FROM %s WHERE username = $1 AND flight_id = $2 ORDER BY time %s LIMIT 1", s.table, direction)

	var t time.Time
	err := s.pool.QueryRow(ctx, query, username, flightID).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, queryErr("flight_bound", err)
	}
	return &t, nil
}

// LatestValue returns the newest non-null value of field for username.
func (s *PostgresStore) LatestValue(ctx context.Context, username, field string) (*Sample, error) {
	if !ValidField(field) {
		return nil, queryErr("latest_value", fmt.Errorf("invalid field: %s", field))
	}
	query := fmt.Sprintf("SELECT time, %s FROM %s WHERE username = $1 AND %s IS NOT NULL ORDER BY time DESC LIMIT 1",
		field, s.table, field)

	var t time.Time
	var v float64
	err := s.pool.QueryRow(ctx, query, username).Scan(&t, &v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, queryErr("latest_value", err)
	}
	return &Sample{Field: field, Value: v, Time: t}, nil
}

// BucketMeans averages each field per bucket on the server.
func (s *PostgresStore) BucketMeans(ctx context.Context, q BucketQuery) ([]Bucket, error) {
	if err := q.validate(); err != nil {
		return nil, queryErr("bucket_means", err)
	}

	query := fmt.Sprintf(`SELECT LEAST(((EXTRACT(EPOCH FROM time) * 1000000)::bigint * 1000 - $1::bigint) / $2::bigint, $3::bigint) AS bucket, %s
		FROM %s
		WHERE username = $4 AND flight_id = $5 AND time >= $6 AND time <= $7
		GROUP BY bucket
		ORDER BY bucket`, meanList("avg", q.Fields), s.table)

	rows, err := s.pool.Query(ctx, query,
		q.Start.UnixNano(), q.Interval.Nanoseconds(), lastBucket(q),
		q.Username, q.FlightID, q.Start, q.Stop)
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
