package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/influxdata/influxdb1-client/models"
	client "github.com/influxdata/influxdb1-client/v2"
)

// InfluxConfig holds InfluxDB 1.x connection settings.
type InfluxConfig struct {
	Addr        string // e.g. http://localhost:8086
	Database    string
	User        string
	Password    string
	Measurement string
}

// InfluxStore reads telemetry from an InfluxDB 1.x measurement. Tags and
// fields are the ones the recorder writes: username and flight_id tags, one
// float field per sensor value.
type InfluxStore struct {
	c           client.Client
	database    string
	measurement string
}

// queryCtxer is implemented by the HTTP client; Query alone cannot be
// canceled.
type queryCtxer interface {
	QueryCtx(ctx context.Context, q client.Query) (*client.Response, error)
}

// OpenInflux creates an HTTP client for InfluxDB and pings the server.
func OpenInflux(ctx context.Context, cfg InfluxConfig) (*InfluxStore, error) {
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     cfg.Addr,
		Username: cfg.User,
		Password: cfg.Password,
		Timeout:  60 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open influx: %w", err)
	}

	s := &InfluxStore{c: c, database: cfg.Database, measurement: cfg.Measurement}
	if err := s.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping influx: %w", err)
	}
	return s, nil
}

// Close releases idle HTTP connections.
func (s *InfluxStore) Close() error {
	return s.c.Close()
}

// Ping checks that the server answers.
func (s *InfluxStore) Ping(ctx context.Context) error {
	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return queryErr("ping", context.DeadlineExceeded)
		}
	}
	_, _, err := s.c.Ping(timeout)
	return queryErr("ping", err)
}

// query runs one InfluxQL statement with bound parameters and returns the
// series of its first result. Times come back as integer nanoseconds.
func (s *InfluxStore) query(ctx context.Context, op, command string, params map[string]interface{}) ([]models.Row, error) {
	q := client.NewQueryWithParameters(command, s.database, "ns", params)

	var resp *client.Response
	var err error
	if qc, ok := s.c.(queryCtxer); ok {
		resp, err = qc.QueryCtx(ctx, q)
	} else {
		resp, err = s.c.Query(q)
	}
	if err != nil {
		return nil, queryErr(op, err)
	}
	if err := resp.Error(); err != nil {
		return nil, queryErr(op, err)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return resp.Results[0].Series, nil
}

// TagValues returns distinct tag values in the order InfluxDB reports them
// (ascending).
func (s *InfluxStore) TagValues(ctx context.Context, key, username string) ([]string, error) {
	if !validTag(key) {
		return nil, queryErr("tag_values", fmt.Errorf("invalid tag key: %s", key))
	}

	command := fmt.Sprintf(`SHOW TAG VALUES FROM %q WITH KEY = %q`, s.measurement, key)
	var params map[string]interface{}
	if key == TagFlightID {
		command += ` WHERE "username" = $username`
		params = map[string]interface{}{"username": username}
	}

	series, err := s.query(ctx, "tag_values", command, params)
	if err != nil {
		return nil, err
	}

	values := []string{}
	for _, row := range series {
		col := columnIndex(row, "value")
		if col < 0 {
			continue
		}
		for _, v := range row.Values {
			if str, ok := v[col].(string); ok {
				values = append(values, str)
			}
		}
	}
	return values, nil
}

// FlightBound returns the first or last point time of a flight.
func (s *InfluxStore) FlightBound(ctx context.Context, username, flightID string, last bool) (*time.Time, error) {
	direction := "ASC"
	if last {
		direction = "DESC"
	}
	command := fmt.Sprintf(`SELECT * FROM %q WHERE "username" = $username AND "flight_id" = $flight_id ORDER BY time %s LIMIT 1`,
		s.measurement, direction)

	series, err := s.query(ctx, "flight_bound", command, map[string]interface{}{
		"username":  username,
		"flight_id": flightID,
	})
	if err != nil {
		return nil, err
	}
	if len(series) == 0 || len(series[0].Values) == 0 {
		return nil, nil
	}

	ns, ok := toInt(series[0].Values[0][0])
	if !ok {
		return nil, queryErr("flight_bound", fmt.Errorf("unexpected time value %v", series[0].Values[0][0]))
	}
	t := time.Unix(0, ns).UTC()
	return &t, nil
}

// LatestValue returns the newest value of field for username. Selecting a
// single field skips points where it is absent.
func (s *InfluxStore) LatestValue(ctx context.Context, username, field string) (*Sample, error) {
	if !ValidField(field) {
		return nil, queryErr("latest_value", fmt.Errorf("invalid field: %s", field))
	}
	command := fmt.Sprintf(`SELECT %q FROM %q WHERE "username" = $username ORDER BY time DESC LIMIT 1`,
		field, s.measurement)

	series, err := s.query(ctx, "latest_value", command, map[string]interface{}{"username": username})
	if err != nil {
		return nil, err
	}
	if len(series) == 0 || len(series[0].Values) == 0 {
		return nil, nil
	}

	row := series[0].Values[0]
	if len(row) < 2 {
		return nil, nil
	}
	ns, ok := toInt(row[0])
	if !ok {
		return nil, queryErr("latest_value", fmt.Errorf("unexpected time value %v", row[0]))
	}
	v, ok := toFloat(row[1])
	if !ok {
		return nil, nil
	}
	return &Sample{Field: field, Value: v, Time: time.Unix(0, ns).UTC()}, nil
}

// BucketMeans groups on the server with GROUP BY time, offset so that bucket
// boundaries fall on q.Start. It fetches sums and counts rather than means so
// that a trailing bucket past the last boundary can be folded into the last
// bucket exactly.
func (s *InfluxStore) BucketMeans(ctx context.Context, q BucketQuery) ([]Bucket, error) {
	if err := q.validate(); err != nil {
		return nil, queryErr("bucket_means", err)
	}

	selects := ""
	for i, f := range q.Fields {
		if i > 0 {
			selects += ", "
		}
		selects += fmt.Sprintf(`sum(%[1]q) AS "sum_%[1]s", count(%[1]q) AS "count_%[1]s"`, f)
	}

	start, stop := q.Start.UnixNano(), q.Stop.UnixNano()
	interval := q.Interval.Nanoseconds()
	offset := ((start % interval) + interval) % interval
	command := fmt.Sprintf(`SELECT %s FROM %q
		WHERE "username" = $username AND "flight_id" = $flight_id AND time >= %d AND time <= %d
		GROUP BY time(%dns, %dns) fill(none)`,
		selects, s.measurement, start, stop, interval, offset)

	series, err := s.query(ctx, "bucket_means", command, map[string]interface{}{
		"username":  q.Username,
		"flight_id": q.FlightID,
	})
	if err != nil {
		return nil, err
	}

	type acc struct {
		sum []float64
		n   []int64
	}
	accs := map[int]*acc{}
	last := int(lastBucket(q))
	for _, row := range series {
		timeCol := columnIndex(row, "time")
		if timeCol < 0 {
			continue
		}
		sumCols := make([]int, len(q.Fields))
		countCols := make([]int, len(q.Fields))
		for i, f := range q.Fields {
			sumCols[i] = columnIndex(row, "sum_"+f)
			countCols[i] = columnIndex(row, "count_"+f)
		}

		for _, values := range row.Values {
			ns, ok := toInt(values[timeCol])
			if !ok {
				return nil, queryErr("bucket_means", fmt.Errorf("unexpected time value %v", values[timeCol]))
			}
			idx := int((ns - start) / interval)
			if idx < 0 {
				continue
			}
			if idx > last {
				idx = last
			}
			a := accs[idx]
			if a == nil {
				a = &acc{sum: make([]float64, len(q.Fields)), n: make([]int64, len(q.Fields))}
				accs[idx] = a
			}
			for i := range q.Fields {
				if sumCols[i] < 0 || countCols[i] < 0 {
					continue
				}
				n, ok := toInt(values[countCols[i]])
				if !ok || n == 0 {
					continue
				}
				sum, ok := toFloat(values[sumCols[i]])
				if !ok {
					continue
				}
				a.sum[i] += sum
				a.n[i] += n
			}
		}
	}

	indexes := make([]int, 0, len(accs))
	for idx := range accs {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	buckets := []Bucket{}
	for _, idx := range indexes {
		a := accs[idx]
		means := make([]*float64, len(q.Fields))
		for i := range q.Fields {
			if a.n[i] > 0 {
				m := a.sum[i] / float64(a.n[i])
				means[i] = &m
			}
		}
		buckets = append(buckets, newBucket(int64(idx), q.Fields, means))
	}
	return buckets, nil
}

func columnIndex(row models.Row, name string) int {
	for i, c := range row.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// toInt accepts the json.Number values the client decodes with UseNumber.
func toInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
