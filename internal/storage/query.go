package storage

import (
	"strings"
)

// meanList renders "avg(a), avg(b), ..." for the requested fields. Fields must
// have been checked with ValidField.
func meanList(fn string, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fn + "(" + f + ")"
	}
	return strings.Join(parts, ", ")
}

// newBucket builds a Bucket from one scanned row. means is ordered like fields.
func newBucket(index int64, fields []string, means []*float64) Bucket {
	b := Bucket{Index: int(index), Means: make(map[string]*float64, len(fields))}
	for i, f := range fields {
		b.Means[f] = means[i]
	}
	return b
}

// meanDests returns scan destinations for nullable means.
func meanDests(n int) ([]*float64, []any) {
	means := make([]*float64, n)
	dests := make([]any, n)
	for i := range means {
		dests[i] = &means[i]
	}
	return means, dests
}

// lastBucket clamps the bucket index expression to the final bucket.
func lastBucket(q BucketQuery) int64 {
	return int64(q.Count - 1)
}
