package telemetry

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// LatestValue is the most recent value of one field. All members are nil when
// the field has no data for the user.
type LatestValue struct {
	Field *string  `json:"field"`
	Value *float64 `json:"value"`
	Time  *float64 `json:"time"`
}

// Empty reports whether v is the no-data sentinel.
func (v LatestValue) Empty() bool {
	return v.Field == nil && v.Value == nil && v.Time == nil
}

// noLatestValue is the single no-data representation for LatestValue.
func noLatestValue() LatestValue {
	return LatestValue{}
}

// Snapshot is the current state of a user: the latest value of every mapped
// field. Time is the newest of the per-field timestamps, so the fields are not
// necessarily from the same instant. Time is nil when no field has data.
type Snapshot struct {
	Altitude  *float64 `json:"altitude"`
	Speed     *float64 `json:"speed"`
	Heading   *float64 `json:"heading"`
	Climb     *float64 `json:"climb"`
	Longitude *float64 `json:"longitude"`
	Latitude  *float64 `json:"latitude"`
	Time      *float64 `json:"time"`
}

func (s *Snapshot) set(public string, v *float64) {
	switch public {
	case "altitude":
		s.Altitude = v
	case "speed":
		s.Speed = v
	case "heading":
		s.Heading = v
	case "climb":
		s.Climb = v
	case "longitude":
		s.Longitude = v
	case "latitude":
		s.Latitude = v
	}
}

// LatestValue returns the newest value of a storage field for username.
func (s *Service) LatestValue(ctx context.Context, username, field string) (LatestValue, error) {
	sample, err := s.store.LatestValue(ctx, username, field)
	if err != nil {
		return LatestValue{}, err
	}
	if sample == nil {
		return noLatestValue(), nil
	}
	name := sample.Field
	value := sample.Value
	t := seconds(sample.Time)
	return LatestValue{Field: &name, Value: &value, Time: &t}, nil
}

// Now fetches the latest value of every mapped field concurrently and merges
// them. A single failed lookup fails the snapshot.
func (s *Service) Now(ctx context.Context, username string) (*Snapshot, error) {
	latest := make([]LatestValue, len(Mappings))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range Mappings {
		g.Go(func() error {
			v, err := s.LatestValue(gctx, username, m.Storage)
			if err != nil {
				return err
			}
			latest[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Values are placed by the field the store reports.
	snap := &Snapshot{}
	for _, v := range latest {
		if v.Empty() {
			continue
		}
		public, ok := publicName(*v.Field)
		if !ok {
			continue
		}
		snap.set(public, v.Value)
		if v.Time != nil && (snap.Time == nil || *v.Time > *snap.Time) {
			t := *v.Time
			snap.Time = &t
		}
	}
	return snap, nil
}
