package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"telemetry_read/internal/storage"
)

// Flight is one entry of a user's flight list.
type Flight struct {
	FlightID int64   `json:"flight_id"`
	Start    float64 `json:"start"`
}

// Window is the time span of a flight. Both bounds are zero when the flight
// has no points.
type Window struct {
	Start time.Time
	Stop  time.Time
}

// Empty reports whether the window holds no points.
func (w Window) Empty() bool {
	return w.Start.IsZero() || w.Stop.IsZero() || w.Stop.Before(w.Start)
}

// StartSeconds returns the start as Unix seconds, 0.0 when empty.
func (w Window) StartSeconds() float64 {
	return seconds(w.Start)
}

// StopSeconds returns the stop as Unix seconds, 0.0 when empty.
func (w Window) StopSeconds() float64 {
	return seconds(w.Stop)
}

// FlightTag is a flight_id tag as stored next to its numeric value. Tags are
// queried verbatim so that non-canonical spellings such as "007" still match.
type FlightTag struct {
	ID  int64
	Tag string
}

// FlightTags returns the flight tags recorded for username, in store order.
// Tag values that are not decimal integers are skipped.
func (s *Service) FlightTags(ctx context.Context, username string) ([]FlightTag, error) {
	values, err := s.store.TagValues(ctx, storage.TagFlightID, username)
	if err != nil {
		return nil, err
	}

	tags := make([]FlightTag, 0, len(values))
	for _, v := range values {
		id, ok := ParseFlightID(v)
		if !ok {
			s.log.Warn().Str("username", username).Str("flight_id", v).Msg("skipping non-numeric flight id")
			continue
		}
		tags = append(tags, FlightTag{ID: id, Tag: v})
	}
	return tags, nil
}

// FlightIDs returns the numeric flight ids recorded for username, in store
// order.
func (s *Service) FlightIDs(ctx context.Context, username string) ([]int64, error) {
	tags, err := s.FlightTags(ctx, username)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(tags))
	for i, t := range tags {
		ids[i] = t.ID
	}
	return ids, nil
}

// Start returns the time of the first point of a flight, 0.0 if none.
func (s *Service) Start(ctx context.Context, username, flightTag string) (float64, error) {
	t, err := s.bound(ctx, username, flightTag, false)
	if err != nil {
		return 0, err
	}
	return seconds(t), nil
}

// Stop returns the time of the last point of a flight, 0.0 if none.
func (s *Service) Stop(ctx context.Context, username, flightTag string) (float64, error) {
	t, err := s.bound(ctx, username, flightTag, true)
	if err != nil {
		return 0, err
	}
	return seconds(t), nil
}

func (s *Service) bound(ctx context.Context, username, flightTag string, last bool) (time.Time, error) {
	t, err := s.store.FlightBound(ctx, username, flightTag, last)
	if err != nil {
		return time.Time{}, err
	}
	if t == nil {
		return time.Time{}, nil
	}
	return *t, nil
}

// Window returns the start and stop of a flight.
func (s *Service) Window(ctx context.Context, username, flightTag string) (Window, error) {
	var w Window
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := s.bound(gctx, username, flightTag, false)
		w.Start = t
		return err
	})
	g.Go(func() error {
		t, err := s.bound(gctx, username, flightTag, true)
		w.Stop = t
		return err
	})
	if err := g.Wait(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// Flights lists every flight of username with its start time, in the order
// the store returned the ids. Start lookups run concurrently; any failure
// fails the whole list.
func (s *Service) Flights(ctx context.Context, username string) ([]Flight, error) {
	tags, err := s.FlightTags(ctx, username)
	if err != nil {
		return nil, err
	}

	flights := make([]Flight, len(tags))
	g, gctx := errgroup.WithContext(ctx)
	for i, ft := range tags {
		g.Go(func() error {
			start, err := s.Start(gctx, username, ft.Tag)
			if err != nil {
				return err
			}
			flights[i] = Flight{FlightID: ft.ID, Start: start}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return flights, nil
}

// ResolveFlightID returns the explicit flight when one is given, otherwise
// the flight with the highest numeric id of username. The highest id is not
// necessarily the flight that started last. An explicit value is queried as
// given. ok is false when no id is given and none is known.
func (s *Service) ResolveFlightID(ctx context.Context, username, explicit string) (flight FlightTag, ok bool, err error) {
	if explicit != "" {
		id, valid := ParseFlightID(explicit)
		if !valid {
			return FlightTag{}, false, fmt.Errorf("%w: %q", ErrInvalidFlightID, explicit)
		}
		return FlightTag{ID: id, Tag: explicit}, true, nil
	}

	tags, err := s.FlightTags(ctx, username)
	if err != nil {
		return FlightTag{}, false, err
	}
	if len(tags) == 0 {
		return FlightTag{}, false, nil
	}

	flight = tags[0]
	for _, t := range tags[1:] {
		if t.ID > flight.ID {
			flight = t
		}
	}
	return flight, true, nil
}

// ErrInvalidFlightID is returned for a flight id that is not a decimal
// integer in int64 range.
var ErrInvalidFlightID = errors.New("invalid flight id")

// ParseFlightID parses a decimal flight id. Signs and other characters are
// rejected.
func ParseFlightID(v string) (int64, bool) {
	if v == "" {
		return 0, false
	}
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
