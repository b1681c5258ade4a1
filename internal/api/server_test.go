package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"telemetry_read/internal/storage"
	"telemetry_read/internal/storage/storagetest"
	"telemetry_read/internal/telemetry"
)

func newTestServer(t *testing.T, store *storagetest.Store) http.Handler {
	t.Helper()
	svc := telemetry.NewService(store, zerolog.Nop())
	return NewServer(svc, store, zerolog.Nop(), Config{
		RequestTimeout: 5 * time.Second,
		Metrics:        true,
	}).Router()
}

func fixture() *storagetest.Store {
	store := storagetest.New()
	base := time.Unix(1608369593, 0)
	store.Add(
		storagetest.Point{Time: base, Username: "bob", FlightID: "1", Fields: map[string]float64{
			storage.FieldVarioAltitude: 1000, storage.FieldGPSSpeed: 10,
		}},
		storagetest.Point{Time: base.Add(2 * time.Second), Username: "bob", FlightID: "1", Fields: map[string]float64{
			storage.FieldVarioAltitude: 1020, storage.FieldGPSSpeed: 12,
		}},
		storagetest.Point{Time: base.Add(time.Hour), Username: "bob", FlightID: "2", Fields: map[string]float64{
			storage.FieldGPSLatitude: 46.5, storage.FieldGPSLongitude: 7.5,
		}},
		storagetest.Point{Time: base, Username: "alice", FlightID: "1", Fields: map[string]float64{
			storage.FieldVarioSpeed: -1,
		}},
	)
	return store
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeKeys(t *testing.T, body []byte) []string {
	t.Helper()
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var wantKeys = []string{"altitude", "climb", "heading", "latitude", "longitude", "speed", "time"}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestInvalidUsernamesRejectedBeforeQuerying(t *testing.T) {
	usernames := []string{
		"",
		"bob1",
		"123",
		"bob'",
		`bob"`,
		"bob OR 1=1",
		"bob;DROP",
		"bob_smith",
		"bøb",
	}
	paths := []string{"/now", "/points", "/listFlights"}

	for _, path := range paths {
		for _, username := range usernames {
			t.Run(path+"/"+username, func(t *testing.T) {
				store := fixture()
				h := newTestServer(t, store)

				w := get(t, h, path+"?username="+url.QueryEscape(username))
				if w.Code != http.StatusBadRequest {
					t.Errorf("expected 400, got %d", w.Code)
				}
				if store.TotalCalls() != 0 {
					t.Errorf("expected no store queries, got %d", store.TotalCalls())
				}
			})
		}
	}
}

func TestMissingUsernameRejected(t *testing.T) {
	store := fixture()
	w := get(t, newTestServer(t, store), "/now")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", w.Body.String())
	}
}

func TestInvalidFlightIDRejected(t *testing.T) {
	for _, id := range []string{"abc", "-1", "1.5", "1 OR 1=1", "99999999999999999999"} {
		t.Run(id, func(t *testing.T) {
			store := fixture()
			w := get(t, newTestServer(t, store), "/points?username=bob&flightId="+url.QueryEscape(id))
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
			if store.TotalCalls() != 0 {
				t.Errorf("expected no store queries, got %d", store.TotalCalls())
			}
		})
	}
}

func TestNow(t *testing.T) {
	w := get(t, newTestServer(t, fixture()), "/now?username=bob")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
	if keys := decodeKeys(t, w.Body.Bytes()); !equalStrings(keys, wantKeys) {
		t.Errorf("keys = %v, want %v", keys, wantKeys)
	}

	var snap struct {
		Altitude *float64 `json:"altitude"`
		Heading  *float64 `json:"heading"`
		Latitude *float64 `json:"latitude"`
		Time     *float64 `json:"time"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Altitude == nil || *snap.Altitude != 1020 {
		t.Errorf("altitude = %v, want 1020", snap.Altitude)
	}
	if snap.Latitude == nil || *snap.Latitude != 46.5 {
		t.Errorf("latitude = %v, want 46.5", snap.Latitude)
	}
	if snap.Heading != nil {
		t.Errorf("expected null heading, got %v", *snap.Heading)
	}
	if snap.Time == nil || *snap.Time != 1608369593+3600 {
		t.Errorf("time = %v, want %v", snap.Time, 1608369593+3600)
	}
}

func TestNowUnknownUserReturnsNulls(t *testing.T) {
	w := get(t, newTestServer(t, fixture()), "/now?username=nobody")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(m) != len(wantKeys) {
		t.Fatalf("expected %d keys, got %v", len(wantKeys), m)
	}
	for k, v := range m {
		if v != nil {
			t.Errorf("%s = %v, want null", k, v)
		}
	}
}

func TestPoints(t *testing.T) {
	h := newTestServer(t, fixture())

	w := get(t, h, "/points?username=bob&flightId=1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if keys := decodeKeys(t, w.Body.Bytes()); !equalStrings(keys, wantKeys) {
		t.Errorf("keys = %v, want %v", keys, wantKeys)
	}

	var series telemetry.Series
	if err := json.Unmarshal(w.Body.Bytes(), &series); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(series.Time) != 2 || series.Time[0] != 1608369593 || series.Time[1] != 1608369594 {
		t.Fatalf("unexpected time axis %v", series.Time)
	}
	if series.Altitude[0] == nil || *series.Altitude[0] != 1000 {
		t.Errorf("altitude[0] = %v, want 1000", series.Altitude[0])
	}
	if series.Altitude[1] == nil || *series.Altitude[1] != 1020 {
		t.Errorf("altitude[1] = %v, want 1020", series.Altitude[1])
	}
}

func TestPointsDefaultsToHighestFlight(t *testing.T) {
	w := get(t, newTestServer(t, fixture()), "/points?username=bob")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var series telemetry.Series
	if err := json.Unmarshal(w.Body.Bytes(), &series); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(series.Latitude) != 1 || series.Latitude[0] == nil || *series.Latitude[0] != 46.5 {
		t.Errorf("expected flight 2 data, got %+v", series)
	}
}

func TestPointsWithoutDataReturnsEmptyArrays(t *testing.T) {
	w := get(t, newTestServer(t, fixture()), "/points?username=nobody")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var m map[string][]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, k := range wantKeys {
		v, ok := m[k]
		if !ok || v == nil || len(v) != 0 {
			t.Errorf("%s = %#v, want []", k, v)
		}
	}
}

func TestListFlights(t *testing.T) {
	w := get(t, newTestServer(t, fixture()), "/listFlights?username=bob")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var flights []telemetry.Flight
	if err := json.Unmarshal(w.Body.Bytes(), &flights); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []telemetry.Flight{
		{FlightID: 1, Start: 1608369593},
		{FlightID: 2, Start: 1608369593 + 3600},
	}
	if len(flights) != len(want) || flights[0] != want[0] || flights[1] != want[1] {
		t.Errorf("flights = %+v, want %+v", flights, want)
	}

	w = get(t, newTestServer(t, fixture()), "/listFlights?username=nobody")
	if w.Code != http.StatusOK || w.Body.String() != "[]\n" {
		t.Errorf("expected empty list, got %d %q", w.Code, w.Body.String())
	}
}

func TestPaddedFlightTag(t *testing.T) {
	store := storagetest.New()
	store.Add(
		storagetest.Point{Time: time.Unix(5000, 0), Username: "bob", FlightID: "007", Fields: map[string]float64{storage.FieldGPSSpeed: 3}},
		storagetest.Point{Time: time.Unix(5001, 0), Username: "bob", FlightID: "007", Fields: map[string]float64{storage.FieldGPSSpeed: 5}},
	)
	h := newTestServer(t, store)

	w := get(t, h, "/listFlights?username=bob")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var flights []telemetry.Flight
	if err := json.Unmarshal(w.Body.Bytes(), &flights); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(flights) != 1 || flights[0] != (telemetry.Flight{FlightID: 7, Start: 5000}) {
		t.Errorf("flights = %+v, want [{7 5000}]", flights)
	}

	for _, target := range []string{"/points?username=bob", "/points?username=bob&flightId=007"} {
		w := get(t, h, target)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", target, w.Code)
		}
		var series telemetry.Series
		if err := json.Unmarshal(w.Body.Bytes(), &series); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(series.Speed) != 1 || series.Speed[0] == nil || *series.Speed[0] != 4 {
			t.Errorf("%s: speed = %v, want [4]", target, series.Speed)
		}
	}
}

func TestListUsernames(t *testing.T) {
	w := get(t, newTestServer(t, fixture()), "/listUsernames")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var users []string
	if err := json.Unmarshal(w.Body.Bytes(), &users); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !equalStrings(users, []string{"alice", "bob"}) {
		t.Errorf("users = %v", users)
	}
}

func TestStoreFailureReturns500WithoutBody(t *testing.T) {
	tests := []struct {
		target string
		op     string
	}{
		{"/now?username=bob", "latest_value"},
		{"/points?username=bob", "tag_values"},
		{"/points?username=bob&flightId=1", "bucket_means"},
		{"/listFlights?username=bob", "flight_bound"},
		{"/listUsernames", "tag_values"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			store := fixture()
			store.Err[tt.op] = errors.New("store unreachable")

			w := get(t, newTestServer(t, store), tt.target)
			if w.Code != http.StatusInternalServerError {
				t.Errorf("expected 500, got %d", w.Code)
			}
			if w.Body.Len() != 0 {
				t.Errorf("expected empty body, got %q", w.Body.String())
			}
		})
	}
}

// blockingStore holds TagValues until the request context ends.
type blockingStore struct {
	*storagetest.Store
}

func (b blockingStore) TagValues(ctx context.Context, key, username string) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRequestTimeoutReturns500WithoutBody(t *testing.T) {
	store := blockingStore{Store: fixture()}
	svc := telemetry.NewService(store, zerolog.Nop())
	h := NewServer(svc, store, zerolog.Nop(), Config{RequestTimeout: 20 * time.Millisecond}).Router()

	start := time.Now()
	w := get(t, h, "/listUsernames")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", w.Body.String())
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("request not bounded by timeout: %v", elapsed)
	}
}

// headerCounter counts WriteHeader calls that reach the underlying writer.
type headerCounter struct {
	*httptest.ResponseRecorder
	writes int
}

func (h *headerCounter) WriteHeader(code int) {
	h.writes++
	h.ResponseRecorder.WriteHeader(code)
}

func TestRequestDeadlineWritesNothingItself(t *testing.T) {
	var sawDeadline bool
	h := requestDeadline(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawDeadline = r.Context().Deadline()
		<-r.Context().Done()
		w.WriteHeader(http.StatusInternalServerError)
	}))

	w := &headerCounter{ResponseRecorder: httptest.NewRecorder()}
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/now?username=bob", nil))

	if !sawDeadline {
		t.Error("handler context has no deadline")
	}
	if w.writes != 1 || w.Code != http.StatusInternalServerError {
		t.Errorf("expected a single 500, got %d writes, code %d", w.writes, w.Code)
	}
}

func TestHealth(t *testing.T) {
	store := fixture()
	h := newTestServer(t, store)

	w := get(t, h, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	store.Err["ping"] = errors.New("down")
	w = get(t, h, "/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "unavailable" {
		t.Errorf("status = %q", body["status"])
	}
}

func TestCORS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/listUsernames", nil)
	req.Header.Set("Origin", "https://ballometer.io")
	w := httptest.NewRecorder()
	newTestServer(t, fixture()).ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, fixture())
	_ = get(t, h, "/listUsernames")

	w := get(t, h, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	w := get(t, newTestServer(t, fixture()), "/users")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
