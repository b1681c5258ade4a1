package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"telemetry_read/internal/telemetry"
)

// userQuery holds the parameters of /now and /listFlights.
type userQuery struct {
	Username string `validate:"required,alpha"`
}

// pointsQuery holds the parameters of /points.
type pointsQuery struct {
	Username string `validate:"required,alpha"`
	FlightID string `validate:"omitempty,number"`
}

// username validates the username query parameter. Only ASCII letters are
// accepted; this check runs before any store query is composed.
func (s *Server) username(r *http.Request) (string, bool) {
	q := userQuery{Username: r.URL.Query().Get("username")}
	if err := s.validate.Struct(&q); err != nil {
		return "", false
	}
	return q.Username, true
}

func (s *Server) handleNow(w http.ResponseWriter, r *http.Request) {
	username, ok := s.username(r)
	if !ok {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	now, err := s.svc.Now(r.Context(), username)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, now)
}

func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	q := pointsQuery{
		Username: r.URL.Query().Get("username"),
		FlightID: r.URL.Query().Get("flightId"),
	}
	if err := s.validate.Struct(&q); err != nil {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	// number admits ids beyond int64.
	if q.FlightID != "" {
		if _, ok := telemetry.ParseFlightID(q.FlightID); !ok {
			writeStatus(w, http.StatusBadRequest)
			return
		}
	}

	points, err := s.svc.Points(r.Context(), q.Username, q.FlightID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleListFlights(w http.ResponseWriter, r *http.Request) {
	username, ok := s.username(r)
	if !ok {
		writeStatus(w, http.StatusBadRequest)
		return
	}

	flights, err := s.svc.Flights(r.Context(), username)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flights)
}

func (s *Server) handleListUsernames(w http.ResponseWriter, r *http.Request) {
	usernames, err := s.svc.Usernames(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usernames)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("store ping failed")
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// fail logs a store failure and replies 500 without a body. No partial data
// is ever returned.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error().Err(err).
		Str("path", r.URL.Path).
		Str("query", r.URL.RawQuery).
		Msg("query failed")
	writeStatus(w, http.StatusInternalServerError)
}

// Helper functions.

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeStatus(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
}
