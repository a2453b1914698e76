package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	redisclient "github.com/hackgods/consultation-scheduling/internal/redis"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// parseDate reads YYYY-MM-DD in loc. An empty value means today.
func parseDate(raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		y, m, d := time.Now().In(loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	}
	return time.ParseInLocation(time.DateOnly, raw, loc)
}

// parseWeekday accepts 0-6 (Sunday first) or an English day name.
func parseWeekday(raw string) (time.Weekday, bool) {
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 || n > 6 {
			return 0, false
		}
		return time.Weekday(n), true
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.EqualFold(raw, wd.String()) || strings.EqualFold(raw, wd.String()[:3]) {
			return wd, true
		}
	}
	return 0, false
}

// handleServiceError maps engine errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrNoAvailability):
		writeError(w, http.StatusUnprocessableEntity, "no_availability", err.Error())
	case errors.Is(err, appointment.ErrNoSlotAvailable):
		writeError(w, http.StatusConflict, "no_slot_available", err.Error())
	case errors.Is(err, appointment.ErrInvalidDuration),
		errors.Is(err, appointment.ErrInvalidWindow),
		errors.Is(err, appointment.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "queue_busy", "provider queue is being updated, please retry shortly")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
