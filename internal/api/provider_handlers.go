package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
)

func createProviderHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateProviderRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		p, err := svc.CreateProvider(r.Context(), req.Name, req.Specialty)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, ProviderResponse{
			ID:        p.ID,
			Name:      p.Name,
			Specialty: p.Specialty,
			CreatedAt: p.CreatedAt,
		})
	}
}

func getProviderHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		p, err := svc.GetProvider(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, ProviderResponse{
			ID:        p.ID,
			Name:      p.Name,
			Specialty: p.Specialty,
			CreatedAt: p.CreatedAt,
		})
	}
}

func findSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		date, err := parseDate(r.URL.Query().Get("date"), svc.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		var duration *int
		if raw := r.URL.Query().Get("duration"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be an integer number of minutes")
				return
			}
			duration = &n
		}

		slot, dur, err := svc.FindSlot(r.Context(), id, date, duration)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotResponse{
			ProviderID:      id,
			Start:           slot,
			End:             slot.Add(time.Duration(dur) * time.Minute),
			DurationMinutes: dur,
		})
	}
}

func queueHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		date, err := parseDate(r.URL.Query().Get("date"), svc.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		queue, err := svc.Queue(r.Context(), id, date)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := QueueResponse{
			ProviderID:   id,
			Date:         date.Format(time.DateOnly),
			Appointments: make([]AppointmentResponse, 0, len(queue)),
		}
		for i := range queue {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(&queue[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func rebalanceHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		date, err := parseDate(r.URL.Query().Get("date"), svc.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		entries, err := svc.Rebalance(r.Context(), id, date)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := RebalanceResponse{
			ProviderID: id,
			Date:       date.Format(time.DateOnly),
			Queue:      make([]QueueEntryResponse, 0, len(entries)),
		}
		for _, e := range entries {
			resp.Queue = append(resp.Queue, QueueEntryResponse{
				AppointmentID:     e.AppointmentID,
				QueuePosition:     e.QueuePosition,
				EstimatedWaitTime: e.EstimatedWaitTime,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listAvailabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		windows, err := svc.ListAvailability(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := make([]AvailabilityResponse, 0, len(windows))
		for _, win := range windows {
			resp = append(resp, toAvailabilityResponse(win))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func putAvailabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		weekday, ok := parseWeekday(chi.URLParam(r, "weekday"))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_weekday", "weekday must be 0-6 or a day name")
			return
		}

		var req AvailabilityRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		start, err := appointment.ParseClock(req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be HH:MM")
			return
		}
		end, err := appointment.ParseClock(req.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end", "end must be HH:MM")
			return
		}

		win := appointment.AvailabilityWindow{
			ProviderID: id,
			Weekday:    weekday,
			Start:      start,
			End:        end,
			Enabled:    req.Enabled == nil || *req.Enabled,
		}
		if err := svc.SetAvailability(r.Context(), win); err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAvailabilityResponse(win))
	}
}

func statsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		st, err := svc.Stats(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, StatsResponse{
			ProviderID:              st.ProviderID,
			AvgConsultationDuration: st.AvgConsultationDuration,
			CompletedCount:          st.CompletedCount,
		})
	}
}
