package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}

		subjectID, err := uuid.Parse(req.SubjectID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_subject_id", "subject_id must be a valid UUID")
			return
		}

		date, err := parseDate(req.Date, svc.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		appt, err := svc.Book(r.Context(), appointment.BookingRequest{
			ProviderID:      providerID,
			SubjectID:       subjectID,
			Date:            date,
			DurationMinutes: req.DurationMinutes,
			Symptoms:        req.Symptoms,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func startAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.Start(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		var req CompleteAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		appt, err := svc.Complete(r.Context(), id, req.ActualDurationMinutes)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		var req CancelAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		appt, err := svc.Cancel(r.Context(), id, req.CancelledBy)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func delayAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		var req DelayAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		appt, err := svc.PropagateDelay(r.Context(), id, req.OverrunMinutes)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}
