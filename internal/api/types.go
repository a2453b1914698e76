package api

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	ProviderID      string   `json:"provider_id"`
	SubjectID       string   `json:"subject_id"`
	Date            string   `json:"date"` // YYYY-MM-DD in the clinic timezone
	DurationMinutes *int     `json:"duration_minutes,omitempty"`
	Symptoms        []string `json:"symptoms,omitempty"`
}

type CompleteAppointmentRequest struct {
	ActualDurationMinutes int `json:"actual_duration_minutes"`
}

type CancelAppointmentRequest struct {
	CancelledBy string `json:"cancelled_by"`
}

type DelayAppointmentRequest struct {
	OverrunMinutes int `json:"overrun_minutes"`
}

type CreateProviderRequest struct {
	Name      string  `json:"name"`
	Specialty *string `json:"specialty,omitempty"`
}

type AvailabilityRequest struct {
	Start   string `json:"start"` // HH:MM
	End     string `json:"end"`   // HH:MM, 24:00 allowed
	Enabled *bool  `json:"enabled,omitempty"`
}

type AppointmentResponse struct {
	ID                uuid.UUID  `json:"id"`
	ProviderID        uuid.UUID  `json:"provider_id"`
	SubjectID         uuid.UUID  `json:"subject_id"`
	Status            string     `json:"status"`
	ScheduledTime     time.Time  `json:"scheduled_time"`
	EstimatedEndTime  time.Time  `json:"estimated_end_time"`
	PlannedDuration   int        `json:"planned_duration_minutes"`
	QueuePosition     int        `json:"queue_position"`
	EstimatedWaitTime int        `json:"estimated_wait_minutes"`
	Symptoms          []string   `json:"symptoms,omitempty"`
	RescheduledFrom   *time.Time `json:"rescheduled_from,omitempty"`
	RescheduledReason string     `json:"rescheduled_reason,omitempty"`
	ActualStartTime   *time.Time `json:"actual_start_time,omitempty"`
	ActualEndTime     *time.Time `json:"actual_end_time,omitempty"`
	ActualDuration    *int       `json:"actual_duration_minutes,omitempty"`
	CancelledBy       string     `json:"cancelled_by,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                a.ID,
		ProviderID:        a.ProviderID,
		SubjectID:         a.SubjectID,
		Status:            string(a.Status),
		ScheduledTime:     a.ScheduledTime,
		EstimatedEndTime:  a.EstimatedEndTime,
		PlannedDuration:   a.PlannedDuration,
		QueuePosition:     a.QueuePosition,
		EstimatedWaitTime: a.EstimatedWaitTime,
		Symptoms:          a.Symptoms,
		RescheduledFrom:   a.RescheduledFrom,
		RescheduledReason: a.RescheduledReason,
		ActualStartTime:   a.ActualStartTime,
		ActualEndTime:     a.ActualEndTime,
		ActualDuration:    a.ActualDuration,
		CancelledBy:       a.CancelledBy,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

type QueueResponse struct {
	ProviderID   uuid.UUID             `json:"provider_id"`
	Date         string                `json:"date"`
	Appointments []AppointmentResponse `json:"appointments"`
}

type QueueEntryResponse struct {
	AppointmentID     uuid.UUID `json:"appointment_id"`
	QueuePosition     int       `json:"queue_position"`
	EstimatedWaitTime int       `json:"estimated_wait_minutes"`
}

type RebalanceResponse struct {
	ProviderID uuid.UUID            `json:"provider_id"`
	Date       string               `json:"date"`
	Queue      []QueueEntryResponse `json:"queue"`
}

type SlotResponse struct {
	ProviderID      uuid.UUID `json:"provider_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
}

type ProviderResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty *string   `json:"specialty,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type AvailabilityResponse struct {
	Weekday string `json:"weekday"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Enabled bool   `json:"enabled"`
}

func toAvailabilityResponse(w appointment.AvailabilityWindow) AvailabilityResponse {
	return AvailabilityResponse{
		Weekday: strings.ToLower(w.Weekday.String()),
		Start:   w.Start.String(),
		End:     w.End.String(),
		Enabled: w.Enabled,
	}
}

type StatsResponse struct {
	ProviderID              uuid.UUID `json:"provider_id"`
	AvgConsultationDuration int       `json:"avg_consultation_minutes"`
	CompletedCount          int       `json:"completed_count"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
