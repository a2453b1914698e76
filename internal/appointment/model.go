package appointment

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusInProgress AppointmentStatus = "in-progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
)

const (
	ReasonOverran        = "previous consultation overran"
	ReasonCompletedEarly = "previous consultation completed early"
)

type Provider struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID                uuid.UUID
	ProviderID        uuid.UUID
	SubjectID         uuid.UUID
	ScheduledTime     time.Time
	EstimatedEndTime  time.Time
	PlannedDuration   int // minutes
	Status            AppointmentStatus
	QueuePosition     int
	EstimatedWaitTime int // minutes
	Symptoms          []string
	RescheduledFrom   *time.Time
	RescheduledReason string
	ActualStartTime   *time.Time
	ActualEndTime     *time.Time
	ActualDuration    *int
	CancelledBy       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsActive reports whether the appointment still holds a place in the queue.
func (a *Appointment) IsActive() bool {
	return a.Status == StatusScheduled || a.Status == StatusInProgress
}

func (a *Appointment) plannedOr(avg int) int {
	if a.PlannedDuration > 0 {
		return a.PlannedDuration
	}
	return avg
}

// occupiedUntil is the end of the interval the appointment blocks on the
// provider's calendar.
func (a *Appointment) occupiedUntil() time.Time {
	if a.Status == StatusCompleted && a.ActualEndTime != nil {
		return *a.ActualEndTime
	}
	return a.EstimatedEndTime
}

func (a *Appointment) setSchedule(at time.Time, avg int) {
	a.ScheduledTime = at
	a.EstimatedEndTime = at.Add(minutes(a.plannedOr(avg)))
}

// reschedule moves the appointment and overwrites the audit trail.
func (a *Appointment) reschedule(at time.Time, reason string, avg int) {
	from := a.ScheduledTime
	a.RescheduledFrom = &from
	a.RescheduledReason = reason
	a.setSchedule(at, avg)
}

func (a Appointment) clone() Appointment {
	c := a
	if a.Symptoms != nil {
		c.Symptoms = append([]string(nil), a.Symptoms...)
	}
	c.RescheduledFrom = copyTime(a.RescheduledFrom)
	c.ActualStartTime = copyTime(a.ActualStartTime)
	c.ActualEndTime = copyTime(a.ActualEndTime)
	if a.ActualDuration != nil {
		d := *a.ActualDuration
		c.ActualDuration = &d
	}
	return c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// sortBySchedule orders appointments by scheduled time. Ties fall back to
// creation order and then id so every reader sees the same queue.
func sortBySchedule(appts []*Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		a, b := appts[i], appts[j]
		if !a.ScheduledTime.Equal(b.ScheduledTime) {
			return a.ScheduledTime.Before(b.ScheduledTime)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

// Clock is a time of day in minutes after midnight.
type Clock int

// EndOfDay is 24:00, accepted as the end of a window.
const EndOfDay Clock = 24 * 60

func ParseClock(s string) (Clock, error) {
	if s == "24:00" {
		return EndOfDay, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On returns the clock time on day's calendar date, in day's location.
func (c Clock) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, day.Location())
}

// AvailabilityWindow is a provider's recurring working hours for one weekday.
type AvailabilityWindow struct {
	ProviderID uuid.UUID
	Weekday    time.Weekday
	Start      Clock
	End        Clock
	Enabled    bool
}

type ProviderStats struct {
	ProviderID              uuid.UUID
	AvgConsultationDuration int // minutes
	CompletedCount          int
	UpdatedAt               time.Time
}

// ProviderDay identifies one provider's queue for one calendar day.
type ProviderDay struct {
	ProviderID uuid.UUID
	Date       time.Time // midnight in the clinic location
}

func (pd ProviderDay) Key() string {
	return pd.ProviderID.String() + ":" + pd.Date.Format("2006-01-02")
}

// QueueEntry is one row of a rebalanced queue.
type QueueEntry struct {
	AppointmentID     uuid.UUID
	QueuePosition     int
	EstimatedWaitTime int
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// Consultation feeds one completed consultation into the provider average.
type Consultation struct {
	ProviderID     uuid.UUID
	ActualDuration int
	DefaultAverage int
}

// Batch is the unit handed to the store. It is applied all-or-nothing.
type Batch struct {
	Insert       []Appointment
	Update       []Appointment
	Events       []EventLog
	Consultation *Consultation
}

func (b Batch) Empty() bool {
	return len(b.Insert) == 0 && len(b.Update) == 0 && len(b.Events) == 0 && b.Consultation == nil
}

// MaxMinutes caps every caller-supplied duration at one day.
const MaxMinutes = int(EndOfDay)

func validMinutes(n int) bool {
	return n > 0 && n <= MaxMinutes
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
