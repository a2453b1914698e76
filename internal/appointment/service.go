package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/metrics"
	"github.com/hackgods/consultation-scheduling/internal/notify"
	redisclient "github.com/hackgods/consultation-scheduling/internal/redis"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentStarted     = "APPOINTMENT_STARTED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoAvailability    = errors.New("provider has no availability on that day")
	ErrNoSlotAvailable   = errors.New("no slot available on that day")
	ErrInvalidDuration   = errors.New("duration must be between 1 and 1440 minutes")
	ErrInvalidWindow     = errors.New("invalid availability window")
	ErrInvalidRequest    = errors.New("invalid request")

	// errDayMoved means the appointment left the locked provider/day between
	// the unlocked lookup and the critical section.
	errDayMoved = errors.New("appointment moved to another day")
)

const maxDayRetries = 3

// Notifier receives best-effort notifications once a mutation has committed.
// Implementations must not block.
type Notifier interface {
	Rescheduled(n notify.Rescheduled)
	RefundEligible(s notify.RefundSignal)
}

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	notifier Notifier
	cfg      config.Config
	loc      *time.Location
	now      func() time.Time
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type Option func(*Service)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier, cfg config.Config, opts ...Option) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DefaultConsultationMinutes <= 0 {
		cfg.DefaultConsultationMinutes = 30
	}
	if cfg.CompactionLead <= 0 {
		cfg.CompactionLead = 15 * time.Minute
	}
	if cfg.CompactionSpacing <= 0 {
		cfg.CompactionSpacing = 30 * time.Minute
	}

	s := &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		loc:      cfg.Location,
		now:      time.Now,
		logger:   zerolog.Nop(),
		tracer:   otel.Tracer("github.com/hackgods/consultation-scheduling/internal/appointment"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BookingRequest is what booking intake hands to Book.
type BookingRequest struct {
	ProviderID      uuid.UUID
	SubjectID       uuid.UUID
	Date            time.Time
	DurationMinutes *int // nil means the provider's running average
	Symptoms        []string
}

// Book assigns the earliest open slot on the requested day and creates the
// appointment in the same critical section.
func (s *Service) Book(ctx context.Context, req BookingRequest) (appt *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "appointment.Book",
		attribute.String("provider_id", req.ProviderID.String()),
		attribute.String("subject_id", req.SubjectID.String()),
	)
	defer func() { s.finish(span, "book", err) }()

	if req.SubjectID == uuid.Nil {
		return nil, fmt.Errorf("%w: subject_id is required", ErrInvalidRequest)
	}
	if req.DurationMinutes != nil && !validMinutes(*req.DurationMinutes) {
		return nil, ErrInvalidDuration
	}
	if _, err := s.repo.GetProvider(ctx, req.ProviderID); err != nil {
		return nil, err
	}

	var created *Appointment
	_, err = s.mutateDay(ctx, req.ProviderID, s.dayOf(req.Date), func(ctx context.Context, pd *providerDay) error {
		dur := pd.avg
		if req.DurationMinutes != nil {
			dur = *req.DurationMinutes
		}

		slot, err := s.slotIn(ctx, pd, dur)
		if err != nil {
			return err
		}

		now := s.now()
		a := &Appointment{
			ID:              uuid.New(),
			ProviderID:      req.ProviderID,
			SubjectID:       req.SubjectID,
			PlannedDuration: dur,
			Status:          StatusScheduled,
			Symptoms:        req.Symptoms,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		a.setSchedule(slot, pd.avg)
		pd.add(a)
		pd.record(EventAppointmentBooked, a.ID, map[string]any{
			"provider_id":      a.ProviderID.String(),
			"subject_id":       a.SubjectID.String(),
			"scheduled_time":   a.ScheduledTime,
			"planned_duration": a.PlannedDuration,
		})
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	booked := created.clone()
	s.logger.Info().
		Str("appointment_id", booked.ID.String()).
		Str("provider_id", booked.ProviderID.String()).
		Time("scheduled_time", booked.ScheduledTime).
		Int("queue_position", booked.QueuePosition).
		Msg("appointment booked")
	return &booked, nil
}

// Start moves a scheduled appointment to in-progress.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (appt *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "appointment.Start", attribute.String("appointment_id", id.String()))
	defer func() { s.finish(span, "start", err) }()

	return s.withAppointment(ctx, id, func(_ context.Context, pd *providerDay, a *Appointment) error {
		if err := a.transition(StatusInProgress); err != nil {
			return err
		}
		now := s.now()
		a.ActualStartTime = &now
		pd.touch(a)
		pd.record(EventAppointmentStarted, a.ID, map[string]any{"started_at": now})
		return nil
	})
}

// Complete records the actual consultation length. A late finish shifts the
// rest of the day by the part of the overrun not already propagated; an early
// finish compacts the following appointments. Either way the provider average
// is updated in the same batch.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actualMinutes int) (appt *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "appointment.Complete",
		attribute.String("appointment_id", id.String()),
		attribute.Int("actual_minutes", actualMinutes),
	)
	defer func() { s.finish(span, "complete", err) }()

	if !validMinutes(actualMinutes) {
		return nil, ErrInvalidDuration
	}

	return s.withAppointment(ctx, id, func(_ context.Context, pd *providerDay, a *Appointment) error {
		if err := a.transition(StatusCompleted); err != nil {
			return err
		}

		now := s.now()
		actual := actualMinutes
		a.ActualEndTime = &now
		a.ActualDuration = &actual
		pd.touch(a)
		pd.consultation = &Consultation{
			ProviderID:     a.ProviderID,
			ActualDuration: actualMinutes,
			DefaultAverage: s.cfg.DefaultConsultationMinutes,
		}
		pd.record(EventAppointmentCompleted, a.ID, map[string]any{
			"actual_duration":  actualMinutes,
			"planned_duration": a.plannedOr(pd.avg),
			"completed_at":     now,
		})

		planned := a.plannedOr(pd.avg)
		switch {
		case actualMinutes > planned:
			pd.apply(shiftLater(pd.members(), a, minutes(actualMinutes-planned)), ReasonOverran)
		case actualMinutes < planned:
			start := now.Add(s.cfg.CompactionLead)
			pd.apply(compactLater(pd.members(), a, start, s.cfg.CompactionSpacing, now, pd.avg), ReasonCompletedEarly)
		}
		return nil
	})
}

// Cancel moves a non-terminal appointment to cancelled and signals refund
// eligibility to the payment collaborator.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, cancelledBy string) (appt *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "appointment.Cancel", attribute.String("appointment_id", id.String()))
	defer func() { s.finish(span, "cancel", err) }()

	if cancelledBy == "" {
		return nil, fmt.Errorf("%w: cancelled_by is required", ErrInvalidRequest)
	}

	return s.withAppointment(ctx, id, func(_ context.Context, pd *providerDay, a *Appointment) error {
		if err := a.transition(StatusCancelled); err != nil {
			return err
		}
		a.CancelledBy = cancelledBy
		pd.touch(a)
		pd.record(EventAppointmentCancelled, a.ID, map[string]any{"cancelled_by": cancelledBy})
		pd.refunds = append(pd.refunds, notify.RefundSignal{
			AppointmentID:  a.ID,
			ProviderID:     a.ProviderID,
			SubjectID:      a.SubjectID,
			CancelledBy:    cancelledBy,
			RefundEligible: true,
		})
		return nil
	})
}

// PropagateDelay reports that an in-progress consultation will overrun its
// plan by overrunMinutes. Its planned duration grows by the overrun and every
// later scheduled appointment of the day moves back by the same amount.
func (s *Service) PropagateDelay(ctx context.Context, id uuid.UUID, overrunMinutes int) (appt *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "appointment.PropagateDelay",
		attribute.String("appointment_id", id.String()),
		attribute.Int("overrun_minutes", overrunMinutes),
	)
	defer func() { s.finish(span, "propagate_delay", err) }()

	if !validMinutes(overrunMinutes) {
		return nil, ErrInvalidDuration
	}

	return s.withAppointment(ctx, id, func(_ context.Context, pd *providerDay, a *Appointment) error {
		if a.Status != StatusInProgress {
			return fmt.Errorf("%w: delay requires an in-progress appointment, got %s", ErrInvalidTransition, a.Status)
		}
		a.PlannedDuration = a.plannedOr(pd.avg) + overrunMinutes
		a.setSchedule(a.ScheduledTime, pd.avg)
		pd.touch(a)
		pd.apply(shiftLater(pd.members(), a, minutes(overrunMinutes)), ReasonOverran)
		return nil
	})
}

// Rebalance recomputes queue positions and wait estimates for one provider and
// day and writes the rows that changed. It is the single entry point used by
// both lifecycle events and the maintenance pass.
func (s *Service) Rebalance(ctx context.Context, providerID uuid.UUID, date time.Time) (queue []QueueEntry, err error) {
	ctx, span := s.startSpan(ctx, "appointment.Rebalance", attribute.String("provider_id", providerID.String()))
	defer func() { s.finish(span, "rebalance", err) }()

	if _, err := s.repo.GetProvider(ctx, providerID); err != nil {
		return nil, err
	}

	pd, err := s.mutateDay(ctx, providerID, s.dayOf(date), func(context.Context, *providerDay) error { return nil })
	if err != nil {
		return nil, err
	}
	return pd.queue, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

// Queue returns the provider's active appointments for the day in queue order.
func (s *Service) Queue(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error) {
	if _, err := s.repo.GetProvider(ctx, providerID); err != nil {
		return nil, err
	}

	pd, err := s.loadDay(ctx, providerID, s.dayOf(date))
	if err != nil {
		return nil, err
	}

	active := make([]*Appointment, 0, len(pd.appts))
	for _, a := range pd.members() {
		if a.IsActive() {
			active = append(active, a)
		}
	}
	sortBySchedule(active)

	out := make([]Appointment, 0, len(active))
	for _, a := range active {
		out = append(out, a.clone())
	}
	return out, nil
}

func (s *Service) CreateProvider(ctx context.Context, name string, specialty *string) (*Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	now := s.now()
	p, err := s.repo.CreateProvider(ctx, Provider{
		ID:        uuid.New(),
		Name:      name,
		Specialty: specialty,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}
	return p, nil
}

func (s *Service) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	return s.repo.GetProvider(ctx, id)
}

// SetAvailability stores the provider's window for one weekday, replacing any
// previous one.
func (s *Service) SetAvailability(ctx context.Context, w AvailabilityWindow) error {
	if w.Weekday < time.Sunday || w.Weekday > time.Saturday {
		return fmt.Errorf("%w: weekday %d", ErrInvalidWindow, w.Weekday)
	}
	if w.Start < 0 || w.End > EndOfDay || (w.Enabled && w.End <= w.Start) {
		return fmt.Errorf("%w: %s-%s", ErrInvalidWindow, w.Start, w.End)
	}
	if _, err := s.repo.GetProvider(ctx, w.ProviderID); err != nil {
		return err
	}
	if err := s.repo.UpsertAvailability(ctx, w); err != nil {
		return fmt.Errorf("upsert availability: %w", err)
	}
	return nil
}

func (s *Service) ListAvailability(ctx context.Context, providerID uuid.UUID) ([]AvailabilityWindow, error) {
	if _, err := s.repo.GetProvider(ctx, providerID); err != nil {
		return nil, err
	}
	return s.repo.ListAvailability(ctx, providerID)
}

// Location is the clinic timezone used to resolve calendar days.
func (s *Service) Location() *time.Location {
	return s.loc
}

// dayOf returns midnight of t's calendar day in the clinic location.
func (s *Service) dayOf(t time.Time) time.Time {
	y, m, d := t.In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

func (s *Service) loadDay(ctx context.Context, providerID uuid.UUID, day time.Time) (*providerDay, error) {
	end := day.AddDate(0, 0, 1)

	rows, err := s.repo.ListProviderDay(ctx, providerID, day, end)
	if err != nil {
		return nil, fmt.Errorf("list provider day: %w", err)
	}
	avg, err := s.averageDuration(ctx, providerID)
	if err != nil {
		return nil, err
	}

	pd := &providerDay{
		providerID: providerID,
		date:       day,
		end:        end,
		avg:        avg,
		appts:      make([]*Appointment, 0, len(rows)),
		inserted:   make(map[uuid.UUID]bool),
		dirty:      make(map[uuid.UUID]bool),
	}
	for i := range rows {
		a := rows[i].clone()
		pd.appts = append(pd.appts, &a)
	}
	return pd, nil
}

// mutateDay runs fn inside the provider/day critical section, rebalances the
// day and commits everything fn and the rebalance changed as one batch.
// Notifications go out after the lock is released.
func (s *Service) mutateDay(ctx context.Context, providerID uuid.UUID, day time.Time, fn func(ctx context.Context, pd *providerDay) error) (*providerDay, error) {
	key := ProviderDay{ProviderID: providerID, Date: day}.Key()
	requested := time.Now()

	var committed *providerDay
	err := s.locker.WithLock(ctx, key, func(ctx context.Context) error {
		s.metrics.LockWait(time.Since(requested))

		pd, err := s.loadDay(ctx, providerID, day)
		if err != nil {
			return err
		}
		if err := fn(ctx, pd); err != nil {
			return err
		}
		pd.rebalance()

		b := pd.batch(s.now())
		if !b.Empty() {
			if err := s.repo.ApplyBatch(ctx, b); err != nil {
				return fmt.Errorf("apply batch: %w", err)
			}
		}
		committed = pd
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RebalanceUpdates(committed.rebalanced)
	for reason, n := range committed.shifted {
		s.metrics.Shifted(reason, n)
	}
	if committed.rebalanced > 0 || len(committed.dirty) > 0 {
		s.logger.Debug().
			Str("key", key).
			Int("updated", len(committed.dirty)).
			Int("requeued", committed.rebalanced).
			Msg("provider day committed")
	}

	s.dispatch(committed)
	s.rebalanceSpill(ctx, providerID, committed)
	return committed, nil
}

// withAppointment locks the provider/day the appointment currently sits on
// and hands fn the locked copy. If the appointment moved days in between, the
// lookup is retried.
func (s *Service) withAppointment(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, pd *providerDay, a *Appointment) error) (*Appointment, error) {
	for attempt := 0; attempt < maxDayRetries; attempt++ {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		var target *Appointment
		_, err = s.mutateDay(ctx, cur.ProviderID, s.dayOf(cur.ScheduledTime), func(ctx context.Context, pd *providerDay) error {
			a := pd.find(id)
			if a == nil {
				return errDayMoved
			}
			target = a
			return fn(ctx, pd, a)
		})
		if errors.Is(err, errDayMoved) {
			continue
		}
		if err != nil {
			return nil, err
		}

		out := target.clone()
		return &out, nil
	}
	return nil, fmt.Errorf("%w: appointment %s kept moving between days", redisclient.ErrLockNotAcquired, id)
}

func (s *Service) dispatch(pd *providerDay) {
	if s.notifier == nil {
		return
	}
	for _, n := range pd.notices {
		s.notifier.Rescheduled(n)
	}
	for _, r := range pd.refunds {
		s.notifier.RefundEligible(r)
	}
}

// rebalanceSpill requeues days that received appointments shifted past
// midnight. Failures are left to the maintenance pass.
func (s *Service) rebalanceSpill(ctx context.Context, providerID uuid.UUID, pd *providerDay) {
	for _, day := range pd.spilledDays(s.dayOf) {
		if _, err := s.Rebalance(context.WithoutCancel(ctx), providerID, day); err != nil {
			s.logger.Warn().Err(err).
				Str("provider_id", providerID.String()).
				Time("date", day).
				Msg("rebalance of spilled day failed")
		}
	}
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (s *Service) finish(span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	s.metrics.Operation(op, err)
}

// providerDay is the working copy of one provider's day inside the critical
// section. Changes are collected here and written as one Batch.
type providerDay struct {
	providerID uuid.UUID
	date       time.Time
	end        time.Time
	avg        int

	appts    []*Appointment
	inserted map[uuid.UUID]bool
	dirty    map[uuid.UUID]bool
	events   []EventLog

	consultation *Consultation
	notices      []notify.Rescheduled
	refunds      []notify.RefundSignal
	shifted      map[string]int

	queue      []QueueEntry
	rebalanced int
}

func (pd *providerDay) find(id uuid.UUID) *Appointment {
	for _, a := range pd.appts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (pd *providerDay) add(a *Appointment) {
	pd.appts = append(pd.appts, a)
	pd.inserted[a.ID] = true
	pd.dirty[a.ID] = true
}

func (pd *providerDay) touch(a *Appointment) {
	pd.dirty[a.ID] = true
}

// members returns the appointments still scheduled on this day.
func (pd *providerDay) members() []*Appointment {
	out := make([]*Appointment, 0, len(pd.appts))
	for _, a := range pd.appts {
		if !a.ScheduledTime.Before(pd.date) && a.ScheduledTime.Before(pd.end) {
			out = append(out, a)
		}
	}
	return out
}

func (pd *providerDay) spilledDays(dayOf func(time.Time) time.Time) []time.Time {
	seen := make(map[time.Time]bool)
	var days []time.Time
	for _, a := range pd.appts {
		if !pd.dirty[a.ID] || a.ScheduledTime.Before(pd.end) {
			continue
		}
		d := dayOf(a.ScheduledTime)
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	return days
}

func (pd *providerDay) record(eventType string, appointmentID uuid.UUID, payload map[string]any) {
	// Payloads hold only strings, numbers and times.
	data, _ := json.Marshal(payload)
	id := appointmentID
	pd.events = append(pd.events, EventLog{
		EventType:     eventType,
		AppointmentID: &id,
		Payload:       data,
	})
}

// apply moves appointments to their new start times, keeping the audit trail
// and the notices to send after commit.
func (pd *providerDay) apply(moves []move, reason string) {
	for _, m := range moves {
		from := m.appt.ScheduledTime
		m.appt.reschedule(m.to, reason, pd.avg)
		pd.touch(m.appt)
		pd.record(EventAppointmentRescheduled, m.appt.ID, map[string]any{
			"from":   from,
			"to":     m.to,
			"reason": reason,
		})
		pd.notices = append(pd.notices, notify.Rescheduled{
			AppointmentID:    m.appt.ID,
			ProviderID:       m.appt.ProviderID,
			SubjectID:        m.appt.SubjectID,
			PreviousTime:     from,
			NewScheduledTime: m.to,
			Reason:           reason,
		})
		if pd.shifted == nil {
			pd.shifted = make(map[string]int)
		}
		pd.shifted[reason]++
	}
}

func (pd *providerDay) rebalance() {
	entries, changed := rebalanceQueue(pd.members(), pd.avg)
	for _, a := range changed {
		pd.touch(a)
	}
	pd.queue = entries
	pd.rebalanced = len(changed)
}

func (pd *providerDay) batch(now time.Time) Batch {
	var b Batch
	for _, a := range pd.appts {
		if !pd.dirty[a.ID] {
			continue
		}
		a.UpdatedAt = now
		if pd.inserted[a.ID] {
			b.Insert = append(b.Insert, a.clone())
		} else {
			b.Update = append(b.Update, a.clone())
		}
	}
	for i := range pd.events {
		pd.events[i].CreatedAt = now
	}
	b.Events = pd.events
	b.Consultation = pd.consultation
	return b
}
