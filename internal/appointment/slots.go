package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// firstFit scans busy appointments in scheduled order and returns the first
// cursor with room for dur before the next appointment and the window end.
// Cancelled appointments must already be filtered out.
func firstFit(windowStart, windowEnd, earliest time.Time, busy []*Appointment, dur time.Duration) (time.Time, bool) {
	cursor := windowStart
	if earliest.After(cursor) {
		cursor = earliest
	}

	for _, a := range busy {
		if cursor.Add(dur).After(windowEnd) {
			return time.Time{}, false
		}
		if a.ScheduledTime.Sub(cursor) >= dur {
			return cursor, true
		}
		if end := a.occupiedUntil(); end.After(cursor) {
			cursor = end
		}
	}

	if windowEnd.Sub(cursor) >= dur {
		return cursor, true
	}
	return time.Time{}, false
}

// slotIn finds the earliest slot for dur in the loaded provider day.
func (s *Service) slotIn(ctx context.Context, pd *providerDay, dur int) (time.Time, error) {
	window, err := s.repo.GetAvailability(ctx, pd.providerID, pd.date.Weekday())
	if errors.Is(err, ErrAvailabilityNotFound) {
		return time.Time{}, ErrNoAvailability
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load availability: %w", err)
	}
	if !window.Enabled || window.End <= window.Start {
		return time.Time{}, ErrNoAvailability
	}

	busy := make([]*Appointment, 0, len(pd.appts))
	for _, a := range pd.appts {
		if a.Status != StatusCancelled {
			busy = append(busy, a)
		}
	}
	sortBySchedule(busy)

	// Never offer a slot that has already started.
	earliest := s.now().In(s.loc).Truncate(time.Minute)
	if earliest.Before(s.now()) {
		earliest = earliest.Add(time.Minute)
	}

	slot, ok := firstFit(window.Start.On(pd.date), window.End.On(pd.date), earliest, busy, minutes(dur))
	if !ok {
		return time.Time{}, ErrNoSlotAvailable
	}
	return slot, nil
}

// FindSlot returns the earliest open start time on date for a consultation of
// durationMinutes, or of the provider's running average when it is nil. The
// second return value is the duration used.
func (s *Service) FindSlot(ctx context.Context, providerID uuid.UUID, date time.Time, durationMinutes *int) (slot time.Time, dur int, err error) {
	ctx, span := s.startSpan(ctx, "appointment.FindSlot", attribute.String("provider_id", providerID.String()))
	defer func() { s.finish(span, "find_slot", err) }()

	if durationMinutes != nil && !validMinutes(*durationMinutes) {
		return time.Time{}, 0, ErrInvalidDuration
	}
	if _, err := s.repo.GetProvider(ctx, providerID); err != nil {
		return time.Time{}, 0, err
	}

	pd, err := s.loadDay(ctx, providerID, s.dayOf(date))
	if err != nil {
		return time.Time{}, 0, err
	}

	dur = pd.avg
	if durationMinutes != nil {
		dur = *durationMinutes
	}

	slot, err = s.slotIn(ctx, pd, dur)
	if err != nil {
		return time.Time{}, 0, err
	}
	return slot, dur, nil
}
