package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoAtTen books 10:00 and 10:30, 30 minutes each, and starts the first.
func twoAtTen(t *testing.T) (*fixture, *Appointment, *Appointment) {
	t.Helper()
	f := newFixture(t, at("08:00"))
	f.setWindow(testDay.Weekday(), "10:00", "17:00", true)

	first := f.book(intp(30))
	second := f.book(intp(30))
	require.Equal(t, at("10:00"), first.ScheduledTime)
	require.Equal(t, at("10:30"), second.ScheduledTime)

	f.clock.Set(at("10:00"))
	_, err := f.svc.Start(f.ctx, first.ID)
	require.NoError(t, err)
	return f, first, second
}

func TestShiftLater(t *testing.T) {
	delayed := busyAt("10:00", 30)
	delayed.Status = StatusInProgress
	before := busyAt("09:00", 30)
	next := busyAt("10:30", 30)
	last := busyAt("11:15", 30)
	done := busyAt("11:00", 10)
	done.Status = StatusCompleted

	moves := shiftLater([]*Appointment{last, delayed, before, done, next}, delayed, 20*time.Minute)

	require.Len(t, moves, 2)
	assert.Equal(t, next.ID, moves[0].appt.ID)
	assert.Equal(t, at("10:50"), moves[0].to)
	assert.Equal(t, last.ID, moves[1].appt.ID)
	assert.Equal(t, at("11:35"), moves[1].to)

	assert.Empty(t, shiftLater([]*Appointment{delayed, next}, delayed, 0))
}

func TestPropagateDelay_ShiftsLaterAppointments(t *testing.T) {
	f, first, second := twoAtTen(t)

	f.clock.Set(at("10:25"))
	delayed, err := f.svc.PropagateDelay(f.ctx, first.ID, 20)
	require.NoError(t, err)
	assert.Equal(t, 50, delayed.PlannedDuration)
	assert.Equal(t, at("10:50"), delayed.EstimatedEndTime)

	moved := f.get(second.ID)
	assert.Equal(t, at("10:50"), moved.ScheduledTime)
	assert.Equal(t, at("11:20"), moved.EstimatedEndTime)
	assert.Equal(t, ReasonOverran, moved.RescheduledReason)
	require.NotNil(t, moved.RescheduledFrom)
	assert.Equal(t, at("10:30"), *moved.RescheduledFrom)
	assert.Equal(t, 2, moved.QueuePosition)
	assert.Equal(t, 50, moved.EstimatedWaitTime)

	require.Len(t, f.notes.rescheduled, 1)
	n := f.notes.rescheduled[0]
	assert.Equal(t, second.ID, n.AppointmentID)
	assert.Equal(t, second.SubjectID, n.SubjectID)
	assert.Equal(t, at("10:50"), n.NewScheduledTime)
	assert.Equal(t, ReasonOverran, n.Reason)
}

func TestComplete_LateShiftsByOverrun(t *testing.T) {
	f, first, second := twoAtTen(t)

	f.clock.Set(at("10:50"))
	done, err := f.svc.Complete(f.ctx, first.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.ActualDuration)
	assert.Equal(t, 50, *done.ActualDuration)

	moved := f.get(second.ID)
	assert.Equal(t, at("10:50"), moved.ScheduledTime)
	assert.Equal(t, ReasonOverran, moved.RescheduledReason)
	assert.Equal(t, 1, moved.QueuePosition)
	assert.Equal(t, 0, moved.EstimatedWaitTime)
}

func TestComplete_AfterPropagatedDelayDoesNotShiftTwice(t *testing.T) {
	f, first, second := twoAtTen(t)

	f.clock.Set(at("10:25"))
	_, err := f.svc.PropagateDelay(f.ctx, first.ID, 20)
	require.NoError(t, err)

	f.clock.Set(at("10:50"))
	_, err = f.svc.Complete(f.ctx, first.ID, 50)
	require.NoError(t, err)

	assert.Equal(t, at("10:50"), f.get(second.ID).ScheduledTime)
	assert.Len(t, f.notes.rescheduled, 1)
}

func TestPropagateDelay_Validation(t *testing.T) {
	f, first, second := twoAtTen(t)

	_, err := f.svc.PropagateDelay(f.ctx, first.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = f.svc.PropagateDelay(f.ctx, second.ID, 10)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.PropagateDelay(f.ctx, uuid.New(), 10)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestPropagateDelay_PastMidnightMovesToNextDay(t *testing.T) {
	f := newFixture(t, at("20:00"))
	f.setWindow(testDay.Weekday(), "23:00", "24:00", true)

	late := f.book(intp(30))
	last := f.book(intp(30))
	require.Equal(t, at("23:30"), last.ScheduledTime)

	f.clock.Set(at("23:00"))
	_, err := f.svc.Start(f.ctx, late.ID)
	require.NoError(t, err)

	_, err = f.svc.PropagateDelay(f.ctx, late.ID, 40)
	require.NoError(t, err)

	moved := f.get(last.ID)
	nextDay := testDay.AddDate(0, 0, 1)
	assert.Equal(t, nextDay.Add(10*time.Minute), moved.ScheduledTime)

	today, err := f.svc.Queue(f.ctx, f.provider, testDay)
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Equal(t, late.ID, today[0].ID)

	tomorrow, err := f.svc.Queue(f.ctx, f.provider, nextDay)
	require.NoError(t, err)
	require.Len(t, tomorrow, 1)
	assert.Equal(t, 1, tomorrow[0].QueuePosition)
	assert.Equal(t, 0, tomorrow[0].EstimatedWaitTime)

	_, err = f.svc.Cancel(f.ctx, last.ID, "patient")
	require.NoError(t, err)
}
