package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/notify"
	redisclient "github.com/hackgods/consultation-scheduling/internal/redis"
)

// ---------- Helpers ----------

// testDay is a Monday.
var testDay = time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

func at(hhmm string) time.Time {
	c, err := ParseClock(hhmm)
	if err != nil {
		panic(err)
	}
	return c.On(testDay)
}

func intp(n int) *int { return &n }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type recordingNotifier struct {
	mu          sync.Mutex
	rescheduled []notify.Rescheduled
	refunds     []notify.RefundSignal
}

func (n *recordingNotifier) Rescheduled(r notify.Rescheduled) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rescheduled = append(n.rescheduled, r)
}

func (n *recordingNotifier) RefundEligible(s notify.RefundSignal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refunds = append(n.refunds, s)
}

func (n *recordingNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.rescheduled), len(n.refunds)
}

// countingRepo counts batch writes and can be told to fail them.
type countingRepo struct {
	*MemoryRepository

	mu      sync.Mutex
	applies int
	fail    error
}

func (r *countingRepo) ApplyBatch(ctx context.Context, b Batch) error {
	r.mu.Lock()
	r.applies++
	fail := r.fail
	r.mu.Unlock()

	if fail != nil {
		return fail
	}
	return r.MemoryRepository.ApplyBatch(ctx, b)
}

func (r *countingRepo) appliedBatches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applies
}

func (r *countingRepo) failWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	repo     *countingRepo
	clock    *fakeClock
	notes    *recordingNotifier
	svc      *Service
	provider uuid.UUID
}

// newFixture returns a service over the in-memory store with one provider
// available 09:00-17:00 every day.
func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()

	ctx := context.Background()
	repo := &countingRepo{MemoryRepository: NewMemoryRepository()}
	clock := &fakeClock{t: now}
	notes := &recordingNotifier{}
	cfg := config.Config{
		Location:                   time.UTC,
		DefaultConsultationMinutes: 30,
		CompactionLead:             15 * time.Minute,
		CompactionSpacing:          30 * time.Minute,
	}

	svc := NewService(repo, redisclient.NewLocalLocker(5*time.Second, 5*time.Second), notes, cfg, WithClock(clock.Now))

	p, err := svc.CreateProvider(ctx, "Dr. Ada Park", nil)
	require.NoError(t, err)

	f := &fixture{t: t, ctx: ctx, repo: repo, clock: clock, notes: notes, svc: svc, provider: p.ID}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		f.setWindow(wd, "09:00", "17:00", true)
	}
	return f
}

func (f *fixture) setWindow(wd time.Weekday, start, end string, enabled bool) {
	f.t.Helper()
	s, err := ParseClock(start)
	require.NoError(f.t, err)
	e, err := ParseClock(end)
	require.NoError(f.t, err)
	require.NoError(f.t, f.svc.SetAvailability(f.ctx, AvailabilityWindow{
		ProviderID: f.provider,
		Weekday:    wd,
		Start:      s,
		End:        e,
		Enabled:    enabled,
	}))
}

func (f *fixture) book(duration *int) *Appointment {
	f.t.Helper()
	a, err := f.svc.Book(f.ctx, BookingRequest{
		ProviderID:      f.provider,
		SubjectID:       uuid.New(),
		Date:            testDay,
		DurationMinutes: duration,
	})
	require.NoError(f.t, err)
	return a
}

func (f *fixture) get(id uuid.UUID) *Appointment {
	f.t.Helper()
	a, err := f.svc.Get(f.ctx, id)
	require.NoError(f.t, err)
	return a
}

// ---------- Lifecycle ----------

func TestBook_AssignsSequentialSlotsAndQueue(t *testing.T) {
	f := newFixture(t, at("08:00"))

	a := f.book(nil)
	b := f.book(nil)
	c := f.book(intp(45))

	assert.Equal(t, at("09:00"), a.ScheduledTime)
	assert.Equal(t, at("09:30"), b.ScheduledTime)
	assert.Equal(t, at("10:00"), c.ScheduledTime)
	assert.Equal(t, at("10:45"), c.EstimatedEndTime)
	assert.Equal(t, 30, a.PlannedDuration)
	assert.Equal(t, StatusScheduled, a.Status)

	queue, err := f.svc.Queue(f.ctx, f.provider, testDay)
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{queue[0].QueuePosition, queue[1].QueuePosition, queue[2].QueuePosition})
	assert.Equal(t, []int{0, 30, 60}, []int{queue[0].EstimatedWaitTime, queue[1].EstimatedWaitTime, queue[2].EstimatedWaitTime})
}

func TestBook_Validation(t *testing.T) {
	f := newFixture(t, at("08:00"))

	_, err := f.svc.Book(f.ctx, BookingRequest{ProviderID: f.provider, Date: testDay})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.Book(f.ctx, BookingRequest{ProviderID: f.provider, SubjectID: uuid.New(), Date: testDay, DurationMinutes: intp(0)})
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = f.svc.Book(f.ctx, BookingRequest{ProviderID: uuid.New(), SubjectID: uuid.New(), Date: testDay})
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestDurationBounds(t *testing.T) {
	tests := []struct {
		name    string
		minutes int
		ok      bool
	}{
		{name: "zero", minutes: 0},
		{name: "negative", minutes: -5},
		{name: "one minute", minutes: 1, ok: true},
		{name: "whole day", minutes: MaxMinutes, ok: true},
		{name: "past a day", minutes: MaxMinutes + 1},
		{name: "overflows duration", minutes: 307445734561825861},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, validMinutes(tt.minutes))
			if tt.ok {
				return
			}

			f, first, _ := twoAtTen(t)

			_, err := f.svc.Book(f.ctx, BookingRequest{ProviderID: f.provider, SubjectID: uuid.New(), Date: testDay, DurationMinutes: intp(tt.minutes)})
			assert.ErrorIs(t, err, ErrInvalidDuration)

			_, _, err = f.svc.FindSlot(f.ctx, f.provider, testDay, intp(tt.minutes))
			assert.ErrorIs(t, err, ErrInvalidDuration)

			_, err = f.svc.PropagateDelay(f.ctx, first.ID, tt.minutes)
			assert.ErrorIs(t, err, ErrInvalidDuration)

			_, err = f.svc.Complete(f.ctx, first.ID, tt.minutes)
			assert.ErrorIs(t, err, ErrInvalidDuration)

			assert.Equal(t, StatusInProgress, f.get(first.ID).Status)
			queue, err := f.svc.Queue(f.ctx, f.provider, testDay)
			require.NoError(t, err)
			assert.Len(t, queue, 2)
		})
	}
}

func TestBook_WritesEventLog(t *testing.T) {
	f := newFixture(t, at("08:00"))
	a := f.book(nil)

	events := f.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentBooked, events[0].EventType)
	require.NotNil(t, events[0].AppointmentID)
	assert.Equal(t, a.ID, *events[0].AppointmentID)
	assert.Contains(t, string(events[0].Payload), a.SubjectID.String())
}

func TestStart_RecordsActualStart(t *testing.T) {
	f := newFixture(t, at("08:00"))
	a := f.book(nil)

	f.clock.Set(at("09:02"))
	started, err := f.svc.Start(f.ctx, a.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusInProgress, started.Status)
	require.NotNil(t, started.ActualStartTime)
	assert.Equal(t, at("09:02"), *started.ActualStartTime)
	assert.Equal(t, 1, started.QueuePosition)
}

func TestLifecycle_InvalidTransitionsDoNotMutate(t *testing.T) {
	f := newFixture(t, at("08:00"))
	a := f.book(nil)

	_, err := f.svc.Complete(f.ctx, a.ID, 30)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.Cancel(f.ctx, a.ID, "patient")
	require.NoError(t, err)

	before := f.get(a.ID)
	writes := f.repo.appliedBatches()
	events := len(f.repo.Events())

	_, err = f.svc.Start(f.ctx, a.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.Complete(f.ctx, a.ID, 30)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.Cancel(f.ctx, a.ID, "provider")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, before, f.get(a.ID))
	assert.Equal(t, writes, f.repo.appliedBatches())
	assert.Len(t, f.repo.Events(), events)
}

func TestCancel_EmitsRefundSignalAndRequeues(t *testing.T) {
	f := newFixture(t, at("08:00"))
	a := f.book(nil)
	b := f.book(nil)

	cancelled, err := f.svc.Cancel(f.ctx, a.ID, "patient")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, "patient", cancelled.CancelledBy)
	assert.Zero(t, cancelled.QueuePosition)

	_, refunds := f.notes.counts()
	require.Equal(t, 1, refunds)
	assert.Equal(t, notify.RefundSignal{
		AppointmentID:  a.ID,
		ProviderID:     f.provider,
		SubjectID:      a.SubjectID,
		CancelledBy:    "patient",
		RefundEligible: true,
	}, f.notes.refunds[0])

	next := f.get(b.ID)
	assert.Equal(t, 1, next.QueuePosition)
	assert.Equal(t, 0, next.EstimatedWaitTime)
}

func TestCancel_RequiresCanceller(t *testing.T) {
	f := newFixture(t, at("08:00"))
	a := f.book(nil)

	_, err := f.svc.Cancel(f.ctx, a.ID, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCancel_FreesSlotForNextBooking(t *testing.T) {
	f := newFixture(t, at("08:00"))
	a := f.book(nil)
	f.book(nil)

	_, err := f.svc.Cancel(f.ctx, a.ID, "provider")
	require.NoError(t, err)

	c := f.book(nil)
	assert.Equal(t, at("09:00"), c.ScheduledTime)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t, at("08:00"))

	_, err := f.svc.Get(f.ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	_, err = f.svc.Start(f.ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestMutation_StoreFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, at("08:00"))
	f.setWindow(testDay.Weekday(), "10:00", "17:00", true)
	a := f.book(nil)
	b := f.book(nil)

	f.clock.Set(at("10:00"))
	_, err := f.svc.Start(f.ctx, a.ID)
	require.NoError(t, err)

	beforeA, beforeB := f.get(a.ID), f.get(b.ID)
	events := len(f.repo.Events())

	f.repo.failWith(errors.New("disk full"))
	f.clock.Set(at("10:50"))
	_, err = f.svc.Complete(f.ctx, a.ID, 50)
	require.Error(t, err)

	assert.Equal(t, beforeA, f.get(a.ID))
	assert.Equal(t, beforeB, f.get(b.ID))
	assert.Len(t, f.repo.Events(), events)

	rescheduled, _ := f.notes.counts()
	assert.Zero(t, rescheduled)

	st, err := f.svc.Stats(f.ctx, f.provider)
	require.NoError(t, err)
	assert.Zero(t, st.CompletedCount)
}

func TestBook_ConcurrentRequestsGetDistinctSlots(t *testing.T) {
	f := newFixture(t, at("08:00"))

	const n = 20
	var wg sync.WaitGroup
	results := make([]*Appointment, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Book(f.ctx, BookingRequest{
				ProviderID:      f.provider,
				SubjectID:       uuid.New(),
				Date:            testDay,
				DurationMinutes: intp(15),
			})
		}(i)
	}
	wg.Wait()

	seen := make(map[time.Time]bool)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[results[i].ScheduledTime], "slot %s handed out twice", results[i].ScheduledTime)
		seen[results[i].ScheduledTime] = true
	}

	queue, err := f.svc.Queue(f.ctx, f.provider, testDay)
	require.NoError(t, err)
	require.Len(t, queue, n)
	assertQueueInvariants(t, queue)
}

func TestProvider_AvailabilityValidation(t *testing.T) {
	f := newFixture(t, at("08:00"))

	err := f.svc.SetAvailability(f.ctx, AvailabilityWindow{ProviderID: f.provider, Weekday: time.Monday, Start: 600, End: 540, Enabled: true})
	assert.ErrorIs(t, err, ErrInvalidWindow)

	err = f.svc.SetAvailability(f.ctx, AvailabilityWindow{ProviderID: f.provider, Weekday: 9, Start: 540, End: 600, Enabled: true})
	assert.ErrorIs(t, err, ErrInvalidWindow)

	err = f.svc.SetAvailability(f.ctx, AvailabilityWindow{ProviderID: uuid.New(), Weekday: time.Monday, Start: 540, End: 600, Enabled: true})
	assert.ErrorIs(t, err, ErrProviderNotFound)

	windows, err := f.svc.ListAvailability(f.ctx, f.provider)
	require.NoError(t, err)
	assert.Len(t, windows, 7)
	assert.Equal(t, time.Sunday, windows[0].Weekday)
	assert.Equal(t, "09:00", windows[1].Start.String())
}

// assertQueueInvariants checks ordering, monotonic positions and waits, and
// that no two appointments overlap.
func assertQueueInvariants(t *testing.T, queue []Appointment) {
	t.Helper()
	for i := 1; i < len(queue); i++ {
		prev, cur := queue[i-1], queue[i]
		assert.False(t, cur.ScheduledTime.Before(prev.ScheduledTime), "queue out of order")
		assert.Greater(t, cur.QueuePosition, prev.QueuePosition)
		assert.GreaterOrEqual(t, cur.EstimatedWaitTime, prev.EstimatedWaitTime)
		assert.False(t, cur.ScheduledTime.Before(prev.EstimatedEndTime),
			"%s overlaps %s", cur.ScheduledTime.Format("15:04"), prev.EstimatedEndTime.Format("15:04"))
	}
}
