package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoredProvider(t *testing.T, repo *MemoryRepository) uuid.UUID {
	t.Helper()
	p, err := repo.CreateProvider(context.Background(), Provider{ID: uuid.New(), Name: "Dr. Kim"})
	require.NoError(t, err)
	return p.ID
}

func TestMemoryRepository_ApplyBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	provider := newStoredProvider(t, repo)

	fresh := Appointment{ID: uuid.New(), ProviderID: provider, Status: StatusScheduled}
	fresh.setSchedule(at("09:00"), 30)
	missing := Appointment{ID: uuid.New(), ProviderID: provider, Status: StatusScheduled}

	err := repo.ApplyBatch(ctx, Batch{
		Insert:       []Appointment{fresh},
		Update:       []Appointment{missing},
		Events:       []EventLog{{EventType: EventAppointmentBooked}},
		Consultation: &Consultation{ProviderID: provider, ActualDuration: 20, DefaultAverage: 30},
	})
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	_, err = repo.GetAppointment(ctx, fresh.ID)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.Empty(t, repo.Events())
	_, err = repo.GetProviderStats(ctx, provider)
	assert.ErrorIs(t, err, ErrStatsNotFound)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	provider := newStoredProvider(t, repo)

	a := Appointment{ID: uuid.New(), ProviderID: provider, Status: StatusScheduled, Symptoms: []string{"cough"}}
	a.setSchedule(at("09:00"), 30)
	require.NoError(t, repo.ApplyBatch(ctx, Batch{Insert: []Appointment{a}}))

	got, err := repo.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	got.Symptoms[0] = "fever"
	got.QueuePosition = 42

	again, err := repo.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"cough"}, again.Symptoms)
	assert.Zero(t, again.QueuePosition)
}

func TestMemoryRepository_ListProviderDay(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	provider := newStoredProvider(t, repo)
	other := newStoredProvider(t, repo)

	mk := func(p uuid.UUID, start time.Time) Appointment {
		a := Appointment{ID: uuid.New(), ProviderID: p, Status: StatusScheduled}
		a.setSchedule(start, 30)
		return a
	}
	require.NoError(t, repo.ApplyBatch(ctx, Batch{Insert: []Appointment{
		mk(provider, at("11:00")),
		mk(provider, at("09:00")),
		mk(provider, testDay.AddDate(0, 0, 1)),
		mk(provider, testDay.Add(-time.Minute)),
		mk(other, at("10:00")),
	}}))

	day, err := repo.ListProviderDay(ctx, provider, testDay, testDay.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.Equal(t, at("09:00"), day[0].ScheduledTime)
	assert.Equal(t, at("11:00"), day[1].ScheduledTime)

	days, err := repo.ListActiveProviderDays(ctx, time.UTC, testDay.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Len(t, days, 4)
	assert.Equal(t, testDay.AddDate(0, 0, -1), days[0].Date)

	days, err = repo.ListActiveProviderDays(ctx, time.UTC, testDay)
	require.NoError(t, err)
	assert.Len(t, days, 3, "days before from are skipped")
	assert.Equal(t, testDay, days[0].Date)
}

func TestMemoryRepository_Availability(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	provider := newStoredProvider(t, repo)

	_, err := repo.GetAvailability(ctx, provider, time.Monday)
	assert.ErrorIs(t, err, ErrAvailabilityNotFound)

	require.NoError(t, repo.UpsertAvailability(ctx, AvailabilityWindow{ProviderID: provider, Weekday: time.Monday, Start: 540, End: 600, Enabled: true}))
	require.NoError(t, repo.UpsertAvailability(ctx, AvailabilityWindow{ProviderID: provider, Weekday: time.Monday, Start: 600, End: 660, Enabled: true}))

	w, err := repo.GetAvailability(ctx, provider, time.Monday)
	require.NoError(t, err)
	assert.Equal(t, Clock(600), w.Start)

	err = repo.UpsertAvailability(ctx, AvailabilityWindow{ProviderID: uuid.New(), Weekday: time.Monday})
	assert.ErrorIs(t, err, ErrProviderNotFound)
}
