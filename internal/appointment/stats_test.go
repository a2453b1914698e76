package appointment

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextAverage(t *testing.T) {
	assert.Equal(t, 30, nextAverage(30, 0, 30))
	assert.Equal(t, 35, nextAverage(30, 1, 40))
	assert.Equal(t, 40, nextAverage(35, 2, 50))
	assert.Equal(t, 31, nextAverage(30, 1, 31), "half rounds away from zero")
	assert.Equal(t, 17, nextAverage(20, 2, 10))
}

func TestApplyConsultation_StartsFromDefault(t *testing.T) {
	provider := uuid.New()

	st := applyConsultation(nil, Consultation{ProviderID: provider, ActualDuration: 30, DefaultAverage: 30})
	assert.Equal(t, ProviderStats{ProviderID: provider, AvgConsultationDuration: 30, CompletedCount: 1}, st)

	for _, want := range []struct{ actual, avg int }{{40, 35}, {50, 40}} {
		st = applyConsultation(&st, Consultation{ProviderID: provider, ActualDuration: want.actual, DefaultAverage: 30})
		assert.Equal(t, want.avg, st.AvgConsultationDuration)
	}
	assert.Equal(t, 3, st.CompletedCount)
}

func TestStats_ConvergeOverCompletions(t *testing.T) {
	f := newFixture(t, at("08:00"))

	st, err := f.svc.Stats(f.ctx, f.provider)
	require.NoError(t, err)
	assert.Equal(t, 30, st.AvgConsultationDuration)
	assert.Zero(t, st.CompletedCount)

	appts := []*Appointment{f.book(nil), f.book(nil), f.book(nil)}
	durations := []int{30, 40, 50}
	want := []int{30, 35, 40}

	for i, a := range appts {
		cur := f.get(a.ID)
		f.clock.Set(cur.ScheduledTime)
		_, err := f.svc.Start(f.ctx, a.ID)
		require.NoError(t, err)

		f.clock.Set(cur.ScheduledTime.Add(minutes(durations[i])))
		_, err = f.svc.Complete(f.ctx, a.ID, durations[i])
		require.NoError(t, err)

		st, err := f.svc.Stats(f.ctx, f.provider)
		require.NoError(t, err)
		assert.Equal(t, want[i], st.AvgConsultationDuration, "after completion %d", i+1)
		assert.Equal(t, i+1, st.CompletedCount)
	}

	next := f.book(nil)
	assert.Equal(t, 40, next.PlannedDuration)
}

func TestStats_UnknownProvider(t *testing.T) {
	f := newFixture(t, at("08:00"))

	_, err := f.svc.Stats(f.ctx, uuid.New())
	assert.ErrorIs(t, err, ErrProviderNotFound)
}
