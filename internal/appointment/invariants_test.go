package appointment

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestInvariants_RandomLifecycle drives a provider day through a random mix of
// bookings, starts (including out of order and early ones), delays,
// completions and cancellations and checks the queue invariants after every
// step.
func TestInvariants_RandomLifecycle(t *testing.T) {
	for seed := uint64(1); seed <= 5; seed++ {
		rng := rand.New(rand.NewPCG(seed, 42))
		f := newFixture(t, at("09:00"))

		var inProgress *uuid.UUID
		for step := 0; step < 60; step++ {
			queue, err := f.svc.Queue(f.ctx, f.provider, testDay)
			require.NoError(t, err)

			switch op := rng.IntN(5); {
			case op == 0 || len(queue) == 0:
				_, err := f.svc.Book(f.ctx, BookingRequest{
					ProviderID:      f.provider,
					SubjectID:       uuid.New(),
					Date:            testDay,
					DurationMinutes: intp(10 + 5*rng.IntN(7)),
				})
				if err != nil {
					require.ErrorIs(t, err, ErrNoSlotAvailable)
				}

			case op == 1 && inProgress == nil:
				// Mostly the head of the queue, sometimes a later subject
				// while earlier ones have not shown up, sometimes early.
				next := queue[0]
				if rng.IntN(3) == 0 {
					next = queue[rng.IntN(len(queue))]
				}
				if rng.IntN(4) > 0 && next.ScheduledTime.After(f.clock.Now()) {
					f.clock.Set(next.ScheduledTime)
				}
				_, err := f.svc.Start(f.ctx, next.ID)
				require.NoError(t, err)
				id := next.ID
				inProgress = &id

			case op == 2 && inProgress != nil:
				_, err := f.svc.PropagateDelay(f.ctx, *inProgress, 5+rng.IntN(20))
				require.NoError(t, err)

			case op == 3 && inProgress != nil:
				cur := f.get(*inProgress)
				actual := 5 + rng.IntN(50)
				f.clock.Set(cur.ActualStartTime.Add(minutes(actual)))
				_, err := f.svc.Complete(f.ctx, *inProgress, actual)
				require.NoError(t, err)
				inProgress = nil

			case op == 4:
				victim := queue[rng.IntN(len(queue))]
				_, err := f.svc.Cancel(f.ctx, victim.ID, "patient")
				require.NoError(t, err)
				if inProgress != nil && *inProgress == victim.ID {
					inProgress = nil
				}
			}

			for _, day := range []time.Time{testDay, testDay.AddDate(0, 0, 1)} {
				queue, err := f.svc.Queue(f.ctx, f.provider, day)
				require.NoError(t, err)
				assertQueueInvariants(t, queue)
				for i, a := range queue {
					require.Equal(t, i+1, a.QueuePosition, "seed %d step %d", seed, step)
				}
			}
		}
	}
}
