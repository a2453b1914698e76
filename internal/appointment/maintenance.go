package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RebalanceAll re-runs Rebalance for every provider/day holding an active
// appointment. A failing day does not stop the pass; all failures are
// returned together.
func (s *Service) RebalanceAll(ctx context.Context) (int, error) {
	days, err := s.repo.ListActiveProviderDays(ctx, s.loc, s.dayOf(s.now()))
	if err != nil {
		return 0, fmt.Errorf("list active provider days: %w", err)
	}

	var errs []error
	done := 0
	for _, pd := range days {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := s.Rebalance(ctx, pd.ProviderID, pd.Date); err != nil {
			s.logger.Error().Err(err).
				Str("provider_id", pd.ProviderID.String()).
				Str("date", pd.Date.Format(time.DateOnly)).
				Msg("maintenance rebalance failed")
			errs = append(errs, fmt.Errorf("rebalance %s: %w", pd.Key(), err))
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

// RunMaintenance runs RebalanceAll immediately and then every interval until
// ctx is done. Each run is bounded by the interval.
func (s *Service) RunMaintenance(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", interval).Msg("queue maintenance started")

	s.maintenanceOnce(ctx, interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("queue maintenance stopping")
			return
		case <-ticker.C:
			s.maintenanceOnce(ctx, interval)
		}
	}
}

func (s *Service) maintenanceOnce(parent context.Context, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	n, err := s.RebalanceAll(ctx)
	if err != nil {
		s.logger.Error().Err(err).Int("days", n).Msg("queue maintenance finished with errors")
		return
	}
	s.logger.Info().Int("days", n).Dur("took", time.Since(start)).Msg("queue maintenance finished")
}
