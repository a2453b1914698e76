package appointment

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// nextAverage folds one more consultation into a running average.
func nextAverage(avg, count, actual int) int {
	return int(math.Round(float64(avg*count+actual) / float64(count+1)))
}

// applyConsultation returns the statistics after recording c on top of cur.
// A nil cur starts from the default average with no completed consultations.
func applyConsultation(cur *ProviderStats, c Consultation) ProviderStats {
	next := ProviderStats{
		ProviderID:              c.ProviderID,
		AvgConsultationDuration: c.DefaultAverage,
	}
	if cur != nil {
		next.AvgConsultationDuration = cur.AvgConsultationDuration
		next.CompletedCount = cur.CompletedCount
	}
	next.AvgConsultationDuration = nextAverage(next.AvgConsultationDuration, next.CompletedCount, c.ActualDuration)
	next.CompletedCount++
	return next
}

// Stats returns the provider's running consultation statistics, or the
// configured defaults when nothing has been recorded yet.
func (s *Service) Stats(ctx context.Context, providerID uuid.UUID) (*ProviderStats, error) {
	if _, err := s.repo.GetProvider(ctx, providerID); err != nil {
		return nil, err
	}

	st, err := s.repo.GetProviderStats(ctx, providerID)
	if errors.Is(err, ErrStatsNotFound) {
		return &ProviderStats{
			ProviderID:              providerID,
			AvgConsultationDuration: s.cfg.DefaultConsultationMinutes,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load provider stats: %w", err)
	}
	return st, nil
}

func (s *Service) averageDuration(ctx context.Context, providerID uuid.UUID) (int, error) {
	st, err := s.repo.GetProviderStats(ctx, providerID)
	if errors.Is(err, ErrStatsNotFound) {
		return s.cfg.DefaultConsultationMinutes, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load provider stats: %w", err)
	}
	if st.AvgConsultationDuration <= 0 {
		return s.cfg.DefaultConsultationMinutes, nil
	}
	return st.AvgConsultationDuration, nil
}
