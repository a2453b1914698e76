package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogPublisher writes notifications to the log. It is the fallback sink when
// no transport is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishRescheduled(_ context.Context, n Rescheduled) error {
	p.logger.Info().
		Str("appointment_id", n.AppointmentID.String()).
		Str("subject_id", n.SubjectID.String()).
		Time("previous_time", n.PreviousTime).
		Time("new_scheduled_time", n.NewScheduledTime).
		Str("reason", n.Reason).
		Msg("appointment rescheduled")
	return nil
}

func (p *LogPublisher) PublishRefund(_ context.Context, s RefundSignal) error {
	p.logger.Info().
		Str("appointment_id", s.AppointmentID.String()).
		Str("cancelled_by", s.CancelledBy).
		Bool("refund_eligible", s.RefundEligible).
		Msg("refund signal")
	return nil
}
