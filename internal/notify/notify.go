// Package notify carries scheduling side effects to external collaborators:
// reschedule pushes to subjects and refund-eligibility signals to payments.
// Delivery is best-effort; nothing here can fail the mutation that caused it.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrDeliveryFailed = errors.New("notification delivery failed")

const (
	KindRescheduled = "rescheduled"
	KindRefund      = "refund"
)

// Rescheduled tells a subject that the system moved their appointment.
type Rescheduled struct {
	AppointmentID    uuid.UUID `json:"appointment_id"`
	ProviderID       uuid.UUID `json:"provider_id"`
	SubjectID        uuid.UUID `json:"subject_id"`
	PreviousTime     time.Time `json:"previous_time"`
	NewScheduledTime time.Time `json:"new_scheduled_time"`
	Reason           string    `json:"reason"`
}

// RefundSignal is emitted on cancellation. The scheduler never moves money.
type RefundSignal struct {
	AppointmentID  uuid.UUID `json:"appointment_id"`
	ProviderID     uuid.UUID `json:"provider_id"`
	SubjectID      uuid.UUID `json:"subject_id"`
	CancelledBy    string    `json:"cancelled_by"`
	RefundEligible bool      `json:"refund_eligible"`
}

// Publisher delivers notifications to one transport.
type Publisher interface {
	PublishRescheduled(ctx context.Context, n Rescheduled) error
	PublishRefund(ctx context.Context, s RefundSignal) error
}

// Multi fans a notification out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) PublishRescheduled(ctx context.Context, n Rescheduled) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishRescheduled(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) PublishRefund(ctx context.Context, s RefundSignal) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishRefund(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
