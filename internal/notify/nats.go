package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

const (
	subjectRescheduled = "consult.appointment.rescheduled.%s"
	subjectRefund      = "consult.payment.refund.%s"
)

// NATSPublisher publishes JSON payloads on per-subject NATS subjects.
// Reschedules are keyed by the subject (patient) id so a push gateway can
// subscribe to consult.appointment.rescheduled.*; refunds by appointment id.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

// ConnectNATS dials the server with reconnects enabled.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("consultation-scheduling"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

func (p *NATSPublisher) PublishRescheduled(_ context.Context, n Rescheduled) error {
	return p.publish(fmt.Sprintf(subjectRescheduled, n.SubjectID), n)
}

func (p *NATSPublisher) PublishRefund(_ context.Context, s RefundSignal) error {
	return p.publish(fmt.Sprintf(subjectRefund, s.AppointmentID), s)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
