package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/consultation-scheduling/internal/metrics"
)

type job struct {
	kind        string
	rescheduled Rescheduled
	refund      RefundSignal
}

// Dispatcher queues notifications on bounded channels and delivers them from
// worker goroutines, so callers never wait on a transport. Reschedule pushes
// are dropped and counted when their queue is full. Refund signals have their
// own queue, so a burst of pushes cannot crowd them out, and a full refund
// queue is waited on for up to refundWait before the signal is dropped and
// logged at error level.
type Dispatcher struct {
	queue      chan job
	refunds    chan job
	pub        Publisher
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	timeout    time.Duration
	refundWait time.Duration
}

func NewDispatcher(pub Publisher, size int, logger zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	return &Dispatcher{
		queue:      make(chan job, size),
		refunds:    make(chan job, size),
		pub:        pub,
		logger:     logger,
		metrics:    m,
		timeout:    5 * time.Second,
		refundWait: 2 * time.Second,
	}
}

func (d *Dispatcher) Rescheduled(n Rescheduled) {
	j := job{kind: KindRescheduled, rescheduled: n}
	select {
	case d.queue <- j:
	default:
		d.metrics.NotificationDropped(j.kind)
		d.logger.Warn().
			Str("kind", j.kind).
			Str("appointment_id", n.AppointmentID.String()).
			Msg("notification queue full, dropping")
	}
}

func (d *Dispatcher) RefundEligible(s RefundSignal) {
	j := job{kind: KindRefund, refund: s}
	select {
	case d.refunds <- j:
		return
	default:
	}

	timer := time.NewTimer(d.refundWait)
	defer timer.Stop()
	select {
	case d.refunds <- j:
	case <-timer.C:
		d.metrics.NotificationDropped(j.kind)
		d.logger.Error().
			Str("kind", j.kind).
			Str("appointment_id", s.AppointmentID.String()).
			Str("subject_id", s.SubjectID.String()).
			Str("cancelled_by", s.CancelledBy).
			Msg("refund queue full, refund signal dropped")
	}
}

// Pending reports how many notifications wait for delivery.
func (d *Dispatcher) Pending() int {
	return len(d.queue) + len(d.refunds)
}

// Run delivers notifications until ctx is done, then drains whatever is
// already queued before returning.
func (d *Dispatcher) Run(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-d.refunds:
					d.deliver(context.WithoutCancel(ctx), j)
				case j := <-d.queue:
					d.deliver(context.WithoutCancel(ctx), j)
				}
			}
		}()
	}
	wg.Wait()

	d.drain(context.WithoutCancel(ctx))
	return nil
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case j := <-d.refunds:
			d.deliver(ctx, j)
		case j := <-d.queue:
			d.deliver(ctx, j)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var err error
	switch j.kind {
	case KindRescheduled:
		err = d.pub.PublishRescheduled(ctx, j.rescheduled)
	case KindRefund:
		err = d.pub.PublishRefund(ctx, j.refund)
	}

	d.metrics.Notification(j.kind, err)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		evt := d.logger.Warn().Err(err).Str("kind", j.kind)
		if j.kind == KindRescheduled {
			evt = evt.Str("appointment_id", j.rescheduled.AppointmentID.String())
		} else {
			evt = evt.Str("appointment_id", j.refund.AppointmentID.String())
		}
		evt.Msg("notification not delivered")
	}
}
