// Package metrics holds the Prometheus collectors exported by the scheduler.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	operations       *prometheus.CounterVec
	shifted          *prometheus.CounterVec
	rebalanceUpdates prometheus.Counter
	notifications    *prometheus.CounterVec
	lockWait         prometheus.Histogram
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_operations_total",
				Help: "Scheduling operations by name and outcome",
			},
			[]string{"operation", "result"},
		),
		shifted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_appointments_shifted_total",
				Help: "Appointments whose scheduled time was moved by the system",
			},
			[]string{"reason"},
		),
		rebalanceUpdates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scheduler_rebalance_updates_total",
				Help: "Queue position or wait-time changes written by the rebalancer",
			},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_notifications_total",
				Help: "Notification dispatch attempts by kind and result",
			},
			[]string{"kind", "result"},
		),
		lockWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scheduler_lock_wait_seconds",
				Help:    "Time spent waiting to enter a provider/day critical section",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		m.operations,
		m.shifted,
		m.rebalanceUpdates,
		m.notifications,
		m.lockWait,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Operation(name string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(name, result).Inc()
}

func (m *Metrics) Shifted(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.shifted.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) RebalanceUpdates(n int) {
	if m == nil || n == 0 {
		return
	}
	m.rebalanceUpdates.Add(float64(n))
}

func (m *Metrics) Notification(kind string, err error) {
	if m == nil {
		return
	}
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) NotificationDropped(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, "dropped").Inc()
}

func (m *Metrics) LockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
