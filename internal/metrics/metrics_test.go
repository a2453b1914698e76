package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Operation("book", nil)
	m.Operation("book", errors.New("boom"))
	m.Shifted("previous consultation overran", 3)
	m.RebalanceUpdates(2)
	m.Notification("rescheduled", nil)
	m.NotificationDropped("refund")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("book", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("book", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.shifted.WithLabelValues("previous consultation overran")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rebalanceUpdates))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("rescheduled", "delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("refund", "dropped")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Operation("book", nil)
		m.Shifted("x", 1)
		m.LockWait(time.Second)
		m.HTTPRequest("GET", "/", 200, time.Millisecond)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.HTTPRequest(http.MethodGet, "/appointments/{id}", http.StatusOK, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "http_requests_total"))
}
