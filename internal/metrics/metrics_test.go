package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CheckoutOutcome("succeeded")
		m.WebhookEvent("payment_intent.succeeded", "committed")
		m.Refund("SUCCEEDED")
		m.RefundFailure()
		m.OutboxDispatch("sent")
	})
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CheckoutOutcome("succeeded")
	m.CheckoutOutcome("succeeded")
	m.CheckoutOutcome("declined")
	m.RefundFailure()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.checkouts.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkouts.WithLabelValues("declined")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refundFailures))
}

func TestMiddleware_RecordsRoute(t *testing.T) {
	m := New(prometheus.NewRegistry())
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/orders/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/7", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/orders/:id", "204")))
}
