// Package metrics はPrometheusのメトリクス。nilのままでも呼べる
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	checkouts      *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
	refunds        *prometheus.CounterVec
	refundFailures prometheus.Counter
	commitMS       prometheus.Histogram
	outbox         *prometheus.CounterVec
	requests       *prometheus.CounterVec
	latencyMS      *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "attempts_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "webhook_events_total",
			Help:      "Gateway webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "refunds_total",
			Help:      "Compensating refunds by final status.",
		}, []string{"status"}),
		refundFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "refund_failures_total",
			Help:      "Refunds that need manual intervention.",
		}),
		commitMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "checkout",
			Name:      "commit_duration_ms",
			Help:      "Order commit transaction latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "outbox_dispatch_total",
			Help:      "Outbox dispatch attempts by status.",
		}, []string{"status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		latencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "checkout",
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
	}
	reg.MustRegister(m.checkouts, m.webhookEvents, m.refunds, m.refundFailures, m.commitMS, m.outbox, m.requests, m.latencyMS)
	return m
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) CheckoutOutcome(outcome string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) WebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) Refund(status string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(status).Inc()
}

func (m *Metrics) RefundFailure() {
	if m == nil {
		return
	}
	m.refundFailures.Inc()
}

func (m *Metrics) ObserveCommit(d time.Duration) {
	if m == nil {
		return
	}
	m.commitMS.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) OutboxDispatch(status string) {
	if m == nil {
		return
	}
	m.outbox.WithLabelValues(status).Inc()
}

// ルート単位でリクエスト数とレイテンシを記録する
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.requests.WithLabelValues(route, strconv.Itoa(c.Response().Status)).Inc()
			m.latencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
			return nil
		}
	}
}
