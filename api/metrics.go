package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// METRICS - Prometheus collectors on a private registry
// =============================================================================

const metricsNamespace = "policy_accounting"

// Metrics holds the service's Prometheus collectors. Each instance owns its
// registry so tests can build routers side by side.
type Metrics struct {
	Registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	payments         *prometheus.CounterVec
	cancellations    *prometheus.CounterVec
	scheduleChanges  *prometheus.CounterVec
	sweepRuns        *prometheus.CounterVec
	sweepDuration    prometheus.Histogram
	sweepCanceled    prometheus.Gauge
	sweepLastSuccess prometheus.Gauge
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"method", "route"},
		),
		payments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "payments",
				Name:      "admissions_total",
				Help:      "Payment admission outcomes.",
			},
			[]string{"outcome", "role"},
		),
		cancellations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "policies",
				Name:      "cancellation_evaluations_total",
				Help:      "Cancellation evaluations by result.",
			},
			[]string{"result"},
		),
		scheduleChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "policies",
				Name:      "billing_schedule_changes_total",
				Help:      "Billing schedule changes by target schedule.",
			},
			[]string{"schedule"},
		),
		sweepRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "sweep",
				Name:      "runs_total",
				Help:      "Cancellation sweep runs.",
			},
			[]string{"success"},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "sweep",
				Name:      "run_duration_seconds",
				Help:      "Duration of cancellation sweep runs.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
			},
		),
		sweepCanceled: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "sweep",
				Name:      "canceled_policies",
				Help:      "Policies found canceled by the most recent sweep.",
			},
		),
		sweepLastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "sweep",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful sweep.",
			},
		),
	}

	m.Registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.payments,
		m.cancellations,
		m.scheduleChanges,
		m.sweepRuns,
		m.sweepDuration,
		m.sweepCanceled,
		m.sweepLastSuccess,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Instrument wraps next with request count and latency collection, labelled
// by chi route pattern so policy IDs do not explode cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		method := strings.ToUpper(r.Method)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordPayment counts one admission decision.
func (m *Metrics) RecordPayment(accepted bool, role string) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	if role == "" {
		role = "unknown"
	}
	m.payments.WithLabelValues(outcome, role).Inc()
}

// RecordCancellation counts one ShouldCancel evaluation.
func (m *Metrics) RecordCancellation(canceled bool) {
	result := "active"
	if canceled {
		result = "canceled"
	}
	m.cancellations.WithLabelValues(result).Inc()
}

// RecordScheduleChange counts one successful billing schedule change.
func (m *Metrics) RecordScheduleChange(schedule string) {
	m.scheduleChanges.WithLabelValues(schedule).Inc()
}

// RecordSweep records one cancellation sweep run.
func (m *Metrics) RecordSweep(duration time.Duration, canceled int, success bool) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	m.sweepRuns.WithLabelValues(strconv.FormatBool(success)).Inc()
	m.sweepDuration.Observe(duration.Seconds())
	if success {
		m.sweepCanceled.Set(float64(canceled))
		m.sweepLastSuccess.SetToCurrentTime()
	}
}
