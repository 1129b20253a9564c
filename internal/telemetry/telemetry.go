// Package telemetry holds the Prometheus collectors for the analyzer.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "analyzer"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	eventsIngested   *prometheus.CounterVec
	batchesIngested  *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec
	issuesDetected   *prometheus.GaugeVec
	subscribers      prometheus.Gauge
	notifyDropped    prometheus.Counter
	exportErrors     prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(registry)

	return &Metrics{
		registry: registry,
		eventsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Events accepted into the event store, by type",
		}, []string{"type"}),
		batchesIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Event batches processed, by result",
		}, []string{"result"}),
		analysisDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Duration of snapshot and rule analysis runs",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"kind", "result"}),
		issuesDetected: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "issues_detected",
			Help:      "Issues found by the latest analysis, by rule",
		}, []string{"rule"}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Connected change stream listeners",
		}),
		notifyDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications skipped because a listener buffer was full",
		}),
		exportErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warehouse_export_errors_total",
			Help:      "Failed warehouse flushes",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) BatchStored(byType map[string]int) {
	if m == nil {
		return
	}
	m.batchesIngested.WithLabelValues("ok").Inc()
	for typ, n := range byType {
		m.eventsIngested.WithLabelValues(typ).Add(float64(n))
	}
}

func (m *Metrics) BatchFailed() {
	if m == nil {
		return
	}
	m.batchesIngested.WithLabelValues("error").Inc()
}

// ObserveAnalysis records one run of kind "snapshot" or "rules".
func (m *Metrics) ObserveAnalysis(kind string, seconds float64, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.analysisDuration.WithLabelValues(kind, result).Observe(seconds)
}

// SetIssueCounts replaces the per-rule issue gauges.
func (m *Metrics) SetIssueCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.issuesDetected.Reset()
	for rule, n := range counts {
		m.issuesDetected.WithLabelValues(rule).Set(float64(n))
	}
}

func (m *Metrics) SubscriberConnected() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberDisconnected() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

func (m *Metrics) NotificationsDropped(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.notifyDropped.Add(float64(n))
}

func (m *Metrics) ExportFailed() {
	if m == nil {
		return
	}
	m.exportErrors.Inc()
}
