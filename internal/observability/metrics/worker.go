package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	renderTotal    *prometheus.CounterVec
	renderDuration *prometheus.HistogramVec
	renderInFlight prometheus.Gauge
	pagesTotal     *prometheus.CounterVec
	queueLag       *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	renderTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriptor",
			Subsystem: "worker",
			Name:      "document_render_total",
			Help:      "Total rendered documents by status.",
		},
		[]string{"service", "status"},
	)
	renderDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scriptor",
			Subsystem: "worker",
			Name:      "document_render_duration_seconds",
			Help:      "Document render duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	renderInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scriptor",
			Subsystem: "worker",
			Name:      "document_render_in_flight",
			Help:      "Number of in-flight document render tasks.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	pagesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriptor",
			Subsystem: "worker",
			Name:      "pages_total",
			Help:      "Total page images by render outcome.",
		},
		[]string{"service", "outcome"},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scriptor",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between document upload and render start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(renderTotal, renderDuration, renderInFlight, pagesTotal, queueLag)

	return &WorkerMetrics{
		registry:       registry,
		renderTotal:    renderTotal,
		renderDuration: renderDuration,
		renderInFlight: renderInFlight,
		pagesTotal:     pagesTotal,
		queueLag:       queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartDocument() {
	m.renderInFlight.Inc()
}

func (m *WorkerMetrics) FinishDocument(service string, duration time.Duration, err error) {
	m.renderInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.renderTotal.WithLabelValues(service, status).Inc()
	m.renderDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObservePages(service string, rendered, skipped int) {
	if rendered > 0 {
		m.pagesTotal.WithLabelValues(service, "rendered").Add(float64(rendered))
	}
	if skipped > 0 {
		m.pagesTotal.WithLabelValues(service, "skipped").Add(float64(skipped))
	}
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}
