package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	insertTotal    *prometheus.CounterVec
	insertDuration *prometheus.HistogramVec
	insertInFlight prometheus.Gauge
	queueLag       *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	insertTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "counsel",
			Subsystem: "worker",
			Name:      "audit_insert_total",
			Help:      "Total persisted audit records by status.",
		},
		[]string{"service", "status"},
	)
	insertDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "counsel",
			Subsystem: "worker",
			Name:      "audit_insert_duration_seconds",
			Help:      "Audit record insert duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	insertInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "counsel",
			Subsystem: "worker",
			Name:      "audit_insert_in_flight",
			Help:      "Number of audit records currently being persisted.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "counsel",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between answer completion and audit persistence start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(insertTotal, insertDuration, insertInFlight, queueLag)

	return &WorkerMetrics{
		registry:       registry,
		insertTotal:    insertTotal,
		insertDuration: insertDuration,
		insertInFlight: insertInFlight,
		queueLag:       queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartInsert() {
	m.insertInFlight.Inc()
}

func (m *WorkerMetrics) FinishInsert(service string, duration time.Duration, err error) {
	m.insertInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.insertTotal.WithLabelValues(service, status).Inc()
	m.insertDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}
