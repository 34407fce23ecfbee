package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	askIntentTotal      *prometheus.CounterVec
	askModeTotal        *prometheus.CounterVec
	askConfidence       *prometheus.HistogramVec
	askBlockedTotal     *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec
	retrievalCandidates *prometheus.HistogramVec
	rewriteFanout       *prometheus.HistogramVec
	auditPublishTotal   *prometheus.CounterVec
	llmTokensTotal      *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "counsel",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "counsel",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "counsel",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	askIntentTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "counsel",
			Subsystem: "ask",
			Name:      "requests_total",
			Help:      "Total answered questions by routed intent.",
		},
		[]string{"service", "intent"},
	)
	askModeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "counsel",
			Subsystem: "ask",
			Name:      "mode_total",
			Help:      "Total answered questions by synthesis mode.",
		},
		[]string{"service", "mode"},
	)
	askConfidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "counsel",
			Subsystem: "ask",
			Name:      "confidence",
			Help:      "Distribution of final answer confidence.",
			Buckets:   []float64{0.2, 0.35, 0.5, 0.6, 0.65, 0.7, 0.8, 0.9},
		},
		[]string{"service"},
	)
	askBlockedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "counsel",
			Subsystem: "ask",
			Name:      "blocked_total",
			Help:      "Total answers refused by the safety guard.",
		},
		[]string{"service", "intent"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "counsel",
			Subsystem: "ask",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	retrievalCandidates := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "counsel",
			Subsystem: "retrieval",
			Name:      "candidates",
			Help:      "Distribution of fused candidates behind the winning answer.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 40},
		},
		[]string{"service"},
	)
	rewriteFanout := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "counsel",
			Subsystem: "retrieval",
			Name:      "rewrite_fanout",
			Help:      "Distribution of queries per question after rewriting.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6},
		},
		[]string{"service"},
	)
	auditPublishTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "counsel",
			Subsystem: "audit",
			Name:      "publish_total",
			Help:      "Total audit publish attempts by outcome.",
		},
		[]string{"service", "outcome"},
	)
	llmTokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "counsel",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Approximate token usage by direction.",
		},
		[]string{"service", "operation", "direction", "model"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		askIntentTotal,
		askModeTotal,
		askConfidence,
		askBlockedTotal,
		stageDuration,
		retrievalCandidates,
		rewriteFanout,
		auditPublishTotal,
		llmTokensTotal,
	)

	return &HTTPServerMetrics{
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		askIntentTotal:      askIntentTotal,
		askModeTotal:        askModeTotal,
		askConfidence:       askConfidence,
		askBlockedTotal:     askBlockedTotal,
		stageDuration:       stageDuration,
		retrievalCandidates: retrievalCandidates,
		rewriteFanout:       rewriteFanout,
		auditPublishTotal:   auditPublishTotal,
		llmTokensTotal:      llmTokensTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses unknown paths into one label value to keep
// metric cardinality bounded.
func normalizePath(path string) string {
	switch path {
	case "/v1/ask", "/healthz", "/metrics":
		return path
	default:
		return "other"
	}
}

func (m *HTTPServerMetrics) RecordAskOutcome(service, intent, mode string, confidence float64, blocked bool) {
	if intent == "" {
		intent = "unknown"
	}
	if mode == "" {
		mode = "unknown"
	}
	m.askIntentTotal.WithLabelValues(service, intent).Inc()
	m.askModeTotal.WithLabelValues(service, mode).Inc()
	m.askConfidence.WithLabelValues(service).Observe(confidence)
	if blocked {
		m.askBlockedTotal.WithLabelValues(service, intent).Inc()
	}
}

func (m *HTTPServerMetrics) RecordStageDuration(service, stage string, duration time.Duration) {
	if stage == "" {
		stage = "unknown"
	}
	m.stageDuration.WithLabelValues(service, stage).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordRetrievalCandidates(service string, candidates int) {
	if candidates < 0 {
		return
	}
	m.retrievalCandidates.WithLabelValues(service).Observe(float64(candidates))
}

func (m *HTTPServerMetrics) RecordRewriteFanout(service string, queries int) {
	if queries <= 0 {
		return
	}
	m.rewriteFanout.WithLabelValues(service).Observe(float64(queries))
}

func (m *HTTPServerMetrics) RecordAuditPublish(service, outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.auditPublishTotal.WithLabelValues(service, outcome).Inc()
}

func (m *HTTPServerMetrics) RecordTokenUsage(service, operation, model string, promptTokens, completionTokens int) {
	if model == "" {
		model = "unknown"
	}
	if promptTokens > 0 {
		m.llmTokensTotal.WithLabelValues(service, operation, "in", model).Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.llmTokensTotal.WithLabelValues(service, operation, "out", model).Add(float64(completionTokens))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
