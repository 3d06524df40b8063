// Package metrics provides Prometheus metrics for the CGM risk engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Training pipeline
	sessionsProcessed prometheus.Counter
	sessionsFailed    *prometheus.CounterVec
	sessionsSkipped   prometheus.Counter
	gridRows          prometheus.Counter
	trainingRowsKept  *prometheus.CounterVec
	trainingRowsDrop  prometheus.Counter
	positiveLabels    prometheus.Counter
	sessionLatency    prometheus.Histogram

	// Serving
	predictions          *prometheus.CounterVec
	predictionLatency    prometheus.Histogram
	predictionRejections *prometheus.CounterVec
	riskScores           prometheus.Histogram
	explainFallbacks     prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec

	// Queue and workers
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueue       prometheus.Counter
	queueDequeue       prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec
	workerCount        prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "cgmrisk",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.sessionsProcessed = auto.NewCounter(m.counterOpts("sessions_processed_total",
		"Total number of recording sessions aligned and engineered"))
	m.sessionsFailed = auto.NewCounterVec(m.counterOpts("sessions_failed_total",
		"Total number of sessions that failed, by stage"), []string{"stage"})
	m.sessionsSkipped = auto.NewCounter(m.counterOpts("sessions_skipped_total",
		"Total number of sessions skipped as duplicates"))
	m.gridRows = auto.NewCounter(m.counterOpts("grid_rows_total",
		"Total number of 5-minute grid rows produced by the aligner"))
	m.trainingRowsKept = auto.NewCounterVec(m.counterOpts("training_rows_kept_total",
		"Training rows retained after the label and history gate, by partition"), []string{"partition"})
	m.trainingRowsDrop = auto.NewCounter(m.counterOpts("training_rows_dropped_total",
		"Training rows dropped for missing label, slope_60 or cob_2h"))
	m.positiveLabels = auto.NewCounter(m.counterOpts("positive_labels_total",
		"Training rows labelled as a future spike"))
	m.sessionLatency = auto.NewHistogram(m.histogramOpts("session_latency_milliseconds",
		"Time to parse, align and engineer one session", m.histogramBuckets))

	m.predictions = auto.NewCounterVec(m.counterOpts("predictions_total",
		"Predictions served, by outcome"), []string{"outcome"})
	m.predictionLatency = auto.NewHistogram(m.histogramOpts("prediction_latency_milliseconds",
		"End-to-end prediction latency", m.histogramBuckets))
	m.predictionRejections = auto.NewCounterVec(m.counterOpts("prediction_rejections_total",
		"Prediction requests rejected before reaching the feature engine, by reason"), []string{"reason"})
	m.riskScores = auto.NewHistogram(m.histogramOpts("risk_score",
		"Distribution of served risk scores", prometheus.LinearBuckets(0, 0.1, 11)))
	m.explainFallbacks = auto.NewCounter(m.counterOpts("explanation_fallbacks_total",
		"Explanations served by the rule-based fallback after a backend failure"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"Total number of HTTP requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", m.histogramBuckets), []string{"endpoint", "method", "status_code"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counterOpts("errors_by_endpoint_total",
		"Errors by endpoint"), []string{"endpoint", "method", "error_type"})

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Current number of queued session jobs"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Maximum number of queued session jobs"))
	m.queueEnqueue = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Session jobs enqueued"))
	m.queueDequeue = auto.NewCounter(m.counterOpts("queue_dequeue_total", "Session jobs dequeued"))
	m.queueEnqueueErrors = auto.NewCounterVec(m.counterOpts("queue_enqueue_errors_total",
		"Rejected enqueue attempts, by reason"), []string{"reason"})
	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Number of session workers"))
}

// Training pipeline.

// RecordSessionProcessed increments the processed sessions counter.
func RecordSessionProcessed() {
	globalManager.sessionsProcessed.Inc()
}

// RecordSessionFailed increments the failed sessions counter for a stage
// (read, parse, align).
func RecordSessionFailed(stage string) {
	globalManager.sessionsFailed.WithLabelValues(stage).Inc()
}

// RecordSessionSkipped increments the duplicate sessions counter.
func RecordSessionSkipped() {
	globalManager.sessionsSkipped.Inc()
}

// RecordGridRows adds n aligned grid rows.
func RecordGridRows(n int) {
	globalManager.gridRows.Add(float64(n))
}

// RecordTrainingRows records retained and dropped training rows for a partition.
func RecordTrainingRows(partition string, kept, dropped, positives int) {
	globalManager.trainingRowsKept.WithLabelValues(partition).Add(float64(kept))
	globalManager.trainingRowsDrop.Add(float64(dropped))
	globalManager.positiveLabels.Add(float64(positives))
}

// RecordSessionLatency records per-session processing latency in milliseconds.
func RecordSessionLatency(latencyMs float64) {
	globalManager.sessionLatency.Observe(latencyMs)
}

// Serving.

// RecordPrediction increments the predictions counter for an outcome
// (ok, degraded, error).
func RecordPrediction(outcome string) {
	globalManager.predictions.WithLabelValues(outcome).Inc()
}

// RecordPredictionLatency records prediction latency in milliseconds.
func RecordPredictionLatency(latencyMs float64) {
	globalManager.predictionLatency.Observe(latencyMs)
}

// RecordPredictionRejection increments the rejection counter for a reason.
func RecordPredictionRejection(reason string) {
	globalManager.predictionRejections.WithLabelValues(reason).Inc()
}

// RecordRiskScore observes a served risk score.
func RecordRiskScore(score float64) {
	globalManager.riskScores.Observe(score)
}

// RecordExplanationFallback increments the explanation fallback counter.
func RecordExplanationFallback() {
	globalManager.explainFallbacks.Inc()
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// Queue and workers.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueue.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeue.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter for a reason.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
