// Package metrics provides Prometheus metrics for the stopodds service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the stopodds service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Intake Metrics
	submissionsAccepted  prometheus.Counter
	submissionsRejected  *prometheus.CounterVec
	submissionsAnomalous *prometheus.CounterVec
	storedSubmissions    prometheus.Gauge

	// Training Metrics
	trainingRuns       *prometheus.CounterVec
	trainingDuration   prometheus.Histogram
	dispersionRatio    prometheus.Gauge
	publishedTrainRows prometheus.Gauge
	publishedCells     prometheus.Gauge
	droppedTerms       prometheus.Counter

	// Read Path Metrics
	predictions *prometheus.CounterVec

	// Queue and Worker Metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueue       prometheus.Counter
	queueDequeue       prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	jobsProcessed      *prometheus.CounterVec
	jobLatency         prometheus.Histogram
	leaseConflicts     prometheus.Counter

	// Storage Metrics
	storeLatency *prometheus.HistogramVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error Metrics
	errorRateByComponent *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "stopodds",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets, ConstLabels: m.constLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	m.submissionsAccepted = m.counter("submissions_accepted_total", "Total number of submissions accepted by intake")
	m.submissionsRejected = m.counterVec("submissions_rejected_total", "Total number of submissions rejected by reason code", "code")
	m.submissionsAnomalous = m.counterVec("submissions_anomalous_total", "Total number of accepted submissions carrying an anomaly flag", "flag")
	m.storedSubmissions = m.gauge("stored_submissions", "Current number of stored submissions")

	m.trainingRuns = m.counterVec("training_runs_total", "Total number of training runs by kind and outcome", "kind", "outcome")
	m.trainingDuration = m.histogram("training_duration_seconds", "Histogram of training job duration in seconds",
		prometheus.ExponentialBuckets(0.01, 2, 14))
	m.dispersionRatio = m.gauge("dispersion_ratio", "Pearson dispersion ratio of the last fitted Poisson model")
	m.publishedTrainRows = m.gauge("published_train_rows", "Rows used by the currently published run")
	m.publishedCells = m.gauge("published_cells", "Number of aggregate cells in the currently published snapshot")
	m.droppedTerms = m.counter("dropped_terms_total", "Total number of model terms dropped during fitting")

	m.predictions = m.counterVec("predictions_total", "Total number of predictions served by mode", "mode")

	m.queueSize = m.gauge("queue_size", "Current number of jobs waiting in the queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum job queue capacity")
	m.queueEnqueue = m.counter("queue_enqueue_total", "Total number of jobs enqueued")
	m.queueDequeue = m.counter("queue_dequeue_total", "Total number of jobs dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of jobs rejected because the queue was full or closed")
	m.jobsProcessed = m.counterVec("jobs_processed_total", "Total number of jobs processed by kind and status", "kind", "status")
	m.jobLatency = m.histogram("job_latency_milliseconds", "Histogram of job processing latency in milliseconds",
		prometheus.ExponentialBuckets(1, 2, 16))
	m.leaseConflicts = m.counter("lease_conflicts_total", "Total number of jobs skipped because another holder owned the training lease")

	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Histogram of storage operation latency in milliseconds", "driver", "op")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		"endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component and type",
		"component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Current system memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Current number of goroutines")
}

// Intake Metrics Functions.

// RecordSubmissionAccepted increments the accepted submissions counter.
func RecordSubmissionAccepted() {
	globalManager.submissionsAccepted.Inc()
}

// RecordSubmissionRejected increments the rejected submissions counter for a reason code.
func RecordSubmissionRejected(code string) {
	globalManager.submissionsRejected.WithLabelValues(code).Inc()
}

// RecordSubmissionAnomaly increments the anomalous submissions counter for a flag.
func RecordSubmissionAnomaly(flag string) {
	globalManager.submissionsAnomalous.WithLabelValues(flag).Inc()
}

// UpdateStoredSubmissions sets the stored submissions gauge.
func UpdateStoredSubmissions(count int) {
	globalManager.storedSubmissions.Set(float64(count))
}

// Training Metrics Functions.

// RecordTrainingRun increments the training runs counter.
func RecordTrainingRun(kind, outcome string) {
	globalManager.trainingRuns.WithLabelValues(kind, outcome).Inc()
}

// RecordTrainingDuration records a training job duration in seconds.
func RecordTrainingDuration(seconds float64) {
	globalManager.trainingDuration.Observe(seconds)
}

// UpdateDispersionRatio sets the dispersion ratio gauge.
func UpdateDispersionRatio(ratio float64) {
	globalManager.dispersionRatio.Set(ratio)
}

// UpdatePublishedTrainRows sets the published train rows gauge.
func UpdatePublishedTrainRows(rows int) {
	globalManager.publishedTrainRows.Set(float64(rows))
}

// UpdatePublishedCells sets the published cells gauge.
func UpdatePublishedCells(count int) {
	globalManager.publishedCells.Set(float64(count))
}

// RecordDroppedTerms adds to the dropped terms counter.
func RecordDroppedTerms(count int) {
	globalManager.droppedTerms.Add(float64(count))
}

// Read Path Metrics Functions.

// RecordPrediction increments the predictions counter for a mode.
func RecordPrediction(mode string) {
	globalManager.predictions.WithLabelValues(mode).Inc()
}

// Queue Metrics Functions.

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

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// Worker Metrics Functions.

// RecordJobProcessed increments the processed jobs counter.
func RecordJobProcessed(kind, status string) {
	globalManager.jobsProcessed.WithLabelValues(kind, status).Inc()
}

// RecordJobLatency records job processing latency in milliseconds.
func RecordJobLatency(latencyMs float64) {
	globalManager.jobLatency.Observe(latencyMs)
}

// RecordLeaseConflict increments the lease conflict counter.
func RecordLeaseConflict() {
	globalManager.leaseConflicts.Inc()
}

// Storage Metrics Functions.

// RecordStoreLatency records a storage operation latency in milliseconds.
func RecordStoreLatency(driver, op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(driver, op).Observe(latencyMs)
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
