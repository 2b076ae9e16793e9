package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics holds HTTP-related Prometheus metrics
type HTTPMetrics struct {
	RequestDuration  *prometheus.HistogramVec
	RequestsTotal    *prometheus.CounterVec
	RequestsInFlight prometheus.Gauge
}

// NewHTTPMetrics creates HTTP metrics collectors
func NewHTTPMetrics(namespace string) *HTTPMetrics {
	return &HTTPMetrics{
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
	}
}

// BatchMetrics holds thumbnailing and batch run Prometheus metrics
type BatchMetrics struct {
	FilesTotal   *prometheus.CounterVec
	FileDuration *prometheus.HistogramVec
	BytesSaved   prometheus.Counter
	RunsTotal    *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	RunsActive   *prometheus.GaugeVec
}

// NewBatchMetrics creates batch metrics collectors
func NewBatchMetrics(namespace string) *BatchMetrics {
	return &BatchMetrics{
		FilesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_files_total",
				Help:      "Total number of files handled by batch operations",
			},
			[]string{"operation", "outcome"},
		),
		FileDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_file_duration_seconds",
				Help:      "Time spent on a single file in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),
		BytesSaved: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_bytes_saved_total",
				Help:      "Bytes saved by accepted thumbnails",
			},
		),
		RunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of batch runs executed",
			},
			[]string{"kind", "status"},
		),
		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Batch run duration in seconds",
				Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),
		RunsActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_active",
				Help:      "Number of batch runs currently executing",
			},
			[]string{"kind"},
		),
	}
}

// ObserveFile records the outcome and duration of one file. Safe on a nil
// receiver.
func (m *BatchMetrics) ObserveFile(operation, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.FilesTotal.WithLabelValues(operation, outcome).Inc()
	RecordDuration(start, m.FileDuration.WithLabelValues(operation))
}

// AddBytesSaved counts bytes removed by an accepted thumbnail
func (m *BatchMetrics) AddBytesSaved(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesSaved.Add(float64(n))
}

// StartRun marks a run of kind as active and returns the function that
// records its end with status. Safe on a nil receiver.
func (m *BatchMetrics) StartRun(kind string) func(status string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.RunsActive.WithLabelValues(kind).Inc()
	return func(status string) {
		m.RunsActive.WithLabelValues(kind).Dec()
		m.RunsTotal.WithLabelValues(kind, status).Inc()
		RecordDuration(start, m.RunDuration.WithLabelValues(kind))
	}
}

// QueueMetrics holds queue-related Prometheus metrics
type QueueMetrics struct {
	Depth            prometheus.Gauge
	MessagesProduced prometheus.Counter
	MessagesConsumed prometheus.Counter
	MessagesFailed   prometheus.Counter
	ConsumeDuration  prometheus.Histogram
}

// NewQueueMetrics creates queue metrics collectors
func NewQueueMetrics(namespace string) *QueueMetrics {
	return &QueueMetrics{
		Depth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current number of messages in the queue",
			},
		),
		MessagesProduced: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_messages_produced_total",
				Help:      "Total number of messages produced to the queue",
			},
		),
		MessagesConsumed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_messages_consumed_total",
				Help:      "Total number of messages consumed from the queue",
			},
		),
		MessagesFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_messages_failed_total",
				Help:      "Total number of messages that failed processing",
			},
		),
		ConsumeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "queue_consume_duration_seconds",
				Help:      "Time spent consuming messages from the queue",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
	}
}

// StorageMetrics holds storage operation Prometheus metrics
type StorageMetrics struct {
	OperationDuration *prometheus.HistogramVec
	OperationsTotal   *prometheus.CounterVec
	BytesTransferred  *prometheus.CounterVec
}

// NewStorageMetrics creates storage metrics collectors
func NewStorageMetrics(namespace string) *StorageMetrics {
	return &StorageMetrics{
		OperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_operation_duration_seconds",
				Help:      "Storage operation duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation", "status"},
		),
		OperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_operations_total",
				Help:      "Total number of storage operations",
			},
			[]string{"operation", "status"},
		),
		BytesTransferred: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_bytes_transferred_total",
				Help:      "Total number of bytes transferred to/from storage",
			},
			[]string{"operation"},
		),
	}
}

// DatabaseMetrics holds database operation Prometheus metrics
type DatabaseMetrics struct {
	QueryDuration     *prometheus.HistogramVec
	QueriesTotal      *prometheus.CounterVec
	ConnectionsActive prometheus.Gauge
}

// NewDatabaseMetrics creates database metrics collectors
func NewDatabaseMetrics(namespace string) *DatabaseMetrics {
	return &DatabaseMetrics{
		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "database_query_duration_seconds",
				Help:      "Database query duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation", "status"},
		),
		QueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "database_queries_total",
				Help:      "Total number of database queries",
			},
			[]string{"operation", "status"},
		),
		ConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "database_connections_active",
				Help:      "Number of active database connections",
			},
		),
	}
}

// RecordDuration helper to record operation duration
func RecordDuration(start time.Time, histogram prometheus.Observer) {
	duration := time.Since(start).Seconds()
	histogram.Observe(duration)
}
