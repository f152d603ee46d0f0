package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Consumer metrics
	MessagesConsumed   *prometheus.CounterVec
	OffsetCommits      *prometheus.CounterVec
	Rebalances         *prometheus.CounterVec
	RebalanceDuration  *prometheus.HistogramVec
	PartitionsAssigned *prometheus.GaugeVec
	CommitLatency      *prometheus.HistogramVec

	// Recorder metrics
	RecordsProcessed *prometheus.CounterVec

	// Writer metrics
	MessagesWritten       *prometheus.CounterVec
	ConversionFailures    *prometheus.CounterVec
	Splits                *prometheus.CounterVec
	BackgroundWriteErrors prometheus.Counter
	CacheBytes            prometheus.Gauge
	CacheMessages         prometheus.Gauge
	SnapshotDropped       prometheus.Counter

	// Storage metrics
	FilesWritten         *prometheus.CounterVec
	StorageWriteDuration *prometheus.HistogramVec
	FileSize             *prometheus.HistogramVec
	StorageErrors        *prometheus.CounterVec

	// Archive metrics
	Uploads        *prometheus.CounterVec
	UploadDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		// Consumer metrics
		MessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_consumed_total",
				Help: "Total number of messages consumed from Kafka",
			},
			[]string{"topic", "partition"},
		),
		OffsetCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_offset_commit_total",
				Help: "Total number of offset commits",
			},
			[]string{"topic", "partition", "status"},
		),
		Rebalances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_rebalance_total",
				Help: "Total number of consumer group rebalances",
			},
			[]string{"group"},
		),
		RebalanceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafka_rebalance_duration_seconds",
				Help:    "Duration of consumer group rebalances",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"group"},
		),
		PartitionsAssigned: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kafka_partitions_assigned",
				Help: "Number of partitions currently assigned to this consumer",
			},
			[]string{"topic"},
		),
		CommitLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafka_commit_latency_seconds",
				Help:    "Latency of offset commit operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"topic", "partition"},
		),

		// Recorder metrics
		RecordsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_records_processed_total",
				Help: "Total number of consumed records handed to the writer",
			},
			[]string{"topic", "status"},
		),

		// Writer metrics
		MessagesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bag_messages_written_total",
				Help: "Total number of messages accepted by the writer",
			},
			[]string{"topic", "mode"},
		),
		ConversionFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bag_conversion_failures_total",
				Help: "Total number of messages rejected by the converter pipeline",
			},
			[]string{"topic"},
		),
		Splits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bag_splits_total",
				Help: "Total number of bagfile splits",
			},
			[]string{"reason"},
		),
		BackgroundWriteErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bag_background_write_errors_total",
				Help: "Total number of batch writes that failed in the cache consumer",
			},
		),
		CacheBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bag_cache_bytes",
				Help: "Payload bytes currently held in the message cache",
			},
		),
		CacheMessages: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bag_cache_messages",
				Help: "Messages currently held in the message cache",
			},
		),
		SnapshotDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bag_snapshot_dropped_total",
				Help: "Messages evicted from or rejected by the snapshot ring buffer",
			},
		),

		// Storage metrics
		FilesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bagfiles_written_total",
				Help: "Total number of bagfiles closed",
			},
			[]string{"storage_id", "status"},
		),
		StorageWriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storage_write_duration_seconds",
				Help:    "Duration of bagfile append operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"storage_id"},
		),
		FileSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bagfile_size_bytes",
				Help:    "Size of closed bagfiles",
				Buckets: prometheus.ExponentialBuckets(1024*1024, 2, 10), // 1MB to 512MB
			},
			[]string{"storage_id"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"backend", "error_type"},
		),

		// Archive metrics
		Uploads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archive_uploads_total",
				Help: "Total number of bagfile uploads",
			},
			[]string{"backend", "status"},
		),
		UploadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archive_upload_duration_seconds",
				Help:    "Duration of bagfile uploads",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"backend"},
		),
	}
}

// IncMessagesConsumed increments messages consumed counter.
func (m *Metrics) IncMessagesConsumed(topic string, partition int32) {
	m.MessagesConsumed.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Inc()
}

// IncRebalances increments rebalances counter.
func (m *Metrics) IncRebalances(groupID string) {
	m.Rebalances.WithLabelValues(groupID).Inc()
}

// IncOffsetCommits increments offset commits counter.
func (m *Metrics) IncOffsetCommits(topic string, partition int32, status string) {
	m.OffsetCommits.WithLabelValues(topic, fmt.Sprintf("%d", partition), status).Inc()
}

// ObserveRebalanceDuration observes rebalance duration.
func (m *Metrics) ObserveRebalanceDuration(groupID string, duration float64) {
	m.RebalanceDuration.WithLabelValues(groupID).Observe(duration)
}

// ObserveCommitLatency observes commit latency.
func (m *Metrics) ObserveCommitLatency(topic string, partition int32, duration float64) {
	m.CommitLatency.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Observe(duration)
}

// SetPartitionsAssigned sets partitions assigned gauge.
func (m *Metrics) SetPartitionsAssigned(topic string, count float64) {
	m.PartitionsAssigned.WithLabelValues(topic).Set(count)
}

// IncRecordsProcessed increments the recorder outcome counter.
func (m *Metrics) IncRecordsProcessed(topic string, status string) {
	m.RecordsProcessed.WithLabelValues(topic, status).Inc()
}

// IncMessagesWritten increments messages written counter.
func (m *Metrics) IncMessagesWritten(topic string, mode string) {
	m.MessagesWritten.WithLabelValues(topic, mode).Inc()
}

// IncConversionFailures increments conversion failures counter.
func (m *Metrics) IncConversionFailures(topic string) {
	m.ConversionFailures.WithLabelValues(topic).Inc()
}

// IncSplits increments bagfile splits counter.
func (m *Metrics) IncSplits(reason string) {
	m.Splits.WithLabelValues(reason).Inc()
}

// IncBackgroundWriteErrors increments failed background batch writes.
func (m *Metrics) IncBackgroundWriteErrors() {
	m.BackgroundWriteErrors.Inc()
}

// SetCacheUsage sets cache usage gauges.
func (m *Metrics) SetCacheUsage(bytes float64, messages float64) {
	m.CacheBytes.Set(bytes)
	m.CacheMessages.Set(messages)
}

// AddSnapshotDropped adds to the snapshot dropped counter.
func (m *Metrics) AddSnapshotDropped(count float64) {
	m.SnapshotDropped.Add(count)
}

// IncFilesWritten increments bagfiles written counter.
func (m *Metrics) IncFilesWritten(storageID string, status string) {
	m.FilesWritten.WithLabelValues(storageID, status).Inc()
}

// ObserveFileSize observes bagfile size.
func (m *Metrics) ObserveFileSize(storageID string, size float64) {
	m.FileSize.WithLabelValues(storageID).Observe(size)
}

// ObserveStorageWriteDuration observes storage write duration.
func (m *Metrics) ObserveStorageWriteDuration(storageID string, duration float64) {
	m.StorageWriteDuration.WithLabelValues(storageID).Observe(duration)
}

// IncStorageErrors increments storage errors counter.
func (m *Metrics) IncStorageErrors(backend string, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}

// IncUploads increments archive uploads counter.
func (m *Metrics) IncUploads(backend string, status string) {
	m.Uploads.WithLabelValues(backend, status).Inc()
}

// ObserveUploadDuration observes archive upload duration.
func (m *Metrics) ObserveUploadDuration(backend string, duration float64) {
	m.UploadDuration.WithLabelValues(backend).Observe(duration)
}
