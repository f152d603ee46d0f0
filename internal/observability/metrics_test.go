package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestMetrics_IncMessagesConsumed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.IncMessagesConsumed("test-topic", 0)
	metrics.IncMessagesConsumed("test-topic", 0)
	metrics.IncMessagesConsumed("another-topic", 1)

	if got := testutil.ToFloat64(metrics.MessagesConsumed.WithLabelValues("test-topic", "0")); got != 2 {
		t.Errorf("messages consumed = %v, want 2", got)
	}
}

func TestMetrics_WriterCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.IncMessagesWritten("/imu", "direct")
	metrics.IncMessagesWritten("/imu", "direct")
	metrics.IncConversionFailures("/imu")
	metrics.IncSplits("size")
	metrics.IncSplits("manual")
	metrics.IncBackgroundWriteErrors()
	metrics.AddSnapshotDropped(3)

	if got := testutil.ToFloat64(metrics.MessagesWritten.WithLabelValues("/imu", "direct")); got != 2 {
		t.Errorf("messages written = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.Splits.WithLabelValues("size")); got != 1 {
		t.Errorf("size splits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.BackgroundWriteErrors); got != 1 {
		t.Errorf("background write errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.SnapshotDropped); got != 3 {
		t.Errorf("snapshot dropped = %v, want 3", got)
	}
}

func TestMetrics_SetCacheUsage(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.SetCacheUsage(1024, 8)
	metrics.SetCacheUsage(512, 4)

	if got := testutil.ToFloat64(metrics.CacheBytes); got != 512 {
		t.Errorf("cache bytes = %v, want 512", got)
	}
	if got := testutil.ToFloat64(metrics.CacheMessages); got != 4 {
		t.Errorf("cache messages = %v, want 4", got)
	}
}

func TestMetrics_StorageAndArchive(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.IncFilesWritten("avro", "success")
	metrics.ObserveFileSize("avro", 2048)
	metrics.ObserveStorageWriteDuration("parquet", 0.01)
	metrics.IncStorageErrors("s3", "upload")
	metrics.IncUploads("gcs", "success")
	metrics.ObserveUploadDuration("gcs", 1.5)

	if got := testutil.ToFloat64(metrics.StorageErrors.WithLabelValues("s3", "upload")); got != 1 {
		t.Errorf("storage errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.Uploads.WithLabelValues("gcs", "success")); got != 1 {
		t.Errorf("uploads = %v, want 1", got)
	}
}
