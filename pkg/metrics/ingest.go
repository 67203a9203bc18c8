package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// IngestMetrics instruments the upload paths and the shared-memory
// exchanges. A nil *IngestMetrics is valid and records nothing.
type IngestMetrics struct {
	uploadsTotal   *prometheus.CounterVec
	uploadBytes    *prometheus.HistogramVec
	uploadErrors   *prometheus.CounterVec
	activeSessions prometheus.Gauge
	shmOperations  *prometheus.CounterVec
	shmWaitSeconds *prometheus.HistogramVec
}

// NewIngestMetrics creates the ingest metric set on the process
// registry. Returns nil when metrics are not enabled.
func NewIngestMetrics() *IngestMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &IngestMetrics{
		uploadsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "modalgate_uploads_total",
				Help: "Completed uploads by payload kind and transport mode",
			},
			[]string{"kind", "mode"},
		),
		uploadBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "modalgate_upload_bytes",
				Help:    "Upload payload sizes in bytes by transport mode",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB .. 256MiB
			},
			[]string{"mode"},
		),
		uploadErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "modalgate_upload_errors_total",
				Help: "Failed uploads by error kind",
			},
			[]string{"reason"},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "modalgate_chunk_sessions_active",
				Help: "In-flight chunked upload sessions",
			},
		),
		shmOperations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "modalgate_shm_operations_total",
				Help: "Shared-memory exchange operations by type and outcome",
			},
			[]string{"operation", "outcome"},
		),
		shmWaitSeconds: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "modalgate_shm_operation_seconds",
				Help:    "Shared-memory operation wall time in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"operation"},
		),
	}
}

// ObserveUpload records one completed upload.
func (m *IngestMetrics) ObserveUpload(kind, mode string, bytes int) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(kind, mode).Inc()
	m.uploadBytes.WithLabelValues(mode).Observe(float64(bytes))
}

// ObserveUploadError records a failed upload.
func (m *IngestMetrics) ObserveUploadError(reason string) {
	if m == nil {
		return
	}
	m.uploadErrors.WithLabelValues(reason).Inc()
}

// SetActiveSessions tracks the chunk session gauge.
func (m *IngestMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// ObserveShmOperation records one exchange operation.
func (m *IngestMetrics) ObserveShmOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.shmOperations.WithLabelValues(operation, outcome).Inc()
	m.shmWaitSeconds.WithLabelValues(operation).Observe(elapsed.Seconds())
}
