package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DownloadsTotal counts finished downloads by status and quality.
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melodex_downloads_total",
			Help: "Total number of downloads",
		},
		[]string{"status", "quality"},
	)

	// DownloadDuration observes how long a track takes end to end.
	DownloadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "melodex_download_duration_seconds",
			Help:    "Download duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"quality"},
	)

	// QueueSize is the current number of family heads in the queue.
	QueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "melodex_queue_size",
			Help: "Current queue size",
		},
	)

	// ActiveDownloads is the number of tracks currently streaming.
	ActiveDownloads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "melodex_active_downloads",
			Help: "Number of active downloads",
		},
	)

	// DownloadBytesTotal counts bytes written to disk.
	DownloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "melodex_download_bytes_total",
			Help: "Total bytes downloaded",
		},
	)

	// APIRequestsTotal counts service API calls by endpoint and status.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melodex_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"endpoint", "status"},
	)

	// APIRequestDuration observes service API latency.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "melodex_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// DecryptionDuration observes per-track stream decryption time.
	DecryptionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "melodex_decryption_duration_seconds",
			Help:    "Decryption duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ErrorsTotal counts errors by kind.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melodex_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)

	// RetriesTotal counts retry attempts by error kind.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melodex_retries_total",
			Help: "Total number of retry attempts",
		},
		[]string{"type"},
	)
)

// RecordDownloadStart marks a track as actively downloading.
func RecordDownloadStart() {
	ActiveDownloads.Inc()
}

// RecordDownloadComplete records a successful download.
func RecordDownloadComplete(quality string, duration time.Duration, bytes int64) {
	DownloadsTotal.WithLabelValues("completed", quality).Inc()
	DownloadDuration.WithLabelValues(quality).Observe(duration.Seconds())
	DownloadBytesTotal.Add(float64(bytes))
	ActiveDownloads.Dec()
}

// RecordDownloadFailed records a permanently failed download.
func RecordDownloadFailed(quality string, errorType string) {
	DownloadsTotal.WithLabelValues("failed", quality).Inc()
	ErrorsTotal.WithLabelValues(errorType).Inc()
	ActiveDownloads.Dec()
}

// UpdateQueueSize publishes the current queue depth.
func UpdateQueueSize(size int) {
	QueueSize.Set(float64(size))
}

// RecordAPIRequest records one service API call.
func RecordAPIRequest(endpoint string, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordDecryption records one stream decryption.
func RecordDecryption(duration time.Duration) {
	DecryptionDuration.Observe(duration.Seconds())
}

// RecordDownloadInterrupted marks an active track that left downloading
// without reaching a terminal state (requeue, pause, shutdown).
func RecordDownloadInterrupted() {
	ActiveDownloads.Dec()
}

// RecordRetry records one retry attempt.
func RecordRetry(errorType string) {
	RetriesTotal.WithLabelValues(errorType).Inc()
}
