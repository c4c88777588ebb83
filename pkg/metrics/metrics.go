package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Source metrics
	SourcesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shuttle_sources_total",
			Help: "Total number of sources by type and sync status",
		},
		[]string{"type", "status"},
	)

	// Sync run metrics
	SyncRunsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shuttle_sync_runs_in_flight",
			Help: "Sync runs currently running, by source type",
		},
		[]string{"type"},
	)

	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shuttle_sync_runs_total",
			Help: "Total sync runs reaching a terminal state, by outcome",
		},
		[]string{"outcome"},
	)

	SyncAdmissionRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shuttle_sync_admission_rejections_total",
			Help: "Sync triggers rejected by admission control, by reason",
		},
		[]string{"reason"},
	)

	SyncDispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shuttle_sync_dispatch_duration_seconds",
			Help:    "Time to dispatch a sync to its connector in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	StaleRunsRecovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shuttle_stale_sync_runs_recovered_total",
			Help: "Running sync runs failed by the staleness sweep",
		},
	)

	// Queue metrics
	EventQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shuttle_event_queue_depth",
			Help: "Event queue items by status over the stats window",
		},
		[]string{"status"},
	)

	EmbeddingQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shuttle_embedding_queue_depth",
			Help: "Embedding queue items by status over the stats window",
		},
		[]string{"status"},
	)

	EventsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shuttle_events_enqueued_total",
			Help: "Document events enqueued, by event type",
		},
		[]string{"type"},
	)

	// Blob metrics
	BlobsStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shuttle_blobs_stored_total",
			Help: "Blobs written to the content store",
		},
	)

	BlobBytesStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shuttle_blob_bytes_stored_total",
			Help: "Bytes written to the content store",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shuttle_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shuttle_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Scheduler metrics
	SchedulerSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shuttle_scheduler_sweep_duration_seconds",
			Help:    "Time taken by one scheduler sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SchedulerTriggers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shuttle_scheduler_triggers_total",
			Help: "Syncs successfully triggered by the scheduler",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(SourcesTotal)
	prometheus.MustRegister(SyncRunsInFlight)
	prometheus.MustRegister(SyncRunsTotal)
	prometheus.MustRegister(SyncAdmissionRejections)
	prometheus.MustRegister(SyncDispatchDuration)
	prometheus.MustRegister(StaleRunsRecovered)
	prometheus.MustRegister(EventQueueDepth)
	prometheus.MustRegister(EmbeddingQueueDepth)
	prometheus.MustRegister(EventsEnqueued)
	prometheus.MustRegister(BlobsStored)
	prometheus.MustRegister(BlobBytesStored)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(SchedulerSweepDuration)
	prometheus.MustRegister(SchedulerTriggers)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration and records it on a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time on the histogram.
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Duration().Seconds())
}
