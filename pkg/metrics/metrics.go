/*
Package metrics exposes the DWN storage core's Prometheus metrics: put
throughput, query latency, blob bytes moved, and event-fan-out
delivery counts, registered once at process startup via
prometheus.MustRegister.
*/
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessageStore metrics
	MessagesPutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwn_messages_put_total",
			Help: "Total number of messages successfully written, by tenant",
		},
		[]string{"tenant"},
	)

	MessagesDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwn_messages_deleted_total",
			Help: "Total number of messages deleted, by tenant",
		},
		[]string{"tenant"},
	)

	PutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dwn_put_duration_seconds",
			Help:    "Time taken to commit a Put (message bytes + index rewrite) in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Query engine metrics
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwn_queries_total",
			Help: "Total number of queries executed, by tenant",
		},
		[]string{"tenant"},
	)

	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dwn_query_duration_seconds",
			Help:    "Query execution duration in seconds, from driver scan to page assembly",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueryResultSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dwn_query_result_size",
			Help:    "Number of items returned per query page",
			Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 5000},
		},
	)

	CorruptedIndexesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwn_corrupted_indexes_total",
			Help: "Total number of secondary keys found to reference a missing indexes record",
		},
	)

	// BlobStore metrics
	BlobBytesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwn_blob_bytes_written_total",
			Help: "Total number of blob bytes written across all Put calls",
		},
	)

	BlobBytesReadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwn_blob_bytes_read_total",
			Help: "Total number of blob bytes streamed out across all Get calls",
		},
	)

	BlobsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwn_blobs_deleted_total",
			Help: "Total number of blobs deleted",
		},
	)

	// Event fan-out metrics
	EventsPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwn_events_published_total",
			Help: "Total number of Publish calls on the event bus",
		},
	)

	EventHandlersInvokedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwn_event_handlers_invoked_total",
			Help: "Total number of subscriber handler invocations across all Publish calls",
		},
	)

	EventHandlerPanicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwn_event_handler_panics_total",
			Help: "Total number of subscriber handler panics recovered by the event bus",
		},
	)

	ActiveSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dwn_active_subscribers",
			Help: "Current number of registered event-bus subscribers",
		},
	)

	// KV substrate metrics
	KVBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dwn_kv_batch_duration_seconds",
			Help:    "Time taken to commit a kv.Store.Batch transaction in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(MessagesPutTotal)
	prometheus.MustRegister(MessagesDeletedTotal)
	prometheus.MustRegister(PutDuration)
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryResultSize)
	prometheus.MustRegister(CorruptedIndexesTotal)
	prometheus.MustRegister(BlobBytesWrittenTotal)
	prometheus.MustRegister(BlobBytesReadTotal)
	prometheus.MustRegister(BlobsDeletedTotal)
	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(EventHandlersInvokedTotal)
	prometheus.MustRegister(EventHandlerPanicsTotal)
	prometheus.MustRegister(ActiveSubscribers)
	prometheus.MustRegister(KVBatchDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
