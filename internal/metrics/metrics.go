// Package metrics holds the Prometheus collectors exported by eventpump.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is the registry served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// EventsHandledTotal counts events processed by consumers.
	EventsHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventpump",
			Name:      "events_handled_total",
			Help:      "Events processed by consumers.",
		},
		[]string{"consumer", "result"},
	)

	// EventHandleSeconds is the time spent in a consumer's handler per event.
	EventHandleSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eventpump",
			Name:      "event_handle_seconds",
			Help:      "Time spent handling one event, snapshot write included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"consumer"},
	)

	// ConsumerFailuresTotal counts transitions into the failed status.
	ConsumerFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventpump",
			Name:      "consumer_failures_total",
			Help:      "Consumer transitions into the failed status.",
		},
		[]string{"consumer", "action"},
	)

	// ConsumerStatus is 1 for the consumer's current status and 0 otherwise.
	ConsumerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "eventpump",
			Name:      "consumer_status",
			Help:      "Current consumer status (1 = active status).",
		},
		[]string{"consumer", "status"},
	)

	// ConsumerPosition is the last handled global log position.
	ConsumerPosition = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "eventpump",
			Name:      "consumer_position",
			Help:      "Last handled global log position per consumer.",
		},
		[]string{"consumer"},
	)

	// SubscriptionRetriesTotal counts transparent re-subscriptions.
	SubscriptionRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventpump",
			Name:      "subscription_retries_total",
			Help:      "Re-subscriptions after transient event log failures.",
		},
		[]string{"subscription"},
	)

	// SnapshotWriteSeconds is the latency of snapshot writes.
	SnapshotWriteSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eventpump",
			Name:      "snapshot_write_seconds",
			Help:      "Latency of consumer snapshot writes.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"driver"},
	)

	// EventsAppendedTotal counts events written to the log.
	EventsAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eventpump",
			Name:      "events_appended_total",
			Help:      "Events appended to the log.",
		},
	)

	// StorageReadBytesTotal and StorageCommitSeconds observe the Pebble store.
	StorageReadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eventpump",
			Subsystem: "storage",
			Name:      "read_bytes_total",
			Help:      "Bytes read from the storage engine.",
		},
	)
	StorageCommitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "eventpump",
			Subsystem: "storage",
			Name:      "commit_seconds",
			Help:      "Batch commit latency of the storage engine.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		EventsHandledTotal,
		EventHandleSeconds,
		ConsumerFailuresTotal,
		ConsumerStatus,
		ConsumerPosition,
		SubscriptionRetriesTotal,
		SnapshotWriteSeconds,
		EventsAppendedTotal,
		StorageReadBytesTotal,
		StorageCommitSeconds,
	)
}

var statuses = []string{"stopped", "started", "failed"}

// SetStatus marks status as the consumer's only active status.
func SetStatus(consumer, status string) {
	for _, s := range statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		ConsumerStatus.WithLabelValues(consumer, s).Set(v)
	}
}

// StorageHook feeds Pebble observations into the storage collectors. It
// satisfies pebblestore.MetricsHook.
type StorageHook struct{}

func (StorageHook) ObserveRead(_ time.Duration, bytes int) {
	StorageReadBytesTotal.Add(float64(bytes))
}

func (StorageHook) ObserveBatchCommit(elapsed time.Duration, _ int) {
	StorageCommitSeconds.Observe(elapsed.Seconds())
}
