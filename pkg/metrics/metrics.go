package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Entity store metrics
	EntitiesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entityd_entities_total",
			Help: "Total number of live entities by site and type",
		},
		[]string{"site", "type"},
	)

	EntityMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityd_entity_mutations_total",
			Help: "Total number of entity field mutations by outcome",
		},
		[]string{"outcome"},
	)

	EntityFanoutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entityd_entity_fanout_duration_seconds",
			Help:    "Time taken for a single exclusive-lock-release listener fan-out",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Cache metrics
	CacheHandlesOutstanding = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "entityd_cache_handles_outstanding",
			Help: "Number of live entity reference handles currently outstanding",
		},
	)

	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityd_cache_lookups_total",
			Help: "Total number of cache Get calls by outcome",
		},
		[]string{"outcome"},
	)

	// Update manager metrics
	CommitTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entityd_commit_tick_duration_seconds",
			Help:    "Time taken for one Update Manager commit tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	CommitTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entityd_commit_ticks_total",
			Help: "Total number of Update Manager commit ticks completed",
		},
	)

	PendingUpdatesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "entityd_pending_updates",
			Help: "Number of entities awaiting the next commit tick",
		},
	)

	PendingDeletesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "entityd_pending_deletes",
			Help: "Number of entities queued for purge",
		},
	)

	PurgeOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityd_purge_outcomes_total",
			Help: "Total number of purge attempts by outcome (purged, requeued_in_use)",
		},
		[]string{"outcome"},
	)

	// Event bus metrics
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityd_events_published_total",
			Help: "Total number of events published by event type",
		},
		[]string{"event_type"},
	)

	EventDispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "entityd_event_dispatch_duration_seconds",
			Help:    "Time taken to process one event through its processor",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	SubscriptionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entityd_subscriptions_active",
			Help: "Number of active subscriptions by event type",
		},
		[]string{"event_type"},
	)

	CallbacksInvokedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityd_callbacks_invoked_total",
			Help: "Total number of subscriber callbacks invoked by event type",
		},
		[]string{"event_type"},
	)

	EventQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "entityd_event_queue_depth",
			Help: "Approximate number of events waiting in the dispatch queue",
		},
	)
)

func init() {
	prometheus.MustRegister(
		EntitiesTotal,
		EntityMutationsTotal,
		EntityFanoutDuration,
		CacheHandlesOutstanding,
		CacheLookupsTotal,
		CommitTickDuration,
		CommitTicksTotal,
		PendingUpdatesGauge,
		PendingDeletesGauge,
		PurgeOutcomesTotal,
		EventsPublishedTotal,
		EventDispatchDuration,
		SubscriptionsActive,
		CallbacksInvokedTotal,
		EventQueueDepth,
	)
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
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
