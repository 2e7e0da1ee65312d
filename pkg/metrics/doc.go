// Package metrics defines the process-wide Prometheus collectors for
// entityd: the entity store, the cache, the Update Manager, and the
// event bus. Collectors are registered once at package init and
// exported over HTTP via Handler.
//
// # Entity Store
//
// entityd_entities_total{site, type}:
//   - Type: Gauge
//   - Description: Live entities by site and kind
//
// entityd_entity_mutations_total{outcome}:
//   - Type: Counter
//   - Description: Field mutations by outcome (ok, rejected, ...)
//
// entityd_entity_fanout_duration_seconds:
//   - Type: Histogram
//   - Description: Time for one outermost-unlock listener fan-out
//
// # Cache
//
// entityd_cache_handles_outstanding:
//   - Type: Gauge
//   - Description: Live reference handles currently held
//
// entityd_cache_lookups_total{outcome}:
//   - Type: Counter
//   - Description: Cache Get calls by outcome (hit, miss, load, error)
//
// # Update Manager
//
// entityd_commit_tick_duration_seconds:
//   - Type: Histogram
//   - Description: Time for one commit tick (drain, commit, delete, site-delete)
//
// entityd_commit_ticks_total:
//   - Type: Counter
//   - Description: Commit ticks completed
//
// entityd_pending_updates / entityd_pending_deletes:
//   - Type: Gauge
//   - Description: Entities awaiting the next commit / purge
//
// entityd_purge_outcomes_total{outcome}:
//   - Type: Counter
//   - Description: Purge attempts by outcome (purged, requeued_in_use)
//
// # Event Bus
//
// entityd_events_published_total{event_type} / entityd_callbacks_invoked_total{event_type}:
//   - Type: Counter
//
// entityd_event_dispatch_duration_seconds{event_type}:
//   - Type: Histogram
//
// entityd_subscriptions_active{event_type}:
//   - Type: Gauge
//
// entityd_event_queue_depth:
//   - Type: Gauge
//
// # Usage
//
//	import "github.com/virtworld/entityd/pkg/metrics"
//
//	metrics.EntitiesTotal.WithLabelValues("1", "room").Set(42)
//	metrics.EntityMutationsTotal.WithLabelValues("ok").Inc()
//
//	timer := metrics.NewTimer()
//	// ... perform operation ...
//	timer.ObserveDuration(metrics.CommitTickDuration)
//	timer.ObserveDurationVec(metrics.EventDispatchDuration, "movement")
//
// Mount the handler alongside the rest of the HTTP surface:
//
//	http.Handle("/metrics", metrics.Handler())
package metrics
