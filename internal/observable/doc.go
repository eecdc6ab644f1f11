// Package observable turns storage-level changes into observer
// notifications.
//
// It holds the emission core of the world:
//   - Observable: the registry of event kinds and their per-id observers,
//     with a teardown check that no observer outlives it
//   - HasObservers: the O(1) id gate consulted before any cascade work
//   - Emitter.Emit: builds one Iter per change, runs direct dispatch, then
//     cascades to dependents of entities flagged as acyclic targets
//
// Matching observers against a table and walking relationships are left to
// collaborators injected as a Dispatcher (see package observer) and a
// Traversal (see package trav).
//
// # Cascade
//
// When an emitted row belongs to an entity that is the target of one or more
// acyclic relationships, the event is re-targeted at every table reachable
// from that entity through each relationship. The reachability cache already
// holds the transitive closure, so a cascade never recurses into Emit. Each
// cascaded table takes a fresh value of the world event counter.
//
// # Metrics
//
// Emissions and cascade steps are exported as Prometheus metrics under the
// flecs_ prefix.
package observable

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	emitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flecs_emit_total",
		Help: "Cumulative number of emitted events, by event kind.",
	}, []string{"event"})
	emitDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flecs_emit_duration_seconds",
		Help:    "Wall-clock duration of Emit calls, observed while time measurement is enabled.",
		Buckets: prometheus.ExponentialBuckets(1e-7, 4, 12), // 100ns to ~0.4s
	})
	cascadeTablesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flecs_cascade_tables_total",
		Help: "Cumulative number of tables notified by relationship cascades.",
	})
	cascadeSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flecs_cascade_skipped_total",
		Help: "Cumulative number of cascade branches skipped, by reason.",
	}, []string{"reason"})
)

// Skip reasons reported by flecs_cascade_skipped_total.
const (
	SkipNilRecord   = "nil_record"
	SkipNoIDRecord  = "no_id_record"
	SkipNoObservers = "no_observers"
	SkipNoCache     = "no_cache"
	SkipLeaf        = "leaf"
	SkipEmptyTable  = "empty_table"
)

var (
	skippedNilRecord   = cascadeSkippedTotal.WithLabelValues(SkipNilRecord)
	skippedNoIDRecord  = cascadeSkippedTotal.WithLabelValues(SkipNoIDRecord)
	skippedNoObservers = cascadeSkippedTotal.WithLabelValues(SkipNoObservers)
	skippedNoCache     = cascadeSkippedTotal.WithLabelValues(SkipNoCache)
	skippedLeaf        = cascadeSkippedTotal.WithLabelValues(SkipLeaf)
	skippedEmptyTable  = cascadeSkippedTotal.WithLabelValues(SkipEmptyTable)
)
