package observable

import (
	"context"
	"log/slog"

	"github.com/benjamind/flecs/internal/ecs"
)

// notifySubset re-targets event at the tables that depend on entity through
// an acyclic relationship.
//
// Relationships are visited in the order their pair records were linked
// into entity's (*, entity) list. Every branch that has nothing to notify
// is skipped silently: a missing id record, a gated id, a cache miss, a
// leaf element or an empty table.
func (e *Emitter) notifySubset(it *ecs.Iter, w *ecs.World, obs *Observable, entity, event ecs.Entity, ids []ecs.ID) {
	head := w.IDRecord(ecs.Pair(ecs.Wildcard, entity))
	if head == nil {
		return
	}

	builtin := IsBuiltinEvent(event)
	debug := e.log.Enabled(context.Background(), slog.LevelDebug)

	for h := head.AcyclicNext(); h != 0; {
		relRecord := w.IDRecordAt(h)
		if relRecord == nil {
			break
		}
		h = relRecord.AcyclicNext()
		rel := relRecord.ID().First()
		pattern := ecs.Pair(rel, ecs.Wildcard)

		for i, id := range ids {
			with := w.IDRecord(id)
			if with == nil {
				skippedNoIDRecord.Inc()
				continue
			}
			if !HasObservers(with, event, builtin) {
				skippedNoObservers.Inc()
				continue
			}

			down := e.trav.Down(rel, entity, with)
			if down == nil {
				skippedNoCache.Inc()
				continue
			}

			for _, elem := range down.Elems {
				if elem.Leaf {
					skippedLeaf.Inc()
					continue
				}
				n := elem.Table.Count()
				if n == 0 {
					skippedEmptyTable.Inc()
					continue
				}

				it.Table = elem.Table
				it.OtherTable = nil
				it.Offset = 0
				it.Count = n
				it.EventID = w.NextEventID()
				cascadeTablesTotal.Inc()

				if debug {
					e.log.Debug("cascade",
						"event", w.EntityString(event),
						"event_id", it.EventID,
						"rel", w.EntityString(rel),
						"source", w.EntityString(elem.Source),
						"id", w.IDString(id),
						"table", elem.Table.ID(),
						"count", n,
					)
				}
				e.dispatch.NotifyScoped(it, obs, ids[i:i+1], event, pattern, elem.Source)
			}
		}
	}
}
