package observer

import (
	"github.com/benjamind/flecs/internal/ecs"
	"github.com/benjamind/flecs/internal/observable"
)

// candidates returns the registration keys that can match id: the id
// itself followed by its wildcard patterns.
func candidates(id ecs.ID) []ecs.ID {
	return append([]ecs.ID{id}, ecs.WildcardsOf(id)...)
}

// gated reports whether the id gate rules out every observer of id.
func (d *Dispatcher) gated(id ecs.ID, event ecs.Entity) bool {
	idr := d.world.IDRecord(id)
	if idr == nil {
		return false
	}
	return !observable.HasObservers(idr, event, observable.IsBuiltinEvent(event))
}

// Notify runs the observers that match ids on the iterator's table itself.
// Observers run once per id, exact registrations before wildcard ones, in
// registration order within each key.
func (d *Dispatcher) Notify(it *ecs.Iter, obs *observable.Observable, ids []ecs.ID, event ecs.Entity) {
	er := obs.EventRecord(event)
	if er == nil {
		return
	}
	for _, id := range ids {
		if d.gated(id, event) {
			continue
		}
		col := it.Table.Column(id)
		if col < 0 && !(id.IsWildcard() && it.Table.HasMatch(id)) {
			continue
		}
		for _, key := range candidates(id) {
			eir := er.IDs[key]
			if eir == nil {
				continue
			}
			for _, o := range eir.Observers {
				if o.Trav != 0 {
					continue
				}
				it.Event = event
				it.IDs[0] = id
				it.Sources[0] = 0
				it.Columns[0] = col
				it.Ptrs[0] = it.Table.Values(col, it.Offset, it.Count)
				d.invoke(it, o)
			}
		}
	}
}

// NotifyScoped runs the observers that match ids through the relationship
// of pattern. When source is set the ids are inherited from it and the
// observer sees the source's value instead of a table column.
func (d *Dispatcher) NotifyScoped(it *ecs.Iter, obs *observable.Observable, ids []ecs.ID, event ecs.Entity, pattern ecs.ID, source ecs.Entity) {
	er := obs.EventRecord(event)
	if er == nil {
		return
	}
	if !it.Table.HasMatch(pattern) {
		return
	}
	rel := pattern.First()
	for _, id := range ids {
		if d.gated(id, event) {
			continue
		}
		for _, key := range candidates(id) {
			eir := er.IDs[key]
			if eir == nil {
				continue
			}
			for _, o := range eir.Observers {
				if o.Trav != rel {
					continue
				}
				it.Event = event
				it.IDs[0] = id
				it.Sources[0] = source
				if source != 0 {
					v, _ := d.world.Get(source, id)
					it.Columns[0] = -1
					it.Ptrs[0] = v
				} else {
					col := it.Table.Column(id)
					it.Columns[0] = col
					it.Ptrs[0] = it.Table.Values(col, it.Offset, it.Count)
				}
				d.invoke(it, o)
			}
		}
	}
}

func (d *Dispatcher) invoke(it *ecs.Iter, o *observable.Observer) {
	it.Ctx = o.Ctx
	o.Callback(it)
	it.Ctx = nil
}
