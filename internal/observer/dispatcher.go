// Package observer registers observers and matches them against emitted
// events.
//
// The Dispatcher is the direct dispatch collaborator of
// observable.Emitter. Registration keeps the id gating flags of the world
// in step with the observers that exist: a flag is set before the observer
// becomes reachable and cleared only once no observer for that (id, event)
// remains.
package observer

import (
	"fmt"
	"slices"

	"github.com/benjamind/flecs/internal/ecs"
	"github.com/benjamind/flecs/internal/observable"
)

// Desc describes an observer to register.
type Desc struct {
	Name string

	// Event is a builtin lifecycle event or a user event entity.
	Event ecs.Entity

	// ID is the id to match. Wildcard ids and pairs are allowed.
	ID ecs.ID

	// Trav, when set, makes the observer match entities that inherit ID
	// through the acyclic relationship Trav instead of owning it.
	Trav ecs.Entity

	Callback func(it *ecs.Iter)
	Ctx      any
}

// Dispatcher owns the observers of one world.
type Dispatcher struct {
	world    *ecs.World
	obs      *observable.Observable
	byHandle map[uint64]*observable.Observer
}

// New creates a Dispatcher storing its observers in obs.
func New(w *ecs.World, obs *observable.Observable) *Dispatcher {
	return &Dispatcher{
		world:    w,
		obs:      obs,
		byHandle: make(map[uint64]*observable.Observer),
	}
}

// Register validates desc and registers the observer. It returns the
// observer handle used by Unregister.
func (d *Dispatcher) Register(desc Desc) (uint64, error) {
	w := d.world
	if w.Emitting() {
		return 0, &ecs.Error{Code: ecs.ErrCodeInvalidOperation, Message: "register observer: not allowed while notifying observers"}
	}
	switch {
	case desc.Event == 0 || desc.Event == ecs.Wildcard:
		return 0, ecs.NewInvalidArgument("register observer %q: invalid event %d", desc.Name, desc.Event)
	case !w.IsEvent(desc.Event):
		return 0, ecs.NewInvalidArgument("register observer %q: %s is not an event", desc.Name, w.EntityString(desc.Event))
	case desc.ID == 0:
		return 0, ecs.NewInvalidArgument("register observer %q: id is not set", desc.Name)
	case desc.Callback == nil:
		return 0, ecs.NewInvalidArgument("register observer %q: callback is nil", desc.Name)
	case desc.Trav != 0 && !w.IsAcyclic(desc.Trav):
		return 0, ecs.NewInvalidArgument("register observer %q: %s is not an acyclic relationship", desc.Name, w.EntityString(desc.Trav))
	}

	idr := w.EnsureIDRecord(desc.ID)
	w.KeepAlive(idr)
	if flag := ecs.EventFlag(desc.Event); flag != 0 {
		idr.SetFlags(flag)
		if desc.ID.IsWildcard() {
			w.EachIDRecord(func(r *ecs.IDRecord) {
				if desc.ID.Match(r.ID()) {
					r.SetFlags(flag)
				}
			})
		}
	}

	o := &observable.Observer{
		Handle:   d.obs.NextHandle(),
		Name:     desc.Name,
		Event:    desc.Event,
		ID:       desc.ID,
		Trav:     desc.Trav,
		Callback: desc.Callback,
		Ctx:      desc.Ctx,
	}
	er := d.obs.EnsureEventRecord(desc.Event)
	eir := er.IDs[desc.ID]
	if eir == nil {
		eir = &observable.EventIDRecord{}
		er.IDs[desc.ID] = eir
	}
	eir.Observers = append(eir.Observers, o)
	d.byHandle[o.Handle] = o

	w.Logger().Debug("observer registered",
		"observer", desc.Name,
		"handle", o.Handle,
		"event", w.EntityString(desc.Event),
		"id", w.IDString(desc.ID),
		"trav", w.EntityString(desc.Trav),
	)
	return o.Handle, nil
}

// Unregister removes an observer.
func (d *Dispatcher) Unregister(handle uint64) error {
	w := d.world
	if w.Emitting() {
		return &ecs.Error{Code: ecs.ErrCodeInvalidOperation, Message: "unregister observer: not allowed while notifying observers"}
	}
	o, ok := d.byHandle[handle]
	if !ok {
		return &ecs.Error{Code: ecs.ErrCodeNotFound, Message: fmt.Sprintf("observer %d is not registered", handle)}
	}
	delete(d.byHandle, handle)

	if er := d.obs.EventRecord(o.Event); er != nil {
		if eir := er.IDs[o.ID]; eir != nil {
			for i, other := range eir.Observers {
				if other == o {
					eir.Observers = append(eir.Observers[:i], eir.Observers[i+1:]...)
					break
				}
			}
			if len(eir.Observers) == 0 {
				delete(er.IDs, o.ID)
			}
		}
	}

	// Records flagged through a wildcard observer keep their flag. That
	// only costs a lookup on the next emit.
	if idr := w.IDRecord(o.ID); idr != nil {
		if flag := ecs.EventFlag(o.Event); flag != 0 && !d.matches(o.Event, o.ID) {
			idr.ClearFlags(flag)
		}
		w.ReleaseIDRecord(idr)
	}
	return nil
}

// UnregisterAll removes every observer in registration order.
func (d *Dispatcher) UnregisterAll() error {
	for _, h := range d.Handles() {
		if err := d.Unregister(h); err != nil {
			return err
		}
	}
	return nil
}

// Handles returns the handles of the registered observers in registration
// order.
func (d *Dispatcher) Handles() []uint64 {
	var out []uint64
	for _, er := range d.obs.Events() {
		for _, eir := range er.IDs {
			for _, o := range eir.Observers {
				out = append(out, o.Handle)
			}
		}
	}
	slices.Sort(out)
	return out
}

// Len returns the number of registered observers.
func (d *Dispatcher) Len() int {
	return len(d.byHandle)
}

// Lookup returns the observer registered under handle.
func (d *Dispatcher) Lookup(handle uint64) (*observable.Observer, bool) {
	o, ok := d.byHandle[handle]
	return o, ok
}

// matches reports whether any remaining observer for event matches id.
func (d *Dispatcher) matches(event ecs.Entity, id ecs.ID) bool {
	er := d.obs.EventRecord(event)
	if er == nil {
		return false
	}
	for pattern := range er.IDs {
		if pattern.Match(id) {
			return true
		}
	}
	return false
}
