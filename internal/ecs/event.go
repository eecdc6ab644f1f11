package ecs

// EventDesc describes one storage-level change to be turned into observer
// notifications. It is built by the caller, passed to Emit, and not
// retained.
type EventDesc struct {
	// Event is the event kind (OnAdd, OnRemove, OnSet, UnSet or a user
	// event entity). Must not be 0 or Wildcard.
	Event Entity

	// IDs are the ids the event is about. Must not be empty.
	IDs []ID

	// Table holds the affected rows. Must not be nil.
	Table *Table

	// OtherTable is the table the rows came from or go to, if any.
	OtherTable *Table

	// Offset is the first affected row.
	Offset int

	// Count is the number of affected rows. 0 means every row from Offset
	// to the end of the table.
	Count int

	// Relationship, when set, scopes direct dispatch to observers that
	// match through (Relationship, *).
	Relationship Entity

	// TableEvent marks a table-level event. Table events do not cascade to
	// dependent entities.
	TableEvent bool

	// Param is an opaque payload handed to observers.
	Param any

	// Observable identifies the observable store that receives the event.
	// Storage operations set it to the world.
	Observable any
}

// IterFlags qualify an Iter.
type IterFlags uint32

const (
	// IterTableOnly marks a table-level notification. Observers should not
	// assume per-entity semantics.
	IterTableOnly IterFlags = 1 << iota
)

// Iter is the transient view handed to observer callbacks.
//
// One Iter is built per emission and mutated in place for every direct and
// cascaded notification of that emission. Observers must not retain it
// beyond the callback.
type Iter struct {
	World *World
	Stage *Stage

	Table      *Table
	OtherTable *Table
	Offset     int
	Count      int

	// Event is the event kind being notified.
	Event Entity

	// EventID is the world event counter value of the current notification
	// pass.
	EventID uint64

	// IDs, Ptrs, Columns and Sources are one-element scratch slices
	// describing the id currently notified, its value column (or -1 when
	// the value is inherited), and the entity the id was matched on (0 for
	// the notified entities themselves).
	IDs     []ID
	Ptrs    []any
	Columns []int
	Sources []Entity

	Param any
	Flags IterFlags

	// Ctx is set by the dispatcher to the context of the observer being
	// invoked.
	Ctx any
}

// Entities returns the entities of the current notification.
func (it *Iter) Entities() []Entity {
	if it.Table == nil {
		return nil
	}
	return it.Table.entities[it.Offset : it.Offset+it.Count]
}

// Source returns the entity the current id was matched on, or 0.
func (it *Iter) Source() Entity {
	if len(it.Sources) == 0 {
		return 0
	}
	return it.Sources[0]
}

// ID returns the id currently notified.
func (it *Iter) ID() ID {
	if len(it.IDs) == 0 {
		return 0
	}
	return it.IDs[0]
}

// Values returns the owned values of the current id for the notified rows,
// or nil when the id is inherited or carries no value.
func (it *Iter) Values() []any {
	if len(it.Columns) == 0 || it.Table == nil {
		return nil
	}
	return it.Table.Values(it.Columns[0], it.Offset, it.Count)
}

// Emitter turns event descriptors into observer notifications. It is
// implemented by the observable package and injected into the World.
type Emitter interface {
	Emit(w *World, stage *Stage, desc *EventDesc) error

	// Fini tears down the observable store owned by the emitter.
	Fini() error
}

// StructureListener is notified whenever the table layout or the set of
// observed-acyclic entities changes.
type StructureListener interface {
	Invalidate()
}

// TravElem is one table reachable from a target entity.
type TravElem struct {
	Table  *Table
	Source Entity
	Leaf   bool
}

// TravDown is a memoized downward traversal result.
type TravDown struct {
	Elems []TravElem
}

// Stage is a handle through which a world is mutated. Observers receive the
// stage the emission was started from.
type Stage struct {
	world *World
	id    int
}

// World returns the world the stage belongs to.
func (s *Stage) World() *World {
	return s.world
}

// ID returns the stage number.
func (s *Stage) ID() int {
	return s.id
}
