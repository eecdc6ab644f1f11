package ecs

// IDFlags hold per-id bookkeeping bits.
type IDFlags uint32

const (
	// IDHasOnAdd is set while at least one OnAdd observer may match the id.
	IDHasOnAdd IDFlags = 1 << iota
	// IDHasOnRemove is set while at least one OnRemove observer may match.
	IDHasOnRemove
	// IDHasOnSet is set while at least one OnSet observer may match.
	IDHasOnSet
	// IDHasUnSet is set while at least one UnSet observer may match.
	IDHasUnSet

	// IDAcyclic marks a pair record whose relationship is acyclic. Such
	// records are linked into the sibling list of their target.
	IDAcyclic
)

// IDEventMask is the union of the per-event observer flags. A record with
// none of these bits set has no observer for any builtin event.
const IDEventMask = IDHasOnAdd | IDHasOnRemove | IDHasOnSet | IDHasUnSet

// EventFlag returns the observer flag for a builtin event, or 0.
func EventFlag(event Entity) IDFlags {
	switch event {
	case OnAdd:
		return IDHasOnAdd
	case OnRemove:
		return IDHasOnRemove
	case OnSet:
		return IDHasOnSet
	case UnSet:
		return IDHasUnSet
	}
	return 0
}

// IDHandle is a stable integer reference into the IDRecord arena. The zero
// handle refers to no record.
type IDHandle int32

// TypeInfo is the component metadata attached to plain ids.
type TypeInfo struct {
	Name     string
	HasValue bool
}

// TableRecord locates an id inside a table.
type TableRecord struct {
	Table  *Table
	Column int
}

// IDRecord is the metadata kept for one id in use.
//
// Gating flags (IDHasOnAdd etc.) are maintained by the observer registry and
// must be a superset of actual observer presence: a set flag with no
// observer only costs a lookup, a missing flag loses notifications.
//
// For pairs (R, T) with R acyclic the record is linked into a singly linked
// list headed by the (*, T) record. Links are handles, so records can be
// released without leaving dangling pointers in the list.
type IDRecord struct {
	id       ID
	handle   IDHandle
	flags    IDFlags
	typeInfo *TypeInfo

	tables     []TableRecord
	tableIndex map[*Table]int
	emptyCount int
	keepAlive  int

	acyclicNext IDHandle
	acyclicTail IDHandle // only meaningful on (*, T) heads
}

// ID returns the id the record describes.
func (r *IDRecord) ID() ID {
	return r.id
}

// Handle returns the record's arena handle.
func (r *IDRecord) Handle() IDHandle {
	return r.handle
}

// Flags returns the record flags.
func (r *IDRecord) Flags() IDFlags {
	return r.flags
}

// SetFlags sets flag bits on the record.
func (r *IDRecord) SetFlags(f IDFlags) {
	r.flags |= f
}

// ClearFlags clears flag bits on the record.
func (r *IDRecord) ClearFlags(f IDFlags) {
	r.flags &^= f
}

// TypeInfo returns the component metadata, or nil for tags and pairs.
func (r *IDRecord) TypeInfo() *TypeInfo {
	return r.typeInfo
}

// Tables returns the tables containing the id, in creation order. Callers
// must not modify it.
func (r *IDRecord) Tables() []TableRecord {
	return r.tables
}

// TableCount returns the number of tables containing the id.
func (r *IDRecord) TableCount() int {
	return len(r.tables)
}

// EmptyTableCount returns the number of tables containing the id that have
// no rows.
func (r *IDRecord) EmptyTableCount() int {
	return r.emptyCount
}

// AcyclicNext returns the handle of the next record in the acyclic sibling
// list, or 0. On a (*, T) head it returns the first sibling.
func (r *IDRecord) AcyclicNext() IDHandle {
	return r.acyclicNext
}

func (r *IDRecord) addTable(t *Table, column int) {
	if _, ok := r.tableIndex[t]; ok {
		return
	}
	r.tableIndex[t] = len(r.tables)
	r.tables = append(r.tables, TableRecord{Table: t, Column: column})
	if t.Count() == 0 {
		r.emptyCount++
	}
}

func (r *IDRecord) removeTable(t *Table) {
	i, ok := r.tableIndex[t]
	if !ok {
		return
	}
	if t.Count() == 0 {
		r.emptyCount--
	}
	copy(r.tables[i:], r.tables[i+1:])
	r.tables[len(r.tables)-1] = TableRecord{}
	r.tables = r.tables[:len(r.tables)-1]
	delete(r.tableIndex, t)
	for j := i; j < len(r.tables); j++ {
		r.tableIndex[r.tables[j].Table] = j
	}
}

// idArena owns every IDRecord of a world.
type idArena struct {
	slots []*IDRecord
	free  []IDHandle
	byID  map[ID]IDHandle
}

func newIDArena() idArena {
	return idArena{byID: make(map[ID]IDHandle)}
}

func (a *idArena) get(id ID) *IDRecord {
	if h, ok := a.byID[id]; ok {
		return a.slots[h-1]
	}
	return nil
}

func (a *idArena) at(h IDHandle) *IDRecord {
	if h <= 0 || int(h) > len(a.slots) {
		return nil
	}
	return a.slots[h-1]
}

func (a *idArena) alloc(id ID) *IDRecord {
	r := &IDRecord{id: id, tableIndex: make(map[*Table]int)}
	if n := len(a.free); n > 0 {
		r.handle = a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[r.handle-1] = r
	} else {
		a.slots = append(a.slots, r)
		r.handle = IDHandle(len(a.slots))
	}
	a.byID[id] = r.handle
	return r
}

func (a *idArena) free1(r *IDRecord) {
	delete(a.byID, r.id)
	a.slots[r.handle-1] = nil
	a.free = append(a.free, r.handle)
}

func (a *idArena) count() int {
	return len(a.byID)
}

// IDRecord returns the record for id, or nil when the id is not in use.
func (w *World) IDRecord(id ID) *IDRecord {
	return w.ids.get(id)
}

// IDRecordAt resolves an arena handle. Returns nil for released handles.
func (w *World) IDRecordAt(h IDHandle) *IDRecord {
	return w.ids.at(h)
}

// EachIDRecord calls fn for every live record in handle order.
func (w *World) EachIDRecord(fn func(*IDRecord)) {
	for _, r := range w.ids.slots {
		if r != nil {
			fn(r)
		}
	}
}

// EnsureIDRecord returns the record for id, creating it if needed.
func (w *World) EnsureIDRecord(id ID) *IDRecord {
	if r := w.ids.get(id); r != nil {
		return r
	}

	// Wildcard records exist before the concrete records they match, so a
	// new record can inherit the observer flags registered on them.
	var inherited IDFlags
	if !(id == ID(Wildcard) || id == Pair(Wildcard, Wildcard)) {
		for _, p := range w.parentPatterns(id) {
			inherited |= w.EnsureIDRecord(p).flags & IDEventMask
		}
	}

	r := w.ids.alloc(id)
	r.flags = inherited

	if !id.IsPair() {
		r.typeInfo = w.typeInfo[Entity(id)]
	} else if !id.IsWildcard() && w.isAcyclic(id.First()) {
		r.flags |= IDAcyclic
		head := w.ids.get(Pair(Wildcard, id.Second()))
		if head.acyclicNext == 0 {
			head.acyclicNext = r.handle
		} else {
			w.ids.at(head.acyclicTail).acyclicNext = r.handle
		}
		head.acyclicTail = r.handle
	}
	return r
}

// parentPatterns returns the wildcard ids that must exist before id.
func (w *World) parentPatterns(id ID) []ID {
	if !id.IsPair() {
		return []ID{ID(Wildcard)}
	}
	first, second := id.First(), id.Second()
	switch {
	case first == Wildcard:
		return []ID{Pair(Wildcard, Wildcard)}
	case second == Wildcard:
		return []ID{Pair(Wildcard, Wildcard)}
	default:
		return []ID{Pair(first, Wildcard), Pair(Wildcard, second), Pair(Wildcard, Wildcard)}
	}
}

// KeepAlive prevents a record from being released while it has no tables.
// The observer registry holds one reference per registered observer.
func (w *World) KeepAlive(r *IDRecord) {
	r.keepAlive++
}

// ReleaseIDRecord drops a KeepAlive reference and frees the record once it
// is unused.
func (w *World) ReleaseIDRecord(r *IDRecord) {
	if r.keepAlive > 0 {
		r.keepAlive--
	}
	w.tryRelease(r)
}

// tryRelease frees r if nothing references it anymore, then retries its
// wildcard parents.
func (w *World) tryRelease(r *IDRecord) {
	if r == nil || w.ids.at(r.handle) != r {
		return
	}
	if len(r.tables) > 0 || r.keepAlive > 0 {
		return
	}
	// A (*, T) head stays while it has siblings.
	if r.flags&IDAcyclic == 0 && r.acyclicNext != 0 {
		return
	}
	if r.id == ID(Wildcard) || r.id == Pair(Wildcard, Wildcard) {
		return
	}

	if r.flags&IDAcyclic != 0 {
		w.unlinkAcyclic(r)
	}
	w.ids.free1(r)

	if r.id.IsPair() {
		for _, p := range w.parentPatterns(r.id) {
			w.tryRelease(w.ids.get(p))
		}
	}
}

// unlinkAcyclic removes r from the sibling list of its target.
func (w *World) unlinkAcyclic(r *IDRecord) {
	head := w.ids.get(Pair(Wildcard, r.id.Second()))
	if head == nil {
		return
	}
	cur := head
	for cur.acyclicNext != 0 {
		next := w.ids.at(cur.acyclicNext)
		if next == r {
			cur.acyclicNext = r.acyclicNext
			if head.acyclicTail == r.handle {
				if cur == head {
					head.acyclicTail = 0
				} else {
					head.acyclicTail = cur.handle
				}
			}
			r.acyclicNext = 0
			return
		}
		cur = next
	}
}
