package ecs

import (
	"context"
	"fmt"
	"log/slog"
)

// createTable creates the table for a sorted id list and registers it in the
// id records of its ids and their wildcard patterns.
func (w *World) createTable(typ []ID) *Table {
	valued := make([]bool, len(typ))
	for i, id := range typ {
		valued[i] = w.HasValue(id)
	}
	w.nextTableID++
	t := newTable(w.nextTableID, typ, valued)
	w.tables[t.key] = t
	w.tableList = append(w.tableList, t)

	for i, id := range typ {
		w.registerTable(w.EnsureIDRecord(id), t, i)
		for _, p := range wildcardsOf(id) {
			w.registerTable(w.EnsureIDRecord(p), t, i)
		}
	}

	if w.log.Enabled(context.Background(), slog.LevelDebug) {
		w.log.Debug("table created", "table", t.id, "type", w.TypeString(t))
	}
	w.notifyStructure()
	return t
}

func (w *World) registerTable(r *IDRecord, t *Table, column int) {
	if _, ok := r.tableIndex[t]; ok {
		return
	}
	r.addTable(t, column)
	t.idRecords = append(t.idRecords, r.handle)
}

// deleteTable drops an empty table and releases the id records it kept
// alive.
func (w *World) deleteTable(t *Table) {
	delete(w.tables, t.key)
	for i, other := range w.tableList {
		if other == t {
			w.tableList = append(w.tableList[:i], w.tableList[i+1:]...)
			break
		}
	}
	for _, other := range w.tableList {
		for id, dst := range other.addEdges {
			if dst == t {
				delete(other.addEdges, id)
			}
		}
		for id, dst := range other.removeEdges {
			if dst == t {
				delete(other.removeEdges, id)
			}
		}
	}

	records := make([]*IDRecord, 0, len(t.idRecords))
	for _, h := range t.idRecords {
		if r := w.ids.at(h); r != nil {
			r.removeTable(t)
			records = append(records, r)
		}
	}
	t.idRecords = nil
	for _, r := range records {
		w.tryRelease(r)
	}
	w.notifyStructure()
}

func (w *World) tableFilled(t *Table) {
	for _, h := range t.idRecords {
		if r := w.ids.at(h); r != nil {
			r.emptyCount--
		}
	}
}

func (w *World) tableEmptied(t *Table) {
	for _, h := range t.idRecords {
		if r := w.ids.at(h); r != nil {
			r.emptyCount++
		}
	}
}

// findTable returns the table for a sorted id list, creating it if needed.
func (w *World) findTable(typ []ID) *Table {
	if t, ok := w.tables[typeKey(typ)]; ok {
		return t
	}
	return w.createTable(typ)
}

func (w *World) tableWith(t *Table, id ID) *Table {
	if dst, ok := t.addEdges[id]; ok {
		return dst
	}
	typ := make([]ID, 0, len(t.typ)+1)
	typ = append(typ, t.typ...)
	typ = append(typ, id)
	sortIDs(typ)
	dst := w.findTable(typ)
	t.addEdges[id] = dst
	dst.removeEdges[id] = t
	return dst
}

func (w *World) tableWithout(t *Table, id ID) *Table {
	if dst, ok := t.removeEdges[id]; ok {
		return dst
	}
	typ := make([]ID, 0, len(t.typ))
	for _, other := range t.typ {
		if other != id {
			typ = append(typ, other)
		}
	}
	dst := w.findTable(typ)
	t.removeEdges[id] = dst
	dst.addEdges[id] = t
	return dst
}

// moveEntity moves the row of e into dst, carrying over shared values.
func (w *World) moveEntity(e Entity, r *Record, dst *Table) {
	src, srcRow := r.Table, r.Row
	row := dst.appendRow(e, r)
	dst.copyValues(src, srcRow, row)
	src.deleteRow(srcRow)
	r.Table, r.Row = dst, row

	if dst.Count() == 1 {
		w.tableFilled(dst)
	}
	if src.Count() == 0 {
		w.tableEmptied(src)
	}
	if r.Flags&RowObservedAcyclic != 0 {
		w.notifyStructure()
	}
}

// retainTarget records one more acyclic pair pointing at target.
func (w *World) retainTarget(target Entity) {
	r := w.entities[target]
	if r == nil {
		return
	}
	r.acyclicRefs++
	if r.acyclicRefs == 1 {
		r.Flags |= RowObservedAcyclic
		r.Table.observedCount++
		w.notifyStructure()
	}
}

// releaseTarget drops one acyclic pair pointing at target.
func (w *World) releaseTarget(target Entity) {
	r := w.entities[target]
	if r == nil || r.acyclicRefs == 0 {
		return
	}
	r.acyclicRefs--
	if r.acyclicRefs == 0 {
		r.Flags &^= RowObservedAcyclic
		r.Table.observedCount--
		w.notifyStructure()
	}
}

func (w *World) record(e Entity) (*Record, error) {
	r, ok := w.entities[e]
	if !ok {
		return nil, newNotFound("entity %d is not alive", e)
	}
	return r, nil
}

// checkID validates an id for storage: no wildcards, every entity alive.
func (w *World) checkID(id ID) error {
	if id == 0 {
		return NewInvalidArgument("id must not be 0")
	}
	if id.IsWildcard() {
		return NewInvalidArgument("cannot store wildcard id %s", w.IDString(id))
	}
	if id.IsPair() {
		if !w.Alive(id.First()) || !w.Alive(id.Second()) {
			return newNotFound("pair %s references a dead entity", id)
		}
		return nil
	}
	if !w.Alive(Entity(id)) {
		return newNotFound("id %s is not alive", id)
	}
	return nil
}

func (w *World) isAcyclicPair(id ID) bool {
	return id.IsPair() && w.isAcyclic(id.First())
}

// Has reports whether e has id. Wildcard ids match any id of the pattern.
func (w *World) Has(e Entity, id ID) bool {
	r, ok := w.entities[e]
	if !ok {
		return false
	}
	return r.Table.HasMatch(id)
}

// Get returns the value of id on e.
func (w *World) Get(e Entity, id ID) (any, bool) {
	r, ok := w.entities[e]
	if !ok {
		return nil, false
	}
	col := r.Table.Column(id)
	if col < 0 || !r.Table.valued[col] {
		return nil, false
	}
	return r.Table.columns[col][r.Row], true
}

// Add adds id to e and emits OnAdd for the new row. Adding an id the entity
// already has is a no-op.
func (w *World) Add(e Entity, id ID) error {
	if err := w.checkMutable("add"); err != nil {
		return err
	}
	r, err := w.record(e)
	if err != nil {
		return err
	}
	if err := w.checkID(id); err != nil {
		return err
	}
	if r.Table.Has(id) {
		return nil
	}

	src := r.Table
	dst := w.tableWith(src, id)
	w.moveEntity(e, r, dst)
	if w.isAcyclicPair(id) {
		w.retainTarget(id.Second())
	}
	return w.emit(OnAdd, []ID{id}, dst, src, r.Row, 1)
}

// Remove removes id from e. UnSet (for valued ids) and OnRemove are emitted
// while the entity still has the id.
func (w *World) Remove(e Entity, id ID) error {
	if err := w.checkMutable("remove"); err != nil {
		return err
	}
	r, err := w.record(e)
	if err != nil {
		return err
	}
	if !r.Table.Has(id) {
		return nil
	}

	src := r.Table
	dst := w.tableWithout(src, id)
	ids := []ID{id}
	if w.HasValue(id) {
		if err := w.emit(UnSet, ids, src, dst, r.Row, 1); err != nil {
			return err
		}
	}
	if err := w.emit(OnRemove, ids, src, dst, r.Row, 1); err != nil {
		return err
	}

	w.moveEntity(e, r, dst)
	if w.isAcyclicPair(id) {
		w.releaseTarget(id.Second())
	}
	return nil
}

// Set assigns a value to a valued id, adding the id first if needed. OnSet
// is emitted after the assignment.
func (w *World) Set(e Entity, id ID, value any) error {
	if !w.HasValue(id) {
		return NewInvalidArgument("id %s does not carry a value", w.IDString(id))
	}
	if err := w.Add(e, id); err != nil {
		return err
	}
	if err := w.checkMutable("set"); err != nil {
		return err
	}
	r := w.entities[e]
	col := r.Table.Column(id)
	r.Table.columns[col][r.Row] = value
	return w.emit(OnSet, []ID{id}, r.Table, nil, r.Row, 1)
}

// Delete deletes e. Ids referring to e are first removed from every other
// entity, then UnSet and OnRemove are emitted for the entity's own ids.
// Tables whose type refers to e are deleted.
func (w *World) Delete(e Entity) error {
	if err := w.checkMutable("delete"); err != nil {
		return err
	}
	if e < firstUserEntity {
		return &Error{Code: ErrCodeInvalidOperation, Message: fmt.Sprintf("cannot delete builtin entity %s", w.EntityString(e))}
	}
	r, err := w.record(e)
	if err != nil {
		return err
	}

	if err := w.removeReferences(e); err != nil {
		return err
	}

	t := r.Table
	if len(t.typ) > 0 {
		var valued []ID
		for i, id := range t.typ {
			if t.valued[i] {
				valued = append(valued, id)
			}
		}
		if len(valued) > 0 {
			if err := w.emit(UnSet, valued, t, nil, r.Row, 1); err != nil {
				return err
			}
		}
		if err := w.emit(OnRemove, t.typ, t, nil, r.Row, 1); err != nil {
			return err
		}
	}

	t.deleteRow(r.Row)
	if t.Count() == 0 {
		w.tableEmptied(t)
	}
	if r.Flags&RowObservedAcyclic != 0 {
		w.notifyStructure()
	}
	delete(w.entities, e)
	if name, ok := w.nameOf[e]; ok {
		delete(w.names, name)
		delete(w.nameOf, e)
	}
	for _, id := range t.typ {
		if w.isAcyclicPair(id) {
			w.releaseTarget(id.Second())
		}
	}

	var dead []*Table
	for _, other := range w.tableList {
		if other.Count() == 0 && typeRefers(other.typ, e) {
			dead = append(dead, other)
		}
	}
	for _, other := range dead {
		w.deleteTable(other)
	}

	delete(w.typeInfo, e)
	delete(w.acyclic, e)
	delete(w.events, e)
	return nil
}

// removeReferences removes every id referring to e from the other entities
// that have it.
func (w *World) removeReferences(e Entity) error {
	type ref struct {
		entity Entity
		id     ID
	}
	var refs []ref
	for _, pattern := range []ID{ID(e), Pair(e, Wildcard), Pair(Wildcard, e)} {
		idr := w.ids.get(pattern)
		if idr == nil {
			continue
		}
		for _, tr := range idr.tables {
			for _, id := range tr.Table.typ {
				if !pattern.Match(id) {
					continue
				}
				for _, other := range tr.Table.entities {
					if other != e {
						refs = append(refs, ref{entity: other, id: id})
					}
				}
			}
		}
	}
	for _, ref := range refs {
		if err := w.Remove(ref.entity, ref.id); err != nil {
			return fmt.Errorf("remove %s from %s: %w", w.IDString(ref.id), w.EntityString(ref.entity), err)
		}
	}
	return nil
}

func typeRefers(typ []ID, e Entity) bool {
	for _, id := range typ {
		if id == ID(e) || id.First() == e || id.Second() == e {
			return true
		}
	}
	return false
}

// BulkNew creates n entities with the given ids and emits a single OnAdd
// over the new row range. The per-row records are published after the
// emission, so observers see nil Records for the new rows.
func (w *World) BulkNew(n int, ids ...ID) ([]Entity, error) {
	if err := w.checkMutable("bulk new"); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, NewInvalidArgument("bulk count must be positive, got %d", n)
	}
	typ := make([]ID, 0, len(ids))
	seen := make(map[ID]bool, len(ids))
	for _, id := range ids {
		if err := w.checkID(id); err != nil {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			typ = append(typ, id)
		}
	}
	sortIDs(typ)

	t := w.findTable(typ)
	offset := t.Count()
	entities := make([]Entity, n)
	for i := range entities {
		entities[i] = w.allocEntity()
		t.appendRow(entities[i], nil)
	}
	if offset == 0 {
		w.tableFilled(t)
	}
	for _, id := range typ {
		if w.isAcyclicPair(id) {
			for range entities {
				w.retainTarget(id.Second())
			}
		}
	}

	var err error
	if len(typ) > 0 {
		err = w.emit(OnAdd, typ, t, w.root, offset, n)
	}

	for i, e := range entities {
		r := &Record{Table: t, Row: offset + i}
		t.records[offset+i] = r
		w.entities[e] = r
	}
	return entities, err
}
