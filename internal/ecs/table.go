package ecs

import (
	"sort"
	"strconv"
	"strings"
)

// RowFlags are per-entity flags stored on the entity's Record.
type RowFlags uint32

const (
	// RowObservedAcyclic is set on an entity that is the target of at least
	// one pair whose relationship is acyclic. Emission only cascades from
	// entities carrying this flag.
	RowObservedAcyclic RowFlags = 1 << iota
)

// Record is the storage location of an entity.
type Record struct {
	Table *Table
	Row   int
	Flags RowFlags

	// acyclicRefs counts the acyclic pairs targeting this entity. The
	// RowObservedAcyclic flag is set while it is non-zero.
	acyclicRefs int
}

// Table stores all entities with one exact id composition (archetype).
//
// Rows are dense: entities[i], records[i] and every column's i-th value
// describe the same entity. A records slot may be nil right after BulkNew,
// before the per-row records are published.
type Table struct {
	id       uint64
	typ      []ID
	key      string
	index    map[ID]int
	entities []Entity
	records  []*Record
	columns  [][]any
	valued   []bool

	// observedCount is the number of rows flagged RowObservedAcyclic.
	observedCount int

	addEdges    map[ID]*Table
	removeEdges map[ID]*Table

	// idRecords lists the records the table is registered in, including
	// wildcard patterns.
	idRecords []IDHandle
}

// typeKey builds the lookup key for a sorted id list.
func typeKey(typ []ID) string {
	var b strings.Builder
	for i, id := range typ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(uint64(id), 16))
	}
	return b.String()
}

func sortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func newTable(id uint64, typ []ID, valued []bool) *Table {
	t := &Table{
		id:          id,
		typ:         typ,
		key:         typeKey(typ),
		index:       make(map[ID]int, len(typ)),
		columns:     make([][]any, len(typ)),
		valued:      valued,
		addEdges:    make(map[ID]*Table),
		removeEdges: make(map[ID]*Table),
	}
	for i, id := range typ {
		t.index[id] = i
	}
	return t
}

// ID returns the table's numeric identifier. Ids are never reused within a
// world.
func (t *Table) ID() uint64 {
	return t.id
}

// Type returns the sorted ids of the table. Callers must not modify it.
func (t *Table) Type() []ID {
	return t.typ
}

// Count returns the number of rows in the table.
func (t *Table) Count() int {
	return len(t.entities)
}

// Entities returns the entity column. Callers must not modify it.
func (t *Table) Entities() []Entity {
	return t.entities
}

// Records returns the per-row records. Slots may be nil. Callers must not
// modify it.
func (t *Table) Records() []*Record {
	return t.records
}

// ObservedCount returns the number of rows flagged RowObservedAcyclic.
func (t *Table) ObservedCount() int {
	return t.observedCount
}

// Has reports whether the table contains exactly id.
func (t *Table) Has(id ID) bool {
	_, ok := t.index[id]
	return ok
}

// Column returns the column index of id, or -1.
func (t *Table) Column(id ID) int {
	if i, ok := t.index[id]; ok {
		return i
	}
	return -1
}

// HasMatch reports whether any id of the table matches the pattern.
func (t *Table) HasMatch(pattern ID) bool {
	if !pattern.IsWildcard() {
		return t.Has(pattern)
	}
	for _, id := range t.typ {
		if pattern.Match(id) {
			return true
		}
	}
	return false
}

// Value returns the value stored for the id column at row.
func (t *Table) Value(column, row int) any {
	if column < 0 || column >= len(t.columns) || !t.valued[column] {
		return nil
	}
	return t.columns[column][row]
}

// Values returns the column slice for rows [offset, offset+count), or nil
// when the column carries no values.
func (t *Table) Values(column, offset, count int) []any {
	if column < 0 || column >= len(t.columns) || !t.valued[column] {
		return nil
	}
	return t.columns[column][offset : offset+count]
}

// appendRow adds an entity at the end of the table and returns its row.
func (t *Table) appendRow(e Entity, r *Record) int {
	t.entities = append(t.entities, e)
	t.records = append(t.records, r)
	for i := range t.columns {
		if t.valued[i] {
			t.columns[i] = append(t.columns[i], nil)
		}
	}
	if r != nil && r.Flags&RowObservedAcyclic != 0 {
		t.observedCount++
	}
	return len(t.entities) - 1
}

// deleteRow removes a row by swapping the last row into its place. The
// moved entity's record is updated.
func (t *Table) deleteRow(row int) {
	last := len(t.entities) - 1
	if r := t.records[row]; r != nil && r.Flags&RowObservedAcyclic != 0 {
		t.observedCount--
	}
	if row != last {
		t.entities[row] = t.entities[last]
		t.records[row] = t.records[last]
		for i := range t.columns {
			if t.valued[i] {
				t.columns[i][row] = t.columns[i][last]
			}
		}
		if moved := t.records[row]; moved != nil {
			moved.Row = row
		}
	}
	t.entities = t.entities[:last]
	t.records[last] = nil
	t.records = t.records[:last]
	for i := range t.columns {
		if t.valued[i] {
			t.columns[i][last] = nil
			t.columns[i] = t.columns[i][:last]
		}
	}
}

// copyValues copies the shared column values of srcRow in src into dstRow.
func (t *Table) copyValues(src *Table, srcRow, dstRow int) {
	for i, id := range t.typ {
		if !t.valued[i] {
			continue
		}
		if j := src.Column(id); j >= 0 && src.valued[j] {
			t.columns[i][dstRow] = src.columns[j][srcRow]
		}
	}
}
