package ecs

import "fmt"

// Entity is an opaque entity identifier.
//
// Only the low 31 bits are used so that an entity always fits into either
// half of a pair id.
type Entity uint64

// ID identifies something that can be attached to an entity: a component,
// a tag, or a relationship pair (first, second).
type ID uint64

// PairFlag marks an ID as a relationship pair.
const PairFlag ID = 1 << 63

const entityMask = 0x7fffffff

// Builtin entities. These are created by every World in this order and are
// never deleted.
const (
	// Wildcard matches any entity in either position of a pair, or any id
	// when used on its own.
	Wildcard Entity = iota + 1

	// OnAdd is emitted after an id is added to an entity.
	OnAdd
	// OnRemove is emitted before an id is removed from an entity.
	OnRemove
	// OnSet is emitted after a value is assigned.
	OnSet
	// UnSet is emitted before a valued id is removed.
	UnSet

	// ChildOf is the builtin hierarchy relationship. It is acyclic.
	ChildOf
	// IsA is the builtin instancing relationship. It is acyclic.
	IsA

	// firstUserEntity is the first id handed out by NewEntity.
	firstUserEntity Entity = 64
)

// ID returns the entity as a plain id.
func (e Entity) ID() ID {
	return ID(e)
}

// IsValid reports whether e is a usable entity id.
func (e Entity) IsValid() bool {
	return e != 0 && e <= entityMask
}

// Pair builds the relationship pair (first, second).
func Pair(first, second Entity) ID {
	return PairFlag | ID(first&entityMask)<<32 | ID(second&entityMask)
}

// IsPair reports whether id is a relationship pair.
func (id ID) IsPair() bool {
	return id&PairFlag != 0
}

// First returns the relationship of a pair, or 0 for plain ids.
func (id ID) First() Entity {
	if !id.IsPair() {
		return 0
	}
	return Entity((id >> 32) & entityMask)
}

// Second returns the target of a pair, or 0 for plain ids.
func (id ID) Second() Entity {
	if !id.IsPair() {
		return 0
	}
	return Entity(id & entityMask)
}

// Entity returns the plain id as an entity, or 0 for pairs.
func (id ID) Entity() Entity {
	if id.IsPair() {
		return 0
	}
	return Entity(id)
}

// IsWildcard reports whether id contains a wildcard in any position.
func (id ID) IsWildcard() bool {
	if id.IsPair() {
		return id.First() == Wildcard || id.Second() == Wildcard
	}
	return Entity(id) == Wildcard
}

// Match reports whether the pattern id matches the concrete id other.
//
// A plain Wildcard matches every plain id. For pairs each half matches
// independently, so (ChildOf, *) matches (ChildOf, parent) and (*, parent)
// matches every pair targeting parent.
func (id ID) Match(other ID) bool {
	if id == other {
		return true
	}
	if id.IsPair() != other.IsPair() {
		return false
	}
	if !id.IsPair() {
		return Entity(id) == Wildcard
	}
	first, second := id.First(), id.Second()
	if first != Wildcard && first != other.First() {
		return false
	}
	if second != Wildcard && second != other.Second() {
		return false
	}
	return true
}

// wildcardsOf returns the wildcard patterns that match a concrete id, most
// specific first. The result never contains id itself.
func wildcardsOf(id ID) []ID {
	if id.IsPair() {
		return []ID{
			Pair(id.First(), Wildcard),
			Pair(Wildcard, id.Second()),
			Pair(Wildcard, Wildcard),
		}
	}
	return []ID{ID(Wildcard)}
}

// WildcardsOf returns the wildcard patterns matching a concrete id, in the
// order observers registered on them are visited.
func WildcardsOf(id ID) []ID {
	if id.IsWildcard() {
		return nil
	}
	return wildcardsOf(id)
}

// String formats the id numerically. Use World.IDString for names.
func (id ID) String() string {
	if id.IsPair() {
		return fmt.Sprintf("(%d,%d)", id.First(), id.Second())
	}
	return fmt.Sprintf("%d", uint64(id))
}
