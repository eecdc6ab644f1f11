// Package ecs implements the entity/relationship data model the notification
// core operates on.
//
// The package owns:
//   - Entity and ID encoding (plain ids and relationship pairs)
//   - Archetype tables: entities sharing an identical id composition
//   - The per-entity Record (table, row, row flags)
//   - The IDRecord arena: per-id metadata, observer gating flags, the table
//     cache, and the acyclic sibling lists used by relationship cascades
//   - The World: entity index, event counter, statistics, and the storage
//     operations (Add, Remove, Set, Delete, BulkNew) that report changes
//
// # Emission
//
// The World does not decide which observers run. Every storage mutation
// builds an EventDesc and hands it to the injected Emitter (see package
// observable). Structural changes are reported to StructureListeners so that
// derived caches (see package trav) can be invalidated.
//
// # Single writer
//
// A World is not safe for concurrent mutation. All storage operations and
// emission run on the caller's goroutine. Structural changes are rejected
// while an emission is in progress, so observer callbacks observe a stable
// table layout for the duration of their invocation.
package ecs
