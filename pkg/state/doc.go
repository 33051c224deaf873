// Package state is the scoped key/value store used to park live fixtures on
// the execution node that owns them.
//
// Responsibilities:
//   - Store only attaches values to a single (node, key) Ref; it never walks to
//     ancestor nodes. Callers that want class-wide sharing pass the class node.
//   - Entries are write-once. Re-registering a live key is a programmer error
//     reported as DuplicateKeyError, because overwriting would orphan the
//     value that was already there.
//   - LoadOrCreate guarantees at most one create call per key, even when many
//     goroutines race for the first access.
//
// Data flow:
//
//	Coordinator -> Store.Put / Store.LoadOrCreate -> Store.Get -> Store.DropNode
//
// Deterministic keys:
//
//	Ref.Identifier() renders `node/<node>/<key>` and is what the store indexes by.
package state
