package buffer

import "github.com/nicolagi/worktree/internal/clock"

// OperationKind distinguishes the two character-level mutations a buffer
// emits and consumes.
type OperationKind uint8

const (
	OpInsert OperationKind = iota
	OpDelete
)

// Operation is the wire-level, replica-independent description of a single
// code unit's mutation: an insertion names the whole fragment it creates
// (identifier and content already resolved against this replica's neighbors
// at generation time), and a deletion names the fragment it tombstones.
// Because fragment identifiers are globally comparable, applying an
// Operation never needs to know which replica produced it or in what order
// it arrives relative to others touching the same region: ApplyOps places
// an inserted fragment by identifier alone and is a no-op if the identifier
// is already present, giving idempotent, order-independent apply.
type Operation struct {
	Kind    OperationKind
	ID      fragmentID
	Unit    uint16 // populated for OpInsert
	Local   clock.Local
	Lamport clock.Lamport
}
