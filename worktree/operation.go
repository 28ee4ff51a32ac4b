package worktree

import (
	"github.com/nicolagi/worktree/internal/clock"
	"github.com/nicolagi/worktree/internal/epoch"
)

// OperationKind tags the wire-level Operation union.
type OperationKind uint8

const (
	// KindStartEpoch marks the beginning of a new Epoch's lifetime: a
	// replica resetting to a new base commit broadcasts one of these before
	// any fixup or edit belonging to that epoch.
	KindStartEpoch OperationKind = iota
	// KindEpochOperation wraps one epoch.Op, tagged with the id of the
	// Epoch it belongs to so a receiving WorkTree can demultiplex it.
	KindEpochOperation
)

func (k OperationKind) String() string {
	if k == KindStartEpoch {
		return "StartEpoch"
	}
	return "EpochOperation"
}

// Operation is the wire format exchanged between replicas' WorkTrees,
// matching the engine's external interface exactly: a StartEpoch marker or
// an EpochOperation carrying one epoch.Op, always tagged with an epoch id
// so out-of-order and stale deliveries can be told apart.
type Operation struct {
	Kind    OperationKind
	EpochID clock.Lamport
	Head    epoch.Oid  // populated for KindStartEpoch
	Op      epoch.Op   // populated for KindEpochOperation
}

// StartEpochOperation builds the Operation a reset (or received epoch
// transition) broadcasts first.
func StartEpochOperation(epochID clock.Lamport, head epoch.Oid) Operation {
	return Operation{Kind: KindStartEpoch, EpochID: epochID, Head: head}
}

// EpochOperationOf wraps op, tagging it with the epoch it belongs to.
func EpochOperationOf(epochID clock.Lamport, op epoch.Op) Operation {
	return Operation{Kind: KindEpochOperation, EpochID: epochID, Op: op}
}
