package worktree

import "github.com/nicolagi/worktree/internal/buffer"

// ChangeObserver is consumed, not implemented, by this package: an optional
// sink for text deltas, called after any operation that modified a buffer's
// visible text.
type ChangeObserver interface {
	// TextChanged delivers changes for bufferID, in ascending,
	// non-overlapping order.
	TextChanged(bufferID BufferId, changes []buffer.Change)
}
