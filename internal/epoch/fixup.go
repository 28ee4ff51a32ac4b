package epoch

import (
	"fmt"

	"github.com/nicolagi/worktree/internal/clock"
)

// fixConflicts runs after an operation touching fileID's parent pointer
// has been accepted: it first breaks any cycle that move may have created,
// then deduplicates any name collision left among currently visible
// children anywhere in the tree. Both passes can themselves produce further
// UpdateParent ops, which are applied immediately (against the same Epoch
// the caller is already mutating) and returned for broadcast.
func (e *Epoch) fixConflicts(fileID FileId, localClock *clock.LocalClock, lamportClock *clock.LamportClock) []Op {
	var fixups []Op
	fixups = append(fixups, e.breakCycles(fileID, localClock, lamportClock)...)
	fixups = append(fixups, e.dedupNames(localClock, lamportClock)...)
	return fixups
}

// breakCycles walks fileID's current parent chain to the root, tracking
// visited FileIds. If a FileId is seen twice, the chain contains a cycle:
// the move with the greatest Lamport timestamp among the cycle's ParentRefs
// is reverted to that file's most recent prior parent that is not itself a
// removal, breaking the cycle at its newest edge (the edge least likely to
// be information another replica is still relying on).
func (e *Epoch) breakCycles(fileID FileId, localClock *clock.LocalClock, lamportClock *clock.LamportClock) []Op {
	cur := fileID
	visited := map[FileId]bool{}
	var chain []FileId
	for {
		if visited[cur] {
			return e.revertNewestMove(chain, localClock, lamportClock)
		}
		visited[cur] = true
		chain = append(chain, cur)
		ref, ok := e.parentRefs.newestVisibleFor(cur)
		if !ok || ref.Parent == nil || ref.Parent.FileID.IsRoot() {
			return nil
		}
		cur = ref.Parent.FileID
		if len(chain) > maxChainDepth {
			// Runaway chain with no cycle detected within a generous bound:
			// treat as acyclic rather than loop forever on malformed input.
			return nil
		}
	}
}

// maxChainDepth bounds breakCycles' upward walk: any real directory tree
// produced by this module is far shallower than this, so hitting the bound
// indicates corrupt input rather than a legitimate deep tree.
const maxChainDepth = 1 << 20

// revertNewestMove finds, among the FileIds on the cycle, the one whose
// newestVisibleFor ParentRef has the greatest Lamport timestamp, and issues
// an UpdateParent reverting it to its most recent prior parent that was not
// itself a removal (falling back to full removal if none exists).
func (e *Epoch) revertNewestMove(chain []FileId, localClock *clock.LocalClock, lamportClock *clock.LamportClock) []Op {
	var worst FileId
	var worstRef ParentRef
	var found bool
	for _, id := range chain {
		ref, ok := e.parentRefs.newestVisibleFor(id)
		if !ok {
			continue
		}
		if !found || worstRef.Timestamp.Less(ref.Timestamp) {
			worst, worstRef = id, ref
			found = true
		}
	}
	if !found {
		return nil
	}
	prior := e.priorNonRemovalParent(worst, worstRef.Timestamp)
	local := localClock.Tick()
	lamport := lamportClock.Tick()
	op := UpdateParentOp(worst, prior, local, lamport)
	if err := e.applyUpdateParent(op); err != nil {
		return nil
	}
	return []Op{op}
}

// priorNonRemovalParent returns the ParentPointer of the newest ParentRef
// for childID strictly older than before whose Parent is non-nil, or nil if
// there is none (meaning the file should become fully unparented).
func (e *Epoch) priorNonRemovalParent(childID FileId, before clock.Lamport) *ParentPointer {
	for _, ref := range e.parentRefs.allFor(childID) {
		if ref.Timestamp.Less(before) && ref.Parent != nil {
			return ref.Parent
		}
	}
	return nil
}

// dedupNames groups every currently visible ChildRef by (parent, name),
// and for every group with more than one entry, keeps the entry with the
// greatest Lamport timestamp and renames every other entry in the group by
// appending "~" until its name is unique under that parent. Runs over the
// whole tree (not scoped to one fileID) because a single move can collide
// with any sibling, not just the one that triggered the fixup, matching the
// data model's "for each file whose current visible name collides" rule.
//
// Groups are processed in the order their first member is encountered
// during one forward scan of the tree (not Go map iteration order), so the
// sequence of emitted fixup ops is deterministic across runs given the same
// input.
func (e *Epoch) dedupNames(localClock *clock.LocalClock, lamportClock *clock.LamportClock) []Op {
	type key struct {
		parent FileId
		name   string
	}
	groups := map[key][]ChildRef{}
	var order []key
	for _, ref := range e.childRefs.allVisible() {
		k := key{parent: ref.ParentID, name: ref.Name}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], ref)
	}

	var fixups []Op
	for _, k := range order {
		members := groups[k]
		if len(members) < 2 {
			continue
		}
		winner := members[0]
		for _, m := range members[1:] {
			if winner.Timestamp.Less(m.Timestamp) {
				winner = m
			}
		}
		for _, m := range members {
			if m.ChildID.Equal(winner.ChildID) {
				continue
			}
			name := e.uniqueName(k.parent, k.name, m.ChildID)
			local := localClock.Tick()
			lamport := lamportClock.Tick()
			op := UpdateParentOp(m.ChildID, &ParentPointer{FileID: k.parent, Name: name}, local, lamport)
			if err := e.applyUpdateParent(op); err != nil {
				continue
			}
			fixups = append(fixups, op)
		}
	}
	return fixups
}

// uniqueName appends "~" to name, repeatedly, until no other child of
// parentID (besides excludeChild, the file being renamed) already holds it.
func (e *Epoch) uniqueName(parentID FileId, name string, excludeChild FileId) string {
	candidate := name
	for e.childRefs.hasVisible(parentID, candidate, excludeChild) {
		candidate = fmt.Sprintf("%s~", candidate)
	}
	return candidate
}
