package epoch

import "github.com/nicolagi/worktree/internal/clock"

// DirEntry is one line of a depth-first directory listing fed to
// AppendBaseEntries, e.g. read from a git tree or tar stream: Depth counts
// from 1 at the root's direct children.
type DirEntry struct {
	Depth int
	Name  string
	Type  FileType
}

// AppendBaseEntries ingests a depth-first directory listing as the epoch's
// base content, minting ascending Base FileIds as a function of ingestion
// order alone. Every record is stamped with the Lamport minimum for this
// replica, so that base content always sorts as older than any replicated
// operation regardless of when AppendBaseEntries actually runs — two
// replicas loading the same listing converge on identical state without
// needing to exchange anything.
//
// The raw per-entry inserts are never returned: every replica derives them
// locally from its own GitProvider.BaseEntries call on the same listing, so
// broadcasting them would be redundant. Only the fixup ops a name collision
// (or a drained deferred op) produces are returned, matching reset's wire
// contract: one StartEpoch followed by zero or more fixup ops in
// base-ingest order.
//
// localClock mints the Local timestamps each record needs for version
// tracking; lamportClock is only consulted for its ReplicaID (to build the
// minimum Lamport value) unless the post-ingest name-collision pass needs
// to mint a fixup, in which case it ticks normally like any other op.
func (e *Epoch) AppendBaseEntries(entries []DirEntry, localClock *clock.LocalClock, lamportClock *clock.LamportClock) ([]Op, error) {
	clone := e.Clone()
	if _, err := clone.ingestBaseEntries(entries, localClock, lamportClock); err != nil {
		return nil, err
	}
	fixups := clone.dedupNames(localClock, lamportClock)
	if drained := clone.deferred.Drain(); len(drained) > 0 {
		more, err := clone.applyBatchAndFixups(drained, localClock, lamportClock)
		if err != nil {
			return nil, err
		}
		fixups = append(fixups, more...)
	}
	*e = *clone
	return fixups, nil
}

func (e *Epoch) ingestBaseEntries(entries []DirEntry, localClock *clock.LocalClock, lamportClock *clock.LamportClock) ([]Op, error) {
	type stackEntry struct {
		depth int
		id    FileId
	}
	stack := []stackEntry{{depth: 0, id: RootFileId()}}
	replicaID := lamportClock.ReplicaID()

	var ops []Op
	for _, de := range entries {
		if de.Depth < 1 {
			return nil, errorf("ingestBaseEntries", "%w: depth %d", ErrInvalidDirEntry, de.Depth)
		}
		for len(stack) > 1 && stack[len(stack)-1].depth >= de.Depth {
			stack = stack[:len(stack)-1]
		}
		if stack[len(stack)-1].depth != de.Depth-1 {
			return nil, errorf("ingestBaseEntries", "%w: %q has no parent at depth %d", ErrInvalidDirEntry, de.Name, de.Depth-1)
		}
		parentID := stack[len(stack)-1].id

		e.nextBaseID++
		id := BaseFileId(e.nextBaseID)
		local := localClock.Tick()
		op := InsertMetadataOp(id, de.Type, &ParentPointer{FileID: parentID, Name: de.Name}, local, clock.MinValue(replicaID))
		if err := e.applyInsertMetadata(op); err != nil {
			return nil, err
		}
		e.version = e.version.ObserveLocal(local)
		ops = append(ops, op)

		if de.Type == TypeDirectory {
			stack = append(stack, stackEntry{depth: de.Depth, id: id})
		}
	}
	return ops, nil
}
