// Package epoch implements the directory CRDT: a complete, independent CRDT
// instance tied to one base commit, combining a Metadata index, a
// ParentRefs history and a ChildRefs history (all backed by
// internal/seqindex) with one internal/buffer text CRDT per text file.
//
// Directory operations go through Apply/ApplyOps, which follow the
// trial-apply discipline the rest of this module relies on: ApplyOps
// operates on a Clone of the Epoch and only swaps it into place once the
// whole batch, including any conflict-resolution fixups, has succeeded.
// EditText, EditText2D and InstallBuffer change the Epoch directly.
package epoch

import (
	log "github.com/sirupsen/logrus"

	"github.com/nicolagi/worktree/internal/buffer"
	"github.com/nicolagi/worktree/internal/clock"
	"github.com/nicolagi/worktree/internal/opqueue"
)

// textFileState is the per-file text CRDT lifecycle: Deferred while no
// buffer has been opened for the file yet (edits accumulate in Pending),
// Buffered once WorkTree has opened it against some base text.
type textFileState struct {
	Pending []buffer.Operation
	Buffer  *buffer.Buffer
}

func (s *textFileState) clone() *textFileState {
	c := &textFileState{Pending: append([]buffer.Operation(nil), s.Pending...)}
	if s.Buffer != nil {
		c.Buffer = s.Buffer.Clone()
	}
	return c
}

// Epoch is a complete directory CRDT keyed to one base commit.
type Epoch struct {
	ID   clock.Lamport
	Head Oid

	metadata   *metadataIndex
	parentRefs *parentRefIndex
	childRefs  *childRefIndex

	textFiles map[FileId]*textFileState

	deferred *opqueue.Queue[Op]

	version clock.Global

	nextBaseID uint64
}

// Oid is an opaque 20-byte content address, e.g. a git commit id.
type Oid [20]byte

// New builds an empty Epoch tied to head, identified by id. The root
// directory's Metadata record is seeded automatically: it is referenced by
// every ParentRef/ChildRef as the implicit top of the tree, and the data
// model's invariant ("every FileId referenced... has a Metadata record")
// must hold from the very first operation.
func New(id clock.Lamport, head Oid) *Epoch {
	e := &Epoch{
		ID:         id,
		Head:       head,
		metadata:   newMetadataIndex(),
		parentRefs: newParentRefIndex(),
		childRefs:  newChildRefIndex(),
		textFiles:  make(map[FileId]*textFileState),
		deferred:   opqueue.New[Op](),
	}
	e.metadata.insert(RootFileId(), TypeDirectory)
	return e
}

// Version returns the Global version vector this epoch has observed.
func (e *Epoch) Version() clock.Global { return e.version }

// Clone returns an Epoch sharing all current state with e; mutating the
// clone (via ApplyOps) never mutates e until ApplyOps commits, because
// every index and buffer underneath is itself copy-on-write.
func (e *Epoch) Clone() *Epoch {
	textFiles := make(map[FileId]*textFileState, len(e.textFiles))
	for id, s := range e.textFiles {
		textFiles[id] = s.clone()
	}
	return &Epoch{
		ID:         e.ID,
		Head:       e.Head,
		metadata:   e.metadata.clone(),
		parentRefs: e.parentRefs.clone(),
		childRefs:  e.childRefs.clone(),
		textFiles:  textFiles,
		deferred:   e.deferred.Clone(),
		version:    e.version.Clone(),
		nextBaseID: e.nextBaseID,
	}
}

// Lookup returns the FileType of id, if known.
func (e *Epoch) Lookup(id FileId) (FileType, bool) {
	return e.metadata.lookup(id)
}

// apply dispatches a single, already-stamped Op against e, bumping the
// version and the caller's clocks first, per the data model's "applying an
// operation" contract. Returns errPrecondition if the op names a FileId
// this epoch does not yet know, signalling to the caller that the op
// should be deferred rather than treated as a hard failure.
func (e *Epoch) apply(op Op, localClock *clock.LocalClock, lamportClock *clock.LamportClock) error {
	localClock.Observe(op.Local)
	lamportClock.Observe(op.Lamport)
	e.version = e.version.ObserveLocal(op.Local)
	switch op.Kind {
	case KindInsertMetadata:
		return e.applyInsertMetadata(op)
	case KindUpdateParent:
		return e.applyUpdateParent(op)
	case KindEditText:
		return e.applyEditText(op, localClock, lamportClock)
	default:
		return errorf("Epoch.apply", "unknown op kind %v", op.Kind)
	}
}

func (e *Epoch) applyInsertMetadata(op Op) error {
	if op.Parent != nil && !op.Parent.FileID.IsRoot() && !e.metadata.exists(op.Parent.FileID) {
		return errPrecondition
	}
	e.metadata.insert(op.FileID, op.FileType)
	if op.Parent != nil {
		e.parentRefs.insert(ParentRef{ChildID: op.FileID, Timestamp: op.Lamport, Parent: op.Parent})
		e.childRefs.insert(ChildRef{ParentID: op.Parent.FileID, Name: op.Parent.Name, Visible: true, Timestamp: op.Lamport, ChildID: op.FileID})
	}
	return nil
}

// applyUpdateParent is the hardest operation in the data model: see spec
// §4.4 for the three-branch rule this implements. latest is the newest ParentRef regardless of content;
// latestVisible is the newest one that actually placed the file somewhere.
func (e *Epoch) applyUpdateParent(op Op) error {
	if !e.metadata.exists(op.ChildID) {
		return errPrecondition
	}
	if op.Parent != nil && !op.Parent.FileID.IsRoot() && !e.metadata.exists(op.Parent.FileID) {
		return errPrecondition
	}

	latest, hasLatest := e.parentRefs.newestFor(op.ChildID)
	latestVisible, hasVisible := e.parentRefs.newestVisibleFor(op.ChildID)

	var target ChildRef
	var hasTarget bool
	if hasVisible {
		visibleFlag := hasLatest && latest.Parent != nil
		target, hasTarget = e.childRefs.find(latestVisible.Parent.FileID, latestVisible.Parent.Name, visibleFlag, latestVisible.Timestamp, op.ChildID)
	}

	switch {
	case !hasLatest || latest.Timestamp.Less(op.Lamport):
		// This op supersedes the latest recorded move.
		if hasTarget {
			e.childRefs.delete(target)
		}
		if op.Parent != nil {
			e.childRefs.insert(ChildRef{ParentID: op.Parent.FileID, Name: op.Parent.Name, Visible: true, Timestamp: op.Lamport, ChildID: op.ChildID})
		} else if hasTarget {
			e.childRefs.insert(ChildRef{ParentID: target.ParentID, Name: target.Name, Visible: false, Timestamp: op.Lamport, ChildID: op.ChildID})
		}
	case hasVisible && latestVisible.Timestamp.Less(op.Lamport) && latest.Parent == nil && op.Parent != nil:
		// The file was removed by a newer op, but this older-than-that op
		// still dominates the last real placement: resurrect it, invisibly.
		e.childRefs.insert(ChildRef{ParentID: op.Parent.FileID, Name: op.Parent.Name, Visible: false, Timestamp: op.Lamport, ChildID: op.ChildID})
	default:
		// Fully shadowed: recorded in history only.
	}

	e.parentRefs.insert(ParentRef{ChildID: op.ChildID, Timestamp: op.Lamport, Parent: op.Parent})
	return nil
}

// applyEditText integrates op against the file's buffer CRDT, or queues it
// in Pending if the buffer has not been installed yet. A failure from
// Buffer.ApplyOps here is not a precondition failure to defer: it means the
// op stream itself is inconsistent (a delete with no matching insert ever
// received), so it is propagated as a hard error, rejecting the whole
// batch, per spec.md §9 open question (a).
func (e *Epoch) applyEditText(op Op, localClock *clock.LocalClock, lamportClock *clock.LamportClock) error {
	state := e.textFiles[op.FileID]
	if state == nil {
		state = &textFileState{}
		e.textFiles[op.FileID] = state
	}
	if state.Buffer == nil {
		state.Pending = append(state.Pending, op.Edits...)
		return nil
	}
	if err := state.Buffer.ApplyOps(op.Edits, localClock, lamportClock); err != nil {
		return errorf("Epoch.applyEditText", "%w", err)
	}
	return nil
}

// touchedFileID returns the FileId fixConflicts should run for after op was
// accepted, and whether op triggers a fixup pass at all: only InsertMetadata
// with a parent, and UpdateParent, can change the directory graph's shape.
func touchedFileID(op Op) (FileId, bool) {
	switch op.Kind {
	case KindInsertMetadata:
		if op.Parent != nil {
			return op.FileID, true
		}
	case KindUpdateParent:
		return op.ChildID, true
	}
	return FileId{}, false
}

// applyBatchAndFixups applies ops in order, deferring any that hit
// errPrecondition, running fixConflicts for every FileId an accepted op
// touched, then draining the deferred queue and repeating until it stays
// empty. It mutates e directly — callers that need trial semantics (e.g.
// ApplyOps) must call this on a Clone.
func (e *Epoch) applyBatchAndFixups(ops []Op, localClock *clock.LocalClock, lamportClock *clock.LamportClock) ([]Op, error) {
	var fixups []Op
	pending := ops
	for len(pending) > 0 {
		var touched []FileId
		for _, op := range pending {
			err := e.apply(op, localClock, lamportClock)
			if err == errPrecondition {
				e.deferred.Insert(op.Lamport.Value, op.Lamport.ReplicaID, op)
				log.WithFields(log.Fields{"kind": op.Kind}).Debug("epoch: deferring operation")
				continue
			}
			if err != nil {
				return nil, err
			}
			if id, ok := touchedFileID(op); ok {
				touched = appendUniqueFileID(touched, id)
			}
		}
		for _, id := range touched {
			fixups = append(fixups, e.fixConflicts(id, localClock, lamportClock)...)
		}
		pending = e.deferred.Drain()
	}
	return fixups, nil
}

func appendUniqueFileID(ids []FileId, id FileId) []FileId {
	for _, existing := range ids {
		if existing.Equal(id) {
			return ids
		}
	}
	return append(ids, id)
}

// ApplyOps applies a batch of already-stamped ops, returning any fixup ops
// produced by conflict resolution. The batch is applied to a Clone and only
// committed to e if every op in it (ignoring deferrals) succeeds.
func (e *Epoch) ApplyOps(ops []Op, localClock *clock.LocalClock, lamportClock *clock.LamportClock) ([]Op, error) {
	clone := e.Clone()
	fixups, err := clone.applyBatchAndFixups(ops, localClock, lamportClock)
	if err != nil {
		return nil, err
	}
	*e = *clone
	return fixups, nil
}

// Apply applies a single already-stamped op. A convenience wrapper over
// ApplyOps for callers with exactly one op in hand.
func (e *Epoch) Apply(op Op, localClock *clock.LocalClock, lamportClock *clock.LamportClock) ([]Op, error) {
	return e.ApplyOps([]Op{op}, localClock, lamportClock)
}

// CreateFile stamps and applies an InsertMetadata op creating a new file
// named name under parentID, returning the op (plus any fixups — e.g. a
// concurrent sibling create racing for the same name) for broadcast.
func (e *Epoch) CreateFile(parentID FileId, name string, fileType FileType, localClock *clock.LocalClock, lamportClock *clock.LamportClock) ([]Op, error) {
	local := localClock.Tick()
	lamport := lamportClock.Tick()
	id := NewFileId(local)
	op := InsertMetadataOp(id, fileType, &ParentPointer{FileID: parentID, Name: name}, local, lamport)
	fixups, err := e.ApplyOps([]Op{op}, localClock, lamportClock)
	if err != nil {
		return nil, err
	}
	return append([]Op{op}, fixups...), nil
}

// Rename stamps and applies an UpdateParent op moving/renaming childID.
func (e *Epoch) Rename(childID, newParentID FileId, newName string, localClock *clock.LocalClock, lamportClock *clock.LamportClock) ([]Op, error) {
	local := localClock.Tick()
	lamport := lamportClock.Tick()
	op := UpdateParentOp(childID, &ParentPointer{FileID: newParentID, Name: newName}, local, lamport)
	fixups, err := e.ApplyOps([]Op{op}, localClock, lamportClock)
	if err != nil {
		return nil, err
	}
	return append([]Op{op}, fixups...), nil
}

// Remove stamps and applies an UpdateParent op with no new parent.
func (e *Epoch) Remove(childID FileId, localClock *clock.LocalClock, lamportClock *clock.LamportClock) ([]Op, error) {
	local := localClock.Tick()
	lamport := lamportClock.Tick()
	op := UpdateParentOp(childID, nil, local, lamport)
	fixups, err := e.ApplyOps([]Op{op}, localClock, lamportClock)
	if err != nil {
		return nil, err
	}
	return append([]Op{op}, fixups...), nil
}

// EditText edits the already-open buffer for fileID directly, bypassing
// the clone-and-fixup machinery: text edits never change the directory
// graph's shape, so they cannot trigger fixConflicts and do not need trial
// semantics at the Epoch level (the buffer's own Edit is already safe to
// call unconditionally).
func (e *Epoch) EditText(fileID FileId, ranges []buffer.OffsetRange, newText string, localClock *clock.LocalClock, lamportClock *clock.LamportClock) (Op, error) {
	state := e.textFiles[fileID]
	if state == nil || state.Buffer == nil {
		return Op{}, errorf("Epoch.EditText", "%v: %w", fileID, ErrInvalidFileId)
	}
	edits := state.Buffer.Edit(ranges, newText, localClock, lamportClock)
	local := localClock.Tick()
	lamport := lamportClock.Tick()
	e.version = e.version.ObserveLocal(local)
	return EditTextOp(fileID, edits, local, lamport), nil
}

// EditText2D is EditText with ranges expressed as (row, column) Points.
func (e *Epoch) EditText2D(fileID FileId, ranges []buffer.Range, newText string, localClock *clock.LocalClock, lamportClock *clock.LamportClock) (Op, error) {
	state := e.textFiles[fileID]
	if state == nil || state.Buffer == nil {
		return Op{}, errorf("Epoch.EditText2D", "%v: %w", fileID, ErrInvalidFileId)
	}
	edits := state.Buffer.Edit2D(ranges, newText, localClock, lamportClock)
	local := localClock.Tick()
	lamport := lamportClock.Tick()
	e.version = e.version.ObserveLocal(local)
	return EditTextOp(fileID, edits, local, lamport), nil
}

// InstallBuffer transitions fileID from Deferred to Buffered, draining any
// edits that arrived before the buffer existed. Used by worktree.WorkTree
// once GitProvider.BaseText resolves for a newly opened file. Returns an
// error, without installing buf, if a pending edit cannot be integrated
// (see Buffer.ApplyOps): the caller decides whether that is fatal for the
// whole switch or just this file.
func (e *Epoch) InstallBuffer(fileID FileId, buf *buffer.Buffer, localClock *clock.LocalClock, lamportClock *clock.LamportClock) error {
	state := e.textFiles[fileID]
	if state == nil {
		state = &textFileState{}
		e.textFiles[fileID] = state
	}
	if len(state.Pending) > 0 {
		if err := buf.ApplyOps(state.Pending, localClock, lamportClock); err != nil {
			return errorf("Epoch.InstallBuffer", "%w", err)
		}
		state.Pending = nil
	}
	state.Buffer = buf
	return nil
}

// TextBuffer returns the live buffer for fileID, if one has been installed.
func (e *Epoch) TextBuffer(fileID FileId) (*buffer.Buffer, bool) {
	state := e.textFiles[fileID]
	if state == nil || state.Buffer == nil {
		return nil, false
	}
	return state.Buffer, true
}
