// Package worktree implements the multi-epoch façade: it owns the single
// currently active Epoch, demultiplexes incoming wire Operations by epoch
// id, and drives the asynchronous base-content loading (SwitchEpoch,
// open_text_file) that keeps open text buffers alive across a base commit
// change. See internal/epoch for the CRDT core this package sequences.
package worktree

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/nicolagi/worktree/config"
	"github.com/nicolagi/worktree/internal/buffer"
	"github.com/nicolagi/worktree/internal/clock"
	"github.com/nicolagi/worktree/internal/epoch"
	"github.com/nicolagi/worktree/internal/opqueue"
)

// BufferId is a local handle to an open text buffer; it never crosses the
// wire, and stays valid across a SwitchEpoch even if the file it names is
// renamed, or disappears from the new base commit.
type BufferId uint32

// defaultBaseEntryChunkSize matches spec.md §4.5: base entries are applied
// to a fresh Epoch in chunks of this size. The whole listing is fetched
// from the GitProvider first; chunking bounds the size of each
// AppendBaseEntries batch.
const defaultBaseEntryChunkSize = 500

// maxConcurrentBaseTextFetches bounds SwitchEpoch's fan-out of
// GitProvider.BaseText calls, the same way internal/tree.Tree.grow bounds
// its own child-loading fan-out.
const maxConcurrentBaseTextFetches = 8

// Option configures a WorkTree at construction time.
type Option func(*WorkTree) error

// WithObserver installs the ChangeObserver notified of text deltas.
func WithObserver(o ChangeObserver) Option {
	return func(w *WorkTree) error {
		w.observer = o
		return nil
	}
}

// WithChunkSize overrides the base-entry streaming chunk size.
func WithChunkSize(n int) Option {
	return func(w *WorkTree) error {
		if n <= 0 {
			return errorf("WithChunkSize", "chunk size must be positive, got %d", n)
		}
		w.chunkSize = n
		return nil
	}
}

// WorkTree owns a current Epoch, a BufferId->FileId mapping, a Lamport
// clock shared with every component touching this replica, and the
// GitProvider/ChangeObserver collaborators the engine consumes. All public
// methods are safe for concurrent use; the mutex is never held across a
// GitProvider call, per the engine's "no lock across a suspension point"
// scheduling rule.
type WorkTree struct {
	mu sync.Mutex

	replicaID clock.ReplicaID
	localClock   *clock.LocalClock
	lamportClock *clock.LamportClock

	epoch   *epoch.Epoch
	epochID clock.Lamport
	head    epoch.Oid

	buffers      map[BufferId]epoch.FileId
	nextBufferID uint32

	// deferred holds Operations tagged with an epoch id strictly greater
	// than the current one, for which no StartEpoch has arrived yet.
	deferred map[clock.Lamport]*opqueue.Queue[Operation]

	provider  GitProvider
	observer  ChangeObserver
	chunkSize int
}

// New builds a WorkTree with no active epoch: until Reset (or an incoming
// StartEpoch Operation) starts one, ApplyOps defers every EpochOperation.
func New(replicaID clock.ReplicaID, provider GitProvider, opts ...Option) (*WorkTree, error) {
	w := &WorkTree{
		replicaID:    replicaID,
		localClock:   clock.NewLocalClock(replicaID),
		lamportClock: clock.NewLamportClock(replicaID),
		buffers:      make(map[BufferId]epoch.FileId),
		deferred:     make(map[clock.Lamport]*opqueue.Queue[Operation]),
		provider:     provider,
		chunkSize:    defaultBaseEntryChunkSize,
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, errorf("New", "%v", err)
		}
	}
	return w, nil
}

// NewFromConfig builds a WorkTree using cfg's persisted ReplicaID and
// ChunkSize, applying opts on top (an explicit WithChunkSize still wins,
// since it is applied after the one derived from cfg).
func NewFromConfig(cfg *config.C, provider GitProvider, opts ...Option) (*WorkTree, error) {
	all := append([]Option{WithChunkSize(cfg.ChunkSize)}, opts...)
	return New(cfg.ReplicaID, provider, all...)
}

// EpochID returns the id of the currently active epoch.
func (w *WorkTree) EpochID() clock.Lamport {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.epochID
}

// Reset ticks the Lamport clock to mint a new epoch id, then builds and
// switches to a fresh Epoch rooted at head, returning the StartEpoch
// Operation followed by every fixup Operation produced ingesting head's
// base entries, for broadcast to other replicas.
func (w *WorkTree) Reset(ctx context.Context, head epoch.Oid) ([]Operation, error) {
	w.mu.Lock()
	newID := w.lamportClock.Tick()
	w.mu.Unlock()
	return w.startEpoch(ctx, newID, head)
}

// startEpoch builds a fresh Epoch for newID/head, streams base entries into
// it in chunkSize batches, and runs SwitchEpoch.
func (w *WorkTree) startEpoch(ctx context.Context, newID clock.Lamport, head epoch.Oid) ([]Operation, error) {
	w.mu.Lock()
	provider := w.provider
	chunkSize := w.chunkSize
	w.mu.Unlock()

	entries, err := provider.BaseEntries(ctx, head)
	if err != nil {
		return nil, errorf("startEpoch", "%w: %v", ErrIO, err)
	}

	newEpoch := epoch.New(newID, head)
	// fixupOps never includes the raw per-entry base inserts: every replica
	// derives those locally from the same provider.BaseEntries listing, so
	// only the fixups a name collision (or drained deferred op) produces
	// need to cross the wire.
	var fixupOps []epoch.Op
	for start := 0; start < len(entries); start += chunkSize {
		end := start + chunkSize
		if end > len(entries) {
			end = len(entries)
		}
		w.mu.Lock()
		ops, err := newEpoch.AppendBaseEntries(entries[start:end], w.localClock, w.lamportClock)
		w.mu.Unlock()
		if err != nil {
			return nil, errorf("startEpoch", "appending base entries: %w", err)
		}
		fixupOps = append(fixupOps, ops...)
	}

	log.WithFields(log.Fields{"epoch_id": newID, "entries": len(entries)}).Debug("worktree: starting epoch")

	out := make([]Operation, 0, 1+len(fixupOps))
	out = append(out, StartEpochOperation(newID, head))
	for _, op := range fixupOps {
		out = append(out, EpochOperationOf(newID, op))
	}

	switched, err := w.switchEpoch(ctx, newEpoch, newID, head)
	if err != nil {
		return nil, err
	}
	return append(out, switched...), nil
}

// snapshotOpenBuffers returns every currently open buffer's current path
// under w.epoch (a removed file's last placed path), skipping any whose
// file has no path at all.
func (w *WorkTree) snapshotOpenBuffers() []openBuffer {
	var out []openBuffer
	for id, fileID := range w.buffers {
		if path, ok := w.epoch.Path(fileID); ok {
			out = append(out, openBuffer{id: id, fileID: fileID, path: path})
		}
	}
	return out
}

type openBuffer struct {
	id     BufferId
	fileID epoch.FileId
	path   string
}

// ApplyOps demultiplexes ops by epoch id: ops for the current epoch are
// batched and fed to it; a StartEpoch for a newer id triggers a switch; an
// EpochOperation for a newer id (no StartEpoch seen yet) is deferred; stale
// ids are ignored. Before returning, every open buffer's changes_since its
// pre-call version are delivered through the ChangeObserver.
func (w *WorkTree) ApplyOps(ctx context.Context, ops []Operation) ([]Operation, error) {
	w.mu.Lock()

	prevVersions := make(map[BufferId]clock.Global, len(w.buffers))
	for id, fileID := range w.buffers {
		if buf, ok := w.epoch.TextBuffer(fileID); ok {
			prevVersions[id] = buf.Version()
		}
	}

	var currentBatch []epoch.Op
	var deferredStarts []Operation
	for _, op := range ops {
		switch op.Kind {
		case KindStartEpoch:
			if w.epoch == nil || w.epochID.Less(op.EpochID) {
				deferredStarts = append(deferredStarts, op)
			}
		case KindEpochOperation:
			switch {
			case w.epoch == nil:
				// No epoch has started yet on this replica: every epoch id is
				// necessarily in the future, so hold the operation until its
				// StartEpoch arrives (possibly later in this very batch).
				w.deferOpLocked(op)
			case op.EpochID.Equal(w.epochID):
				currentBatch = append(currentBatch, op.Op)
			case w.epochID.Less(op.EpochID):
				w.deferOpLocked(op)
			default:
				// Stale: an operation for an epoch we have already moved past.
			}
		}
	}

	var out []Operation
	if len(currentBatch) > 0 {
		fixups, err := w.epoch.ApplyOps(currentBatch, w.localClock, w.lamportClock)
		if err != nil {
			w.mu.Unlock()
			return nil, err
		}
		for _, f := range fixups {
			out = append(out, EpochOperationOf(w.epochID, f))
		}
	}
	w.mu.Unlock()

	for _, start := range deferredStarts {
		switched, err := w.startEpoch(ctx, start.EpochID, start.Head)
		if err != nil {
			return nil, err
		}
		out = append(out, switched...)
	}

	w.mu.Lock()
	out = append(out, w.emitChangesLocked(prevVersions)...)
	w.mu.Unlock()
	return out, nil
}

func (w *WorkTree) deferOpLocked(op Operation) {
	q, ok := w.deferred[op.EpochID]
	if !ok {
		q = opqueue.New[Operation]()
		w.deferred[op.EpochID] = q
	}
	q.Insert(op.Op.Lamport.Value, op.Op.Lamport.ReplicaID, op)
	log.WithFields(log.Fields{"epoch_id": op.EpochID}).Debug("worktree: deferring operation for future epoch")
}

// emitChangesLocked delivers, for every open buffer whose version advanced
// past prevVersions, the coalesced changes through the observer. Called
// with w.mu held.
func (w *WorkTree) emitChangesLocked(prevVersions map[BufferId]clock.Global) []Operation {
	if w.observer == nil {
		return nil
	}
	for id, fileID := range w.buffers {
		buf, ok := w.epoch.TextBuffer(fileID)
		if !ok {
			continue
		}
		before, hadBefore := prevVersions[id]
		if hadBefore && !buf.Version().ChangedSince(before) {
			continue
		}
		changes := buf.ChangesSince(before)
		if len(changes) > 0 {
			w.observer.TextChanged(id, changes)
		}
	}
	return nil
}

// OpenTextFile resolves path to a BufferId: an already-open buffer
// currently resolving to path is reused; otherwise its base text is
// fetched and a Buffered text-file state is installed. If the epoch
// changes underneath while base text is being fetched, the whole
// resolution restarts.
func (w *WorkTree) OpenTextFile(ctx context.Context, path string) (BufferId, error) {
	for {
		w.mu.Lock()
		if w.epoch == nil {
			w.mu.Unlock()
			return 0, errorf("OpenTextFile", "%w: no active epoch", ErrInvalidOperations)
		}
		for id, fileID := range w.buffers {
			if p, ok := w.epoch.Path(fileID); ok && p == path {
				w.mu.Unlock()
				return id, nil
			}
		}
		fileID, ok := w.epoch.FileID(path)
		if !ok {
			w.mu.Unlock()
			return 0, errorf("OpenTextFile", "%w: %s", ErrInvalidPath, path)
		}
		epochAtStart := w.epochID
		head := w.head
		basePath, hasBase := w.epoch.BasePath(fileID)
		w.mu.Unlock()

		var text string
		if hasBase {
			fetched, err := w.provider.BaseText(ctx, head, basePath)
			if err != nil {
				return 0, errorf("OpenTextFile", "%w: %v", ErrIO, err)
			}
			text = fetched
		}

		w.mu.Lock()
		if !w.epochID.Equal(epochAtStart) {
			w.mu.Unlock()
			continue
		}
		buf := buffer.NewFromText(text)
		if err := w.epoch.InstallBuffer(fileID, buf, w.localClock, w.lamportClock); err != nil {
			w.mu.Unlock()
			return 0, errorf("OpenTextFile", "installing buffer for %q: %w", path, err)
		}
		w.nextBufferID++
		id := BufferId(w.nextBufferID)
		w.buffers[id] = fileID
		w.mu.Unlock()
		return id, nil
	}
}

// Edit edits bufferID's buffer and wraps the produced op for broadcast.
func (w *WorkTree) Edit(bufferID BufferId, ranges []buffer.OffsetRange, newText string) (Operation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fileID, ok := w.buffers[bufferID]
	if !ok {
		return Operation{}, errorf("Edit", "%w", ErrInvalidBufferId)
	}
	op, err := w.epoch.EditText(fileID, ranges, newText, w.localClock, w.lamportClock)
	if err != nil {
		return Operation{}, err
	}
	return EpochOperationOf(w.epochID, op), nil
}

// Edit2D is Edit with ranges expressed as (row, column) Points.
func (w *WorkTree) Edit2D(bufferID BufferId, ranges []buffer.Range, newText string) (Operation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fileID, ok := w.buffers[bufferID]
	if !ok {
		return Operation{}, errorf("Edit2D", "%w", ErrInvalidBufferId)
	}
	op, err := w.epoch.EditText2D(fileID, ranges, newText, w.localClock, w.lamportClock)
	if err != nil {
		return Operation{}, err
	}
	return EpochOperationOf(w.epochID, op), nil
}

// CreateFile creates name under parentPath in the current epoch.
func (w *WorkTree) CreateFile(parentPath, name string, fileType epoch.FileType) ([]Operation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	parentID, ok := w.resolvePathLocked(parentPath)
	if !ok {
		return nil, errorf("CreateFile", "%w: %s", ErrInvalidPath, parentPath)
	}
	ops, err := w.epoch.CreateFile(parentID, name, fileType, w.localClock, w.lamportClock)
	if err != nil {
		return nil, err
	}
	return w.wrapOpsLocked(ops), nil
}

// Rename moves the file at oldPath to newName under newParentPath.
func (w *WorkTree) Rename(oldPath, newParentPath, newName string) ([]Operation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fileID, ok := w.epoch.FileID(oldPath)
	if !ok {
		return nil, errorf("Rename", "%w: %s", ErrInvalidPath, oldPath)
	}
	newParentID, ok := w.resolvePathLocked(newParentPath)
	if !ok {
		return nil, errorf("Rename", "%w: %s", ErrInvalidPath, newParentPath)
	}
	ops, err := w.epoch.Rename(fileID, newParentID, newName, w.localClock, w.lamportClock)
	if err != nil {
		return nil, err
	}
	return w.wrapOpsLocked(ops), nil
}

// Remove removes the file at path.
func (w *WorkTree) Remove(path string) ([]Operation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fileID, ok := w.epoch.FileID(path)
	if !ok {
		return nil, errorf("Remove", "%w: %s", ErrInvalidPath, path)
	}
	ops, err := w.epoch.Remove(fileID, w.localClock, w.lamportClock)
	if err != nil {
		return nil, err
	}
	return w.wrapOpsLocked(ops), nil
}

func (w *WorkTree) resolvePathLocked(path string) (epoch.FileId, bool) {
	if path == "" {
		return epoch.RootFileId(), true
	}
	return w.epoch.FileID(path)
}

func (w *WorkTree) wrapOpsLocked(ops []epoch.Op) []Operation {
	out := make([]Operation, len(ops))
	for i, op := range ops {
		out[i] = EpochOperationOf(w.epochID, op)
	}
	return out
}
