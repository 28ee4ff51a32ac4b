package worktree

import (
	"context"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolagi/worktree/config"
	"github.com/nicolagi/worktree/internal/buffer"
	"github.com/nicolagi/worktree/internal/clock"
	"github.com/nicolagi/worktree/internal/epoch"
)

func TestNewFromConfigUsesPersistedIdentity(t *testing.T) {
	defer leaktest.Check(t)()
	cfg, err := config.Load(t.TempDir(), config.WithChunkSize(7))
	require.NoError(t, err)

	provider := NewInMemoryGitProvider()
	w, err := NewFromConfig(cfg, provider)
	require.NoError(t, err)
	assert.Equal(t, cfg.ReplicaID, w.replicaID)
	assert.Equal(t, 7, w.chunkSize)
}

func replicaID(n byte) clock.ReplicaID {
	return clock.ReplicaID{n}
}

func oid(n byte) epoch.Oid {
	var o epoch.Oid
	o[0] = n
	return o
}

type recordingObserver struct {
	calls []recordedChange
}

type recordedChange struct {
	bufferID BufferId
	changes  []buffer.Change
}

func (o *recordingObserver) TextChanged(bufferID BufferId, changes []buffer.Change) {
	o.calls = append(o.calls, recordedChange{bufferID: bufferID, changes: changes})
}

func TestResetBuildsEpochFromBaseEntries(t *testing.T) {
	defer leaktest.Check(t)()
	ctx := context.Background()

	provider := NewInMemoryGitProvider()
	head := oid(1)
	provider.AddCommit(head, map[string]string{"a.txt": "hello"})

	w, err := New(replicaID(1), provider)
	require.NoError(t, err)

	ops, err := w.Reset(ctx, head)
	require.NoError(t, err)
	require.NotEmpty(t, ops)
	assert.Equal(t, KindStartEpoch, ops[0].Kind)

	id, err := w.OpenTextFile(ctx, "a.txt")
	require.NoError(t, err)

	idAgain, err := w.OpenTextFile(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, id, idAgain, "opening the same path twice returns the same BufferId")
}

// TestConcurrentEditAndRenameConverge mirrors S3: R1 edits a buffer, R2
// renames the same file; after exchanging ops, both replicas see the
// renamed file with the edit applied.
func TestConcurrentEditAndRenameConverge(t *testing.T) {
	defer leaktest.Check(t)()
	ctx := context.Background()

	provider := NewInMemoryGitProvider()
	head := oid(1)
	provider.AddCommit(head, map[string]string{"a.txt": "abc"})

	r1, err := New(replicaID(1), provider)
	require.NoError(t, err)
	r2, err := New(replicaID(2), provider)
	require.NoError(t, err)

	startOps, err := r1.Reset(ctx, head)
	require.NoError(t, err)
	_, err = r2.ApplyOps(ctx, startOps)
	require.NoError(t, err)

	bufID1, err := r1.OpenTextFile(ctx, "a.txt")
	require.NoError(t, err)
	_, err = r2.OpenTextFile(ctx, "a.txt")
	require.NoError(t, err)

	editOp, err := r1.Edit(bufID1, []buffer.OffsetRange{{Start: 1, End: 1}}, "X")
	require.NoError(t, err)

	renameOps, err := r2.Rename("a.txt", "", "b.txt")
	require.NoError(t, err)

	_, err = r1.ApplyOps(ctx, renameOps)
	require.NoError(t, err)
	_, err = r2.ApplyOps(ctx, []Operation{editOp})
	require.NoError(t, err)

	id1, ok := r1.epoch.FileID("b.txt")
	require.True(t, ok)
	buf1, ok := r1.epoch.TextBuffer(id1)
	require.True(t, ok)
	assert.Equal(t, "aXbc", buf1.Text())

	id2, ok := r2.epoch.FileID("b.txt")
	require.True(t, ok)
	buf2, ok := r2.epoch.TextBuffer(id2)
	require.True(t, ok)
	assert.Equal(t, "aXbc", buf2.Text())
}

// TestResetDuringEditsMintsFreshFile mirrors S4: a buffer open against a
// base commit is preserved across a Reset to a commit lacking that path;
// the BufferId stays valid and the observer is told the text changed.
func TestResetDuringEditsMintsFreshFile(t *testing.T) {
	defer leaktest.Check(t)()
	ctx := context.Background()

	provider := NewInMemoryGitProvider()
	c0 := oid(1)
	c1 := oid(2)
	provider.AddCommit(c0, map[string]string{"a": "hello"})
	provider.AddCommit(c1, map[string]string{})

	observer := &recordingObserver{}
	w, err := New(replicaID(1), provider, WithObserver(observer))
	require.NoError(t, err)

	_, err = w.Reset(ctx, c0)
	require.NoError(t, err)
	bufID, err := w.OpenTextFile(ctx, "a")
	require.NoError(t, err)

	_, err = w.Edit(bufID, []buffer.OffsetRange{{Start: 5, End: 5}}, "!")
	require.NoError(t, err)

	_, err = w.Reset(ctx, c1)
	require.NoError(t, err)

	w.mu.Lock()
	fileID := w.buffers[bufID]
	w.mu.Unlock()
	assert.Equal(t, epoch.KindNew, fileID.Kind, "the file should be re-homed to a fresh New FileId")

	buf, ok := w.epoch.TextBuffer(fileID)
	require.True(t, ok)
	assert.Equal(t, "", buf.Text(), "the new epoch has no base text for a path it doesn't contain")

	require.NotEmpty(t, observer.calls, "the observer should be told the text changed")
	assert.Equal(t, bufID, observer.calls[len(observer.calls)-1].bufferID)
}

// TestOutOfOrderEpochOperationIsDeferred mirrors S6: an EpochOperation for
// a not-yet-started epoch id is deferred, then applied once the matching
// StartEpoch arrives.
func TestOutOfOrderEpochOperationIsDeferred(t *testing.T) {
	defer leaktest.Check(t)()
	ctx := context.Background()

	provider := NewInMemoryGitProvider()
	head := oid(1)
	provider.AddCommit(head, map[string]string{})

	origin, err := New(replicaID(1), provider)
	require.NoError(t, err)
	startOps, err := origin.Reset(ctx, head)
	require.NoError(t, err)

	createOps, err := origin.CreateFile("", "new.txt", epoch.TypeText)
	require.NoError(t, err)
	require.Len(t, createOps, 1)

	receiver, err := New(replicaID(2), provider)
	require.NoError(t, err)

	// Deliver the EpochOperation before the StartEpoch that introduces its
	// epoch id.
	_, err = receiver.ApplyOps(ctx, createOps)
	require.NoError(t, err)

	receiver.mu.Lock()
	hasCurrent := receiver.epoch != nil
	deferredCount := 0
	for _, q := range receiver.deferred {
		deferredCount += q.Len()
	}
	receiver.mu.Unlock()
	assert.False(t, hasCurrent)
	assert.Equal(t, 1, deferredCount, "the out-of-order op should be deferred, not dropped or applied")

	_, err = receiver.ApplyOps(ctx, startOps)
	require.NoError(t, err)

	receiver.mu.Lock()
	deferredCount = 0
	for _, q := range receiver.deferred {
		deferredCount += q.Len()
	}
	receiver.mu.Unlock()
	assert.Equal(t, 0, deferredCount, "StartEpoch should drain the deferred queue")

	_, ok := receiver.epoch.FileID("new.txt")
	assert.True(t, ok)
}

// TestEpochOperationBeforeStartEpochIsDeferred mirrors S6 for the edge case
// where the replica has not started any epoch yet: the operation is held,
// not rejected, since its StartEpoch may simply not have arrived yet.
func TestEpochOperationBeforeStartEpochIsDeferred(t *testing.T) {
	defer leaktest.Check(t)()
	ctx := context.Background()
	provider := NewInMemoryGitProvider()
	w, err := New(replicaID(1), provider)
	require.NoError(t, err)

	epochID := clock.Lamport{Value: 1, ReplicaID: replicaID(2)}
	op := EpochOperationOf(epochID, epoch.Op{})
	_, err = w.ApplyOps(ctx, []Operation{op})
	require.NoError(t, err)

	w.mu.Lock()
	deferredCount := 0
	for _, q := range w.deferred {
		deferredCount += q.Len()
	}
	w.mu.Unlock()
	assert.Equal(t, 1, deferredCount)
}

func TestMergeBaseSameCommit(t *testing.T) {
	head := oid(1)
	base, err := MergeBase(context.Background(), func(context.Context, epoch.Oid) ([]epoch.Oid, error) {
		return nil, nil
	}, head, head)
	require.NoError(t, err)
	assert.Equal(t, head, base)
}

func TestMergeBaseCommonAncestor(t *testing.T) {
	common := oid(1)
	a0 := oid(2)
	b0 := oid(3)
	parents := func(_ context.Context, o epoch.Oid) ([]epoch.Oid, error) {
		switch o {
		case a0, b0:
			return []epoch.Oid{common}, nil
		default:
			return nil, nil
		}
	}
	base, err := MergeBase(context.Background(), parents, a0, b0)
	require.NoError(t, err)
	assert.Equal(t, common, base)
}

func TestMergeBaseViaGitProviderCommitGraph(t *testing.T) {
	provider := NewInMemoryGitProvider()
	graph, ok := interface{}(provider).(CommitGraph)
	require.True(t, ok, "InMemoryGitProvider must satisfy CommitGraph")

	a, b := oid(1), oid(2)
	_, err := MergeBase(context.Background(), graph.Parents, a, b)
	assert.ErrorIs(t, err, ErrNoMergeBase, "the in-memory fixture models unrelated commits")
}

func TestMergeBaseNone(t *testing.T) {
	a0 := oid(2)
	b0 := oid(3)
	parents := func(context.Context, epoch.Oid) ([]epoch.Oid, error) { return nil, nil }
	_, err := MergeBase(context.Background(), parents, a0, b0)
	assert.ErrorIs(t, err, ErrNoMergeBase)
}
