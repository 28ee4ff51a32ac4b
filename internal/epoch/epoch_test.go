package epoch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolagi/worktree/internal/buffer"
	"github.com/nicolagi/worktree/internal/clock"
)

func replicas(n int) []clock.ReplicaID {
	out := make([]clock.ReplicaID, n)
	for i := range out {
		out[i] = clock.ReplicaID{byte(i + 1)}
	}
	return out
}

type harness struct {
	e       *Epoch
	local   *clock.LocalClock
	lamport *clock.LamportClock
}

func newHarness(replica clock.ReplicaID) *harness {
	lamport := clock.NewLamportClock(replica)
	return &harness{
		e:       New(lamport.Peek(), Oid{}),
		local:   clock.NewLocalClock(replica),
		lamport: lamport,
	}
}

func TestCreateFileUnderRoot(t *testing.T) {
	rs := replicas(1)
	h := newHarness(rs[0])

	ops, err := h.e.CreateFile(RootFileId(), "a.txt", TypeText, h.local, h.lamport)
	require.NoError(t, err)
	require.Len(t, ops, 1)

	id, ok := h.e.FileID("a.txt")
	require.True(t, ok)
	assert.Equal(t, ops[0].FileID, id)

	typ, ok := h.e.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, TypeText, typ)
}

func TestRenameUpdatesPath(t *testing.T) {
	rs := replicas(1)
	h := newHarness(rs[0])

	ops, err := h.e.CreateFile(RootFileId(), "a.txt", TypeText, h.local, h.lamport)
	require.NoError(t, err)
	fileID := ops[0].FileID

	_, err = h.e.Rename(fileID, RootFileId(), "b.txt", h.local, h.lamport)
	require.NoError(t, err)

	_, ok := h.e.FileID("a.txt")
	assert.False(t, ok)
	id, ok := h.e.FileID("b.txt")
	require.True(t, ok)
	assert.Equal(t, fileID, id)
}

func TestRemoveMakesFileUnreachable(t *testing.T) {
	rs := replicas(1)
	h := newHarness(rs[0])

	ops, err := h.e.CreateFile(RootFileId(), "a.txt", TypeText, h.local, h.lamport)
	require.NoError(t, err)
	fileID := ops[0].FileID

	_, err = h.e.Remove(fileID, h.local, h.lamport)
	require.NoError(t, err)

	_, ok := h.e.FileID("a.txt")
	assert.False(t, ok)

	cur := NewCursor(h.e)
	entry, ok := cur.Next(true)
	require.True(t, ok)
	assert.Equal(t, fileID, entry.FileID)
	assert.Equal(t, StatusRemoved, entry.Status)
	assert.False(t, entry.Visible)
	assert.Equal(t, 1, entry.Depth)

	_, ok = cur.Next(true)
	assert.False(t, ok)
}

// TestCursorDescendsIntoRemovedDirectory mirrors nano_core's Cursor::entry,
// which folds parent visibility into child visibility rather than stopping
// the walk at a removed directory: a file that was inside a directory at
// the time the directory was removed is still surfaced, just never Visible.
func TestCursorDescendsIntoRemovedDirectory(t *testing.T) {
	rs := replicas(1)
	h := newHarness(rs[0])

	dirOps, err := h.e.CreateFile(RootFileId(), "dir", TypeDirectory, h.local, h.lamport)
	require.NoError(t, err)
	dirID := dirOps[0].FileID

	fileOps, err := h.e.CreateFile(dirID, "a.txt", TypeText, h.local, h.lamport)
	require.NoError(t, err)
	fileID := fileOps[0].FileID

	_, err = h.e.Remove(dirID, h.local, h.lamport)
	require.NoError(t, err)

	cur := NewCursor(h.e)
	dirEntry, ok := cur.Next(true)
	require.True(t, ok)
	assert.Equal(t, dirID, dirEntry.FileID)
	assert.Equal(t, StatusRemoved, dirEntry.Status)
	assert.False(t, dirEntry.Visible)
	assert.Equal(t, 1, dirEntry.Depth)

	fileEntry, ok := cur.Next(true)
	require.True(t, ok)
	assert.Equal(t, fileID, fileEntry.FileID)
	assert.Equal(t, 2, fileEntry.Depth)
	assert.False(t, fileEntry.Visible, "child of a removed directory must never be visible")

	_, ok = cur.Next(true)
	assert.False(t, ok)
}

// TestConcurrentSiblingCreateRenamesLoser mirrors the "two replicas create a
// sibling with the same name" scenario: applying both replicas' ops on a
// third, the later-timestamped create keeps the name and the earlier one is
// suffixed until unique.
func TestConcurrentSiblingCreateRenamesLoser(t *testing.T) {
	rs := replicas(3)

	aOp := InsertMetadataOp(NewFileId(clock.Local{ReplicaID: rs[1], Value: 0}), TypeText, &ParentPointer{FileID: RootFileId(), Name: "x"}, clock.Local{ReplicaID: rs[1], Value: 0}, clock.Lamport{Value: 10, ReplicaID: rs[1]})
	bOp := InsertMetadataOp(NewFileId(clock.Local{ReplicaID: rs[2], Value: 0}), TypeText, &ParentPointer{FileID: RootFileId(), Name: "x"}, clock.Local{ReplicaID: rs[2], Value: 0}, clock.Lamport{Value: 20, ReplicaID: rs[2]})
	bID := bOp.FileID

	replica := newHarness(rs[0])
	fixups, err := replica.e.ApplyOps([]Op{aOp, bOp}, replica.local, replica.lamport)
	require.NoError(t, err)

	winnerID, ok := replica.e.FileID("x")
	require.True(t, ok)
	assert.Equal(t, bID, winnerID, "the later Lamport timestamp keeps the contested name")

	var renamed bool
	for _, fix := range fixups {
		if fix.Kind == KindUpdateParent && fix.ChildID.Equal(aOp.FileID) {
			renamed = true
			assert.Equal(t, "x~", fix.Parent.Name)
		}
	}
	assert.True(t, renamed, "the losing create should have been renamed to x~")

	loserID, ok := replica.e.FileID("x~")
	require.True(t, ok)
	assert.Equal(t, aOp.FileID, loserID)
}

// TestCycleIsBroken constructs a 2-cycle directly (A's parent is B, B's
// parent is A) and checks that applying the op completing the cycle
// produces a fixup breaking it.
func TestCycleIsBroken(t *testing.T) {
	rs := replicas(1)
	h := newHarness(rs[0])

	opsA, err := h.e.CreateFile(RootFileId(), "a", TypeDirectory, h.local, h.lamport)
	require.NoError(t, err)
	aID := opsA[0].FileID

	opsB, err := h.e.CreateFile(aID, "b", TypeDirectory, h.local, h.lamport)
	require.NoError(t, err)
	bID := opsB[0].FileID

	// Move a under b, completing a cycle a -> b -> a.
	fixups, err := h.e.Rename(aID, bID, "a", h.local, h.lamport)
	require.NoError(t, err)

	// fixups[0] is the rename itself; a break is any further UpdateParent.
	var broke bool
	for _, fix := range fixups[1:] {
		if fix.Kind == KindUpdateParent {
			broke = true
		}
	}
	assert.True(t, broke, "completing the cycle should trigger a break")

	// Whichever edge was broken, the tree should be acyclic: walking up from
	// bID should reach the root without revisiting a FileId.
	visited := map[FileId]bool{}
	cur := bID
	for {
		if visited[cur] {
			t.Fatalf("cycle still present")
		}
		visited[cur] = true
		ref, ok := h.e.parentRefs.newestVisibleFor(cur)
		if !ok || ref.Parent == nil || ref.Parent.FileID.IsRoot() {
			break
		}
		cur = ref.Parent.FileID
	}
}

// TestEditDeferredUntilBuffered checks that an EditText op naming a file
// whose buffer has not been installed yet is buffered as Pending and
// applied once InstallBuffer runs.
func TestEditDeferredUntilBuffered(t *testing.T) {
	rs := replicas(1)
	h := newHarness(rs[0])

	ops, err := h.e.CreateFile(RootFileId(), "a.txt", TypeText, h.local, h.lamport)
	require.NoError(t, err)
	fileID := ops[0].FileID

	edit := buffer.Operation{Kind: buffer.OpInsert, Unit: 'x', Local: h.local.Tick(), Lamport: h.lamport.Tick()}
	editOp := EditTextOp(fileID, []buffer.Operation{edit}, h.local.Tick(), h.lamport.Tick())

	_, err = h.e.ApplyOps([]Op{editOp}, h.local, h.lamport)
	require.NoError(t, err)

	_, ok := h.e.TextBuffer(fileID)
	assert.False(t, ok)

	require.NoError(t, h.e.InstallBuffer(fileID, buffer.New(), h.local, h.lamport))
	buf, ok := h.e.TextBuffer(fileID)
	require.True(t, ok)
	assert.NotEmpty(t, buf.Text())
}

// TestApplyOpsRejectsEditTextOnUnintegratableOp mirrors spec.md §9 open
// question (a): a delete naming a fragment the buffer never inserted fails
// inside Buffer.ApplyOps, and the whole batch is rejected (the epoch's
// trial clone is discarded), not merely deferred.
func TestApplyOpsRejectsEditTextOnUnintegratableOp(t *testing.T) {
	rs := replicas(1)
	h := newHarness(rs[0])

	ops, err := h.e.CreateFile(RootFileId(), "a.txt", TypeText, h.local, h.lamport)
	require.NoError(t, err)
	fileID := ops[0].FileID
	require.NoError(t, h.e.InstallBuffer(fileID, buffer.New(), h.local, h.lamport))

	deleteOp := buffer.Operation{Kind: buffer.OpDelete, Local: h.local.Tick(), Lamport: h.lamport.Tick()}
	editOp := EditTextOp(fileID, []buffer.Operation{deleteOp}, h.local.Tick(), h.lamport.Tick())

	versionBefore := h.e.Version()
	_, err = h.e.ApplyOps([]Op{editOp}, h.local, h.lamport)
	require.ErrorIs(t, err, buffer.ErrUnknownFragment)
	assert.Equal(t, versionBefore, h.e.Version(), "the rejected batch's clone must never be swapped in")
}

func TestAppendBaseEntriesBuildsTree(t *testing.T) {
	rs := replicas(1)
	h := newHarness(rs[0])

	entries := []DirEntry{
		{Depth: 1, Name: "dir", Type: TypeDirectory},
		{Depth: 2, Name: "file.txt", Type: TypeText},
		{Depth: 1, Name: "top.txt", Type: TypeText},
	}
	ops, err := h.e.AppendBaseEntries(entries, h.local, h.lamport)
	require.NoError(t, err)
	assert.Empty(t, ops, "no name collisions means no fixups to report")

	id, ok := h.e.FileID("dir/file.txt")
	require.True(t, ok)
	typ, ok := h.e.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, TypeText, typ)

	path, ok := h.e.BasePath(id)
	require.True(t, ok)
	assert.Equal(t, "dir/file.txt", path)
}

func TestAppendBaseEntriesDedupsCollidingNames(t *testing.T) {
	rs := replicas(1)
	h := newHarness(rs[0])

	entries := []DirEntry{
		{Depth: 1, Name: "x", Type: TypeText},
		{Depth: 1, Name: "x", Type: TypeText},
	}
	ops, err := h.e.AppendBaseEntries(entries, h.local, h.lamport)
	require.NoError(t, err)
	assert.NotEmpty(t, ops, "the colliding second entry must surface a rename fixup")

	assert.Equal(t, uint64(2), h.e.childRefs.totalVisible())
	_, ok := h.e.FileID("x")
	assert.True(t, ok)
	_, ok = h.e.FileID("x~")
	assert.True(t, ok)
}

func TestStatsReflectsCounts(t *testing.T) {
	rs := replicas(1)
	h := newHarness(rs[0])

	_, err := h.e.CreateFile(RootFileId(), "a.txt", TypeText, h.local, h.lamport)
	require.NoError(t, err)

	stats := h.e.Stats()
	assert.Equal(t, uint64(2), stats.Files) // root + a.txt
	assert.Equal(t, uint64(1), stats.VisibleFiles)
}

// snapshotTree walks every visible entry depth-first, keyed by full path,
// so two epochs can be compared structurally regardless of FileId identity
// (two replicas mint Base FileIds independently from the same listing, so
// the ids themselves needn't match — only the resulting shape).
func snapshotTree(e *Epoch) map[string]FileType {
	out := make(map[string]FileType)
	var walk func(parent FileId, prefix string)
	walk = func(parent FileId, prefix string) {
		for _, ref := range e.childRefs.visibleFor(parent) {
			typ, ok := e.Lookup(ref.ChildID)
			if !ok {
				continue
			}
			path := ref.Name
			if prefix != "" {
				path = prefix + "/" + ref.Name
			}
			out[path] = typ
			if typ == TypeDirectory {
				walk(ref.ChildID, path)
			}
		}
	}
	walk(RootFileId(), "")
	return out
}

// TestTwoReplicasConvergeOnSameBaseListing mirrors the idempotency claim
// AppendBaseEntries' doc comment makes: two replicas ingesting the same
// depth-first listing (including a name collision each must resolve via
// dedupNames) end up with an identical visible tree, without exchanging a
// single operation.
func TestTwoReplicasConvergeOnSameBaseListing(t *testing.T) {
	rs := replicas(2)
	h1 := newHarness(rs[0])
	h2 := newHarness(rs[1])

	entries := []DirEntry{
		{Depth: 1, Name: "dir", Type: TypeDirectory},
		{Depth: 2, Name: "x", Type: TypeText},
		{Depth: 1, Name: "x", Type: TypeText},
		{Depth: 1, Name: "x", Type: TypeText},
	}

	_, err := h1.e.AppendBaseEntries(entries, h1.local, h1.lamport)
	require.NoError(t, err)
	_, err = h2.e.AppendBaseEntries(entries, h2.local, h2.lamport)
	require.NoError(t, err)

	snap1 := snapshotTree(h1.e)
	snap2 := snapshotTree(h2.e)
	if diff := cmp.Diff(snap1, snap2); diff != "" {
		t.Fatalf("replicas diverged on identical base listing (-r1 +r2):\n%s", diff)
	}
}
