package epoch

import (
	"fmt"

	"github.com/nicolagi/worktree/internal/clock"
)

// FileKind distinguishes a FileId present in the epoch's base commit from
// one created after the base was loaded.
type FileKind uint8

const (
	// KindBase identifies a file present in the reset base commit, numbered
	// by AppendBaseEntries in depth-first order starting at 1. Base(0) is
	// reserved for the root.
	KindBase FileKind = iota
	// KindNew identifies a file created after the base, identified by the
	// Local timestamp of the operation that created it.
	KindNew
)

// FileId is the tagged-sum identity of a directory entry: Base(n) for files
// present at reset time, New(local_ts) for everything created since.
type FileId struct {
	Kind FileKind
	Base uint64
	New  clock.Local
}

// RootFileId is the identity of the directory's own root, reserved as
// Base(0) regardless of how many base entries have since been ingested.
func RootFileId() FileId {
	return FileId{Kind: KindBase, Base: 0}
}

// BaseFileId builds a FileId for the n-th base entry.
func BaseFileId(n uint64) FileId {
	return FileId{Kind: KindBase, Base: n}
}

// NewFileId builds a FileId for a file created at Local timestamp t.
func NewFileId(t clock.Local) FileId {
	return FileId{Kind: KindNew, New: t}
}

// IsRoot reports whether id identifies the directory root.
func (id FileId) IsRoot() bool {
	return id.Kind == KindBase && id.Base == 0
}

// Equal reports whether id and other name the same file.
func (id FileId) Equal(other FileId) bool {
	if id.Kind != other.Kind {
		return false
	}
	if id.Kind == KindBase {
		return id.Base == other.Base
	}
	return id.New == other.New
}

// Less gives FileId a total order, used to keep every index sorted by
// child_id: Base files sort before New files; within a kind, ascending by
// base number or by (replica_id, value) for a Local timestamp.
func (id FileId) Less(other FileId) bool {
	if id.Kind != other.Kind {
		return id.Kind < other.Kind
	}
	if id.Kind == KindBase {
		return id.Base < other.Base
	}
	if id.New.ReplicaID != other.New.ReplicaID {
		return id.New.ReplicaID.Less(other.New.ReplicaID)
	}
	return id.New.Value < other.New.Value
}

func (id FileId) String() string {
	if id.Kind == KindBase {
		return fmt.Sprintf("base:%d", id.Base)
	}
	return fmt.Sprintf("new:%s", id.New)
}

// compareFileId is Less/Equal collapsed to the three-way result the
// seqindex package expects from an item comparator.
func compareFileId(a, b FileId) int {
	if a.Equal(b) {
		return 0
	}
	if a.Less(b) {
		return -1
	}
	return 1
}

// FileType distinguishes a directory entry that holds children from one
// that holds a text buffer.
type FileType uint8

const (
	TypeDirectory FileType = iota
	TypeText
)

func (t FileType) String() string {
	if t == TypeDirectory {
		return "directory"
	}
	return "text"
}
