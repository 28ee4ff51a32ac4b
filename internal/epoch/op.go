package epoch

import (
	"github.com/nicolagi/worktree/internal/buffer"
	"github.com/nicolagi/worktree/internal/clock"
)

// OpKind is the tag of the three operation kinds an Epoch accepts, named
// exactly as the data model names them.
type OpKind uint8

const (
	KindInsertMetadata OpKind = iota
	KindUpdateParent
	KindEditText
)

func (k OpKind) String() string {
	switch k {
	case KindInsertMetadata:
		return "InsertMetadata"
	case KindUpdateParent:
		return "UpdateParent"
	case KindEditText:
		return "EditText"
	default:
		return "unknown"
	}
}

// Op is the wire-level description of one Epoch-level mutation. Which
// fields are populated depends on Kind: FileType and Parent (as the new
// metadata's parent) for InsertMetadata; ChildID and Parent (as the new
// parent) for UpdateParent; FileID and Edits for EditText. Local and
// Lamport are always populated — every Op is stamped by the replica that
// produced it, before being applied locally or serialized to peers.
type Op struct {
	Kind     OpKind
	FileID   FileId
	FileType FileType
	ChildID  FileId
	Parent   *ParentPointer
	Edits    []buffer.Operation
	Local    clock.Local
	Lamport  clock.Lamport
}

// InsertMetadataOp builds the Op that introduces fileID into the epoch. If
// parent is non-nil, the same Op also places fileID there (inserting a
// ParentRef and a visible ChildRef) — matching the data model, which folds
// both effects into one operation rather than requiring a separate move.
func InsertMetadataOp(fileID FileId, fileType FileType, parent *ParentPointer, local clock.Local, lamport clock.Lamport) Op {
	return Op{Kind: KindInsertMetadata, FileID: fileID, FileType: fileType, Parent: parent, Local: local, Lamport: lamport}
}

// UpdateParentOp builds the Op that moves, renames, or removes childID
// (newParent nil means remove).
func UpdateParentOp(childID FileId, newParent *ParentPointer, local clock.Local, lamport clock.Lamport) Op {
	return Op{Kind: KindUpdateParent, ChildID: childID, Parent: newParent, Local: local, Lamport: lamport}
}

// EditTextOp builds the Op that carries a batch of character-level buffer
// edits for fileID.
func EditTextOp(fileID FileId, edits []buffer.Operation, local clock.Local, lamport clock.Lamport) Op {
	return Op{Kind: KindEditText, FileID: fileID, Edits: edits, Local: local, Lamport: lamport}
}
