package epoch

import (
	"github.com/nicolagi/worktree/internal/clock"
	"github.com/nicolagi/worktree/internal/seqindex"
)

// ParentPointer names a prospective parent directory and the name a child
// would have under it. A nil *ParentPointer means "no parent" — removed.
type ParentPointer struct {
	FileID FileId
	Name   string
}

func (p *ParentPointer) equal(other *ParentPointer) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.FileID.Equal(other.FileID) && p.Name == other.Name
}

// ParentRef is one record of a FileId's parent-pointer history: at
// Timestamp, child_id's parent became Parent (or was removed, if Parent is
// nil). Every ParentRef ever inserted is retained — history is never
// deleted — so that cycle-break fixups can find a prior, non-removal
// parent to revert to.
type ParentRef struct {
	ChildID   FileId
	Timestamp clock.Lamport
	Parent    *ParentPointer
}

// compareParentRef orders ParentRefs by child_id ascending, then by
// timestamp descending: seeking (linearly; see parentRefIndex) to the
// first record for a child_id lands on its newest one.
func compareParentRef(a, b ParentRef) int {
	if c := compareFileId(a.ChildID, b.ChildID); c != 0 {
		return c
	}
	switch {
	case a.Timestamp.Equal(b.Timestamp):
		return 0
	case a.Timestamp.Less(b.Timestamp):
		return 1
	default:
		return -1
	}
}

func parentRefSummary(ParentRef) countSummary { return countSummary{N: 1} }

type parentRefIndex struct {
	tree *seqindex.Tree[ParentRef, countSummary]
}

func newParentRefIndex() *parentRefIndex {
	return &parentRefIndex{tree: seqindex.New[ParentRef, countSummary](countOps{}, parentRefSummary, compareParentRef)}
}

func (p *parentRefIndex) clone() *parentRefIndex {
	return &parentRefIndex{tree: p.tree.Clone()}
}

func (p *parentRefIndex) insert(ref ParentRef) {
	p.tree.Insert(ref)
}

// allFor returns every ParentRef for childID, newest first (the tree's
// natural order already guarantees this).
func (p *parentRefIndex) allFor(childID FileId) []ParentRef {
	var out []ParentRef
	c := seqindex.NewCursor(p.tree)
	for {
		item, ok := c.Item()
		if !ok {
			return out
		}
		if item.ChildID.Equal(childID) {
			out = append(out, item)
		} else if len(out) > 0 {
			// Records for one child_id are contiguous (sorted by child_id
			// first): once we've collected some and hit a different
			// child_id, there cannot be any more for this one.
			return out
		}
		c.Next()
	}
}

// newestFor returns the most recent ParentRef for childID, i.e. the one
// with the greatest Timestamp, regardless of whether it removed the file.
func (p *parentRefIndex) newestFor(childID FileId) (ParentRef, bool) {
	refs := p.allFor(childID)
	if len(refs) == 0 {
		return ParentRef{}, false
	}
	return refs[0], true
}

// newestVisibleFor returns the most recent ParentRef for childID whose
// Parent is non-nil, i.e. the newest record that actually placed the file
// somewhere (as opposed to removing it).
func (p *parentRefIndex) newestVisibleFor(childID FileId) (ParentRef, bool) {
	for _, ref := range p.allFor(childID) {
		if ref.Parent != nil {
			return ref, true
		}
	}
	return ParentRef{}, false
}

// oldestFor returns the very first ParentRef ever recorded for childID:
// used by Epoch.status to tell Renamed files from unmoved ones, and by
// BasePath.
func (p *parentRefIndex) oldestFor(childID FileId) (ParentRef, bool) {
	refs := p.allFor(childID)
	if len(refs) == 0 {
		return ParentRef{}, false
	}
	return refs[len(refs)-1], true
}
