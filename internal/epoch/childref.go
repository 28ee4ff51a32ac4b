package epoch

import (
	"github.com/nicolagi/worktree/internal/clock"
	"github.com/nicolagi/worktree/internal/seqindex"
)

// ChildRef is one outgoing directory entry record: at Timestamp, ParentID
// gained (or, if !Visible, lost) a child named Name pointing at ChildID.
// Like ParentRef, history is retained — a tombstoned ChildRef remains in
// the index as a record that the name was once occupied.
type ChildRef struct {
	ParentID  FileId
	Name      string
	Visible   bool
	Timestamp clock.Lamport
	ChildID   FileId
}

// compareChildRef orders ChildRefs by parent_id asc, name asc, visible
// desc, timestamp desc, per the data model: for one (parent, name) pair,
// the live entry (if any) always sorts first. child_id breaks ties after
// all of those: two ChildRefs naming different files can otherwise compare
// equal (e.g. two base entries ingested with the same Lamport minimum), and
// Tree.Delete identifies the item to remove by compare alone, so without
// this tiebreaker one child's record could be deleted in place of another's.
func compareChildRef(a, b ChildRef) int {
	if c := compareFileId(a.ParentID, b.ParentID); c != 0 {
		return c
	}
	if a.Name != b.Name {
		if a.Name < b.Name {
			return -1
		}
		return 1
	}
	if a.Visible != b.Visible {
		if a.Visible {
			return -1
		}
		return 1
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		if a.Timestamp.Less(b.Timestamp) {
			return 1
		}
		return -1
	}
	return compareFileId(a.ChildID, b.ChildID)
}

// childSummary accumulates both a plain count and a visible-only count:
// visibleCount is the "visible_count" the data model names as supporting
// ordinal addressing — here exercised by Epoch.Stats rather than by a
// scoped per-directory seek, since seqindex's Seek is a whole-tree
// accumulation and ChildRefs interleave many directories' entries.
type childSummary struct {
	Count        uint64
	VisibleCount uint64
}

type childOps struct{}

func (childOps) Zero() childSummary { return childSummary{} }

func (childOps) Add(a, b childSummary) childSummary {
	return childSummary{Count: a.Count + b.Count, VisibleCount: a.VisibleCount + b.VisibleCount}
}

func childRefSummary(r ChildRef) childSummary {
	if r.Visible {
		return childSummary{Count: 1, VisibleCount: 1}
	}
	return childSummary{Count: 1}
}

type childRefIndex struct {
	tree *seqindex.Tree[ChildRef, childSummary]
}

func newChildRefIndex() *childRefIndex {
	return &childRefIndex{tree: seqindex.New[ChildRef, childSummary](childOps{}, childRefSummary, compareChildRef)}
}

func (c *childRefIndex) clone() *childRefIndex {
	return &childRefIndex{tree: c.tree.Clone()}
}

func (c *childRefIndex) insert(ref ChildRef) {
	c.tree.Insert(ref)
}

func (c *childRefIndex) delete(ref ChildRef) bool {
	return c.tree.Delete(ref)
}

// visibleFor returns the currently visible children of parentID, in name
// order (the tree's natural order already guarantees this).
func (c *childRefIndex) visibleFor(parentID FileId) []ChildRef {
	var out []ChildRef
	cur := seqindex.NewCursor(c.tree)
	for {
		item, ok := cur.Item()
		if !ok {
			return out
		}
		if item.ParentID.Equal(parentID) {
			if item.Visible {
				out = append(out, item)
			}
			cur.Next()
			continue
		}
		if parentID.Less(item.ParentID) {
			// ChildRefs sort by parent_id first: once we see a strictly
			// greater one, every record for parentID has been seen.
			return out
		}
		cur.Next()
	}
}

// currentFor returns, for every name parentID has ever had a child under,
// the single ChildRef that currently occupies that name: the visible one if
// the name is still occupied, otherwise the most recent record of whichever
// file last held it. compareChildRef already sorts each (parent, name)
// group with the live entry first and ties broken by descending timestamp,
// so the first record seen per distinct name is exactly this one. Used by
// Cursor to walk removed files and removed subdirectories inline with live
// ones, rather than through a separate pass.
func (c *childRefIndex) currentFor(parentID FileId) []ChildRef {
	var out []ChildRef
	cur := seqindex.NewCursor(c.tree)
	haveName := false
	var lastName string
	for {
		item, ok := cur.Item()
		if !ok {
			return out
		}
		if item.ParentID.Equal(parentID) {
			if !haveName || item.Name != lastName {
				out = append(out, item)
				lastName = item.Name
				haveName = true
			}
			cur.Next()
			continue
		}
		if parentID.Less(item.ParentID) {
			return out
		}
		cur.Next()
	}
}

// allVisible returns the whole set of currently visible ChildRefs, in tree
// order (parent asc, name asc).
func (c *childRefIndex) allVisible() []ChildRef {
	var out []ChildRef
	cur := seqindex.NewCursor(c.tree)
	for {
		item, ok := cur.Item()
		if !ok {
			return out
		}
		if item.Visible {
			out = append(out, item)
		}
		cur.Next()
	}
}

// find locates the ChildRef matching every indexed field plus childID: used
// to resolve target_child_ref, whose key is already fully known from the
// ParentRefs it was derived from. childID is checked explicitly (it is only
// the last tie-break of compareChildRef's ordering) because two distinct
// files can share an identical (parent, name, visible, timestamp) key — e.g.
// two base entries ingested with the same Lamport minimum — and only childID
// then disambiguates which ChildRef belongs to which file.
func (c *childRefIndex) find(parentID FileId, name string, visible bool, timestamp clock.Lamport, childID FileId) (ChildRef, bool) {
	cur := seqindex.NewCursor(c.tree)
	for {
		item, ok := cur.Item()
		if !ok {
			return ChildRef{}, false
		}
		if item.ParentID.Equal(parentID) && item.Name == name && item.Visible == visible && item.Timestamp.Equal(timestamp) && item.ChildID.Equal(childID) {
			return item, true
		}
		cur.Next()
	}
}

// hasVisible reports whether parentID already has a visible child named
// name, other than excludeChild (used by uniqueName to ignore a file's own
// current entry while probing for a free name).
func (c *childRefIndex) hasVisible(parentID FileId, name string, excludeChild FileId) bool {
	for _, ref := range c.visibleFor(parentID) {
		if ref.Name == name && !ref.ChildID.Equal(excludeChild) {
			return true
		}
	}
	return false
}

func (c *childRefIndex) totalVisible() uint64 {
	return c.tree.Summary().VisibleCount
}
