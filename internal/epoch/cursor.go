package epoch

// Status classifies one file's change relative to the epoch's base commit.
type Status uint8

const (
	StatusUnchanged Status = iota
	StatusNew
	StatusRenamed
	StatusRemoved
	StatusModified
	StatusRenamedAndModified
)

func (s Status) String() string {
	switch s {
	case StatusUnchanged:
		return "unchanged"
	case StatusNew:
		return "new"
	case StatusRenamed:
		return "renamed"
	case StatusRemoved:
		return "removed"
	case StatusModified:
		return "modified"
	case StatusRenamedAndModified:
		return "renamed+modified"
	default:
		return "unknown"
	}
}

// Entry is one file surfaced by a Cursor walk: its identity, its current (or
// last-known, if removed) name within its parent, its depth from the root
// (root's children are at depth 1), its Status against the base commit, and
// whether it is actually reachable from the root right now. Visible folds
// every ancestor's visibility down multiplicatively, so a file sitting
// inside a removed directory is never visible even though its own ChildRef
// record still names a parent and a slot.
type Entry struct {
	FileID  FileId
	Name    string
	Type    FileType
	Depth   int
	Status  Status
	Visible bool
}

type frame struct {
	children []ChildRef
	index    int
	depth    int
	visible  bool
}

// Cursor performs a depth-first walk of the epoch's entire file history —
// every name any parent ever had a child under, not only the names currently
// occupied — letting the caller decide, after seeing each directory entry,
// whether to descend into it. Removed files, and the one-time contents of
// removed directories, are walked inline with live entries (Entry.Status and
// Entry.Visible distinguish them) rather than through a separate pass,
// grounded on nano_core/src/epoch.rs's Cursor::entry and descend_into, which
// fold FileStatus::Removed and parent visibility into the same traversal.
type Cursor struct {
	epoch        *Epoch
	stack        []frame
	current      ChildRef
	currentType  FileType
	currentDepth int
	currentVis   bool
	hasCurrent   bool
}

// NewCursor returns a Cursor positioned just before the root's first child.
func NewCursor(e *Epoch) *Cursor {
	return &Cursor{epoch: e, stack: []frame{{children: e.childRefs.currentFor(RootFileId()), depth: 1, visible: true}}}
}

// Next advances the cursor and returns the next entry. canDescend tells the
// cursor whether to descend into the entry most recently returned, if it
// was a directory; it has no effect the first time Next is called, or if
// the last entry was a text file. Descent happens regardless of whether the
// directory itself is currently visible, so that a removed directory's
// former contents are still reachable — each is reported with Visible
// false, folded down from their removed ancestor.
func (c *Cursor) Next(canDescend bool) (Entry, bool) {
	if c.hasCurrent && canDescend && c.currentType == TypeDirectory {
		children := c.epoch.childRefs.currentFor(c.current.ChildID)
		c.stack = append(c.stack, frame{children: children, depth: c.currentDepth + 1, visible: c.currentVis})
	}
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		if top.index >= len(top.children) {
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}
		item := top.children[top.index]
		top.index++
		depth := top.depth
		typ, _ := c.epoch.Lookup(item.ChildID)
		status, ownVisible := c.epoch.status(item.ChildID)
		visible := top.visible && ownVisible

		c.current = item
		c.currentType = typ
		c.currentDepth = depth
		c.currentVis = visible
		c.hasCurrent = true

		return Entry{
			FileID:  item.ChildID,
			Name:    item.Name,
			Type:    typ,
			Depth:   depth,
			Status:  status,
			Visible: visible,
		}, true
	}
	c.hasCurrent = false
	return Entry{}, false
}

// status returns fileID's Status against the base commit, and whether its
// own newest ParentRef actually places it somewhere (false iff the most
// recent record removed it). A New FileId (minted after the base load) is
// StatusNew, or Removed when its newest ParentRef has no parent. A Base
// FileId is Renamed when its newest ParentRef
// points somewhere other than its very first one — compared by parent
// pointer identity, not by reconstructed path string, matching
// nano_core/src/epoch.rs's newest_parent_ref.parent == oldest_parent_ref.parent
// check — and Removed when the newest ParentRef has no parent at all.
// Either status is folded with Modified if the file has a text buffer that
// has been edited.
func (e *Epoch) status(fileID FileId) (Status, bool) {
	modified := e.isModifiedFile(fileID)
	newest, hasNewest := e.parentRefs.newestFor(fileID)
	if fileID.Kind == KindNew {
		if hasNewest && newest.Parent == nil {
			return StatusRemoved, false
		}
		return StatusNew, hasNewest
	}
	oldest, hasOldest := e.parentRefs.oldestFor(fileID)
	switch {
	case hasNewest && hasOldest && newest.Parent.equal(oldest.Parent):
		if modified {
			return StatusModified, true
		}
		return StatusUnchanged, true
	case hasNewest && newest.Parent != nil:
		if modified {
			return StatusRenamedAndModified, true
		}
		return StatusRenamed, true
	default:
		return StatusRemoved, false
	}
}

func (e *Epoch) isModifiedFile(fileID FileId) bool {
	if buf, ok := e.TextBuffer(fileID); ok {
		return buf.IsModified()
	}
	return false
}
