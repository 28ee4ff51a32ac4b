// Package buffer implements the text buffer CRDT: a sequence of
// single-code-unit fragments ordered by a dense, globally comparable
// position identifier, stored in the ordered-sequence index in
// internal/seqindex. Offset lookup, point lookup and edit walk the
// fragments in order with a Cursor, so they take time linear in the number
// of fragments.
package buffer

import (
	"unicode/utf16"

	"github.com/nicolagi/worktree/internal/clock"
	"github.com/nicolagi/worktree/internal/seqindex"
)

// Buffer holds one file's text as a sequence of Fragments. All mutation
// happens through Edit (which stamps fresh identifiers from the caller's
// clocks and returns the Operations produced, for broadcast) or ApplyOps
// (which integrates Operations produced elsewhere, idempotently).
type Buffer struct {
	tree     *seqindex.Tree[Fragment, Summary]
	version  clock.Global
	modified bool
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{tree: seqindex.New[Fragment, Summary](summaryOps{}, fragmentSummary, fragmentCompare)}
}

// NewFromText returns a buffer whose initial content is text, attributed to
// no particular replica (base content every replica agrees on, e.g. loaded
// from GitProvider.BaseText). Every replica constructing NewFromText(text)
// for the same text ends up with identical fragment identifiers, since the
// construction is a deterministic function of position alone (tie is the
// zero Lamport value throughout).
func NewFromText(text string) *Buffer {
	b := New()
	units := utf16.Encode([]rune(text))
	var prev *fragmentID
	for _, u := range units {
		id := newFragmentIDBetween(prev, nil, clock.Lamport{})
		b.tree.Insert(Fragment{ID: id, Unit: u})
		prev = &id
	}
	return b
}

// Clone returns a Buffer sharing all current fragments with b; mutating the
// clone never mutates b, since the underlying tree is copy-on-write. Used
// by epoch.Epoch's trial-apply-on-clone discipline so a batch that fails
// partway through never leaves a buffer half-mutated.
func (b *Buffer) Clone() *Buffer {
	return &Buffer{tree: b.tree.Clone(), version: b.version.Clone(), modified: b.modified}
}

// Version returns the Global version vector this buffer has observed.
func (b *Buffer) Version() clock.Global { return b.version }

// IsModified reports whether any operation has been applied to this buffer
// since it was created from base text.
func (b *Buffer) IsModified() bool { return b.modified }

// Iter yields the buffer's current visible text as UTF-16 code units, in
// order.
func (b *Buffer) Iter() []uint16 {
	var out []uint16
	c := seqindex.NewCursor(b.tree)
	for {
		item, ok := c.Item()
		if !ok {
			return out
		}
		if !item.Deleted {
			out = append(out, item.Unit)
		}
		c.Next()
	}
}

// Text returns the buffer's current visible text as a string.
func (b *Buffer) Text() string {
	return string(utf16.Decode(b.Iter()))
}

// LineCount returns the number of lines in the buffer's current visible
// text: a text with no trailing line break still counts its last, partial
// line. Computed from the tree's root Summary, so it costs nothing beyond
// the O(1) root lookup rather than a full scan.
func (b *Buffer) LineCount() int {
	return int(b.tree.Summary().Lines) + 1
}

// Edit replaces each of ranges (offsets against the buffer's current text)
// with newText, and returns the Operations produced so they can be
// broadcast to other replicas. Ranges are processed from the highest start
// offset to the lowest so that earlier ranges are unaffected by the
// insertions/deletions made for later ones.
func (b *Buffer) Edit(ranges []OffsetRange, newText string, localClock *clock.LocalClock, lamportClock *clock.LamportClock) []Operation {
	sorted := append([]OffsetRange(nil), ranges...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Start > sorted[j-1].Start; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	units := utf16.Encode([]rune(newText))
	var ops []Operation
	for _, r := range sorted {
		ops = append(ops, b.editOne(r, units, localClock, lamportClock)...)
	}
	if len(ops) > 0 {
		b.modified = true
	}
	return ops
}

// Edit2D is Edit with ranges expressed as (row, column) Points instead of
// raw offsets.
func (b *Buffer) Edit2D(ranges []Range, newText string, localClock *clock.LocalClock, lamportClock *clock.LamportClock) []Operation {
	offsets := make([]OffsetRange, len(ranges))
	for i, r := range ranges {
		offsets[i] = OffsetRange{Start: b.pointToOffset(r.Start), End: b.pointToOffset(r.End)}
	}
	return b.Edit(offsets, newText, localClock, lamportClock)
}

// pointToOffset walks the visible text tracking row and column directly:
// simpler, and more obviously correct, than trying to exploit the ordered
// index's Point dimension for an operation that is not on Buffer's hot path.
func (b *Buffer) pointToOffset(p Point) Offset {
	var offset Offset
	var row, col uint32
	c := seqindex.NewCursor(b.tree)
	for {
		item, ok := c.Item()
		if !ok {
			return offset
		}
		if item.Deleted {
			c.Next()
			continue
		}
		if row == p.Row && col == p.Column {
			return offset
		}
		offset++
		if item.Unit == newlineCodeUnit {
			row++
			col = 0
		} else {
			col++
		}
		c.Next()
	}
}

func (b *Buffer) editOne(r OffsetRange, insertedUnits []uint16, localClock *clock.LocalClock, lamportClock *clock.LamportClock) []Operation {
	var ops []Operation
	ops = append(ops, b.deleteRange(r.Start, r.End, localClock, lamportClock)...)
	if len(insertedUnits) > 0 {
		ops = append(ops, b.insertUnits(r.Start, insertedUnits, localClock, lamportClock)...)
	}
	return ops
}

// deleteRange tombstones every currently-visible fragment whose offset falls
// in [start, end). Because every fragment is exactly one code unit, this
// never has to split anything: any boundary an edit could name already
// coincides with an existing fragment's edge.
func (b *Buffer) deleteRange(start, end Offset, localClock *clock.LocalClock, lamportClock *clock.LamportClock) []Operation {
	if start >= end {
		return nil
	}
	var ops []Operation
	var toTombstone []Fragment
	pos := Offset(0)
	c := seqindex.NewCursor(b.tree)
	for {
		item, ok := c.Item()
		if !ok {
			break
		}
		if item.Deleted {
			c.Next()
			continue
		}
		if pos >= end {
			break
		}
		if pos >= start {
			toTombstone = append(toTombstone, item)
		}
		pos++
		c.Next()
	}
	for _, item := range toTombstone {
		deletedAt := localClock.Tick()
		tombstone := item
		tombstone.Deleted = true
		tombstone.DeletedAt = &deletedAt
		b.tree.Replace(item, tombstone)
		b.observe(deletedAt)
		ops = append(ops, Operation{Kind: OpDelete, ID: item.ID, Local: deletedAt, Lamport: lamportClock.Peek()})
	}
	return ops
}

// insertUnits inserts units starting at offset, minting one fresh fragment
// per code unit chained between the live fragment immediately before offset
// (if any) and the live fragment immediately at or after it (if any).
func (b *Buffer) insertUnits(offset Offset, units []uint16, localClock *clock.LocalClock, lamportClock *clock.LamportClock) []Operation {
	leftID, rightID := b.neighborsAt(offset)
	ops := make([]Operation, 0, len(units))
	left := leftID
	for _, u := range units {
		local := localClock.Tick()
		lamport := lamportClock.Tick()
		id := newFragmentIDBetween(left, rightID, lamport)
		b.tree.Insert(Fragment{ID: id, Unit: u, InsertedAt: local})
		b.observe(local)
		ops = append(ops, Operation{Kind: OpInsert, ID: id, Unit: u, Local: local, Lamport: lamport})
		idCopy := id
		left = &idCopy
	}
	return ops
}

// neighborsAt finds the live fragment immediately before offset and the
// live fragment immediately at or after it, walking fragments in tree order
// and counting only live ones (tombstones never anchor an insertion point:
// any number of them may sit between two live neighbors without affecting
// where new content belongs).
func (b *Buffer) neighborsAt(offset Offset) (*fragmentID, *fragmentID) {
	var leftID, rightID *fragmentID
	pos := Offset(0)
	c := seqindex.NewCursor(b.tree)
	for {
		item, ok := c.Item()
		if !ok {
			break
		}
		if item.Deleted {
			c.Next()
			continue
		}
		if pos < offset {
			id := item.ID
			leftID = &id
			pos++
			c.Next()
			continue
		}
		id := item.ID
		rightID = &id
		break
	}
	return leftID, rightID
}

// PointAt converts an Offset into the (row, column) Point it corresponds to
// in the buffer's current visible text. This walks the tree directly rather
// than seeking by the index's Point dimension: Seek's Left/Right bias
// resolves ties between neighboring items of equal weight, but here a
// tombstone contributes zero weight while a live fragment contributes one,
// so the item exactly at a requested boundary is ambiguous in a way a plain
// left-to-right scan is not.
func (b *Buffer) PointAt(o Offset) Point {
	var pos Offset
	var row, col uint32
	c := seqindex.NewCursor(b.tree)
	for {
		item, ok := c.Item()
		if !ok {
			return Point{Row: row, Column: col}
		}
		if item.Deleted {
			c.Next()
			continue
		}
		if pos == o {
			return Point{Row: row, Column: col}
		}
		pos++
		if item.Unit == newlineCodeUnit {
			row++
			col = 0
		} else {
			col++
		}
		c.Next()
	}
}

// ApplyOps integrates ops produced by any replica. Applying the same op
// twice, or applying a set of ops in a different order than another
// replica, converges to the same visible text: inserts place their fragment
// by identifier alone (an insert's id is self-describing — it already
// encodes its position relative to every other id — so an insert can never
// fail), and a fragment already present (by identifier) is left untouched.
//
// A Delete naming a fragment this buffer has never inserted is a causal
// gap, not a normal race: ErrUnknownFragment is returned and the caller
// must treat the whole batch as rejected (epoch.applyEditText surfaces this
// as a hard failure rather than a deferral, mirroring the original source's
// apply_ops(...).map_err(|_| Error::InvalidOperation)). Ops already applied
// earlier in the same batch are not rolled back by this call; the caller's
// own clone-and-discard discipline is what makes rejection atomic.
func (b *Buffer) ApplyOps(ops []Operation, localClock *clock.LocalClock, lamportClock *clock.LamportClock) error {
	for _, op := range ops {
		localClock.Observe(op.Local)
		lamportClock.Observe(op.Lamport)
		b.observe(op.Local)
		switch op.Kind {
		case OpInsert:
			if !b.hasFragment(op.ID) {
				b.tree.Insert(Fragment{ID: op.ID, Unit: op.Unit, InsertedAt: op.Local})
			}
		case OpDelete:
			item, ok := b.findFragment(op.ID)
			if !ok {
				return ErrUnknownFragment
			}
			if !item.Deleted {
				deletedAt := op.Local
				tombstone := item
				tombstone.Deleted = true
				tombstone.DeletedAt = &deletedAt
				b.tree.Replace(item, tombstone)
			}
		}
		b.modified = true
	}
	return nil
}

func (b *Buffer) observe(t clock.Local) {
	b.version = b.version.ObserveLocal(t)
}

func (b *Buffer) hasFragment(id fragmentID) bool {
	_, ok := b.findFragment(id)
	return ok
}

func (b *Buffer) findFragment(id fragmentID) (Fragment, bool) {
	c := seqindex.NewCursor(b.tree)
	for {
		item, ok := c.Item()
		if !ok {
			return Fragment{}, false
		}
		if compareFragmentID(item.ID, id) == 0 {
			return item, true
		}
		c.Next()
	}
}

// TextAt reconstructs the text visible at a previously observed version: a
// fragment is visible iff its insertion is observed by v and its deletion
// (if any) is not. Base text loaded by NewFromText carries the zero Local
// as its insertion stamp and counts as observed by every version.
func (b *Buffer) TextAt(v clock.Global) string {
	var out []uint16
	c := seqindex.NewCursor(b.tree)
	for {
		item, ok := c.Item()
		if !ok {
			break
		}
		inserted := item.InsertedAt == (clock.Local{}) || v.Observes(item.InsertedAt)
		if inserted && !(item.DeletedAt != nil && v.Observes(*item.DeletedAt)) {
			out = append(out, item.Unit)
		}
		c.Next()
	}
	return string(utf16.Decode(out))
}

// ChangesSince returns the coalesced, ascending-order Changes that take the
// text at v0 to the buffer's current text.
func (b *Buffer) ChangesSince(v0 clock.Global) []Change {
	return DiffText(b.TextAt(v0), b.Text())
}
