package buffer

import "github.com/nicolagi/worktree/internal/seqindex"

// AnchorBias names a side of an edit boundary. An Anchor records its bias,
// but ToOffset does not consult it: an Anchor always resolves to its
// fragment's current offset, so content inserted exactly at the anchor's
// boundary ends up before the anchor whichever bias it carries.
type AnchorBias int

const (
	Before AnchorBias = iota
	After
)

// Anchor is a position that survives concurrent edits elsewhere in the
// buffer: it names the fragment it was created against, rather than a raw
// Point or Offset, so insertions and deletions before it in the sequence
// never have to be accounted for explicitly.
type Anchor struct {
	fragment fragmentID
	bias     AnchorBias
}

// errAnchorInvalid is returned when an Anchor's fragment no longer exists in
// the buffer it is resolved against (e.g. it names a fragment from a version
// the buffer has since diverged from entirely — never the case for a
// fragment merely marked deleted, which is retained as a tombstone and
// still resolves).
var errAnchorInvalid = newError("resolve", "anchor no longer valid in this buffer")

// ToAnchor creates a stable Anchor at the given Offset: the live fragment
// occupying that position in the current visible text. Seeking by the
// Offset dimension for target at+1, Left-biased, lands on the (at+1)-th
// unit of cumulative weight, i.e. the live fragment at 0-indexed position
// at — tombstones contribute zero weight, so they never shift this
// regardless of how many sit before it.
func (b *Buffer) ToAnchor(at Offset, bias AnchorBias) (Anchor, error) {
	c := seqindex.Seek(b.tree, at+1, seqindex.Left, offsetDim, lessOffset)
	item, ok := c.Item()
	if !ok {
		return Anchor{}, errAnchorInvalid
	}
	return Anchor{fragment: item.ID, bias: bias}, nil
}

// ToOffset resolves a previously created Anchor back to an Offset in the
// current state of the buffer.
func (b *Buffer) ToOffset(a Anchor) (Offset, error) {
	before, ok := b.offsetBeforeFragment(a.fragment)
	if !ok {
		return 0, errAnchorInvalid
	}
	return before, nil
}

// CompareAnchors orders two Anchors without resolving either to a concrete
// Offset: both must still be valid in b.
func (b *Buffer) CompareAnchors(x, y Anchor) (int, error) {
	xo, err := b.ToOffset(x)
	if err != nil {
		return 0, err
	}
	yo, err := b.ToOffset(y)
	if err != nil {
		return 0, err
	}
	switch {
	case xo < yo:
		return -1, nil
	case xo > yo:
		return 1, nil
	default:
		return 0, nil
	}
}

// offsetBeforeFragment walks fragments in order to find the accumulated
// visible Offset at the one matching id. Tombstoned fragments are still
// found, since a Summary contributed zero to Units/Lines but the fragment
// itself remains addressable.
func (b *Buffer) offsetBeforeFragment(id fragmentID) (Offset, bool) {
	c := seqindex.NewCursor(b.tree)
	acc := Offset(0)
	for {
		item, ok := c.Item()
		if !ok {
			return 0, false
		}
		if compareFragmentID(item.ID, id) == 0 {
			return acc, true
		}
		acc += Offset(fragmentSummary(item).Units)
		c.Next()
	}
}
