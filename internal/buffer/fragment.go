package buffer

import (
	"math/big"

	"github.com/nicolagi/worktree/internal/clock"
)

// fragmentID is a globally-unique, densely-orderable position identifier.
// pos is a fractional index in the open interval (0, 1): given any two
// existing identifiers, a new one strictly between them always exists,
// found by exact rational midpoint (no ecosystem library in the retrieval
// pack implements Logoot-style path allocation or fractional indexing, so
// this uses math/big directly). tie breaks concurrent inserts that land on
// the exact same pos by falling back to the Lamport timestamp that minted
// the identifier, exactly as two RGA nodes inserted at the same anchor are
// ordered by timestamp then replica id.
type fragmentID struct {
	pos big.Rat
	tie clock.Lamport
}

var (
	posZero = big.NewRat(0, 1)
	posOne  = big.NewRat(1, 1)
	posTwo  = big.NewRat(2, 1)
)

// newFragmentIDBetween mints an identifier strictly between left and right
// (either may be nil, meaning "start of document" / "end of document").
func newFragmentIDBetween(left, right *fragmentID, tie clock.Lamport) fragmentID {
	lo := posZero
	if left != nil {
		lo = &left.pos
	}
	hi := posOne
	if right != nil {
		hi = &right.pos
	}
	mid := new(big.Rat).Add(lo, hi)
	mid.Quo(mid, posTwo)
	return fragmentID{pos: *mid, tie: tie}
}

func compareFragmentID(a, b fragmentID) int {
	if c := a.pos.Cmp(&b.pos); c != 0 {
		return c
	}
	if a.tie.Equal(b.tie) {
		return 0
	}
	if a.tie.Less(b.tie) {
		return -1
	}
	return 1
}

// Fragment is a single UTF-16 code unit inserted by one replica at one
// point in logical time. Grounding a whole fragment on one unit (rather
// than a run, as a rope normally would) means a delete or a concurrent
// insert never has to split an existing fragment: every boundary any
// replica could ever name already exists as a fragment identifier, so two
// replicas editing overlapping regions always tombstone and insert against
// the same set of boundaries and converge without reconciling partial
// overlaps. The cost is an O(n) tree entry per code unit rather than per
// contiguous run; acceptable for the sizes this index is built for.
//
// Deleted fragments are retained as tombstones: ApplyOps must remain
// idempotent even when the same delete is observed twice, and other
// replicas may still reference a deleted fragment's id as an insertion
// boundary.
type Fragment struct {
	ID         fragmentID
	Unit       uint16
	Deleted    bool
	InsertedAt clock.Local
	DeletedAt  *clock.Local
}

func fragmentCompare(a, b Fragment) int {
	return compareFragmentID(a.ID, b.ID)
}

// Summary is the associative monoid accumulated over a run of fragments: the
// count of visible UTF-16 code units, the number of line breaks among them,
// and the code units trailing the last line break (or all of them, if the
// run contains no line break). Deleted fragments contribute the zero
// Summary, so both the Offset and Point dimensions skip over tombstones for
// free.
type Summary struct {
	Units         uint64
	Lines         uint32
	TrailingUnits uint32
}

type summaryOps struct{}

func (summaryOps) Zero() Summary { return Summary{} }

func (summaryOps) Add(a, b Summary) Summary {
	if b.Lines > 0 {
		return Summary{Units: a.Units + b.Units, Lines: a.Lines + b.Lines, TrailingUnits: b.TrailingUnits}
	}
	return Summary{Units: a.Units + b.Units, Lines: a.Lines, TrailingUnits: a.TrailingUnits + b.TrailingUnits}
}

const newlineCodeUnit = uint16('\n')

func fragmentSummary(f Fragment) Summary {
	if f.Deleted {
		return Summary{}
	}
	if f.Unit == newlineCodeUnit {
		return Summary{Units: 1, Lines: 1, TrailingUnits: 0}
	}
	return Summary{Units: 1, Lines: 0, TrailingUnits: 1}
}

func offsetDim(s Summary) Offset { return Offset(s.Units) }

func lessOffset(a, b Offset) bool { return a < b }
