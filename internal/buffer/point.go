package buffer

import "fmt"

// Point is a (row, column) position inside a text buffer, counted in UTF-16
// code units: column 0 is the start of the row, and a column equal to the
// row's length in code units is the position just past its last unit (but
// before the line terminator, if any).
type Point struct {
	Row    uint32
	Column uint32
}

func (p Point) String() string {
	return fmt.Sprintf("%d:%d", p.Row, p.Column)
}

// Less gives Point the order rows-then-columns imposes.
func (p Point) Less(other Point) bool {
	if p.Row != other.Row {
		return p.Row < other.Row
	}
	return p.Column < other.Column
}

func (p Point) Equal(other Point) bool {
	return p.Row == other.Row && p.Column == other.Column
}

// Range is a half-open [Start, End) span expressed as two Points.
type Range struct {
	Start Point
	End   Point
}

// Offset is a 1-D position: the count of UTF-16 code units preceding it.
type Offset uint64

// OffsetRange is a half-open [Start, End) span expressed as two Offsets.
type OffsetRange struct {
	Start Offset
	End   Offset
}
