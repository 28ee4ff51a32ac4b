package buffer

import (
	"strings"
	"unicode/utf16"

	"github.com/andreyvit/diff"
)

// Change is one coalesced delta: replacing the half-open line range with
// codeUnits turns the old text into the new text at that point. Column is
// always 0 on both ends: the underlying line diff (the same
// github.com/andreyvit/diff used by muscle's own diff/unified.go) only
// resolves differences at line granularity, so a changed line is always
// reported as a whole-line replacement rather than a sub-line edit.
type Change struct {
	Range     Range
	CodeUnits []uint16
}

// DiffText computes the Changes that turn oldText into newText, coalesced
// and in ascending order. Grounded on diff.UnifiedTo's hunk-scanning loop
// (same '+'/'-'/' ' line classification over diff.LineDiffAsLines), but
// producing structured Point ranges instead of a printable unified diff.
func DiffText(oldText, newText string) []Change {
	lines := diff.LineDiffAsLines(oldText, newText)
	var changes []Change
	var oldLine uint32

	i := 0
	for i < len(lines) {
		if lines[i][0] == ' ' {
			oldLine++
			i++
			continue
		}
		start := oldLine
		var removed, added []string
		for i < len(lines) && lines[i][0] != ' ' {
			switch lines[i][0] {
			case '-':
				removed = append(removed, lines[i][1:])
				oldLine++
			case '+':
				added = append(added, lines[i][1:])
			}
			i++
		}
		end := oldLine
		var text string
		if len(added) > 0 {
			text = strings.Join(added, "\n") + "\n"
		}
		changes = append(changes, Change{
			Range:     Range{Start: Point{Row: start}, End: Point{Row: end}},
			CodeUnits: utf16.Encode([]rune(text)),
		})
	}
	return changes
}
