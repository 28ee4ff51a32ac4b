package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffTextNoChangeIsEmpty(t *testing.T) {
	changes := DiffText("same\ntext\n", "same\ntext\n")
	require.Empty(t, changes)
}

func TestDiffTextReportsAppendedLine(t *testing.T) {
	changes := DiffText("a\nb\n", "a\nb\nc\n")
	require.NotEmpty(t, changes)
	last := changes[len(changes)-1]
	assert.Equal(t, uint32(2), last.Range.Start.Row)
	assert.Equal(t, last.Range.Start.Row, last.Range.End.Row)
}

func TestDiffTextReportsReplacedLine(t *testing.T) {
	changes := DiffText("a\nb\nc\n", "a\nX\nc\n")
	require.NotEmpty(t, changes)
	for _, c := range changes {
		assert.LessOrEqual(t, c.Range.Start.Row, c.Range.End.Row)
	}
}
