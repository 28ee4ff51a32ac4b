package seqindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// intSummary counts items and sums their values; both are valid Dimensions.
type intSummary struct {
	count int
	sum   int
}

type intSummaryOps struct{}

func (intSummaryOps) Zero() intSummary { return intSummary{} }
func (intSummaryOps) Add(a, b intSummary) intSummary {
	return intSummary{count: a.count + b.count, sum: a.sum + b.sum}
}

func countDim(s intSummary) int { return s.count }
func sumDim(s intSummary) int   { return s.sum }

func lessInt(a, b int) bool { return a < b }

func newIntTree(values ...int) *Tree[int, intSummary] {
	t := New[int, intSummary](intSummaryOps{}, func(v int) intSummary {
		return intSummary{count: 1, sum: v}
	}, func(a, b int) int { return a - b })
	for _, v := range values {
		t.Insert(v)
	}
	return t
}

func TestInsertMaintainsOrder(t *testing.T) {
	tr := newIntTree(5, 1, 9, 3, 7, 2, 8, 4, 6, 0)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, tr.Items())
	assert.Equal(t, 10, tr.Len())
}

func TestCursorNextPrev(t *testing.T) {
	tr := newIntTree(10, 20, 30, 40, 50)
	c := NewCursor(tr)
	var forward []int
	for {
		v, ok := c.Item()
		if !ok {
			break
		}
		forward = append(forward, v)
		c.Next()
	}
	assert.Equal(t, []int{10, 20, 30, 40, 50}, forward)

	c.Prev()
	v, ok := c.Item()
	require.True(t, ok)
	assert.Equal(t, 50, v)

	c.Prev()
	c.Prev()
	c.Prev()
	c.Prev()
	v, ok = c.Item()
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestSeekByCountDimension(t *testing.T) {
	tr := newIntTree(10, 20, 30, 40, 50)

	// Left lands on the item whose inclusion first reaches count 3: the
	// 3rd item.
	c := Seek(tr, 3, Left, countDim, lessInt)
	v, ok := c.Item()
	require.True(t, ok)
	assert.Equal(t, 30, v)

	// Right lands one item earlier: the last item before count reaches 3.
	c = Seek(tr, 3, Right, countDim, lessInt)
	v, ok = c.Item()
	require.True(t, ok)
	assert.Equal(t, 20, v)
}

func TestSeekBySumDimensionLeftVsRight(t *testing.T) {
	tr := newIntTree(10, 20, 30)
	// Cumulative sums are 10, 30, 60. Target 15 falls strictly between the
	// first and second item's running sum.
	left := Seek(tr, 15, Left, sumDim, lessInt)
	v, ok := left.Item()
	require.True(t, ok)
	assert.Equal(t, 20, v)
	assert.Equal(t, 10, End(left, sumDim))

	right := Seek(tr, 15, Right, sumDim, lessInt)
	v, ok = right.Item()
	require.True(t, ok)
	assert.Equal(t, 10, v)
	assert.Equal(t, 0, End(right, sumDim))
}

func TestCloneIsIndependent(t *testing.T) {
	tr := newIntTree(1, 2, 3)
	clone := tr.Clone()
	clone.Insert(4)
	assert.Equal(t, []int{1, 2, 3}, tr.Items())
	assert.Equal(t, []int{1, 2, 3, 4}, clone.Items())
}

func TestSplitsAcrossManyInserts(t *testing.T) {
	var values []int
	for i := 99; i >= 0; i-- {
		values = append(values, i)
	}
	tr := newIntTree(values...)
	assert.Equal(t, 100, tr.Len())
	items := tr.Items()
	for i := 0; i < 100; i++ {
		assert.Equal(t, i, items[i])
	}
}
