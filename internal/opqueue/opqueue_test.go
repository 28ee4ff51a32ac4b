package opqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDrainOrdersByTimestamp(t *testing.T) {
	q := New[string]()
	q.Insert(5, [16]byte{1}, "five")
	q.Insert(1, [16]byte{1}, "one")
	q.Insert(3, [16]byte{1}, "three")
	assert.Equal(t, []string{"one", "three", "five"}, q.Drain())
	assert.Equal(t, 0, q.Len())
}

func TestDrainBreaksTiesByReplica(t *testing.T) {
	q := New[string]()
	q.Insert(1, [16]byte{2}, "second")
	q.Insert(1, [16]byte{1}, "first")
	assert.Equal(t, []string{"first", "second"}, q.Drain())
}

func TestDrainEmptiesQueue(t *testing.T) {
	q := New[int]()
	q.Insert(1, [16]byte{}, 42)
	q.Drain()
	assert.Empty(t, q.Drain())
}

func TestCloneIsIndependent(t *testing.T) {
	q := New[int]()
	q.Insert(1, [16]byte{}, 1)
	clone := q.Clone()
	clone.Insert(2, [16]byte{}, 2)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 2, clone.Len())
}
