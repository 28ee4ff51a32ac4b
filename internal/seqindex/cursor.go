package seqindex

// frame is one level of a Cursor's path from root to the current leaf.
// before is the accumulated Summary of every item that sorts strictly
// before this node in the whole sequence; idx is the currently selected
// child (internal frame) or item (leaf frame) within node.
type frame[I any, S any] struct {
	node   *node[I, S]
	idx    int
	before S
}

// Cursor is a snapshot view, positioned on one item, of a Tree as it was
// when the Cursor was created: later mutation of the Tree (which always
// produces new nodes rather than mutating existing ones) never disturbs an
// already-created Cursor.
type Cursor[I any, S any] struct {
	tree      *Tree[I, S]
	root      *node[I, S]
	stack     []frame[I, S]
	exhausted bool
}

// NewCursor positions a Cursor on the first item of t (or past-the-end if t
// is empty).
func NewCursor[I any, S any](t *Tree[I, S]) *Cursor[I, S] {
	c := &Cursor[I, S]{tree: t, root: t.root}
	c.descendLeftmost(t.root, t.ops.Zero())
	if len(c.stack) > 0 {
		top := c.stack[len(c.stack)-1]
		if len(top.node.items) == 0 {
			c.exhausted = true
		}
	} else {
		c.exhausted = true
	}
	return c
}

func (c *Cursor[I, S]) descendLeftmost(n *node[I, S], before S) {
	c.stack = append(c.stack, frame[I, S]{node: n, idx: 0, before: before})
	if n.leaf {
		return
	}
	c.descendLeftmost(n.children[0], before)
}

func (c *Cursor[I, S]) descendRightmost(n *node[I, S], before S) {
	if n.leaf {
		idx := len(n.items) - 1
		if idx < 0 {
			idx = 0
		}
		c.stack = append(c.stack, frame[I, S]{node: n, idx: idx, before: before})
		return
	}
	lastIdx := len(n.children) - 1
	childBefore := before
	for i := 0; i < lastIdx; i++ {
		childBefore = c.tree.ops.Add(childBefore, n.children[i].summary)
	}
	c.stack = append(c.stack, frame[I, S]{node: n, idx: lastIdx, before: before})
	c.descendRightmost(n.children[lastIdx], childBefore)
}

// Item returns the item at the cursor's current position, or ok=false if
// the cursor is exhausted (positioned past the last item).
func (c *Cursor[I, S]) Item() (item I, ok bool) {
	if c.exhausted || len(c.stack) == 0 {
		return item, false
	}
	top := c.stack[len(c.stack)-1]
	if top.idx < 0 || top.idx >= len(top.node.items) {
		return item, false
	}
	return top.node.items[top.idx], true
}

// leafBefore computes the accumulated Summary strictly before the item at
// the given index within the current leaf frame.
func (c *Cursor[I, S]) leafBefore() S {
	top := c.stack[len(c.stack)-1]
	s := top.before
	for i := 0; i < top.idx; i++ {
		s = c.tree.ops.Add(s, c.tree.itemSummary(top.node.items[i]))
	}
	return s
}

// End reads the accumulated dimension of every item before the current
// position; the current item itself is not included.
func End[I any, S any, D any](c *Cursor[I, S], dimOf func(S) D) D {
	return dimOf(c.leafBefore())
}

// Next advances the cursor to the following item. It is a no-op once the
// cursor is exhausted.
func (c *Cursor[I, S]) Next() {
	if c.exhausted || len(c.stack) == 0 {
		return
	}
	top := &c.stack[len(c.stack)-1]
	top.idx++
	if top.idx < len(top.node.items) {
		return
	}
	c.popAndAdvance()
}

// popAndAdvance walks back up the stack looking for a parent with a next
// sibling to descend into; if the stack empties out, the cursor becomes
// exhausted.
func (c *Cursor[I, S]) popAndAdvance() {
	for len(c.stack) > 1 {
		c.stack = c.stack[:len(c.stack)-1]
		parent := &c.stack[len(c.stack)-1]
		parent.idx++
		if parent.idx < len(parent.node.children) {
			childBefore := parent.before
			for i := 0; i < parent.idx; i++ {
				childBefore = c.tree.ops.Add(childBefore, parent.node.children[i].summary)
			}
			c.descendLeftmost(parent.node.children[parent.idx], childBefore)
			return
		}
	}
	c.stack = nil
	c.exhausted = true
}

// Prev moves the cursor to the preceding item. It is a no-op if the cursor
// is already on the first item.
func (c *Cursor[I, S]) Prev() {
	if c.exhausted {
		// Re-anchor on the last item.
		c.stack = nil
		c.descendRightmost(c.root, c.tree.ops.Zero())
		top := c.stack[len(c.stack)-1]
		c.exhausted = len(top.node.items) == 0
		return
	}
	if len(c.stack) == 0 {
		return
	}
	top := &c.stack[len(c.stack)-1]
	top.idx--
	if top.idx >= 0 {
		return
	}
	c.popAndRetreat()
}

func (c *Cursor[I, S]) popAndRetreat() {
	for len(c.stack) > 1 {
		c.stack = c.stack[:len(c.stack)-1]
		parent := &c.stack[len(c.stack)-1]
		parent.idx--
		if parent.idx >= 0 {
			childBefore := parent.before
			for i := 0; i < parent.idx; i++ {
				childBefore = c.tree.ops.Add(childBefore, parent.node.children[i].summary)
			}
			c.descendRightmost(parent.node.children[parent.idx], childBefore)
			return
		}
	}
	// Already on the first item: return to it.
	c.stack = nil
	c.descendLeftmost(c.root, c.tree.ops.Zero())
}

// Seek positions a fresh Cursor according to bias: Left lands on the first
// item whose accumulated dimension (via dimOf) is not less than target;
// Right lands on the last item whose accumulated dimension is less than
// target. less must be a strict total order consistent with dimOf.
func Seek[I any, S any, D any](t *Tree[I, S], target D, bias Bias, dimOf func(S) D, less func(a, b D) bool) *Cursor[I, S] {
	c := &Cursor[I, S]{tree: t, root: t.root}
	seekNode(c, t.root, t.ops.Zero(), target, bias, dimOf, less)
	if len(c.stack) == 0 {
		c.exhausted = true
		return c
	}
	top := c.stack[len(c.stack)-1]
	if top.idx < 0 && bias == Right {
		// The item sought is the last one of an earlier leaf, if any leaf
		// precedes this one: step back to it from this leaf's first item.
		for i := len(c.stack) - 2; i >= 0; i-- {
			if c.stack[i].idx > 0 {
				c.stack[len(c.stack)-1].idx = 0
				c.Prev()
				return c
			}
		}
	}
	if top.idx < 0 || top.idx >= len(top.node.items) {
		c.exhausted = true
	}
	return c
}

// reachesLeft reports whether accumulating contribution onto before reaches
// or passes target: the boundary used both to route descent through
// internal nodes (regardless of bias — the item a Right-biased seek must
// land on can only be found by descending into the same child a
// Left-biased seek would choose, or the child immediately before it, which
// the leaf-level scan resolves) and to implement Bias Left at the leaf.
func reachesLeft[S any, D any](ops SummaryOps[S], before, contribution S, target D, dimOf func(S) D, less func(a, b D) bool) bool {
	end := dimOf(ops.Add(before, contribution))
	return !less(end, target)
}

// seekNode descends to the frame Seek should land on. before is always the
// accumulated Summary strictly before the whole of n (never mutated here):
// every frame pushed stores exactly that value, matching the invariant the
// rest of Cursor relies on (descendLeftmost, popAndAdvance, popAndRetreat).
// A separate acc variable tracks the running sum during the scan; only acc
// is mutated, and it is never stored directly as a frame's before.
func seekNode[I any, S any, D any](c *Cursor[I, S], n *node[I, S], before S, target D, bias Bias, dimOf func(S) D, less func(a, b D) bool) {
	if n.leaf {
		acc := before
		idx := 0
		for idx < len(n.items) {
			if reachesLeft(c.tree.ops, acc, c.tree.itemSummary(n.items[idx]), target, dimOf, less) {
				break
			}
			acc = c.tree.ops.Add(acc, c.tree.itemSummary(n.items[idx]))
			idx++
		}
		if bias == Right {
			// idx currently points at the first item whose end reaches
			// target (or past the end of the leaf); step back to the
			// previous item. If no such item exists in this leaf, idx
			// becomes -1 and Seek steps back into the preceding leaf; with
			// no preceding leaf, Item() reports not-ok, matching the
			// "before the first item" position.
			idx--
		}
		c.stack = append(c.stack, frame[I, S]{node: n, idx: idx, before: before})
		return
	}
	acc := before
	idx := 0
	for idx < len(n.children)-1 {
		if reachesLeft(c.tree.ops, acc, n.children[idx].summary, target, dimOf, less) {
			break
		}
		acc = c.tree.ops.Add(acc, n.children[idx].summary)
		idx++
	}
	childBefore := before
	for i := 0; i < idx; i++ {
		childBefore = c.tree.ops.Add(childBefore, n.children[i].summary)
	}
	c.stack = append(c.stack, frame[I, S]{node: n, idx: idx, before: before})
	seekNode(c, n.children[idx], childBefore, target, bias, dimOf, less)
}
