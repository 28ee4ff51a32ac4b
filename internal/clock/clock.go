// Package clock implements the logical clocks the engine uses to order
// operations across replicas without a shared wall clock: a per-replica
// Local counter, a Lamport clock for total ordering with conflict
// tie-breaking, and a Global version vector for partial ordering and
// convergence checks.
package clock

import "fmt"

// ReplicaID is an opaque 128-bit replica identity.
type ReplicaID [16]byte

func (r ReplicaID) String() string {
	return fmt.Sprintf("%x", [16]byte(r))
}

// Less gives ReplicaID a total order, used only to break ties between
// Lamport timestamps with equal value.
func (r ReplicaID) Less(other ReplicaID) bool {
	for i := range r {
		if r[i] != other[i] {
			return r[i] < other[i]
		}
	}
	return false
}

// Local is a per-replica monotonic operation counter: (replica_id, value).
type Local struct {
	ReplicaID ReplicaID
	Value     uint64
}

func (l Local) String() string {
	return fmt.Sprintf("%s/%d", l.ReplicaID, l.Value)
}

// LocalClock hands out and observes Local timestamps for one replica.
type LocalClock struct {
	replicaID ReplicaID
	value     uint64
}

// NewLocalClock builds a clock for the given replica, starting at value 0.
func NewLocalClock(replicaID ReplicaID) *LocalClock {
	return &LocalClock{replicaID: replicaID}
}

func (c *LocalClock) ReplicaID() ReplicaID {
	return c.replicaID
}

// Tick returns the current value then increments it.
func (c *LocalClock) Tick() Local {
	v := c.value
	c.value++
	return Local{ReplicaID: c.replicaID, Value: v}
}

// Observe advances the clock to max(self, t+1), but only for timestamps
// originating at this same replica: a Local timestamp carries its replica's
// identity, and it would be meaningless to let a foreign replica's counter
// push ours forward.
func (c *LocalClock) Observe(t Local) {
	if t.ReplicaID != c.replicaID {
		return
	}
	if t.Value >= c.value {
		c.value = t.Value + 1
	}
}

// Lamport is a totally-ordered logical timestamp: primarily ordered by
// Value, ties broken by ReplicaID.
type Lamport struct {
	Value     uint64
	ReplicaID ReplicaID
}

func (l Lamport) String() string {
	return fmt.Sprintf("%d@%s", l.Value, l.ReplicaID)
}

// Less orders Lamport timestamps: by Value, then by ReplicaID.
func (l Lamport) Less(other Lamport) bool {
	if l.Value != other.Value {
		return l.Value < other.Value
	}
	return l.ReplicaID.Less(other.ReplicaID)
}

func (l Lamport) Equal(other Lamport) bool {
	return l.Value == other.Value && l.ReplicaID == other.ReplicaID
}

// MinValue is a sentinel lower than any timestamp any replica will ever
// produce; used to seed base-entry ingestion below any replicated op.
func MinValue(replicaID ReplicaID) Lamport {
	return Lamport{Value: 0, ReplicaID: replicaID}
}

// MaxValue is a sentinel used as an upper bound in seeks.
func MaxValue() Lamport {
	return Lamport{Value: ^uint64(0), ReplicaID: ReplicaID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}}
}

// LamportClock hands out and observes Lamport timestamps. A single instance
// is shared by every component of one replica (epoch, buffers, worktree);
// every Tick/Observe call mutates it and callers are expected to serialize
// access the same way the rest of the core does: no concurrent mutation.
type LamportClock struct {
	replicaID ReplicaID
	value     uint64
}

func NewLamportClock(replicaID ReplicaID) *LamportClock {
	return &LamportClock{replicaID: replicaID}
}

func (c *LamportClock) ReplicaID() ReplicaID {
	return c.replicaID
}

// Tick increments the clock's value and returns the new timestamp.
func (c *LamportClock) Tick() Lamport {
	c.value++
	return Lamport{Value: c.value, ReplicaID: c.replicaID}
}

// Observe sets value = max(self.value, t.value) + 1, unconditionally: unlike
// Local, a Lamport clock must advance past any timestamp it observes,
// regardless of which replica produced it, so that every subsequently
// emitted timestamp strictly dominates everything seen so far.
func (c *LamportClock) Observe(t Lamport) {
	if t.Value > c.value {
		c.value = t.Value
	}
	c.value++
}

func (c *LamportClock) Peek() Lamport {
	return Lamport{Value: c.value, ReplicaID: c.replicaID}
}

// Global is a per-replica-id max-value map: a version vector giving a
// partial order over replica states.
type Global map[ReplicaID]uint64

// Clone returns a shallow copy safe to mutate independently.
func (g Global) Clone() Global {
	if g == nil {
		return nil
	}
	c := make(Global, len(g))
	for k, v := range g {
		c[k] = v
	}
	return c
}

// ObserveLocal records, for t's replica, one more than the greatest Local
// value observed so far (the form Observes checks against), returning the
// (possibly new) map. g may be nil.
func (g Global) ObserveLocal(t Local) Global {
	if g == nil {
		g = make(Global, 1)
	}
	if t.Value+1 > g[t.ReplicaID] {
		g[t.ReplicaID] = t.Value + 1
	}
	return g
}

// Observes reports whether g has observed the Local timestamp t, i.e.
// whether every operation numbered up to and including t.Value from
// t.ReplicaID is reflected in g.
func (g Global) Observes(t Local) bool {
	return g[t.ReplicaID] > t.Value
}

// LessEq is the partial order: a <= b iff every component of a is <= the
// corresponding component of b. Replica ids present in one but not the
// other are treated as zero on the missing side.
func (g Global) LessEq(other Global) bool {
	for replica, v := range g {
		if v > other[replica] {
			return false
		}
	}
	return true
}

// ChangedSince reports whether any component of g is strictly greater than
// the corresponding component of other: g has observed something other
// has not.
func (g Global) ChangedSince(other Global) bool {
	for replica, v := range g {
		if v > other[replica] {
			return true
		}
	}
	return false
}
