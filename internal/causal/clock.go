// Package causal implements the vector clocks used to detect causal
// dependencies between client operations across replicas.
//
// Each replica owns one counter per replica address it knows about.
// A client's causal-metadata is just a snapshot of some replica's clock
// at the time of a previous response; comparing it against the current
// replica's clock tells us whether this replica has already applied
// everything the client has "seen".
package causal

import "maps"

// ClockRelation tells us how two vector clocks relate to each other.
type ClockRelation int

const (
	Before           ClockRelation = iota // this clock is older
	After                                 // this clock is newer
	Equal                                 // both clocks are exactly the same
	ConcurrentClocks                      // neither dominates — true conflict
)

// Clock is a mapping from replica address to a non-negative logical
// counter. A missing entry is treated as zero everywhere in this
// package.
type Clock map[string]uint64

// New returns an empty clock.
func New() Clock {
	return make(Clock)
}

// Tick increments the counter for replica. Call this exactly once per
// locally-originated write that actually mutates the store.
func (c Clock) Tick(replica string) {
	c[replica]++
}

// Leq reports whether c happened-before-or-equal other: every entry in
// c is no greater than other's entry for the same replica, a missing
// entry in other counting as zero. A nil or
// empty clock is trivially Leq anything — it carries no dependency.
func (c Clock) Leq(other Clock) bool {
	for replica, v := range c {
		if v > other[replica] {
			return false
		}
	}
	return true
}

// Compare determines how c relates to other.
func (c Clock) Compare(other Clock) ClockRelation {
	cDominates := false
	otherDominates := false

	for replica, v := range c {
		if v > other[replica] {
			cDominates = true
		} else if v < other[replica] {
			otherDominates = true
		}
	}
	for replica, v := range other {
		if _, ok := c[replica]; !ok && v > 0 {
			otherDominates = true
		}
	}

	switch {
	case !cDominates && !otherDominates:
		return Equal
	case cDominates && !otherDominates:
		return After
	case !cDominates && otherDominates:
		return Before
	default:
		return ConcurrentClocks
	}
}

// MergeInto returns the entry-wise max of c and incoming, taken over the
// union of both domains. Used on receipt of any message carrying causal
// metadata — merging is commutative and idempotent, so replaying the
// same message twice is harmless.
func (c Clock) MergeInto(incoming Clock) Clock {
	merged := c.Copy()
	for replica, v := range incoming {
		if v > merged[replica] {
			merged[replica] = v
		}
	}
	return merged
}

// Copy returns a deep copy of c.
func (c Clock) Copy() Clock {
	out := make(Clock, len(c))
	maps.Copy(out, c)
	return out
}

// Seed returns a clock with a zero entry for every address in addrs,
// used when a replica first learns its complete view.
func Seed(addrs []string) Clock {
	c := make(Clock, len(addrs))
	for _, a := range addrs {
		c[a] = 0
	}
	return c
}
