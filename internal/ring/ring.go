// Package ring implements the consistent-hash placement that maps keys
// to shards.
//
// The ring lives on a circle of size 2^16. Each shard contributes one
// "real" anchor at H(shard-id) plus V virtual anchors at
// H(shard-id + "-" + i) for i in [0, V) — virtual anchors spread a
// shard's ownership evenly around the circle instead of concentrating
// it at a single point, the way the teacher's internal/cluster/ring.go
// spreads physical nodes with vnodes.
//
// Two rings built from the same shard set, added in the same order,
// with the same virtual-node count, are byte-identical: every replica
// that constructs (or receives a Snapshot of) the same ring computes
// the same key → shard assignment.
package ring

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
)

// DefaultVirtualNodes is used when a ring is constructed with V <= 0.
const DefaultVirtualNodes = 1000

// The ring circle has size 2^16, per the spec — exactly the range of a
// uint16, so positions need no explicit reduction below.

// Anchor is one point on the ring: a hash position and the shard it
// belongs to. Anchor order (as produced by Snapshot) must be preserved
// by callers that serialise it — it's how replicas converge on the
// exact same ring without re-running construction.
type Anchor struct {
	Pos   uint16 `json:"pos"`
	Shard string `json:"shard"`
}

// Snapshot is the wire format for shipping a ring between replicas,
// e.g. on reshard or shard-member addition (spec.md §4.1, §4.7).
type Snapshot struct {
	Anchors      []Anchor `json:"anchors"`
	VirtualNodes int      `json:"virtual_nodes"`
}

// Ring is the consistent-hash ring. Safe for concurrent use.
type Ring struct {
	mu      sync.RWMutex
	vnodes  int
	anchors []Anchor // insertion order, pre-sort
	sorted  []Anchor // sorted by Pos, ties broken by insertion order
}

// New creates an empty ring with the given virtual-node count per
// shard. A non-positive v uses DefaultVirtualNodes.
func New(v int) *Ring {
	if v <= 0 {
		v = DefaultVirtualNodes
	}
	return &Ring{vnodes: v}
}

// AddShard inserts one real anchor for id plus V virtual anchors, in
// i = 0..V-1 order. Calling AddShard with shard ids already sorted
// (the caller's responsibility — the coordinator adds s0..s<N-1>) is what
// makes two independently constructed rings converge byte-for-byte.
func (r *Ring) AddShard(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.anchors = append(r.anchors, Anchor{Pos: hash(id), Shard: id})
	for i := 0; i < r.vnodes; i++ {
		r.anchors = append(r.anchors, Anchor{Pos: hash(virtualLabel(id, i)), Shard: id})
	}
	r.rebuild()
}

// RemoveShard removes every anchor (real and virtual) whose label
// matches id.
//
// This replaces the source's buggy `remove_shard`, which called an
// unbound `bisect` and only ever removed the first match it located by
// binary search rather than every anchor belonging to the shard (see
// spec.md §9). The correct behaviour is a straightforward filter.
func (r *Ring) RemoveShard(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.anchors[:0:0]
	for _, a := range r.anchors {
		if a.Shard != id {
			kept = append(kept, a)
		}
	}
	r.anchors = kept
	r.rebuild()
}

// Reset clears all anchors.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anchors = nil
	r.sorted = nil
}

// Lookup walks the ring clockwise from H(key) and returns the owning
// shard id and the key's hash position.
func (r *Ring) Lookup(key string) (shardID string, h uint16) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h = hash(key)
	if len(r.sorted) == 0 {
		return "", h
	}

	idx := sort.Search(len(r.sorted), func(i int) bool {
		return r.sorted[i].Pos > h
	})
	if idx == len(r.sorted) {
		idx = 0
	}
	return r.sorted[idx].Shard, h
}

// Shards returns the distinct shard ids currently on the ring, sorted.
func (r *Ring) Shards() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, a := range r.anchors {
		if !seen[a.Shard] {
			seen[a.Shard] = true
			out = append(out, a.Shard)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot serialises the ring for transfer to another replica.
// Anchor order is the sorted (ring-walk) order, which is itself a
// deterministic function of the inputs — this is what lets a recipient
// adopt the snapshot directly with Restore instead of re-running
// AddShard in the original insertion order.
func (r *Ring) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Anchor, len(r.sorted))
	copy(out, r.sorted)
	return Snapshot{Anchors: out, VirtualNodes: r.vnodes}
}

// Restore replaces the ring's contents with a received Snapshot.
func (r *Ring) Restore(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.vnodes = s.VirtualNodes
	r.anchors = make([]Anchor, len(s.Anchors))
	copy(r.anchors, s.Anchors)
	r.rebuild()
}

// rebuild recomputes the sorted anchor slice. Must be called with r.mu held.
func (r *Ring) rebuild() {
	r.sorted = make([]Anchor, len(r.anchors))
	copy(r.sorted, r.anchors)
	sort.SliceStable(r.sorted, func(i, j int) bool {
		return r.sorted[i].Pos < r.sorted[j].Pos
	})
}

func virtualLabel(id string, i int) string {
	return fmt.Sprintf("%s-%d", id, i)
}

// hash is SHA-256 taken modulo 2^16, per spec.md §3. Taking the low 16
// bits of the digest is equivalent to reducing the full 256-bit digest
// modulo 2^16, since 2^16 divides 2^256.
func hash(s string) uint16 {
	sum := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint16(sum[len(sum)-2:])
}
