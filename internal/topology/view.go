// Package topology tracks the three pieces of cluster-wide placement
// state a replica must keep in agreement with its peers: the view (all
// known replica addresses), the shard table (which replicas own which
// shard), and the key-location index (a routing hint for keys this
// replica doesn't hold locally).
//
// All three follow the same shape as the teacher's
// internal/cluster/membership.go: a mutex-guarded map, cheap snapshot
// accessors, no global state.
package topology

import (
	"sort"
	"sync"
)

// View is the set of replica addresses a replica knows about.
// Invariant V1 (spec.md §3): a replica's own address is always a
// member of its own view.
type View struct {
	mu    sync.RWMutex
	addrs map[string]struct{}
}

// NewView seeds a view with the given addresses.
func NewView(addrs ...string) *View {
	v := &View{addrs: make(map[string]struct{}, len(addrs))}
	for _, a := range addrs {
		v.addrs[a] = struct{}{}
	}
	return v
}

// Add inserts addr into the view. Reports false if addr was already
// present (the "already-present" case in spec.md §4.6), true if this
// call actually changed the view.
func (v *View) Add(addr string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.addrs[addr]; ok {
		return false
	}
	v.addrs[addr] = struct{}{}
	return true
}

// Remove deletes addr from the view. Reports whether addr was present.
func (v *View) Remove(addr string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.addrs[addr]; !ok {
		return false
	}
	delete(v.addrs, addr)
	return true
}

// Has reports whether addr is currently in the view.
func (v *View) Has(addr string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.addrs[addr]
	return ok
}

// All returns a sorted copy of every address in the view.
func (v *View) All() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.addrs))
	for a := range v.addrs {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of replicas in the view.
func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.addrs)
}

// Others returns every address in the view except self, sorted.
func (v *View) Others(self string) []string {
	all := v.All()
	out := all[:0:0]
	for _, a := range all {
		if a != self {
			out = append(out, a)
		}
	}
	return out
}
