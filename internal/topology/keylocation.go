package topology

import "sync"

// KeyLocation is the shard-id -> set-of-keys routing hint every
// replica maintains so it can forward a request for a key it doesn't
// hold locally to the shard that does (spec.md §3 Invariant V4: this
// is best-effort, not authoritative).
type KeyLocation struct {
	mu    sync.RWMutex
	index map[string]map[string]struct{}
}

// NewKeyLocation returns an empty index.
func NewKeyLocation() *KeyLocation {
	return &KeyLocation{index: make(map[string]map[string]struct{})}
}

// Add records that key lives in shard.
func (k *KeyLocation) Add(shard, key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.index[shard] == nil {
		k.index[shard] = make(map[string]struct{})
	}
	k.index[shard][key] = struct{}{}
}

// Remove deletes key from shard's set, if present. Unlike the source
// (which unconditionally cleared the key from its own shard's index
// regardless of who actually claimed it), this only removes key from
// the shard entry the caller names — see spec.md §9 on the DELETE
// forwarding bug to not emulate.
func (k *KeyLocation) Remove(shard, key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if set, ok := k.index[shard]; ok {
		delete(set, key)
	}
}

// Lookup returns the shard that claims key, if any.
func (k *KeyLocation) Lookup(key string) (shard string, ok bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for shard, set := range k.index {
		if _, found := set[key]; found {
			return shard, true
		}
	}
	return "", false
}

// Clear empties the index, e.g. at the start of a reshard.
func (k *KeyLocation) Clear() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.index = make(map[string]map[string]struct{})
}

// Count returns how many keys are recorded under shard.
func (k *KeyLocation) Count(shard string) int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.index[shard])
}

// Snapshot converts the index to the wire format (sets as lists, in
// no particular order), matching the "duck-typed JSON" note in spec.md §9: null maps
// to an absent/empty list rather than null.
func (k *KeyLocation) Snapshot() map[string][]string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string][]string, len(k.index))
	for shard, set := range k.index {
		keys := make([]string, 0, len(set))
		for key := range set {
			keys = append(keys, key)
		}
		out[shard] = keys
	}
	return out
}

// Merge adds every key in m into the index under its shard, without
// clearing existing entries — used when adopting a broadcast update
// rather than a full replacement.
func (k *KeyLocation) Merge(m map[string][]string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for shard, keys := range m {
		if len(keys) == 0 {
			continue
		}
		if k.index[shard] == nil {
			k.index[shard] = make(map[string]struct{})
		}
		for _, key := range keys {
			k.index[shard][key] = struct{}{}
		}
	}
}

// Restore replaces the entire index with m, e.g. on shard-member state
// transfer.
func (k *KeyLocation) Restore(m map[string][]string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.index = make(map[string]map[string]struct{}, len(m))
	for shard, keys := range m {
		set := make(map[string]struct{}, len(keys))
		for _, key := range keys {
			set[key] = struct{}{}
		}
		k.index[shard] = set
	}
}
