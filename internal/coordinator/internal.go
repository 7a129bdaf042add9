package coordinator

import (
	"causalkv/internal/causal"
	"causalkv/internal/store"
	"causalkv/internal/transport"
)

// ReceiveForwardedPut applies a PUT forwarded from a shard peer
// (PUT /reptorep/{key}/{from}).
func (r *Replica) ReceiveForwardedPut(from, key string, val store.Value) error {
	r.mu.Lock()
	r.vc = r.vc.MergeInto(val.Clock)
	r.mu.Unlock()

	_, created, err := r.store.Put(key, val.Data, val.Clock)
	if err != nil {
		return err
	}
	if created {
		r.mu.Lock()
		shard := r.selfShard
		r.mu.Unlock()
		r.keyLoc.Add(shard, key)
	}
	return nil
}

// ReceiveForwardedDelete applies a DELETE forwarded from a shard peer
// (DELETE /reptorep/{key}/{from}). The originating replica's VC entry is
// incremented before merging the incoming clock in, not after — the
// mandated ordering so an incoming higher value can never be clobbered
// by a stale increment.
func (r *Replica) ReceiveForwardedDelete(from, key string, val store.Value) error {
	r.mu.Lock()
	r.vc.Tick(from)
	r.vc = r.vc.MergeInto(val.Clock)
	shard := r.selfShard
	r.mu.Unlock()

	if _, err := r.store.ApplyRemote(key, val); err != nil {
		return err
	}
	r.keyLoc.Remove(shard, key)
	return nil
}

// ReceiveVCUpdate adopts a vector clock pushed by a peer
// (POST /reptorep/updatevc). Merging rather than overwriting keeps the
// operation idempotent under replays.
func (r *Replica) ReceiveVCUpdate(vc causal.Clock) {
	r.mu.Lock()
	r.vc = r.vc.MergeInto(vc)
	r.mu.Unlock()
}

// ReceiveKeyLocationUpdate records that shard claims key
// (POST /reptorep/updatemap/{key}).
func (r *Replica) ReceiveKeyLocationUpdate(key, shard string) {
	r.keyLoc.Add(shard, key)
}

// ExistingInfo answers GET /existinginfo for a replica pulling state on
// join: a full copy of the local store (including tombstones, so the
// puller's own ApplyRemote sees accurate clocks) and the current VC.
func (r *Replica) ExistingInfo() transport.TransferBundle {
	r.mu.Lock()
	vc := r.vc.Copy()
	r.mu.Unlock()

	return transport.TransferBundle{Data: r.store.All(), Clock: vc}
}
