package coordinator

import (
	"context"
	"causalkv/internal/causal"
	"causalkv/internal/store"
	"encoding/json"
	"log"
)

// PutResult is what the external PUT /kvs/{key} handler returns to the
// client (spec.md §6).
type PutResult struct {
	Result         string       `json:"result"`
	CausalMetadata causal.Clock `json:"causal-metadata"`
	ShardID        string       `json:"shard-id,omitempty"`
}

type GetResult struct {
	Result         string          `json:"result"`
	Value          json.RawMessage `json:"value"`
	CausalMetadata causal.Clock    `json:"causal-metadata"`
}

type DeleteResult struct {
	Result         string       `json:"result"`
	CausalMetadata causal.Clock `json:"causal-metadata"`
}

// Put implements spec.md §4.3.
func (r *Replica) Put(ctx context.Context, key string, value json.RawMessage, clientVC causal.Clock) (PutResult, error) {
	if len(key) > store.MaxKeyBytes {
		return PutResult{}, badRequest("key-too-long")
	}
	if len(value) == 0 {
		return PutResult{}, badRequest("bad-request")
	}

	shard, owner := r.ownerOf(key)
	if !owner {
		return r.forwardPut(ctx, shard, key, value, clientVC)
	}

	r.mu.Lock()
	if !clientVC.Leq(r.vc) {
		r.mu.Unlock()
		return PutResult{}, causalNotReady()
	}
	r.vc.Tick(r.self)
	if !clientVC.Leq(r.vc) {
		r.mu.Unlock()
		return PutResult{}, causalNotReady()
	}
	finalVC := r.vc.Copy()
	selfShard := r.selfShard
	r.mu.Unlock()

	val := store.Value{Data: value, Clock: finalVC}
	r.replicateToShard(ctx, selfShard, key, val, false)

	_, created, err := r.store.Put(key, value, finalVC)
	if err != nil {
		return PutResult{}, err
	}
	if created {
		r.keyLoc.Add(selfShard, key)
		r.broadcastKeyLocation(ctx, key, selfShard)
	}
	r.broadcastVC(ctx)

	result := "replaced"
	if created {
		result = "created"
	}
	return PutResult{Result: result, CausalMetadata: finalVC, ShardID: selfShard}, nil
}

// Get implements spec.md §4.4.
func (r *Replica) Get(ctx context.Context, key string, clientVC causal.Clock) (GetResult, error) {
	r.mu.Lock()
	ready := clientVC.Leq(r.vc)
	localVC := r.vc.Copy()
	r.mu.Unlock()
	if !ready {
		return GetResult{}, causalNotReady()
	}

	if val, ok := r.store.Get(key); ok {
		return GetResult{Result: "found", Value: val.Data, CausalMetadata: localVC}, nil
	}

	shard, ok := r.keyLoc.Lookup(key)
	if !ok {
		return GetResult{}, notFound("key does not exist")
	}
	members, _ := r.shardTable.Members(shard)
	peer, ok := randomMember(removeSelf(members, r.self))
	if !ok {
		return GetResult{}, notFound("key does not exist")
	}
	resp, status, err := r.tr.ForwardGet(ctx, peer, key, clientVC)
	if err != nil || status >= 300 {
		return GetResult{}, notFound("key does not exist")
	}
	return GetResult{Result: resp.Result, Value: resp.Value, CausalMetadata: resp.CausalMetadata}, nil
}

// Delete implements spec.md §4.5.
func (r *Replica) Delete(ctx context.Context, key string, clientVC causal.Clock) (DeleteResult, error) {
	r.mu.Lock()
	ready := clientVC.Leq(r.vc)
	r.mu.Unlock()
	if !ready {
		return DeleteResult{}, causalNotReady()
	}

	if !r.store.Has(key) {
		shard, ok := r.keyLoc.Lookup(key)
		if !ok {
			return DeleteResult{}, notFound("key not found")
		}
		members, _ := r.shardTable.Members(shard)
		peer, ok := randomMember(removeSelf(members, r.self))
		if !ok {
			return DeleteResult{}, notFound("key not found")
		}
		resp, status, err := r.tr.ForwardDelete(ctx, peer, key, clientVC)
		if err != nil || status >= 300 {
			return DeleteResult{}, notFound("key not found")
		}
		r.keyLoc.Remove(shard, key)
		r.broadcastVC(ctx)
		return DeleteResult{Result: resp.Result, CausalMetadata: resp.CausalMetadata}, nil
	}

	r.mu.Lock()
	selfShard := r.selfShard
	vcSnapshot := r.vc.Copy()
	r.mu.Unlock()

	tombstone, err := r.store.Delete(key, vcSnapshot)
	if err != nil {
		return DeleteResult{}, err
	}
	r.replicateToShard(ctx, selfShard, key, tombstone, true)

	r.mu.Lock()
	r.vc.Tick(r.self)
	finalVC := r.vc.Copy()
	r.mu.Unlock()

	r.broadcastVC(ctx)
	return DeleteResult{Result: "deleted", CausalMetadata: finalVC}, nil
}

// ownerOf reports the shard that owns key and whether this replica is
// that shard. With no shards configured the ring is empty and Lookup
// returns "", which trivially matches an empty selfShard — every
// replica owns everything.
func (r *Replica) ownerOf(key string) (shard string, owner bool) {
	shard, _ = r.ring.Lookup(key)
	r.mu.Lock()
	defer r.mu.Unlock()
	return shard, shard == r.selfShard
}

func (r *Replica) forwardPut(ctx context.Context, shard, key string, value json.RawMessage, clientVC causal.Clock) (PutResult, error) {
	members, _ := r.shardTable.Members(shard)
	peer, ok := randomMember(members)
	if !ok {
		return PutResult{}, notFound("no members for shard %s", shard)
	}
	resp, status, err := r.tr.ForwardPut(ctx, peer, key, value, clientVC)
	if err != nil {
		return PutResult{}, err
	}
	if status >= 300 {
		msg := resp.Error
		if msg == "" {
			msg = "forwarded put failed"
		}
		return PutResult{}, &Error{Kind: ErrBadRequest, Message: msg}
	}
	return PutResult{Result: resp.Result, CausalMetadata: resp.CausalMetadata, ShardID: resp.ShardID}, nil
}

// replicateToShard sends val to every other member of shard, retrying
// each peer per transport's own retry budget and evicting any peer that
// stays unreachable (spec.md §4.3 step 6, §5 liveness floor).
func (r *Replica) replicateToShard(ctx context.Context, shard, key string, val store.Value, isDelete bool) {
	members, _ := r.shardTable.Members(shard)
	for _, peer := range members {
		if peer == r.self {
			continue
		}
		var err error
		if isDelete {
			err = r.tr.ReplicateDelete(ctx, peer, r.self, key, val)
		} else {
			err = r.tr.ReplicatePut(ctx, peer, r.self, key, val)
		}
		if err != nil {
			log.Printf("coordinator: replication to %s failed, evicting: %v", peer, err)
			r.evictPeer(ctx, peer)
		}
	}
}

func (r *Replica) broadcastVC(ctx context.Context) {
	r.mu.Lock()
	vc := r.vc.Copy()
	r.mu.Unlock()
	for _, peer := range r.view.Others(r.self) {
		if err := r.tr.BroadcastVC(ctx, peer, vc); err != nil {
			log.Printf("coordinator: vc broadcast to %s failed: %v", peer, err)
		}
	}
}

func (r *Replica) broadcastKeyLocation(ctx context.Context, key, shard string) {
	for _, peer := range r.view.Others(r.self) {
		if err := r.tr.BroadcastKeyLocation(ctx, peer, key, shard); err != nil {
			log.Printf("coordinator: key-location broadcast to %s failed: %v", peer, err)
		}
	}
}

func removeSelf(members []string, self string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != self {
			out = append(out, m)
		}
	}
	return out
}
