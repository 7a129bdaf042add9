package coordinator

import (
	"context"
	"causalkv/internal/causal"
	"causalkv/internal/topology"
	"fmt"
	"log"
)

// Join runs the startup sequence: adopt the configured peer list, tell
// every peer in that list that self has joined, optionally build a
// shard layout, seed the vector clock for every known address, and pull
// the current store + VC from an in-shard peer if one exists.
//
// This mirrors the teacher-unrelated but spec-grounded startup order
// from the original service: blast_add before init_shards, VC seeding
// after sharding is decided, state pull last.
func (r *Replica) Join(ctx context.Context, peers []string, shardCount int) error {
	for _, p := range peers {
		r.view.Add(p)
	}

	r.broadcastViewAdd(ctx, r.self)

	if shardCount > 0 {
		if err := r.buildInitialShards(shardCount); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.vc = causal.Seed(r.view.All())
	r.mu.Unlock()

	r.pullExistingInfo(ctx)
	return nil
}

// buildInitialShards assigns every current view member to one of
// shardCount shards round-robin and seeds the ring, refusing if any
// shard would end up with fewer than two members (spec.md §3 invariant
// V2).
func (r *Replica) buildInitialShards(shardCount int) error {
	table := topology.BuildRoundRobin(r.view.All(), shardCount)
	for id, members := range table {
		if len(members) < 2 {
			return fmt.Errorf("shard %s would have fewer than 2 members", id)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.shardTable.Set(table)
	r.ring.Reset()
	for _, id := range r.shardTable.Ids() {
		r.ring.AddShard(id)
	}
	r.keyLoc.Clear()
	if shard, ok := r.shardTable.ShardOf(r.self); ok {
		r.selfShard = shard
	}
	return nil
}

// pullExistingInfo asks every other member of this replica's shard, in
// order, for its store and VC, and adopts the first successful reply.
func (r *Replica) pullExistingInfo(ctx context.Context) {
	r.mu.Lock()
	shard := r.selfShard
	r.mu.Unlock()
	if shard == "" {
		return
	}

	members, _ := r.shardTable.Members(shard)
	for _, peer := range members {
		if peer == r.self {
			continue
		}
		bundle, err := r.tr.ExistingInfo(ctx, peer)
		if err != nil {
			continue
		}
		r.mu.Lock()
		for k, v := range bundle.Data {
			r.store.ApplyRemote(k, v)
		}
		r.vc = r.vc.MergeInto(bundle.Clock)
		r.mu.Unlock()
		return
	}
	log.Printf("coordinator: no shard peer of %s responded to state-transfer pull", shard)
}
