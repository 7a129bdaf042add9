package coordinator

import (
	"context"
	"causalkv/internal/causal"
	"causalkv/internal/ring"
	"causalkv/internal/store"
	"causalkv/internal/topology"
	"causalkv/internal/transport"
	"log"
)

// ShardIDs returns every shard id this replica knows about.
func (r *Replica) ShardIDs() []string {
	return r.shardTable.Ids()
}

// NodeShardID returns the shard this replica currently belongs to.
func (r *Replica) NodeShardID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selfShard
}

// ShardMembers returns the ordered member list of shard id.
func (r *Replica) ShardMembers(id string) ([]string, bool) {
	return r.shardTable.Members(id)
}

// ShardKeyCount returns how many keys the key-location index attributes
// to shard id. This is a routing hint count, not an authoritative
// count of what the shard's members actually hold.
func (r *Replica) ShardKeyCount(id string) (int, bool) {
	if _, ok := r.shardTable.Members(id); !ok {
		return 0, false
	}
	return r.keyLoc.Count(id), true
}

// AddShardMember handles a client's PUT /shard/add-member/{id}: validate
// addr and id, then broadcast a full-state transfer to the whole view
// (spec.md §4.7).
func (r *Replica) AddShardMember(ctx context.Context, id, addr string) error {
	if !r.view.Has(addr) {
		return notFound("socket address not in view")
	}
	if _, ok := r.shardTable.Members(id); !ok {
		return notFound("shard does not exist")
	}

	bundle := transport.TransferBundle{
		Data:        r.store.All(),
		Clock:       r.vcSnapshot(),
		ShardTable:  r.shardTable.Snapshot(),
		KeyLocation: r.keyLoc.Snapshot(),
		Ring:        r.ring.Snapshot(),
	}

	for _, peer := range r.view.All() {
		if peer == r.self {
			r.ReceiveShardAddMemberIncoming(id, addr, bundle)
			continue
		}
		if err := r.tr.ShardAddMemberIncoming(ctx, peer, id, addr, bundle); err != nil {
			log.Printf("coordinator: shard-add-member to %s failed: %v", peer, err)
		}
	}
	return nil
}

// ReceiveShardAddMemberIncoming is PUT /shard/addmemberincoming. Every
// recipient appends addr to shard id's member list; the recipient whose
// own address equals addr additionally adopts the whole bundle.
func (r *Replica) ReceiveShardAddMemberIncoming(id, addr string, bundle transport.TransferBundle) {
	if addr == r.self {
		r.adoptShardAddMember(id, addr, bundle)
	}
	r.shardTable.AppendMember(id, addr)
}

func (r *Replica) adoptShardAddMember(id, addr string, bundle transport.TransferBundle) {
	for k, v := range bundle.Data {
		r.store.ApplyRemote(k, v)
	}
	r.shardTable.Set(bundle.ShardTable)
	r.keyLoc.Restore(bundle.KeyLocation)
	r.ring.Restore(bundle.Ring)

	r.mu.Lock()
	r.vc = r.vc.MergeInto(bundle.Clock)
	r.selfShard = id
	r.mu.Unlock()
}

// ReshardResult is returned to the client on a successful reshard.
type ReshardResult struct {
	Result string `json:"result"`
}

// Reshard runs spec.md §4.7's reshard algorithm from the initiating
// replica: refuse if the fault-tolerance floor would be violated,
// rebuild the ring and shard table, broadcast both, then independently
// rehash the local store into the new shard layout.
func (r *Replica) Reshard(ctx context.Context, n int) (ReshardResult, error) {
	view := r.view.All()
	if 2*n > len(view) {
		return ReshardResult{}, badRequest("not enough replicas to provide fault tolerance with %d shards", n)
	}

	table := topology.BuildRoundRobin(view, n)
	newRing := ring.New(ring.DefaultVirtualNodes)
	for i := 0; i < n; i++ {
		newRing.AddShard(topology.ShardID(i))
	}

	r.mu.Lock()
	r.shardTable.Set(table)
	r.ring.Reset()
	for i := 0; i < n; i++ {
		r.ring.AddShard(topology.ShardID(i))
	}
	r.keyLoc.Clear()
	if shard, ok := r.shardTable.ShardOf(r.self); ok {
		r.selfShard = shard
	}
	r.mu.Unlock()

	blast := transport.ReshardBlast{ShardTable: table, Ring: newRing.Snapshot()}
	for _, peer := range r.view.Others(r.self) {
		if err := r.tr.BlastReshard(ctx, peer, blast); err != nil {
			log.Printf("coordinator: reshard blast to %s failed: %v", peer, err)
		}
	}

	// blast_reshard only lands the new shard table and ring on every
	// peer; remap is the separate signal (original's /reptorep/remap)
	// that tells each peer to actually drain and redistribute against
	// it. Without this second round every non-initiating replica would
	// keep serving 100% of its pre-reshard data forever.
	for _, peer := range r.view.Others(r.self) {
		if err := r.tr.Remap(ctx, peer); err != nil {
			log.Printf("coordinator: remap to %s failed: %v", peer, err)
		}
	}

	r.rehashAndRedistribute(ctx)
	return ReshardResult{Result: "resharded"}, nil
}

// ReceiveBlastReshard is PUT /shard/blast_reshard: adopt the new shard
// table and ring, clear the key-location index, and update self-shard.
// It does not itself trigger redistribution — see ReceiveRemap.
func (r *Replica) ReceiveBlastReshard(blast transport.ReshardBlast) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.shardTable.Set(blast.ShardTable)
	r.ring.Restore(blast.Ring)
	r.keyLoc.Clear()
	if shard, ok := r.shardTable.ShardOf(r.self); ok {
		r.selfShard = shard
	}
}

// ReceiveRemap is PUT /reptorep/remap: drain and redistribute the local
// store against the shard table/ring this replica already adopted via
// ReceiveBlastReshard. The initiator never sends itself this message —
// it calls rehashAndRedistribute directly at the end of Reshard.
func (r *Replica) ReceiveRemap(ctx context.Context) {
	r.rehashAndRedistribute(ctx)
}

// rehashAndRedistribute implements spec.md §4.7 step 5: drain the local
// store, re-place every key against the new ring, and ship each bucket
// to its new owning shard. Every replica — initiator included — runs
// this independently: the initiator calls it directly at the end of
// Reshard, every other replica runs it on receipt of remap.
func (r *Replica) rehashAndRedistribute(ctx context.Context) {
	drained := r.store.Drain()
	if len(drained) == 0 {
		return
	}

	buckets := make(map[string]map[string]store.Value)
	keyLocUpdate := make(map[string][]string)
	for key, val := range drained {
		shard, _ := r.ring.Lookup(key)
		if buckets[shard] == nil {
			buckets[shard] = make(map[string]store.Value)
		}
		buckets[shard][key] = val
		keyLocUpdate[shard] = append(keyLocUpdate[shard], key)
	}

	for shard, pairs := range buckets {
		members, _ := r.shardTable.Members(shard)
		for _, peer := range members {
			if peer == r.self {
				r.mergeUpdatedStore(pairs)
				continue
			}
			if err := r.tr.UpdatedStore(ctx, peer, transport.StoreBucket{Data: pairs}); err != nil {
				log.Printf("coordinator: updated-store to %s failed: %v", peer, err)
			}
		}
	}

	r.keyLoc.Merge(keyLocUpdate)
	for _, peer := range r.view.Others(r.self) {
		if err := r.tr.UpdatedMap(ctx, peer, keyLocUpdate); err != nil {
			log.Printf("coordinator: updated-map to %s failed: %v", peer, err)
		}
	}
}

// ReceiveUpdatedStore merges a rehashed bucket into the local store
// (POST /reptorep/updated_store).
func (r *Replica) ReceiveUpdatedStore(bucket transport.StoreBucket) {
	r.mergeUpdatedStore(bucket.Data)
}

func (r *Replica) mergeUpdatedStore(pairs map[string]store.Value) {
	for key, val := range pairs {
		r.store.ApplyRemote(key, val)
	}
}

// ReceiveUpdatedMap merges a rebuilt key-location map
// (POST /reptorep/updated_map).
func (r *Replica) ReceiveUpdatedMap(m map[string][]string) {
	r.keyLoc.Merge(m)
}

func (r *Replica) vcSnapshot() causal.Clock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vc.Copy()
}
