package coordinator_test

import (
	"context"
	"causalkv/internal/api"
	"causalkv/internal/coordinator"
	"causalkv/internal/ring"
	"causalkv/internal/topology"
	"encoding/json"
	"net"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// startReplica brings up a replica bound to a real, already-listening
// TCP address and serves its HTTP surface in the background, the way a
// real process does — coordinator's Join/Put/Get/Delete forward over
// genuine HTTP to other replicas started the same way.
func startReplica(t *testing.T) (*coordinator.Replica, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	self := ln.Addr().String()

	r, err := coordinator.New(self, t.TempDir())
	if err != nil {
		t.Fatalf("coordinator.New: %v", err)
	}

	router := gin.New()
	api.NewHandler(r).Register(router)
	srv := &http.Server{Handler: router}
	go srv.Serve(ln)

	t.Cleanup(func() {
		srv.Close()
		r.Close()
	})
	return r, self
}

func raw(s string) json.RawMessage { return json.RawMessage(`"` + s + `"`) }

func TestPutGetDeleteOnLoneReplica(t *testing.T) {
	r, _ := startReplica(t)
	ctx := context.Background()

	putResp, err := r.Put(ctx, "foo", raw("bar"), nil)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if putResp.Result != "created" {
		t.Fatalf("expected created, got %q", putResp.Result)
	}

	getResp, err := r.Get(ctx, "foo", putResp.CausalMetadata)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(getResp.Value) != `"bar"` {
		t.Fatalf("unexpected value %s", getResp.Value)
	}

	delResp, err := r.Delete(ctx, "foo", getResp.CausalMetadata)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if delResp.Result != "deleted" {
		t.Fatalf("expected deleted, got %q", delResp.Result)
	}

	if _, err := r.Get(ctx, "foo", delResp.CausalMetadata); err == nil {
		t.Fatal("expected not-found error after delete")
	} else if ce, ok := err.(*coordinator.Error); !ok || ce.Kind != coordinator.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// joinAll runs Join(ctx, othersOf(i), shardCount) on every replica.
// Each replica computes its shard table independently from its own
// view, but since every replica is handed the same full peer list the
// round-robin assignment is deterministic and identical everywhere.
func joinAll(t *testing.T, replicas []*coordinator.Replica, addrs []string, shardCount int) {
	t.Helper()
	ctx := context.Background()
	for i, r := range replicas {
		var peers []string
		for j, a := range addrs {
			if j != i {
				peers = append(peers, a)
			}
		}
		if err := r.Join(ctx, peers, shardCount); err != nil {
			t.Fatalf("replica %d join: %v", i, err)
		}
	}
}

func TestPutGetDeleteForwardAcrossShards(t *testing.T) {
	const n = 4
	replicas := make([]*coordinator.Replica, n)
	addrs := make([]string, n)
	for i := range replicas {
		replicas[i], addrs[i] = startReplica(t)
	}
	joinAll(t, replicas, addrs, 2)

	ctx := context.Background()

	// Put each key through a different entry-point replica. Whichever
	// replica actually owns the key, the entry-point must forward the
	// write and hand back a coherent result.
	keys := []string{"alpha", "bravo", "charlie", "delta"}
	for i, key := range keys {
		entry := replicas[i%n]
		resp, err := entry.Put(ctx, key, raw(key+"-value"), nil)
		if err != nil {
			t.Fatalf("put %q via replica %d: %v", key, i%n, err)
		}
		if resp.Result != "created" {
			t.Fatalf("put %q: expected created, got %q", key, resp.Result)
		}
		if resp.ShardID == "" {
			t.Fatalf("put %q: expected a shard id in the response", key)
		}
	}

	// Every replica must be able to serve every key, whether it owns it
	// locally or has to forward the read.
	for _, key := range keys {
		for ri, entry := range replicas {
			resp, err := entry.Get(ctx, key, nil)
			if err != nil {
				t.Fatalf("get %q via replica %d: %v", key, ri, err)
			}
			want := `"` + key + "-value" + `"`
			if string(resp.Value) != want {
				t.Fatalf("get %q via replica %d: got %s, want %s", key, ri, resp.Value, want)
			}
		}
	}

	// Delete through one replica, confirm every replica sees it gone.
	delResp, err := replicas[3].Delete(ctx, "alpha", nil)
	if err != nil {
		t.Fatalf("delete alpha via replica 3: %v", err)
	}
	if delResp.Result != "deleted" {
		t.Fatalf("expected deleted, got %q", delResp.Result)
	}
	for ri, entry := range replicas {
		if _, err := entry.Get(ctx, "alpha", nil); err == nil {
			t.Fatalf("replica %d: expected alpha to be gone after delete", ri)
		}
	}
}

func TestReshardRedistributesKeysToRingOwners(t *testing.T) {
	const n = 4
	replicas := make([]*coordinator.Replica, n)
	addrs := make([]string, n)
	for i := range replicas {
		replicas[i], addrs[i] = startReplica(t)
	}
	// Start under a single shard so every replica holds every key.
	joinAll(t, replicas, addrs, 1)

	ctx := context.Background()
	keys := []string{"k0", "k1", "k2", "k3", "k4", "k5", "k6", "k7"}
	for _, key := range keys {
		if _, err := replicas[0].Put(ctx, key, raw(key), nil); err != nil {
			t.Fatalf("put %q: %v", key, err)
		}
	}

	if _, err := replicas[0].Reshard(ctx, 2); err != nil {
		t.Fatalf("reshard: %v", err)
	}

	// Independently recompute the placement Reshard should have
	// produced, the same way coordinator.Reshard does internally, and
	// check every replica's local store matches it exactly.
	view := replicas[0].ListView()
	table := topology.BuildRoundRobin(view, 2)
	wantRing := ring.New(ring.DefaultVirtualNodes)
	for i := 0; i < 2; i++ {
		wantRing.AddShard(topology.ShardID(i))
	}

	for _, key := range keys {
		wantShard, _ := wantRing.Lookup(key)
		wantMembers := map[string]bool{}
		for _, addr := range table[wantShard] {
			wantMembers[addr] = true
		}
		for _, r := range replicas {
			has := r.Store().Has(key)
			should := wantMembers[r.Self()]
			if has != should {
				t.Fatalf("key %q on replica %s: store.Has=%v, want %v (shard %s, members %v)",
					key, r.Self(), has, should, wantShard, table[wantShard])
			}
		}
	}

	// Every key must still be readable cluster-wide post-reshard.
	for _, key := range keys {
		for _, r := range replicas {
			resp, err := r.Get(ctx, key, nil)
			if err != nil {
				t.Fatalf("post-reshard get %q via %s: %v", key, r.Self(), err)
			}
			if string(resp.Value) != `"`+key+`"` {
				t.Fatalf("post-reshard get %q via %s: got %s", key, r.Self(), resp.Value)
			}
		}
	}
}
