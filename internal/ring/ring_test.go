package ring

import "testing"

func TestLookupDeterministicAcrossIdenticalRings(t *testing.T) {
	a := New(10)
	b := New(10)
	for _, id := range []string{"s0", "s1", "s2"} {
		a.AddShard(id)
		b.AddShard(id)
	}

	for _, key := range []string{"foo", "bar", "baz", "quux", "a-much-longer-key-name"} {
		sa, ha := a.Lookup(key)
		sb, hb := b.Lookup(key)
		if sa != sb || ha != hb {
			t.Fatalf("key %q: ring a -> (%s,%d), ring b -> (%s,%d)", key, sa, ha, sb, hb)
		}
	}
}

func TestLookupEmptyRing(t *testing.T) {
	r := New(10)
	shard, _ := r.Lookup("foo")
	if shard != "" {
		t.Fatalf("expected empty shard on empty ring, got %q", shard)
	}
}

func TestAddShardThenRemoveRestoresEmptiness(t *testing.T) {
	r := New(5)
	r.AddShard("s0")
	r.AddShard("s1")
	r.RemoveShard("s0")
	r.RemoveShard("s1")

	if shards := r.Shards(); len(shards) != 0 {
		t.Fatalf("expected no shards left, got %v", shards)
	}
}

func TestRemoveShardOnlyRemovesMatchingAnchors(t *testing.T) {
	r := New(20)
	r.AddShard("s0")
	r.AddShard("s1")
	r.RemoveShard("s0")

	shards := r.Shards()
	if len(shards) != 1 || shards[0] != "s1" {
		t.Fatalf("expected only s1 left, got %v", shards)
	}
	// Every key must now resolve to s1.
	for _, key := range []string{"a", "b", "c", "d"} {
		if shard, _ := r.Lookup(key); shard != "s1" {
			t.Errorf("key %q resolved to %q, want s1", key, shard)
		}
	}
}

func TestReset(t *testing.T) {
	r := New(5)
	r.AddShard("s0")
	r.Reset()
	if shards := r.Shards(); len(shards) != 0 {
		t.Fatalf("expected empty ring after Reset, got %v", shards)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	r := New(50)
	r.AddShard("s0")
	r.AddShard("s1")
	r.AddShard("s2")

	snap := r.Snapshot()

	restored := New(1) // vnodes overwritten by Restore
	restored.Restore(snap)

	for _, key := range []string{"k1", "k2", "k3", "k4", "k5"} {
		want, wh := r.Lookup(key)
		got, gh := restored.Lookup(key)
		if want != got || wh != gh {
			t.Errorf("key %q: original -> (%s,%d), restored -> (%s,%d)", key, want, wh, got, gh)
		}
	}
}

func TestSnapshotAnchorOrderPreserved(t *testing.T) {
	r := New(3)
	r.AddShard("s1")
	r.AddShard("s0")

	snap := r.Snapshot()
	for i := 1; i < len(snap.Anchors); i++ {
		if snap.Anchors[i-1].Pos > snap.Anchors[i].Pos {
			t.Fatalf("snapshot anchors not sorted by position at index %d", i)
		}
	}
}

func TestReshardRedistributesAllKeys(t *testing.T) {
	r := New(1000)
	r.AddShard("s0")

	keys := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		keys = append(keys, keyName(i))
	}
	before := make(map[string]string, len(keys))
	for _, k := range keys {
		shard, _ := r.Lookup(k)
		before[k] = shard
	}

	r.Reset()
	r.AddShard("s0")
	r.AddShard("s1")

	seenS1 := false
	for _, k := range keys {
		shard, _ := r.Lookup(k)
		if shard != "s0" && shard != "s1" {
			t.Fatalf("key %q resolved to unknown shard %q", k, shard)
		}
		if shard == "s1" {
			seenS1 = true
		}
	}
	if !seenS1 {
		t.Fatal("expected at least one key to land on the new shard s1")
	}
}

func keyName(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return string(letters[i%len(letters)]) + string(rune('0'+i%10))
}
