package topology

import "testing"

func TestViewAddAlreadyPresent(t *testing.T) {
	v := NewView("r1:8090")
	if v.Add("r1:8090") {
		t.Fatal("expected Add to report false for an already-present address")
	}
	if !v.Add("r2:8090") {
		t.Fatal("expected Add to report true for a new address")
	}
}

func TestViewRemove(t *testing.T) {
	v := NewView("r1:8090", "r2:8090")
	if !v.Remove("r2:8090") {
		t.Fatal("expected Remove to report true")
	}
	if v.Remove("r2:8090") {
		t.Fatal("expected second Remove to report false")
	}
	if v.Has("r2:8090") {
		t.Fatal("r2 should no longer be in the view")
	}
}

func TestViewOthersExcludesSelf(t *testing.T) {
	v := NewView("r1", "r2", "r3")
	others := v.Others("r1")
	for _, o := range others {
		if o == "r1" {
			t.Fatal("Others must not include self")
		}
	}
	if len(others) != 2 {
		t.Fatalf("expected 2 others, got %d", len(others))
	}
}

func TestBuildRoundRobin(t *testing.T) {
	view := []string{"r3", "r1", "r2", "r4"}
	table := BuildRoundRobin(view, 2)

	if len(table) != 2 {
		t.Fatalf("expected 2 shards, got %d", len(table))
	}
	total := 0
	for _, members := range table {
		total += len(members)
	}
	if total != 4 {
		t.Fatalf("expected 4 total assignments, got %d", total)
	}
	// r1 sorts first, goes to s0; r2 goes to s1; r3 -> s0; r4 -> s1.
	if table["s0"][0] != "r1" || table["s1"][0] != "r2" {
		t.Fatalf("unexpected round-robin assignment: %v", table)
	}
}

func TestShardTableAppendMember(t *testing.T) {
	st := NewShardTable()
	st.Set(map[string][]string{"s0": {"r1"}})

	if !st.AppendMember("s0", "r2") {
		t.Fatal("expected AppendMember to succeed for known shard")
	}
	members, _ := st.Members("s0")
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %v", members)
	}

	if st.AppendMember("s9", "r3") {
		t.Fatal("expected AppendMember to fail for unknown shard")
	}
}

func TestShardTableShardOf(t *testing.T) {
	st := NewShardTable()
	st.Set(map[string][]string{"s0": {"r1", "r2"}, "s1": {"r3", "r4"}})

	shard, ok := st.ShardOf("r3")
	if !ok || shard != "s1" {
		t.Fatalf("expected r3 in s1, got %q ok=%v", shard, ok)
	}

	if _, ok := st.ShardOf("unknown"); ok {
		t.Fatal("expected unknown address to not resolve")
	}
}

func TestKeyLocationAddRemoveLookup(t *testing.T) {
	kl := NewKeyLocation()
	kl.Add("s0", "foo")

	shard, ok := kl.Lookup("foo")
	if !ok || shard != "s0" {
		t.Fatalf("expected foo in s0, got %q ok=%v", shard, ok)
	}

	kl.Remove("s0", "foo")
	if _, ok := kl.Lookup("foo"); ok {
		t.Fatal("expected foo to be gone after Remove")
	}
}

func TestKeyLocationRemoveWrongShardIsNoop(t *testing.T) {
	kl := NewKeyLocation()
	kl.Add("s0", "foo")
	kl.Remove("s1", "foo") // foo was never claimed by s1

	shard, ok := kl.Lookup("foo")
	if !ok || shard != "s0" {
		t.Fatalf("removing from the wrong shard must not affect the real owner, got %q ok=%v", shard, ok)
	}
}

func TestKeyLocationSnapshotRestoreRoundTrip(t *testing.T) {
	kl := NewKeyLocation()
	kl.Add("s0", "a")
	kl.Add("s0", "b")
	kl.Add("s1", "c")

	snap := kl.Snapshot()

	restored := NewKeyLocation()
	restored.Restore(snap)

	if restored.Count("s0") != 2 || restored.Count("s1") != 1 {
		t.Fatalf("restore mismatch: s0=%d s1=%d", restored.Count("s0"), restored.Count("s1"))
	}
}

func TestKeyLocationMergeDoesNotClear(t *testing.T) {
	kl := NewKeyLocation()
	kl.Add("s0", "a")
	kl.Merge(map[string][]string{"s0": {"b"}})

	if kl.Count("s0") != 2 {
		t.Fatalf("expected merge to add alongside existing entries, got count %d", kl.Count("s0"))
	}
}
