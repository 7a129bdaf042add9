package causal

import "testing"

func TestLeqEmptyIsAlwaysSatisfied(t *testing.T) {
	var empty Clock
	replica := Clock{"r1": 5}
	if !empty.Leq(replica) {
		t.Fatal("empty clock must be Leq any clock")
	}
}

func TestLeqReflexive(t *testing.T) {
	c := Clock{"r1": 3, "r2": 1}
	if !c.Leq(c) {
		t.Fatal("Leq must be reflexive")
	}
}

func TestLeqMissingReplicaKey(t *testing.T) {
	client := Clock{"r1": 5}
	replica := Clock{"r2": 0}
	if client.Leq(replica) {
		t.Fatal("client depends on r1 which replica has never seen")
	}
}

func TestCompare(t *testing.T) {
	cases := []struct {
		name string
		a, b Clock
		want ClockRelation
	}{
		{"equal", Clock{"r1": 1}, Clock{"r1": 1}, Equal},
		{"after", Clock{"r1": 2}, Clock{"r1": 1}, After},
		{"before", Clock{"r1": 1}, Clock{"r1": 2}, Before},
		{"concurrent", Clock{"r1": 2}, Clock{"r2": 1}, ConcurrentClocks},
		{"empty-vs-empty", Clock{}, Clock{}, Equal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Compare(tc.b); got != tc.want {
				t.Errorf("Compare(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestMergeIntoIsUnionMax(t *testing.T) {
	a := Clock{"r1": 3, "r2": 1}
	b := Clock{"r2": 5, "r3": 2}
	merged := a.MergeInto(b)
	want := Clock{"r1": 3, "r2": 5, "r3": 2}
	if len(merged) != len(want) {
		t.Fatalf("merged = %v, want %v", merged, want)
	}
	for k, v := range want {
		if merged[k] != v {
			t.Errorf("merged[%s] = %d, want %d", k, merged[k], v)
		}
	}
}

func TestMergeAssociative(t *testing.T) {
	a := Clock{"r1": 1}
	b := Clock{"r2": 2}
	c := Clock{"r3": 3}

	left := a.MergeInto(b).MergeInto(c)
	right := a.MergeInto(b.MergeInto(c))

	if left.Compare(right) != Equal {
		t.Errorf("merge not associative: %v vs %v", left, right)
	}
}

func TestCopyIsIndependent(t *testing.T) {
	a := Clock{"r1": 1}
	b := a.Copy()
	b.Tick("r1")
	if a["r1"] == b["r1"] {
		t.Fatal("Copy must not alias the underlying map")
	}
}

func TestTick(t *testing.T) {
	c := New()
	c.Tick("r1")
	c.Tick("r1")
	if c["r1"] != 2 {
		t.Fatalf("got %d, want 2", c["r1"])
	}
}

func TestSeed(t *testing.T) {
	c := Seed([]string{"r1", "r2"})
	if c["r1"] != 0 || c["r2"] != 0 {
		t.Fatalf("seeded clock should be all-zero: %v", c)
	}
	if len(c) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(c))
	}
}
