package partition

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/xdbcore/xdb/pkg/types"
)

func strp(s string) *string { return &s }

func TestOneNodeAndReplicated(t *testing.T) {
	one := NewOneNode(3)
	nodes, err := one.InsertTarget(42)
	if err != nil || len(nodes) != 1 || nodes[0] != 3 {
		t.Errorf("one node insert target = %v, %v", nodes, err)
	}

	rep, err := NewReplicated([]int{3, 1, 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nodes, _ = rep.InsertTarget("x")
	if len(nodes) != 3 || nodes[0] != 1 || nodes[2] != 3 {
		t.Errorf("replicated insert must hit every node, got %v", nodes)
	}

	if _, err := NewReplicated(nil); err == nil {
		t.Error("expected error for empty node list")
	}
	if _, err := NewReplicated([]int{1, 1}); err == nil {
		t.Error("expected error for duplicate node")
	}
}

func TestRoundRobinCycles(t *testing.T) {
	rr, err := NewRoundRobin([]int{2, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []int
	for i := 0; i < 4; i++ {
		n, _ := rr.InsertTarget(nil)
		got = append(got, n[0])
	}
	want := []int{1, 2, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("round robin order = %v, want %v", got, want)
		}
	}
	all, _ := rr.NodesFor(5)
	if len(all) != 2 {
		t.Errorf("round robin lookups must touch every node, got %v", all)
	}
}

func TestHashIsStableAcrossTypes(t *testing.T) {
	h, err := NewHash([]int{1, 2, 3}, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, _ := h.NodesFor(int64(12345))
	b, _ := h.NodesFor(int32(12345))
	c, _ := h.NodesFor("12345")
	if a[0] != b[0] || a[0] != c[0] {
		t.Errorf("equal values routed differently: %v %v %v", a, b, c)
	}

	if _, err := h.NodesFor(struct{}{}); err == nil {
		t.Error("expected error for unsupported type")
	}
	if _, err := NewHash([]int{1}, 0); err == nil {
		t.Error("expected error for zero buckets")
	}
}

func TestHashEntriesRoundTrip(t *testing.T) {
	h, err := NewHash([]int{1, 2}, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, err := FromEntries(types.PartitionHash, h.Entries())
	if err != nil {
		t.Fatalf("FromEntries failed: %v", err)
	}
	for v := 0; v < 100; v++ {
		x, _ := h.NodesFor(v)
		y, _ := m.NodesFor(v)
		if x[0] != y[0] {
			t.Fatalf("value %d routed to %d before and %d after reload", v, x[0], y[0])
		}
	}
}

func TestRangeRouting(t *testing.T) {
	r, err := NewRange([]RangeBound{
		{High: strp("200"), NodeID: 2},
		{High: nil, NodeID: 3},
		{High: strp("100"), NodeID: 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		value interface{}
		node  int
	}{
		{int64(-5), 1},
		{99, 1},
		{100, 2}, // bounds are exclusive
		{"150", 2},
		{200, 3},
		{int64(1 << 40), 3},
		{nil, 1},
	}
	for _, tt := range tests {
		nodes, err := r.NodesFor(tt.value)
		if err != nil {
			t.Errorf("NodesFor(%v) failed: %v", tt.value, err)
			continue
		}
		if nodes[0] != tt.node {
			t.Errorf("NodesFor(%v) = %d, want %d", tt.value, nodes[0], tt.node)
		}
	}

	entries := r.Entries()
	if len(entries) != 3 || *entries[0].RangeHigh != "100" || entries[2].RangeHigh != nil {
		t.Errorf("entries not ordered by bound: %+v", entries)
	}
}

func TestRangeBoundedOnly(t *testing.T) {
	r, err := NewRange([]RangeBound{{High: strp("m"), NodeID: 1}, {High: strp("t"), NodeID: 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nodes, err := r.NodesFor("alpha")
	if err != nil || nodes[0] != 1 {
		t.Errorf("alpha -> %v, %v", nodes, err)
	}
	nodes, err = r.NodesFor("p")
	if err != nil || nodes[0] != 2 {
		t.Errorf("p -> %v, %v", nodes, err)
	}
	if _, err := r.NodesFor("zulu"); err == nil {
		t.Error("expected error above last bound")
	}
	if _, err := NewRange([]RangeBound{{High: strp("a"), NodeID: 1}, {High: strp("a"), NodeID: 2}}); err == nil {
		t.Error("expected error for duplicate bound")
	}
}

func TestFromEntriesErrors(t *testing.T) {
	if _, err := FromEntries(types.PartitionHash, nil); err == nil {
		t.Error("expected error for empty entries")
	}
	if _, err := FromEntries(types.PartitionHash, []Entry{{NodeID: 1}}); err == nil {
		t.Error("expected error for hash entry without bucket")
	}
	if _, err := FromEntries(types.PartitionInherit, []Entry{{NodeID: 1}}); err == nil {
		t.Error("expected error for inherit scheme")
	}
}

// TestProperty_HashCoversOnlyItsNodes checks that a hash map never routes a
// value to a node it was not built with.
func TestProperty_HashCoversOnlyItsNodes(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("hash routes into its node set", prop.ForAll(
		func(value int64, nodeCount int, buckets int) bool {
			nodes := make([]int, nodeCount)
			for i := range nodes {
				nodes[i] = i + 1
			}
			h, err := NewHash(nodes, buckets)
			if err != nil {
				return false
			}
			got, err := h.NodesFor(value)
			return err == nil && len(got) == 1 && got[0] >= 1 && got[0] <= nodeCount
		},
		gen.Int64(),
		gen.IntRange(1, 8),
		gen.IntRange(1, 128),
	))

	properties.TestingRun(t)
}
