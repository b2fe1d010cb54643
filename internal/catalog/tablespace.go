package catalog

import "sort"

// SysTablespace is a named set of per-node storage paths.
type SysTablespace struct {
	ID        int64
	Name      string
	OwnerID   int64
	locations map[int]string
}

func newTablespace(r TablespaceRecord) *SysTablespace {
	locs := make(map[int]string, len(r.Locations))
	for n, p := range r.Locations {
		locs[n] = p
	}
	return &SysTablespace{ID: r.ID, Name: r.Name, OwnerID: r.Owner, locations: locs}
}

// Location returns the path on node.
func (ts *SysTablespace) Location(node int) (string, bool) {
	p, ok := ts.locations[node]
	return p, ok
}

// Nodes returns the nodes the tablespace has a path on, sorted.
func (ts *SysTablespace) Nodes() []int {
	out := make([]int, 0, len(ts.locations))
	for n := range ts.locations {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
