// Package partition maps partition column values to the nodes holding them.
package partition

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/xdbcore/xdb/pkg/types"
)

// Entry is one persisted partition map row (xsystabparts).
type Entry struct {
	NodeID int
	// Bucket is set for hash maps.
	Bucket *int
	// RangeHigh is the exclusive upper bound for range maps; nil is unbounded.
	RangeHigh *string
}

// Map routes rows of one table to nodes.
type Map interface {
	// Scheme returns the partition scheme of the map.
	Scheme() types.PartitionScheme

	// Nodes returns every node holding rows of the table, sorted.
	Nodes() []int

	// NodesFor returns the nodes that may hold rows whose partition column
	// equals value. A nil value is the SQL NULL.
	NodesFor(value interface{}) ([]int, error)

	// InsertTarget returns the nodes a new row with value must be written to.
	InsertTarget(value interface{}) ([]int, error)

	// Entries returns the rows to persist for this map.
	Entries() []Entry
}

func sortedCopy(nodes []int) []int {
	out := append([]int(nil), nodes...)
	sort.Ints(out)
	return out
}

func checkNodes(nodes []int) error {
	if len(nodes) == 0 {
		return fmt.Errorf("partition: at least one node is required")
	}
	seen := make(map[int]bool, len(nodes))
	for _, n := range nodes {
		if seen[n] {
			return fmt.Errorf("partition: node %d listed twice", n)
		}
		seen[n] = true
	}
	return nil
}

// OneNode keeps every row on a single node.
type OneNode struct {
	node int
}

// NewOneNode creates a single-node map.
func NewOneNode(node int) *OneNode {
	return &OneNode{node: node}
}

func (m *OneNode) Scheme() types.PartitionScheme { return types.PartitionOneNode }
func (m *OneNode) Nodes() []int                  { return []int{m.node} }

func (m *OneNode) NodesFor(interface{}) ([]int, error) {
	return []int{m.node}, nil
}

func (m *OneNode) InsertTarget(interface{}) ([]int, error) {
	return []int{m.node}, nil
}

func (m *OneNode) Entries() []Entry {
	return []Entry{{NodeID: m.node}}
}

// Replicated keeps a full copy on every node.
type Replicated struct {
	nodes []int
}

// NewReplicated creates a replicated map.
func NewReplicated(nodes []int) (*Replicated, error) {
	if err := checkNodes(nodes); err != nil {
		return nil, err
	}
	return &Replicated{nodes: sortedCopy(nodes)}, nil
}

func (m *Replicated) Scheme() types.PartitionScheme { return types.PartitionReplicated }
func (m *Replicated) Nodes() []int                  { return sortedCopy(m.nodes) }

// NodesFor returns every node; any one of them can answer a read.
func (m *Replicated) NodesFor(interface{}) ([]int, error) {
	return sortedCopy(m.nodes), nil
}

func (m *Replicated) InsertTarget(interface{}) ([]int, error) {
	return sortedCopy(m.nodes), nil
}

func (m *Replicated) Entries() []Entry {
	entries := make([]Entry, len(m.nodes))
	for i, n := range m.nodes {
		entries[i] = Entry{NodeID: n}
	}
	return entries
}

// RoundRobin spreads inserts across nodes in turn. Rows cannot be located
// by value, so lookups touch every node.
type RoundRobin struct {
	nodes []int
	next  atomic.Uint64
}

// NewRoundRobin creates a round robin map.
func NewRoundRobin(nodes []int) (*RoundRobin, error) {
	if err := checkNodes(nodes); err != nil {
		return nil, err
	}
	return &RoundRobin{nodes: sortedCopy(nodes)}, nil
}

func (m *RoundRobin) Scheme() types.PartitionScheme { return types.PartitionRoundRobin }
func (m *RoundRobin) Nodes() []int                  { return sortedCopy(m.nodes) }

func (m *RoundRobin) NodesFor(interface{}) ([]int, error) {
	return sortedCopy(m.nodes), nil
}

func (m *RoundRobin) InsertTarget(interface{}) ([]int, error) {
	i := m.next.Add(1) - 1
	return []int{m.nodes[i%uint64(len(m.nodes))]}, nil
}

func (m *RoundRobin) Entries() []Entry {
	entries := make([]Entry, len(m.nodes))
	for i, n := range m.nodes {
		entries[i] = Entry{NodeID: n}
	}
	return entries
}

// FromEntries rebuilds a map from persisted rows.
func FromEntries(scheme types.PartitionScheme, entries []Entry) (Map, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("partition: no entries for %s map", scheme)
	}
	nodes := func() []int {
		seen := make(map[int]bool)
		var out []int
		for _, e := range entries {
			if !seen[e.NodeID] {
				seen[e.NodeID] = true
				out = append(out, e.NodeID)
			}
		}
		return out
	}

	switch scheme {
	case types.PartitionOneNode:
		return NewOneNode(entries[0].NodeID), nil
	case types.PartitionReplicated:
		return NewReplicated(nodes())
	case types.PartitionRoundRobin:
		return NewRoundRobin(nodes())
	case types.PartitionHash:
		assign := make([]int, len(entries))
		for _, e := range entries {
			if e.Bucket == nil || *e.Bucket < 0 || *e.Bucket >= len(entries) {
				return nil, fmt.Errorf("partition: hash entry for node %d has bad bucket", e.NodeID)
			}
			assign[*e.Bucket] = e.NodeID
		}
		return newHashFromAssignment(assign), nil
	case types.PartitionRange:
		bounds := make([]RangeBound, len(entries))
		for i, e := range entries {
			bounds[i] = RangeBound{High: e.RangeHigh, NodeID: e.NodeID}
		}
		return NewRange(bounds)
	default:
		return nil, fmt.Errorf("partition: scheme %s has no map", scheme)
	}
}
