package partition

import (
	"fmt"

	"github.com/spaolacci/murmur3"

	"github.com/xdbcore/xdb/pkg/types"
)

// DefaultHashBuckets is the bucket count of new hash maps.
const DefaultHashBuckets = 64

// Hash routes rows by murmur3 of the partition value into a fixed number of
// buckets, each owned by one node. Buckets let a node be added by moving
// buckets instead of rehashing every row.
type Hash struct {
	buckets []int // bucket → node
	nodes   []int
}

// NewHash creates a hash map spreading buckets over nodes in turn.
func NewHash(nodes []int, buckets int) (*Hash, error) {
	if err := checkNodes(nodes); err != nil {
		return nil, err
	}
	if buckets <= 0 {
		return nil, fmt.Errorf("partition: bucket count must be > 0, got %d", buckets)
	}
	sorted := sortedCopy(nodes)
	assign := make([]int, buckets)
	for i := range assign {
		assign[i] = sorted[i%len(sorted)]
	}
	return newHashFromAssignment(assign), nil
}

func newHashFromAssignment(assign []int) *Hash {
	seen := make(map[int]bool)
	var nodes []int
	for _, n := range assign {
		if !seen[n] {
			seen[n] = true
			nodes = append(nodes, n)
		}
	}
	return &Hash{buckets: assign, nodes: sortedCopy(nodes)}
}

func (m *Hash) Scheme() types.PartitionScheme { return types.PartitionHash }
func (m *Hash) Nodes() []int                  { return sortedCopy(m.nodes) }

// BucketCount returns the number of buckets.
func (m *Hash) BucketCount() int {
	return len(m.buckets)
}

// Bucket returns the bucket of value.
func (m *Hash) Bucket(value interface{}) (int, error) {
	if value == nil {
		return 0, nil
	}
	key, err := canonical(value)
	if err != nil {
		return 0, err
	}
	return int(murmur3.Sum32([]byte(key)) % uint32(len(m.buckets))), nil
}

func (m *Hash) NodesFor(value interface{}) ([]int, error) {
	b, err := m.Bucket(value)
	if err != nil {
		return nil, err
	}
	return []int{m.buckets[b]}, nil
}

func (m *Hash) InsertTarget(value interface{}) ([]int, error) {
	return m.NodesFor(value)
}

func (m *Hash) Entries() []Entry {
	entries := make([]Entry, len(m.buckets))
	for i, n := range m.buckets {
		b := i
		entries[i] = Entry{NodeID: n, Bucket: &b}
	}
	return entries
}
