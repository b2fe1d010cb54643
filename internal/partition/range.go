package partition

import (
	"fmt"
	"strconv"

	"github.com/google/btree"

	"github.com/xdbcore/xdb/pkg/types"
)

// RangeBound assigns values below High (exclusive) and at or above the
// previous bound to NodeID. A nil High is the unbounded last partition.
type RangeBound struct {
	High   *string
	NodeID int
}

type rangeItem struct {
	high    string
	num     int64
	bounded bool
	nodeID  int
}

// Range routes rows by ordered upper bounds kept in a btree. Bounds compare
// numerically when every bound parses as an integer, otherwise as strings.
type Range struct {
	tree    *btree.BTreeG[rangeItem]
	numeric bool
	nodes   []int
}

// NewRange creates a range map. Bounds may be given in any order but must
// be distinct, and at most one may be unbounded.
func NewRange(bounds []RangeBound) (*Range, error) {
	if len(bounds) == 0 {
		return nil, fmt.Errorf("partition: range map needs at least one bound")
	}

	numeric := true
	for _, b := range bounds {
		if b.High == nil {
			continue
		}
		if _, err := strconv.ParseInt(*b.High, 10, 64); err != nil {
			numeric = false
			break
		}
	}

	r := &Range{numeric: numeric}
	r.tree = btree.NewG[rangeItem](8, r.less)

	seen := make(map[int]bool)
	unbounded := 0
	for _, b := range bounds {
		item := rangeItem{nodeID: b.NodeID}
		if b.High == nil {
			unbounded++
		} else {
			item.bounded = true
			item.high = *b.High
			if numeric {
				item.num, _ = strconv.ParseInt(*b.High, 10, 64)
			}
		}
		if _, dup := r.tree.ReplaceOrInsert(item); dup {
			return nil, fmt.Errorf("partition: duplicate range bound %q", item.high)
		}
		if !seen[b.NodeID] {
			seen[b.NodeID] = true
			r.nodes = append(r.nodes, b.NodeID)
		}
	}
	if unbounded > 1 {
		return nil, fmt.Errorf("partition: only one range may be unbounded")
	}
	r.nodes = sortedCopy(r.nodes)
	return r, nil
}

func (r *Range) less(a, b rangeItem) bool {
	if a.bounded != b.bounded {
		return a.bounded
	}
	if !a.bounded {
		return false
	}
	if r.numeric {
		return a.num < b.num
	}
	return a.high < b.high
}

func (r *Range) Scheme() types.PartitionScheme { return types.PartitionRange }
func (r *Range) Nodes() []int                  { return sortedCopy(r.nodes) }

// NodesFor returns the node of the first range whose bound is above value.
// NULL sorts first.
func (r *Range) NodesFor(value interface{}) ([]int, error) {
	var found *rangeItem
	if value == nil {
		if item, ok := r.tree.Min(); ok {
			found = &item
		}
	} else {
		pivot := rangeItem{bounded: true}
		if r.numeric {
			n, err := toInt64(value)
			if err != nil {
				return nil, err
			}
			pivot.num = n
		} else {
			s, err := canonical(value)
			if err != nil {
				return nil, err
			}
			pivot.high = s
		}
		r.tree.AscendGreaterOrEqual(pivot, func(item rangeItem) bool {
			if !r.less(pivot, item) {
				return true // equal bound is exclusive
			}
			found = &item
			return false
		})
	}
	if found == nil {
		return nil, fmt.Errorf("partition: value %v is above every range bound", value)
	}
	return []int{found.nodeID}, nil
}

func (r *Range) InsertTarget(value interface{}) ([]int, error) {
	return r.NodesFor(value)
}

func (r *Range) Entries() []Entry {
	var entries []Entry
	r.tree.Ascend(func(item rangeItem) bool {
		e := Entry{NodeID: item.nodeID}
		if item.bounded {
			h := item.high
			e.RangeHigh = &h
		}
		entries = append(entries, e)
		return true
	})
	return entries
}
