package catalog

import (
	"sort"
	"sync/atomic"
)

// Balancer spreads reads of replicated tables across the database's
// online nodes in turn.
type Balancer struct {
	db   *SysDatabase
	next atomic.Uint64
}

// Pick returns the next online node among candidates, or the next
// candidate when none is online. It returns -1 for no candidates.
func (b *Balancer) Pick(candidates []int) int {
	if len(candidates) == 0 {
		return -1
	}
	nodes := append([]int(nil), candidates...)
	sort.Ints(nodes)

	online := nodes[:0:0]
	for _, n := range nodes {
		if d := b.db.DBNode(n); d != nil && d.IsOnline() {
			online = append(online, n)
		}
	}
	if len(online) > 0 {
		nodes = online
	}
	i := b.next.Add(1) - 1
	return nodes[i%uint64(len(nodes))]
}
