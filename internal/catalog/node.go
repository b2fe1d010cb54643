package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	xerrors "github.com/xdbcore/xdb/internal/errors"
)

// Node is a backend endpoint holding node databases.
type Node struct {
	ID int

	startup *StartupLock
	up      bool // guarded by startup.mu
}

// IsUp reports whether the node's agent is connected.
func (n *Node) IsUp() bool {
	n.startup.mu.Lock()
	defer n.startup.mu.Unlock()
	return n.up
}

// DBNode is the part of a database stored on one node.
type DBNode struct {
	ID       int64
	Node     *Node
	Database *SysDatabase

	online bool // guarded by Node.startup.mu
}

// IsOnline reports whether the database is serving on the node.
func (d *DBNode) IsOnline() bool {
	d.Node.startup.mu.Lock()
	defer d.Node.startup.mu.Unlock()
	return d.online && d.Node.up
}

// StartupLock guards every node and database-node state transition in the
// process. Waiters are woken on each transition.
type StartupLock struct {
	mu      sync.Mutex
	changed chan struct{}
	nodes   map[int]*Node
	dbNodes map[int][]*DBNode
}

// NewStartupLock creates an empty startup lock.
func NewStartupLock() *StartupLock {
	return &StartupLock{
		changed: make(chan struct{}),
		nodes:   make(map[int]*Node),
		dbNodes: make(map[int][]*DBNode),
	}
}

func (s *StartupLock) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Register adds node id in the down state, or returns the existing node.
func (s *StartupLock) Register(id int) *Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[id]; ok {
		return n
	}
	n := &Node{ID: id, startup: s}
	s.nodes[id] = n
	return n
}

// Node returns node id.
func (s *StartupLock) Node(id int) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, xerrors.NewLookupError(xerrors.CodeNodeNotFound, "node %d is not registered", id)
	}
	return n, nil
}

// Nodes returns every registered node ordered by id.
func (s *StartupLock) Nodes() []*Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *StartupLock) attach(d *DBNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dbNodes[d.Node.ID] = append(s.dbNodes[d.Node.ID], d)
}

func (s *StartupLock) detach(db *SysDatabase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, list := range s.dbNodes {
		kept := list[:0]
		for _, d := range list {
			if d.Database != db {
				kept = append(kept, d)
			}
		}
		s.dbNodes[id] = kept
	}
}

// SetNodeUp records an agent connecting or disconnecting. Bringing a node
// up puts every database part on it online; taking it down takes them all
// offline together.
func (s *StartupLock) SetNodeUp(id int, up bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return xerrors.NewLookupError(xerrors.CodeNodeNotFound, "node %d is not registered", id)
	}
	n.up = up
	for _, d := range s.dbNodes[id] {
		d.online = up
	}
	s.broadcastLocked()
	return nil
}

// SetOnline changes the state of one database part.
func (s *StartupLock) SetOnline(d *DBNode, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.online = online
	s.broadcastLocked()
}

// WaitForNodes blocks until every listed node is up or ctx is done.
func (s *StartupLock) WaitForNodes(ctx context.Context, ids []int) error {
	for {
		s.mu.Lock()
		var missing []int
		for _, id := range ids {
			if n, ok := s.nodes[id]; !ok || !n.up {
				missing = append(missing, id)
			}
		}
		ch := s.changed
		s.mu.Unlock()

		if len(missing) == 0 {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return xerrors.NewLookupError(xerrors.CodeNodeNotFound,
				"nodes %v did not come up: %v", missing, ctx.Err())
		}
	}
}

// String renders the node for logs.
func (n *Node) String() string {
	return fmt.Sprintf("node%d", n.ID)
}
