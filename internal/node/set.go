package node

import (
	"errors"
	"sync"
)

var (
	// ErrDuplicate is returned when adding a node that is already a member.
	ErrDuplicate = errors.New("node already in set")
	// ErrNotMember is returned when removing a node that is not a member.
	ErrNotMember = errors.New("node not in set")
)

// Set is the synchronized membership of all live nodes.
//
// Membership changes apply immediately. Iteration order is insertion order;
// removal swaps the last member into the freed slot, so order after a
// removal is not insertion order.
type Set struct {
	mu    sync.RWMutex
	nodes []*Node
	index map[*Node]int
}

// NewSet creates a set holding nodes. Duplicates are ignored.
func NewSet(nodes ...*Node) *Set {
	s := &Set{
		nodes: make([]*Node, 0, len(nodes)),
		index: make(map[*Node]int, len(nodes)),
	}
	for _, n := range nodes {
		_ = s.add(n)
	}
	return s
}

// Add inserts n.
func (s *Set) Add(n *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(n)
}

func (s *Set) add(n *Node) error {
	if _, ok := s.index[n]; ok {
		return ErrDuplicate
	}
	s.index[n] = len(s.nodes)
	s.nodes = append(s.nodes, n)
	return nil
}

// Remove deletes n.
func (s *Set) Remove(n *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[n]
	if !ok {
		return ErrNotMember
	}
	last := len(s.nodes) - 1
	if i != last {
		moved := s.nodes[last]
		s.nodes[i] = moved
		s.index[moved] = i
	}
	s.nodes[last] = nil
	s.nodes = s.nodes[:last]
	delete(s.index, n)
	return nil
}

// Contains reports whether n is a member.
func (s *Set) Contains(n *Node) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[n]
	return ok
}

// Len returns the number of members.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Snapshot returns a fresh slice of the current members. The caller owns
// the slice.
func (s *Set) Snapshot() []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Node, len(s.nodes))
	copy(out, s.nodes)
	return out
}
