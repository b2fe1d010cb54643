// Package lock serializes statements that touch the same tables while
// letting unrelated statements run side by side.
package lock

// Mode is the lock mode a statement needs on one table.
type Mode int

const (
	// Read allows other readers.
	Read Mode = iota + 1
	// Write excludes every other lock.
	Write
)

func (m Mode) String() string {
	switch m {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "none"
	}
}

// Specification is the full set of tables a statement will read and write,
// declared before any lock is taken.
type Specification[T comparable] struct {
	modes map[T]Mode
	order []T
}

// NewSpecification returns an empty specification.
func NewSpecification[T comparable]() *Specification[T] {
	return &Specification[T]{modes: make(map[T]Mode)}
}

func (s *Specification[T]) add(t T, m Mode) {
	if cur, ok := s.modes[t]; ok {
		if m > cur {
			s.modes[t] = m
		}
		return
	}
	s.modes[t] = m
	s.order = append(s.order, t)
}

// AddRead declares a read of t.
func (s *Specification[T]) AddRead(t T) *Specification[T] {
	s.add(t, Read)
	return s
}

// AddWrite declares a write of t. A write supersedes a read of the same table.
func (s *Specification[T]) AddWrite(t T) *Specification[T] {
	s.add(t, Write)
	return s
}

// Merge adds every lock of o.
func (s *Specification[T]) Merge(o *Specification[T]) *Specification[T] {
	if o == nil {
		return s
	}
	for _, t := range o.order {
		s.add(t, o.modes[t])
	}
	return s
}

// Mode returns the mode declared for t.
func (s *Specification[T]) Mode(t T) (Mode, bool) {
	m, ok := s.modes[t]
	return m, ok
}

// Tables returns the declared tables in declaration order.
func (s *Specification[T]) Tables() []T {
	return append([]T(nil), s.order...)
}

// Reads returns the tables declared for read only.
func (s *Specification[T]) Reads() []T {
	return s.filter(Read)
}

// Writes returns the tables declared for write.
func (s *Specification[T]) Writes() []T {
	return s.filter(Write)
}

func (s *Specification[T]) filter(m Mode) []T {
	var out []T
	for _, t := range s.order {
		if s.modes[t] == m {
			out = append(out, t)
		}
	}
	return out
}

// Empty reports whether nothing is declared.
func (s *Specification[T]) Empty() bool {
	return s == nil || len(s.order) == 0
}

// ConflictsWith reports whether s and o cannot hold their locks at the same
// time: they share a table and at least one of them writes it.
func (s *Specification[T]) ConflictsWith(o *Specification[T]) bool {
	if s.Empty() || o.Empty() {
		return false
	}
	small, large := s, o
	if len(large.order) < len(small.order) {
		small, large = large, small
	}
	for _, t := range small.order {
		if m, ok := large.modes[t]; ok && (m == Write || small.modes[t] == Write) {
			return true
		}
	}
	return false
}

// LowCost is the cost of negligible work, e.g. a check with no constraints.
const LowCost int64 = 1

// Lockable is a unit of work the scheduler can admit.
type Lockable[T comparable] interface {
	// Cost estimates the work; larger is more expensive.
	Cost() int64

	// LockSpecs declares every table the work reads or writes.
	LockSpecs() *Specification[T]

	// NeedCoordinatorConnection reports whether the work needs the
	// coordinator's own connection reserved.
	NeedCoordinatorConnection() bool
}
