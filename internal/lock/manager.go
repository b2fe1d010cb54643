package lock

import "sync"

type tableLock struct {
	readers int
	writer  bool
}

// Manager holds the table locks of one database.
type Manager[T comparable] struct {
	mu     sync.Mutex
	tables map[T]*tableLock
}

// NewManager creates an empty lock manager.
func NewManager[T comparable]() *Manager[T] {
	return &Manager[T]{tables: make(map[T]*tableLock)}
}

func (m *Manager[T]) canGrant(spec *Specification[T]) bool {
	for _, t := range spec.order {
		l, ok := m.tables[t]
		if !ok {
			continue
		}
		if l.writer {
			return false
		}
		if spec.modes[t] == Write && l.readers > 0 {
			return false
		}
	}
	return true
}

// TryAcquire takes every lock of spec, or none of them.
func (m *Manager[T]) TryAcquire(spec *Specification[T]) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if spec.Empty() {
		return true
	}
	if !m.canGrant(spec) {
		return false
	}
	for _, t := range spec.order {
		l, ok := m.tables[t]
		if !ok {
			l = &tableLock{}
			m.tables[t] = l
		}
		if spec.modes[t] == Write {
			l.writer = true
		} else {
			l.readers++
		}
	}
	return true
}

// Release gives back every lock of spec.
func (m *Manager[T]) Release(spec *Specification[T]) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if spec.Empty() {
		return
	}
	for _, t := range spec.order {
		l, ok := m.tables[t]
		if !ok {
			continue
		}
		if spec.modes[t] == Write {
			l.writer = false
		} else if l.readers > 0 {
			l.readers--
		}
		if !l.writer && l.readers == 0 {
			delete(m.tables, t)
		}
	}
}

// Held returns the mode t is currently locked in.
func (m *Manager[T]) Held(t T) (mode Mode, readers int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.tables[t]
	if !ok {
		return 0, 0
	}
	if l.writer {
		return Write, 0
	}
	return Read, l.readers
}

// Forget drops the entry of a table that no longer exists. It reports false
// when the table is still locked.
func (m *Manager[T]) Forget(t T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.tables[t]; ok && (l.writer || l.readers > 0) {
		return false
	}
	delete(m.tables, t)
	return true
}

// Len returns the number of locked tables.
func (m *Manager[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables)
}
