// Package observability provides lock contention tracking and the process metrics.
package observability

import (
	"sort"
	"sync"
	"time"
)

// LockStats tracks how often and how long statements waited for table locks.
type LockStats struct {
	mu     sync.RWMutex
	tables map[string]*TableContention
	window time.Duration
}

// TableContention holds contention statistics for one table.
type TableContention struct {
	Table     string
	Waits     int64
	TotalWait time.Duration
	MaxWait   time.Duration
	LastSeen  time.Time
	Modes     map[string]int // lock mode → waits (e.g., "write" → 3)
}

// NewLockStats creates a new lock contention tracker.
// window: time duration for pruning old entries (e.g., 1 hour)
func NewLockStats(window time.Duration) *LockStats {
	return &LockStats{
		tables: make(map[string]*TableContention),
		window: window,
	}
}

// RecordWait records that a statement waited `wait` to lock table in mode.
// Zero waits are not contention and are ignored.
func (l *LockStats) RecordWait(table, mode string, wait time.Duration) {
	if wait <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stats, exists := l.tables[table]
	if !exists {
		stats = &TableContention{
			Table: table,
			Modes: make(map[string]int),
		}
		l.tables[table] = stats
	}

	stats.Waits++
	stats.TotalWait += wait
	if wait > stats.MaxWait {
		stats.MaxWait = wait
	}
	stats.LastSeen = time.Now()
	stats.Modes[mode]++
}

// GetTopContended returns the top N tables by total wait time.
// Returns copies sorted by total wait (descending).
func (l *LockStats) GetTopContended(n int) []TableContention {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || len(l.tables) == 0 {
		return []TableContention{}
	}

	stats := make([]TableContention, 0, len(l.tables))
	for _, s := range l.tables {
		cp := *s
		cp.Modes = make(map[string]int, len(s.Modes))
		for mode, count := range s.Modes {
			cp.Modes[mode] = count
		}
		stats = append(stats, cp)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].TotalWait != stats[j].TotalWait {
			return stats[i].TotalWait > stats[j].TotalWait
		}
		return stats[i].Table < stats[j].Table
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Forget drops the entry for a table, e.g. after it is dropped.
func (l *LockStats) Forget(table string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tables, table)
}

// Prune removes entries where time.Since(LastSeen) > window.
func (l *LockStats) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := time.Now().Add(-l.window)
	for table, stats := range l.tables {
		if stats.LastSeen.Before(threshold) {
			delete(l.tables, table)
		}
	}
}
