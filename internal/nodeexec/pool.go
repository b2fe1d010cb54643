// Package nodeexec runs statements against node databases. It provides a
// local implementation of engine.Engine over SQLite and MySQL nodes.
package nodeexec

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"

	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/pkg/types"
)

// ConnectionPool shares one *sql.DB per node database across engines.
type ConnectionPool struct {
	mu sync.RWMutex

	// connections maps connection keys to their entries
	connections map[string]*connectionEntry

	// maxTotalConnections is the maximum number of node databases held open
	maxTotalConnections int

	// idleTimeout is how long an unreferenced database stays open
	idleTimeout time.Duration

	closed bool
	stop   chan struct{}
	done   chan struct{}
}

type connectionEntry struct {
	db       *sql.DB
	key      string
	refCount int
	lastUsed time.Time
}

// PoolConfig holds configuration for the connection pool.
type PoolConfig struct {
	// MaxTotalConnections is the maximum open node databases (default: 100)
	MaxTotalConnections int

	// IdleTimeout is how long an unused database stays open (default: 5 minutes)
	IdleTimeout time.Duration

	// CleanupInterval is how often idle databases are closed (default: 1 minute)
	CleanupInterval time.Duration
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxTotalConnections: 100,
		IdleTimeout:         5 * time.Minute,
		CleanupInterval:     time.Minute,
	}
}

// NewConnectionPool creates a new connection pool and starts its cleanup loop.
func NewConnectionPool(config PoolConfig) *ConnectionPool {
	if config.MaxTotalConnections <= 0 {
		config.MaxTotalConnections = 100
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 5 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}

	pool := &ConnectionPool{
		connections:         make(map[string]*connectionEntry),
		maxTotalConnections: config.MaxTotalConnections,
		idleTimeout:         config.IdleTimeout,
		stop:                make(chan struct{}),
		done:                make(chan struct{}),
	}
	go pool.cleanupLoop(config.CleanupInterval)
	return pool
}

// ConnectionKey identifies a node database in the pool.
func ConnectionKey(info types.NodeDBConnectionInfo) string {
	return fmt.Sprintf("%d/%s", info.NodeID, info.DBName)
}

// Get retrieves or opens the database for info.
// The caller must call Release when done with it.
func (p *ConnectionPool) Get(ctx context.Context, info types.NodeDBConnectionInfo) (*sql.DB, error) {
	key := ConnectionKey(info)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("pool: connection pool is closed")
	}

	if entry, ok := p.connections[key]; ok {
		entry.refCount++
		entry.lastUsed = time.Now()
		return entry.db, nil
	}

	if len(p.connections) >= p.maxTotalConnections {
		if !p.evictIdleConnection() {
			return nil, fmt.Errorf("pool: maximum connections reached (%d)", p.maxTotalConnections)
		}
	}

	db, err := openNode(ctx, info)
	if err != nil {
		return nil, err
	}

	p.connections[key] = &connectionEntry{
		db:       db,
		key:      key,
		refCount: 1,
		lastUsed: time.Now(),
	}
	return db, nil
}

// Release decrements the reference count for a database.
func (p *ConnectionPool) Release(info types.NodeDBConnectionInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.connections[ConnectionKey(info)]; ok && entry.refCount > 0 {
		entry.refCount--
		entry.lastUsed = time.Now()
	}
}

// DSN builds the driver data source name for info.
func DSN(info types.NodeDBConnectionInfo) (string, error) {
	switch info.Driver {
	case "", "sqlite3":
		dir := info.Properties["dir"]
		if dir == "" {
			return "", xerrors.NewConfigError(xerrors.CodeMissingProperty,
				fmt.Sprintf("node %d: sqlite node needs a dir property", info.NodeID))
		}
		return SQLitePath(info) + "?_journal_mode=WAL&_busy_timeout=5000", nil
	case "mysql":
		cfg := mysql.NewConfig()
		cfg.User = info.User
		cfg.Passwd = info.Password
		cfg.Net = "tcp"
		cfg.Addr = info.Address()
		cfg.DBName = info.DBName
		cfg.ParseTime = true
		if len(info.Properties) > 0 {
			cfg.Params = make(map[string]string, len(info.Properties))
			for k, v := range info.Properties {
				cfg.Params[k] = v
			}
		}
		return cfg.FormatDSN(), nil
	default:
		return "", xerrors.NewConfigError(xerrors.CodeInvalidProperty,
			fmt.Sprintf("node %d: unsupported driver %q", info.NodeID, info.Driver))
	}
}

// SQLitePath returns the database file of a sqlite node.
func SQLitePath(info types.NodeDBConnectionInfo) string {
	return filepath.Join(info.Properties["dir"], info.DBName+".db")
}

func driverName(info types.NodeDBConnectionInfo) string {
	if info.Driver == "" {
		return "sqlite3"
	}
	return info.Driver
}

func openNode(ctx context.Context, info types.NodeDBConnectionInfo) (*sql.DB, error) {
	dsn, err := DSN(info)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName(info), dsn)
	if err != nil {
		return nil, xerrors.NewPersistenceError(xerrors.CodeConnectionFailed,
			fmt.Sprintf("pool: failed to open node %d", info.NodeID), err)
	}
	if driverName(info) == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.NewPersistenceError(xerrors.CodeConnectionFailed,
			fmt.Sprintf("pool: failed to ping node %d", info.NodeID), err)
	}
	return db, nil
}

// evictIdleConnection evicts the least recently used idle database.
// Must be called with lock held. Returns true if one was evicted.
func (p *ConnectionPool) evictIdleConnection() bool {
	var oldest *connectionEntry
	for _, entry := range p.connections {
		if entry.refCount == 0 && (oldest == nil || entry.lastUsed.Before(oldest.lastUsed)) {
			oldest = entry
		}
	}
	if oldest == nil {
		return false
	}
	oldest.db.Close()
	delete(p.connections, oldest.key)
	return true
}

func (p *ConnectionPool) cleanupLoop(interval time.Duration) {
	defer close(p.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			p.cleanupIdleConnections()
			p.mu.Unlock()
		}
	}
}

// cleanupIdleConnections closes databases that have been idle too long.
// Must be called with lock held.
func (p *ConnectionPool) cleanupIdleConnections() {
	now := time.Now()
	for key, entry := range p.connections {
		if entry.refCount == 0 && now.Sub(entry.lastUsed) > p.idleTimeout {
			entry.db.Close()
			delete(p.connections, key)
		}
	}
}

// Close closes every database and stops the cleanup loop.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	var err error
	for key, entry := range p.connections {
		err = multierr.Append(err, entry.db.Close())
		delete(p.connections, key)
	}
	p.mu.Unlock()

	close(p.stop)
	<-p.done
	return err
}

// PoolStats describes the pool.
type PoolStats struct {
	TotalConnections  int
	ActiveConnections int
	IdleConnections   int
}

// Stats returns current pool statistics.
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{TotalConnections: len(p.connections)}
	for _, entry := range p.connections {
		if entry.refCount > 0 {
			stats.ActiveConnections++
		} else {
			stats.IdleConnections++
		}
	}
	return stats
}
