package app

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xdbcore/xdb/internal/catalog"
	"github.com/xdbcore/xdb/internal/config"
	"github.com/xdbcore/xdb/internal/engine"
	"github.com/xdbcore/xdb/internal/logutil"
	"github.com/xdbcore/xdb/internal/nodeexec"
	"github.com/xdbcore/xdb/internal/notify"
	"github.com/xdbcore/xdb/pkg/types"
)

// engineSet opens one nodeexec engine per database on first use. All
// engines share one connection pool.
type engineSet struct {
	cfg  *config.Config
	pool *nodeexec.ConnectionPool
	open func(ctx context.Context, infos []types.NodeDBConnectionInfo) (*nodeexec.Engine, error)

	mu      sync.Mutex
	engines map[string]*nodeexec.Engine
	closed  bool
}

func newEngineSet(cfg *config.Config, pool *nodeexec.ConnectionPool) *engineSet {
	s := &engineSet{cfg: cfg, pool: pool, engines: make(map[string]*nodeexec.Engine)}
	s.open = func(ctx context.Context, infos []types.NodeDBConnectionInfo) (*nodeexec.Engine, error) {
		return nodeexec.Open(ctx, s.pool, infos)
	}
	return s
}

func (s *engineSet) lookup(name string) (e *nodeexec.Engine, ok, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok = s.engines[name]
	return e, ok, s.closed
}

// For returns the engine of db. It matches catalog.EngineResolver. Engines
// are opened outside the lock; when two callers race, the first stored
// engine wins and the other is closed.
func (s *engineSet) For(ctx context.Context, db *catalog.SysDatabase) (engine.Engine, error) {
	if e, ok, closed := s.lookup(db.Name()); closed {
		return nil, nil
	} else if ok {
		return e, nil
	}

	infos := make([]types.NodeDBConnectionInfo, 0, len(db.NodeIDs()))
	for _, id := range db.NodeIDs() {
		info, err := s.cfg.NodeConnectionInfo(id, db.Name())
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	opened, err := s.open(ctx, infos)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, opened.Close()
	}
	if e, ok := s.engines[db.Name()]; ok {
		s.mu.Unlock()
		if err := opened.Close(); err != nil {
			logutil.Logger(ctx).Warn("failed to close duplicate engine", zap.String("database", db.Name()), zap.Error(err))
		}
		return e, nil
	}
	s.engines[db.Name()] = opened
	s.mu.Unlock()
	logutil.Logger(ctx).Debug("engine opened", zap.String("database", db.Name()), zap.Ints("nodes", db.NodeIDs()))
	return opened, nil
}

// Drop closes the engine of a dropped database.
func (s *engineSet) Drop(name string) error {
	s.mu.Lock()
	e, ok := s.engines[name]
	delete(s.engines, name)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return e.Close()
}

// Close closes every engine. Later lookups return no engine.
func (s *engineSet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	var err error
	for name, e := range s.engines {
		err = multierr.Append(err, e.Close())
		delete(s.engines, name)
	}
	return err
}

// follow closes engines of databases as they are dropped, until ch closes.
func (s *engineSet) follow(ch <-chan notify.Notification) {
	for n := range ch {
		if n.Kind != catalog.KindDatabase || n.Action != catalog.ActionDrop {
			continue
		}
		if err := s.Drop(n.Object); err != nil {
			logutil.BgLogger().Warn("failed to close engine of dropped database",
				zap.String("database", n.Object), zap.Error(err))
		}
	}
}
