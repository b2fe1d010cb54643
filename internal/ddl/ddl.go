// Package ddl implements the catalog changing statements. Each statement is
// a command whose Execute writes the metadata store inside the session's
// transaction and returns a Delta; the Delta is applied to the in-memory
// catalog only after the transaction has committed.
package ddl

import (
	"context"

	"go.uber.org/zap"

	"github.com/xdbcore/xdb/internal/catalog"
	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/internal/lock"
	"github.com/xdbcore/xdb/internal/logutil"
	"github.com/xdbcore/xdb/internal/metastore"
)

// Change is one DDL statement.
type Change interface {
	// Execute performs the persistent writes. It reads whatever the refresh
	// step will need through tx, because the refresh may not touch the store.
	Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error)
}

// Delta is the in-memory effect of an executed Change.
type Delta interface {
	// Apply mutates the catalog. It runs while the transaction token is
	// still held, right after the commit.
	Apply(md *catalog.MetaData) error

	// Changes describes what Apply changed, for notification.
	Changes() []catalog.Change
}

// aborter is implemented by deltas holding resources that must be returned
// when the commit fails.
type aborter interface {
	abort(md *catalog.MetaData)
}

// locker is implemented by changes that touch existing tables. The tables
// are write locked through the database scheduler for the whole statement.
type locker interface {
	lockTables(db *catalog.SysDatabase) []*catalog.SysTable
}

// Apply runs change in sess's transaction: begin, Execute, commit with the
// delta as refresher. A failed Execute rolls back and never refreshes.
func Apply(ctx context.Context, md *catalog.MetaData, sess *catalog.Session, change Change) error {
	ctx = sess.Context(ctx)
	store := md.Store()
	owner := sess.ID

	tx, err := store.BeginTransaction(ctx, owner)
	if err != nil {
		return err
	}
	delta, err := change.Execute(ctx, tx, sess)
	if err != nil {
		if rbErr := store.RollbackTransaction(owner); rbErr != nil {
			logutil.Logger(ctx).Warn("rollback after failed DDL", zap.Error(rbErr))
		}
		return err
	}
	if err := store.CommitTransaction(ctx, owner, func() error { return delta.Apply(md) }); err != nil {
		// only an uncommitted delta gives its resources back
		if xerrors.GetCategory(err) == xerrors.ErrCategoryPersistence {
			if a, ok := delta.(aborter); ok {
				a.abort(md)
			}
			return err
		}
		// committed but only partly applied
		if rsErr := md.Resync(ctx, owner); rsErr != nil {
			logutil.Logger(ctx).Error("catalog resync after failed refresh", zap.Error(rsErr))
		}
		md.Notify(delta.Changes()...)
		return err
	}
	md.Notify(delta.Changes()...)
	return nil
}

// Run applies change while holding write locks on the tables it touches.
// Changes that create or drop databases, logins or tablespaces take no
// table locks.
func Run(ctx context.Context, md *catalog.MetaData, sess *catalog.Session, change Change) error {
	l, ok := change.(locker)
	if !ok {
		return Apply(ctx, md, sess, change)
	}
	db := sess.Database()
	tables := l.lockTables(db)
	if len(tables) == 0 {
		return Apply(ctx, md, sess, change)
	}
	spec := catalog.NewLockSpec()
	for _, t := range tables {
		spec.AddWrite(t)
	}
	return db.Scheduler().Run(ctx, ddlLock{spec: spec}, func(ctx context.Context) error {
		return Apply(ctx, md, sess, change)
	})
}

type ddlLock struct {
	spec *catalog.LockSpec
}

func (l ddlLock) Cost() int64                                       { return lock.LowCost }
func (l ddlLock) LockSpecs() *lock.Specification[*catalog.SysTable] { return l.spec }
func (l ddlLock) NeedCoordinatorConnection() bool                   { return false }

// lookupTables resolves names in db, skipping those that do not exist; the
// command itself reports missing tables.
func lookupTables(db *catalog.SysDatabase, names ...string) []*catalog.SysTable {
	var out []*catalog.SysTable
	for _, n := range names {
		if n == "" {
			continue
		}
		if t, err := db.Table(n); err == nil {
			out = append(out, t)
		}
	}
	return out
}
