package constraint

import (
	"context"

	"github.com/xdbcore/xdb/internal/catalog"
	"github.com/xdbcore/xdb/internal/engine"
	"github.com/xdbcore/xdb/internal/lock"
)

// Set runs several checkers as one unit of work.
type Set []Checker

var _ Checker = Set(nil)

// ForInsert returns the checkers for an insert of columns into t and the
// extra columns they need.
func ForInsert(t *catalog.SysTable, rows Rows, columns []string) (Set, []string) {
	return scanAll(columns, NewInsertPrimaryKey(t, rows), NewInsertForeignKey(t, rows))
}

// ForUpdate returns the checkers for an update of columns of t and the
// extra columns they need.
func ForUpdate(t *catalog.SysTable, rows Rows, columns []string) (Set, []string) {
	return scanAll(columns, NewUpdatePrimaryKey(t, rows), NewUpdateForeignKey(t, rows))
}

// ForDelete returns the checkers for a delete from t and the columns they
// need.
func ForDelete(t *catalog.SysTable, rows Rows) (Set, []string) {
	return scanAll(nil, NewDeleteReference(t, rows))
}

func scanAll(columns []string, checkers ...Checker) (Set, []string) {
	s := Set(checkers)
	return s, s.ScanConstraints(columns)
}

func (s Set) ScanConstraints(columns []string) []string {
	var out []string
	for _, c := range s {
		out = extras(out, columns, c.ScanConstraints(columns))
	}
	return out
}

func (s Set) Prepare() ([]*Check, error) {
	var out []*Check
	for _, c := range s {
		checks, err := c.Prepare()
		if err != nil {
			return nil, err
		}
		out = append(out, checks...)
	}
	return out, nil
}

func (s Set) Execute(ctx context.Context, e engine.Engine) error {
	for _, c := range s {
		if err := c.Execute(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s Set) Cost() int64 {
	var cost int64
	for _, c := range s {
		if checks, err := c.Prepare(); err == nil && len(checks) > 0 {
			cost += c.Cost()
		}
	}
	if cost < lock.LowCost {
		return lock.LowCost
	}
	return cost
}

func (s Set) LockSpecs() *catalog.LockSpec {
	spec := catalog.NewLockSpec()
	for _, c := range s {
		spec.Merge(c.LockSpecs())
	}
	return spec
}

func (s Set) NeedCoordinatorConnection() bool {
	for _, c := range s {
		if c.NeedCoordinatorConnection() {
			return true
		}
	}
	return false
}

// Run admits c on db's scheduler, executes it, and then calls write, all
// under one ticket. write is the statement's own change to the nodes; it
// is skipped when a check fails and may be nil.
func Run(ctx context.Context, db *catalog.SysDatabase, e engine.Engine, c Checker, write func(context.Context) error) error {
	return db.Scheduler().Run(ctx, c, func(ctx context.Context) error {
		if err := c.Execute(ctx, e); err != nil {
			return err
		}
		if write == nil {
			return nil
		}
		return write(ctx)
	})
}
