package catalog

import (
	"context"

	"go.uber.org/zap"

	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/internal/logutil"
)

// Resync re-reads the committed catalog and brings the in-memory one in
// line with it. It is the way back after a refresh failed past a commit.
// owner must not hold a transaction. Temporary tables are left alone.
func (md *MetaData) Resync(ctx context.Context, owner int64) error {
	tx, err := md.store.BeginTransaction(ctx, owner)
	if err != nil {
		return err
	}
	defer md.store.RollbackTransaction(owner)

	logins, err := ReadLogins(ctx, tx)
	if err != nil {
		return err
	}
	defs, err := ReadDatabases(ctx, tx)
	if err != nil {
		return err
	}
	spaces, err := ReadTablespaces(ctx, tx)
	if err != nil {
		return err
	}

	keepLogins := make(map[int64]bool, len(logins))
	for _, r := range logins {
		md.PutLogin(r)
		keepLogins[r.ID] = true
	}
	for _, l := range md.Logins() {
		if !keepLogins[l.ID] {
			md.RemoveLogin(l.ID)
		}
	}

	keepDBs := make(map[int64]bool, len(defs))
	for _, def := range defs {
		keepDBs[def.Database.ID] = true
		db, err := md.DatabaseByID(def.Database.ID)
		if err != nil {
			if _, err := md.AddDatabase(def); err != nil {
				return err
			}
			continue
		}
		if err := db.resync(def); err != nil {
			logutil.Logger(ctx).Warn("rebuilding database after failed resync",
				zap.String("database", db.Name()), zap.Error(err))
			md.RemoveDatabase(db)
			if _, err := md.AddDatabase(def); err != nil {
				return err
			}
		}
	}
	for _, db := range md.Databases() {
		if !keepDBs[db.ID()] {
			md.RemoveDatabase(db)
		}
	}

	keepSpaces := make(map[int64]bool, len(spaces))
	for _, r := range spaces {
		md.PutTablespace(r)
		keepSpaces[r.ID] = true
	}
	for _, ts := range md.Tablespaces() {
		if !keepSpaces[ts.ID] {
			md.RemoveTablespace(ts.ID)
		}
	}

	logutil.Logger(ctx).Info("catalog resynced",
		zap.Int("logins", len(logins)),
		zap.Int("databases", len(defs)),
		zap.Int("tablespaces", len(spaces)))
	return nil
}

// resync updates db in place to def. It fails when db cannot be updated in
// place, and the caller then rebuilds the database.
func (db *SysDatabase) resync(def *DatabaseDef) error {
	if def.Database.Name != db.name || def.Database.Owner != db.ownerID || len(def.Nodes) != len(db.DBNodes()) {
		return xerrors.NewInternalError("database record changed", nil)
	}

	persisted := make(map[int64]bool, len(def.Tables))
	for _, t := range def.Tables {
		persisted[t.Table.ID] = true
	}
	// children go first so a dropped tree is removed leaf by leaf
	for removed := true; removed; {
		removed = false
		for _, t := range db.Tables() {
			if t.IsTemporary() || persisted[t.ID()] || len(t.Children()) > 0 {
				continue
			}
			db.RemoveTable(t)
			removed = true
		}
	}
	for _, t := range db.Tables() {
		if !t.IsTemporary() && !persisted[t.ID()] {
			return xerrors.NewInternalError("table "+t.Name()+" is no longer persisted but has children", nil)
		}
	}
	for _, t := range orderByParent(def.Tables) {
		if _, err := db.PutTable(t); err != nil {
			return err
		}
	}

	views := make(map[int64]bool, len(def.Views))
	for _, v := range def.Views {
		db.PutView(v)
		views[v.ID] = true
	}
	for _, v := range db.Views() {
		if !views[v.ID] {
			db.RemoveView(v)
		}
	}
	return nil
}
