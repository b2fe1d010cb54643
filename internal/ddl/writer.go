package ddl

import (
	"context"
	"fmt"

	"github.com/xdbcore/xdb/internal/catalog"
	"github.com/xdbcore/xdb/internal/metastore"
)

// idSource hands out surrogate keys for one metadata table column.
type idSource interface {
	next(ctx context.Context, table, column string) (int64, error)
}

// storeIDs draws max(id)+1 once per table and counts up from there, so a
// command may allocate several ids before inserting any row. This is only
// safe because the transaction token admits a single writer.
type storeIDs struct {
	tx   *metastore.Tx
	last map[string]int64
}

func newStoreIDs(tx *metastore.Tx) *storeIDs {
	return &storeIDs{tx: tx, last: make(map[string]int64)}
}

func (s *storeIDs) next(ctx context.Context, table, column string) (int64, error) {
	k := table + "." + column
	if v, ok := s.last[k]; ok {
		s.last[k] = v + 1
		return v + 1, nil
	}
	v, err := s.tx.NextID(ctx, table, column)
	if err != nil {
		return 0, err
	}
	s.last[k] = v
	return v, nil
}

// localIDs numbers the parts of a temporary table, which never reach the
// store and only need ids unique within the table.
type localIDs struct {
	n int64
}

func (l *localIDs) next(context.Context, string, string) (int64, error) {
	l.n++
	return l.n, nil
}

// localIDsAbove continues numbering after every id already used by def.
func localIDsAbove(def *catalog.TableDef) *localIDs {
	l := &localIDs{}
	see := func(id int64) {
		if id > l.n {
			l.n = id
		}
	}
	for _, c := range def.Columns {
		see(c.ID)
	}
	for _, ix := range def.Indexes {
		see(ix.ID)
		for _, k := range ix.Keys {
			see(k.ID)
		}
	}
	for _, c := range def.Constraints {
		see(c.ID)
		for _, ck := range c.Checks {
			see(ck.ID)
		}
	}
	for _, p := range def.Privileges {
		see(p.ID)
	}
	return l
}

// insertTable writes every row of def.
func insertTable(ctx context.Context, tx *metastore.Tx, ids idSource, def *catalog.TableDef) error {
	r := def.Table
	if _, err := tx.Exec(ctx, `
		INSERT INTO xsystables (tableid, dbid, tablename, numrows, partscheme, partcol, parthash,
			owner, parentid, tablespaceid, clusteridx)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.DatabaseID, r.Name, r.NumRows, int(r.Scheme), r.PartColumn, r.PartHash,
		r.Owner, r.ParentID, r.TablespaceID, r.ClusterIndex); err != nil {
		return err
	}

	for _, c := range def.Columns {
		if _, err := tx.Exec(ctx, `
			INSERT INTO xsyscolumns (colid, tableid, colseq, colname, coltype, collength, colscale,
				colprecision, isnullable, isserial, defaultexpr, selectivity, nativecoldef)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, r.ID, c.Seq, c.Name, int(c.Type), c.Length, c.Scale, c.Precision,
			c.Nullable, c.Serial, c.Default, c.Selectivity, c.NativeDef); err != nil {
			return err
		}
	}

	for _, ix := range def.Indexes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO xsysindexes (idxid, idxname, tableid, keycnt, idxtype, tablespaceid, usingtype,
				wherepred, issyscreated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ix.ID, ix.Name, r.ID, len(ix.Keys), ix.Type, ix.TablespaceID, ix.Using, ix.Where, ix.SysCreated); err != nil {
			return err
		}
		for _, k := range ix.Keys {
			if _, err := tx.Exec(ctx, `
				INSERT INTO xsysindexkeys (idxkeyid, idxid, idxkeyseq, idxascdesc, colid, coloperator)
				VALUES (?, ?, ?, ?, ?, ?)`,
				k.ID, ix.ID, k.Seq, k.Descending, k.ColumnID, k.Operator); err != nil {
				return err
			}
		}
	}

	for _, c := range def.Constraints {
		var name interface{}
		if c.Name != "" {
			name = c.Name
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO xsysconstraints (constid, tableid, consname, constype, idxid, issoft)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, r.ID, name, string(rune(c.Type)), c.IndexID, c.Soft); err != nil {
			return err
		}
		if ref := c.Reference; ref != nil {
			if _, err := tx.Exec(ctx, `
				INSERT INTO xsysreferences (refid, constid, reftableid, refidxid) VALUES (?, ?, ?, ?)`,
				ref.ID, c.ID, ref.TargetTableID, ref.TargetIndexID); err != nil {
				return err
			}
			for _, fk := range ref.Keys {
				if _, err := tx.Exec(ctx, `
					INSERT INTO xsysforeignkeys (fkeyid, refid, fkeyseq, colid, refcolid) VALUES (?, ?, ?, ?, ?)`,
					fk.ID, ref.ID, fk.Seq, fk.ColumnID, fk.RefColumnID); err != nil {
					return err
				}
			}
		}
		for _, ck := range c.Checks {
			if _, err := tx.Exec(ctx, `
				INSERT INTO xsyschecks (checkid, constid, seqno, checkstmt) VALUES (?, ?, ?, ?)`,
				ck.ID, c.ID, ck.Seq, ck.Text); err != nil {
				return err
			}
		}
	}

	for _, e := range def.Parts {
		id, err := ids.next(ctx, "xsystabparts", "partid")
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO xsystabparts (partid, tableid, dbid, nodeid, bucket, rangehigh) VALUES (?, ?, ?, ?, ?, ?)`,
			id, r.ID, r.DatabaseID, e.NodeID, e.Bucket, e.RangeHigh); err != nil {
			return err
		}
	}

	for _, p := range def.Privileges {
		if err := insertPrivilege(ctx, tx, r.ID, p); err != nil {
			return err
		}
	}
	return nil
}

func insertPrivilege(ctx context.Context, tx *metastore.Tx, tableID int64, p catalog.PrivilegeRecord) error {
	args := []interface{}{p.ID, tableID, p.UserID}
	for _, b := range p.Bits {
		args = append(args, b.Column())
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO xsystabprivs (privid, tableid, userid, selectpriv, insertpriv, updatepriv, deletepriv,
			referencespriv, indexpriv, alterpriv)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	return err
}

// tableRowDeletes remove every row of a table, dependents first.
var tableRowDeletes = []string{
	`DELETE FROM xsysforeignkeys WHERE refid IN (
		SELECT r.refid FROM xsysreferences r JOIN xsysconstraints c ON c.constid = r.constid WHERE c.tableid = ?)`,
	`DELETE FROM xsysreferences WHERE constid IN (SELECT constid FROM xsysconstraints WHERE tableid = ?)`,
	`DELETE FROM xsyschecks WHERE constid IN (SELECT constid FROM xsysconstraints WHERE tableid = ?)`,
	`DELETE FROM xsysconstraints WHERE tableid = ?`,
	`DELETE FROM xsysindexkeys WHERE idxid IN (SELECT idxid FROM xsysindexes WHERE tableid = ?)`,
	`DELETE FROM xsysindexes WHERE tableid = ?`,
	`DELETE FROM xsystabparts WHERE tableid = ?`,
	`DELETE FROM xsystabprivs WHERE tableid = ?`,
	`DELETE FROM xsyscolumns WHERE tableid = ?`,
	`DELETE FROM xsystables WHERE tableid = ?`,
}

func deleteTable(ctx context.Context, tx *metastore.Tx, id int64) error {
	for _, q := range tableRowDeletes {
		if _, err := tx.Exec(ctx, q, id); err != nil {
			return err
		}
	}
	return nil
}

// replaceTable rewrites the rows of def.Table.ID and reads the result back,
// so the catalog is rebuilt from exactly what was stored.
func replaceTable(ctx context.Context, tx *metastore.Tx, ids idSource, def *catalog.TableDef) (*catalog.TableDef, error) {
	if def.Temporary {
		return def, nil
	}
	if err := deleteTable(ctx, tx, def.Table.ID); err != nil {
		return nil, err
	}
	if err := insertTable(ctx, tx, ids, def); err != nil {
		return nil, err
	}
	stored, err := catalog.ReadTable(ctx, tx, def.Table.ID)
	if err != nil {
		return nil, fmt.Errorf("ddl: re-reading table %s: %w", def.Table.Name, err)
	}
	return stored, nil
}

func deleteView(ctx context.Context, tx *metastore.Tx, id int64) error {
	for _, q := range []string{
		`DELETE FROM xsysviewdeps WHERE viewid = ?`,
		`DELETE FROM xsysviewscolumns WHERE viewid = ?`,
		`DELETE FROM xsysviews WHERE viewid = ?`,
	} {
		if _, err := tx.Exec(ctx, q, id); err != nil {
			return err
		}
	}
	return nil
}
