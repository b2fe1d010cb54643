package catalog

import (
	"context"
	"database/sql"
	"fmt"

	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/internal/metastore"
	"github.com/xdbcore/xdb/internal/partition"
	"github.com/xdbcore/xdb/pkg/types"
)

// ReadLogins reads every login.
func ReadLogins(ctx context.Context, tx *metastore.Tx) ([]LoginRecord, error) {
	var out []LoginRecord
	err := tx.Query(ctx, `SELECT userid, username, userpwd, usertype FROM xsysusers ORDER BY userid`,
		func(rows *sql.Rows) error {
			var r LoginRecord
			var class string
			if err := rows.Scan(&r.ID, &r.Name, &r.PasswordHash, &class); err != nil {
				return fmt.Errorf("catalog: failed to scan login: %w", err)
			}
			r.Class = UserClass(class)
			out = append(out, r)
			return nil
		})
	return out, err
}

// ReadTablespaces reads every tablespace with its node locations.
func ReadTablespaces(ctx context.Context, tx *metastore.Tx) ([]TablespaceRecord, error) {
	var out []TablespaceRecord
	byID := make(map[int64]int)
	err := tx.Query(ctx, `SELECT tablespaceid, tablespacename, ownerid FROM xsystablespaces ORDER BY tablespaceid`,
		func(rows *sql.Rows) error {
			r := TablespaceRecord{Locations: make(map[int]string)}
			if err := rows.Scan(&r.ID, &r.Name, &r.Owner); err != nil {
				return fmt.Errorf("catalog: failed to scan tablespace: %w", err)
			}
			byID[r.ID] = len(out)
			out = append(out, r)
			return nil
		})
	if err != nil {
		return nil, err
	}
	err = tx.Query(ctx, `SELECT tablespaceid, nodeid, filepath FROM xsystablespacelocs`,
		func(rows *sql.Rows) error {
			var (
				id   int64
				node int
				path string
			)
			if err := rows.Scan(&id, &node, &path); err != nil {
				return fmt.Errorf("catalog: failed to scan tablespace location: %w", err)
			}
			if i, ok := byID[id]; ok {
				out[i].Locations[node] = path
			}
			return nil
		})
	return out, err
}

// ReadDatabases reads the definition of every database.
func ReadDatabases(ctx context.Context, tx *metastore.Tx) ([]*DatabaseDef, error) {
	var recs []DatabaseRecord
	err := tx.Query(ctx, `SELECT dbid, dbname, owner FROM xsysdatabases ORDER BY dbid`,
		func(rows *sql.Rows) error {
			var r DatabaseRecord
			if err := rows.Scan(&r.ID, &r.Name, &r.Owner); err != nil {
				return fmt.Errorf("catalog: failed to scan database: %w", err)
			}
			recs = append(recs, r)
			return nil
		})
	if err != nil {
		return nil, err
	}

	defs := make([]*DatabaseDef, 0, len(recs))
	for _, r := range recs {
		def, err := readDatabase(ctx, tx, r)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// ReadDatabase reads the definition of database id.
func ReadDatabase(ctx context.Context, tx *metastore.Tx, id int64) (*DatabaseDef, error) {
	var r DatabaseRecord
	err := tx.QueryRow(ctx, `SELECT dbid, dbname, owner FROM xsysdatabases WHERE dbid = ?`,
		[]interface{}{id}, &r.ID, &r.Name, &r.Owner)
	if err == sql.ErrNoRows {
		return nil, xerrors.NewLookupError(xerrors.CodeDatabaseNotFound, "database %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return readDatabase(ctx, tx, r)
}

func readDatabase(ctx context.Context, tx *metastore.Tx, r DatabaseRecord) (*DatabaseDef, error) {
	def := &DatabaseDef{Database: r}
	err := tx.Query(ctx, `SELECT dbnodeid, dbid, nodeid FROM xsysdbnodes WHERE dbid = ? ORDER BY nodeid`,
		func(rows *sql.Rows) error {
			var n DBNodeRecord
			if err := rows.Scan(&n.ID, &n.DatabaseID, &n.NodeID); err != nil {
				return fmt.Errorf("catalog: failed to scan database node: %w", err)
			}
			def.Nodes = append(def.Nodes, n)
			return nil
		}, r.ID)
	if err != nil {
		return nil, err
	}

	if def.Tables, err = readTables(ctx, tx, "t.dbid = ?", r.ID); err != nil {
		return nil, err
	}
	if def.Views, err = readViews(ctx, tx, "dbid = ?", r.ID); err != nil {
		return nil, err
	}
	return def, nil
}

// ReadTable reads the definition of table id, including writes made earlier
// in tx.
func ReadTable(ctx context.Context, tx *metastore.Tx, id int64) (*TableDef, error) {
	defs, err := readTables(ctx, tx, "t.tableid = ?", id)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, xerrors.NewLookupError(xerrors.CodeTableNotFound, "table %d not found", id)
	}
	return defs[0], nil
}

// ReadView reads the definition of view id.
func ReadView(ctx context.Context, tx *metastore.Tx, id int64) (*ViewRecord, error) {
	views, err := readViews(ctx, tx, "viewid = ?", id)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, xerrors.NewLookupError(xerrors.CodeViewNotFound, "view %d not found", id)
	}
	return &views[0], nil
}

// readTables loads every table matching where (over xsystables t) with all
// of its dependent rows, one query per metadata table.
func readTables(ctx context.Context, tx *metastore.Tx, where string, arg interface{}) ([]*TableDef, error) {
	var defs []*TableDef
	byID := make(map[int64]*TableDef)

	err := tx.Query(ctx, `
		SELECT t.tableid, t.dbid, t.tablename, t.numrows, t.partscheme, t.partcol, t.parthash,
			t.owner, t.parentid, t.tablespaceid, t.clusteridx
		FROM xsystables t WHERE `+where+` ORDER BY t.tableid`,
		func(rows *sql.Rows) error {
			var r TableRecord
			var scheme int
			if err := rows.Scan(&r.ID, &r.DatabaseID, &r.Name, &r.NumRows, &scheme, &r.PartColumn, &r.PartHash,
				&r.Owner, &r.ParentID, &r.TablespaceID, &r.ClusterIndex); err != nil {
				return fmt.Errorf("catalog: failed to scan table: %w", err)
			}
			r.Scheme = types.PartitionScheme(scheme)
			def := &TableDef{Table: r}
			byID[r.ID] = def
			defs = append(defs, def)
			return nil
		}, arg)
	if err != nil || len(defs) == 0 {
		return defs, err
	}

	sub := `SELECT t.tableid FROM xsystables t WHERE ` + where

	err = tx.Query(ctx, `
		SELECT colid, tableid, colseq, colname, coltype, collength, colscale, colprecision,
			isnullable, isserial, defaultexpr, selectivity, nativecoldef
		FROM xsyscolumns WHERE tableid IN (`+sub+`) ORDER BY tableid, colseq`,
		func(rows *sql.Rows) error {
			var c ColumnRecord
			var typ int
			if err := rows.Scan(&c.ID, &c.TableID, &c.Seq, &c.Name, &typ, &c.Length, &c.Scale, &c.Precision,
				&c.Nullable, &c.Serial, &c.Default, &c.Selectivity, &c.NativeDef); err != nil {
				return fmt.Errorf("catalog: failed to scan column: %w", err)
			}
			c.Type = types.SQLType(typ)
			if def, ok := byID[c.TableID]; ok {
				def.Columns = append(def.Columns, c)
			}
			return nil
		}, arg)
	if err != nil {
		return nil, err
	}

	indexes := make(map[int64]*IndexRecord)
	var indexOrder []int64
	err = tx.Query(ctx, `
		SELECT idxid, idxname, tableid, idxtype, tablespaceid, usingtype, wherepred, issyscreated
		FROM xsysindexes WHERE tableid IN (`+sub+`) ORDER BY idxid`,
		func(rows *sql.Rows) error {
			var ix IndexRecord
			if err := rows.Scan(&ix.ID, &ix.Name, &ix.TableID, &ix.Type, &ix.TablespaceID, &ix.Using,
				&ix.Where, &ix.SysCreated); err != nil {
				return fmt.Errorf("catalog: failed to scan index: %w", err)
			}
			indexes[ix.ID] = &ix
			indexOrder = append(indexOrder, ix.ID)
			return nil
		}, arg)
	if err != nil {
		return nil, err
	}

	err = tx.Query(ctx, `
		SELECT k.idxkeyid, k.idxid, k.idxkeyseq, k.idxascdesc, k.colid, k.coloperator
		FROM xsysindexkeys k JOIN xsysindexes i ON i.idxid = k.idxid
		WHERE i.tableid IN (`+sub+`) ORDER BY k.idxid, k.idxkeyseq`,
		func(rows *sql.Rows) error {
			var k IndexKeyRecord
			if err := rows.Scan(&k.ID, &k.IndexID, &k.Seq, &k.Descending, &k.ColumnID, &k.Operator); err != nil {
				return fmt.Errorf("catalog: failed to scan index key: %w", err)
			}
			if ix, ok := indexes[k.IndexID]; ok {
				ix.Keys = append(ix.Keys, k)
			}
			return nil
		}, arg)
	if err != nil {
		return nil, err
	}
	for _, id := range indexOrder {
		ix := indexes[id]
		if def, ok := byID[ix.TableID]; ok {
			def.Indexes = append(def.Indexes, *ix)
		}
	}

	constraints := make(map[int64]*ConstraintRecord)
	var constraintOrder []int64
	err = tx.Query(ctx, `
		SELECT constid, tableid, consname, constype, idxid, issoft
		FROM xsysconstraints WHERE tableid IN (`+sub+`) ORDER BY constid`,
		func(rows *sql.Rows) error {
			var c ConstraintRecord
			var name sql.NullString
			var typ string
			if err := rows.Scan(&c.ID, &c.TableID, &name, &typ, &c.IndexID, &c.Soft); err != nil {
				return fmt.Errorf("catalog: failed to scan constraint: %w", err)
			}
			c.Name = name.String
			if typ != "" {
				c.Type = ConstraintType(typ[0])
			}
			constraints[c.ID] = &c
			constraintOrder = append(constraintOrder, c.ID)
			return nil
		}, arg)
	if err != nil {
		return nil, err
	}

	refs := make(map[int64]*ReferenceRecord)
	err = tx.Query(ctx, `
		SELECT r.refid, r.constid, r.reftableid, r.refidxid
		FROM xsysreferences r JOIN xsysconstraints c ON c.constid = r.constid
		WHERE c.tableid IN (`+sub+`) ORDER BY r.refid`,
		func(rows *sql.Rows) error {
			r := &ReferenceRecord{}
			if err := rows.Scan(&r.ID, &r.ConstraintID, &r.TargetTableID, &r.TargetIndexID); err != nil {
				return fmt.Errorf("catalog: failed to scan reference: %w", err)
			}
			refs[r.ID] = r
			return nil
		}, arg)
	if err != nil {
		return nil, err
	}

	err = tx.Query(ctx, `
		SELECT f.fkeyid, f.refid, f.fkeyseq, f.colid, f.refcolid
		FROM xsysforeignkeys f
		JOIN xsysreferences r ON r.refid = f.refid
		JOIN xsysconstraints c ON c.constid = r.constid
		WHERE c.tableid IN (`+sub+`) ORDER BY f.refid, f.fkeyseq`,
		func(rows *sql.Rows) error {
			var f ForeignKeyRecord
			if err := rows.Scan(&f.ID, &f.ReferenceID, &f.Seq, &f.ColumnID, &f.RefColumnID); err != nil {
				return fmt.Errorf("catalog: failed to scan foreign key: %w", err)
			}
			if r, ok := refs[f.ReferenceID]; ok {
				r.Keys = append(r.Keys, f)
			}
			return nil
		}, arg)
	if err != nil {
		return nil, err
	}
	for _, r := range refs {
		if c, ok := constraints[r.ConstraintID]; ok {
			c.Reference = r
		}
	}

	err = tx.Query(ctx, `
		SELECT k.checkid, k.constid, k.seqno, k.checkstmt
		FROM xsyschecks k JOIN xsysconstraints c ON c.constid = k.constid
		WHERE c.tableid IN (`+sub+`) ORDER BY k.constid, k.seqno`,
		func(rows *sql.Rows) error {
			var k CheckRecord
			if err := rows.Scan(&k.ID, &k.ConstraintID, &k.Seq, &k.Text); err != nil {
				return fmt.Errorf("catalog: failed to scan check: %w", err)
			}
			if c, ok := constraints[k.ConstraintID]; ok {
				c.Checks = append(c.Checks, k)
			}
			return nil
		}, arg)
	if err != nil {
		return nil, err
	}
	for _, id := range constraintOrder {
		c := constraints[id]
		if def, ok := byID[c.TableID]; ok {
			def.Constraints = append(def.Constraints, *c)
		}
	}

	err = tx.Query(ctx, `
		SELECT tableid, nodeid, bucket, rangehigh
		FROM xsystabparts WHERE tableid IN (`+sub+`) ORDER BY tableid, partid`,
		func(rows *sql.Rows) error {
			var (
				tableID int64
				e       partition.Entry
				bucket  sql.NullInt64
			)
			if err := rows.Scan(&tableID, &e.NodeID, &bucket, &e.RangeHigh); err != nil {
				return fmt.Errorf("catalog: failed to scan partition entry: %w", err)
			}
			if bucket.Valid {
				b := int(bucket.Int64)
				e.Bucket = &b
			}
			if def, ok := byID[tableID]; ok {
				def.Parts = append(def.Parts, e)
			}
			return nil
		}, arg)
	if err != nil {
		return nil, err
	}

	err = tx.Query(ctx, `
		SELECT privid, tableid, userid, selectpriv, insertpriv, updatepriv, deletepriv,
			referencespriv, indexpriv, alterpriv
		FROM xsystabprivs WHERE tableid IN (`+sub+`) ORDER BY privid`,
		func(rows *sql.Rows) error {
			var (
				p    PrivilegeRecord
				bits [PrivilegeCount]sql.NullString
			)
			dest := []interface{}{&p.ID, &p.TableID, &p.UserID}
			for i := range bits {
				dest = append(dest, &bits[i])
			}
			if err := rows.Scan(dest...); err != nil {
				return fmt.Errorf("catalog: failed to scan privilege: %w", err)
			}
			for i, b := range bits {
				p.Bits[i] = triFromColumn(b)
			}
			if def, ok := byID[p.TableID]; ok {
				def.Privileges = append(def.Privileges, p)
			}
			return nil
		}, arg)
	if err != nil {
		return nil, err
	}

	return defs, nil
}

func readViews(ctx context.Context, tx *metastore.Tx, where string, arg interface{}) ([]ViewRecord, error) {
	var views []ViewRecord
	byID := make(map[int64]int)
	err := tx.Query(ctx, `SELECT viewid, dbid, viewname, viewtext, ownerid FROM xsysviews WHERE `+where+` ORDER BY viewid`,
		func(rows *sql.Rows) error {
			var v ViewRecord
			if err := rows.Scan(&v.ID, &v.DatabaseID, &v.Name, &v.Text, &v.Owner); err != nil {
				return fmt.Errorf("catalog: failed to scan view: %w", err)
			}
			byID[v.ID] = len(views)
			views = append(views, v)
			return nil
		}, arg)
	if err != nil || len(views) == 0 {
		return views, err
	}

	sub := `SELECT viewid FROM xsysviews WHERE ` + where
	err = tx.Query(ctx, `
		SELECT viewcolid, viewid, viewcolseqno, viewcolumn, coltype, collength, colscale, colprecision
		FROM xsysviewscolumns WHERE viewid IN (`+sub+`) ORDER BY viewid, viewcolseqno`,
		func(rows *sql.Rows) error {
			var c ViewColumnRecord
			var typ int
			if err := rows.Scan(&c.ID, &c.ViewID, &c.Seq, &c.Name, &typ, &c.Length, &c.Scale, &c.Precision); err != nil {
				return fmt.Errorf("catalog: failed to scan view column: %w", err)
			}
			c.Type = types.SQLType(typ)
			if i, ok := byID[c.ViewID]; ok {
				views[i].Columns = append(views[i].Columns, c)
			}
			return nil
		}, arg)
	if err != nil {
		return nil, err
	}

	err = tx.Query(ctx, `
		SELECT viewid, columnid, tableid FROM xsysviewdeps
		WHERE viewid IN (`+sub+`) ORDER BY viewid, tableid, columnid`,
		func(rows *sql.Rows) error {
			var d ViewDepRecord
			if err := rows.Scan(&d.ViewID, &d.ColumnID, &d.TableID); err != nil {
				return fmt.Errorf("catalog: failed to scan view dependency: %w", err)
			}
			if i, ok := byID[d.ViewID]; ok {
				views[i].Deps = append(views[i].Deps, d)
			}
			return nil
		}, arg)
	if err != nil {
		return nil, err
	}
	return views, nil
}
