package ddl

import (
	"context"

	"github.com/xdbcore/xdb/internal/catalog"
	"github.com/xdbcore/xdb/internal/metastore"
)

// ViewDep names a table, or one of its columns, a view reads.
type ViewDep struct {
	Table  string
	Column string
}

// CreateView stores a view. The statement text is kept as given; its
// output columns and dependencies come from the caller's analysis.
type CreateView struct {
	Name    string
	Text    string
	Columns []catalog.ViewColumn
	Deps    []ViewDep
}

func (c *CreateView) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	db := sess.Database()
	if db.IsAdmin() {
		return nil, invalid("views cannot be created in database %s", db.Name())
	}
	if err := checkRelationName(db, c.Name); err != nil {
		return nil, err
	}
	if c.Text == "" {
		return nil, invalid("view %s has no text", c.Name)
	}
	if len(c.Columns) == 0 {
		return nil, invalid("view %s has no columns", c.Name)
	}

	type dep struct {
		table  int64
		column *int64
	}
	var deps []dep
	for _, vd := range c.Deps {
		t, err := db.Table(vd.Table)
		if err != nil {
			return nil, err
		}
		if t.IsTemporary() {
			return nil, invalid("view %s cannot read temporary table %s", c.Name, t.Name())
		}
		if err := requirePrivilege(sess, t, catalog.PrivSelect); err != nil {
			return nil, err
		}
		dp := dep{table: t.ID()}
		if vd.Column != "" {
			col, err := t.Column(vd.Column)
			if err != nil {
				return nil, err
			}
			id := col.ID
			dp.column = &id
		}
		deps = append(deps, dp)
	}

	ids := newStoreIDs(tx)
	id, err := ids.next(ctx, "xsysviews", "viewid")
	if err != nil {
		return nil, err
	}
	owner := sess.Login().ID
	if _, err := tx.Exec(ctx, `INSERT INTO xsysviews (viewid, dbid, viewname, viewtext, ownerid) VALUES (?, ?, ?, ?, ?)`,
		id, db.ID(), c.Name, c.Text, owner); err != nil {
		return nil, err
	}
	for i, col := range c.Columns {
		cid, err := ids.next(ctx, "xsysviewscolumns", "viewcolid")
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO xsysviewscolumns (viewcolid, viewid, viewcolseqno, viewcolumn, coltype, collength, colscale, colprecision)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			cid, id, i+1, col.Name, int(col.Type), col.Length, col.Scale, col.Precision); err != nil {
			return nil, err
		}
	}
	for _, dp := range deps {
		if _, err := tx.Exec(ctx, `INSERT INTO xsysviewdeps (viewid, columnid, tableid) VALUES (?, ?, ?)`,
			id, dp.column, dp.table); err != nil {
			return nil, err
		}
	}

	stored, err := catalog.ReadView(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	d := &delta{db: db, putViews: []catalog.ViewRecord{*stored}}
	d.note(catalog.KindView, catalog.ActionCreate, c.Name)
	return d, nil
}

// DropView drops a view. Only its owner and DBAs may.
type DropView struct {
	Name string
}

func (c *DropView) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	db := sess.Database()
	v, err := db.View(c.Name)
	if err != nil {
		return nil, err
	}
	if l := sess.Login(); !l.IsDBA() && v.OwnerID != l.ID {
		return nil, denied("user %s may not drop view %s", l.Name, v.Name)
	}
	if err := deleteView(ctx, tx, v.ID); err != nil {
		return nil, err
	}
	d := &delta{db: db, dropViews: []*catalog.SysView{v}}
	d.note(catalog.KindView, catalog.ActionDrop, v.Name)
	return d, nil
}
