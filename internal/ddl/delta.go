package ddl

import (
	"github.com/xdbcore/xdb/internal/catalog"
)

// delta is the refresh step shared by every command. Apply removes before
// it adds so a rename or rebuild never trips over its own old name.
type delta struct {
	db *catalog.SysDatabase

	dropViews  []*catalog.SysView
	dropTables []*catalog.SysTable
	putTables  []*catalog.TableDef
	putViews   []catalog.ViewRecord

	putLogins  []catalog.LoginRecord
	dropLogins []int64

	putTablespaces  []catalog.TablespaceRecord
	dropTablespaces []int64

	addDatabase  *catalog.DatabaseDef
	dropDatabase *catalog.SysDatabase

	// session owning temporary tables created or dropped here
	session *catalog.Session
	// temporary table id to give back if the commit fails
	tempID int64

	changes []catalog.Change
}

func (d *delta) Apply(md *catalog.MetaData) error {
	for _, v := range d.dropViews {
		d.db.RemoveView(v)
	}
	for _, t := range d.dropTables {
		if t.IsTemporary() && d.session != nil {
			d.session.RemoveTempTable(t)
		}
		d.db.RemoveTable(t)
	}
	for _, def := range d.putTables {
		t, err := d.db.PutTable(def)
		if err != nil {
			return err
		}
		if def.Temporary && d.session != nil {
			d.session.AddTempTable(t)
		}
	}
	for _, v := range d.putViews {
		d.db.PutView(v)
	}

	for _, id := range d.dropLogins {
		md.RemoveLogin(id)
	}
	for _, r := range d.putLogins {
		md.PutLogin(r)
	}

	for _, id := range d.dropTablespaces {
		md.RemoveTablespace(id)
	}
	for _, r := range d.putTablespaces {
		md.PutTablespace(r)
	}

	if d.dropDatabase != nil {
		md.RemoveDatabase(d.dropDatabase)
	}
	if d.addDatabase != nil {
		if _, err := md.AddDatabase(d.addDatabase); err != nil {
			return err
		}
	}
	return nil
}

func (d *delta) Changes() []catalog.Change {
	return d.changes
}

func (d *delta) abort(md *catalog.MetaData) {
	if d.tempID != 0 {
		md.ReleaseTempTableID(d.tempID)
	}
}

func (d *delta) note(kind catalog.ObjectKind, action catalog.Action, object string) {
	c := catalog.Change{Kind: kind, Action: action, Object: object}
	if d.db != nil {
		c.Database = d.db.Name()
	}
	d.changes = append(d.changes, c)
}

// deltas applies several deltas in order, for changes spanning databases.
type deltas []Delta

func (ds deltas) Apply(md *catalog.MetaData) error {
	for _, d := range ds {
		if err := d.Apply(md); err != nil {
			return err
		}
	}
	return nil
}

func (ds deltas) Changes() []catalog.Change {
	var out []catalog.Change
	for _, d := range ds {
		out = append(out, d.Changes()...)
	}
	return out
}
