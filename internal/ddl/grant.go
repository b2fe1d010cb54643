package ddl

import (
	"context"

	"github.com/xdbcore/xdb/internal/catalog"
	"github.com/xdbcore/xdb/internal/metastore"
)

// Grant gives privileges on a table to a user, or to everyone when User is
// empty. Only the owner and DBAs grant.
type Grant struct {
	Table      string
	Privileges []catalog.Privilege
	User       string
}

func (c *Grant) lockTables(db *catalog.SysDatabase) []*catalog.SysTable {
	return lookupTables(db, c.Table)
}

func (c *Grant) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	return setPrivileges(ctx, tx, sess, c.Table, c.User, c.Privileges, catalog.Granted)
}

// Revoke denies privileges on a table. A denial on a child table overrides
// a grant on its parent.
type Revoke struct {
	Table      string
	Privileges []catalog.Privilege
	User       string
}

func (c *Revoke) lockTables(db *catalog.SysDatabase) []*catalog.SysTable {
	return lookupTables(db, c.Table)
}

func (c *Revoke) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	return setPrivileges(ctx, tx, sess, c.Table, c.User, c.Privileges, catalog.Denied)
}

func setPrivileges(ctx context.Context, tx *metastore.Tx, sess *catalog.Session, table, user string, privs []catalog.Privilege, bit catalog.Tri) (Delta, error) {
	db := sess.Database()
	t, err := db.Table(table)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(sess, t, "grant on"); err != nil {
		return nil, err
	}
	if t.IsTemporary() {
		return nil, invalid("temporary table %s has no grants", t.Name())
	}
	if len(privs) == 0 {
		return nil, invalid("no privileges given")
	}
	var userID *int64
	if user != "" {
		login, err := db.Metadata().Login(user)
		if err != nil {
			return nil, err
		}
		id := login.ID
		userID = &id
	}

	ids := newStoreIDs(tx)
	def := t.Def().Clone()
	idx := -1
	for i, p := range def.Privileges {
		if (p.UserID == nil && userID == nil) || (p.UserID != nil && userID != nil && *p.UserID == *userID) {
			idx = i
			break
		}
	}
	if idx < 0 {
		id, err := ids.next(ctx, "xsystabprivs", "privid")
		if err != nil {
			return nil, err
		}
		def.Privileges = append(def.Privileges, catalog.PrivilegeRecord{ID: id, TableID: t.ID(), UserID: userID})
		idx = len(def.Privileges) - 1
	}
	for _, p := range privs {
		if p < 0 || int(p) >= catalog.PrivilegeCount {
			return nil, invalid("unknown privilege %d", int(p))
		}
		def.Privileges[idx].Bits[p] = bit
	}

	stored, err := replaceTable(ctx, tx, ids, def)
	if err != nil {
		return nil, err
	}
	d := &delta{db: db, putTables: []*catalog.TableDef{stored}}
	action := catalog.ActionCreate
	if bit == catalog.Denied {
		action = catalog.ActionDrop
	}
	d.note(catalog.KindPermission, action, t.Name())
	return d, nil
}
