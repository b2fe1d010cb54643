package ddl

import (
	"context"
	"strings"

	"github.com/xdbcore/xdb/internal/catalog"
	"github.com/xdbcore/xdb/internal/metastore"
)

// CreateUser creates a login. Only DBAs create logins.
type CreateUser struct {
	Name     string
	Password string
	Class    catalog.UserClass
}

func (c *CreateUser) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	if err := requireDBA(sess, "CREATE USER"); err != nil {
		return nil, err
	}
	md := sess.Database().Metadata()
	if strings.TrimSpace(c.Name) == "" {
		return nil, invalid("user name is empty")
	}
	if _, err := md.Login(c.Name); err == nil {
		return nil, duplicate("user %s already exists", c.Name)
	}
	class, err := catalog.ParseUserClass(string(c.Class))
	if err != nil {
		return nil, err
	}
	hash, err := catalog.HashPassword(c.Password)
	if err != nil {
		return nil, err
	}
	id, err := tx.NextID(ctx, "xsysusers", "userid")
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO xsysusers (userid, username, userpwd, usertype) VALUES (?, ?, ?, ?)`,
		id, c.Name, hash, string(class)); err != nil {
		return nil, err
	}
	d := &delta{putLogins: []catalog.LoginRecord{{ID: id, Name: c.Name, PasswordHash: hash, Class: class}}}
	d.note(catalog.KindUser, catalog.ActionCreate, c.Name)
	return d, nil
}

// AlterUser changes the name, password or class of a login. A login may
// change its own password; everything else needs a DBA.
type AlterUser struct {
	Name     string
	NewName  string
	Password *string
	Class    catalog.UserClass
}

func (c *AlterUser) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	md := sess.Database().Metadata()
	login, err := md.Login(c.Name)
	if err != nil {
		return nil, err
	}
	self := login.ID == sess.Login().ID
	if !sess.Login().IsDBA() && (!self || c.NewName != "" || c.Class != "") {
		return nil, denied("user %s may not alter user %s", sess.Login().Name, login.Name)
	}

	r := login.Record()
	if c.NewName != "" && !strings.EqualFold(c.NewName, r.Name) {
		if _, err := md.Login(c.NewName); err == nil {
			return nil, duplicate("user %s already exists", c.NewName)
		}
		r.Name = c.NewName
	}
	if c.Class != "" {
		class, err := catalog.ParseUserClass(string(c.Class))
		if err != nil {
			return nil, err
		}
		if self && class != catalog.ClassDBA && login.IsDBA() {
			return nil, invalid("user %s cannot give up DBA privileges it is using", login.Name)
		}
		r.Class = class
	}
	if c.Password != nil {
		if r.PasswordHash, err = catalog.HashPassword(*c.Password); err != nil {
			return nil, err
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE xsysusers SET username = ?, userpwd = ?, usertype = ? WHERE userid = ?`,
		r.Name, r.PasswordHash, string(r.Class), r.ID); err != nil {
		return nil, err
	}
	d := &delta{putLogins: []catalog.LoginRecord{r}}
	d.note(catalog.KindUser, catalog.ActionAlter, c.Name)
	return d, nil
}

// DropUser drops a login that owns nothing. Its grants are removed from
// every database.
type DropUser struct {
	Name string
}

func (c *DropUser) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	if err := requireDBA(sess, "DROP USER"); err != nil {
		return nil, err
	}
	md := sess.Database().Metadata()
	login, err := md.Login(c.Name)
	if err != nil {
		return nil, err
	}
	if login.ID == sess.Login().ID {
		return nil, inUse("user %s is connected as this session", login.Name)
	}
	for _, ts := range md.Tablespaces() {
		if ts.OwnerID == login.ID {
			return nil, inUse("user %s owns tablespace %s", login.Name, ts.Name)
		}
	}

	ids := newStoreIDs(tx)
	var out deltas
	for _, db := range md.Databases() {
		if db.OwnerID() == login.ID {
			return nil, inUse("user %s owns database %s", login.Name, db.Name())
		}
		user, err := db.UserByID(login.ID)
		if err != nil {
			return nil, err
		}
		if owned := user.OwnedTables(); len(owned) > 0 {
			return nil, inUse("user %s owns table %s in database %s", login.Name, owned[0].Name(), db.Name())
		}
		for _, v := range db.Views() {
			if v.OwnerID == login.ID {
				return nil, inUse("user %s owns view %s in database %s", login.Name, v.Name, db.Name())
			}
		}

		d := &delta{db: db}
		for _, p := range user.Grants() {
			def := p.Table().Def().Clone()
			kept := def.Privileges[:0]
			for _, r := range def.Privileges {
				if r.UserID == nil || *r.UserID != login.ID {
					kept = append(kept, r)
				}
			}
			def.Privileges = kept
			stored, err := replaceTable(ctx, tx, ids, def)
			if err != nil {
				return nil, err
			}
			d.putTables = append(d.putTables, stored)
			d.note(catalog.KindPermission, catalog.ActionDrop, p.Table().Name())
		}
		if len(d.putTables) > 0 {
			out = append(out, d)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM xsysusers WHERE userid = ?`, login.ID); err != nil {
		return nil, err
	}
	d := &delta{dropLogins: []int64{login.ID}}
	d.note(catalog.KindUser, catalog.ActionDrop, login.Name)
	return append(out, d), nil
}
