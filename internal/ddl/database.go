package ddl

import (
	"context"
	"sort"
	"strings"

	"github.com/xdbcore/xdb/internal/catalog"
	"github.com/xdbcore/xdb/internal/metastore"
)

// CreateDatabase creates a database on a set of registered nodes.
type CreateDatabase struct {
	Name  string
	Nodes []int
}

func (c *CreateDatabase) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	if err := requireCreate(sess, "create databases"); err != nil {
		return nil, err
	}
	md := sess.Database().Metadata()
	if c.Name == "" {
		return nil, invalid("database name is empty")
	}
	if strings.EqualFold(c.Name, catalog.AdminDatabaseName) || md.HasDatabase(c.Name) {
		return nil, duplicate("database %s already exists", c.Name)
	}
	if len(c.Nodes) == 0 {
		return nil, invalid("database %s needs at least one node", c.Name)
	}
	nodes := append([]int(nil), c.Nodes...)
	sort.Ints(nodes)
	for i, n := range nodes {
		if i > 0 && nodes[i-1] == n {
			return nil, invalid("node %d listed twice", n)
		}
		if _, err := md.StartupLock().Node(n); err != nil {
			return nil, err
		}
	}

	ids := newStoreIDs(tx)
	dbID, err := ids.next(ctx, "xsysdatabases", "dbid")
	if err != nil {
		return nil, err
	}
	owner := sess.Login().ID
	if _, err := tx.Exec(ctx, `INSERT INTO xsysdatabases (dbid, dbname, owner) VALUES (?, ?, ?)`,
		dbID, c.Name, owner); err != nil {
		return nil, err
	}
	def := &catalog.DatabaseDef{Database: catalog.DatabaseRecord{ID: dbID, Name: c.Name, Owner: owner}}
	for _, n := range nodes {
		id, err := ids.next(ctx, "xsysdbnodes", "dbnodeid")
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO xsysdbnodes (dbnodeid, dbid, nodeid) VALUES (?, ?, ?)`,
			id, dbID, n); err != nil {
			return nil, err
		}
		def.Nodes = append(def.Nodes, catalog.DBNodeRecord{ID: id, DatabaseID: dbID, NodeID: n})
	}

	d := &delta{addDatabase: def}
	d.changes = append(d.changes, catalog.Change{
		Kind: catalog.KindDatabase, Action: catalog.ActionCreate, Database: c.Name, Object: c.Name,
	})
	return d, nil
}

// DropDatabase removes a database with all of its tables and views.
type DropDatabase struct {
	Name string
}

func (c *DropDatabase) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	md := sess.Database().Metadata()
	db, err := md.Database(c.Name)
	if err != nil {
		return nil, err
	}
	if db.IsAdmin() {
		return nil, invalid("database %s cannot be dropped", db.Name())
	}
	if db == sess.Database() {
		return nil, inUse("database %s is the session's current database", db.Name())
	}
	if l := sess.Login(); !l.IsDBA() && db.OwnerID() != l.ID {
		return nil, denied("user %s may not drop database %s", l.Name, db.Name())
	}

	for _, v := range db.Views() {
		if err := deleteView(ctx, tx, v.ID); err != nil {
			return nil, err
		}
	}
	for _, t := range db.Tables() {
		if t.IsTemporary() {
			continue
		}
		if err := deleteTable(ctx, tx, t.ID()); err != nil {
			return nil, err
		}
	}
	for _, q := range []string{
		`DELETE FROM xsysdbnodes WHERE dbid = ?`,
		`DELETE FROM xsysdatabases WHERE dbid = ?`,
	} {
		if _, err := tx.Exec(ctx, q, db.ID()); err != nil {
			return nil, err
		}
	}

	d := &delta{dropDatabase: db}
	d.changes = append(d.changes, catalog.Change{
		Kind: catalog.KindDatabase, Action: catalog.ActionDrop, Database: db.Name(), Object: db.Name(),
	})
	return d, nil
}
