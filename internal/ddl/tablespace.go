package ddl

import (
	"context"
	"sort"

	"github.com/xdbcore/xdb/internal/catalog"
	"github.com/xdbcore/xdb/internal/metastore"
)

// CreateTablespace registers a storage path on each of a set of nodes.
type CreateTablespace struct {
	Name      string
	Locations map[int]string
}

func (c *CreateTablespace) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	if err := requireDBA(sess, "CREATE TABLESPACE"); err != nil {
		return nil, err
	}
	md := sess.Database().Metadata()
	if c.Name == "" {
		return nil, invalid("tablespace name is empty")
	}
	if _, err := md.Tablespace(c.Name); err == nil {
		return nil, duplicate("tablespace %s already exists", c.Name)
	}
	if len(c.Locations) == 0 {
		return nil, invalid("tablespace %s needs a location on at least one node", c.Name)
	}
	nodes := make([]int, 0, len(c.Locations))
	for n, path := range c.Locations {
		if path == "" {
			return nil, invalid("tablespace %s: empty path for node %d", c.Name, n)
		}
		if _, err := md.StartupLock().Node(n); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	sort.Ints(nodes)

	ids := newStoreIDs(tx)
	id, err := ids.next(ctx, "xsystablespaces", "tablespaceid")
	if err != nil {
		return nil, err
	}
	owner := sess.Login().ID
	if _, err := tx.Exec(ctx, `INSERT INTO xsystablespaces (tablespaceid, tablespacename, ownerid) VALUES (?, ?, ?)`,
		id, c.Name, owner); err != nil {
		return nil, err
	}
	r := catalog.TablespaceRecord{ID: id, Name: c.Name, Owner: owner, Locations: make(map[int]string)}
	for _, n := range nodes {
		lid, err := ids.next(ctx, "xsystablespacelocs", "tablespacelocid")
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO xsystablespacelocs (tablespacelocid, tablespaceid, filepath, nodeid) VALUES (?, ?, ?, ?)`,
			lid, id, c.Locations[n], n); err != nil {
			return nil, err
		}
		r.Locations[n] = c.Locations[n]
	}
	d := &delta{putTablespaces: []catalog.TablespaceRecord{r}}
	d.note(catalog.KindTablespace, catalog.ActionCreate, c.Name)
	return d, nil
}

// DropTablespace drops a tablespace no table or index uses.
type DropTablespace struct {
	Name string
}

func (c *DropTablespace) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	if err := requireDBA(sess, "DROP TABLESPACE"); err != nil {
		return nil, err
	}
	md := sess.Database().Metadata()
	ts, err := md.Tablespace(c.Name)
	if err != nil {
		return nil, err
	}
	for _, db := range md.Databases() {
		for _, t := range db.Tables() {
			if t.TablespaceID() == ts.ID {
				return nil, inUse("tablespace %s is used by table %s.%s", ts.Name, db.Name(), t.Name())
			}
			for _, ix := range t.Indexes() {
				if ix.TablespaceID == ts.ID {
					return nil, inUse("tablespace %s is used by index %s.%s", ts.Name, t.Name(), ix.Name)
				}
			}
		}
	}
	for _, q := range []string{
		`DELETE FROM xsystablespacelocs WHERE tablespaceid = ?`,
		`DELETE FROM xsystablespaces WHERE tablespaceid = ?`,
	} {
		if _, err := tx.Exec(ctx, q, ts.ID); err != nil {
			return nil, err
		}
	}
	d := &delta{dropTablespaces: []int64{ts.ID}}
	d.note(catalog.KindTablespace, catalog.ActionDrop, ts.Name)
	return d, nil
}
