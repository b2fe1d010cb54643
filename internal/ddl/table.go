package ddl

import (
	"context"
	"strings"

	"github.com/xdbcore/xdb/internal/catalog"
	"github.com/xdbcore/xdb/internal/metastore"
	"github.com/xdbcore/xdb/internal/partition"
	"github.com/xdbcore/xdb/pkg/types"
)

// CreateTable creates a table. A table with a Parent inherits the parent's
// partitioning; if it declares no columns it reads through the parent's.
type CreateTable struct {
	Name        string
	Columns     []ColumnDef
	PrimaryKey  *KeyDef
	Uniques     []KeyDef
	ForeignKeys []ForeignKeyDef
	Checks      []CheckDef

	Scheme      types.PartitionScheme
	PartColumn  string
	Nodes       []int
	RangeBounds []partition.RangeBound

	Parent     string
	Tablespace string
	Temporary  bool
}

func (c *CreateTable) lockTables(db *catalog.SysDatabase) []*catalog.SysTable {
	names := []string{c.Parent}
	for _, fk := range c.ForeignKeys {
		names = append(names, fk.RefTable)
	}
	return lookupTables(db, names...)
}

func (c *CreateTable) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	db := sess.Database()
	md := db.Metadata()
	if db.IsAdmin() {
		return nil, invalid("tables cannot be created in database %s", db.Name())
	}
	if !c.Temporary {
		if err := requireCreate(sess, "create tables"); err != nil {
			return nil, err
		}
	}
	if err := checkRelationName(db, c.Name); err != nil {
		return nil, err
	}

	var parent *catalog.SysTable
	if c.Parent != "" {
		p, err := db.Table(c.Parent)
		if err != nil {
			return nil, err
		}
		if p.IsTemporary() != c.Temporary {
			return nil, invalid("table %s and its parent %s must both be temporary or both persistent", c.Name, p.Name())
		}
		if c.Scheme != types.PartitionInherit {
			return nil, invalid("child table %s takes the partitioning of %s", c.Name, p.Name())
		}
		parent = p
	}

	d := &delta{db: db, session: sess}
	var ids idSource
	var tableID int64
	if c.Temporary {
		id, err := md.AcquireTempTableID(ctx)
		if err != nil {
			return nil, err
		}
		d.tempID = id
		tableID = id
		ids = &localIDs{}
	} else {
		s := newStoreIDs(tx)
		id, err := s.next(ctx, "xsystables", "tableid")
		if err != nil {
			return nil, err
		}
		tableID = id
		ids = s
	}

	def, err := c.build(ctx, ids, db, tableID, parent, sess.Login().ID)
	if err != nil {
		d.abort(md)
		return nil, err
	}

	if !c.Temporary {
		if err := insertTable(ctx, tx, ids, def); err != nil {
			return nil, err
		}
		if def, err = catalog.ReadTable(ctx, tx, tableID); err != nil {
			return nil, err
		}
	}
	d.putTables = append(d.putTables, def)
	d.note(catalog.KindTable, catalog.ActionCreate, c.Name)
	return d, nil
}

func (c *CreateTable) build(ctx context.Context, ids idSource, db *catalog.SysDatabase, id int64, parent *catalog.SysTable, owner int64) (*catalog.TableDef, error) {
	def := &catalog.TableDef{
		Table: catalog.TableRecord{
			ID:         id,
			DatabaseID: db.ID(),
			Name:       c.Name,
			Scheme:     c.Scheme,
			Owner:      &owner,
		},
		Temporary: c.Temporary,
	}
	if parent != nil {
		pid := parent.ID()
		def.Table.ParentID = &pid
	}
	if c.Tablespace != "" {
		ts, err := db.Metadata().Tablespace(c.Tablespace)
		if err != nil {
			return nil, err
		}
		def.Table.TablespaceID = &ts.ID
	}

	b, err := newBuilder(ctx, ids, db, def)
	if err != nil {
		return nil, err
	}

	if parent == nil && len(c.Columns) == 0 {
		return nil, invalid("table %s has no columns", c.Name)
	}
	if parent != nil && len(c.Columns) > 0 {
		// a child with its own columns carries a copy of the parent's
		for _, pc := range parent.Columns() {
			cd := ColumnDef{
				Name: pc.Name, Type: pc.Type, Length: pc.Length, Scale: pc.Scale, Precision: pc.Precision,
				NotNull: !pc.Nullable, Serial: pc.Serial, Default: pc.Default, NativeDef: pc.NativeDef,
			}
			if _, err := b.addColumn(cd); err != nil {
				return nil, err
			}
		}
	}
	for _, cd := range c.Columns {
		if strings.EqualFold(cd.Name, catalog.RowIDColumn) {
			return nil, invalid("column name %s is reserved", catalog.RowIDColumn)
		}
		if _, err := b.addColumn(cd); err != nil {
			return nil, err
		}
	}
	if parent == nil {
		if _, err := b.addColumn(ColumnDef{Name: catalog.RowIDColumn, Type: types.TypeBigInt, NotNull: true}); err != nil {
			return nil, err
		}
	}

	if parent == nil {
		if err := c.partition(b); err != nil {
			return nil, err
		}
	}

	if c.PrimaryKey != nil {
		if err := b.addKey(*c.PrimaryKey, catalog.ConstraintPrimary); err != nil {
			return nil, err
		}
	}
	for _, k := range c.Uniques {
		if err := b.addKey(k, catalog.ConstraintUnique); err != nil {
			return nil, err
		}
	}
	for _, fk := range c.ForeignKeys {
		if err := b.addForeignKey(fk); err != nil {
			return nil, err
		}
	}
	for _, ck := range c.Checks {
		if err := b.addCheck(ck); err != nil {
			return nil, err
		}
	}
	return def, nil
}

// partition fills in the scheme, partition column and map of a root table.
func (c *CreateTable) partition(b *tableBuilder) error {
	db := b.db
	scheme := c.Scheme
	if scheme == types.PartitionInherit {
		scheme = types.PartitionRoundRobin
	}
	if !scheme.Valid() {
		return invalid("table %s: unknown partition scheme %d", c.Name, int(scheme))
	}
	b.def.Table.Scheme = scheme

	if scheme.NeedsColumn() {
		if c.PartColumn == "" {
			return invalid("table %s: %s partitioning needs a partition column", c.Name, scheme)
		}
		if _, _, err := b.column(c.PartColumn); err != nil {
			return err
		}
		col := c.PartColumn
		b.def.Table.PartColumn = &col
	} else if c.PartColumn != "" {
		return invalid("table %s: %s partitioning takes no partition column", c.Name, scheme)
	}

	dbNodes := make(map[int]bool)
	for _, n := range db.NodeIDs() {
		dbNodes[n] = true
	}
	nodes := c.Nodes
	for _, n := range nodes {
		if !dbNodes[n] {
			return invalid("node %d does not hold database %s", n, db.Name())
		}
	}
	if len(nodes) == 0 {
		nodes = db.NodeIDs()
	}
	if len(nodes) == 0 {
		return invalid("database %s has no nodes", db.Name())
	}

	var (
		m   partition.Map
		err error
	)
	switch scheme {
	case types.PartitionOneNode:
		if len(c.Nodes) > 1 {
			return invalid("table %s: one node partitioning takes a single node", c.Name)
		}
		n := nodes[0]
		if len(c.Nodes) == 0 {
			n = db.Balancer().Pick(nodes)
		}
		m = partition.NewOneNode(n)
	case types.PartitionReplicated:
		m, err = partition.NewReplicated(nodes)
	case types.PartitionHash:
		m, err = partition.NewHash(nodes, partition.DefaultHashBuckets)
	case types.PartitionRange:
		for _, rb := range c.RangeBounds {
			if !dbNodes[rb.NodeID] {
				return invalid("node %d does not hold database %s", rb.NodeID, db.Name())
			}
		}
		m, err = partition.NewRange(c.RangeBounds)
	case types.PartitionRoundRobin:
		m, err = partition.NewRoundRobin(nodes)
	}
	if err != nil {
		return invalid("table %s: %v", c.Name, err)
	}
	b.def.Parts = m.Entries()
	return nil
}

// checkRelationName fails if a table or view called name exists in db.
func checkRelationName(db *catalog.SysDatabase, name string) error {
	if name == "" {
		return invalid("table name is empty")
	}
	if db.HasTable(name) {
		return duplicate("table %s already exists in database %s", name, db.Name())
	}
	if _, err := db.View(name); err == nil {
		return duplicate("view %s already exists in database %s", name, db.Name())
	}
	return nil
}

// DropTable drops a table. References from other tables and views over
// the table make the drop fail unless Cascade is set, in which case the
// referencing constraints and the views are dropped with it.
type DropTable struct {
	Name    string
	Cascade bool
}

func (c *DropTable) lockTables(db *catalog.SysDatabase) []*catalog.SysTable {
	tables := lookupTables(db, c.Name)
	if len(tables) == 1 {
		for _, r := range tables[0].ReferencedBy() {
			tables = append(tables, r.Table())
		}
	}
	return tables
}

func (c *DropTable) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	db := sess.Database()
	t, err := db.Table(c.Name)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(sess, t, "drop"); err != nil {
		return nil, err
	}
	if children := t.Children(); len(children) > 0 {
		return nil, inUse("table %s has child table %s", t.Name(), children[0].Name())
	}

	d := &delta{db: db, session: sess}
	ids := newStoreIDs(tx)

	// referencing tables lose the constraint
	rewrite := make(map[int64]*catalog.TableDef)
	var order []int64
	for _, r := range t.ReferencedBy() {
		src := r.Table()
		if src == t {
			continue
		}
		if !c.Cascade {
			return nil, inUse("table %s is referenced by constraint %s on %s", t.Name(), r.Constraint().Name, src.Name())
		}
		def, ok := rewrite[src.ID()]
		if !ok {
			def = src.Def().Clone()
			rewrite[src.ID()] = def
			order = append(order, src.ID())
		}
		b, err := newBuilder(ctx, ids, db, def)
		if err != nil {
			return nil, err
		}
		if _, err := b.dropConstraint(r.Constraint().Name); err != nil {
			return nil, err
		}
		d.note(catalog.KindConstraint, catalog.ActionDrop, src.Name()+"."+r.Constraint().Name)
	}

	views := db.ViewsOn(t.ID())
	if len(views) > 0 && !c.Cascade {
		return nil, inUse("table %s is used by view %s", t.Name(), views[0].Name)
	}
	for _, v := range views {
		if err := deleteView(ctx, tx, v.ID); err != nil {
			return nil, err
		}
		d.dropViews = append(d.dropViews, v)
		d.note(catalog.KindView, catalog.ActionDrop, v.Name)
	}

	for _, id := range order {
		stored, err := replaceTable(ctx, tx, ids, rewrite[id])
		if err != nil {
			return nil, err
		}
		d.putTables = append(d.putTables, stored)
	}

	if !t.IsTemporary() {
		if err := deleteTable(ctx, tx, t.ID()); err != nil {
			return nil, err
		}
	}
	d.dropTables = append(d.dropTables, t)
	d.note(catalog.KindTable, catalog.ActionDrop, t.Name())
	return d, nil
}

// RenameTable renames a table.
type RenameTable struct {
	Name    string
	NewName string
}

func (c *RenameTable) lockTables(db *catalog.SysDatabase) []*catalog.SysTable {
	return lookupTables(db, c.Name)
}

func (c *RenameTable) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	db := sess.Database()
	t, err := db.Table(c.Name)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(sess, t, "rename"); err != nil {
		return nil, err
	}
	if err := checkRelationName(db, c.NewName); err != nil {
		return nil, err
	}
	if views := db.ViewsOn(t.ID()); len(views) > 0 {
		return nil, inUse("table %s is used by view %s", t.Name(), views[0].Name)
	}

	def := t.Def().Clone()
	def.Table.Name = c.NewName
	if !def.Temporary {
		if _, err := tx.Exec(ctx, `UPDATE xsystables SET tablename = ? WHERE tableid = ?`, c.NewName, t.ID()); err != nil {
			return nil, err
		}
		if def, err = catalog.ReadTable(ctx, tx, t.ID()); err != nil {
			return nil, err
		}
	}

	d := &delta{db: db, session: sess, putTables: []*catalog.TableDef{def}}
	d.note(catalog.KindTable, catalog.ActionAlter, c.Name+" -> "+c.NewName)
	return d, nil
}
