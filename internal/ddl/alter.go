package ddl

import (
	"context"
	"strings"

	"github.com/xdbcore/xdb/internal/catalog"
	"github.com/xdbcore/xdb/internal/metastore"
)

// alteration rewrites a table and the descendants holding copies of its
// columns. Each gets a cloned definition; commit stores them all.
type alteration struct {
	ctx  context.Context
	tx   *metastore.Tx
	ids  *storeIDs
	db   *catalog.SysDatabase
	sess *catalog.Session
	d    *delta
	defs []*catalog.TableDef
}

func newAlteration(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) *alteration {
	db := sess.Database()
	return &alteration{ctx: ctx, tx: tx, ids: newStoreIDs(tx), db: db, sess: sess, d: &delta{db: db, session: sess}}
}

func (a *alteration) builder(t *catalog.SysTable) (*tableBuilder, error) {
	def := t.Def().Clone()
	a.defs = append(a.defs, def)
	if def.Temporary {
		return newBuilder(a.ctx, localIDsAbove(def), a.db, def)
	}
	return newBuilder(a.ctx, a.ids, a.db, def)
}

// family returns builders for t and every descendant with columns of its
// own, for column changes that must reach the copies.
func (a *alteration) family(t *catalog.SysTable) ([]*tableBuilder, error) {
	if len(t.OwnColumns()) == 0 {
		return nil, invalid("table %s has no columns of its own; alter %s instead", t.Name(), t.Parent().Name())
	}
	tables := []*catalog.SysTable{t}
	for _, d := range t.Descendants() {
		if len(d.OwnColumns()) > 0 {
			tables = append(tables, d)
		}
	}
	out := make([]*tableBuilder, 0, len(tables))
	for _, tt := range tables {
		b, err := a.builder(tt)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (a *alteration) finish() (Delta, error) {
	for _, def := range a.defs {
		stored, err := replaceTable(a.ctx, a.tx, a.ids, def)
		if err != nil {
			return nil, err
		}
		a.d.putTables = append(a.d.putTables, stored)
	}
	return a.d, nil
}

func (a *alteration) alterable(name string) (*catalog.SysTable, error) {
	t, err := a.db.Table(name)
	if err != nil {
		return nil, err
	}
	if err := requirePrivilege(a.sess, t, catalog.PrivAlter); err != nil {
		return nil, err
	}
	return t, nil
}

func withDescendants(db *catalog.SysDatabase, name string) []*catalog.SysTable {
	tables := lookupTables(db, name)
	if len(tables) == 1 {
		tables = append(tables, tables[0].Descendants()...)
	}
	return tables
}

// AddColumn adds a column to a table.
type AddColumn struct {
	Table  string
	Column ColumnDef
}

func (c *AddColumn) lockTables(db *catalog.SysDatabase) []*catalog.SysTable {
	return withDescendants(db, c.Table)
}

func (c *AddColumn) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	a := newAlteration(ctx, tx, sess)
	t, err := a.alterable(c.Table)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(c.Column.Name, catalog.RowIDColumn) {
		return nil, invalid("column name %s is reserved", catalog.RowIDColumn)
	}
	if c.Column.NotNull && c.Column.Default == "" && !c.Column.Serial && t.NumRows() > 0 {
		return nil, invalid("column %s must have a default to be NOT NULL on a table with rows", c.Column.Name)
	}
	bs, err := a.family(t)
	if err != nil {
		return nil, err
	}
	for _, b := range bs {
		if _, err := b.addColumn(c.Column); err != nil {
			return nil, err
		}
	}
	a.d.note(catalog.KindColumn, catalog.ActionCreate, t.Name()+"."+c.Column.Name)
	return a.finish()
}

// DropColumn drops a column that no index, constraint, partitioning or view
// uses.
type DropColumn struct {
	Table  string
	Column string
}

func (c *DropColumn) lockTables(db *catalog.SysDatabase) []*catalog.SysTable {
	return withDescendants(db, c.Table)
}

func (c *DropColumn) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	a := newAlteration(ctx, tx, sess)
	t, err := a.alterable(c.Table)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(c.Column, catalog.RowIDColumn) {
		return nil, invalid("column %s cannot be dropped", catalog.RowIDColumn)
	}
	bs, err := a.family(t)
	if err != nil {
		return nil, err
	}
	for _, b := range bs {
		id, _, err := b.column(c.Column)
		if err != nil {
			return nil, err
		}
		if use := b.columnInUse(id, c.Column); use != "" {
			return nil, inUse("column %s of %s is used by %s", c.Column, b.name(), use)
		}
		for _, v := range a.db.ViewsOn(b.def.Table.ID) {
			if v.DependsOnColumn(b.def.Table.ID, id) {
				return nil, inUse("column %s of %s is used by view %s", c.Column, b.name(), v.Name)
			}
		}
		user := 0
		for i, col := range b.def.Columns {
			if col.ID == id {
				b.def.Columns = append(b.def.Columns[:i:i], b.def.Columns[i+1:]...)
				break
			}
		}
		for _, col := range b.def.Columns {
			if col.Name != catalog.RowIDColumn {
				user++
			}
		}
		if user == 0 {
			return nil, invalid("column %s is the last column of %s", c.Column, b.name())
		}
	}
	a.d.note(catalog.KindColumn, catalog.ActionDrop, t.Name()+"."+c.Column)
	return a.finish()
}

// RenameColumn renames a column.
type RenameColumn struct {
	Table   string
	Column  string
	NewName string
}

func (c *RenameColumn) lockTables(db *catalog.SysDatabase) []*catalog.SysTable {
	return withDescendants(db, c.Table)
}

func (c *RenameColumn) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	a := newAlteration(ctx, tx, sess)
	t, err := a.alterable(c.Table)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(c.Column, catalog.RowIDColumn) || strings.EqualFold(c.NewName, catalog.RowIDColumn) {
		return nil, invalid("column name %s is reserved", catalog.RowIDColumn)
	}
	if c.NewName == "" {
		return nil, invalid("column name is empty")
	}
	bs, err := a.family(t)
	if err != nil {
		return nil, err
	}
	for _, b := range bs {
		id, _, err := b.column(c.Column)
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(c.Column, c.NewName) && b.hasColumn(c.NewName) {
			return nil, duplicate("column %s already exists in table %s", c.NewName, b.name())
		}
		for _, v := range a.db.ViewsOn(b.def.Table.ID) {
			if v.DependsOnColumn(b.def.Table.ID, id) {
				return nil, inUse("column %s of %s is used by view %s", c.Column, b.name(), v.Name)
			}
		}
		for i := range b.def.Columns {
			if b.def.Columns[i].ID == id {
				b.def.Columns[i].Name = c.NewName
			}
		}
		if pc := b.def.Table.PartColumn; pc != nil && strings.EqualFold(*pc, c.Column) {
			name := c.NewName
			b.def.Table.PartColumn = &name
		}
	}
	a.d.note(catalog.KindColumn, catalog.ActionAlter, t.Name()+"."+c.Column+" -> "+c.NewName)
	return a.finish()
}

// ModifyColumn changes the type, nullability or default of a column.
type ModifyColumn struct {
	Table  string
	Column string
	To     ColumnDef
}

func (c *ModifyColumn) lockTables(db *catalog.SysDatabase) []*catalog.SysTable {
	return withDescendants(db, c.Table)
}

func (c *ModifyColumn) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	a := newAlteration(ctx, tx, sess)
	t, err := a.alterable(c.Table)
	if err != nil {
		return nil, err
	}
	col, err := t.Column(c.Column)
	if err != nil {
		return nil, err
	}
	if col.IsRowID() {
		return nil, invalid("column %s cannot be modified", catalog.RowIDColumn)
	}
	if c.To.Serial != col.Serial {
		return nil, invalid("column %s: serial cannot be added or removed", c.Column)
	}
	if c.To.Serial && !c.To.Type.IsInteger() {
		return nil, invalid("serial column %s must be an integer type, not %s", c.Column, c.To.Type)
	}
	if c.To.Type != col.Type {
		for _, r := range t.ReferencedBy() {
			for _, tc := range r.TargetColumns() {
				if tc == col {
					return nil, inUse("column %s of %s is referenced by constraint %s", c.Column, t.Name(), r.Constraint().Name)
				}
			}
		}
	}
	bs, err := a.family(t)
	if err != nil {
		return nil, err
	}
	for _, b := range bs {
		id, typ, err := b.column(c.Column)
		if err != nil {
			return nil, err
		}
		if typ != c.To.Type {
			if use := b.columnInUse(id, c.Column); strings.HasPrefix(use, "constraint") || strings.HasPrefix(use, "the partitioning") {
				return nil, inUse("type of column %s of %s cannot change: used by %s", c.Column, b.name(), use)
			}
		}
		for _, v := range a.db.ViewsOn(b.def.Table.ID) {
			if v.DependsOnColumn(b.def.Table.ID, id) {
				return nil, inUse("column %s of %s is used by view %s", c.Column, b.name(), v.Name)
			}
		}
		for i := range b.def.Columns {
			r := &b.def.Columns[i]
			if r.ID != id {
				continue
			}
			r.Type = c.To.Type
			r.Length = c.To.Length
			r.Scale = c.To.Scale
			r.Precision = c.To.Precision
			r.Nullable = !c.To.NotNull && !c.To.Serial && !b.isKeyColumn(id)
			r.Default = optString(c.To.Default)
			r.NativeDef = optString(c.To.NativeDef)
		}
	}
	a.d.note(catalog.KindColumn, catalog.ActionAlter, t.Name()+"."+c.Column)
	return a.finish()
}

// isKeyColumn reports whether column id is part of the primary key.
func (b *tableBuilder) isKeyColumn(id int64) bool {
	for _, c := range b.def.Constraints {
		if c.Type != catalog.ConstraintPrimary || c.IndexID == nil {
			continue
		}
		for _, ix := range b.def.Indexes {
			if ix.ID != *c.IndexID {
				continue
			}
			for _, k := range ix.Keys {
				if k.ColumnID == id {
					return true
				}
			}
		}
	}
	return false
}

// AddConstraint adds one constraint to a table. Exactly one of the
// definitions must be set. Existing rows are not checked.
type AddConstraint struct {
	Table      string
	PrimaryKey *KeyDef
	Unique     *KeyDef
	ForeignKey *ForeignKeyDef
	Check      *CheckDef
}

func (c *AddConstraint) lockTables(db *catalog.SysDatabase) []*catalog.SysTable {
	tables := lookupTables(db, c.Table)
	if c.ForeignKey != nil {
		tables = append(tables, lookupTables(db, c.ForeignKey.RefTable)...)
	}
	return tables
}

func (c *AddConstraint) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	set := 0
	for _, ok := range []bool{c.PrimaryKey != nil, c.Unique != nil, c.ForeignKey != nil, c.Check != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, invalid("exactly one constraint must be given, got %d", set)
	}

	a := newAlteration(ctx, tx, sess)
	t, err := a.alterable(c.Table)
	if err != nil {
		return nil, err
	}
	b, err := a.builder(t)
	if err != nil {
		return nil, err
	}

	var name string
	switch {
	case c.PrimaryKey != nil:
		err = b.addKey(*c.PrimaryKey, catalog.ConstraintPrimary)
	case c.Unique != nil:
		err = b.addKey(*c.Unique, catalog.ConstraintUnique)
	case c.ForeignKey != nil:
		if !strings.EqualFold(c.ForeignKey.RefTable, t.Name()) {
			target, terr := a.db.Table(c.ForeignKey.RefTable)
			if terr != nil {
				return nil, terr
			}
			if terr := requirePrivilege(sess, target, catalog.PrivReferences); terr != nil {
				return nil, terr
			}
		}
		err = b.addForeignKey(*c.ForeignKey)
	case c.Check != nil:
		err = b.addCheck(*c.Check)
	}
	if err != nil {
		return nil, err
	}
	name = b.def.Constraints[len(b.def.Constraints)-1].Name
	a.d.note(catalog.KindConstraint, catalog.ActionCreate, t.Name()+"."+name)
	return a.finish()
}

// DropConstraint drops a constraint and the index created for it. A key
// that another table references cannot be dropped.
type DropConstraint struct {
	Table string
	Name  string
}

func (c *DropConstraint) lockTables(db *catalog.SysDatabase) []*catalog.SysTable {
	return lookupTables(db, c.Table)
}

func (c *DropConstraint) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	a := newAlteration(ctx, tx, sess)
	t, err := a.alterable(c.Table)
	if err != nil {
		return nil, err
	}
	con, err := t.Constraint(c.Name)
	if err != nil {
		return nil, err
	}
	if con.Index != nil && con.Type != catalog.ConstraintReference && a.db.IsIndexReferenced(con.Index) {
		return nil, inUse("constraint %s of %s is referenced by a foreign key", con.Name, t.Name())
	}
	b, err := a.builder(t)
	if err != nil {
		return nil, err
	}
	if _, err := b.dropConstraint(c.Name); err != nil {
		return nil, err
	}
	a.d.note(catalog.KindConstraint, catalog.ActionDrop, t.Name()+"."+con.Name)
	return a.finish()
}

// CreateIndex adds a user index.
type CreateIndex struct {
	Table      string
	Name       string
	Columns    []IndexColumn
	Unique     bool
	Using      string
	Where      string
	Tablespace string
}

func (c *CreateIndex) lockTables(db *catalog.SysDatabase) []*catalog.SysTable {
	return lookupTables(db, c.Table)
}

func (c *CreateIndex) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	a := newAlteration(ctx, tx, sess)
	t, err := a.db.Table(c.Table)
	if err != nil {
		return nil, err
	}
	if err := requirePrivilege(sess, t, catalog.PrivIndex); err != nil {
		return nil, err
	}
	if c.Name == "" {
		return nil, invalid("index name is empty")
	}
	if len(c.Columns) == 0 {
		return nil, invalid("index %s has no columns", c.Name)
	}
	var tsID int64
	if c.Tablespace != "" {
		ts, err := a.db.Metadata().Tablespace(c.Tablespace)
		if err != nil {
			return nil, err
		}
		tsID = ts.ID
	}
	b, err := a.builder(t)
	if err != nil {
		return nil, err
	}
	typ := catalog.IndexPlain
	if c.Unique {
		typ = catalog.IndexUnique
	}
	if _, err := b.addIndex(c.Name, c.Columns, typ, false, c.Using, c.Where, tsID); err != nil {
		return nil, err
	}
	a.d.note(catalog.KindIndex, catalog.ActionCreate, t.Name()+"."+c.Name)
	return a.finish()
}

// DropIndex drops a user index. Indexes behind constraints go with their
// constraint.
type DropIndex struct {
	Table string
	Name  string
}

func (c *DropIndex) lockTables(db *catalog.SysDatabase) []*catalog.SysTable {
	return lookupTables(db, c.Table)
}

func (c *DropIndex) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	a := newAlteration(ctx, tx, sess)
	t, err := a.db.Table(c.Table)
	if err != nil {
		return nil, err
	}
	if err := requirePrivilege(sess, t, catalog.PrivIndex); err != nil {
		return nil, err
	}
	idx, err := t.Index(c.Name)
	if err != nil {
		return nil, err
	}
	if a.db.IsIndexReferenced(idx) {
		return nil, inUse("index %s of %s is referenced by a foreign key", idx.Name, t.Name())
	}
	b, err := a.builder(t)
	if err != nil {
		return nil, err
	}
	if con, ok := b.constraintUsingIndex(idx.ID); ok {
		return nil, inUse("index %s of %s belongs to constraint %s", idx.Name, t.Name(), con.Name)
	}
	for i, ix := range b.def.Indexes {
		if ix.ID == idx.ID {
			b.def.Indexes = append(b.def.Indexes[:i:i], b.def.Indexes[i+1:]...)
			break
		}
	}
	a.d.note(catalog.KindIndex, catalog.ActionDrop, t.Name()+"."+idx.Name)
	return a.finish()
}

// ChangeOwner gives a table to another login.
type ChangeOwner struct {
	Table string
	Owner string
}

func (c *ChangeOwner) lockTables(db *catalog.SysDatabase) []*catalog.SysTable {
	return lookupTables(db, c.Table)
}

func (c *ChangeOwner) Execute(ctx context.Context, tx *metastore.Tx, sess *catalog.Session) (Delta, error) {
	a := newAlteration(ctx, tx, sess)
	t, err := a.db.Table(c.Table)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(sess, t, "change the owner of"); err != nil {
		return nil, err
	}
	login, err := a.db.Metadata().Login(c.Owner)
	if err != nil {
		return nil, err
	}
	b, err := a.builder(t)
	if err != nil {
		return nil, err
	}
	id := login.ID
	b.def.Table.Owner = &id
	a.d.note(catalog.KindTable, catalog.ActionAlter, t.Name())
	return a.finish()
}
