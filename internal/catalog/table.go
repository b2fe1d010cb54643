package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/internal/generator"
	"github.com/xdbcore/xdb/internal/partition"
	"github.com/xdbcore/xdb/pkg/types"
)

const maxInheritanceDepth = 64

// tableState is an immutable definition of a table. Refreshing a table
// swaps in a new state, so readers never see a half-applied change.
type tableState struct {
	def *TableDef

	name          string
	scheme        types.PartitionScheme
	partColumn    string
	partMap       partition.Map
	ownerID       int64
	parentID      int64
	tablespaceID  int64
	columns       []*SysColumn
	columnsByName map[string]*SysColumn
	columnsByID   map[int64]*SysColumn
	indexes       []*SysIndex
	indexesByID   map[int64]*SysIndex
	constraints   []*SysConstraint
	references    []*SysReference
	permissions   []*SysPermission
}

// SysTable is a table of a database. Columns, partitioning and generators
// not defined locally are taken from the parent table.
type SysTable struct {
	db *SysDatabase
	id int64

	st atomic.Pointer[tableState]

	genMu       sync.Mutex
	serial      *generator.Generator
	serialColID int64
	rowID       *generator.Generator

	// session owning a temporary table
	sessionID int64
}

func newTable(db *SysDatabase, def *TableDef) (*SysTable, error) {
	t := &SysTable{db: db, id: def.Table.ID}
	st, err := t.build(def)
	if err != nil {
		return nil, err
	}
	t.st.Store(st)
	return t, nil
}

func (t *SysTable) state() *tableState {
	return t.st.Load()
}

func key(name string) string {
	return strings.ToLower(name)
}

func (t *SysTable) build(def *TableDef) (*tableState, error) {
	r := def.Table
	st := &tableState{
		def:           def,
		name:          r.Name,
		scheme:        r.Scheme,
		columnsByName: make(map[string]*SysColumn, len(def.Columns)),
		columnsByID:   make(map[int64]*SysColumn, len(def.Columns)),
		indexesByID:   make(map[int64]*SysIndex, len(def.Indexes)),
	}
	if r.PartColumn != nil {
		st.partColumn = *r.PartColumn
	}
	if r.Owner != nil {
		st.ownerID = *r.Owner
	}
	if r.ParentID != nil {
		st.parentID = *r.ParentID
	}
	if r.TablespaceID != nil {
		st.tablespaceID = *r.TablespaceID
	}

	cols := append([]ColumnRecord(nil), def.Columns...)
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Seq < cols[j].Seq })
	for _, cr := range cols {
		c := newColumn(t, cr)
		if _, dup := st.columnsByName[key(c.Name)]; dup {
			return nil, xerrors.NewIntegrityError(xerrors.CodeDuplicateObject,
				fmt.Sprintf("table %s: column %s defined twice", r.Name, c.Name))
		}
		st.columns = append(st.columns, c)
		st.columnsByName[key(c.Name)] = c
		st.columnsByID[c.ID] = c
	}

	colByID := func(id int64) (*SysColumn, error) {
		if c, ok := st.columnsByID[id]; ok {
			return c, nil
		}
		if p := t.parentOf(st); p != nil {
			if c := p.ColumnByID(id); c != nil {
				return c, nil
			}
		}
		return nil, xerrors.NewLookupError(xerrors.CodeColumnNotFound, "table %s: column %d not found", r.Name, id)
	}

	for _, ir := range def.Indexes {
		ix := &SysIndex{
			table:      t,
			ID:         ir.ID,
			Name:       ir.Name,
			Type:       indexTypeFromColumn(ir.Type),
			SysCreated: ir.SysCreated,
		}
		if ir.Using != nil {
			ix.Using = *ir.Using
		}
		if ir.Where != nil {
			ix.Where = *ir.Where
		}
		if ir.TablespaceID != nil {
			ix.TablespaceID = *ir.TablespaceID
		}
		keys := append([]IndexKeyRecord(nil), ir.Keys...)
		sort.SliceStable(keys, func(i, j int) bool { return keys[i].Seq < keys[j].Seq })
		for _, kr := range keys {
			c, err := colByID(kr.ColumnID)
			if err != nil {
				return nil, err
			}
			k := &SysIndexKey{ID: kr.ID, Seq: kr.Seq, Column: c, Descending: kr.Descending}
			if kr.Operator != nil {
				k.Operator = *kr.Operator
			}
			ix.Keys = append(ix.Keys, k)
		}
		st.indexes = append(st.indexes, ix)
		st.indexesByID[ix.ID] = ix
	}

	for _, cr := range def.Constraints {
		c := &SysConstraint{table: t, ID: cr.ID, Name: cr.Name, Type: cr.Type, Soft: cr.Soft}
		if cr.IndexID != nil {
			ix, ok := st.indexesByID[*cr.IndexID]
			if !ok {
				return nil, xerrors.NewLookupError(xerrors.CodeIndexNotFound,
					"table %s: constraint %s uses missing index %d", r.Name, cr.Name, *cr.IndexID)
			}
			c.Index = ix
			switch cr.Type {
			case ConstraintPrimary:
				ix.Type = IndexPrimary
			case ConstraintUnique:
				if ix.Type < IndexUnique {
					ix.Type = IndexUnique
				}
			}
		}
		if ref := cr.Reference; ref != nil {
			sr := &SysReference{
				constraint:    c,
				ID:            ref.ID,
				TargetTableID: ref.TargetTableID,
				TargetIndexID: ref.TargetIndexID,
			}
			keys := append([]ForeignKeyRecord(nil), ref.Keys...)
			sort.SliceStable(keys, func(i, j int) bool { return keys[i].Seq < keys[j].Seq })
			for _, fk := range keys {
				col, err := colByID(fk.ColumnID)
				if err != nil {
					return nil, err
				}
				sr.Keys = append(sr.Keys, &SysForeignKey{ID: fk.ID, Seq: fk.Seq, Column: col, RefColumnID: fk.RefColumnID})
			}
			c.Reference = sr
			st.references = append(st.references, sr)
		}
		checks := append([]CheckRecord(nil), cr.Checks...)
		sort.SliceStable(checks, func(i, j int) bool { return checks[i].Seq < checks[j].Seq })
		for _, ck := range checks {
			c.Checks = append(c.Checks, ck.Text)
		}
		st.constraints = append(st.constraints, c)
	}

	for _, ix := range st.indexes {
		for _, k := range ix.Keys {
			if k.Column.table == t && ix.Type > k.Column.indexType {
				k.Column.indexType = ix.Type
			}
		}
	}

	for _, pr := range def.Privileges {
		p := &SysPermission{table: t, ID: pr.ID, bits: pr.Bits}
		if pr.UserID != nil {
			p.UserID = *pr.UserID
		}
		st.permissions = append(st.permissions, p)
	}

	if st.scheme != types.PartitionInherit && len(def.Parts) > 0 {
		m, err := partition.FromEntries(st.scheme, def.Parts)
		if err != nil {
			return nil, xerrors.NewIntegrityError(xerrors.CodeInvalidDefinition,
				fmt.Sprintf("table %s: %v", r.Name, err))
		}
		st.partMap = m
	}
	return st, nil
}

func (t *SysTable) parentOf(st *tableState) *SysTable {
	if st.parentID == 0 || t.db == nil {
		return nil
	}
	p, _ := t.db.TableByID(st.parentID)
	return p
}

// resetGenerators drops the serial generator when the column it serves is
// gone from st.
func (t *SysTable) resetGenerators(st *tableState) {
	t.genMu.Lock()
	defer t.genMu.Unlock()
	if t.serial != nil {
		if c, ok := st.columnsByID[t.serialColID]; !ok || !c.Serial {
			t.serial = nil
			t.serialColID = 0
		}
	}
}

// ID returns the table id.
func (t *SysTable) ID() int64 {
	return t.id
}

// Name returns the table name.
func (t *SysTable) Name() string {
	return t.state().name
}

// String returns the table name.
func (t *SysTable) String() string {
	return t.Name()
}

// Database returns the owning database.
func (t *SysTable) Database() *SysDatabase {
	return t.db
}

// Def returns the definition the table was built from. Callers must not
// modify it.
func (t *SysTable) Def() *TableDef {
	return t.state().def
}

// IsTemporary reports whether the table is a session table.
func (t *SysTable) IsTemporary() bool {
	return t.state().def.Temporary
}

// SessionID returns the session owning a temporary table.
func (t *SysTable) SessionID() int64 {
	return t.sessionID
}

// NumRows returns the row count estimate.
func (t *SysTable) NumRows() int64 {
	return t.state().def.Table.NumRows
}

// OwnerID returns the owning login id, zero if none.
func (t *SysTable) OwnerID() int64 {
	return t.state().ownerID
}

// TablespaceID returns the tablespace id, zero if none.
func (t *SysTable) TablespaceID() int64 {
	return t.state().tablespaceID
}

// ParentID returns the parent table id, zero if none.
func (t *SysTable) ParentID() int64 {
	return t.state().parentID
}

// Parent returns the parent table, or nil.
func (t *SysTable) Parent() *SysTable {
	return t.parentOf(t.state())
}

// Children returns the tables inheriting directly from t.
func (t *SysTable) Children() []*SysTable {
	if t.db == nil {
		return nil
	}
	var out []*SysTable
	for _, c := range t.db.Tables() {
		if c.ParentID() == t.id {
			out = append(out, c)
		}
	}
	return out
}

// Descendants returns every table below t in the inheritance tree.
func (t *SysTable) Descendants() []*SysTable {
	var out []*SysTable
	queue := t.Children()
	for depth := 0; len(queue) > 0 && depth < maxInheritanceDepth; depth++ {
		var next []*SysTable
		for _, c := range queue {
			out = append(out, c)
			next = append(next, c.Children()...)
		}
		queue = next
	}
	return out
}

// OwnColumns returns the columns defined on t itself.
func (t *SysTable) OwnColumns() []*SysColumn {
	return append([]*SysColumn(nil), t.state().columns...)
}

// Columns returns the effective columns: t's own, or its parent's when t
// defines none.
func (t *SysTable) Columns() []*SysColumn {
	cur := t
	for depth := 0; cur != nil && depth < maxInheritanceDepth; depth++ {
		if cols := cur.state().columns; len(cols) > 0 {
			return append([]*SysColumn(nil), cols...)
		}
		cur = cur.Parent()
	}
	return nil
}

// Column returns the effective column name.
func (t *SysTable) Column(name string) (*SysColumn, error) {
	cur := t
	for depth := 0; cur != nil && depth < maxInheritanceDepth; depth++ {
		if c, ok := cur.state().columnsByName[key(name)]; ok {
			return c, nil
		}
		cur = cur.Parent()
	}
	return nil, xerrors.NewLookupError(xerrors.CodeColumnNotFound, "column %s not found in table %s", name, t.Name())
}

// ColumnByID returns the effective column with id, or nil.
func (t *SysTable) ColumnByID(id int64) *SysColumn {
	cur := t
	for depth := 0; cur != nil && depth < maxInheritanceDepth; depth++ {
		if c, ok := cur.state().columnsByID[id]; ok {
			return c
		}
		cur = cur.Parent()
	}
	return nil
}

// Indexes returns the indexes of t.
func (t *SysTable) Indexes() []*SysIndex {
	return append([]*SysIndex(nil), t.state().indexes...)
}

// IndexByID returns index id of t, or nil.
func (t *SysTable) IndexByID(id int64) *SysIndex {
	return t.state().indexesByID[id]
}

// Index returns the index called name.
func (t *SysTable) Index(name string) (*SysIndex, error) {
	for _, ix := range t.state().indexes {
		if strings.EqualFold(ix.Name, name) {
			return ix, nil
		}
	}
	return nil, xerrors.NewLookupError(xerrors.CodeIndexNotFound, "index %s not found on table %s", name, t.Name())
}

// Constraints returns the constraints of t.
func (t *SysTable) Constraints() []*SysConstraint {
	return append([]*SysConstraint(nil), t.state().constraints...)
}

// Constraint returns the constraint called name.
func (t *SysTable) Constraint(name string) (*SysConstraint, error) {
	for _, c := range t.state().constraints {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return nil, xerrors.NewLookupError(xerrors.CodeConstraintNotFound, "constraint %s not found on table %s", name, t.Name())
}

// PrimaryKey returns the primary key constraint of t or its nearest
// ancestor, or nil.
func (t *SysTable) PrimaryKey() *SysConstraint {
	cur := t
	for depth := 0; cur != nil && depth < maxInheritanceDepth; depth++ {
		for _, c := range cur.state().constraints {
			if c.Type == ConstraintPrimary {
				return c
			}
		}
		cur = cur.Parent()
	}
	return nil
}

// UniqueConstraints returns the primary and unique constraints of t.
func (t *SysTable) UniqueConstraints() []*SysConstraint {
	var out []*SysConstraint
	for _, c := range t.state().constraints {
		if c.Type == ConstraintPrimary || c.Type == ConstraintUnique {
			out = append(out, c)
		}
	}
	return out
}

// References returns the outgoing references of t.
func (t *SysTable) References() []*SysReference {
	return append([]*SysReference(nil), t.state().references...)
}

// ReferencedBy returns the references of other tables (or t itself)
// pointing at t.
func (t *SysTable) ReferencedBy() []*SysReference {
	if t.db == nil {
		return nil
	}
	return t.db.referencesTo(t.id)
}

// PartitionScheme returns the effective partition scheme.
func (t *SysTable) PartitionScheme() types.PartitionScheme {
	if o := t.partitionOwner(); o != nil {
		return o.state().scheme
	}
	return types.PartitionInherit
}

// PartitionColumn returns the effective partition column name, empty when
// the scheme does not route by column.
func (t *SysTable) PartitionColumn() string {
	if o := t.partitionOwner(); o != nil {
		return o.state().partColumn
	}
	return ""
}

// PartitionMap returns the effective partition map, or nil.
func (t *SysTable) PartitionMap() partition.Map {
	if o := t.partitionOwner(); o != nil {
		return o.state().partMap
	}
	return nil
}

// partitionOwner returns the nearest table in the chain that defines its
// own partitioning.
func (t *SysTable) partitionOwner() *SysTable {
	cur := t
	for depth := 0; cur != nil && depth < maxInheritanceDepth; depth++ {
		if cur.state().scheme != types.PartitionInherit {
			return cur
		}
		cur = cur.Parent()
	}
	return nil
}

// Nodes returns the nodes holding rows of t, sorted.
func (t *SysTable) Nodes() []int {
	if m := t.PartitionMap(); m != nil {
		return m.Nodes()
	}
	return nil
}

// IsReplicated reports whether every node holds all rows.
func (t *SysTable) IsReplicated() bool {
	return t.PartitionScheme() == types.PartitionReplicated
}

// Permissions returns the grants on t.
func (t *SysTable) Permissions() []*SysPermission {
	return append([]*SysPermission(nil), t.state().permissions...)
}

// permission returns the grant of userID (0 for public), or nil.
func (t *SysTable) permission(userID int64) *SysPermission {
	for _, p := range t.state().permissions {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// Permission returns the grant of user, or of public when user is nil.
func (t *SysTable) Permission(user *SysUser) *SysPermission {
	if user == nil {
		return t.permission(0)
	}
	return t.permission(user.ID())
}

// Allows reports whether login may use priv on t. DBAs and the owner may
// do anything; everyone else goes through the grant chain.
func (t *SysTable) Allows(login *SysLogin, priv Privilege) bool {
	if login != nil && (login.IsDBA() || login.ID == t.OwnerID()) {
		return true
	}
	var id int64
	if login != nil {
		id = login.ID
	}
	return Resolve(t, id, priv)
}

// SerialColumn returns the effective serial column, or nil.
func (t *SysTable) SerialColumn() *SysColumn {
	for _, c := range t.Columns() {
		if c.Serial {
			return c
		}
	}
	return nil
}

// SerialGenerator returns the generator of the serial column, or nil when
// the table has none. A serial column inherited or copied from the parent
// shares the parent's generator.
func (t *SysTable) SerialGenerator() *generator.Generator {
	col := t.SerialColumn()
	if col == nil {
		return nil
	}
	if col.table != t {
		return col.table.SerialGenerator()
	}
	if p := t.Parent(); p != nil {
		// a child with its own columns carries a copy of the parent's serial
		if pc := p.SerialColumn(); pc != nil && key(pc.Name) == key(col.Name) {
			return p.SerialGenerator()
		}
	}

	t.genMu.Lock()
	defer t.genMu.Unlock()
	if t.serial == nil || t.serialColID != col.ID {
		name := t.Name() + "." + col.Name
		t.serial = generator.New(name, generator.CeilingFor(col.Type.String()), t.resync(col.Name))
		t.serialColID = col.ID
	}
	return t.serial
}

// RowIDGenerator returns the row-id generator. Tables in an inheritance
// tree share the root's generator so row ids stay unique across the tree.
func (t *SysTable) RowIDGenerator() *generator.Generator {
	if p := t.Parent(); p != nil {
		return p.RowIDGenerator()
	}
	t.genMu.Lock()
	defer t.genMu.Unlock()
	if t.rowID == nil {
		t.rowID = generator.New(t.Name()+"."+RowIDColumn, generator.BigIntMax, t.resync(RowIDColumn))
	}
	return t.rowID
}

// resync reads the current maximum of column from t and every descendant.
func (t *SysTable) resync(column string) generator.ResyncFunc {
	return func(ctx context.Context) (int64, error) {
		eng, err := t.db.Metadata().EngineFor(ctx, t.db)
		if err != nil {
			return 0, xerrors.NewGeneratorError(xerrors.CodeResyncFailed, "cannot open the execution engine", err)
		}
		if eng == nil {
			return 0, xerrors.NewGeneratorError(xerrors.CodeResyncFailed, "no execution engine is configured", nil)
		}
		targets := []generator.Target{{Table: t.Name(), Column: column, Nodes: t.Nodes()}}
		for _, d := range t.Descendants() {
			targets = append(targets, generator.Target{Table: d.Name(), Column: column, Nodes: d.Nodes()})
		}
		return generator.NodeMax(ctx, eng, targets)
	}
}
