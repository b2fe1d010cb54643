package ddl

import (
	"context"
	"fmt"
	"strings"

	"github.com/xdbcore/xdb/internal/catalog"
	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/internal/sqlexpr"
	"github.com/xdbcore/xdb/pkg/types"
)

// ColumnDef declares a column.
type ColumnDef struct {
	Name      string
	Type      types.SQLType
	Length    int
	Scale     int
	Precision int
	NotNull   bool
	Serial    bool
	Default   string
	// NativeDef overrides the declaration sent to the nodes.
	NativeDef string
}

// ForeignKeyDef declares a reference. Empty RefColumns means the primary
// key of RefTable.
type ForeignKeyDef struct {
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
}

// KeyDef declares a primary key or unique constraint.
type KeyDef struct {
	Name    string
	Columns []string
}

// CheckDef declares a check constraint.
type CheckDef struct {
	Name string
	Expr string
}

// IndexColumn is one key of a new index.
type IndexColumn struct {
	Name       string
	Descending bool
	Operator   string
}

func invalid(format string, args ...interface{}) error {
	return xerrors.NewIntegrityError(xerrors.CodeInvalidDefinition, fmt.Sprintf(format, args...))
}

func duplicate(format string, args ...interface{}) error {
	return xerrors.NewIntegrityError(xerrors.CodeDuplicateObject, fmt.Sprintf(format, args...))
}

func inUse(format string, args ...interface{}) error {
	return xerrors.NewIntegrityError(xerrors.CodeObjectInUse, fmt.Sprintf(format, args...))
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optInt64(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

// tableBuilder edits a table definition. New objects get ids from ids;
// columns are found among the definition's own columns and, for child
// tables, the parent's.
type tableBuilder struct {
	ctx    context.Context
	ids    idSource
	db     *catalog.SysDatabase
	def    *catalog.TableDef
	parent *catalog.SysTable
}

func newBuilder(ctx context.Context, ids idSource, db *catalog.SysDatabase, def *catalog.TableDef) (*tableBuilder, error) {
	b := &tableBuilder{ctx: ctx, ids: ids, db: db, def: def}
	if def.Table.ParentID != nil {
		p, err := db.TableByID(*def.Table.ParentID)
		if err != nil {
			return nil, err
		}
		b.parent = p
	}
	return b, nil
}

func (b *tableBuilder) name() string {
	return b.def.Table.Name
}

func (b *tableBuilder) next(table, column string) (int64, error) {
	return b.ids.next(b.ctx, table, column)
}

// column returns the id and type of the effective column name.
func (b *tableBuilder) column(name string) (int64, types.SQLType, error) {
	for _, c := range b.def.Columns {
		if strings.EqualFold(c.Name, name) {
			return c.ID, c.Type, nil
		}
	}
	if len(b.def.Columns) == 0 && b.parent != nil {
		if c, err := b.parent.Column(name); err == nil {
			return c.ID, c.Type, nil
		}
	}
	return 0, 0, xerrors.NewLookupError(xerrors.CodeColumnNotFound, "column %s not found in table %s", name, b.name())
}

func (b *tableBuilder) columnIDs(names []string) ([]int64, error) {
	if len(names) == 0 {
		return nil, invalid("table %s: a key needs at least one column", b.name())
	}
	seen := make(map[string]bool, len(names))
	ids := make([]int64, len(names))
	for i, n := range names {
		if seen[strings.ToLower(n)] {
			return nil, invalid("table %s: column %s listed twice", b.name(), n)
		}
		seen[strings.ToLower(n)] = true
		id, _, err := b.column(n)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (b *tableBuilder) hasColumn(name string) bool {
	for _, c := range b.def.Columns {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

func (b *tableBuilder) addColumn(cd ColumnDef) (int64, error) {
	if cd.Name == "" {
		return 0, invalid("table %s: column without a name", b.name())
	}
	if b.hasColumn(cd.Name) {
		return 0, duplicate("column %s already exists in table %s", cd.Name, b.name())
	}
	if cd.Type == types.TypeUnknown {
		return 0, invalid("column %s: unknown type", cd.Name)
	}
	if cd.Serial {
		if !cd.Type.IsInteger() {
			return 0, invalid("serial column %s must be an integer type, not %s", cd.Name, cd.Type)
		}
		for _, c := range b.def.Columns {
			if c.Serial {
				return 0, invalid("table %s already has serial column %s", b.name(), c.Name)
			}
		}
	}
	id, err := b.next("xsyscolumns", "colid")
	if err != nil {
		return 0, err
	}
	seq := 1
	for _, c := range b.def.Columns {
		if c.Seq >= seq {
			seq = c.Seq + 1
		}
	}
	b.def.Columns = append(b.def.Columns, catalog.ColumnRecord{
		ID:        id,
		TableID:   b.def.Table.ID,
		Seq:       seq,
		Name:      cd.Name,
		Type:      cd.Type,
		Length:    cd.Length,
		Scale:     cd.Scale,
		Precision: cd.Precision,
		Nullable:  !cd.NotNull && !cd.Serial,
		Serial:    cd.Serial,
		Default:   optString(cd.Default),
		NativeDef: optString(cd.NativeDef),
	})
	return id, nil
}

func (b *tableBuilder) setNotNull(ids []int64) {
	for i := range b.def.Columns {
		for _, id := range ids {
			if b.def.Columns[i].ID == id {
				b.def.Columns[i].Nullable = false
			}
		}
	}
}

// uniqueName returns base, or base with a number appended, so that it
// clashes with no constraint or index of the table.
func (b *tableBuilder) uniqueName(base string) string {
	taken := func(n string) bool {
		for _, c := range b.def.Constraints {
			if strings.EqualFold(c.Name, n) {
				return true
			}
		}
		for _, ix := range b.def.Indexes {
			if strings.EqualFold(ix.Name, n) {
				return true
			}
		}
		return false
	}
	if !taken(base) {
		return base
	}
	for i := 1; ; i++ {
		if n := fmt.Sprintf("%s%d", base, i); !taken(n) {
			return n
		}
	}
}

func (b *tableBuilder) checkNameFree(name string) error {
	for _, c := range b.def.Constraints {
		if strings.EqualFold(c.Name, name) {
			return duplicate("constraint %s already exists on table %s", name, b.name())
		}
	}
	for _, ix := range b.def.Indexes {
		if strings.EqualFold(ix.Name, name) {
			return duplicate("index %s already exists on table %s", name, b.name())
		}
	}
	return nil
}

// addIndex adds an index over cols and returns its id.
func (b *tableBuilder) addIndex(name string, cols []IndexColumn, typ catalog.IndexType, sysCreated bool, using, where string, tablespace int64) (int64, error) {
	if err := b.checkNameFree(name); err != nil {
		return 0, err
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	colIDs, err := b.columnIDs(names)
	if err != nil {
		return 0, err
	}
	id, err := b.next("xsysindexes", "idxid")
	if err != nil {
		return 0, err
	}
	ix := catalog.IndexRecord{
		ID:           id,
		Name:         name,
		TableID:      b.def.Table.ID,
		Type:         optString(catalog.PersistedIndexType(typ)),
		TablespaceID: optInt64(tablespace),
		Using:        optString(using),
		Where:        optString(where),
		SysCreated:   sysCreated,
	}
	for i, c := range cols {
		kid, err := b.next("xsysindexkeys", "idxkeyid")
		if err != nil {
			return 0, err
		}
		ix.Keys = append(ix.Keys, catalog.IndexKeyRecord{
			ID:         kid,
			IndexID:    id,
			Seq:        i + 1,
			Descending: c.Descending,
			ColumnID:   colIDs[i],
			Operator:   optString(c.Operator),
		})
	}
	b.def.Indexes = append(b.def.Indexes, ix)
	return id, nil
}

func plainColumns(names []string) []IndexColumn {
	out := make([]IndexColumn, len(names))
	for i, n := range names {
		out[i] = IndexColumn{Name: n}
	}
	return out
}

// addKey adds a primary key or unique constraint with its backing index.
func (b *tableBuilder) addKey(k KeyDef, typ catalog.ConstraintType) error {
	idxType := catalog.IndexUnique
	suffix := "_key"
	if typ == catalog.ConstraintPrimary {
		idxType = catalog.IndexPrimary
		suffix = "_pk"
		for _, c := range b.def.Constraints {
			if c.Type == catalog.ConstraintPrimary {
				return duplicate("table %s already has primary key %s", b.name(), c.Name)
			}
		}
		if b.parent != nil && b.parent.PrimaryKey() != nil {
			return duplicate("table %s inherits a primary key from %s", b.name(), b.parent.Name())
		}
	}
	name := k.Name
	if name == "" {
		name = b.uniqueName(b.name() + suffix)
	}
	if err := b.checkNameFree(name); err != nil {
		return err
	}
	idxID, err := b.addIndex(name, plainColumns(k.Columns), idxType, true, "", "", 0)
	if err != nil {
		return err
	}
	if typ == catalog.ConstraintPrimary {
		ids, _ := b.columnIDs(k.Columns)
		b.setNotNull(ids)
	}
	id, err := b.next("xsysconstraints", "constid")
	if err != nil {
		return err
	}
	b.def.Constraints = append(b.def.Constraints, catalog.ConstraintRecord{
		ID: id, TableID: b.def.Table.ID, Name: name, Type: typ, IndexID: &idxID,
		Soft: b.uniqueNeedsCheck(k.Columns),
	})
	return nil
}

// uniqueNeedsCheck reports whether rows with equal keys may land on
// different nodes, which nodes cannot detect on their own.
func (b *tableBuilder) uniqueNeedsCheck(cols []string) bool {
	scheme, partCol := b.partitioning()
	switch scheme {
	case types.PartitionOneNode, types.PartitionReplicated:
		return false
	case types.PartitionHash, types.PartitionRange:
		for _, c := range cols {
			if strings.EqualFold(c, partCol) {
				return false
			}
		}
	}
	return true
}

func (b *tableBuilder) partitioning() (types.PartitionScheme, string) {
	r := b.def.Table
	if r.Scheme != types.PartitionInherit {
		col := ""
		if r.PartColumn != nil {
			col = *r.PartColumn
		}
		return r.Scheme, col
	}
	if b.parent != nil {
		return b.parent.PartitionScheme(), b.parent.PartitionColumn()
	}
	return types.PartitionInherit, ""
}

func (b *tableBuilder) nodes() []int {
	if b.def.Table.Scheme != types.PartitionInherit {
		seen := make(map[int]bool)
		var out []int
		for _, e := range b.def.Parts {
			if !seen[e.NodeID] {
				seen[e.NodeID] = true
				out = append(out, e.NodeID)
			}
		}
		return out
	}
	if b.parent != nil {
		return b.parent.Nodes()
	}
	return nil
}

// addForeignKey adds a reference constraint with a system index on the
// referencing columns. A reference to the table itself resolves against
// the definition being built.
func (b *tableBuilder) addForeignKey(fk ForeignKeyDef) error {
	if b.def.Temporary {
		return invalid("temporary table %s cannot have foreign keys", b.name())
	}
	colIDs, err := b.columnIDs(fk.Columns)
	if err != nil {
		return err
	}

	var (
		targetID    int64
		targetIdxID int64
		refColIDs   []int64
		soft        bool
	)
	if strings.EqualFold(fk.RefTable, b.name()) {
		targetID = b.def.Table.ID
		refs := fk.RefColumns
		if len(refs) == 0 {
			refs = b.keyColumns(catalog.ConstraintPrimary)
			if len(refs) == 0 {
				return invalid("table %s has no primary key to reference", b.name())
			}
		}
		if refColIDs, err = b.columnIDs(refs); err != nil {
			return err
		}
		if targetIdxID = b.matchKeyIndex(refColIDs); targetIdxID == 0 {
			return invalid("columns (%s) of %s are not a primary or unique key", strings.Join(refs, ", "), b.name())
		}
		soft = b.uniqueNeedsCheck(fk.Columns)
	} else {
		target, err := b.db.Table(fk.RefTable)
		if err != nil {
			return err
		}
		if target.IsTemporary() {
			return invalid("cannot reference temporary table %s", target.Name())
		}
		idx, cols, err := targetKey(target, fk.RefColumns)
		if err != nil {
			return err
		}
		targetID, targetIdxID = target.ID(), idx.ID
		for _, c := range cols {
			refColIDs = append(refColIDs, c.ID)
		}
		soft = !b.colocated(fk.Columns, target, cols)
	}

	if len(refColIDs) != len(colIDs) {
		return invalid("foreign key on %s has %d columns but the referenced key has %d", b.name(), len(colIDs), len(refColIDs))
	}

	name := fk.Name
	if name == "" {
		name = b.uniqueName(b.name() + "_fk")
	}
	if err := b.checkNameFree(name); err != nil {
		return err
	}
	idxID, err := b.addIndex(b.uniqueName(name+"_idx"), plainColumns(fk.Columns), catalog.IndexPlain, true, "", "", 0)
	if err != nil {
		return err
	}

	id, err := b.next("xsysconstraints", "constid")
	if err != nil {
		return err
	}
	refID, err := b.next("xsysreferences", "refid")
	if err != nil {
		return err
	}
	ref := &catalog.ReferenceRecord{ID: refID, ConstraintID: id, TargetTableID: targetID, TargetIndexID: targetIdxID}
	for i := range colIDs {
		kid, err := b.next("xsysforeignkeys", "fkeyid")
		if err != nil {
			return err
		}
		ref.Keys = append(ref.Keys, catalog.ForeignKeyRecord{
			ID: kid, ReferenceID: refID, Seq: i + 1, ColumnID: colIDs[i], RefColumnID: refColIDs[i],
		})
	}
	b.def.Constraints = append(b.def.Constraints, catalog.ConstraintRecord{
		ID: id, TableID: b.def.Table.ID, Name: name, Type: catalog.ConstraintReference,
		IndexID: &idxID, Soft: soft, Reference: ref,
	})
	return nil
}

func (b *tableBuilder) keyColumns(typ catalog.ConstraintType) []string {
	for _, c := range b.def.Constraints {
		if c.Type != typ || c.IndexID == nil {
			continue
		}
		for _, ix := range b.def.Indexes {
			if ix.ID != *c.IndexID {
				continue
			}
			var out []string
			for _, k := range ix.Keys {
				for _, col := range b.def.Columns {
					if col.ID == k.ColumnID {
						out = append(out, col.Name)
					}
				}
			}
			return out
		}
	}
	return nil
}

// matchKeyIndex returns the primary or unique index of the definition whose
// keys are exactly colIDs, or zero.
func (b *tableBuilder) matchKeyIndex(colIDs []int64) int64 {
	for _, c := range b.def.Constraints {
		if (c.Type != catalog.ConstraintPrimary && c.Type != catalog.ConstraintUnique) || c.IndexID == nil {
			continue
		}
		for _, ix := range b.def.Indexes {
			if ix.ID != *c.IndexID || len(ix.Keys) != len(colIDs) {
				continue
			}
			match := true
			for i, k := range ix.Keys {
				if k.ColumnID != colIDs[i] {
					match = false
				}
			}
			if match {
				return ix.ID
			}
		}
	}
	return 0
}

// targetKey finds the primary or unique key of target over names, or the
// primary key when names is empty.
func targetKey(target *catalog.SysTable, names []string) (*catalog.SysIndex, []*catalog.SysColumn, error) {
	if len(names) == 0 {
		pk := target.PrimaryKey()
		if pk == nil || pk.Index == nil {
			return nil, nil, invalid("table %s has no primary key to reference", target.Name())
		}
		return pk.Index, pk.Index.Columns(), nil
	}
	cols := make([]*catalog.SysColumn, len(names))
	for i, n := range names {
		c, err := target.Column(n)
		if err != nil {
			return nil, nil, err
		}
		cols[i] = c
	}
	for _, c := range target.UniqueConstraints() {
		if c.Index == nil || len(c.Index.Keys) != len(cols) {
			continue
		}
		match := true
		for i, k := range c.Index.Keys {
			if k.Column != cols[i] {
				match = false
			}
		}
		if match {
			return c.Index, cols, nil
		}
	}
	if pk := target.PrimaryKey(); pk != nil && pk.Table() != target && pk.Index != nil {
		same := len(pk.Index.Keys) == len(cols)
		for i := 0; same && i < len(cols); i++ {
			same = pk.Index.Keys[i].Column == cols[i]
		}
		if same {
			return pk.Index, cols, nil
		}
	}
	return nil, nil, invalid("columns (%s) of %s are not a primary or unique key", strings.Join(names, ", "), target.Name())
}

// colocated reports whether every row and the row it references always
// live on the same node, in which case the nodes enforce the reference.
func (b *tableBuilder) colocated(cols []string, target *catalog.SysTable, refCols []*catalog.SysColumn) bool {
	if target.IsReplicated() {
		return true
	}
	scheme, partCol := b.partitioning()
	nodes := b.nodes()
	switch {
	case scheme == types.PartitionOneNode && target.PartitionScheme() == types.PartitionOneNode:
		return len(nodes) == 1 && sameInts(nodes, target.Nodes())
	case scheme == types.PartitionHash && target.PartitionScheme() == types.PartitionHash:
		if len(cols) != 1 || !strings.EqualFold(cols[0], partCol) {
			return false
		}
		if !strings.EqualFold(refCols[0].Name, target.PartitionColumn()) {
			return false
		}
		var own []int
		for _, e := range b.def.Parts {
			own = append(own, e.NodeID)
		}
		if b.def.Table.Scheme == types.PartitionInherit {
			return b.parent != nil && b.parent.PartitionMap() == target.PartitionMap()
		}
		var theirs []int
		for _, e := range target.PartitionMap().Entries() {
			theirs = append(theirs, e.NodeID)
		}
		return sameInts(own, theirs)
	}
	return false
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (b *tableBuilder) addCheck(ck CheckDef) error {
	if strings.TrimSpace(ck.Expr) == "" {
		return invalid("check constraint on %s has no expression", b.name())
	}
	if err := b.validateCheck(ck.Expr); err != nil {
		return err
	}
	name := ck.Name
	if name == "" {
		name = b.uniqueName(b.name() + "_check")
	}
	if err := b.checkNameFree(name); err != nil {
		return err
	}
	id, err := b.next("xsysconstraints", "constid")
	if err != nil {
		return err
	}
	cid, err := b.next("xsyschecks", "checkid")
	if err != nil {
		return err
	}
	b.def.Constraints = append(b.def.Constraints, catalog.ConstraintRecord{
		ID: id, TableID: b.def.Table.ID, Name: name, Type: catalog.ConstraintCheck,
		Checks: []catalog.CheckRecord{{ID: cid, ConstraintID: id, Seq: 1, Text: ck.Expr}},
	})
	return nil
}

// validateCheck parses a check expression and makes sure every column it
// reads belongs to the table.
func (b *tableBuilder) validateCheck(text string) error {
	expr, err := sqlexpr.ParseExpr(text)
	if err != nil {
		return invalid("check constraint on %s: %v", b.name(), err)
	}
	if sqlexpr.HasAggregate(expr) {
		return invalid("check constraint on %s cannot use aggregates", b.name())
	}
	star := false
	sqlexpr.Walk(expr, func(n sqlexpr.Expr) bool {
		if _, ok := n.(*sqlexpr.Star); ok {
			star = true
		}
		return !star
	})
	if star {
		return invalid("check constraint on %s cannot use *", b.name())
	}
	for _, c := range sqlexpr.Columns(expr) {
		if c.Table != "" && !strings.EqualFold(c.Table, b.name()) {
			return invalid("check constraint on %s reads table %s", b.name(), c.Table)
		}
		if strings.EqualFold(c.Column, catalog.RowIDColumn) {
			return invalid("check constraint on %s reads hidden column %s", b.name(), c.Column)
		}
		if _, _, err := b.column(c.Column); err != nil {
			return err
		}
	}
	return nil
}

// dropConstraint removes constraint name and the system index behind it.
func (b *tableBuilder) dropConstraint(name string) (catalog.ConstraintRecord, error) {
	for i, c := range b.def.Constraints {
		if !strings.EqualFold(c.Name, name) {
			continue
		}
		b.def.Constraints = append(b.def.Constraints[:i:i], b.def.Constraints[i+1:]...)
		if c.IndexID != nil {
			b.dropIndexIfSystem(*c.IndexID)
		}
		return c, nil
	}
	return catalog.ConstraintRecord{}, xerrors.NewLookupError(xerrors.CodeConstraintNotFound,
		"constraint %s not found on table %s", name, b.name())
}

func (b *tableBuilder) dropIndexIfSystem(id int64) {
	for i, ix := range b.def.Indexes {
		if ix.ID == id && ix.SysCreated {
			b.def.Indexes = append(b.def.Indexes[:i:i], b.def.Indexes[i+1:]...)
			return
		}
	}
}

// constraintUsingIndex returns the constraint backed by index id, if any.
func (b *tableBuilder) constraintUsingIndex(id int64) (catalog.ConstraintRecord, bool) {
	for _, c := range b.def.Constraints {
		if c.IndexID != nil && *c.IndexID == id {
			return c, true
		}
	}
	return catalog.ConstraintRecord{}, false
}

// columnInUse returns a description of what uses column id, or "".
func (b *tableBuilder) columnInUse(id int64, name string) string {
	for _, ix := range b.def.Indexes {
		for _, k := range ix.Keys {
			if k.ColumnID == id {
				return "index " + ix.Name
			}
		}
	}
	for _, c := range b.def.Constraints {
		if c.Reference == nil {
			continue
		}
		for _, k := range c.Reference.Keys {
			if k.ColumnID == id {
				return "constraint " + c.Name
			}
		}
	}
	if pc := b.def.Table.PartColumn; pc != nil && strings.EqualFold(*pc, name) {
		return "the partitioning"
	}
	return ""
}
