package catalog

import (
	"fmt"
	"strings"
)

// ConstraintType is the persisted constraint kind.
type ConstraintType byte

const (
	ConstraintPrimary   ConstraintType = 'P'
	ConstraintUnique    ConstraintType = 'U'
	ConstraintReference ConstraintType = 'R'
	ConstraintCheck     ConstraintType = 'C'
)

func (t ConstraintType) String() string {
	switch t {
	case ConstraintPrimary:
		return "primary key"
	case ConstraintUnique:
		return "unique"
	case ConstraintReference:
		return "foreign key"
	case ConstraintCheck:
		return "check"
	default:
		return fmt.Sprintf("constraint(%c)", byte(t))
	}
}

// SysConstraint is a constraint of a table.
type SysConstraint struct {
	table *SysTable

	ID   int64
	Name string
	Type ConstraintType
	// Index backs primary, unique and reference constraints.
	Index *SysIndex
	// Soft constraints are enforced by the coordinator because the rows they
	// relate may live on different nodes.
	Soft      bool
	Reference *SysReference
	Checks    []string
}

// Table returns the constrained table.
func (c *SysConstraint) Table() *SysTable {
	return c.table
}

// IsDistributed reports whether the constraint needs cross-node checks.
func (c *SysConstraint) IsDistributed() bool {
	return c.Soft
}

// Description renders the constraint for violation messages.
func (c *SysConstraint) Description() string {
	var b strings.Builder
	b.WriteString(c.Type.String())
	if c.Name != "" {
		b.WriteString(" ")
		b.WriteString(c.Name)
	}
	fmt.Fprintf(&b, " on %s", c.table.Name())
	switch {
	case c.Reference != nil:
		target := fmt.Sprintf("table %d", c.Reference.TargetTableID)
		if t := c.Reference.Target(); t != nil {
			target = t.Name()
		}
		fmt.Fprintf(&b, "(%s) references %s(%s)",
			strings.Join(c.Reference.ColumnNames(), ", "), target, strings.Join(c.Reference.TargetColumnNames(), ", "))
	case c.Index != nil:
		fmt.Fprintf(&b, "(%s)", strings.Join(c.Index.ColumnNames(), ", "))
	case len(c.Checks) > 0:
		fmt.Fprintf(&b, " (%s)", strings.Join(c.Checks, " AND "))
	}
	return b.String()
}

// SysReference binds a reference constraint to the table and index it
// points at. The target is resolved by id so rebuilding either table never
// leaves a stale pointer behind.
type SysReference struct {
	constraint *SysConstraint

	ID            int64
	TargetTableID int64
	TargetIndexID int64
	Keys          []*SysForeignKey
}

// SysForeignKey pairs a local column with the referenced column.
type SysForeignKey struct {
	ID          int64
	Seq         int
	Column      *SysColumn
	RefColumnID int64
}

// Constraint returns the owning constraint.
func (r *SysReference) Constraint() *SysConstraint {
	return r.constraint
}

// Table returns the referencing table.
func (r *SysReference) Table() *SysTable {
	return r.constraint.table
}

// IsDistributed reports whether the reference needs cross-node checks.
func (r *SysReference) IsDistributed() bool {
	return r.constraint.Soft
}

// Target returns the referenced table, or nil when it is gone.
func (r *SysReference) Target() *SysTable {
	db := r.constraint.table.db
	if db == nil {
		return nil
	}
	t, _ := db.TableByID(r.TargetTableID)
	return t
}

// TargetIndex returns the referenced index, or nil when it is gone.
func (r *SysReference) TargetIndex() *SysIndex {
	t := r.Target()
	if t == nil {
		return nil
	}
	return t.IndexByID(r.TargetIndexID)
}

// ColumnNames returns the referencing column names in key order.
func (r *SysReference) ColumnNames() []string {
	out := make([]string, len(r.Keys))
	for i, k := range r.Keys {
		out[i] = k.Column.Name
	}
	return out
}

// TargetColumns returns the referenced columns in key order. Missing
// columns are nil.
func (r *SysReference) TargetColumns() []*SysColumn {
	t := r.Target()
	out := make([]*SysColumn, len(r.Keys))
	if t == nil {
		return out
	}
	for i, k := range r.Keys {
		out[i] = t.ColumnByID(k.RefColumnID)
	}
	return out
}

// TargetColumnNames returns the referenced column names in key order.
func (r *SysReference) TargetColumnNames() []string {
	cols := r.TargetColumns()
	out := make([]string, len(cols))
	for i, c := range cols {
		if c != nil {
			out[i] = c.Name
		} else {
			out[i] = fmt.Sprintf("#%d", r.Keys[i].RefColumnID)
		}
	}
	return out
}
