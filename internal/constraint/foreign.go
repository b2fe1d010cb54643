package constraint

import (
	"fmt"

	"github.com/xdbcore/xdb/internal/catalog"
)

// InsertForeignKey checks that every inserted row's soft foreign key finds
// its referenced row. A key with a NULL column is not checked.
type InsertForeignKey struct {
	*base
}

var _ Checker = (*InsertForeignKey)(nil)

// NewInsertForeignKey creates the checker for rows inserted into t.
func NewInsertForeignKey(t *catalog.SysTable, rows Rows) *InsertForeignKey {
	c := &InsertForeignKey{base: newBase("insert_foreign_key", t, rows)}
	c.build = c.prepare
	return c
}

func (c *InsertForeignKey) ScanConstraints(columns []string) []string {
	return scanOutgoing(c.base, columns)
}

func scanOutgoing(b *base, columns []string) []string {
	var out []string
	for _, r := range softReferences(b.table) {
		key := r.ColumnNames()
		if touches(columns, key) {
			b.addKey(r.Constraint())
			out = extras(out, columns, key)
		}
	}
	return out
}

func (c *InsertForeignKey) prepare() ([]*Check, error) {
	return referencedExist(c.base)
}

// referencedExist checks the new values of every recorded reference.
func referencedExist(b *base) ([]*Check, error) {
	var checks []*Check
	for _, k := range b.keys {
		target, refCols, err := targetOf(k)
		if err != nil {
			return nil, err
		}
		cols := k.Reference.ColumnNames()
		msg := fmt.Sprintf("%s: referenced row not found", k.Description())
		if b.rows.staged() {
			where := append(And{IsNull{Expr: Col{Table: "r", Column: catalog.RowIDColumn}}}, notNull("s", cols)...)
			q := Select(b.rows.Staging, "s", Col{Table: "s", Column: RowIDColumn}).
				LeftJoin(target.Name(), "r", keyMatch("s", cols, "r", refCols)).
				Filter(where).
				First()
			checks = append(checks, b.check(k, q, ViolateIfNotEmpty, msg, target))
			continue
		}
		vals, ok := b.rows.values(cols)
		if !ok {
			continue
		}
		q := Select(target.Name(), "r").Filter(equalsParams("r", refCols, vals)).First()
		checks = append(checks, b.check(k, q, ViolateIfEmpty, msg, target))
	}
	return checks, nil
}

// UpdateForeignKey checks both directions of an update of t: the new values
// of t's own soft foreign keys must exist, and rows of other tables must not
// be left pointing at a key t's rows moved away from. Staged rows and tuples
// carry the previous key values under OldColumn names.
type UpdateForeignKey struct {
	*base
}

var _ Checker = (*UpdateForeignKey)(nil)

// NewUpdateForeignKey creates the checker for rows of t being updated.
func NewUpdateForeignKey(t *catalog.SysTable, rows Rows) *UpdateForeignKey {
	c := &UpdateForeignKey{base: newBase("update_foreign_key", t, rows)}
	c.build = c.prepare
	return c
}

func (c *UpdateForeignKey) ScanConstraints(columns []string) []string {
	out := scanOutgoing(c.base, columns)
	for _, r := range softDependents(c.table) {
		key := r.TargetColumnNames()
		if touches(columns, key) {
			c.addIncoming(r.Constraint())
			out = extras(out, columns, key)
		}
	}
	return out
}

func (c *UpdateForeignKey) prepare() ([]*Check, error) {
	checks, err := referencedExist(c.base)
	if err != nil {
		return nil, err
	}
	for _, k := range c.incoming {
		dep := k.Table()
		fkCols := k.Reference.ColumnNames()
		keyCols := k.Reference.TargetColumnNames()
		olds := oldColumns(keyCols)
		msg := fmt.Sprintf("%s: key is still referenced", k.Description())
		if c.rows.staged() {
			// old key s, dependent d, and n: any staged row that now
			// carries the old key.
			q := Select(c.rows.Staging, "s", Col{Table: "d", Column: catalog.RowIDColumn}).
				Join(dep.Name(), "d", keyMatch("d", fkCols, "s", olds)).
				LeftJoin(c.rows.Staging, "n", keyMatch("n", keyCols, "s", olds)).
				Filter(IsNull{Expr: Col{Table: "n", Column: RowIDColumn}}).
				First()
			checks = append(checks, c.check(k, q, ViolateIfNotEmpty, msg, dep))
			continue
		}
		oldVals, ok := c.rows.values(olds)
		if !ok {
			continue
		}
		newVals, _ := c.rows.values(keyCols)
		if sameValues(oldVals, newVals) {
			continue
		}
		q := Select(dep.Name(), "d").Filter(equalsParams("d", fkCols, oldVals)).First()
		checks = append(checks, c.check(k, q, ViolateIfNotEmpty, msg, dep))
	}
	return checks, nil
}

// DeleteReference checks that no row of another table still references a
// deleted row through a soft foreign key. Staged rows carry the deleted
// row's id in RowRefColumn so a self-referencing table can delete a row
// together with the rows pointing at it.
type DeleteReference struct {
	*base
}

var _ Checker = (*DeleteReference)(nil)

// NewDeleteReference creates the checker for rows deleted from t.
func NewDeleteReference(t *catalog.SysTable, rows Rows) *DeleteReference {
	c := &DeleteReference{base: newBase("delete_reference", t, rows)}
	c.build = c.prepare
	return c
}

// ScanConstraints records every soft reference to the table; a delete
// touches all columns. The returned columns are the referenced keys.
func (c *DeleteReference) ScanConstraints(columns []string) []string {
	var out []string
	for _, r := range softDependents(c.table) {
		c.addIncoming(r.Constraint())
		out = extras(out, columns, r.TargetColumnNames())
		if r.Table() == c.table && !containsFold(out, catalog.RowIDColumn) {
			out = append(out, catalog.RowIDColumn)
		}
	}
	return out
}

func (c *DeleteReference) prepare() ([]*Check, error) {
	var checks []*Check
	for _, k := range c.incoming {
		dep := k.Table()
		fkCols := k.Reference.ColumnNames()
		keyCols := k.Reference.TargetColumnNames()
		self := dep == c.table
		msg := fmt.Sprintf("%s: row is still referenced", k.Description())
		if c.rows.staged() {
			q := Select(c.rows.Staging, "s", Col{Table: "d", Column: catalog.RowIDColumn}).
				Join(dep.Name(), "d", keyMatch("d", fkCols, "s", keyCols))
			if self {
				q.Filter(NotIn{
					Expr:  Col{Table: "d", Column: catalog.RowIDColumn},
					Query: Select(c.rows.Staging, "", Col{Column: RowRefColumn}),
				})
			}
			checks = append(checks, c.check(k, q.First(), ViolateIfNotEmpty, msg, dep))
			continue
		}
		vals, ok := c.rows.values(keyCols)
		if !ok {
			continue
		}
		where := equalsParams("d", fkCols, vals)
		if ref, ok := c.rows.value(RowRefColumn); ok && self {
			where = append(where, Binary{Left: Col{Table: "d", Column: catalog.RowIDColumn}, Operator: "<>", Right: Param{Value: ref}})
		}
		q := Select(dep.Name(), "d").Filter(where).First()
		checks = append(checks, c.check(k, q, ViolateIfNotEmpty, msg, dep))
	}
	return checks, nil
}
