package constraint

import (
	"fmt"

	"github.com/xdbcore/xdb/internal/catalog"
)

// InsertPrimaryKey checks that inserted rows do not duplicate a soft primary
// or unique key, neither among themselves nor against stored rows.
type InsertPrimaryKey struct {
	*base
}

var _ Checker = (*InsertPrimaryKey)(nil)

// NewInsertPrimaryKey creates the checker for rows inserted into t.
func NewInsertPrimaryKey(t *catalog.SysTable, rows Rows) *InsertPrimaryKey {
	c := &InsertPrimaryKey{base: newBase("insert_primary_key", t, rows)}
	c.build = c.prepare
	return c
}

func (c *InsertPrimaryKey) ScanConstraints(columns []string) []string {
	var out []string
	for _, k := range uniqueKeys(c.table) {
		key := keyColumns(k)
		if touches(columns, key) {
			c.addKey(k)
			out = extras(out, columns, key)
		}
	}
	return out
}

func (c *InsertPrimaryKey) prepare() ([]*Check, error) {
	var checks []*Check
	for _, k := range c.keys {
		cols := keyColumns(k)
		msg := fmt.Sprintf("duplicate key violates %s", k.Description())
		if c.rows.staged() {
			checks = append(checks, c.check(k, batchDuplicates(c.rows.Staging, cols), ViolateIfNotEmpty, msg))
		}
		for _, t := range family(k.Table()) {
			var q *Query
			if c.rows.staged() {
				q = Select(c.rows.Staging, "s", Col{Table: "s", Column: RowIDColumn}).
					Join(t.Name(), "t", keyMatch("s", cols, "t", cols)).
					First()
			} else {
				vals, ok := c.rows.values(cols)
				if !ok {
					break
				}
				q = Select(t.Name(), "t").Filter(equalsParams("t", cols, vals)).First()
			}
			checks = append(checks, c.check(k, q, ViolateIfNotEmpty, msg, t))
		}
	}
	return checks, nil
}

// batchDuplicates finds two staged rows with the same key. The strict row id
// inequality keeps a row from matching itself.
func batchDuplicates(staging string, cols []string) *Query {
	on := append(keyMatch("a", cols, "b", cols),
		Binary{Left: Col{Table: "a", Column: RowIDColumn}, Operator: "<", Right: Col{Table: "b", Column: RowIDColumn}})
	return Select(staging, "a", Col{Table: "a", Column: RowIDColumn}).Join(staging, "b", on).First()
}

// UpdatePrimaryKey checks that updated rows do not take a soft key held by
// another row. Staged rows carry the stored row's id in RowRefColumn; a
// tuple carries it under the same name.
type UpdatePrimaryKey struct {
	*base
}

var _ Checker = (*UpdatePrimaryKey)(nil)

// NewUpdatePrimaryKey creates the checker for rows of t being updated.
func NewUpdatePrimaryKey(t *catalog.SysTable, rows Rows) *UpdatePrimaryKey {
	c := &UpdatePrimaryKey{base: newBase("update_primary_key", t, rows)}
	c.build = c.prepare
	return c
}

func (c *UpdatePrimaryKey) ScanConstraints(columns []string) []string {
	var out []string
	for _, k := range uniqueKeys(c.table) {
		key := keyColumns(k)
		if touches(columns, key) {
			c.addKey(k)
			out = extras(out, columns, key)
		}
	}
	if len(c.keys) > 0 && !containsFold(out, catalog.RowIDColumn) {
		out = append(out, catalog.RowIDColumn)
	}
	return out
}

func (c *UpdatePrimaryKey) prepare() ([]*Check, error) {
	var checks []*Check
	for _, k := range c.keys {
		cols := keyColumns(k)
		msg := fmt.Sprintf("duplicate key violates %s", k.Description())
		for _, t := range family(k.Table()) {
			var q *Query
			if c.rows.staged() {
				// Rows of the batch are leaving their keys; collisions among
				// the new keys are found by the batch query below.
				self := Select(c.rows.Staging, "", Col{Column: RowRefColumn})
				q = Select(c.rows.Staging, "s", Col{Table: "s", Column: RowIDColumn}).
					Join(t.Name(), "t", keyMatch("s", cols, "t", cols)).
					Filter(NotIn{Expr: Col{Table: "t", Column: catalog.RowIDColumn}, Query: self}).
					First()
			} else {
				vals, ok := c.rows.values(cols)
				if !ok {
					break
				}
				ref, ok := c.rows.value(RowRefColumn)
				if !ok {
					return nil, fmt.Errorf("constraint: updated row of %s has no %s", c.table.Name(), RowRefColumn)
				}
				where := append(equalsParams("t", cols, vals),
					Binary{Left: Col{Table: "t", Column: catalog.RowIDColumn}, Operator: "<>", Right: Param{Value: ref}})
				q = Select(t.Name(), "t").Filter(where).First()
			}
			checks = append(checks, c.check(k, q, ViolateIfNotEmpty, msg, t))
		}
		if c.rows.staged() {
			checks = append(checks, c.check(k, batchDuplicates(c.rows.Staging, cols), ViolateIfNotEmpty, msg))
		}
	}
	return checks, nil
}
