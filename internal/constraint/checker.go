// Package constraint verifies the soft constraints the node databases cannot
// enforce on their own, by running SQL on the coordinator connection where
// every node's rows are visible.
package constraint

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/xdbcore/xdb/internal/catalog"
	"github.com/xdbcore/xdb/internal/engine"
	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/internal/lock"
	"github.com/xdbcore/xdb/internal/logutil"
	"github.com/xdbcore/xdb/internal/nodeexec"
	"github.com/xdbcore/xdb/internal/observability"
)

// RowIDColumn is the staging table's own row counter.
const RowIDColumn = nodeexec.RowIDColumn

// RowRefColumn holds, in a staged update or delete batch, the row id of the
// stored row each staged row stands for.
const RowRefColumn = "xrowref"

// OldColumn names the staged column holding the value of column before an
// update.
func OldColumn(column string) string {
	return "xold_" + column
}

// Rows are the rows a statement writes: a batch staged on the coordinator
// with nodeexec.Stage, or a single tuple.
type Rows struct {
	Staging string
	Count   int64
	Tuple   map[string]interface{}
}

// Staged describes n rows staged in table.
func Staged(table string, n int) Rows {
	return Rows{Staging: table, Count: int64(n)}
}

// Tuple describes a single row by column name.
func Tuple(values map[string]interface{}) Rows {
	return Rows{Tuple: values, Count: 1}
}

func (r Rows) staged() bool {
	return r.Staging != ""
}

// value returns the tuple value of column and whether it is present.
func (r Rows) value(column string) (interface{}, bool) {
	if v, ok := r.Tuple[column]; ok {
		return v, true
	}
	for k, v := range r.Tuple {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}

// values returns the tuple values of columns; ok is false when any of them
// is missing or NULL.
func (r Rows) values(columns []string) ([]interface{}, bool) {
	out := make([]interface{}, len(columns))
	for i, c := range columns {
		v, ok := r.value(c)
		if !ok || v == nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// sameValues reports whether two tuples hold equal keys. Values read back
// from a node and values built by a caller differ in Go type, so numbers
// compare by value and everything else by its text.
func sameValues(a, b []interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameValue(a[i], b[i]) {
			return false
		}
	}
	return true
}

func sameValue(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := integer(a); ok {
		if y, ok := integer(b); ok {
			return x == y
		}
	}
	if x, ok := float(a); ok {
		if y, ok := float(b); ok {
			return x == y
		}
	}
	return text(a) == text(b)
}

func integer(v interface{}) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if u := rv.Uint(); u <= math.MaxInt64 {
			return int64(u), true
		}
	}
	return 0, false
}

func float(v interface{}) (float64, bool) {
	if i, ok := integer(v); ok {
		return float64(i), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func text(v interface{}) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}

// Outcome is the query result that signals a violation.
type Outcome int

const (
	ViolateIfEmpty Outcome = iota + 1
	ViolateIfNotEmpty
)

// ViolationCriteria decides whether a check's result is a violation.
type ViolationCriteria struct {
	When    Outcome
	Message string
}

// Violated applies the criteria to rs.
func (v ViolationCriteria) Violated(rs *engine.ResultSet) bool {
	switch v.When {
	case ViolateIfEmpty:
		return rs.Empty()
	case ViolateIfNotEmpty:
		return !rs.Empty()
	default:
		return false
	}
}

// Check is one verification query.
type Check struct {
	Constraint *catalog.SysConstraint
	Query      *Query
	Criteria   ViolationCriteria

	tables []*catalog.SysTable
	rows   int64
}

var _ lock.Lockable[*catalog.SysTable] = (*Check)(nil)

// Cost estimates the rows the query touches.
func (c *Check) Cost() int64 {
	cost := c.rows
	for _, t := range c.tables {
		cost += t.NumRows()
	}
	if cost < lock.LowCost {
		return lock.LowCost
	}
	return cost
}

// LockSpecs declares a read of every catalog table the query reads.
func (c *Check) LockSpecs() *catalog.LockSpec {
	spec := catalog.NewLockSpec()
	for _, t := range c.tables {
		spec.AddRead(t)
	}
	return spec
}

// NeedCoordinatorConnection is always true: checks join across nodes.
func (c *Check) NeedCoordinatorConnection() bool {
	return true
}

// Checker verifies the soft constraints a statement implicates.
type Checker interface {
	lock.Lockable[*catalog.SysTable]

	// ScanConstraints records the soft constraints implicated by a write of
	// columns and returns the extra columns that must be fetched to check
	// them.
	ScanConstraints(columns []string) []string

	// Prepare builds the verification queries. The result is cached.
	Prepare() ([]*Check, error)

	// Execute runs every check and fails on the first violation.
	Execute(ctx context.Context, e engine.Engine) error
}

// base holds what every checker shares. build turns the recorded keys into
// checks.
type base struct {
	kind  string
	table *catalog.SysTable
	rows  Rows

	keys     []*catalog.SysConstraint
	incoming []*catalog.SysConstraint

	prepared bool
	checks   []*Check
	err      error
	build    func() ([]*Check, error)
}

func newBase(kind string, t *catalog.SysTable, rows Rows) *base {
	return &base{kind: kind, table: t, rows: rows}
}

func (b *base) addKey(c *catalog.SysConstraint) {
	for _, k := range b.keys {
		if k == c {
			return
		}
	}
	b.keys = append(b.keys, c)
	b.prepared = false
}

func (b *base) addIncoming(c *catalog.SysConstraint) {
	for _, k := range b.incoming {
		if k == c {
			return
		}
	}
	b.incoming = append(b.incoming, c)
	b.prepared = false
}

// Keys returns the recorded constraints of the written table.
func (b *base) Keys() []*catalog.SysConstraint {
	return append([]*catalog.SysConstraint(nil), b.keys...)
}

// Dependents returns the recorded constraints of other tables referencing
// the written table.
func (b *base) Dependents() []*catalog.SysConstraint {
	return append([]*catalog.SysConstraint(nil), b.incoming...)
}

func (b *base) Prepare() ([]*Check, error) {
	if !b.prepared {
		b.checks, b.err = b.build()
		b.prepared = true
	}
	return b.checks, b.err
}

func (b *base) Cost() int64 {
	checks, _ := b.Prepare()
	if len(checks) == 0 {
		return lock.LowCost
	}
	var cost int64
	for _, c := range checks {
		cost += c.Cost()
	}
	return cost
}

// LockSpecs declares a write of the table the statement changes and a read
// of every table the checks query.
func (b *base) LockSpecs() *catalog.LockSpec {
	spec := catalog.NewLockSpec().AddWrite(b.table)
	checks, _ := b.Prepare()
	for _, c := range checks {
		spec.Merge(c.LockSpecs())
	}
	return spec
}

func (b *base) NeedCoordinatorConnection() bool {
	return true
}

func (b *base) Execute(ctx context.Context, e engine.Engine) error {
	checks, err := b.Prepare()
	if err != nil {
		return err
	}
	for _, c := range checks {
		stmt := c.Query.Statement()
		rs, err := e.Query(ctx, stmt)
		if err != nil {
			return fmt.Errorf("constraint: checking %s: %w", c.Constraint.Description(), err)
		}
		if c.Criteria.Violated(rs) {
			observability.ConstraintViolationCounter.WithLabelValues(b.kind).Inc()
			logutil.Logger(ctx).Debug("constraint violated",
				zap.String("kind", b.kind),
				zap.String("table", b.table.Name()),
				zap.String("query", stmt.SQL))
			return xerrors.ConstraintViolation(c.Criteria.Message)
		}
	}
	return nil
}

func (b *base) check(c *catalog.SysConstraint, q *Query, when Outcome, message string, tables ...*catalog.SysTable) *Check {
	return &Check{
		Constraint: c,
		Query:      q,
		Criteria:   ViolationCriteria{When: when, Message: message},
		tables:     tables,
		rows:       b.rows.Count,
	}
}

// keyColumns returns the names of the columns backing c.
func keyColumns(c *catalog.SysConstraint) []string {
	if c.Reference != nil {
		return c.Reference.ColumnNames()
	}
	if c.Index != nil {
		return c.Index.ColumnNames()
	}
	return nil
}

func touches(columns, key []string) bool {
	for _, k := range key {
		if containsFold(columns, k) {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// extras appends every key column missing from columns to out.
func extras(out, columns, key []string) []string {
	for _, k := range key {
		if !containsFold(columns, k) && !containsFold(out, k) {
			out = append(out, k)
		}
	}
	return out
}

func oldColumns(columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = OldColumn(c)
	}
	return out
}

// equalsParams equates each column of alias with the matching value.
func equalsParams(alias string, columns []string, values []interface{}) And {
	out := make(And, len(columns))
	for i, c := range columns {
		out[i] = Eq(Col{Table: alias, Column: c}, Param{Value: values[i]})
	}
	return out
}

func notNull(alias string, columns []string) And {
	out := make(And, len(columns))
	for i, c := range columns {
		out[i] = IsNull{Expr: Col{Table: alias, Column: c}, Not: true}
	}
	return out
}

// family returns t and every table inheriting from it, whose rows share
// t's keys.
func family(t *catalog.SysTable) []*catalog.SysTable {
	return append([]*catalog.SysTable{t}, t.Descendants()...)
}

// uniqueKeys returns the soft primary and unique constraints covering rows
// of t, including a primary key inherited from an ancestor.
func uniqueKeys(t *catalog.SysTable) []*catalog.SysConstraint {
	var out []*catalog.SysConstraint
	for _, c := range t.UniqueConstraints() {
		if c.Soft && c.Index != nil {
			out = append(out, c)
		}
	}
	if pk := t.PrimaryKey(); pk != nil && pk.Table() != t && pk.Soft && pk.Index != nil {
		out = append(out, pk)
	}
	return out
}

// softReferences returns the soft references of t to other tables.
func softReferences(t *catalog.SysTable) []*catalog.SysReference {
	var out []*catalog.SysReference
	for _, r := range t.References() {
		if r.IsDistributed() {
			out = append(out, r)
		}
	}
	return out
}

// softDependents returns the soft references of any table to t.
func softDependents(t *catalog.SysTable) []*catalog.SysReference {
	var out []*catalog.SysReference
	for _, r := range t.ReferencedBy() {
		if r.IsDistributed() {
			out = append(out, r)
		}
	}
	return out
}

func targetOf(c *catalog.SysConstraint) (*catalog.SysTable, []string, error) {
	target := c.Reference.Target()
	if target == nil {
		return nil, nil, xerrors.NewLookupError(xerrors.CodeTableNotFound,
			"table %d referenced by %s not found", c.Reference.TargetTableID, c.Description())
	}
	return target, c.Reference.TargetColumnNames(), nil
}
