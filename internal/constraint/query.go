package constraint

import (
	"fmt"
	"strings"

	"github.com/xdbcore/xdb/internal/engine"
)

// sqlWriter renders expressions and collects the values bound to their
// placeholders in the order they appear.
type sqlWriter struct {
	sb   strings.Builder
	args []interface{}
}

func (w *sqlWriter) str(s string) {
	w.sb.WriteString(s)
}

func (w *sqlWriter) bind(v interface{}) {
	w.sb.WriteString("?")
	w.args = append(w.args, v)
}

// Expr is an expression of a verification query.
type Expr interface {
	write(w *sqlWriter)
}

// Col references a column, optionally qualified by a table alias.
type Col struct {
	Table  string
	Column string
}

func (c Col) write(w *sqlWriter) {
	if c.Table != "" {
		w.str(c.Table)
		w.str(".")
	}
	w.str(c.Column)
}

// Param is a value bound to a placeholder.
type Param struct {
	Value interface{}
}

func (p Param) write(w *sqlWriter) {
	w.bind(p.Value)
}

// Raw is literal SQL text.
type Raw string

func (r Raw) write(w *sqlWriter) {
	w.str(string(r))
}

// Binary is a comparison such as a = b.
type Binary struct {
	Left     Expr
	Operator string
	Right    Expr
}

func (b Binary) write(w *sqlWriter) {
	b.Left.write(w)
	w.str(" ")
	w.str(b.Operator)
	w.str(" ")
	b.Right.write(w)
}

// Eq builds left = right.
func Eq(left, right Expr) Binary {
	return Binary{Left: left, Operator: "=", Right: right}
}

// IsNull is x IS [NOT] NULL.
type IsNull struct {
	Expr Expr
	Not  bool
}

func (n IsNull) write(w *sqlWriter) {
	n.Expr.write(w)
	if n.Not {
		w.str(" IS NOT NULL")
	} else {
		w.str(" IS NULL")
	}
}

// And joins its terms with AND. An empty And renders as 1 = 1.
type And []Expr

func (a And) write(w *sqlWriter) {
	writeJoined(w, []Expr(a), " AND ", "1 = 1")
}

// Or joins its terms with OR. An empty Or renders as 1 = 0.
type Or []Expr

func (o Or) write(w *sqlWriter) {
	writeJoined(w, []Expr(o), " OR ", "1 = 0")
}

func writeJoined(w *sqlWriter, terms []Expr, sep, empty string) {
	switch len(terms) {
	case 0:
		w.str(empty)
		return
	case 1:
		terms[0].write(w)
		return
	}
	w.str("(")
	for i, t := range terms {
		if i > 0 {
			w.str(sep)
		}
		t.write(w)
	}
	w.str(")")
}

// NotIn is x NOT IN (subquery).
type NotIn struct {
	Expr  Expr
	Query *Query
}

func (n NotIn) write(w *sqlWriter) {
	n.Expr.write(w)
	w.str(" NOT IN (")
	n.Query.write(w)
	w.str(")")
}

// Join is one JOIN clause.
type Join struct {
	Left  bool
	Table string
	Alias string
	On    Expr
}

// Query is a SELECT over one table and its joins.
type Query struct {
	Columns []Expr
	From    string
	Alias   string
	Joins   []Join
	Where   Expr
	Limit   int
}

// Select starts a query over table, aliased as alias when it is not empty.
func Select(table, alias string, columns ...Expr) *Query {
	return &Query{Columns: columns, From: table, Alias: alias}
}

// Join adds an inner join.
func (q *Query) Join(table, alias string, on Expr) *Query {
	q.Joins = append(q.Joins, Join{Table: table, Alias: alias, On: on})
	return q
}

// LeftJoin adds a left outer join.
func (q *Query) LeftJoin(table, alias string, on Expr) *Query {
	q.Joins = append(q.Joins, Join{Left: true, Table: table, Alias: alias, On: on})
	return q
}

// Filter sets the WHERE clause.
func (q *Query) Filter(e Expr) *Query {
	q.Where = e
	return q
}

// First limits the result to a single row.
func (q *Query) First() *Query {
	q.Limit = 1
	return q
}

func (q *Query) write(w *sqlWriter) {
	w.str("SELECT ")
	if len(q.Columns) == 0 {
		w.str("1")
	}
	for i, c := range q.Columns {
		if i > 0 {
			w.str(", ")
		}
		c.write(w)
	}
	w.str(" FROM ")
	writeTable(w, q.From, q.Alias)
	for _, j := range q.Joins {
		if j.Left {
			w.str(" LEFT JOIN ")
		} else {
			w.str(" JOIN ")
		}
		writeTable(w, j.Table, j.Alias)
		w.str(" ON ")
		j.On.write(w)
	}
	if q.Where != nil {
		w.str(" WHERE ")
		q.Where.write(w)
	}
	if q.Limit > 0 {
		w.str(fmt.Sprintf(" LIMIT %d", q.Limit))
	}
}

func writeTable(w *sqlWriter, name, alias string) {
	w.str(name)
	if alias != "" {
		w.str(" ")
		w.str(alias)
	}
}

// Statement renders q with its bound values.
func (q *Query) Statement() engine.Statement {
	var w sqlWriter
	q.write(&w)
	return engine.NewStatement(w.sb.String(), w.args...)
}

// SQL renders q without its values.
func (q *Query) SQL() string {
	return q.Statement().SQL
}

// keyMatch equates each left column of a with the matching right column of b.
func keyMatch(a string, left []string, b string, right []string) And {
	out := make(And, len(left))
	for i := range left {
		out[i] = Eq(Col{Table: a, Column: left[i]}, Col{Table: b, Column: right[i]})
	}
	return out
}
