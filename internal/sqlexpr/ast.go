package sqlexpr

import (
	"strings"
)

// Expr is a scalar expression.
type Expr interface {
	exprNode()
	String() string
}

// ColumnRef names a column, optionally qualified by a table or alias.
type ColumnRef struct {
	Table  string
	Column string
}

// Star is * or t.* in a select list or in COUNT(*).
type Star struct {
	Table string
}

// Literal is a constant. Text is the literal as written, without quotes
// for strings.
type Literal struct {
	Kind Kind
	Text string
}

// Null is the NULL literal.
type Null struct{}

type Binary struct {
	Op          string
	Left, Right Expr
}

type Unary struct {
	Op      string
	Operand Expr
}

// Call is a function call such as lower(name) or count(DISTINCT id).
type Call struct {
	Name     string
	Distinct bool
	Args     []Expr
}

type In struct {
	Expr   Expr
	Values []Expr
	Not    bool
}

type Between struct {
	Expr, Low, High Expr
	Not             bool
}

type Like struct {
	Expr, Pattern Expr
	Not           bool
}

type IsNull struct {
	Expr Expr
	Not  bool
}

type Paren struct {
	Expr Expr
}

// When is one arm of a CASE expression.
type When struct {
	Cond, Result Expr
}

type Case struct {
	Operand Expr
	Whens   []When
	Else    Expr
}

func (*ColumnRef) exprNode() {}
func (*Star) exprNode()      {}
func (*Literal) exprNode()   {}
func (*Null) exprNode()      {}
func (*Binary) exprNode()    {}
func (*Unary) exprNode()     {}
func (*Call) exprNode()      {}
func (*In) exprNode()        {}
func (*Between) exprNode()   {}
func (*Like) exprNode()      {}
func (*IsNull) exprNode()    {}
func (*Paren) exprNode()     {}
func (*Case) exprNode()      {}

func (c *ColumnRef) String() string {
	if c.Table != "" {
		return c.Table + "." + c.Column
	}
	return c.Column
}

func (s *Star) String() string {
	if s.Table != "" {
		return s.Table + ".*"
	}
	return "*"
}

func (l *Literal) String() string {
	if l.Kind == String {
		return "'" + strings.ReplaceAll(l.Text, "'", "''") + "'"
	}
	return l.Text
}

func (*Null) String() string { return "NULL" }

func (b *Binary) String() string {
	return b.Left.String() + " " + b.Op + " " + b.Right.String()
}

func (u *Unary) String() string {
	if u.Op == "NOT" {
		return "NOT " + u.Operand.String()
	}
	return u.Op + u.Operand.String()
}

func (c *Call) String() string {
	var sb strings.Builder
	sb.WriteString(c.Name)
	sb.WriteByte('(')
	if c.Distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(joinExprs(c.Args))
	sb.WriteByte(')')
	return sb.String()
}

func (i *In) String() string {
	return i.Expr.String() + not(i.Not) + " IN (" + joinExprs(i.Values) + ")"
}

func (b *Between) String() string {
	return b.Expr.String() + not(b.Not) + " BETWEEN " + b.Low.String() + " AND " + b.High.String()
}

func (l *Like) String() string {
	return l.Expr.String() + not(l.Not) + " LIKE " + l.Pattern.String()
}

func (i *IsNull) String() string {
	if i.Not {
		return i.Expr.String() + " IS NOT NULL"
	}
	return i.Expr.String() + " IS NULL"
}

func (p *Paren) String() string { return "(" + p.Expr.String() + ")" }

func (c *Case) String() string {
	var sb strings.Builder
	sb.WriteString("CASE")
	if c.Operand != nil {
		sb.WriteString(" " + c.Operand.String())
	}
	for _, w := range c.Whens {
		sb.WriteString(" WHEN " + w.Cond.String() + " THEN " + w.Result.String())
	}
	if c.Else != nil {
		sb.WriteString(" ELSE " + c.Else.String())
	}
	sb.WriteString(" END")
	return sb.String()
}

func not(b bool) string {
	if b {
		return " NOT"
	}
	return ""
}

func joinExprs(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

// SelectItem is one entry of a select list.
type SelectItem struct {
	Expr  Expr
	Alias string
}

// JoinKind is how a relation joins the ones before it.
type JoinKind string

const (
	JoinNone  JoinKind = ""
	JoinInner JoinKind = "INNER"
	JoinLeft  JoinKind = "LEFT"
	JoinRight JoinKind = "RIGHT"
	JoinFull  JoinKind = "FULL"
	JoinCross JoinKind = "CROSS"
)

// TableRef is one relation of the FROM clause. The first relation, and
// relations listed with commas, have JoinNone.
type TableRef struct {
	Name  string
	Alias string
	Join  JoinKind
	On    Expr
}

// Ref returns the name columns of the relation are qualified with.
func (t TableRef) Ref() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Name
}

// OrderItem is one ORDER BY key.
type OrderItem struct {
	Expr Expr
	Desc bool
}

// Select is a parsed SELECT statement.
type Select struct {
	Distinct bool
	Items    []SelectItem
	From     []TableRef
	Where    Expr
	GroupBy  []Expr
	Having   Expr
	OrderBy  []OrderItem
	Limit    Expr
	Offset   Expr
}

// Exprs returns every top-level expression of s other than the select
// list, in clause order.
func (s *Select) Exprs() []Expr {
	var out []Expr
	for _, t := range s.From {
		if t.On != nil {
			out = append(out, t.On)
		}
	}
	if s.Where != nil {
		out = append(out, s.Where)
	}
	out = append(out, s.GroupBy...)
	if s.Having != nil {
		out = append(out, s.Having)
	}
	for _, o := range s.OrderBy {
		out = append(out, o.Expr)
	}
	return out
}
