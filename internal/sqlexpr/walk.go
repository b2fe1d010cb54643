package sqlexpr

import "strings"

// Walk calls fn on e and then on its children, depth first. A false
// return skips the children of that node.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case *Binary:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *Unary:
		Walk(n.Operand, fn)
	case *Call:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case *In:
		Walk(n.Expr, fn)
		for _, v := range n.Values {
			Walk(v, fn)
		}
	case *Between:
		Walk(n.Expr, fn)
		Walk(n.Low, fn)
		Walk(n.High, fn)
	case *Like:
		Walk(n.Expr, fn)
		Walk(n.Pattern, fn)
	case *IsNull:
		Walk(n.Expr, fn)
	case *Paren:
		Walk(n.Expr, fn)
	case *Case:
		Walk(n.Operand, fn)
		for _, w := range n.Whens {
			Walk(w.Cond, fn)
			Walk(w.Result, fn)
		}
		Walk(n.Else, fn)
	}
}

// Columns returns the column references in e, in order of appearance.
// A column referenced more than once is returned once; names compare
// case-insensitively.
func Columns(e Expr) []*ColumnRef {
	var out []*ColumnRef
	seen := make(map[string]bool)
	Walk(e, func(n Expr) bool {
		if c, ok := n.(*ColumnRef); ok {
			k := strings.ToLower(c.Table) + "." + strings.ToLower(c.Column)
			if !seen[k] {
				seen[k] = true
				out = append(out, c)
			}
		}
		return true
	})
	return out
}

// HasAggregate reports whether e calls an aggregate function.
func HasAggregate(e Expr) bool {
	found := false
	Walk(e, func(n Expr) bool {
		if c, ok := n.(*Call); ok && aggregates[c.Name] {
			found = true
		}
		return !found
	})
	return found
}

var aggregates = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
}
