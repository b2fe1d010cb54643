package ddl

import (
	"strings"

	"github.com/xdbcore/xdb/internal/catalog"
	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/internal/sqlexpr"
	"github.com/xdbcore/xdb/pkg/types"
)

// DefineView analyses the SELECT text of view name against db and returns
// the CreateView that stores it, with output columns and dependencies
// filled in. Star items expand to the visible columns of their relations.
// Expressions other than plain column references need an alias.
func DefineView(db *catalog.SysDatabase, name, text string) (*CreateView, error) {
	sel, err := sqlexpr.Parse(text)
	if err != nil {
		return nil, invalid("view %s: %v", name, err)
	}
	if len(sel.From) == 0 {
		return nil, invalid("view %s reads no table", name)
	}

	s := &viewScope{view: name, aliases: make(map[string]bool), seen: make(map[ViewDep]bool)}
	for _, ref := range sel.From {
		t, err := db.Table(ref.Name)
		if err != nil {
			return nil, err
		}
		if s.relation(ref.Ref()) != nil {
			return nil, invalid("view %s: relation %s appears twice", name, ref.Ref())
		}
		s.rels = append(s.rels, viewRel{ref: ref.Ref(), table: t})
		s.depend(t, nil)
	}

	cv := &CreateView{Name: name, Text: text}
	for i, item := range sel.Items {
		switch e := item.Expr.(type) {
		case *sqlexpr.Star:
			rels := s.rels
			if e.Table != "" {
				r := s.relation(e.Table)
				if r == nil {
					return nil, invalid("view %s: unknown relation %s", name, e.Table)
				}
				rels = []viewRel{*r}
			}
			for _, r := range rels {
				for _, c := range r.table.Columns() {
					if c.IsRowID() {
						continue
					}
					cv.Columns = append(cv.Columns, viewColumn(c.Name, c))
					s.depend(r.table, c)
				}
			}
		case *sqlexpr.ColumnRef:
			r, c, err := s.resolve(e)
			if err != nil {
				return nil, err
			}
			s.depend(r.table, c)
			out := item.Alias
			if out == "" {
				out = c.Name
			}
			cv.Columns = append(cv.Columns, viewColumn(out, c))
		default:
			if item.Alias == "" {
				return nil, invalid("view %s: select item %d (%s) needs an alias", name, i+1, e)
			}
			if err := s.resolveAll(e); err != nil {
				return nil, err
			}
			cv.Columns = append(cv.Columns, catalog.ViewColumn{Name: item.Alias, Type: s.typeOf(e)})
		}
		if item.Alias != "" {
			s.aliases[strings.ToLower(item.Alias)] = true
		}
	}

	names := make(map[string]bool, len(cv.Columns))
	for _, c := range cv.Columns {
		if names[strings.ToLower(c.Name)] {
			return nil, invalid("view %s: column %s appears twice", name, c.Name)
		}
		names[strings.ToLower(c.Name)] = true
	}

	for _, e := range sel.Exprs() {
		if err := s.resolveAll(e); err != nil {
			return nil, err
		}
	}
	cv.Deps = s.deps
	return cv, nil
}

type viewRel struct {
	ref   string
	table *catalog.SysTable
}

type viewScope struct {
	view    string
	rels    []viewRel
	aliases map[string]bool
	deps    []ViewDep
	seen    map[ViewDep]bool
}

func (s *viewScope) relation(ref string) *viewRel {
	for i := range s.rels {
		if strings.EqualFold(s.rels[i].ref, ref) {
			return &s.rels[i]
		}
	}
	return nil
}

// depend records a dependency on t, or on its column c when c is set.
func (s *viewScope) depend(t *catalog.SysTable, c *catalog.SysColumn) {
	d := ViewDep{Table: t.Name()}
	if c != nil {
		d.Column = c.Name
	}
	if !s.seen[d] {
		s.seen[d] = true
		s.deps = append(s.deps, d)
	}
}

// resolve finds the relation and column ref names. The row-id column is
// hidden from views.
func (s *viewScope) resolve(ref *sqlexpr.ColumnRef) (*viewRel, *catalog.SysColumn, error) {
	if strings.EqualFold(ref.Column, catalog.RowIDColumn) {
		return nil, nil, invalid("view %s: column %s is hidden", s.view, ref.Column)
	}
	if ref.Table != "" {
		r := s.relation(ref.Table)
		if r == nil {
			return nil, nil, invalid("view %s: unknown relation %s", s.view, ref.Table)
		}
		c, err := r.table.Column(ref.Column)
		if err != nil {
			return nil, nil, err
		}
		return r, c, nil
	}

	var (
		found *viewRel
		col   *catalog.SysColumn
	)
	for i := range s.rels {
		c, err := s.rels[i].table.Column(ref.Column)
		if err != nil {
			continue
		}
		if found != nil {
			return nil, nil, invalid("view %s: column reference %s is ambiguous", s.view, ref.Column)
		}
		found, col = &s.rels[i], c
	}
	if found == nil {
		return nil, nil, xerrors.NewLookupError(xerrors.CodeColumnNotFound,
			"view %s: column %s not found", s.view, ref.Column)
	}
	return found, col, nil
}

// resolveAll resolves every column e reads. An unqualified name that is
// not a column may name a select item alias.
func (s *viewScope) resolveAll(e sqlexpr.Expr) error {
	var err error
	sqlexpr.Walk(e, func(n sqlexpr.Expr) bool {
		switch n := n.(type) {
		case *sqlexpr.Star:
			if n.Table != "" {
				err = invalid("view %s: %s is only allowed in the select list", s.view, n)
			}
		case *sqlexpr.ColumnRef:
			r, c, rerr := s.resolve(n)
			if rerr != nil {
				if n.Table == "" && s.aliases[strings.ToLower(n.Column)] {
					return true
				}
				err = rerr
				break
			}
			s.depend(r.table, c)
		}
		return err == nil
	})
	return err
}

// typeOf gives the result type of an expression. Unresolvable parts yield
// TypeUnknown.
func (s *viewScope) typeOf(e sqlexpr.Expr) types.SQLType {
	switch e := e.(type) {
	case *sqlexpr.ColumnRef:
		if _, c, err := s.resolve(e); err == nil {
			return c.Type
		}
	case *sqlexpr.Literal:
		switch {
		case e.Kind == sqlexpr.String:
			return types.TypeText
		case e.Kind == sqlexpr.Keyword:
			return types.TypeBoolean
		case strings.ContainsAny(e.Text, ".eE"):
			return types.TypeDouble
		default:
			return types.TypeInteger
		}
	case *sqlexpr.Paren:
		return s.typeOf(e.Expr)
	case *sqlexpr.Unary:
		if e.Op == "NOT" {
			return types.TypeBoolean
		}
		return s.typeOf(e.Operand)
	case *sqlexpr.Binary:
		switch e.Op {
		case "+", "-", "*", "/", "%":
			return widen(s.typeOf(e.Left), s.typeOf(e.Right))
		case "||":
			return types.TypeText
		default:
			return types.TypeBoolean
		}
	case *sqlexpr.In, *sqlexpr.Between, *sqlexpr.Like, *sqlexpr.IsNull:
		return types.TypeBoolean
	case *sqlexpr.Case:
		for _, w := range e.Whens {
			if t := s.typeOf(w.Result); t != types.TypeUnknown {
				return t
			}
		}
		if e.Else != nil {
			return s.typeOf(e.Else)
		}
	case *sqlexpr.Call:
		return s.callType(e)
	}
	return types.TypeUnknown
}

func (s *viewScope) callType(c *sqlexpr.Call) types.SQLType {
	var arg types.SQLType
	if len(c.Args) > 0 {
		arg = s.typeOf(c.Args[0])
	}
	switch c.Name {
	case "count":
		return types.TypeBigInt
	case "sum":
		if arg.IsInteger() {
			return types.TypeBigInt
		}
		return arg
	case "avg":
		return types.TypeDouble
	case "min", "max", "abs", "coalesce":
		return arg
	case "lower", "upper", "trim", "ltrim", "rtrim", "substr", "substring", "replace":
		return types.TypeText
	case "length":
		return types.TypeInteger
	}
	return types.TypeUnknown
}

// widen returns the type of arithmetic between a and b.
func widen(a, b types.SQLType) types.SQLType {
	rank := func(t types.SQLType) int {
		switch t {
		case types.TypeSmallInt:
			return 1
		case types.TypeInteger:
			return 2
		case types.TypeBigInt:
			return 3
		case types.TypeNumeric, types.TypeDecimal:
			return 4
		case types.TypeReal, types.TypeFloat, types.TypeDouble:
			return 5
		}
		return 0
	}
	if rank(a) == 0 || rank(b) == 0 {
		return types.TypeUnknown
	}
	if rank(a) >= rank(b) {
		return a
	}
	return b
}

func viewColumn(name string, c *catalog.SysColumn) catalog.ViewColumn {
	return catalog.ViewColumn{Name: name, Type: c.Type, Length: c.Length, Scale: c.Scale, Precision: c.Precision}
}
