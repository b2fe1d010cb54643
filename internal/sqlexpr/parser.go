package sqlexpr

import (
	"fmt"
	"strings"
)

// ParseError reports where parsing stopped.
type ParseError struct {
	Message string
	Pos     int
	Near    string
}

func (e *ParseError) Error() string {
	if e.Near == "" {
		return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Message)
	}
	return fmt.Sprintf("syntax error at position %d near %q: %s", e.Pos, e.Near, e.Message)
}

// Parser is a precedence-climbing parser over a Lexer.
type Parser struct {
	lexer *Lexer
	cur   Token
	peek  Token
}

// NewParser returns a parser positioned on the first token of input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	p.next()
	p.next()
	return p
}

// Parse parses one SELECT statement. A trailing semicolon is allowed.
func Parse(input string) (*Select, error) {
	p := NewParser(input)
	sel, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	if p.cur.is(Op, ";") {
		p.next()
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return sel, nil
}

// ParseExpr parses a standalone scalar expression such as a check
// constraint.
func ParseExpr(input string) (Expr, error) {
	p := NewParser(input)
	e, err := p.parseExpr(precLowest)
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *Parser) next() {
	p.cur = p.peek
	p.peek = p.lexer.Next()
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return &ParseError{Message: fmt.Sprintf(format, args...), Pos: p.cur.Pos, Near: p.cur.Text}
}

func (p *Parser) keyword(word string) bool {
	if p.cur.is(Keyword, word) {
		p.next()
		return true
	}
	return false
}

func (p *Parser) op(text string) bool {
	if p.cur.is(Op, text) {
		p.next()
		return true
	}
	return false
}

func (p *Parser) expectKeyword(word string) error {
	if !p.keyword(word) {
		return p.errorf("expected %s", word)
	}
	return nil
}

func (p *Parser) expectOp(text string) error {
	if !p.op(text) {
		return p.errorf("expected %s", text)
	}
	return nil
}

func (p *Parser) expectEOF() error {
	if p.cur.Kind == Illegal {
		return p.errorf("illegal token")
	}
	if p.cur.Kind != EOF {
		return p.errorf("unexpected %s", p.cur.Kind)
	}
	return nil
}

// name consumes an identifier, quoted or not.
func (p *Parser) name(what string) (string, error) {
	if p.cur.Kind != Ident && p.cur.Kind != QuotedIdent {
		return "", p.errorf("expected %s", what)
	}
	n := p.cur.Text
	p.next()
	return n, nil
}

func (p *Parser) isName() bool {
	return p.cur.Kind == Ident || p.cur.Kind == QuotedIdent
}

func (p *Parser) parseSelect() (*Select, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	sel := &Select{}
	if p.keyword("DISTINCT") {
		sel.Distinct = true
	} else {
		p.keyword("ALL")
	}

	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		sel.Items = append(sel.Items, item)
		if !p.op(",") {
			break
		}
	}

	if p.keyword("FROM") {
		from, err := p.parseFrom()
		if err != nil {
			return nil, err
		}
		sel.From = from
	}

	var err error
	if p.keyword("WHERE") {
		if sel.Where, err = p.parseExpr(precLowest); err != nil {
			return nil, err
		}
	}
	if p.keyword("GROUP") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		if sel.GroupBy, err = p.parseExprList(); err != nil {
			return nil, err
		}
	}
	if p.keyword("HAVING") {
		if sel.Having, err = p.parseExpr(precLowest); err != nil {
			return nil, err
		}
	}
	if p.keyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr(precLowest)
			if err != nil {
				return nil, err
			}
			item := OrderItem{Expr: e}
			if p.keyword("DESC") {
				item.Desc = true
			} else {
				p.keyword("ASC")
			}
			sel.OrderBy = append(sel.OrderBy, item)
			if !p.op(",") {
				break
			}
		}
	}
	if p.keyword("LIMIT") {
		if sel.Limit, err = p.parseExpr(precLowest); err != nil {
			return nil, err
		}
	}
	if p.keyword("OFFSET") {
		if sel.Offset, err = p.parseExpr(precLowest); err != nil {
			return nil, err
		}
	}
	return sel, nil
}

func (p *Parser) parseSelectItem() (SelectItem, error) {
	if p.op("*") {
		return SelectItem{Expr: &Star{}}, nil
	}
	e, err := p.parseExpr(precLowest)
	if err != nil {
		return SelectItem{}, err
	}
	item := SelectItem{Expr: e}
	if p.keyword("AS") {
		if item.Alias, err = p.name("alias after AS"); err != nil {
			return SelectItem{}, err
		}
	} else if p.isName() {
		item.Alias = p.cur.Text
		p.next()
	}
	return item, nil
}

func (p *Parser) parseFrom() ([]TableRef, error) {
	first, err := p.parseTableRef(JoinNone)
	if err != nil {
		return nil, err
	}
	refs := []TableRef{first}
	for {
		kind, ok, err := p.parseJoinKind()
		if err != nil {
			return nil, err
		}
		if !ok {
			return refs, nil
		}
		ref, err := p.parseTableRef(kind)
		if err != nil {
			return nil, err
		}
		if kind != JoinNone && kind != JoinCross {
			if err := p.expectKeyword("ON"); err != nil {
				return nil, err
			}
			if ref.On, err = p.parseExpr(precLowest); err != nil {
				return nil, err
			}
		}
		refs = append(refs, ref)
	}
}

// parseJoinKind consumes a comma or a join keyword sequence. ok is false
// when the FROM clause has ended.
func (p *Parser) parseJoinKind() (kind JoinKind, ok bool, err error) {
	switch {
	case p.op(","):
		return JoinNone, true, nil
	case p.keyword("JOIN"):
		return JoinInner, true, nil
	case p.keyword("INNER"):
		kind = JoinInner
	case p.keyword("CROSS"):
		kind = JoinCross
	case p.keyword("LEFT"):
		kind = JoinLeft
		p.keyword("OUTER")
	case p.keyword("RIGHT"):
		kind = JoinRight
		p.keyword("OUTER")
	case p.keyword("FULL"):
		kind = JoinFull
		p.keyword("OUTER")
	default:
		return JoinNone, false, nil
	}
	if err := p.expectKeyword("JOIN"); err != nil {
		return JoinNone, false, err
	}
	return kind, true, nil
}

func (p *Parser) parseTableRef(kind JoinKind) (TableRef, error) {
	if p.cur.is(Op, "(") {
		return TableRef{}, p.errorf("subqueries in FROM are not supported")
	}
	name, err := p.name("table name")
	if err != nil {
		return TableRef{}, err
	}
	ref := TableRef{Name: name, Join: kind}
	if p.keyword("AS") {
		if ref.Alias, err = p.name("alias after AS"); err != nil {
			return TableRef{}, err
		}
	} else if p.isName() {
		ref.Alias = p.cur.Text
		p.next()
	}
	return ref, nil
}

func (p *Parser) parseExprList() ([]Expr, error) {
	var out []Expr
	for {
		e, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if !p.op(",") {
			return out, nil
		}
	}
}

const (
	precLowest = iota
	precOr
	precAnd
	precNot
	precCompare
	precConcat
	precAdd
	precMul
	precUnary
)

// infixPrec returns the binding power of the current token as an infix
// operator, or precLowest when it is not one.
func (p *Parser) infixPrec() int {
	t := p.cur
	switch t.Kind {
	case Keyword:
		switch t.Text {
		case "OR":
			return precOr
		case "AND":
			return precAnd
		case "IN", "BETWEEN", "LIKE", "IS":
			return precCompare
		case "NOT":
			if p.peek.is(Keyword, "IN") || p.peek.is(Keyword, "BETWEEN") || p.peek.is(Keyword, "LIKE") {
				return precCompare
			}
		}
	case Op:
		switch t.Text {
		case "=", "<>", "!=", "<", ">", "<=", ">=":
			return precCompare
		case "||":
			return precConcat
		case "+", "-":
			return precAdd
		case "*", "/", "%":
			return precMul
		}
	}
	return precLowest
}

func (p *Parser) parseExpr(prec int) (Expr, error) {
	left, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}
	for {
		next := p.infixPrec()
		if next <= prec {
			return left, nil
		}
		if left, err = p.parseInfix(left, next); err != nil {
			return nil, err
		}
	}
}

func (p *Parser) parsePrefix() (Expr, error) {
	t := p.cur
	switch t.Kind {
	case Ident, QuotedIdent:
		return p.parseNameExpr()
	case Number, String:
		p.next()
		return &Literal{Kind: t.Kind, Text: t.Text}, nil
	case Keyword:
		switch t.Text {
		case "NULL":
			p.next()
			return &Null{}, nil
		case "TRUE", "FALSE":
			p.next()
			return &Literal{Kind: Keyword, Text: t.Text}, nil
		case "NOT":
			p.next()
			e, err := p.parseExpr(precNot)
			if err != nil {
				return nil, err
			}
			return &Unary{Op: "NOT", Operand: e}, nil
		case "CASE":
			return p.parseCase()
		}
	case Op:
		switch t.Text {
		case "(":
			p.next()
			if p.cur.is(Keyword, "SELECT") {
				return nil, p.errorf("subqueries are not supported")
			}
			e, err := p.parseExpr(precLowest)
			if err != nil {
				return nil, err
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return &Paren{Expr: e}, nil
		case "-", "+":
			p.next()
			e, err := p.parseExpr(precUnary)
			if err != nil {
				return nil, err
			}
			return &Unary{Op: t.Text, Operand: e}, nil
		}
	case EOF:
		return nil, p.errorf("unexpected end of input")
	}
	return nil, p.errorf("unexpected %s in expression", t.Kind)
}

func (p *Parser) parseNameExpr() (Expr, error) {
	first := p.cur
	p.next()
	if p.cur.is(Op, "(") && first.Kind == Ident {
		return p.parseCall(first.Text)
	}
	if !p.op(".") {
		return &ColumnRef{Column: first.Text}, nil
	}
	if p.op("*") {
		return &Star{Table: first.Text}, nil
	}
	col, err := p.name("column name after .")
	if err != nil {
		return nil, err
	}
	return &ColumnRef{Table: first.Text, Column: col}, nil
}

func (p *Parser) parseCall(name string) (Expr, error) {
	p.next() // (
	call := &Call{Name: strings.ToLower(name)}
	if p.op(")") {
		return call, nil
	}
	if p.keyword("DISTINCT") {
		call.Distinct = true
	}
	if p.op("*") {
		call.Args = []Expr{&Star{}}
	} else {
		args, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		call.Args = args
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *Parser) parseCase() (Expr, error) {
	p.next() // CASE
	c := &Case{}
	var err error
	if !p.cur.is(Keyword, "WHEN") {
		if c.Operand, err = p.parseExpr(precLowest); err != nil {
			return nil, err
		}
	}
	for p.keyword("WHEN") {
		var w When
		if w.Cond, err = p.parseExpr(precLowest); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		if w.Result, err = p.parseExpr(precLowest); err != nil {
			return nil, err
		}
		c.Whens = append(c.Whens, w)
	}
	if len(c.Whens) == 0 {
		return nil, p.errorf("CASE needs at least one WHEN")
	}
	if p.keyword("ELSE") {
		if c.Else, err = p.parseExpr(precLowest); err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *Parser) parseInfix(left Expr, prec int) (Expr, error) {
	t := p.cur
	if t.Kind == Op {
		p.next()
		right, err := p.parseExpr(prec)
		if err != nil {
			return nil, err
		}
		op := t.Text
		if op == "!=" {
			op = "<>"
		}
		return &Binary{Op: op, Left: left, Right: right}, nil
	}

	switch t.Text {
	case "AND", "OR":
		p.next()
		right, err := p.parseExpr(prec)
		if err != nil {
			return nil, err
		}
		return &Binary{Op: t.Text, Left: left, Right: right}, nil
	case "IS":
		p.next()
		not := p.keyword("NOT")
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return &IsNull{Expr: left, Not: not}, nil
	}

	not := p.keyword("NOT")
	switch {
	case p.keyword("IN"):
		if err := p.expectOp("("); err != nil {
			return nil, err
		}
		if p.cur.is(Keyword, "SELECT") {
			return nil, p.errorf("subqueries are not supported")
		}
		values, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return &In{Expr: left, Values: values, Not: not}, nil
	case p.keyword("BETWEEN"):
		low, err := p.parseExpr(precCompare)
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		high, err := p.parseExpr(precCompare)
		if err != nil {
			return nil, err
		}
		return &Between{Expr: left, Low: low, High: high, Not: not}, nil
	case p.keyword("LIKE"):
		pattern, err := p.parseExpr(precCompare)
		if err != nil {
			return nil, err
		}
		return &Like{Expr: left, Pattern: pattern, Not: not}, nil
	}
	return nil, p.errorf("expected IN, BETWEEN or LIKE")
}
