// Package sqlexpr parses the SQL fragments the catalog stores as text:
// view definitions and check constraint expressions. It recognises enough
// of SELECT to find the relations and columns a statement reads.
package sqlexpr

import (
	"fmt"
	"strings"
)

// Kind is the class of a lexical token.
type Kind int

const (
	EOF Kind = iota
	Illegal
	Ident
	QuotedIdent
	Number
	String
	Keyword
	Op
)

func (k Kind) String() string {
	switch k {
	case EOF:
		return "end of input"
	case Illegal:
		return "illegal"
	case Ident, QuotedIdent:
		return "identifier"
	case Number:
		return "number"
	case String:
		return "string"
	case Keyword:
		return "keyword"
	case Op:
		return "operator"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Token is one lexical token. Keywords are upper-cased; identifiers keep
// their spelling.
type Token struct {
	Kind Kind
	Text string
	Pos  int
}

func (t Token) is(kind Kind, text string) bool {
	return t.Kind == kind && t.Text == text
}

var keywords = map[string]bool{
	"SELECT": true, "DISTINCT": true, "ALL": true, "FROM": true, "WHERE": true,
	"GROUP": true, "BY": true, "HAVING": true, "ORDER": true, "LIMIT": true,
	"OFFSET": true, "AS": true, "ASC": true, "DESC": true,
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"OUTER": true, "CROSS": true, "ON": true,
	"AND": true, "OR": true, "NOT": true, "IN": true, "BETWEEN": true,
	"LIKE": true, "IS": true, "NULL": true, "TRUE": true, "FALSE": true,
	"CASE": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true,
}

// Lexer splits SQL text into tokens.
type Lexer struct {
	input string
	pos   int
}

// NewLexer returns a lexer over input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

func (l *Lexer) peekByte(off int) byte {
	if l.pos+off >= len(l.input) {
		return 0
	}
	return l.input[l.pos+off]
}

func (l *Lexer) skipSpace() {
	for l.pos < len(l.input) {
		switch c := l.input[l.pos]; {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			l.pos++
		case c == '-' && l.peekByte(1) == '-':
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.pos++
			}
		default:
			return
		}
	}
}

// Next returns the next token. After the input is consumed it keeps
// returning EOF.
func (l *Lexer) Next() Token {
	l.skipSpace()
	start := l.pos
	if l.pos >= len(l.input) {
		return Token{Kind: EOF, Pos: start}
	}

	c := l.input[l.pos]
	switch {
	case isIdentStart(c):
		for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
			l.pos++
		}
		word := l.input[start:l.pos]
		if upper := strings.ToUpper(word); keywords[upper] {
			return Token{Kind: Keyword, Text: upper, Pos: start}
		}
		return Token{Kind: Ident, Text: word, Pos: start}
	case isDigit(c) || (c == '.' && isDigit(l.peekByte(1))):
		return l.number(start)
	case c == '\'':
		return l.quoted(start, '\'', String)
	case c == '"':
		return l.quoted(start, '"', QuotedIdent)
	}

	two := ""
	if l.pos+1 < len(l.input) {
		two = l.input[l.pos : l.pos+2]
	}
	switch two {
	case "<=", ">=", "<>", "!=", "||":
		l.pos += 2
		return Token{Kind: Op, Text: two, Pos: start}
	}
	if strings.IndexByte("=<>+-*/%(),.;", c) >= 0 {
		l.pos++
		return Token{Kind: Op, Text: string(c), Pos: start}
	}
	l.pos++
	return Token{Kind: Illegal, Text: string(c), Pos: start}
}

func (l *Lexer) number(start int) Token {
	seenDot := false
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '.' && !seenDot {
			seenDot = true
		} else if !isDigit(c) {
			break
		}
		l.pos++
	}
	if c := l.peekByte(0); c == 'e' || c == 'E' {
		save := l.pos
		l.pos++
		if c := l.peekByte(0); c == '+' || c == '-' {
			l.pos++
		}
		if !isDigit(l.peekByte(0)) {
			l.pos = save
		}
		for isDigit(l.peekByte(0)) {
			l.pos++
		}
	}
	return Token{Kind: Number, Text: l.input[start:l.pos], Pos: start}
}

// quoted reads a literal delimited by q, where a doubled q stands for one.
func (l *Lexer) quoted(start int, q byte, kind Kind) Token {
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == q {
			if l.peekByte(1) == q {
				sb.WriteByte(q)
				l.pos += 2
				continue
			}
			l.pos++
			return Token{Kind: kind, Text: sb.String(), Pos: start}
		}
		sb.WriteByte(c)
		l.pos++
	}
	return Token{Kind: Illegal, Text: "unterminated " + kind.String(), Pos: start}
}

// Tokenize returns every token of input up to and including EOF, or up
// to the first illegal token.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var out []Token
	for {
		tok := l.Next()
		out = append(out, tok)
		if tok.Kind == EOF || tok.Kind == Illegal {
			return out
		}
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '$'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
