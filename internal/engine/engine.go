// Package engine defines the execution engine the catalog core runs its
// verification and resync queries through.
package engine

import (
	"context"
	"fmt"
	"strings"
)

// Statement is a parameterized SQL statement. Placeholders are '?'.
type Statement struct {
	SQL  string
	Args []interface{}
}

// NewStatement creates a Statement.
func NewStatement(sql string, args ...interface{}) Statement {
	return Statement{SQL: sql, Args: args}
}

func (s Statement) String() string {
	if len(s.Args) == 0 {
		return s.SQL
	}
	parts := make([]string, len(s.Args))
	for i, a := range s.Args {
		parts[i] = fmt.Sprintf("%v", a)
	}
	return fmt.Sprintf("%s [%s]", s.SQL, strings.Join(parts, ", "))
}

// Engine runs statements. The coordinator sees every node's data; node
// calls run on the listed nodes independently.
type Engine interface {
	// Query runs stmt on the coordinator connection.
	Query(ctx context.Context, stmt Statement) (*ResultSet, error)

	// QueryNodes runs stmt on every listed node and returns the results by node id.
	QueryNodes(ctx context.Context, stmt Statement, nodes []int) (map[int]*ResultSet, error)

	// Exec runs a write statement on the coordinator connection.
	Exec(ctx context.Context, stmt Statement) (int64, error)

	// ExecNodes runs a write statement on every listed node.
	ExecNodes(ctx context.Context, stmt Statement, nodes []int) (map[int]int64, error)
}

// ResultSet is a materialized tabular result with a cursor.
type ResultSet struct {
	columns []string
	rows    [][]interface{}
	pos     int
}

// NewResultSet creates a result set positioned before the first row.
func NewResultSet(columns []string, rows [][]interface{}) *ResultSet {
	return &ResultSet{columns: columns, rows: rows, pos: -1}
}

// Columns returns the column names.
func (r *ResultSet) Columns() []string {
	return r.columns
}

// Next advances the cursor and reports whether a row is available.
func (r *ResultSet) Next() bool {
	if r.pos+1 >= len(r.rows) {
		r.pos = len(r.rows)
		return false
	}
	r.pos++
	return true
}

// Row returns the current row.
func (r *ResultSet) Row() []interface{} {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return nil
	}
	return r.rows[r.pos]
}

// Len returns the number of rows.
func (r *ResultSet) Len() int {
	return len(r.rows)
}

// Empty reports whether the result has no rows.
func (r *ResultSet) Empty() bool {
	return len(r.rows) == 0
}

// Reset moves the cursor before the first row.
func (r *ResultSet) Reset() {
	r.pos = -1
}
