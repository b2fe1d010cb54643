package nodeexec

import (
	"context"
	"fmt"
	"strings"

	"github.com/xdbcore/xdb/internal/engine"
)

// RowIDColumn is the synthetic row id column of staging tables.
const RowIDColumn = "xrowid"

// StagingColumn describes one column of a staging table.
type StagingColumn struct {
	Name string
	Type string
}

// Stage creates a temporary table on the coordinator holding rows, each
// tagged with a distinct xrowid starting at 1. The returned function drops
// the table.
func Stage(ctx context.Context, e engine.Engine, table string, columns []StagingColumn, rows [][]interface{}) (func(context.Context) error, error) {
	defs := make([]string, 0, len(columns)+1)
	defs = append(defs, RowIDColumn+" INTEGER")
	names := make([]string, 0, len(columns)+1)
	names = append(names, RowIDColumn)
	for _, c := range columns {
		defs = append(defs, fmt.Sprintf("%s %s", c.Name, c.Type))
		names = append(names, c.Name)
	}

	create := fmt.Sprintf("CREATE TEMPORARY TABLE %s (%s)", table, strings.Join(defs, ", "))
	if _, err := e.Exec(ctx, engine.NewStatement(create)); err != nil {
		return nil, err
	}
	drop := func(ctx context.Context) error {
		_, err := e.Exec(ctx, engine.NewStatement("DROP TABLE "+table))
		return err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(names, ", "), placeholders)
	for i, row := range rows {
		if len(row) != len(columns) {
			drop(ctx)
			return nil, fmt.Errorf("nodeexec: staged row %d has %d values, want %d", i, len(row), len(columns))
		}
		args := make([]interface{}, 0, len(row)+1)
		args = append(args, int64(i+1))
		args = append(args, row...)
		if _, err := e.Exec(ctx, engine.NewStatement(insert, args...)); err != nil {
			drop(ctx)
			return nil, err
		}
	}
	return drop, nil
}
