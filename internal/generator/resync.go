package generator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/xdbcore/xdb/internal/engine"
)

// Target is one table whose column contributes to a generator's maximum.
type Target struct {
	Table  string
	Column string
	Nodes  []int
}

// Statement returns the MAX query for t.
func (t Target) Statement() engine.Statement {
	return engine.NewStatement(fmt.Sprintf("SELECT MAX(%s) FROM %s", t.Column, t.Table))
}

// NodeMax returns the largest value of every target column across the nodes
// holding each target.
func NodeMax(ctx context.Context, eng engine.Engine, targets []Target) (int64, error) {
	maxes := make([]int64, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		if len(t.Nodes) == 0 {
			continue
		}
		i, t := i, t
		g.Go(func() error {
			results, err := eng.QueryNodes(gctx, t.Statement(), t.Nodes)
			if err != nil {
				return fmt.Errorf("max of %s.%s: %w", t.Table, t.Column, err)
			}
			for node, rs := range results {
				for rs.Next() {
					row := rs.Row()
					if len(row) == 0 {
						continue
					}
					v, err := toInt64(row[0])
					if err != nil {
						return fmt.Errorf("max of %s.%s on node %d: %w", t.Table, t.Column, node, err)
					}
					if v > maxes[i] {
						maxes[i] = v
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var max int64
	for _, m := range maxes {
		if m > max {
			max = m
		}
	}
	return max, nil
}

// NodeResync returns a ResyncFunc that evaluates targets on every call, so
// table moves and new child tables are picked up.
func NodeResync(eng engine.Engine, targets func() []Target) ResyncFunc {
	return func(ctx context.Context) (int64, error) {
		return NodeMax(ctx, eng, targets())
	}
}

func toInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case []byte:
		return parseInt(string(x))
	case string:
		return parseInt(x)
	default:
		return 0, fmt.Errorf("unexpected value %T", v)
	}
}

func parseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
