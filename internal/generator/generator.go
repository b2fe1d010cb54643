// Package generator hands out serial and row-id values. A generator does not
// persist its cursor: on first use it reads the current maximum from the
// nodes holding the table and continues from there.
package generator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/internal/logutil"
)

// State of a generator.
type State int

const (
	Invalid State = iota
	Resynchronizing
	Valid
)

func (s State) String() string {
	switch s {
	case Invalid:
		return "invalid"
	case Resynchronizing:
		return "resynchronizing"
	case Valid:
		return "valid"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Type ceilings.
const (
	SmallIntMax int64 = math.MaxInt16
	IntMax      int64 = math.MaxInt32
	BigIntMax   int64 = math.MaxInt64
)

// CeilingFor returns the largest value a column of the given SQL type holds.
// Unknown types get the bigint ceiling.
func CeilingFor(sqlType string) int64 {
	t := strings.ToLower(strings.TrimSpace(sqlType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case "smallint", "int2", "smallserial", "serial2":
		return SmallIntMax
	case "int", "integer", "int4", "serial", "serial4", "mediumint":
		return IntMax
	default:
		return BigIntMax
	}
}

// ResyncFunc returns the largest value currently stored, or 0 when there is
// none.
type ResyncFunc func(ctx context.Context) (int64, error)

// Generator is a cluster-wide counter for one column.
type Generator struct {
	name    string
	ceiling int64
	resync  ResyncFunc

	mu        sync.Mutex
	state     State
	last      int64
	resyncing chan struct{}
}

// New creates an invalid generator; the first allocation resynchronizes it.
func New(name string, ceiling int64, resync ResyncFunc) *Generator {
	if ceiling <= 0 {
		ceiling = BigIntMax
	}
	return &Generator{name: name, ceiling: ceiling, resync: resync}
}

// Name returns the generator name, usually table.column.
func (g *Generator) Name() string {
	return g.name
}

// Ceiling returns the largest value the generator may hand out.
func (g *Generator) Ceiling() int64 {
	return g.ceiling
}

// State returns the current state.
func (g *Generator) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Invalidate forces a resync before the next allocation. A resync already in
// flight is left alone.
func (g *Generator) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Valid {
		g.state = Invalid
	}
}

// Observe records a value written explicitly, e.g. a user supplied serial,
// so later allocations do not hand it out again.
func (g *Generator) Observe(v int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Valid && v > g.last {
		g.last = min(v, g.ceiling)
	}
}

// Allocate returns the next value.
func (g *Generator) Allocate(ctx context.Context) (int64, error) {
	return g.AllocateRange(ctx, 1)
}

// AllocateRange reserves n consecutive values and returns the first one.
// A range that would pass the ceiling fails with a generator overflow and
// reserves nothing.
func (g *Generator) AllocateRange(ctx context.Context, n int64) (int64, error) {
	if n <= 0 {
		return 0, xerrors.NewGeneratorError(xerrors.CodeGeneratorOverflow,
			fmt.Sprintf("generator %s: range size must be positive, got %d", g.name, n), nil)
	}

	for {
		g.mu.Lock()
		switch g.state {
		case Valid:
			if n > g.ceiling-g.last {
				last := g.last
				g.mu.Unlock()
				return 0, xerrors.NewGeneratorError(xerrors.CodeGeneratorOverflow,
					fmt.Sprintf("generator %s: cannot reserve %d values after %d, ceiling is %d", g.name, n, last, g.ceiling), nil)
			}
			first := g.last + 1
			g.last += n
			g.mu.Unlock()
			return first, nil

		case Resynchronizing:
			ch := g.resyncing
			g.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return 0, xerrors.NewGeneratorError(xerrors.CodeResyncFailed,
					fmt.Sprintf("generator %s: waiting for resync", g.name), ctx.Err())
			}

		default:
			ch := make(chan struct{})
			g.state = Resynchronizing
			g.resyncing = ch
			g.mu.Unlock()

			if err := g.runResync(ctx, ch); err != nil {
				return 0, err
			}
		}
	}
}

func (g *Generator) runResync(ctx context.Context, ch chan struct{}) error {
	var (
		max int64
		err error
	)
	if g.resync != nil {
		max, err = g.resync(ctx)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	defer close(ch)

	if err != nil {
		g.state = Invalid
		logutil.Logger(ctx).Warn("generator resync failed", zap.String("generator", g.name), zap.Error(err))
		return xerrors.NewGeneratorError(xerrors.CodeResyncFailed,
			fmt.Sprintf("generator %s: resync", g.name), err)
	}
	if max < 0 {
		max = 0
	}
	g.last = max
	g.state = Valid
	logutil.Logger(ctx).Debug("generator resynchronized", zap.String("generator", g.name), zap.Int64("max", max))
	return nil
}
