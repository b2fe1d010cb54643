package generator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xdbcore/xdb/internal/engine"
	xerrors "github.com/xdbcore/xdb/internal/errors"
)

func fixed(max int64) ResyncFunc {
	return func(context.Context) (int64, error) { return max, nil }
}

func TestCeilingFor(t *testing.T) {
	tests := map[string]int64{
		"smallint":   SmallIntMax,
		"SMALLINT":   SmallIntMax,
		"int":        IntMax,
		"integer":    IntMax,
		"serial":     IntMax,
		"int(11)":    IntMax,
		"bigint":     BigIntMax,
		"bigserial":  BigIntMax,
		"varchar(5)": BigIntMax,
	}
	for typ, want := range tests {
		require.Equal(t, want, CeilingFor(typ), typ)
	}
}

func TestResyncThenAllocate(t *testing.T) {
	g := New("orders.id", IntMax, fixed(41))
	require.Equal(t, Invalid, g.State())

	v, err := g.Allocate(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(42), v)
	require.Equal(t, Valid, g.State())

	first, err := g.AllocateRange(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, int64(43), first)

	v, err = g.Allocate(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(53), v)
}

func TestEmptyTableStartsAtOne(t *testing.T) {
	g := New("t.id", 0, fixed(0))
	v, err := g.Allocate(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), v)
	require.Equal(t, BigIntMax, g.Ceiling())
}

func TestOverflowLeavesCursor(t *testing.T) {
	g := New("tiny.id", SmallIntMax, fixed(SmallIntMax-5))
	ctx := context.Background()

	_, err := g.AllocateRange(ctx, 6)
	require.Error(t, err)
	require.True(t, xerrors.HasCode(err, xerrors.ErrCategoryGenerator, xerrors.CodeGeneratorOverflow))

	first, err := g.AllocateRange(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, SmallIntMax-4, first)

	_, err = g.Allocate(ctx)
	require.Error(t, err)

	_, err = g.AllocateRange(ctx, 0)
	require.Error(t, err)
}

func TestBigIntCeilingDoesNotWrap(t *testing.T) {
	g := New("big.id", BigIntMax, fixed(BigIntMax-1))
	v, err := g.Allocate(context.Background())
	require.NoError(t, err)
	require.Equal(t, BigIntMax, v)
	_, err = g.Allocate(context.Background())
	require.Error(t, err)
}

func TestResyncFailureStaysInvalid(t *testing.T) {
	var calls atomic.Int32
	g := New("t.id", IntMax, func(context.Context) (int64, error) {
		if calls.Add(1) == 1 {
			return 0, errors.New("node 2 unreachable")
		}
		return 7, nil
	})

	_, err := g.Allocate(context.Background())
	require.True(t, xerrors.HasCode(err, xerrors.ErrCategoryGenerator, xerrors.CodeResyncFailed))
	require.Equal(t, Invalid, g.State())

	v, err := g.Allocate(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(8), v)
}

func TestInvalidateAndObserve(t *testing.T) {
	max := int64(10)
	g := New("t.id", IntMax, func(context.Context) (int64, error) { return max, nil })
	ctx := context.Background()

	v, _ := g.Allocate(ctx)
	require.Equal(t, int64(11), v)

	g.Observe(100)
	v, _ = g.Allocate(ctx)
	require.Equal(t, int64(101), v)

	g.Observe(50)
	max = 500
	g.Invalidate()
	require.Equal(t, Invalid, g.State())
	v, _ = g.Allocate(ctx)
	require.Equal(t, int64(501), v)
}

func TestConcurrentAllocationsAreUnique(t *testing.T) {
	var resyncs atomic.Int32
	g := New("t.id", BigIntMax, func(context.Context) (int64, error) {
		resyncs.Add(1)
		time.Sleep(10 * time.Millisecond)
		return 1000, nil
	})

	var (
		mu  sync.Mutex
		got []int64
		wg  sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				first, err := g.AllocateRange(context.Background(), 2)
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				got = append(got, first, first+1)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), resyncs.Load(), "waiters share one resync")
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	require.Len(t, got, 2000)
	for i, v := range got {
		require.Equal(t, int64(1001+i), v)
	}
}

func TestWaitingForResyncHonorsContext(t *testing.T) {
	release := make(chan struct{})
	g := New("t.id", IntMax, func(context.Context) (int64, error) {
		<-release
		return 0, nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = g.Allocate(context.Background())
	}()
	require.Eventually(t, func() bool { return g.State() == Resynchronizing }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.Allocate(ctx)
	require.Error(t, err)

	close(release)
	<-done
	require.Equal(t, Valid, g.State())
}

type maxEngine struct {
	values map[string]map[int]interface{}
	seen   sync.Map
}

func (e *maxEngine) Query(context.Context, engine.Statement) (*engine.ResultSet, error) {
	return nil, errors.New("not used")
}

func (e *maxEngine) QueryNodes(_ context.Context, stmt engine.Statement, nodes []int) (map[int]*engine.ResultSet, error) {
	e.seen.Store(stmt.SQL, true)
	out := make(map[int]*engine.ResultSet)
	for _, n := range nodes {
		out[n] = engine.NewResultSet([]string{"max"}, [][]interface{}{{e.values[stmt.SQL][n]}})
	}
	return out, nil
}

func (e *maxEngine) Exec(context.Context, engine.Statement) (int64, error) { return 0, nil }

func (e *maxEngine) ExecNodes(context.Context, engine.Statement, []int) (map[int]int64, error) {
	return nil, nil
}

func TestNodeMaxAcrossChildTables(t *testing.T) {
	eng := &maxEngine{values: map[string]map[int]interface{}{
		"SELECT MAX(xrowid) FROM parent": {1: int64(10), 2: nil},
		"SELECT MAX(xrowid) FROM child":  {2: []byte("77"), 3: "12"},
	}}
	targets := []Target{
		{Table: "parent", Column: "xrowid", Nodes: []int{1, 2}},
		{Table: "child", Column: "xrowid", Nodes: []int{2, 3}},
		{Table: "nowhere", Column: "xrowid"},
	}

	max, err := NodeMax(context.Background(), eng, targets)
	require.NoError(t, err)
	require.Equal(t, int64(77), max)
	_, queried := eng.seen.Load("SELECT MAX(xrowid) FROM nowhere")
	require.False(t, queried)

	g := New("parent.xrowid", BigIntMax, NodeResync(eng, func() []Target { return targets }))
	v, err := g.Allocate(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(78), v)
}
