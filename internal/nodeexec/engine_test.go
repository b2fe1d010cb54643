package nodeexec

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xdbcore/xdb/internal/engine"
	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func sqliteNodes(t *testing.T, ids ...int) []types.NodeDBConnectionInfo {
	t.Helper()
	infos := make([]types.NodeDBConnectionInfo, len(ids))
	for i, id := range ids {
		infos[i] = types.NodeDBConnectionInfo{
			NodeID:     id,
			Driver:     "sqlite3",
			DBName:     "sales",
			Properties: map[string]string{"dir": t.TempDir()},
		}
	}
	return infos
}

func openTestEngine(t *testing.T, ids ...int) (*Engine, *ConnectionPool) {
	t.Helper()
	pool := NewConnectionPool(DefaultPoolConfig())
	e, err := Open(context.Background(), pool, sqliteNodes(t, ids...))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, e.Close())
		require.NoError(t, pool.Close())
	})
	return e, pool
}

func TestEngine_CoordinatorSeesAllNodes(t *testing.T) {
	ctx := context.Background()
	e, _ := openTestEngine(t, 1, 2)

	_, err := e.ExecNodes(ctx, engine.NewStatement("CREATE TABLE customers (xrowid INTEGER, id INTEGER, name TEXT)"), []int{1, 2})
	require.NoError(t, err)
	_, err = e.ExecNodes(ctx, engine.NewStatement("INSERT INTO customers VALUES (1, 10, 'ann')"), []int{1})
	require.NoError(t, err)
	_, err = e.ExecNodes(ctx, engine.NewStatement("INSERT INTO customers VALUES (2, 20, 'bob')"), []int{2})
	require.NoError(t, err)

	rs, err := e.Query(ctx, engine.NewStatement("SELECT id FROM customers ORDER BY id"))
	require.NoError(t, err)
	var ids []int64
	for rs.Next() {
		ids = append(ids, rs.Row()[0].(int64))
	}
	require.Equal(t, []int64{10, 20}, ids)

	per, err := e.QueryNodes(ctx, engine.NewStatement("SELECT MAX(id) FROM customers"), []int{1, 2})
	require.NoError(t, err)
	require.Len(t, per, 2)
	require.True(t, per[1].Next())
	require.Equal(t, int64(10), per[1].Row()[0])
	require.True(t, per[2].Next())
	require.Equal(t, int64(20), per[2].Row()[0])

	// tables created after the first query become visible too
	_, err = e.ExecNodes(ctx, engine.NewStatement("CREATE TABLE orders (xrowid INTEGER, id INTEGER)"), []int{2})
	require.NoError(t, err)
	rs, err = e.Query(ctx, engine.NewStatement("SELECT COUNT(*) FROM orders"))
	require.NoError(t, err)
	require.True(t, rs.Next())
	require.Equal(t, int64(0), rs.Row()[0])
}

func TestEngine_UnknownNode(t *testing.T) {
	e, _ := openTestEngine(t, 1)
	_, err := e.QueryNodes(context.Background(), engine.NewStatement("SELECT 1"), []int{7})
	require.True(t, xerrors.HasCode(err, xerrors.ErrCategoryLookup, xerrors.CodeNodeNotFound))
}

func TestEngine_QueryError(t *testing.T) {
	e, _ := openTestEngine(t, 1)
	_, err := e.Query(context.Background(), engine.NewStatement("SELECT * FROM missing"))
	require.True(t, xerrors.HasCode(err, xerrors.ErrCategoryPersistence, xerrors.CodeQueryFailed))
}

func TestStage(t *testing.T) {
	ctx := context.Background()
	e, _ := openTestEngine(t, 1)

	drop, err := Stage(ctx, e, "xstage_1", []StagingColumn{{Name: "id", Type: "INTEGER"}, {Name: "name", Type: "TEXT"}},
		[][]interface{}{{int64(5), "a"}, {int64(6), "b"}})
	require.NoError(t, err)

	rs, err := e.Query(ctx, engine.NewStatement("SELECT xrowid, id, name FROM xstage_1 ORDER BY xrowid"))
	require.NoError(t, err)
	require.Equal(t, 2, rs.Len())
	require.True(t, rs.Next())
	require.Equal(t, []interface{}{int64(1), int64(5), "a"}, rs.Row())

	require.NoError(t, drop(ctx))
	_, err = e.Query(ctx, engine.NewStatement("SELECT * FROM xstage_1"))
	require.Error(t, err)

	_, err = Stage(ctx, e, "xstage_2", []StagingColumn{{Name: "id", Type: "INTEGER"}}, [][]interface{}{{1, 2}})
	require.Error(t, err)
}

func TestPool_SharesAndReleases(t *testing.T) {
	ctx := context.Background()
	pool := NewConnectionPool(PoolConfig{MaxTotalConnections: 1})
	defer pool.Close()

	infos := sqliteNodes(t, 1, 2)
	a, err := pool.Get(ctx, infos[0])
	require.NoError(t, err)
	b, err := pool.Get(ctx, infos[0])
	require.NoError(t, err)
	require.Same(t, a, b)

	_, err = pool.Get(ctx, infos[1])
	require.Error(t, err, "pool is full while node 1 is referenced")

	pool.Release(infos[0])
	pool.Release(infos[0])
	_, err = pool.Get(ctx, infos[1])
	require.NoError(t, err)

	stats := pool.Stats()
	require.Equal(t, 1, stats.TotalConnections)
	require.Equal(t, 1, stats.ActiveConnections)
}

func TestDSN(t *testing.T) {
	dsn, err := DSN(types.NodeDBConnectionInfo{
		NodeID: 1, Driver: "mysql", Host: "db1", Port: 3306, DBName: "sales",
		User: "xdb", Password: "pw", Properties: map[string]string{"charset": "utf8mb4"},
	})
	require.NoError(t, err)
	require.Contains(t, dsn, "xdb:pw@tcp(db1:3306)/sales")
	require.Contains(t, dsn, "charset=utf8mb4")

	_, err = DSN(types.NodeDBConnectionInfo{NodeID: 1, Driver: "sqlite3"})
	require.True(t, xerrors.HasCode(err, xerrors.ErrCategoryConfig, xerrors.CodeMissingProperty))

	_, err = DSN(types.NodeDBConnectionInfo{NodeID: 1, Driver: "oracle"})
	require.Error(t, err)
}

func TestEngine_NodeIDsSorted(t *testing.T) {
	e, _ := openTestEngine(t, 3, 1, 2)
	ids := e.NodeIDs()
	require.True(t, sort.IntsAreSorted(ids))
	require.Len(t, ids, 3)
}
