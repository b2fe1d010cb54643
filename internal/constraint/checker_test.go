package constraint

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/xdbcore/xdb/internal/catalog"
	"github.com/xdbcore/xdb/internal/ddl"
	"github.com/xdbcore/xdb/internal/engine"
	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/internal/lock"
	"github.com/xdbcore/xdb/internal/metastore"
	"github.com/xdbcore/xdb/internal/nodeexec"
	"github.com/xdbcore/xdb/internal/observability"
	"github.com/xdbcore/xdb/pkg/types"
)

// shop is a catalog with customers hashed on id over nodes 1 and 2, and
// orders spread round robin with a soft key and a soft reference to
// customers, plus node databases holding their rows.
type shop struct {
	t  *testing.T
	md *catalog.MetaData
	db *catalog.SysDatabase
	e  *nodeexec.Engine
}

func newShop(t *testing.T) *shop {
	t.Helper()
	ctx := context.Background()

	store, err := metastore.Open(filepath.Join(t.TempDir(), "meta.db"), metastore.Options{})
	require.NoError(t, err)
	md := catalog.New(store, catalog.Options{Nodes: []int{1, 2}})
	t.Cleanup(func() {
		md.Close()
		store.Close()
	})
	require.NoError(t, md.Bootstrap(ctx, "s3cret"))
	require.NoError(t, md.Load(ctx))

	login, err := md.Login(catalog.AdminLoginName)
	require.NoError(t, err)
	admin, err := md.Database(catalog.AdminDatabaseName)
	require.NoError(t, err)
	require.NoError(t, ddl.Run(ctx, md, catalog.NewSession(1, login, admin), &ddl.CreateDatabase{Name: "shop", Nodes: []int{1, 2}}))

	db, err := md.Database("shop")
	require.NoError(t, err)
	sess := catalog.NewSession(2, login, db)
	require.NoError(t, ddl.Run(ctx, md, sess, &ddl.CreateTable{
		Name: "customers",
		Columns: []ddl.ColumnDef{
			{Name: "id", Type: types.TypeInteger, NotNull: true},
			{Name: "name", Type: types.TypeVarchar, Length: 40},
		},
		PrimaryKey: &ddl.KeyDef{Columns: []string{"id"}},
		Scheme:     types.PartitionHash,
		PartColumn: "id",
	}))
	require.NoError(t, ddl.Run(ctx, md, sess, &ddl.CreateTable{
		Name: "orders",
		Columns: []ddl.ColumnDef{
			{Name: "id", Type: types.TypeInteger, NotNull: true},
			{Name: "customer_id", Type: types.TypeInteger},
			{Name: "amount", Type: types.TypeDouble},
		},
		PrimaryKey:  &ddl.KeyDef{Columns: []string{"id"}},
		ForeignKeys: []ddl.ForeignKeyDef{{Columns: []string{"customer_id"}, RefTable: "customers"}},
	}))

	pool := nodeexec.NewConnectionPool(nodeexec.DefaultPoolConfig())
	infos := make([]types.NodeDBConnectionInfo, 0, 2)
	for _, id := range []int{1, 2} {
		infos = append(infos, types.NodeDBConnectionInfo{
			NodeID:     id,
			Driver:     "sqlite3",
			DBName:     "shop",
			Properties: map[string]string{"dir": t.TempDir()},
		})
	}
	e, err := nodeexec.Open(ctx, pool, infos)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, e.Close())
		require.NoError(t, pool.Close())
	})

	s := &shop{t: t, md: md, db: db, e: e}
	s.exec([]int{1, 2}, "CREATE TABLE customers (id INTEGER, name TEXT, xrowid INTEGER)")
	s.exec([]int{1, 2}, "CREATE TABLE orders (id INTEGER, customer_id INTEGER, amount REAL, xrowid INTEGER)")
	s.exec([]int{1}, "INSERT INTO customers VALUES (10, 'ann', 1)")
	s.exec([]int{2}, "INSERT INTO customers VALUES (20, 'bob', 2)")
	s.exec([]int{2}, "INSERT INTO customers VALUES (30, 'cy', 3)")
	s.exec([]int{1}, "INSERT INTO orders VALUES (1, 10, 5.0, 101)")
	s.exec([]int{2}, "INSERT INTO orders VALUES (2, 20, 7.5, 102)")
	return s
}

func (s *shop) exec(nodes []int, sql string) {
	s.t.Helper()
	_, err := s.e.ExecNodes(context.Background(), engine.NewStatement(sql), nodes)
	require.NoError(s.t, err)
}

func (s *shop) table(name string) *catalog.SysTable {
	s.t.Helper()
	tbl, err := s.db.Table(name)
	require.NoError(s.t, err)
	return tbl
}

// stage stages rows under name and returns the staged Rows.
func (s *shop) stage(name string, columns []string, rows ...[]interface{}) Rows {
	s.t.Helper()
	cols := make([]nodeexec.StagingColumn, len(columns))
	for i, c := range columns {
		cols[i] = nodeexec.StagingColumn{Name: c, Type: "INTEGER"}
	}
	drop, err := nodeexec.Stage(context.Background(), s.e, name, cols, rows)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { drop(context.Background()) })
	return Staged(name, len(rows))
}

func (s *shop) run(c Checker) error {
	return Run(context.Background(), s.db, s.e, c, nil)
}

func row(values ...interface{}) []interface{} {
	return values
}

func requireViolation(t *testing.T, err error, contains string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, xerrors.CodeConstraintViolation, xerrors.GetCode(err), "error: %v", err)
	require.Contains(t, err.Error(), contains)
}

func TestInsertForeignKeyStagedBatch(t *testing.T) {
	s := newShop(t)
	orders := s.table("orders")

	ok := s.stage("stg_ok", []string{"id", "customer_id"}, row(3, 10), row(4, 30), row(5, nil))
	c := NewInsertForeignKey(orders, ok)
	require.Empty(t, c.ScanConstraints([]string{"id", "customer_id", "amount"}))
	require.Len(t, c.Keys(), 1)
	require.NoError(t, s.run(c))

	before := testutil.ToFloat64(observability.ConstraintViolationCounter.WithLabelValues("insert_foreign_key"))
	bad := s.stage("stg_bad", []string{"id", "customer_id"}, row(6, 10), row(7, 99))
	c = NewInsertForeignKey(orders, bad)
	c.ScanConstraints([]string{"id", "customer_id"})
	requireViolation(t, s.run(c), "referenced row not found")
	require.Equal(t, before+1, testutil.ToFloat64(observability.ConstraintViolationCounter.WithLabelValues("insert_foreign_key")))
}

func TestInsertForeignKeySingleTuple(t *testing.T) {
	s := newShop(t)
	orders := s.table("orders")

	c := NewInsertForeignKey(orders, Tuple(map[string]interface{}{"id": 3, "customer_id": 20}))
	c.ScanConstraints([]string{"id", "customer_id"})
	checks, err := c.Prepare()
	require.NoError(t, err)
	require.Len(t, checks, 1)
	require.Equal(t, ViolateIfEmpty, checks[0].Criteria.When)
	require.NoError(t, s.run(c))

	c = NewInsertForeignKey(orders, Tuple(map[string]interface{}{"id": 3, "customer_id": 21}))
	c.ScanConstraints([]string{"id", "customer_id"})
	requireViolation(t, s.run(c), "orders")

	// a NULL reference is not checked
	c = NewInsertForeignKey(orders, Tuple(map[string]interface{}{"id": 3, "customer_id": nil}))
	c.ScanConstraints([]string{"id", "customer_id"})
	checks, err = c.Prepare()
	require.NoError(t, err)
	require.Empty(t, checks)
	require.NoError(t, s.run(c))
}

func TestInsertForeignKeyIgnoresUntouchedColumns(t *testing.T) {
	s := newShop(t)
	c := NewInsertForeignKey(s.table("orders"), Tuple(map[string]interface{}{"amount": 1.0}))
	require.Empty(t, c.ScanConstraints([]string{"amount"}))
	require.Empty(t, c.Keys())
	require.Equal(t, lock.LowCost, c.Cost())

	// the insert itself still writes orders
	spec := c.LockSpecs()
	require.Equal(t, []*catalog.SysTable{s.table("orders")}, spec.Tables())
	mode, _ := spec.Mode(s.table("orders"))
	require.Equal(t, lock.Write, mode)
}

func TestInsertPrimaryKey(t *testing.T) {
	s := newShop(t)
	orders := s.table("orders")

	c := NewInsertPrimaryKey(orders, s.stage("stg_new", []string{"id"}, row(3), row(4)))
	require.Empty(t, c.ScanConstraints([]string{"id", "customer_id", "amount"}))
	require.NoError(t, s.run(c))

	c = NewInsertPrimaryKey(orders, s.stage("stg_dup", []string{"id"}, row(3), row(3)))
	c.ScanConstraints([]string{"id"})
	requireViolation(t, s.run(c), "duplicate key violates primary key")

	c = NewInsertPrimaryKey(orders, s.stage("stg_old", []string{"id"}, row(3), row(2)))
	c.ScanConstraints([]string{"id"})
	requireViolation(t, s.run(c), "duplicate key")

	c = NewInsertPrimaryKey(orders, Tuple(map[string]interface{}{"id": 1}))
	c.ScanConstraints([]string{"id"})
	requireViolation(t, s.run(c), "duplicate key")

	// the key of customers is enforced by the nodes
	c = NewInsertPrimaryKey(s.table("customers"), Tuple(map[string]interface{}{"id": 10}))
	c.ScanConstraints([]string{"id", "name"})
	require.Empty(t, c.Keys())
	require.NoError(t, s.run(c))
}

func TestUpdatePrimaryKey(t *testing.T) {
	s := newShop(t)
	orders := s.table("orders")

	// swapping two keys collides with neither stored row
	swap := s.stage("stg_swap", []string{"id", RowRefColumn}, row(2, 101), row(1, 102))
	c := NewUpdatePrimaryKey(orders, swap)
	require.Equal(t, []string{catalog.RowIDColumn}, c.ScanConstraints([]string{"id"}))
	checks, err := c.Prepare()
	require.NoError(t, err)
	require.Len(t, checks, 2)
	require.NotContains(t, checks[0].Query.SQL(), "b.xrowid", "the batch query is its own statement")
	require.NoError(t, s.run(c))

	c = NewUpdatePrimaryKey(orders, s.stage("stg_take", []string{"id", RowRefColumn}, row(2, 101)))
	c.ScanConstraints([]string{"id"})
	requireViolation(t, s.run(c), "duplicate key")

	c = NewUpdatePrimaryKey(orders, s.stage("stg_same", []string{"id", RowRefColumn}, row(8, 101), row(8, 102)))
	c.ScanConstraints([]string{"id"})
	requireViolation(t, s.run(c), "duplicate key")

	c = NewUpdatePrimaryKey(orders, Tuple(map[string]interface{}{"id": 1, RowRefColumn: 101}))
	c.ScanConstraints([]string{"id"})
	require.NoError(t, s.run(c))

	c = NewUpdatePrimaryKey(orders, Tuple(map[string]interface{}{"id": 1, RowRefColumn: 102}))
	c.ScanConstraints([]string{"id"})
	requireViolation(t, s.run(c), "duplicate key")

	c = NewUpdatePrimaryKey(orders, Tuple(map[string]interface{}{"id": 1}))
	c.ScanConstraints([]string{"id"})
	_, err = c.Prepare()
	require.Error(t, err)
}

func TestUpdateForeignKey(t *testing.T) {
	s := newShop(t)
	customers := s.table("customers")
	orders := s.table("orders")

	cols := []string{"id", OldColumn("id")}
	c := NewUpdateForeignKey(customers, s.stage("stg_move", cols, row(11, 10)))
	require.Empty(t, c.ScanConstraints([]string{"id"}))
	require.Len(t, c.Dependents(), 1)
	requireViolation(t, s.run(c), "key is still referenced")

	// nothing references 30
	c = NewUpdateForeignKey(customers, s.stage("stg_free", cols, row(31, 30)))
	c.ScanConstraints([]string{"id"})
	require.NoError(t, s.run(c))

	// 10 moves away but another row takes it over
	c = NewUpdateForeignKey(customers, s.stage("stg_swap", cols, row(30, 10), row(10, 30)))
	c.ScanConstraints([]string{"id"})
	require.NoError(t, s.run(c))

	c = NewUpdateForeignKey(customers, Tuple(map[string]interface{}{"id": 21, OldColumn("id"): 20}))
	c.ScanConstraints([]string{"id"})
	requireViolation(t, s.run(c), "key is still referenced")

	c = NewUpdateForeignKey(customers, Tuple(map[string]interface{}{"id": 20, OldColumn("id"): 20}))
	c.ScanConstraints([]string{"id"})
	require.NoError(t, s.run(c))

	// the old value as a node returns it, the new one as a caller builds it
	c = NewUpdateForeignKey(customers, Tuple(map[string]interface{}{"id": 20, OldColumn("id"): int64(20)}))
	c.ScanConstraints([]string{"id"})
	checks, err := c.Prepare()
	require.NoError(t, err)
	require.Empty(t, checks)
	require.NoError(t, s.run(c))

	// the outgoing direction: a new customer_id must exist
	c = NewUpdateForeignKey(orders, Tuple(map[string]interface{}{"customer_id": 77}))
	c.ScanConstraints([]string{"customer_id"})
	require.Len(t, c.Keys(), 1)
	requireViolation(t, s.run(c), "referenced row not found")

	c = NewUpdateForeignKey(orders, Tuple(map[string]interface{}{"amount": 1.5}))
	require.Empty(t, c.ScanConstraints([]string{"amount"}))
	require.Empty(t, c.Keys())
	require.Empty(t, c.Dependents())
}

func TestDeleteReference(t *testing.T) {
	s := newShop(t)
	customers := s.table("customers")

	c := NewDeleteReference(customers, s.stage("stg_del", []string{"id"}, row(30)))
	require.Equal(t, []string{"id"}, c.ScanConstraints(nil))
	require.NoError(t, s.run(c))

	c = NewDeleteReference(customers, s.stage("stg_del_ref", []string{"id"}, row(30), row(10)))
	c.ScanConstraints(nil)
	requireViolation(t, s.run(c), "row is still referenced")

	c = NewDeleteReference(customers, Tuple(map[string]interface{}{"id": 20}))
	c.ScanConstraints(nil)
	requireViolation(t, s.run(c), "row is still referenced")

	// orders is not referenced by anything
	c = NewDeleteReference(s.table("orders"), Tuple(map[string]interface{}{"id": 1}))
	require.Empty(t, c.ScanConstraints(nil))
	require.NoError(t, s.run(c))
}

func TestSetAggregatesLocksAndCosts(t *testing.T) {
	s := newShop(t)
	orders := s.table("orders")
	customers := s.table("customers")

	rows := s.stage("stg_set", []string{"id", "customer_id"}, row(3, 10), row(4, 20))
	set, extra := ForInsert(orders, rows, []string{"id", "customer_id", "amount"})
	require.Empty(t, extra)
	require.Len(t, set, 2)
	require.True(t, set.NeedCoordinatorConnection())

	spec := set.LockSpecs()
	mode, ok := spec.Mode(customers)
	require.True(t, ok)
	require.Equal(t, lock.Read, mode)
	mode, ok = spec.Mode(orders)
	require.True(t, ok)
	require.Equal(t, lock.Write, mode)

	var want int64
	for _, c := range set {
		want += c.Cost()
	}
	require.Equal(t, want, set.Cost())
	require.GreaterOrEqual(t, set.Cost(), int64(2))

	checks, err := set.Prepare()
	require.NoError(t, err)
	require.Len(t, checks, 3, "batch duplicates, stored duplicates and the reference")
	for _, c := range checks {
		require.True(t, c.NeedCoordinatorConnection())
	}
	require.NoError(t, s.run(set))

	set, _ = ForInsert(customers, Tuple(map[string]interface{}{"id": 40}), []string{"id", "name"})
	require.Equal(t, lock.LowCost, set.Cost())
	require.Equal(t, []*catalog.SysTable{customers}, set.LockSpecs().Writes())
	require.Empty(t, set.LockSpecs().Reads())

	set, extra = ForDelete(customers, Tuple(map[string]interface{}{"id": 10}))
	require.Equal(t, []string{"id"}, extra)
	requireViolation(t, s.run(set), "still referenced")
}

// TestOrdersWithUnknownCustomerAreRejected runs the whole insert path: the
// catalog decides which constraints are soft, the rows are staged on the
// coordinator and the set is admitted by the database's scheduler.
func TestOrdersWithUnknownCustomerAreRejected(t *testing.T) {
	s := newShop(t)
	orders := s.table("orders")
	require.True(t, orders.PrimaryKey().Soft)
	require.True(t, orders.References()[0].IsDistributed())

	ctx := context.Background()
	good := s.stage("stg_orders_good", []string{"id", "customer_id"}, row(3, 10), row(4, 20))
	set, _ := ForInsert(orders, good, []string{"id", "customer_id"})
	require.NoError(t, Run(ctx, s.db, s.e, set, nil))

	bad := s.stage("stg_orders_bad", []string{"id", "customer_id"}, row(5, 10), row(6, 42))
	set, _ = ForInsert(orders, bad, []string{"id", "customer_id"})
	err := Run(ctx, s.db, s.e, set, nil)
	requireViolation(t, err, "foreign key")
	require.Equal(t, xerrors.ErrCategoryIntegrity, xerrors.GetCategory(err))
	require.Eventually(t, func() bool { return s.db.Scheduler().Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSameValues(t *testing.T) {
	require.True(t, sameValues([]interface{}{20, "a"}, []interface{}{int64(20), []byte("a")}))
	require.True(t, sameValues([]interface{}{uint8(3)}, []interface{}{3.0}))
	require.True(t, sameValues([]interface{}{nil}, []interface{}{nil}))
	require.False(t, sameValues([]interface{}{20}, []interface{}{int64(21)}))
	require.False(t, sameValues([]interface{}{20}, []interface{}{nil}))
	require.False(t, sameValues([]interface{}{1.5}, []interface{}{1}))
	require.False(t, sameValues([]interface{}{1}, []interface{}{1, 2}))
}

// TestConcurrentInsertsOfOneKeyAreSerialized holds the first insert's
// ticket across its node write; the second insert of the same key waits,
// then sees the written row and fails without writing.
func TestConcurrentInsertsOfOneKeyAreSerialized(t *testing.T) {
	s := newShop(t)
	orders := s.table("orders")
	ctx := context.Background()
	columns := []string{"id", "customer_id"}
	tuple := func() Rows { return Tuple(map[string]interface{}{"id": 9, "customer_id": 10}) }

	first, _ := ForInsert(orders, tuple(), columns)
	ticket, err := s.db.Scheduler().Acquire(ctx, first)
	require.NoError(t, err)
	require.NoError(t, first.Execute(ctx, s.e))

	second, _ := ForInsert(orders, tuple(), columns)
	var wrote atomic.Bool
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, s.db, s.e, second, func(context.Context) error {
			wrote.Store(true)
			return nil
		})
	}()
	require.Eventually(t, func() bool { return s.db.Scheduler().Queued() == 1 }, time.Second, 5*time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("second insert admitted while the first holds its locks: %v", err)
	default:
	}

	s.exec([]int{1}, "INSERT INTO orders VALUES (9, 10, 1.0, 103)")
	ticket.Release()

	select {
	case err := <-done:
		requireViolation(t, err, "duplicate key")
	case <-time.After(5 * time.Second):
		t.Fatal("second insert never admitted")
	}
	require.False(t, wrote.Load())
}

func TestRunWritesAfterPassingChecks(t *testing.T) {
	s := newShop(t)
	set, _ := ForInsert(s.table("orders"), Tuple(map[string]interface{}{"id": 9, "customer_id": 20}), []string{"id", "customer_id"})
	var wrote bool
	require.NoError(t, Run(context.Background(), s.db, s.e, set, func(context.Context) error {
		wrote = true
		return nil
	}))
	require.True(t, wrote)
}
