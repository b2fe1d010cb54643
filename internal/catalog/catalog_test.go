package catalog

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xdbcore/xdb/internal/engine"
	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/internal/generator"
	"github.com/xdbcore/xdb/internal/lock"
	"github.com/xdbcore/xdb/internal/partition"
	"github.com/xdbcore/xdb/pkg/types"
)

func TestInheritanceDelegation(t *testing.T) {
	_, db := newShop(t)
	customers := mustTable(t, db, "customers")
	vip := mustTable(t, db, "vip_customers")

	require.Same(t, customers, vip.Parent())
	require.Equal(t, []*SysTable{vip}, customers.Children())
	require.Empty(t, vip.OwnColumns())
	require.Equal(t, customers.Columns(), vip.Columns())

	c, err := vip.Column("NAME")
	require.NoError(t, err)
	require.Same(t, customers, c.Table())

	require.Equal(t, types.PartitionHash, vip.PartitionScheme())
	require.Equal(t, "id", vip.PartitionColumn())
	require.Equal(t, []int{1, 2}, vip.Nodes())
	require.Same(t, customers.PrimaryKey(), vip.PrimaryKey())

	require.Same(t, customers.SerialGenerator(), vip.SerialGenerator())
	require.Same(t, customers.RowIDGenerator(), vip.RowIDGenerator())
	require.Nil(t, mustTable(t, db, "orders").SerialGenerator())
}

func TestColumnIndexClassification(t *testing.T) {
	_, db := newShop(t)
	customers := mustTable(t, db, "customers")
	orders := mustTable(t, db, "orders")

	id, err := customers.Column("id")
	require.NoError(t, err)
	require.Equal(t, IndexPrimary, id.IndexType())

	name, err := customers.Column("name")
	require.NoError(t, err)
	require.Equal(t, IndexNone, name.IndexType())
	require.Equal(t, "varchar(40)", name.TypeString())

	fk, err := orders.Column("customer_id")
	require.NoError(t, err)
	require.Equal(t, IndexPlain, fk.IndexType())

	require.Len(t, orders.UniqueConstraints(), 1)
	ck, err := orders.Constraint("ORDERS_ID_POSITIVE")
	require.NoError(t, err)
	require.Equal(t, []string{"id > 0"}, ck.Checks)
}

func TestReferences(t *testing.T) {
	_, db := newShop(t)
	customers := mustTable(t, db, "customers")
	orders := mustTable(t, db, "orders")

	refs := orders.References()
	require.Len(t, refs, 1)
	ref := refs[0]
	require.Same(t, customers, ref.Target())
	require.True(t, ref.IsDistributed())
	require.Equal(t, []string{"customer_id"}, ref.ColumnNames())
	require.Equal(t, []string{"id"}, ref.TargetColumnNames())
	require.Equal(t, "customers_pk", ref.TargetIndex().Name)

	require.Len(t, customers.ReferencedBy(), 1)
	pk, err := customers.Index("customers_pk")
	require.NoError(t, err)
	require.True(t, db.IsIndexReferenced(pk))
	opk, err := orders.Index("orders_pk")
	require.NoError(t, err)
	require.False(t, db.IsIndexReferenced(opk))

	require.Contains(t, ref.Constraint().Description(), "references customers(id)")
}

func TestPermissionInheritance(t *testing.T) {
	md, db := newShop(t)
	customers := mustTable(t, db, "customers")
	vip := mustTable(t, db, "vip_customers")

	login := func(name string) *SysLogin {
		l, err := md.Login(name)
		require.NoError(t, err)
		return l
	}

	// user grant on the child beats the public grant on the parent
	require.False(t, Resolve(vip, 3, PrivSelect))
	require.True(t, Resolve(vip, 4, PrivSelect))
	require.True(t, Resolve(customers, 3, PrivSelect))
	require.False(t, Resolve(customers, 4, PrivInsert))

	require.False(t, vip.Allows(login("guest"), PrivSelect))
	require.True(t, vip.Allows(login("clerk"), PrivSelect))
	require.True(t, vip.Allows(login("owner"), PrivDelete))
	require.True(t, vip.Allows(login("admin"), PrivAlter))
	require.False(t, customers.Allows(nil, PrivUpdate))

	guest, err := db.User("guest")
	require.NoError(t, err)
	require.Len(t, guest.Grants(), 1)
	require.Equal(t, Denied, vip.Permission(guest).Get(PrivSelect))
	require.Equal(t, Granted, customers.Permission(nil).Get(PrivSelect))

	owner, err := db.UserByID(2)
	require.NoError(t, err)
	require.Len(t, owner.OwnedTables(), 3)
}

func TestPutTableRebuildsInPlace(t *testing.T) {
	_, db := newShop(t)
	customers := mustTable(t, db, "customers")
	orders := mustTable(t, db, "orders")

	def := shopDef().Tables[2]
	def.Table.Name = "clients"
	def.Columns = append(def.Columns, ColumnRecord{ID: 103, TableID: 10, Seq: 4, Name: "email", Type: types.TypeVarchar, Length: 80})

	rebuilt, err := db.PutTable(def)
	require.NoError(t, err)
	require.Same(t, customers, rebuilt)
	require.False(t, db.HasTable("customers"))
	require.Same(t, customers, mustTable(t, db, "clients"))
	require.Len(t, customers.Columns(), 4)

	// links resolve by id, so the reference follows the rename
	require.Equal(t, "clients", orders.References()[0].Target().Name())
	require.Len(t, mustTable(t, db, "vip_customers").Columns(), 4)
}

func TestPutTableDuplicateName(t *testing.T) {
	_, db := newShop(t)
	def := &TableDef{Table: TableRecord{ID: 99, DatabaseID: 1, Name: "Orders", Scheme: types.PartitionOneNode}}
	_, err := db.PutTable(def)
	require.True(t, xerrors.HasCode(err, xerrors.ErrCategoryIntegrity, xerrors.CodeDuplicateObject))

	rename := shopDef().Tables[1]
	rename.Table.Name = "customers"
	_, err = db.PutTable(rename)
	require.True(t, xerrors.HasCode(err, xerrors.ErrCategoryIntegrity, xerrors.CodeDuplicateObject))
	require.Equal(t, "orders", mustTable(t, db, "orders").Name())
}

func TestRemoveTable(t *testing.T) {
	_, db := newShop(t)
	customers := mustTable(t, db, "customers")
	orders := mustTable(t, db, "orders")

	db.RemoveTable(orders)
	require.False(t, db.HasTable("orders"))
	_, err := db.TableByID(11)
	require.True(t, xerrors.HasCode(err, xerrors.ErrCategoryLookup, xerrors.CodeTableNotFound))
	require.Empty(t, customers.ReferencedBy())

	pk, err := customers.Index("customers_pk")
	require.NoError(t, err)
	require.False(t, db.IsIndexReferenced(pk))
}

func TestRemoveTableInvalidatesParentRowIDs(t *testing.T) {
	md, db := newShop(t)
	md.SetEngine(&maxEngine{max: 41})
	customers := mustTable(t, db, "customers")

	gen := customers.RowIDGenerator()
	v, err := gen.Allocate(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(42), v)

	db.RemoveTable(mustTable(t, db, "vip_customers"))
	require.Equal(t, generator.Invalid, gen.State())
}

func TestGeneratorWithoutEngine(t *testing.T) {
	_, db := newShop(t)
	_, err := mustTable(t, db, "customers").SerialGenerator().Allocate(context.Background())
	require.True(t, xerrors.HasCode(err, xerrors.ErrCategoryGenerator, xerrors.CodeResyncFailed))
}

func TestSerialGeneratorResyncsAcrossTree(t *testing.T) {
	md, db := newShop(t)
	eng := &maxEngine{max: 9}
	md.SetEngine(eng)

	v, err := mustTable(t, db, "vip_customers").SerialGenerator().Allocate(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(10), v)
	require.ElementsMatch(t, []string{
		"SELECT MAX(id) FROM customers",
		"SELECT MAX(id) FROM vip_customers",
	}, eng.statements())
}

func TestAdminPseudoDatabase(t *testing.T) {
	md, _ := newShop(t)
	admin, err := md.Database("ADMIN")
	require.NoError(t, err)
	require.True(t, admin.IsAdmin())
	require.Same(t, md.AdminDatabase(), admin)
	require.Len(t, md.Databases(), 1)

	_, err = md.AddDatabase(&DatabaseDef{Database: DatabaseRecord{ID: 5, Name: "admin", Owner: 1}})
	require.True(t, xerrors.HasCode(err, xerrors.ErrCategoryIntegrity, xerrors.CodeDuplicateObject))

	_, err = md.Database("nope")
	require.True(t, xerrors.HasCode(err, xerrors.ErrCategoryLookup, xerrors.CodeDatabaseNotFound))
}

func TestRemoveDatabase(t *testing.T) {
	md, db := newShop(t)
	md.RemoveDatabase(db)
	require.False(t, md.HasDatabase("shop"))
	_, err := md.DatabaseByID(1)
	require.Error(t, err)

	_, err = db.Scheduler().Acquire(context.Background(), specOp{NewLockSpec().AddRead(mustTable(t, db, "orders"))})
	require.True(t, xerrors.HasCode(err, xerrors.ErrCategoryLock, xerrors.CodeSchedulerClose))
}

func TestViews(t *testing.T) {
	_, db := newShop(t)
	v, err := db.View("BIG_ORDERS")
	require.NoError(t, err)
	require.True(t, v.DependsOn(11))
	require.Equal(t, []*SysView{v}, db.ViewsOn(11))
	require.Empty(t, db.ViewsOn(10))

	db.RemoveView(v)
	require.Empty(t, db.Views())
}

func TestLogins(t *testing.T) {
	md, _ := newShop(t)
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	md.PutLogin(LoginRecord{ID: 3, Name: "visitor", PasswordHash: hash, Class: ClassStandard})

	_, err = md.Login("guest")
	require.Error(t, err, "renamed login must leave no stale name")
	l, err := md.Authenticate("Visitor", "s3cret")
	require.NoError(t, err)
	require.Equal(t, int64(3), l.ID)
	_, err = md.Authenticate("visitor", "wrong")
	require.Error(t, err)

	md.RemoveLogin(3)
	_, err = md.LoginByID(3)
	require.True(t, xerrors.HasCode(err, xerrors.ErrCategoryLookup, xerrors.CodeUserNotFound))
	require.Len(t, md.Logins(), 3)
}

func TestTablespaces(t *testing.T) {
	md, _ := newShop(t)
	md.PutTablespace(TablespaceRecord{ID: 1, Name: "fast", Owner: 1, Locations: map[int]string{1: "/ssd/a", 2: "/ssd/b"}})
	ts, err := md.Tablespace("FAST")
	require.NoError(t, err)
	loc, ok := ts.Location(2)
	require.True(t, ok)
	require.Equal(t, "/ssd/b", loc)
	require.Equal(t, []int{1, 2}, ts.Nodes())

	md.RemoveTablespace(1)
	_, err = md.TablespaceByID(1)
	require.True(t, xerrors.HasCode(err, xerrors.ErrCategoryLookup, xerrors.CodeTablespaceNotFound))
}

func TestTempTableIDs(t *testing.T) {
	md, _ := newShop(t)
	ctx := context.Background()

	a, err := md.AcquireTempTableID(ctx)
	require.NoError(t, err)
	b, err := md.AcquireTempTableID(ctx)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.True(t, IsTempTableID(a))
	require.True(t, IsTempTableID(b))
	require.False(t, IsTempTableID(10))
}

func TestTempIDPoolExhaustion(t *testing.T) {
	p := newTempIDPool()
	for id := TempTableIDMin; id <= TempTableIDMax; id++ {
		p.used[id] = true
	}
	_, err := p.acquire(context.Background())
	require.True(t, xerrors.HasCode(err, xerrors.ErrCategoryIntegrity, xerrors.CodeDuplicateObject))

	p.release(TempTableIDMin + 7)
	id, err := p.acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, TempTableIDMin+7, id)
}

func TestTempIDPoolReleaseDuringWait(t *testing.T) {
	p := newTempIDPool()
	for id := TempTableIDMin; id <= TempTableIDMax; id++ {
		p.used[id] = true
	}
	go func() {
		time.Sleep(5 * time.Millisecond)
		p.release(TempTableIDMax)
	}()
	id, err := p.acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, TempTableIDMax, id)
}

func TestSessionTempTables(t *testing.T) {
	md, db := newShop(t)
	login, err := md.Login("clerk")
	require.NoError(t, err)
	sess := NewSession(77, login, db)

	id, err := md.AcquireTempTableID(context.Background())
	require.NoError(t, err)
	tmp, err := db.PutTable(&TableDef{
		Table:     TableRecord{ID: id, DatabaseID: 1, Name: "scratch", Scheme: types.PartitionOneNode},
		Columns:   []ColumnRecord{{ID: id, TableID: id, Seq: 1, Name: "v", Type: types.TypeInteger}},
		Parts:     []partition.Entry{{NodeID: 1}},
		Temporary: true,
	})
	require.NoError(t, err)
	sess.AddTempTable(tmp)
	require.Equal(t, int64(77), tmp.SessionID())
	require.True(t, tmp.IsTemporary())
	require.Equal(t, []*SysTable{tmp}, sess.TempTables())

	db.RemoveTable(tmp)
	sess.RemoveTempTable(tmp)
	require.Empty(t, sess.TempTables())

	// released ids are handed out again
	md.tempIDs.next = id
	again, err := md.AcquireTempTableID(context.Background())
	require.NoError(t, err)
	require.Equal(t, id, again)
}

func TestStartupLockWaitForNodes(t *testing.T) {
	md, db := newShop(t)
	startup := md.StartupLock()
	require.False(t, db.IsOnline())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := startup.WaitForNodes(ctx, []int{1, 2})
	require.True(t, xerrors.HasCode(err, xerrors.ErrCategoryLookup, xerrors.CodeNodeNotFound))

	done := make(chan error, 1)
	go func() { done <- startup.WaitForNodes(context.Background(), []int{1, 2}) }()
	require.NoError(t, startup.SetNodeUp(1, true))
	require.NoError(t, startup.SetNodeUp(2, true))
	require.NoError(t, <-done)
	require.True(t, db.IsOnline())

	startup.SetOnline(db.DBNode(2), false)
	require.False(t, db.IsOnline())
	require.Error(t, startup.SetNodeUp(9, true))
}

func TestBalancerPrefersOnlineNodes(t *testing.T) {
	md, db := newShop(t)
	b := db.Balancer()

	// nothing online: plain round robin
	require.Equal(t, 1, b.Pick([]int{2, 1}))
	require.Equal(t, 2, b.Pick([]int{2, 1}))

	require.NoError(t, md.StartupLock().SetNodeUp(2, true))
	for i := 0; i < 4; i++ {
		require.Equal(t, 2, b.Pick([]int{1, 2}))
	}
	require.Equal(t, -1, b.Pick(nil))
}

func TestDescribeIsStable(t *testing.T) {
	md, db := newShop(t)
	before := md.Describe()
	require.True(t, reflect.DeepEqual(before, md.Describe()))
	require.Len(t, before.Databases, 1)
	require.Len(t, before.Databases[0].Tables, 3)

	vip := before.Databases[0].Tables[2]
	require.Equal(t, "vip_customers", vip.Name)
	require.Equal(t, "customers", vip.Parent)
	require.Equal(t, "N------", vip.Permissions[0].Bits)

	db.RemoveTable(mustTable(t, db, "orders"))
	require.False(t, reflect.DeepEqual(before, md.Describe()))
}

type specOp struct{ spec *LockSpec }

func (o specOp) Cost() int64                     { return lock.LowCost }
func (o specOp) LockSpecs() *LockSpec            { return o.spec }
func (o specOp) NeedCoordinatorConnection() bool { return false }

type maxEngine struct {
	max int64

	mu   sync.Mutex
	seen []string
}

func (e *maxEngine) statements() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.seen...)
}

func (e *maxEngine) Query(context.Context, engine.Statement) (*engine.ResultSet, error) {
	return nil, errors.New("not used")
}

func (e *maxEngine) QueryNodes(_ context.Context, stmt engine.Statement, nodes []int) (map[int]*engine.ResultSet, error) {
	e.mu.Lock()
	e.seen = append(e.seen, stmt.SQL)
	e.mu.Unlock()
	out := make(map[int]*engine.ResultSet, len(nodes))
	for _, n := range nodes {
		out[n] = engine.NewResultSet([]string{"max"}, [][]interface{}{{e.max}})
	}
	return out, nil
}

func (e *maxEngine) Exec(context.Context, engine.Statement) (int64, error) { return 0, nil }

func (e *maxEngine) ExecNodes(context.Context, engine.Statement, []int) (map[int]int64, error) {
	return nil, nil
}
