package grpc

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/xdbcore/xdb/internal/catalog"
	"github.com/xdbcore/xdb/internal/ddl"
	"github.com/xdbcore/xdb/internal/metastore"
	"github.com/xdbcore/xdb/pkg/types"
)

func newCatalog(t *testing.T) *catalog.MetaData {
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
	require.NoError(t, ddl.Run(ctx, md, catalog.NewSession(2, login, db), &ddl.CreateTable{
		Name: "customers",
		Columns: []ddl.ColumnDef{
			{Name: "id", Type: types.TypeInteger, NotNull: true},
			{Name: "name", Type: types.TypeVarchar, Length: 40},
		},
		PrimaryKey: &ddl.KeyDef{Columns: []string{"id"}},
	}))
	return md
}

// dial starts the service on an in-memory listener.
func dial(t *testing.T, md *catalog.MetaData) *Client {
	t.Helper()
	l := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpc.UnaryInterceptor(UnaryInterceptor))
	NewServer(md).Register(gs)
	go gs.Serve(l)
	t.Cleanup(gs.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return l.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { cc.Close() })
	return NewClient(cc)
}

func requireCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, want, status.Code(err), err.Error())
}

func TestListAndDescribe(t *testing.T) {
	c := dial(t, newCatalog(t))
	ctx := context.Background()

	out, err := c.Call(ctx, "ListDatabases", nil)
	require.NoError(t, err)
	dbs := out.GetFields()["databases"].GetListValue().GetValues()
	require.Len(t, dbs, 1)
	require.Equal(t, "shop", dbs[0].GetStructValue().GetFields()["name"].GetStringValue())

	out, err = c.Call(ctx, "DescribeDatabase", map[string]interface{}{"database": "shop"})
	require.NoError(t, err)
	require.Len(t, out.GetFields()["tables"].GetListValue().GetValues(), 1)

	out, err = c.Call(ctx, "DescribeTable", map[string]interface{}{"database": "shop", "table": "customers"})
	require.NoError(t, err)
	require.Equal(t, "customers", out.GetFields()["name"].GetStringValue())
	require.Len(t, out.GetFields()["columns"].GetListValue().GetValues(), 2)

	_, err = c.Call(ctx, "DescribeTable", map[string]interface{}{"database": "shop", "table": "missing"})
	requireCode(t, err, codes.NotFound)
	_, err = c.Call(ctx, "DescribeTable", map[string]interface{}{"database": "shop"})
	requireCode(t, err, codes.InvalidArgument)
	_, err = c.Call(ctx, "DescribeDatabase", map[string]interface{}{"database": "nope"})
	requireCode(t, err, codes.NotFound)
}

func TestSetNodeState(t *testing.T) {
	md := newCatalog(t)
	c := dial(t, md)
	ctx := context.Background()

	out, err := c.Call(ctx, "SetNodeState", map[string]interface{}{"node": 1, "up": true})
	require.NoError(t, err)
	require.True(t, out.GetFields()["up"].GetBoolValue())
	n, err := md.StartupLock().Node(1)
	require.NoError(t, err)
	require.True(t, n.IsUp())

	out, err = c.Call(ctx, "ListNodes", nil)
	require.NoError(t, err)
	nodes := out.GetFields()["nodes"].GetListValue().GetValues()
	require.Len(t, nodes, 2)
	require.True(t, nodes[0].GetStructValue().GetFields()["up"].GetBoolValue())
	require.False(t, nodes[1].GetStructValue().GetFields()["up"].GetBoolValue())

	_, err = c.Call(ctx, "SetNodeState", map[string]interface{}{"node": 7, "up": true})
	requireCode(t, err, codes.NotFound)
	_, err = c.Call(ctx, "SetNodeState", map[string]interface{}{"node": 1.5, "up": true})
	requireCode(t, err, codes.InvalidArgument)
	_, err = c.Call(ctx, "SetNodeState", map[string]interface{}{"node": 1})
	requireCode(t, err, codes.InvalidArgument)
}

func TestRequestIDHeader(t *testing.T) {
	c := dial(t, newCatalog(t))
	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-request-id", "req-7")

	var header metadata.MD
	_, err := c.Call(ctx, "ListNodes", nil, grpc.Header(&header))
	require.NoError(t, err)
	require.Equal(t, []string{"req-7"}, header.Get("x-request-id"))

	_, err = c.Call(context.Background(), "ListNodes", nil, grpc.Header(&header))
	require.NoError(t, err)
	require.Len(t, header.Get("x-request-id"), 1)
	require.NotEqual(t, "req-7", header.Get("x-request-id")[0])
}

func TestUnknownMethod(t *testing.T) {
	c := dial(t, newCatalog(t))
	_, err := c.Call(context.Background(), "DropEverything", nil)
	requireCode(t, err, codes.Unimplemented)
}
