package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/xdbcore/xdb/internal/catalog"
	"github.com/xdbcore/xdb/internal/ddl"
	"github.com/xdbcore/xdb/internal/metastore"
	"github.com/xdbcore/xdb/internal/observability"
	"github.com/xdbcore/xdb/internal/storage"
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

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := NewHandler(HandlerConfig{Catalog: newCatalog(t), Name: "xdb-test"})
	rec := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","service":"xdb-test"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := NewHandler(HandlerConfig{Catalog: newCatalog(t)})
	req := httptest.NewRequest(http.MethodGet, "/v1/databases/nope", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "req-42", resp.RequestID)
	require.Equal(t, "DATABASE_NOT_FOUND", resp.Code)
}

func TestDescribeRoutes(t *testing.T) {
	h := NewHandler(HandlerConfig{Catalog: newCatalog(t)})

	rec := do(t, h, http.MethodGet, "/v1/databases", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var dbs []DatabaseSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dbs))
	require.Len(t, dbs, 1)
	require.Equal(t, "shop", dbs[0].Name)
	require.Equal(t, []int{1, 2}, dbs[0].Nodes)
	require.Equal(t, 1, dbs[0].Tables)

	rec = do(t, h, http.MethodGet, "/v1/databases/shop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var db catalog.DatabaseDesc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &db))
	require.Len(t, db.Tables, 1)
	require.Equal(t, "customers", db.Tables[0].Name)

	rec = do(t, h, http.MethodGet, "/v1/databases/shop/tables/customers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tbl catalog.TableDesc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tbl))
	require.Equal(t, "customers", tbl.Name)
	require.NotEmpty(t, tbl.Constraints)

	rec = do(t, h, http.MethodGet, "/v1/databases/shop/tables/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/catalog", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var desc catalog.Description
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &desc))
	require.Len(t, desc.Databases, 1)
	require.NotEmpty(t, desc.Logins)
}

func TestNodeState(t *testing.T) {
	md := newCatalog(t)
	h := NewHandler(HandlerConfig{Catalog: md})

	rec := do(t, h, http.MethodPut, "/v1/nodes/2", `{"up": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	n, err := md.StartupLock().Node(2)
	require.NoError(t, err)
	require.True(t, n.IsUp())

	rec = do(t, h, http.MethodGet, "/v1/nodes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[{"id":1,"up":false},{"id":2,"up":true}]`, rec.Body.String())

	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodPut, "/v1/nodes/9", `{"up": true}`).Code)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/v1/nodes/x", `{"up": true}`).Code)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/v1/nodes/1", `{}`).Code)
	require.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodDelete, "/v1/nodes/1", "").Code)
}

func TestLockContention(t *testing.T) {
	md := newCatalog(t)
	require.Equal(t, http.StatusNotFound, do(t, NewHandler(HandlerConfig{Catalog: md}), http.MethodGet, "/v1/locks", "").Code)

	stats := observability.NewLockStats(time.Hour)
	stats.RecordWait("shop.customers", "write", 30*time.Millisecond)
	stats.RecordWait("shop.customers", "read", 10*time.Millisecond)
	stats.RecordWait("shop.orders", "write", 5*time.Millisecond)
	h := NewHandler(HandlerConfig{Catalog: md, LockStats: stats})

	rec := do(t, h, http.MethodGet, "/v1/locks?top=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out []struct {
		Table       string `json:"table"`
		Waits       int64  `json:"waits"`
		TotalWaitMs int64  `json:"total_wait_ms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	require.Equal(t, "shop.customers", out[0].Table)
	require.Equal(t, int64(2), out[0].Waits)
	require.Equal(t, int64(40), out[0].TotalWaitMs)

	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/locks?top=-1", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, observability.RegisterMetrics(reg))
	observability.CatalogChangeCounter.WithLabelValues("table").Inc()

	h := NewHandler(HandlerConfig{Catalog: newCatalog(t), Gatherer: reg})
	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "catalog_changes_total")
}

func TestSnapshots(t *testing.T) {
	md := newCatalog(t)
	require.Equal(t, http.StatusNotFound, do(t, NewHandler(HandlerConfig{Catalog: md}), http.MethodPost, "/v1/snapshots", "").Code)

	objects, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	h := NewHandler(HandlerConfig{Catalog: md, Snapshots: objects, SnapshotPrefix: "snap/"})

	rec := do(t, h, http.MethodGet, "/v1/snapshots", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"snapshots":[]}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/v1/snapshots", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created BackupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.True(t, strings.HasPrefix(created.Snapshot, "snap/"))
	require.Empty(t, created.Pruned)

	rec = do(t, h, http.MethodGet, "/v1/snapshots", "")
	var listed map[string][]storage.ObjectInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed["snapshots"], 1)
	require.Equal(t, created.Snapshot, listed["snapshots"][0].Key)
	require.Positive(t, listed["snapshots"][0].Size)

	h = NewHandler(HandlerConfig{Catalog: md, Snapshots: objects, SnapshotPrefix: "snap/", SnapshotRetain: 1})
	rec = do(t, h, http.MethodPost, "/v1/snapshots", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var second BackupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	require.Equal(t, []string{created.Snapshot}, second.Pruned)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := DefaultMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := do(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "internal server error", resp.Error)
	require.NotEmpty(t, resp.RequestID)
}
