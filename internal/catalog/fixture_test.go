package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xdbcore/xdb/internal/partition"
	"github.com/xdbcore/xdb/pkg/types"
)

func strp(s string) *string { return &s }
func i64p(v int64) *int64   { return &v }
func intp(v int) *int       { return &v }

// shopDef describes database shop on nodes 1 and 2:
//
//	customers(id serial pk, name)      hash on id, public select
//	orders(id pk, customer_id -> customers.id soft)  round robin
//	vip_customers inherits customers, user 3 denied select
func shopDef() *DatabaseDef {
	customers := &TableDef{
		Table: TableRecord{ID: 10, DatabaseID: 1, Name: "customers", Scheme: types.PartitionHash,
			PartColumn: strp("id"), Owner: i64p(2)},
		Columns: []ColumnRecord{
			{ID: 100, TableID: 10, Seq: 1, Name: "id", Type: types.TypeInteger, Serial: true},
			{ID: 101, TableID: 10, Seq: 2, Name: "name", Type: types.TypeVarchar, Length: 40, Nullable: true},
			{ID: 102, TableID: 10, Seq: 3, Name: RowIDColumn, Type: types.TypeBigInt},
		},
		Indexes: []IndexRecord{{ID: 200, Name: "customers_pk", TableID: 10, Type: strp("P"),
			Keys: []IndexKeyRecord{{ID: 300, IndexID: 200, Seq: 1, ColumnID: 100}}}},
		Constraints: []ConstraintRecord{{ID: 400, TableID: 10, Name: "customers_pk",
			Type: ConstraintPrimary, IndexID: i64p(200)}},
		Parts: []partition.Entry{{NodeID: 1, Bucket: intp(0)}, {NodeID: 2, Bucket: intp(1)}},
		Privileges: []PrivilegeRecord{{ID: 700, TableID: 10,
			Bits: [PrivilegeCount]Tri{PrivSelect: Granted}}},
	}
	orders := &TableDef{
		Table: TableRecord{ID: 11, DatabaseID: 1, Name: "orders", Scheme: types.PartitionRoundRobin, Owner: i64p(2)},
		Columns: []ColumnRecord{
			{ID: 110, TableID: 11, Seq: 1, Name: "id", Type: types.TypeBigInt},
			{ID: 111, TableID: 11, Seq: 2, Name: "customer_id", Type: types.TypeInteger},
			{ID: 112, TableID: 11, Seq: 3, Name: RowIDColumn, Type: types.TypeBigInt},
		},
		Indexes: []IndexRecord{
			{ID: 210, Name: "orders_pk", TableID: 11, Type: strp("P"),
				Keys: []IndexKeyRecord{{ID: 310, IndexID: 210, Seq: 1, ColumnID: 110}}},
			{ID: 211, Name: "orders_customer", TableID: 11, SysCreated: true,
				Keys: []IndexKeyRecord{{ID: 311, IndexID: 211, Seq: 1, ColumnID: 111}}},
		},
		Constraints: []ConstraintRecord{
			{ID: 410, TableID: 11, Name: "orders_pk", Type: ConstraintPrimary, IndexID: i64p(210)},
			{ID: 411, TableID: 11, Name: "orders_customer_fk", Type: ConstraintReference, IndexID: i64p(211), Soft: true,
				Reference: &ReferenceRecord{ID: 500, ConstraintID: 411, TargetTableID: 10, TargetIndexID: 200,
					Keys: []ForeignKeyRecord{{ID: 600, ReferenceID: 500, Seq: 1, ColumnID: 111, RefColumnID: 100}}}},
			{ID: 412, TableID: 11, Name: "orders_id_positive", Type: ConstraintCheck,
				Checks: []CheckRecord{{ID: 800, ConstraintID: 412, Seq: 1, Text: "id > 0"}}},
		},
		Parts: []partition.Entry{{NodeID: 1}, {NodeID: 2}},
	}
	vip := &TableDef{
		Table: TableRecord{ID: 12, DatabaseID: 1, Name: "vip_customers", Scheme: types.PartitionInherit,
			ParentID: i64p(10), Owner: i64p(2)},
		Privileges: []PrivilegeRecord{{ID: 701, TableID: 12, UserID: i64p(3),
			Bits: [PrivilegeCount]Tri{PrivSelect: Denied}}},
	}
	return &DatabaseDef{
		Database: DatabaseRecord{ID: 1, Name: "shop", Owner: 2},
		Nodes:    []DBNodeRecord{{ID: 1, DatabaseID: 1, NodeID: 1}, {ID: 2, DatabaseID: 1, NodeID: 2}},
		// children listed first; loading must still resolve parents
		Tables: []*TableDef{vip, orders, customers},
		Views: []ViewRecord{{ID: 900, DatabaseID: 1, Name: "big_orders", Text: "SELECT * FROM orders WHERE id > 100",
			Deps: []ViewDepRecord{{ViewID: 900, TableID: 11}}}},
	}
}

func newShop(t *testing.T) (*MetaData, *SysDatabase) {
	t.Helper()
	md := New(nil, Options{Nodes: []int{1, 2}})
	t.Cleanup(func() { md.Close() })

	md.PutLogin(LoginRecord{ID: 1, Name: "admin", Class: ClassDBA})
	md.PutLogin(LoginRecord{ID: 2, Name: "owner", Class: ClassResource})
	md.PutLogin(LoginRecord{ID: 3, Name: "guest", Class: ClassStandard})
	md.PutLogin(LoginRecord{ID: 4, Name: "clerk", Class: ClassStandard})

	db, err := md.AddDatabase(shopDef())
	require.NoError(t, err)
	return md, db
}

func mustTable(t *testing.T, db *SysDatabase, name string) *SysTable {
	t.Helper()
	tbl, err := db.Table(name)
	require.NoError(t, err)
	return tbl
}
