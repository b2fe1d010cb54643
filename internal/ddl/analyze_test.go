package ddl

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xdbcore/xdb/internal/catalog"
	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/pkg/types"
)

func TestDefineView(t *testing.T) {
	f := newFixture(t)
	sess := f.shop()
	db, err := f.md.Database("shop")
	require.NoError(t, err)

	cv, err := DefineView(db, "customer_totals", `
		SELECT c.*, o.amount * 2 AS doubled, count(*) AS n, upper(c.name) shout
		FROM customers c JOIN orders o ON o.customer_id = c.id
		WHERE o.amount > 0
		GROUP BY c.id, c.name, o.amount
		ORDER BY n DESC`)
	require.NoError(t, err)

	require.Equal(t, []catalog.ViewColumn{
		{Name: "id", Type: types.TypeInteger},
		{Name: "name", Type: types.TypeVarchar, Length: 40},
		{Name: "doubled", Type: types.TypeDecimal},
		{Name: "n", Type: types.TypeBigInt},
		{Name: "shout", Type: types.TypeText},
	}, cv.Columns)
	require.Equal(t, []ViewDep{
		{Table: "customers"},
		{Table: "orders"},
		{Table: "customers", Column: "id"},
		{Table: "customers", Column: "name"},
		{Table: "orders", Column: "amount"},
		{Table: "orders", Column: "customer_id"},
	}, cv.Deps)

	f.mustRun(sess, cv)
	stored, err := db.View("customer_totals")
	require.NoError(t, err)
	require.Equal(t, cv.Text, stored.Text)

	err = f.run(sess, &DropTable{Name: "orders"})
	requireCode(t, err, xerrors.CodeObjectInUse)
}

func TestDefineViewRenamesAndHidesRowID(t *testing.T) {
	f := newFixture(t)
	f.shop()

	db, err := f.md.Database("shop")
	require.NoError(t, err)
	cv, err := DefineView(db, "ids", "SELECT id AS order_id, amount FROM orders")
	require.NoError(t, err)
	require.Equal(t, []catalog.ViewColumn{
		{Name: "order_id", Type: types.TypeBigInt},
		{Name: "amount", Type: types.TypeDecimal, Precision: 10, Scale: 2},
	}, cv.Columns)

	cv, err = DefineView(db, "all_orders", "SELECT * FROM orders")
	require.NoError(t, err)
	for _, c := range cv.Columns {
		require.NotEqual(t, catalog.RowIDColumn, c.Name)
	}
	require.Len(t, cv.Columns, 3)
}

func TestDefineViewRejects(t *testing.T) {
	f := newFixture(t)
	f.shop()
	db, err := f.md.Database("shop")
	require.NoError(t, err)

	tests := []struct {
		text string
		code string
	}{
		{"SELECT FROM customers", xerrors.CodeInvalidDefinition},
		{"SELECT 1 AS one", xerrors.CodeInvalidDefinition},
		{"SELECT id FROM nowhere", xerrors.CodeTableNotFound},
		{"SELECT missing FROM customers", xerrors.CodeColumnNotFound},
		{"SELECT id FROM customers c JOIN orders o ON o.customer_id = c.id", xerrors.CodeInvalidDefinition},
		{"SELECT name, name FROM customers", xerrors.CodeInvalidDefinition},
		{"SELECT id + 1 FROM customers", xerrors.CodeInvalidDefinition},
		{"SELECT xrowid FROM customers", xerrors.CodeInvalidDefinition},
		{"SELECT x.id FROM customers c", xerrors.CodeInvalidDefinition},
		{"SELECT c.id FROM customers c, orders c", xerrors.CodeInvalidDefinition},
		{"SELECT id FROM customers WHERE bogus > 1", xerrors.CodeColumnNotFound},
	}
	for _, tt := range tests {
		_, err := DefineView(db, "v", tt.text)
		requireCode(t, err, tt.code)
	}
}

func TestCheckConstraintsAreValidated(t *testing.T) {
	f := newFixture(t)
	sess := f.shop()

	base := func(expr string) *CreateTable {
		return &CreateTable{
			Name:    "items",
			Columns: []ColumnDef{{Name: "qty", Type: types.TypeInteger}, {Name: "price", Type: types.TypeDecimal}},
			Checks:  []CheckDef{{Expr: expr}},
		}
	}

	requireCode(t, f.run(sess, base("qty >")), xerrors.CodeInvalidDefinition)
	requireCode(t, f.run(sess, base("weight > 0")), xerrors.CodeColumnNotFound)
	requireCode(t, f.run(sess, base("orders.amount > 0")), xerrors.CodeInvalidDefinition)
	requireCode(t, f.run(sess, base("sum(qty) > 0")), xerrors.CodeInvalidDefinition)
	requireCode(t, f.run(sess, base("xrowid > 0")), xerrors.CodeInvalidDefinition)

	f.mustRun(sess, base("items.qty BETWEEN 1 AND 100 AND (price IS NULL OR price > 0)"))

	requireCode(t, f.run(sess, &AddConstraint{Table: "items", Check: &CheckDef{Expr: "color = 'red'"}}),
		xerrors.CodeColumnNotFound)
}
