package constraint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueryRendersJoinsAndFilters(t *testing.T) {
	q := Select("stg", "s", Col{Table: "s", Column: RowIDColumn}).
		LeftJoin("customers", "r", keyMatch("s", []string{"customer_id"}, "r", []string{"id"})).
		Filter(And{IsNull{Expr: Col{Table: "r", Column: "xrowid"}}, IsNull{Expr: Col{Table: "s", Column: "customer_id"}, Not: true}}).
		First()

	require.Equal(t,
		"SELECT s.xrowid FROM stg s LEFT JOIN customers r ON s.customer_id = r.id "+
			"WHERE (r.xrowid IS NULL AND s.customer_id IS NOT NULL) LIMIT 1",
		q.SQL())
}

func TestQueryBindsParametersInOrder(t *testing.T) {
	where := append(equalsParams("t", []string{"region", "id"}, []interface{}{"eu", int64(7)}),
		Binary{Left: Col{Table: "t", Column: "xrowid"}, Operator: "<>", Right: Param{Value: int64(3)}})
	stmt := Select("orders", "t").Filter(where).First().Statement()

	require.Equal(t, "SELECT 1 FROM orders t WHERE (t.region = ? AND t.id = ? AND t.xrowid <> ?) LIMIT 1", stmt.SQL)
	require.Equal(t, []interface{}{"eu", int64(7), int64(3)}, stmt.Args)
}

func TestQuerySubqueryAndEmptyTerms(t *testing.T) {
	q := Select("orders", "t").
		Join("stg", "s", And{}).
		Filter(Or{NotIn{Expr: Col{Table: "t", Column: "xrowid"}, Query: Select("stg", "", Col{Column: RowRefColumn})}, Or{}})

	require.Equal(t,
		"SELECT 1 FROM orders t JOIN stg s ON 1 = 1 WHERE (t.xrowid NOT IN (SELECT xrowref FROM stg) OR 1 = 0)",
		q.SQL())
}

func TestBatchDuplicatesUsesStrictRowIDInequality(t *testing.T) {
	q := batchDuplicates("stg", []string{"a", "b"})
	require.Equal(t,
		"SELECT a.xrowid FROM stg a JOIN stg b ON (a.a = b.a AND a.b = b.b AND a.xrowid < b.xrowid) LIMIT 1",
		q.SQL())
}
