package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResultSetCursor(t *testing.T) {
	rs := NewResultSet([]string{"id"}, [][]interface{}{{int64(1)}, {int64(2)}})
	require.Nil(t, rs.Row())
	require.True(t, rs.Next())
	require.Equal(t, []interface{}{int64(1)}, rs.Row())
	require.True(t, rs.Next())
	require.Equal(t, []interface{}{int64(2)}, rs.Row())
	require.False(t, rs.Next())
	require.Nil(t, rs.Row())
	require.False(t, rs.Next())

	rs.Reset()
	require.True(t, rs.Next())
	require.Equal(t, 2, rs.Len())
	require.False(t, rs.Empty())
}

func TestEmptyResultSet(t *testing.T) {
	rs := NewResultSet([]string{"x"}, nil)
	require.True(t, rs.Empty())
	require.False(t, rs.Next())
}

func TestStatementString(t *testing.T) {
	require.Equal(t, "SELECT 1", NewStatement("SELECT 1").String())
	require.Equal(t, "SELECT ? [5, a]", NewStatement("SELECT ?", 5, "a").String())
}
