package catalog

import (
	"fmt"

	"github.com/xdbcore/xdb/pkg/types"
)

// RowIDColumn is the hidden column holding each row's cluster-wide id.
const RowIDColumn = "xrowid"

// SysColumn is one column of a table.
type SysColumn struct {
	table *SysTable

	ID          int64
	Seq         int
	Name        string
	Type        types.SQLType
	Length      int
	Scale       int
	Precision   int
	Nullable    bool
	Serial      bool
	Default     string
	Selectivity float64
	NativeDef   string

	indexType IndexType
}

func newColumn(t *SysTable, r ColumnRecord) *SysColumn {
	c := &SysColumn{
		table:       t,
		ID:          r.ID,
		Seq:         r.Seq,
		Name:        r.Name,
		Type:        r.Type,
		Length:      r.Length,
		Scale:       r.Scale,
		Precision:   r.Precision,
		Nullable:    r.Nullable,
		Serial:      r.Serial,
		Selectivity: r.Selectivity,
	}
	if r.Default != nil {
		c.Default = *r.Default
	}
	if r.NativeDef != nil {
		c.NativeDef = *r.NativeDef
	}
	return c
}

// Table returns the table the column belongs to.
func (c *SysColumn) Table() *SysTable {
	return c.table
}

// IndexType is the strongest kind of index the column is a key of.
func (c *SysColumn) IndexType() IndexType {
	return c.indexType
}

// TypeString renders the declared type, e.g. VARCHAR(20) or DECIMAL(10,2).
func (c *SysColumn) TypeString() string {
	switch {
	case c.NativeDef != "":
		return c.NativeDef
	case c.Type.HasLength() && c.Length > 0:
		return fmt.Sprintf("%s(%d)", c.Type, c.Length)
	case c.Type.HasPrecision() && c.Precision > 0:
		return fmt.Sprintf("%s(%d,%d)", c.Type, c.Precision, c.Scale)
	default:
		return c.Type.String()
	}
}

// IsRowID reports whether c is the hidden row-id column.
func (c *SysColumn) IsRowID() bool {
	return c.Name == RowIDColumn
}
