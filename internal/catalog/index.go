package catalog

import "strings"

// IndexType classifies an index by the constraint that owns it.
type IndexType int

const (
	IndexNone IndexType = iota
	IndexPlain
	IndexUnique
	IndexPrimary
)

func (t IndexType) String() string {
	switch t {
	case IndexPlain:
		return "plain"
	case IndexUnique:
		return "unique"
	case IndexPrimary:
		return "primary"
	default:
		return "none"
	}
}

// SysIndex is an index of a table.
type SysIndex struct {
	table *SysTable

	ID           int64
	Name         string
	Keys         []*SysIndexKey
	Type         IndexType
	Using        string
	Where        string
	TablespaceID int64
	SysCreated   bool
}

// SysIndexKey is one key of an index.
type SysIndexKey struct {
	ID         int64
	Seq        int
	Column     *SysColumn
	Descending bool
	Operator   string
}

// Table returns the indexed table.
func (i *SysIndex) Table() *SysTable {
	return i.table
}

// Columns returns the key columns in key order.
func (i *SysIndex) Columns() []*SysColumn {
	out := make([]*SysColumn, len(i.Keys))
	for n, k := range i.Keys {
		out[n] = k.Column
	}
	return out
}

// ColumnNames returns the key column names in key order.
func (i *SysIndex) ColumnNames() []string {
	out := make([]string, len(i.Keys))
	for n, k := range i.Keys {
		out[n] = k.Column.Name
	}
	return out
}

// HasColumn reports whether c is one of the keys.
func (i *SysIndex) HasColumn(c *SysColumn) bool {
	for _, k := range i.Keys {
		if k.Column == c {
			return true
		}
	}
	return false
}

func indexTypeFromColumn(s *string) IndexType {
	if s == nil {
		return IndexPlain
	}
	switch strings.ToUpper(*s) {
	case "P":
		return IndexPrimary
	case "U":
		return IndexUnique
	default:
		return IndexPlain
	}
}

// PersistedIndexType returns the xsysindexes.idxtype value for t.
func PersistedIndexType(t IndexType) string {
	switch t {
	case IndexPrimary:
		return "P"
	case IndexUnique:
		return "U"
	default:
		return "I"
	}
}
