package catalog

import (
	"github.com/xdbcore/xdb/internal/partition"
	"github.com/xdbcore/xdb/pkg/types"
)

// Records mirror rows of the metadata store. They are what the bulk loader
// reads and what DDL commands hand to their refresh step, so the in-memory
// catalog is always built from the same shapes that were persisted.

// LoginRecord is a row of xsysusers.
type LoginRecord struct {
	ID           int64
	Name         string
	PasswordHash string
	Class        UserClass
}

// DatabaseRecord is a row of xsysdatabases.
type DatabaseRecord struct {
	ID    int64
	Name  string
	Owner int64
}

// DBNodeRecord is a row of xsysdbnodes.
type DBNodeRecord struct {
	ID         int64
	DatabaseID int64
	NodeID     int
}

// TablespaceRecord is a row of xsystablespaces with its xsystablespacelocs.
type TablespaceRecord struct {
	ID        int64
	Name      string
	Owner     int64
	Locations map[int]string
}

// TableRecord is a row of xsystables.
type TableRecord struct {
	ID           int64
	DatabaseID   int64
	Name         string
	NumRows      int64
	Scheme       types.PartitionScheme
	PartColumn   *string
	PartHash     *int64
	Owner        *int64
	ParentID     *int64
	TablespaceID *int64
	ClusterIndex *string
}

// ColumnRecord is a row of xsyscolumns.
type ColumnRecord struct {
	ID          int64
	TableID     int64
	Seq         int
	Name        string
	Type        types.SQLType
	Length      int
	Scale       int
	Precision   int
	Nullable    bool
	Serial      bool
	Default     *string
	Selectivity float64
	NativeDef   *string
}

// IndexRecord is a row of xsysindexes with its keys.
type IndexRecord struct {
	ID           int64
	Name         string
	TableID      int64
	Type         *string
	TablespaceID *int64
	Using        *string
	Where        *string
	SysCreated   bool
	Keys         []IndexKeyRecord
}

// IndexKeyRecord is a row of xsysindexkeys.
type IndexKeyRecord struct {
	ID         int64
	IndexID    int64
	Seq        int
	Descending bool
	ColumnID   int64
	Operator   *string
}

// ConstraintRecord is a row of xsysconstraints with its reference or checks.
type ConstraintRecord struct {
	ID        int64
	TableID   int64
	Name      string
	Type      ConstraintType
	IndexID   *int64
	Soft      bool
	Reference *ReferenceRecord
	Checks    []CheckRecord
}

// ReferenceRecord is a row of xsysreferences with its column pairs.
type ReferenceRecord struct {
	ID            int64
	ConstraintID  int64
	TargetTableID int64
	TargetIndexID int64
	Keys          []ForeignKeyRecord
}

// ForeignKeyRecord is a row of xsysforeignkeys.
type ForeignKeyRecord struct {
	ID          int64
	ReferenceID int64
	Seq         int
	ColumnID    int64
	RefColumnID int64
}

// CheckRecord is a row of xsyschecks.
type CheckRecord struct {
	ID           int64
	ConstraintID int64
	Seq          int
	Text         string
}

// PrivilegeRecord is a row of xsystabprivs. A nil UserID is the public grant.
type PrivilegeRecord struct {
	ID      int64
	TableID int64
	UserID  *int64
	Bits    [PrivilegeCount]Tri
}

// ViewRecord is a row of xsysviews with its columns and dependencies.
type ViewRecord struct {
	ID         int64
	DatabaseID int64
	Name       string
	Text       string
	Owner      *int64
	Columns    []ViewColumnRecord
	Deps       []ViewDepRecord
}

// ViewColumnRecord is a row of xsysviewscolumns.
type ViewColumnRecord struct {
	ID        int64
	ViewID    int64
	Seq       int
	Name      string
	Type      types.SQLType
	Length    int
	Scale     int
	Precision int
}

// ViewDepRecord is a row of xsysviewdeps.
type ViewDepRecord struct {
	ViewID   int64
	ColumnID *int64
	TableID  int64
}

// TableDef is the full persisted definition of one table.
type TableDef struct {
	Table       TableRecord
	Columns     []ColumnRecord
	Indexes     []IndexRecord
	Constraints []ConstraintRecord
	Parts       []partition.Entry
	Privileges  []PrivilegeRecord

	// Temporary marks a session table that is never persisted.
	Temporary bool
}

// DatabaseDef is the full persisted definition of one database.
type DatabaseDef struct {
	Database DatabaseRecord
	Nodes    []DBNodeRecord
	Tables   []*TableDef
	Views    []ViewRecord
}

// Clone returns a deep copy of d that DDL commands may edit.
func (d *TableDef) Clone() *TableDef {
	c := &TableDef{
		Table:     d.Table,
		Columns:   append([]ColumnRecord(nil), d.Columns...),
		Parts:     append([]partition.Entry(nil), d.Parts...),
		Temporary: d.Temporary,
	}
	for _, ix := range d.Indexes {
		ix.Keys = append([]IndexKeyRecord(nil), ix.Keys...)
		c.Indexes = append(c.Indexes, ix)
	}
	for _, cr := range d.Constraints {
		if cr.Reference != nil {
			ref := *cr.Reference
			ref.Keys = append([]ForeignKeyRecord(nil), ref.Keys...)
			cr.Reference = &ref
		}
		cr.Checks = append([]CheckRecord(nil), cr.Checks...)
		c.Constraints = append(c.Constraints, cr)
	}
	c.Privileges = append([]PrivilegeRecord(nil), d.Privileges...)
	return c
}
