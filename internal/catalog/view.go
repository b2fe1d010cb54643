package catalog

import "github.com/xdbcore/xdb/pkg/types"

// SysView is a stored view definition.
type SysView struct {
	ID      int64
	Name    string
	Text    string
	OwnerID int64
	Columns []ViewColumn
	// TableIDs are the tables the view reads, sorted and distinct.
	TableIDs []int64
	deps     []ViewDepRecord
}

// ViewColumn is one output column of a view.
type ViewColumn struct {
	Name      string
	Type      types.SQLType
	Length    int
	Scale     int
	Precision int
}

func newView(r ViewRecord) *SysView {
	v := &SysView{ID: r.ID, Name: r.Name, Text: r.Text, deps: append([]ViewDepRecord(nil), r.Deps...)}
	if r.Owner != nil {
		v.OwnerID = *r.Owner
	}
	for _, c := range r.Columns {
		v.Columns = append(v.Columns, ViewColumn{
			Name: c.Name, Type: c.Type, Length: c.Length, Scale: c.Scale, Precision: c.Precision,
		})
	}
	seen := make(map[int64]bool)
	for _, d := range r.Deps {
		if !seen[d.TableID] {
			seen[d.TableID] = true
			v.TableIDs = append(v.TableIDs, d.TableID)
		}
	}
	return v
}

// DependsOn reports whether the view reads table id.
func (v *SysView) DependsOn(tableID int64) bool {
	for _, id := range v.TableIDs {
		if id == tableID {
			return true
		}
	}
	return false
}

// DependsOnColumn reports whether the view reads column id of table
// tableID. A dependency without a column covers the whole table.
func (v *SysView) DependsOnColumn(tableID, columnID int64) bool {
	for _, d := range v.deps {
		if d.TableID != tableID {
			continue
		}
		if d.ColumnID == nil || *d.ColumnID == columnID {
			return true
		}
	}
	return false
}
