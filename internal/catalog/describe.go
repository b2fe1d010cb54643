package catalog

// Description is a plain snapshot of the catalog. It holds no pointers into
// the live catalog, so two descriptions compare with reflect.DeepEqual and
// encode as JSON.
type Description struct {
	Logins      []LoginDesc      `json:"logins"`
	Databases   []DatabaseDesc   `json:"databases"`
	Tablespaces []TablespaceDesc `json:"tablespaces"`
}

type LoginDesc struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Class string `json:"class"`
}

type TablespaceDesc struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Owner     int64          `json:"owner"`
	Locations map[int]string `json:"locations"`
}

type DatabaseDesc struct {
	ID     int64       `json:"id"`
	Name   string      `json:"name"`
	Owner  int64       `json:"owner"`
	Nodes  []int       `json:"nodes"`
	Tables []TableDesc `json:"tables"`
	Views  []ViewDesc  `json:"views,omitempty"`
}

type TableDesc struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Owner       int64            `json:"owner"`
	Parent      string           `json:"parent,omitempty"`
	Scheme      string           `json:"scheme"`
	PartColumn  string           `json:"part_column,omitempty"`
	Nodes       []int            `json:"nodes"`
	Columns     []ColumnDesc     `json:"columns"`
	Indexes     []IndexDesc      `json:"indexes,omitempty"`
	Constraints []string         `json:"constraints,omitempty"`
	Permissions []PermissionDesc `json:"permissions,omitempty"`
}

type ColumnDesc struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Serial   bool   `json:"serial,omitempty"`
	Default  string `json:"default,omitempty"`
	Index    string `json:"index,omitempty"`
}

type IndexDesc struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Columns []string `json:"columns"`
}

type PermissionDesc struct {
	UserID int64  `json:"user_id"`
	Bits   string `json:"bits"`
}

type ViewDesc struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Text   string  `json:"text"`
	Tables []int64 `json:"tables"`
}

// Describe snapshots the whole catalog. The admin pseudo-database is left
// out because it holds nothing persistent.
func (md *MetaData) Describe() *Description {
	d := &Description{}
	for _, l := range md.Logins() {
		d.Logins = append(d.Logins, LoginDesc{ID: l.ID, Name: l.Name, Class: string(l.Class)})
	}
	for _, ts := range md.Tablespaces() {
		locs := make(map[int]string, len(ts.locations))
		for n, p := range ts.locations {
			locs[n] = p
		}
		d.Tablespaces = append(d.Tablespaces, TablespaceDesc{ID: ts.ID, Name: ts.Name, Owner: ts.OwnerID, Locations: locs})
	}
	for _, db := range md.Databases() {
		d.Databases = append(d.Databases, db.Describe())
	}
	return d
}

// Describe snapshots db.
func (db *SysDatabase) Describe() DatabaseDesc {
	d := DatabaseDesc{ID: db.ID(), Name: db.name, Owner: db.ownerID, Nodes: db.NodeIDs()}
	for _, t := range db.Tables() {
		d.Tables = append(d.Tables, t.Describe())
	}
	for _, v := range db.Views() {
		d.Views = append(d.Views, ViewDesc{ID: v.ID, Name: v.Name, Text: v.Text, Tables: append([]int64(nil), v.TableIDs...)})
	}
	return d
}

// Describe snapshots t.
func (t *SysTable) Describe() TableDesc {
	d := TableDesc{
		ID:     t.id,
		Name:   t.Name(),
		Owner:  t.OwnerID(),
		Scheme: t.PartitionScheme().String(),
		Nodes:  t.Nodes(),
	}
	if p := t.Parent(); p != nil {
		d.Parent = p.Name()
	}
	d.PartColumn = t.PartitionColumn()
	for _, c := range t.Columns() {
		cd := ColumnDesc{
			ID:       c.ID,
			Name:     c.Name,
			Type:     c.TypeString(),
			Nullable: c.Nullable,
			Serial:   c.Serial,
			Default:  c.Default,
		}
		if it := c.IndexType(); it != IndexNone {
			cd.Index = it.String()
		}
		d.Columns = append(d.Columns, cd)
	}
	for _, idx := range t.Indexes() {
		d.Indexes = append(d.Indexes, IndexDesc{ID: idx.ID, Name: idx.Name, Type: idx.Type.String(), Columns: idx.ColumnNames()})
	}
	for _, c := range t.Constraints() {
		d.Constraints = append(d.Constraints, c.Description())
	}
	for _, p := range t.Permissions() {
		bits := make([]byte, PrivilegeCount)
		for i, b := range p.Bits() {
			switch b {
			case Granted:
				bits[i] = 'Y'
			case Denied:
				bits[i] = 'N'
			default:
				bits[i] = '-'
			}
		}
		d.Permissions = append(d.Permissions, PermissionDesc{UserID: p.UserID, Bits: string(bits)})
	}
	return d
}
