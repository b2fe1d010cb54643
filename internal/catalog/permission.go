package catalog

import (
	"database/sql"
	"fmt"
	"strings"
)

// Privilege is one of the table privileges.
type Privilege int

const (
	PrivSelect Privilege = iota
	PrivInsert
	PrivUpdate
	PrivDelete
	PrivReferences
	PrivIndex
	PrivAlter

	// PrivilegeCount is the number of table privileges.
	PrivilegeCount = 7
)

var privilegeNames = [PrivilegeCount]string{"select", "insert", "update", "delete", "references", "index", "alter"}

// PrivilegeColumns are the xsystabprivs columns in Privilege order.
var PrivilegeColumns = [PrivilegeCount]string{
	"selectpriv", "insertpriv", "updatepriv", "deletepriv", "referencespriv", "indexpriv", "alterpriv",
}

func (p Privilege) String() string {
	if p >= 0 && int(p) < PrivilegeCount {
		return privilegeNames[p]
	}
	return fmt.Sprintf("privilege(%d)", int(p))
}

// ParsePrivilege parses a privilege name as written in GRANT.
func ParsePrivilege(s string) (Privilege, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "reference" {
		name = "references"
	}
	for i, n := range privilegeNames {
		if n == name {
			return Privilege(i), nil
		}
	}
	return 0, fmt.Errorf("unknown privilege: %q", s)
}

// Tri is a tri-state grant bit.
type Tri int8

const (
	// Inherit defers to the parent permission.
	Inherit Tri = iota
	Granted
	Denied
)

func (t Tri) String() string {
	switch t {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "inherited"
	}
}

// Column returns the persisted form: 'Y', 'N' or NULL.
func (t Tri) Column() interface{} {
	switch t {
	case Granted:
		return "Y"
	case Denied:
		return "N"
	default:
		return nil
	}
}

func triFromColumn(s sql.NullString) Tri {
	if !s.Valid {
		return Inherit
	}
	switch strings.ToUpper(s.String) {
	case "Y":
		return Granted
	case "N":
		return Denied
	default:
		return Inherit
	}
}

// SysPermission holds the grant bits of one grantee on one table. A zero
// UserID is the public grant.
type SysPermission struct {
	table *SysTable

	ID     int64
	UserID int64
	bits   [PrivilegeCount]Tri
}

// Table returns the table the permission applies to.
func (p *SysPermission) Table() *SysTable {
	return p.table
}

// IsPublic reports whether the permission is the public grant.
func (p *SysPermission) IsPublic() bool {
	return p.UserID == 0
}

// Get returns the bit for priv as stored, without inheritance.
func (p *SysPermission) Get(priv Privilege) Tri {
	return p.bits[priv]
}

// Bits returns all bits.
func (p *SysPermission) Bits() [PrivilegeCount]Tri {
	return p.bits
}

// Resolve walks the grant chain of user on t: the user's own grant, then the
// public grant, then the same pair on each ancestor table. The first bit
// that is not inherited decides; a bit inherited past the root is denied.
func Resolve(t *SysTable, userID int64, priv Privilege) bool {
	for depth := 0; t != nil && depth < maxInheritanceDepth; depth++ {
		if userID != 0 {
			if p := t.permission(userID); p != nil {
				switch p.bits[priv] {
				case Granted:
					return true
				case Denied:
					return false
				}
			}
		}
		if p := t.permission(0); p != nil {
			switch p.bits[priv] {
			case Granted:
				return true
			case Denied:
				return false
			}
		}
		t = t.Parent()
	}
	return false
}
