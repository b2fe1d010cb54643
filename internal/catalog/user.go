package catalog

import (
	"strings"

	"golang.org/x/crypto/bcrypt"

	xerrors "github.com/xdbcore/xdb/internal/errors"
)

// UserClass is the persisted xsysusers.usertype.
type UserClass string

const (
	ClassDBA      UserClass = "DBA"
	ClassResource UserClass = "RESOURCE"
	ClassStandard UserClass = "STANDARD"
)

// ParseUserClass parses a class name; empty means standard.
func ParseUserClass(s string) (UserClass, error) {
	switch c := UserClass(strings.ToUpper(strings.TrimSpace(s))); c {
	case "":
		return ClassStandard, nil
	case ClassDBA, ClassResource, ClassStandard:
		return c, nil
	default:
		return "", xerrors.NewIntegrityError(xerrors.CodeInvalidDefinition, "unknown user class "+s)
	}
}

// HashPassword returns the bcrypt hash stored for a login.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", xerrors.NewInternalError("failed to hash password", err)
	}
	return string(h), nil
}

// SysLogin is a cluster-wide identity. Logins are immutable; altering one
// replaces it.
type SysLogin struct {
	ID           int64
	Name         string
	Class        UserClass
	passwordHash string
}

func newLogin(r LoginRecord) *SysLogin {
	return &SysLogin{ID: r.ID, Name: r.Name, Class: r.Class, passwordHash: r.PasswordHash}
}

// CheckPassword reports whether password matches the stored hash.
func (l *SysLogin) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(l.passwordHash), []byte(password)) == nil
}

// IsDBA reports whether the login may administer every object.
func (l *SysLogin) IsDBA() bool {
	return l.Class == ClassDBA
}

// CanCreate reports whether the login may create tables.
func (l *SysLogin) CanCreate() bool {
	return l.Class == ClassDBA || l.Class == ClassResource
}

// Record returns the persisted form of the login.
func (l *SysLogin) Record() LoginRecord {
	return LoginRecord{ID: l.ID, Name: l.Name, Class: l.Class, PasswordHash: l.passwordHash}
}

// SysUser is a login seen from one database.
type SysUser struct {
	db    *SysDatabase
	login *SysLogin
}

// Login returns the underlying login.
func (u *SysUser) Login() *SysLogin {
	return u.login
}

// ID returns the login id.
func (u *SysUser) ID() int64 {
	return u.login.ID
}

// Name returns the login name.
func (u *SysUser) Name() string {
	return u.login.Name
}

// Database returns the database of the projection.
func (u *SysUser) Database() *SysDatabase {
	return u.db
}

// OwnedTables returns the tables the user owns, sorted by name.
func (u *SysUser) OwnedTables() []*SysTable {
	var out []*SysTable
	for _, t := range u.db.Tables() {
		if t.OwnerID() == u.login.ID {
			out = append(out, t)
		}
	}
	return out
}

// Grants returns the permissions granted to the user itself.
func (u *SysUser) Grants() []*SysPermission {
	var out []*SysPermission
	for _, t := range u.db.Tables() {
		if p := t.permission(u.login.ID); p != nil {
			out = append(out, p)
		}
	}
	return out
}
