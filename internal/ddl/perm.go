package ddl

import (
	"fmt"

	"github.com/xdbcore/xdb/internal/catalog"
	xerrors "github.com/xdbcore/xdb/internal/errors"
)

func denied(format string, args ...interface{}) error {
	return xerrors.NewIntegrityError(xerrors.CodePermissionDenied, fmt.Sprintf(format, args...))
}

func requireDBA(sess *catalog.Session, what string) error {
	if !sess.Login().IsDBA() {
		return denied("%s requires DBA privileges", what)
	}
	return nil
}

func requireCreate(sess *catalog.Session, what string) error {
	if !sess.Login().CanCreate() {
		return denied("user %s may not %s", sess.Login().Name, what)
	}
	return nil
}

// requireOwner admits the owner of t and DBAs.
func requireOwner(sess *catalog.Session, t *catalog.SysTable, what string) error {
	l := sess.Login()
	if l.IsDBA() || t.OwnerID() == l.ID {
		return nil
	}
	return denied("user %s may not %s table %s", l.Name, what, t.Name())
}

// requirePrivilege admits the owner, DBAs and users holding priv on t.
func requirePrivilege(sess *catalog.Session, t *catalog.SysTable, priv catalog.Privilege) error {
	if t.Allows(sess.Login(), priv) {
		return nil
	}
	return denied("user %s lacks %s privilege on table %s", sess.Login().Name, priv, t.Name())
}
