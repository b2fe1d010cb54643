package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/xdbcore/xdb/internal/logutil"
)

// Session is a client connection to one database. Its id identifies it to
// the metadata transaction gate.
type Session struct {
	ID int64

	login *SysLogin
	db    *SysDatabase

	mu   sync.Mutex
	temp map[string]*SysTable
}

// NewSession creates a session of login on db.
func NewSession(id int64, login *SysLogin, db *SysDatabase) *Session {
	return &Session{ID: id, login: login, db: db, temp: make(map[string]*SysTable)}
}

// Login returns the session's login.
func (s *Session) Login() *SysLogin {
	return s.login
}

// Database returns the session's database.
func (s *Session) Database() *SysDatabase {
	return s.db
}

// User returns the login seen from the session's database.
func (s *Session) User() *SysUser {
	return &SysUser{db: s.db, login: s.login}
}

// Context returns ctx carrying the session id for logging.
func (s *Session) Context(ctx context.Context) context.Context {
	return logutil.WithSession(ctx, s.ID)
}

// AddTempTable records a temporary table created by the session, or
// re-keys it after a rename.
func (s *Session) AddTempTable(t *SysTable) {
	t.sessionID = s.ID
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, other := range s.temp {
		if other == t {
			delete(s.temp, k)
		}
	}
	s.temp[key(t.Name())] = t
}

// RemoveTempTable forgets a temporary table.
func (s *Session) RemoveTempTable(t *SysTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.temp, key(t.Name()))
}

// TempTables returns the session's temporary tables sorted by name.
func (s *Session) TempTables() []*SysTable {
	s.mu.Lock()
	out := make([]*SysTable, 0, len(s.temp))
	for _, t := range s.temp {
		out = append(out, t)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
