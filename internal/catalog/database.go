package catalog

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/internal/lock"
	"github.com/xdbcore/xdb/internal/logutil"
)

// AdminDatabaseName is the pseudo-database every login can connect to
// before any real database exists. It is never persisted.
const AdminDatabaseName = "admin"

// LockSpec is a lock specification over tables.
type LockSpec = lock.Specification[*SysTable]

// NewLockSpec returns an empty table lock specification.
func NewLockSpec() *LockSpec {
	return lock.NewSpecification[*SysTable]()
}

// SysDatabase is a database and everything in it. Name and id maps are
// changed together under mu.
type SysDatabase struct {
	md      *MetaData
	id      atomic.Int64
	name    string
	ownerID int64
	pseudo  bool

	mu         sync.RWMutex
	tables     map[string]*SysTable
	tablesByID map[int64]*SysTable
	views      map[string]*SysView
	viewsByID  map[int64]*SysView
	dbNodes    map[int]*DBNode

	locks     *lock.Manager[*SysTable]
	scheduler *lock.Scheduler[*SysTable]
	balancer  *Balancer
}

// newDatabase creates a database with id -1 and starts its scheduler.
func newDatabase(md *MetaData, name string, owner int64) *SysDatabase {
	db := &SysDatabase{
		md:         md,
		name:       name,
		ownerID:    owner,
		tables:     make(map[string]*SysTable),
		tablesByID: make(map[int64]*SysTable),
		views:      make(map[string]*SysView),
		viewsByID:  make(map[int64]*SysView),
		dbNodes:    make(map[int]*DBNode),
		locks:      lock.NewManager[*SysTable](),
	}
	db.id.Store(-1)
	db.balancer = &Balancer{db: db}
	db.scheduler = lock.NewScheduler[*SysTable](name, db.locks, md.schedulerConfig)
	return db
}

// assignID sets the persisted id. It fails once an id is set.
func (db *SysDatabase) assignID(id int64) error {
	if !db.id.CompareAndSwap(-1, id) {
		return xerrors.NewInternalError(fmt.Sprintf("database %s already has id %d", db.name, db.id.Load()), nil)
	}
	return nil
}

// ID returns the database id, -1 until persisted.
func (db *SysDatabase) ID() int64 {
	return db.id.Load()
}

// Name returns the database name.
func (db *SysDatabase) Name() string {
	return db.name
}

// OwnerID returns the owning login id.
func (db *SysDatabase) OwnerID() int64 {
	return db.ownerID
}

// IsAdmin reports whether db is the admin pseudo-database.
func (db *SysDatabase) IsAdmin() bool {
	return db.pseudo
}

// Metadata returns the catalog the database belongs to.
func (db *SysDatabase) Metadata() *MetaData {
	return db.md
}

// Scheduler returns the database's lock scheduler.
func (db *SysDatabase) Scheduler() *lock.Scheduler[*SysTable] {
	return db.scheduler
}

// LockManager returns the database's table locks.
func (db *SysDatabase) LockManager() *lock.Manager[*SysTable] {
	return db.locks
}

// Balancer returns the read balancer.
func (db *SysDatabase) Balancer() *Balancer {
	return db.balancer
}

// Table returns the table called name.
func (db *SysDatabase) Table(name string) (*SysTable, error) {
	db.mu.RLock()
	t, ok := db.tables[key(name)]
	db.mu.RUnlock()
	if !ok {
		return nil, xerrors.NewLookupError(xerrors.CodeTableNotFound, "table %s not found in database %s", name, db.name)
	}
	return t, nil
}

// TableByID returns table id.
func (db *SysDatabase) TableByID(id int64) (*SysTable, error) {
	db.mu.RLock()
	t, ok := db.tablesByID[id]
	db.mu.RUnlock()
	if !ok {
		return nil, xerrors.NewLookupError(xerrors.CodeTableNotFound, "table %d not found in database %s", id, db.name)
	}
	return t, nil
}

// HasTable reports whether a table called name exists.
func (db *SysDatabase) HasTable(name string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.tables[key(name)]
	return ok
}

// Tables returns every table sorted by name.
func (db *SysDatabase) Tables() []*SysTable {
	db.mu.RLock()
	out := make([]*SysTable, 0, len(db.tables))
	for _, t := range db.tables {
		out = append(out, t)
	}
	db.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// View returns the view called name.
func (db *SysDatabase) View(name string) (*SysView, error) {
	db.mu.RLock()
	v, ok := db.views[key(name)]
	db.mu.RUnlock()
	if !ok {
		return nil, xerrors.NewLookupError(xerrors.CodeViewNotFound, "view %s not found in database %s", name, db.name)
	}
	return v, nil
}

// Views returns every view sorted by name.
func (db *SysDatabase) Views() []*SysView {
	db.mu.RLock()
	out := make([]*SysView, 0, len(db.views))
	for _, v := range db.views {
		out = append(out, v)
	}
	db.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ViewsOn returns the views reading table id.
func (db *SysDatabase) ViewsOn(tableID int64) []*SysView {
	var out []*SysView
	for _, v := range db.Views() {
		if v.DependsOn(tableID) {
			out = append(out, v)
		}
	}
	return out
}

// User returns login name seen from db.
func (db *SysDatabase) User(name string) (*SysUser, error) {
	l, err := db.md.Login(name)
	if err != nil {
		return nil, err
	}
	return &SysUser{db: db, login: l}, nil
}

// UserByID returns login id seen from db.
func (db *SysDatabase) UserByID(id int64) (*SysUser, error) {
	l, err := db.md.LoginByID(id)
	if err != nil {
		return nil, err
	}
	return &SysUser{db: db, login: l}, nil
}

// DBNode returns the part of db on node, or nil.
func (db *SysDatabase) DBNode(node int) *DBNode {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.dbNodes[node]
}

// DBNodes returns the database parts ordered by node id.
func (db *SysDatabase) DBNodes() []*DBNode {
	db.mu.RLock()
	out := make([]*DBNode, 0, len(db.dbNodes))
	for _, d := range db.dbNodes {
		out = append(out, d)
	}
	db.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Node.ID < out[j].Node.ID })
	return out
}

// NodeIDs returns the nodes holding db, sorted.
func (db *SysDatabase) NodeIDs() []int {
	parts := db.DBNodes()
	out := make([]int, len(parts))
	for i, d := range parts {
		out[i] = d.Node.ID
	}
	return out
}

// IsOnline reports whether every part of db is online.
func (db *SysDatabase) IsOnline() bool {
	parts := db.DBNodes()
	for _, d := range parts {
		if !d.IsOnline() {
			return false
		}
	}
	return len(parts) > 0
}

func (db *SysDatabase) addDBNode(r DBNodeRecord) *DBNode {
	n := db.md.startup.Register(r.NodeID)
	d := &DBNode{ID: r.ID, Node: n, Database: db}
	db.mu.Lock()
	db.dbNodes[r.NodeID] = d
	db.mu.Unlock()
	db.md.startup.attach(d)
	return d
}

// referencesTo returns every reference in db whose target is table id.
func (db *SysDatabase) referencesTo(id int64) []*SysReference {
	var out []*SysReference
	for _, t := range db.Tables() {
		for _, r := range t.state().references {
			if r.TargetTableID == id {
				out = append(out, r)
			}
		}
	}
	return out
}

// IsIndexReferenced reports whether a reference constraint uses idx as its
// target, in which case the index (and its table) cannot simply be dropped.
func (db *SysDatabase) IsIndexReferenced(idx *SysIndex) bool {
	for _, r := range db.referencesTo(idx.Table().ID()) {
		if r.TargetIndexID == idx.ID {
			return true
		}
	}
	return false
}

// PutTable creates table def.Table.ID or rebuilds it in place. Called by
// refreshers after the definition is committed.
func (db *SysDatabase) PutTable(def *TableDef) (*SysTable, error) {
	db.mu.RLock()
	existing := db.tablesByID[def.Table.ID]
	db.mu.RUnlock()

	if existing == nil {
		t, err := newTable(db, def)
		if err != nil {
			return nil, err
		}
		db.mu.Lock()
		defer db.mu.Unlock()
		if other, ok := db.tables[key(def.Table.Name)]; ok && other.id != def.Table.ID {
			return nil, xerrors.NewIntegrityError(xerrors.CodeDuplicateObject,
				fmt.Sprintf("table %s already exists in database %s", def.Table.Name, db.name))
		}
		db.tables[key(def.Table.Name)] = t
		db.tablesByID[t.id] = t
		return t, nil
	}

	oldName := existing.Name()
	st, err := existing.build(def)
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if key(oldName) != key(def.Table.Name) {
		if _, taken := db.tables[key(def.Table.Name)]; taken {
			return nil, xerrors.NewIntegrityError(xerrors.CodeDuplicateObject,
				fmt.Sprintf("table %s already exists in database %s", def.Table.Name, db.name))
		}
		delete(db.tables, key(oldName))
		db.tables[key(def.Table.Name)] = existing
	}
	existing.st.Store(st)
	existing.resetGenerators(st)
	return existing, nil
}

// RemoveTable drops t from the catalog: name and id maps, its lock entry,
// its contention stats and, for temporary tables, its id.
func (db *SysDatabase) RemoveTable(t *SysTable) {
	parent := t.Parent()

	db.mu.Lock()
	delete(db.tables, key(t.Name()))
	delete(db.tablesByID, t.id)
	db.mu.Unlock()

	if !db.locks.Forget(t) {
		logutil.BgLogger().Warn("dropped table still locked",
			zap.String("database", db.name), zap.String("table", t.Name()))
	}
	if stats := db.md.schedulerConfig.Stats; stats != nil {
		stats.Forget(t.Name())
	}
	if parent != nil {
		// the tree's row ids may have lost their maximum
		parent.RowIDGenerator().Invalidate()
	}
	if t.IsTemporary() {
		db.md.tempIDs.release(t.id)
	}
}

// PutView adds or replaces a view.
func (db *SysDatabase) PutView(r ViewRecord) *SysView {
	v := newView(r)
	db.mu.Lock()
	defer db.mu.Unlock()
	if old, ok := db.viewsByID[v.ID]; ok {
		delete(db.views, key(old.Name))
	}
	db.views[key(v.Name)] = v
	db.viewsByID[v.ID] = v
	return v
}

// RemoveView drops v from the catalog.
func (db *SysDatabase) RemoveView(v *SysView) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.views, key(v.Name))
	delete(db.viewsByID, v.ID)
}

func (db *SysDatabase) close() {
	db.scheduler.Stop()
	db.md.startup.detach(db)
}
