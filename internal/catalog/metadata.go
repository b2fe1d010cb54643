// Package catalog is the in-memory system catalog of the coordinator:
// logins, databases, tables and everything hanging off them. It is loaded
// in bulk from the metadata store at startup and afterwards changed only by
// DDL refreshers, which run after their store transaction has committed.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xdbcore/xdb/internal/config"
	"github.com/xdbcore/xdb/internal/engine"
	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/internal/lock"
	"github.com/xdbcore/xdb/internal/logutil"
	"github.com/xdbcore/xdb/internal/metastore"
)

// AdminLoginName is the login created when the store holds no logins.
const AdminLoginName = "admin"

// Options configure a MetaData.
type Options struct {
	// Scheduler is handed to every database's lock scheduler.
	Scheduler lock.SchedulerConfig

	// Engine runs resync and verification queries. It may be set later.
	Engine engine.Engine

	// Nodes are registered with the startup lock before loading.
	Nodes []int
}

// MetaData is the root of the catalog.
type MetaData struct {
	store           *metastore.Store
	ownsStore       bool
	schedulerConfig lock.SchedulerConfig
	startup         *StartupLock
	tempIDs         *tempIDPool
	ready           atomic.Bool

	mu              sync.RWMutex
	engine          engine.Engine
	resolver        EngineResolver
	sink            ChangeSink
	logins          map[string]*SysLogin
	loginsByID      map[int64]*SysLogin
	databases       map[string]*SysDatabase
	databasesByID   map[int64]*SysDatabase
	tablespaces     map[string]*SysTablespace
	tablespacesByID map[int64]*SysTablespace
	admin           *SysDatabase
}

// New creates an empty catalog over store. Call Load to fill it.
func New(store *metastore.Store, opts Options) *MetaData {
	md := &MetaData{
		store:           store,
		schedulerConfig: opts.Scheduler,
		startup:         NewStartupLock(),
		tempIDs:         newTempIDPool(),
		engine:          opts.Engine,
		logins:          make(map[string]*SysLogin),
		loginsByID:      make(map[int64]*SysLogin),
		databases:       make(map[string]*SysDatabase),
		databasesByID:   make(map[int64]*SysDatabase),
		tablespaces:     make(map[string]*SysTablespace),
		tablespacesByID: make(map[int64]*SysTablespace),
	}
	for _, id := range opts.Nodes {
		md.startup.Register(id)
	}
	md.admin = newDatabase(md, AdminDatabaseName, 0)
	md.admin.pseudo = true
	return md
}

// Open opens the metadata store named by cfg and loads the catalog from it.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*MetaData, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Scheduler.LockWaitTimeout == 0 {
		opts.Scheduler.LockWaitTimeout = cfg.Scheduler.LockWaitTimeout
	}
	if len(opts.Nodes) == 0 {
		opts.Nodes = cfg.NodeIDs()
	}

	store, err := metastore.Open(cfg.MetaData.Path, metastore.Options{TxnWaitTimeout: cfg.MetaData.TxnWaitTimeout})
	if err != nil {
		return nil, err
	}

	md := New(store, opts)
	md.ownsStore = true
	if err := md.Bootstrap(ctx, cfg.MetaData.AdminPassword); err != nil {
		md.Close()
		return nil, err
	}
	if err := md.Load(ctx); err != nil {
		md.Close()
		return nil, err
	}
	return md, nil
}

// Bootstrap creates the admin login when the store has no logins yet. An
// empty password leaves the store untouched.
func (md *MetaData) Bootstrap(ctx context.Context, password string) error {
	if password == "" {
		return nil
	}
	tx, err := md.store.BeginTransaction(ctx, metastore.SystemOwner)
	if err != nil {
		return err
	}
	var n int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM xsysusers`, nil, &n); err != nil {
		md.store.RollbackTransaction(metastore.SystemOwner)
		return err
	}
	if n > 0 {
		return md.store.RollbackTransaction(metastore.SystemOwner)
	}
	hash, err := HashPassword(password)
	if err != nil {
		md.store.RollbackTransaction(metastore.SystemOwner)
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO xsysusers (userid, username, userpwd, usertype) VALUES (1, ?, ?, ?)`,
		AdminLoginName, hash, string(ClassDBA)); err != nil {
		md.store.RollbackTransaction(metastore.SystemOwner)
		return err
	}
	logutil.Logger(ctx).Info("created bootstrap admin login", zap.String("login", AdminLoginName))
	return md.store.CommitTransaction(ctx, metastore.SystemOwner, nil)
}

// Load reads the whole catalog in one store transaction.
func (md *MetaData) Load(ctx context.Context) error {
	if md.ready.Load() {
		return xerrors.NewInternalError("catalog already loaded", nil)
	}

	tx, err := md.store.BeginTransaction(ctx, metastore.SystemOwner)
	if err != nil {
		return err
	}
	defer md.store.RollbackTransaction(metastore.SystemOwner)

	logins, err := ReadLogins(ctx, tx)
	if err != nil {
		return err
	}
	for _, r := range logins {
		md.PutLogin(r)
	}

	defs, err := ReadDatabases(ctx, tx)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if _, err := md.AddDatabase(def); err != nil {
			return err
		}
	}

	spaces, err := ReadTablespaces(ctx, tx)
	if err != nil {
		return err
	}
	for _, r := range spaces {
		md.PutTablespace(r)
	}

	md.ready.Store(true)
	logutil.Logger(ctx).Info("catalog loaded",
		zap.Int("logins", len(logins)),
		zap.Int("databases", len(defs)),
		zap.Int("tablespaces", len(spaces)))
	return nil
}

// Ready reports whether Load has completed.
func (md *MetaData) Ready() bool {
	return md.ready.Load()
}

// Store returns the metadata store.
func (md *MetaData) Store() *metastore.Store {
	return md.store
}

// StartupLock returns the node availability tracker.
func (md *MetaData) StartupLock() *StartupLock {
	return md.startup
}

// Engine returns the execution engine, or nil if none is set.
func (md *MetaData) Engine() engine.Engine {
	md.mu.RLock()
	defer md.mu.RUnlock()
	return md.engine
}

// SetEngine sets the execution engine.
func (md *MetaData) SetEngine(eng engine.Engine) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.engine = eng
}

// EngineResolver returns the engine running statements for db.
type EngineResolver func(ctx context.Context, db *SysDatabase) (engine.Engine, error)

// SetEngineResolver installs a per-database engine lookup. It takes
// precedence over the shared engine.
func (md *MetaData) SetEngineResolver(r EngineResolver) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.resolver = r
}

// EngineFor returns the engine for db, or nil if none is configured.
func (md *MetaData) EngineFor(ctx context.Context, db *SysDatabase) (engine.Engine, error) {
	md.mu.RLock()
	r, eng := md.resolver, md.engine
	md.mu.RUnlock()
	if r != nil {
		return r(ctx, db)
	}
	return eng, nil
}

// Login returns the login called name.
func (md *MetaData) Login(name string) (*SysLogin, error) {
	md.mu.RLock()
	l, ok := md.logins[key(name)]
	md.mu.RUnlock()
	if !ok {
		return nil, xerrors.NewLookupError(xerrors.CodeUserNotFound, "user %s not found", name)
	}
	return l, nil
}

// LoginByID returns login id.
func (md *MetaData) LoginByID(id int64) (*SysLogin, error) {
	md.mu.RLock()
	l, ok := md.loginsByID[id]
	md.mu.RUnlock()
	if !ok {
		return nil, xerrors.NewLookupError(xerrors.CodeUserNotFound, "user %d not found", id)
	}
	return l, nil
}

// Logins returns every login sorted by name.
func (md *MetaData) Logins() []*SysLogin {
	md.mu.RLock()
	out := make([]*SysLogin, 0, len(md.logins))
	for _, l := range md.logins {
		out = append(out, l)
	}
	md.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Authenticate returns the login called name if password matches.
func (md *MetaData) Authenticate(name, password string) (*SysLogin, error) {
	l, err := md.Login(name)
	if err != nil {
		return nil, err
	}
	if !l.CheckPassword(password) {
		return nil, xerrors.NewLookupError(xerrors.CodeUserNotFound, "user %s not found or wrong password", name)
	}
	return l, nil
}

// PutLogin adds or replaces a login.
func (md *MetaData) PutLogin(r LoginRecord) *SysLogin {
	l := newLogin(r)
	md.mu.Lock()
	defer md.mu.Unlock()
	if old, ok := md.loginsByID[l.ID]; ok {
		delete(md.logins, key(old.Name))
	}
	md.logins[key(l.Name)] = l
	md.loginsByID[l.ID] = l
	return l
}

// RemoveLogin drops login id.
func (md *MetaData) RemoveLogin(id int64) {
	md.mu.Lock()
	defer md.mu.Unlock()
	if l, ok := md.loginsByID[id]; ok {
		delete(md.logins, key(l.Name))
		delete(md.loginsByID, id)
	}
}

// Database returns the database called name. The admin pseudo-database
// is found by its name as well.
func (md *MetaData) Database(name string) (*SysDatabase, error) {
	if key(name) == AdminDatabaseName {
		return md.admin, nil
	}
	md.mu.RLock()
	db, ok := md.databases[key(name)]
	md.mu.RUnlock()
	if !ok {
		return nil, xerrors.NewLookupError(xerrors.CodeDatabaseNotFound, "database %s not found", name)
	}
	return db, nil
}

// DatabaseByID returns database id.
func (md *MetaData) DatabaseByID(id int64) (*SysDatabase, error) {
	md.mu.RLock()
	db, ok := md.databasesByID[id]
	md.mu.RUnlock()
	if !ok {
		return nil, xerrors.NewLookupError(xerrors.CodeDatabaseNotFound, "database %d not found", id)
	}
	return db, nil
}

// HasDatabase reports whether name is taken, the admin name included.
func (md *MetaData) HasDatabase(name string) bool {
	_, err := md.Database(name)
	return err == nil
}

// AdminDatabase returns the admin pseudo-database.
func (md *MetaData) AdminDatabase() *SysDatabase {
	return md.admin
}

// Databases returns every persisted database sorted by name.
func (md *MetaData) Databases() []*SysDatabase {
	md.mu.RLock()
	out := make([]*SysDatabase, 0, len(md.databases))
	for _, db := range md.databases {
		out = append(out, db)
	}
	md.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// AddDatabase builds a database with its nodes, tables and views and
// registers it.
func (md *MetaData) AddDatabase(def *DatabaseDef) (*SysDatabase, error) {
	r := def.Database
	if md.HasDatabase(r.Name) {
		return nil, xerrors.NewIntegrityError(xerrors.CodeDuplicateObject,
			fmt.Sprintf("database %s already exists", r.Name))
	}

	db := newDatabase(md, r.Name, r.Owner)
	if err := db.assignID(r.ID); err != nil {
		db.close()
		return nil, err
	}
	for _, n := range def.Nodes {
		db.addDBNode(n)
	}
	for _, t := range orderByParent(def.Tables) {
		if _, err := db.PutTable(t); err != nil {
			db.close()
			return nil, err
		}
	}
	for _, v := range def.Views {
		db.PutView(v)
	}

	md.mu.Lock()
	md.databases[key(r.Name)] = db
	md.databasesByID[r.ID] = db
	md.mu.Unlock()
	return db, nil
}

// orderByParent sorts table definitions so every parent precedes its
// children; inherited columns resolve through the parent.
func orderByParent(defs []*TableDef) []*TableDef {
	byID := make(map[int64]*TableDef, len(defs))
	for _, d := range defs {
		byID[d.Table.ID] = d
	}
	out := make([]*TableDef, 0, len(defs))
	done := make(map[int64]bool, len(defs))
	var visit func(d *TableDef, depth int)
	visit = func(d *TableDef, depth int) {
		if done[d.Table.ID] || depth > maxInheritanceDepth {
			return
		}
		if d.Table.ParentID != nil {
			if p, ok := byID[*d.Table.ParentID]; ok {
				visit(p, depth+1)
			}
		}
		if !done[d.Table.ID] {
			done[d.Table.ID] = true
			out = append(out, d)
		}
	}
	for _, d := range defs {
		visit(d, 0)
	}
	return out
}

// RemoveDatabase drops db and stops its scheduler.
func (md *MetaData) RemoveDatabase(db *SysDatabase) {
	md.mu.Lock()
	delete(md.databases, key(db.name))
	delete(md.databasesByID, db.ID())
	md.mu.Unlock()
	db.close()
}

// Tablespace returns the tablespace called name.
func (md *MetaData) Tablespace(name string) (*SysTablespace, error) {
	md.mu.RLock()
	ts, ok := md.tablespaces[key(name)]
	md.mu.RUnlock()
	if !ok {
		return nil, xerrors.NewLookupError(xerrors.CodeTablespaceNotFound, "tablespace %s not found", name)
	}
	return ts, nil
}

// TablespaceByID returns tablespace id.
func (md *MetaData) TablespaceByID(id int64) (*SysTablespace, error) {
	md.mu.RLock()
	ts, ok := md.tablespacesByID[id]
	md.mu.RUnlock()
	if !ok {
		return nil, xerrors.NewLookupError(xerrors.CodeTablespaceNotFound, "tablespace %d not found", id)
	}
	return ts, nil
}

// Tablespaces returns every tablespace sorted by name.
func (md *MetaData) Tablespaces() []*SysTablespace {
	md.mu.RLock()
	out := make([]*SysTablespace, 0, len(md.tablespaces))
	for _, ts := range md.tablespaces {
		out = append(out, ts)
	}
	md.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PutTablespace adds or replaces a tablespace.
func (md *MetaData) PutTablespace(r TablespaceRecord) *SysTablespace {
	ts := newTablespace(r)
	md.mu.Lock()
	defer md.mu.Unlock()
	if old, ok := md.tablespacesByID[ts.ID]; ok {
		delete(md.tablespaces, key(old.Name))
	}
	md.tablespaces[key(ts.Name)] = ts
	md.tablespacesByID[ts.ID] = ts
	return ts
}

// RemoveTablespace drops tablespace id.
func (md *MetaData) RemoveTablespace(id int64) {
	md.mu.Lock()
	defer md.mu.Unlock()
	if ts, ok := md.tablespacesByID[id]; ok {
		delete(md.tablespaces, key(ts.Name))
		delete(md.tablespacesByID, id)
	}
}

// AcquireTempTableID reserves an id for a temporary table.
func (md *MetaData) AcquireTempTableID(ctx context.Context) (int64, error) {
	return md.tempIDs.acquire(ctx)
}

// ReleaseTempTableID returns an id that was never handed to a table.
func (md *MetaData) ReleaseTempTableID(id int64) {
	md.tempIDs.release(id)
}

// TempTableIDsInUse returns how many temporary table ids are handed out.
func (md *MetaData) TempTableIDsInUse() int {
	return md.tempIDs.inUse()
}

// Close stops every database's scheduler and, if Open created it, closes
// the metadata store.
func (md *MetaData) Close() error {
	for _, db := range md.Databases() {
		db.close()
	}
	md.admin.close()
	if md.ownsStore {
		return md.store.Close()
	}
	return nil
}
