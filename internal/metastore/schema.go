// Package metastore provides the persistent metadata store and its
// single-writer transaction gate.
package metastore

// The metadata store is a SQLite database holding one row per catalog
// object. Column names and surrogate keys are a stable format shared with
// existing deployments; changes must bump SchemaVersion and add a migration.

// SchemaVersion is the version written to xsysversion by a fresh store.
const SchemaVersion = 1

// CreateVersionTableSQL tracks which schema version the file was written with.
const CreateVersionTableSQL = `
CREATE TABLE IF NOT EXISTS xsysversion (
    version INTEGER PRIMARY KEY,
    appliedat INTEGER NOT NULL
)`

// CreateUsersTableSQL holds cluster-global logins.
const CreateUsersTableSQL = `
CREATE TABLE IF NOT EXISTS xsysusers (
    userid INTEGER PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    userpwd TEXT NOT NULL,
    usertype TEXT NOT NULL
)`

// CreateDatabasesTableSQL holds one row per database.
const CreateDatabasesTableSQL = `
CREATE TABLE IF NOT EXISTS xsysdatabases (
    dbid INTEGER PRIMARY KEY,
    dbname TEXT NOT NULL UNIQUE,
    owner INTEGER NOT NULL,
    FOREIGN KEY (owner) REFERENCES xsysusers(userid)
)`

// CreateDBNodesTableSQL pairs databases with the nodes holding them.
const CreateDBNodesTableSQL = `
CREATE TABLE IF NOT EXISTS xsysdbnodes (
    dbnodeid INTEGER PRIMARY KEY,
    dbid INTEGER NOT NULL,
    nodeid INTEGER NOT NULL,
    UNIQUE (dbid, nodeid),
    FOREIGN KEY (dbid) REFERENCES xsysdatabases(dbid)
)`

// CreateTablespacesTableSQL holds tablespaces.
const CreateTablespacesTableSQL = `
CREATE TABLE IF NOT EXISTS xsystablespaces (
    tablespaceid INTEGER PRIMARY KEY,
    tablespacename TEXT NOT NULL UNIQUE,
    ownerid INTEGER NOT NULL
)`

// CreateTablespaceLocsTableSQL holds the per-node path of a tablespace.
const CreateTablespaceLocsTableSQL = `
CREATE TABLE IF NOT EXISTS xsystablespacelocs (
    tablespacelocid INTEGER PRIMARY KEY,
    tablespaceid INTEGER NOT NULL,
    filepath TEXT NOT NULL,
    nodeid INTEGER NOT NULL,
    FOREIGN KEY (tablespaceid) REFERENCES xsystablespaces(tablespaceid)
)`

// CreateTablesTableSQL holds tables. partscheme: 0 inherit, 1 one node,
// 2 replicated, 3 hash, 4 range, 5 round robin.
const CreateTablesTableSQL = `
CREATE TABLE IF NOT EXISTS xsystables (
    tableid INTEGER PRIMARY KEY,
    dbid INTEGER NOT NULL,
    tablename TEXT NOT NULL,
    numrows INTEGER NOT NULL DEFAULT 0,
    partscheme INTEGER NOT NULL,
    partcol TEXT,
    parthash INTEGER,
    owner INTEGER,
    parentid INTEGER,
    tablespaceid INTEGER,
    clusteridx TEXT,
    UNIQUE (dbid, tablename),
    FOREIGN KEY (dbid) REFERENCES xsysdatabases(dbid)
)`

// CreateColumnsTableSQL holds columns, ordered by colseq within a table.
const CreateColumnsTableSQL = `
CREATE TABLE IF NOT EXISTS xsyscolumns (
    colid INTEGER PRIMARY KEY,
    tableid INTEGER NOT NULL,
    colseq INTEGER NOT NULL,
    colname TEXT NOT NULL,
    coltype INTEGER NOT NULL,
    collength INTEGER NOT NULL DEFAULT 0,
    colscale INTEGER NOT NULL DEFAULT 0,
    colprecision INTEGER NOT NULL DEFAULT 0,
    isnullable INTEGER NOT NULL DEFAULT 1,
    isserial INTEGER NOT NULL DEFAULT 0,
    defaultexpr TEXT,
    selectivity REAL NOT NULL DEFAULT 0,
    nativecoldef TEXT,
    UNIQUE (tableid, colname),
    FOREIGN KEY (tableid) REFERENCES xsystables(tableid)
)`

// CreateIndexesTableSQL holds indexes.
const CreateIndexesTableSQL = `
CREATE TABLE IF NOT EXISTS xsysindexes (
    idxid INTEGER PRIMARY KEY,
    idxname TEXT NOT NULL,
    tableid INTEGER NOT NULL,
    keycnt INTEGER NOT NULL,
    idxtype TEXT,
    tablespaceid INTEGER,
    usingtype TEXT,
    wherepred TEXT,
    issyscreated INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (tableid) REFERENCES xsystables(tableid)
)`

// CreateIndexKeysTableSQL holds the ordered keys of an index.
const CreateIndexKeysTableSQL = `
CREATE TABLE IF NOT EXISTS xsysindexkeys (
    idxkeyid INTEGER PRIMARY KEY,
    idxid INTEGER NOT NULL,
    idxkeyseq INTEGER NOT NULL,
    idxascdesc INTEGER NOT NULL DEFAULT 0,
    colid INTEGER NOT NULL,
    coloperator TEXT,
    FOREIGN KEY (idxid) REFERENCES xsysindexes(idxid),
    FOREIGN KEY (colid) REFERENCES xsyscolumns(colid)
)`

// CreateConstraintsTableSQL holds constraints. constype is P, U, R or C;
// issoft marks constraints checked by the coordinator instead of the nodes.
const CreateConstraintsTableSQL = `
CREATE TABLE IF NOT EXISTS xsysconstraints (
    constid INTEGER PRIMARY KEY,
    tableid INTEGER NOT NULL,
    consname TEXT,
    constype TEXT NOT NULL,
    idxid INTEGER,
    issoft INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (tableid) REFERENCES xsystables(tableid)
)`

// CreateReferencesTableSQL binds a reference constraint to its target.
const CreateReferencesTableSQL = `
CREATE TABLE IF NOT EXISTS xsysreferences (
    refid INTEGER PRIMARY KEY,
    constid INTEGER NOT NULL,
    reftableid INTEGER NOT NULL,
    refidxid INTEGER NOT NULL,
    FOREIGN KEY (constid) REFERENCES xsysconstraints(constid)
)`

// CreateForeignKeysTableSQL holds the ordered column pairs of a reference.
const CreateForeignKeysTableSQL = `
CREATE TABLE IF NOT EXISTS xsysforeignkeys (
    fkeyid INTEGER PRIMARY KEY,
    refid INTEGER NOT NULL,
    fkeyseq INTEGER NOT NULL,
    colid INTEGER NOT NULL,
    refcolid INTEGER NOT NULL,
    FOREIGN KEY (refid) REFERENCES xsysreferences(refid)
)`

// CreateChecksTableSQL holds check constraint expressions.
const CreateChecksTableSQL = `
CREATE TABLE IF NOT EXISTS xsyschecks (
    checkid INTEGER PRIMARY KEY,
    constid INTEGER NOT NULL,
    seqno INTEGER NOT NULL,
    checkstmt TEXT NOT NULL,
    FOREIGN KEY (constid) REFERENCES xsysconstraints(constid)
)`

// CreateTabPartsTableSQL holds partition map entries. For hash tables
// bucket is set; for range tables rangehigh is the exclusive upper bound
// (NULL for the last, unbounded, partition).
const CreateTabPartsTableSQL = `
CREATE TABLE IF NOT EXISTS xsystabparts (
    partid INTEGER PRIMARY KEY,
    tableid INTEGER NOT NULL,
    dbid INTEGER NOT NULL,
    nodeid INTEGER NOT NULL,
    bucket INTEGER,
    rangehigh TEXT,
    FOREIGN KEY (tableid) REFERENCES xsystables(tableid)
)`

// CreateViewsTableSQL holds views.
const CreateViewsTableSQL = `
CREATE TABLE IF NOT EXISTS xsysviews (
    viewid INTEGER PRIMARY KEY,
    dbid INTEGER NOT NULL,
    viewname TEXT NOT NULL,
    viewtext TEXT NOT NULL,
    ownerid INTEGER,
    UNIQUE (dbid, viewname)
)`

// CreateViewColumnsTableSQL holds the output columns of a view.
const CreateViewColumnsTableSQL = `
CREATE TABLE IF NOT EXISTS xsysviewscolumns (
    viewcolid INTEGER PRIMARY KEY,
    viewid INTEGER NOT NULL,
    viewcolseqno INTEGER NOT NULL,
    viewcolumn TEXT NOT NULL,
    coltype INTEGER NOT NULL,
    collength INTEGER NOT NULL DEFAULT 0,
    colscale INTEGER NOT NULL DEFAULT 0,
    colprecision INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (viewid) REFERENCES xsysviews(viewid)
)`

// CreateViewDepsTableSQL records which table columns a view reads.
const CreateViewDepsTableSQL = `
CREATE TABLE IF NOT EXISTS xsysviewdeps (
    viewid INTEGER NOT NULL,
    columnid INTEGER,
    tableid INTEGER NOT NULL,
    FOREIGN KEY (viewid) REFERENCES xsysviews(viewid)
)`

// CreateTabPrivsTableSQL holds table privileges. userid NULL is the public
// grant. Each privilege column is 'Y' granted, 'N' denied or NULL inherited.
const CreateTabPrivsTableSQL = `
CREATE TABLE IF NOT EXISTS xsystabprivs (
    privid INTEGER PRIMARY KEY,
    tableid INTEGER NOT NULL,
    userid INTEGER,
    selectpriv TEXT,
    insertpriv TEXT,
    updatepriv TEXT,
    deletepriv TEXT,
    referencespriv TEXT,
    indexpriv TEXT,
    alterpriv TEXT,
    FOREIGN KEY (tableid) REFERENCES xsystables(tableid)
)`

// CreateIndexesSQL creates lookup indexes used by the bulk loader.
var CreateIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_xsystables_db ON xsystables(dbid)`,
	`CREATE INDEX IF NOT EXISTS idx_xsyscolumns_table ON xsyscolumns(tableid, colseq)`,
	`CREATE INDEX IF NOT EXISTS idx_xsysindexes_table ON xsysindexes(tableid)`,
	`CREATE INDEX IF NOT EXISTS idx_xsysindexkeys_idx ON xsysindexkeys(idxid, idxkeyseq)`,
	`CREATE INDEX IF NOT EXISTS idx_xsysconstraints_table ON xsysconstraints(tableid)`,
	`CREATE INDEX IF NOT EXISTS idx_xsysreferences_const ON xsysreferences(constid)`,
	`CREATE INDEX IF NOT EXISTS idx_xsysreferences_target ON xsysreferences(reftableid)`,
	`CREATE INDEX IF NOT EXISTS idx_xsysforeignkeys_ref ON xsysforeignkeys(refid, fkeyseq)`,
	`CREATE INDEX IF NOT EXISTS idx_xsystabparts_table ON xsystabparts(tableid)`,
	`CREATE INDEX IF NOT EXISTS idx_xsystabprivs_table ON xsystabprivs(tableid)`,
}

// AllSchemaSQL returns all SQL statements needed to initialize the store.
func AllSchemaSQL() []string {
	statements := []string{
		CreateVersionTableSQL,
		CreateUsersTableSQL,
		CreateDatabasesTableSQL,
		CreateDBNodesTableSQL,
		CreateTablespacesTableSQL,
		CreateTablespaceLocsTableSQL,
		CreateTablesTableSQL,
		CreateColumnsTableSQL,
		CreateIndexesTableSQL,
		CreateIndexKeysTableSQL,
		CreateConstraintsTableSQL,
		CreateReferencesTableSQL,
		CreateForeignKeysTableSQL,
		CreateChecksTableSQL,
		CreateTabPartsTableSQL,
		CreateViewsTableSQL,
		CreateViewColumnsTableSQL,
		CreateViewDepsTableSQL,
		CreateTabPrivsTableSQL,
	}
	return append(statements, CreateIndexesSQL...)
}
