package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/internal/logutil"
	"github.com/xdbcore/xdb/internal/observability"
)

// NoOwner is the owner id of a free transaction token.
const NoOwner int64 = 0

// SystemOwner is the owner id used by the coordinator itself, e.g. during
// the bulk load and snapshot backups.
const SystemOwner int64 = -1

// Refresher runs after a successful commit while the token is still held.
type Refresher func() error

// Options configure a Store.
type Options struct {
	// TxnWaitTimeout bounds BeginTransaction when ctx has no deadline.
	// Zero waits until ctx is done.
	TxnWaitTimeout time.Duration
}

// Store is the metadata store. It owns one SQLite connection and the token
// that admits a single writer at a time. Every statement runs through the
// token holder's transaction; readers inside a transaction see its
// uncommitted writes through the same connection.
type Store struct {
	db     *sql.DB
	dbPath string
	opts   Options

	// token has capacity one; holding its slot is holding the transaction.
	token chan struct{}

	mu    sync.Mutex // guards owner and tx
	owner int64
	tx    *sql.Tx
}

// Open opens (creating if needed) the metadata store at dbPath.
func Open(dbPath string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, xerrors.NewPersistenceError(xerrors.CodeConnectionFailed, "metastore: failed to open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := NewStore(db, opts)
	s.dbPath = dbPath

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, xerrors.NewPersistenceError(xerrors.CodeConnectionFailed, "metastore: failed to initialize schema", err)
	}
	return s, nil
}

// NewStore wraps an already open database without touching its schema.
// The caller must limit db to a single connection.
func NewStore(db *sql.DB, opts Options) *Store {
	return &Store{
		db:    db,
		opts:  opts,
		token: make(chan struct{}, 1),
	}
}

func (s *Store) initSchema() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range AllSchemaSQL() {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	var version int
	err = tx.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM xsysversion`).Scan(&version)
	if err != nil {
		return err
	}
	switch {
	case version == 0:
		if _, err := tx.Exec(`INSERT INTO xsysversion (version, appliedat) VALUES (?, ?)`,
			SchemaVersion, time.Now().Unix()); err != nil {
			return err
		}
	case version > SchemaVersion:
		return fmt.Errorf("store schema version %d is newer than supported version %d", version, SchemaVersion)
	}

	return tx.Commit()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the store. A transaction still open is rolled back.
func (s *Store) Close() error {
	s.mu.Lock()
	tx := s.tx
	s.tx = nil
	s.owner = NoOwner
	s.mu.Unlock()
	if tx != nil {
		tx.Rollback()
	}
	return s.db.Close()
}

// Owner returns the current token holder, or NoOwner.
func (s *Store) Owner() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// Holds reports whether owner currently holds the token.
func (s *Store) Holds(owner int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil && s.owner == owner
}

// BeginTransaction blocks until the token is free, then claims it for owner.
// It is a no-op returning the open transaction when owner already holds it.
// The wait ends early with a retryable persistence fault when ctx is done
// or the configured wait timeout passes.
func (s *Store) BeginTransaction(ctx context.Context, owner int64) (*Tx, error) {
	if owner == NoOwner {
		return nil, xerrors.NewPersistenceError(xerrors.CodeTxnOwnership, "metastore: owner id 0 is reserved", nil)
	}
	if s.Holds(owner) {
		return &Tx{store: s, owner: owner}, nil
	}

	if s.opts.TxnWaitTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.TxnWaitTimeout)
			defer cancel()
		}
	}

	start := time.Now()
	select {
	case s.token <- struct{}{}:
	case <-ctx.Done():
		observability.TxnCounter.WithLabelValues("wait_timeout").Inc()
		return nil, xerrors.NewPersistenceError(xerrors.CodeTxnWaitTimeout,
			fmt.Sprintf("metastore: session %d gave up waiting for the transaction token after %s", owner, time.Since(start)), ctx.Err())
	}
	wait := time.Since(start)
	observability.TxnWaitHistogram.Observe(wait.Seconds())

	// The transaction must outlive the caller's ctx; database/sql would roll
	// it back on cancellation behind the gate's back.
	sqlTx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		<-s.token
		return nil, xerrors.NewPersistenceError(xerrors.CodeQueryFailed, "metastore: failed to begin transaction", err)
	}

	s.mu.Lock()
	s.owner = owner
	s.tx = sqlTx
	s.mu.Unlock()

	if wait > time.Second {
		logutil.Logger(ctx).Warn("slow metadata transaction token wait",
			zap.Int64("owner", owner), zap.Duration("wait", wait))
	}
	return &Tx{store: s, owner: owner}, nil
}

// release hands the token back. Callers must hold it.
func (s *Store) release() {
	s.mu.Lock()
	s.owner = NoOwner
	s.tx = nil
	s.mu.Unlock()
	<-s.token
}

func (s *Store) claim(owner int64) (*sql.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil || s.owner != owner {
		return nil, xerrors.NewPersistenceError(xerrors.CodeTxnOwnership,
			fmt.Sprintf("metastore: session %d does not own the transaction (owner %d)", owner, s.owner), nil)
	}
	return s.tx, nil
}

// CommitTransaction commits owner's transaction, runs refresher while still
// holding the token, then releases it. Only the holder may commit.
// If the commit fails the transaction is rolled back, the token released
// and refresher never runs.
func (s *Store) CommitTransaction(ctx context.Context, owner int64, refresher Refresher) error {
	tx, err := s.claim(owner)
	if err != nil {
		return err
	}
	defer s.release()

	if err := tx.Commit(); err != nil {
		tx.Rollback()
		observability.TxnCounter.WithLabelValues("commit_failed").Inc()
		return xerrors.NewPersistenceError(xerrors.CodeQueryFailed, "metastore: commit failed", err)
	}
	observability.TxnCounter.WithLabelValues("committed").Inc()

	if refresher != nil {
		if err := refresher(); err != nil {
			logutil.Logger(ctx).Error("catalog refresh failed after commit",
				zap.Int64("owner", owner), zap.Error(err))
			return xerrors.NewInternalError("metastore: refresh after commit failed", err)
		}
	}
	return nil
}

// RollbackTransaction rolls back owner's transaction. The token is released
// even when the rollback itself fails.
func (s *Store) RollbackTransaction(owner int64) error {
	tx, err := s.claim(owner)
	if err != nil {
		return err
	}
	defer s.release()

	observability.TxnCounter.WithLabelValues("rolled_back").Inc()
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return xerrors.NewPersistenceError(xerrors.CodeQueryFailed, "metastore: rollback failed", err)
	}
	return nil
}

// Tx returns the open transaction of owner.
func (s *Store) Tx(owner int64) (*Tx, error) {
	if _, err := s.claim(owner); err != nil {
		return nil, err
	}
	return &Tx{store: s, owner: owner}, nil
}

// withTx runs fn inside owner's transaction, opening and committing one
// around it when owner holds none.
func (s *Store) withTx(ctx context.Context, owner int64, fn func(*Tx) error) error {
	if s.Holds(owner) {
		return fn(&Tx{store: s, owner: owner})
	}

	tx, err := s.BeginTransaction(ctx, owner)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := s.RollbackTransaction(owner); rbErr != nil {
			logutil.Logger(ctx).Warn("rollback failed", zap.Int64("owner", owner), zap.Error(rbErr))
		}
		return err
	}
	return s.CommitTransaction(ctx, owner, nil)
}

// ExecuteUpdate runs a write statement and returns the affected row count.
func (s *Store) ExecuteUpdate(ctx context.Context, owner int64, query string, args ...interface{}) (int64, error) {
	var n int64
	err := s.withTx(ctx, owner, func(tx *Tx) error {
		var err error
		n, err = tx.Exec(ctx, query, args...)
		return err
	})
	return n, err
}

// ExecuteUpdateReturning runs an insert and returns the generated row id.
func (s *Store) ExecuteUpdateReturning(ctx context.Context, owner int64, query string, args ...interface{}) (int64, error) {
	var id int64
	err := s.withTx(ctx, owner, func(tx *Tx) error {
		var err error
		id, err = tx.ExecReturning(ctx, query, args...)
		return err
	})
	return id, err
}

// ExecuteQuery runs a query and hands each row to scan.
func (s *Store) ExecuteQuery(ctx context.Context, owner int64, query string, scan func(*sql.Rows) error, args ...interface{}) error {
	return s.withTx(ctx, owner, func(tx *Tx) error {
		return tx.Query(ctx, query, scan, args...)
	})
}

// Tx is the handle of an open metadata transaction. It can run statements
// but cannot commit or roll back; that belongs to whoever began it.
type Tx struct {
	store *Store
	owner int64
}

// Owner returns the session owning the transaction.
func (t *Tx) Owner() int64 {
	return t.owner
}

func (t *Tx) sqlTx() (*sql.Tx, error) {
	return t.store.claim(t.owner)
}

// Exec runs a write statement and returns the affected row count.
func (t *Tx) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	tx, err := t.sqlTx()
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, queryFailed(query, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, queryFailed(query, err)
	}
	return n, nil
}

// ExecReturning runs an insert and returns the generated row id.
func (t *Tx) ExecReturning(ctx context.Context, query string, args ...interface{}) (int64, error) {
	tx, err := t.sqlTx()
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, queryFailed(query, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, queryFailed(query, err)
	}
	return id, nil
}

// Query runs a query and hands each row to scan.
func (t *Tx) Query(ctx context.Context, query string, scan func(*sql.Rows) error, args ...interface{}) error {
	tx, err := t.sqlTx()
	if err != nil {
		return err
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return queryFailed(query, err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return queryFailed(query, err)
	}
	return nil
}

// QueryRow runs a query expected to return one row and scans it into dest.
// It returns sql.ErrNoRows unwrapped when there is no row.
func (t *Tx) QueryRow(ctx context.Context, query string, args []interface{}, dest ...interface{}) error {
	tx, err := t.sqlTx()
	if err != nil {
		return err
	}
	err = tx.QueryRowContext(ctx, query, args...).Scan(dest...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return queryFailed(query, err)
	}
	return nil
}

// NextID returns max(column)+1 for table. It is only safe because the
// token admits one writer at a time.
func (t *Tx) NextID(ctx context.Context, table, column string) (int64, error) {
	var max sql.NullInt64
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", column, table)
	if err := t.QueryRow(ctx, query, nil, &max); err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return max.Int64 + 1, nil
}

func queryFailed(query string, err error) error {
	return xerrors.NewPersistenceError(xerrors.CodeQueryFailed, fmt.Sprintf("metastore: %s", firstLine(query)), err)
}

func firstLine(query string) string {
	query = strings.TrimSpace(query)
	if i := strings.IndexByte(query, '\n'); i >= 0 {
		query = query[:i]
	}
	if len(query) > 120 {
		return query[:120]
	}
	return query
}
