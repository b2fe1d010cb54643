package nodeexec

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xdbcore/xdb/internal/engine"
	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/internal/logutil"
	"github.com/xdbcore/xdb/pkg/types"
)

// Engine runs statements for one database over its node databases.
//
// When every node is SQLite, the coordinator is a private in-memory SQLite
// connection that attaches each node file and exposes every node table as
// a temporary view unioning the node copies, so cross-node joins see all
// rows. Otherwise the coordinator is a dedicated connection to the lowest
// numbered node and only sees that node's rows.
type Engine struct {
	pool  *ConnectionPool
	nodes map[int]types.NodeDBConnectionInfo

	mu        sync.Mutex // serializes use of coord
	coordDB   *sql.DB    // owned only in attach mode
	coord     *sql.Conn
	attach    bool
	aliases   map[int]string
	viewsSign string

	closeOnce sync.Once
}

var _ engine.Engine = (*Engine)(nil)

// Open creates an engine over the given node databases.
func Open(ctx context.Context, pool *ConnectionPool, infos []types.NodeDBConnectionInfo) (*Engine, error) {
	if len(infos) == 0 {
		return nil, xerrors.NewConfigError(xerrors.CodeMissingProperty, "nodeexec: no nodes for database")
	}

	e := &Engine{
		pool:    pool,
		nodes:   make(map[int]types.NodeDBConnectionInfo, len(infos)),
		aliases: make(map[int]string),
		attach:  true,
	}
	for _, info := range infos {
		e.nodes[info.NodeID] = info
		if driverName(info) != "sqlite3" {
			e.attach = false
		}
	}

	var err error
	if e.attach {
		err = e.openAttachCoordinator(ctx)
	} else {
		err = e.openNodeCoordinator(ctx)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) openAttachCoordinator(ctx context.Context) error {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:xdbcoord_%s?mode=memory&cache=private&_busy_timeout=5000", uuid.New().String()))
	if err != nil {
		return xerrors.NewPersistenceError(xerrors.CodeConnectionFailed, "nodeexec: failed to open coordinator", err)
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return xerrors.NewPersistenceError(xerrors.CodeConnectionFailed, "nodeexec: failed to open coordinator", err)
	}

	for _, id := range e.NodeIDs() {
		info := e.nodes[id]
		// The node file must exist with WAL enabled before it is attached.
		if _, err := e.pool.Get(ctx, info); err != nil {
			conn.Close()
			db.Close()
			return err
		}
		e.pool.Release(info)

		alias := fmt.Sprintf("n%d", id)
		if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS "+alias, SQLitePath(info)); err != nil {
			conn.Close()
			db.Close()
			return xerrors.NewPersistenceError(xerrors.CodeConnectionFailed,
				fmt.Sprintf("nodeexec: failed to attach node %d", id), err)
		}
		e.aliases[id] = alias
	}

	e.coordDB = db
	e.coord = conn
	return nil
}

func (e *Engine) openNodeCoordinator(ctx context.Context) error {
	id := e.NodeIDs()[0]
	db, err := e.pool.Get(ctx, e.nodes[id])
	if err != nil {
		return err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		e.pool.Release(e.nodes[id])
		return xerrors.NewPersistenceError(xerrors.CodeConnectionFailed, "nodeexec: failed to open coordinator", err)
	}
	e.coord = conn
	logutil.BgLogger().Info("coordinator runs on a single node; cross-node checks see only its rows",
		zap.Int("node", id))
	return nil
}

// NodeIDs returns the engine's nodes, sorted.
func (e *Engine) NodeIDs() []int {
	ids := make([]int, 0, len(e.nodes))
	for id := range e.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// syncViews rebuilds the temporary union views when the set of node tables
// changed. Must be called with e.mu held.
func (e *Engine) syncViews(ctx context.Context) error {
	if !e.attach {
		return nil
	}

	tables := make(map[string][]string)
	for _, id := range e.NodeIDs() {
		alias := e.aliases[id]
		rows, err := e.coord.QueryContext(ctx,
			"SELECT name FROM "+alias+".sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'")
		if err != nil {
			return err
		}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return err
			}
			tables[name] = append(tables[name], alias)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	var sign strings.Builder
	for _, name := range names {
		fmt.Fprintf(&sign, "%s:%s;", name, strings.Join(tables[name], ","))
	}
	if sign.String() == e.viewsSign {
		return nil
	}

	for _, name := range names {
		parts := make([]string, len(tables[name]))
		for i, alias := range tables[name] {
			parts[i] = fmt.Sprintf("SELECT * FROM %s.%s", alias, quoteIdent(name))
		}
		stmts := []string{
			"DROP VIEW IF EXISTS temp." + quoteIdent(name),
			fmt.Sprintf("CREATE TEMP VIEW %s AS %s", quoteIdent(name), strings.Join(parts, " UNION ")),
		}
		for _, s := range stmts {
			if _, err := e.coord.ExecContext(ctx, s); err != nil {
				return err
			}
		}
	}
	e.viewsSign = sign.String()
	return nil
}

// Query runs stmt on the coordinator.
func (e *Engine) Query(ctx context.Context, stmt engine.Statement) (*engine.ResultSet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.syncViews(ctx); err != nil {
		return nil, xerrors.NewPersistenceError(xerrors.CodeQueryFailed, "nodeexec: failed to prepare coordinator views", err)
	}
	rows, err := e.coord.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, xerrors.NewPersistenceError(xerrors.CodeQueryFailed, "nodeexec: coordinator query failed: "+stmt.SQL, err)
	}
	return scanResult(rows)
}

// Exec runs a write statement on the coordinator.
func (e *Engine) Exec(ctx context.Context, stmt engine.Statement) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.coord.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, xerrors.NewPersistenceError(xerrors.CodeQueryFailed, "nodeexec: coordinator exec failed: "+stmt.SQL, err)
	}
	return res.RowsAffected()
}

func (e *Engine) node(id int) (types.NodeDBConnectionInfo, error) {
	info, ok := e.nodes[id]
	if !ok {
		return types.NodeDBConnectionInfo{}, xerrors.NewLookupError(xerrors.CodeNodeNotFound, "node %d is not part of this database", id)
	}
	return info, nil
}

// QueryNodes runs stmt on each node concurrently.
func (e *Engine) QueryNodes(ctx context.Context, stmt engine.Statement, nodes []int) (map[int]*engine.ResultSet, error) {
	var mu sync.Mutex
	results := make(map[int]*engine.ResultSet, len(nodes))

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range nodes {
		info, err := e.node(id)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			db, err := e.pool.Get(gctx, info)
			if err != nil {
				return err
			}
			defer e.pool.Release(info)

			rows, err := db.QueryContext(gctx, stmt.SQL, stmt.Args...)
			if err != nil {
				return xerrors.NewPersistenceError(xerrors.CodeQueryFailed,
					fmt.Sprintf("nodeexec: query on node %d failed", info.NodeID), err)
			}
			rs, err := scanResult(rows)
			if err != nil {
				return err
			}
			mu.Lock()
			results[info.NodeID] = rs
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ExecNodes runs a write statement on each node concurrently.
func (e *Engine) ExecNodes(ctx context.Context, stmt engine.Statement, nodes []int) (map[int]int64, error) {
	var mu sync.Mutex
	results := make(map[int]int64, len(nodes))

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range nodes {
		info, err := e.node(id)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			db, err := e.pool.Get(gctx, info)
			if err != nil {
				return err
			}
			defer e.pool.Release(info)

			res, err := db.ExecContext(gctx, stmt.SQL, stmt.Args...)
			if err != nil {
				return xerrors.NewPersistenceError(xerrors.CodeQueryFailed,
					fmt.Sprintf("nodeexec: exec on node %d failed", info.NodeID), err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			mu.Lock()
			results[info.NodeID] = n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Close releases the coordinator connection.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		err = multierr.Append(err, e.coord.Close())
		if e.coordDB != nil {
			err = multierr.Append(err, e.coordDB.Close())
		} else {
			e.pool.Release(e.nodes[e.NodeIDs()[0]])
		}
	})
	return err
}

func scanResult(rows *sql.Rows) (*engine.ResultSet, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var data [][]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return engine.NewResultSet(columns, data), nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
