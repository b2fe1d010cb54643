// Package app wires the coordinator process together: metadata store,
// catalog, node engines, change notifications and the admin servers.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	grpcapi "github.com/xdbcore/xdb/internal/api/grpc"
	httpapi "github.com/xdbcore/xdb/internal/api/http"
	"github.com/xdbcore/xdb/internal/catalog"
	"github.com/xdbcore/xdb/internal/config"
	"github.com/xdbcore/xdb/internal/lock"
	"github.com/xdbcore/xdb/internal/logutil"
	"github.com/xdbcore/xdb/internal/metastore"
	"github.com/xdbcore/xdb/internal/nodeexec"
	"github.com/xdbcore/xdb/internal/notify"
	"github.com/xdbcore/xdb/internal/observability"
	"github.com/xdbcore/xdb/internal/server"
	"github.com/xdbcore/xdb/internal/storage"
)

const (
	notifyBufferSize = 256
	lockStatsWindow  = time.Hour
	nodeProbeTimeout = 10 * time.Second
)

// App is one coordinator process.
type App struct {
	cfg *config.Config

	registry  *prometheus.Registry
	shutdown  *server.ShutdownManager
	pool      *nodeexec.ConnectionPool
	store     *metastore.Store
	md        *catalog.MetaData
	engines   *engineSet
	notifier  *notify.Notifier
	lockStats *observability.LockStats
	snapshots storage.ObjectStorage

	httpAddr net.Addr
	grpcAddr net.Addr

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New validates cfg and prepares its directories.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return &App{cfg: cfg}, nil
}

// Start opens every resource and starts the admin servers. Resources are
// registered with the shutdown manager as they open, so a failed Start
// can be undone with Stop.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	a.shutdown = server.NewShutdownManager(server.DefaultShutdownConfig())
	if err := a.start(ctx); err != nil {
		a.Stop(context.Background())
		return err
	}
	logutil.Logger(ctx).Info("coordinator started",
		zap.String("metadata", a.cfg.MetaData.Path),
		zap.Ints("nodes", a.cfg.NodeIDs()),
		zap.Int("databases", len(a.md.Databases())))
	return nil
}

func (a *App) start(ctx context.Context) error {
	log := logutil.Logger(ctx)

	a.registry = prometheus.NewRegistry()
	if err := observability.RegisterMetrics(a.registry); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.pool = nodeexec.NewConnectionPool(nodeexec.DefaultPoolConfig())
	a.shutdown.RegisterCloser("node connection pool", a.pool)

	store, err := metastore.Open(a.cfg.MetaData.Path, metastore.Options{TxnWaitTimeout: a.cfg.MetaData.TxnWaitTimeout})
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	a.store = store
	a.shutdown.RegisterCloser("metadata store", store)
	log.Info("metadata store opened", zap.String("path", a.cfg.MetaData.Path))

	a.lockStats = observability.NewLockStats(lockStatsWindow)
	a.md = catalog.New(store, catalog.Options{
		Scheduler: lock.SchedulerConfig{
			LockWaitTimeout: a.cfg.Scheduler.LockWaitTimeout,
			Stats:           a.lockStats,
		},
		Nodes: a.cfg.NodeIDs(),
	})
	a.shutdown.RegisterCloser("catalog", a.md)

	a.engines = newEngineSet(a.cfg, a.pool)
	a.md.SetEngineResolver(a.engines.For)
	a.shutdown.RegisterCloser("node engines", a.engines)

	a.notifier = notify.NewNotifier(notifyBufferSize)
	a.md.SetChangeSink(a.notifier)
	sub := a.notifier.Subscribe("engines")
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.engines.follow(sub.Ch)
	}()
	a.shutdown.RegisterCloser("change notifier", server.CloserFunc(func() error {
		err := a.notifier.Close()
		a.wg.Wait()
		return err
	}))

	if err := a.md.Bootstrap(ctx, a.cfg.MetaData.AdminPassword); err != nil {
		return fmt.Errorf("failed to bootstrap catalog: %w", err)
	}
	if err := a.md.Load(ctx); err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	if err := a.probeNodes(ctx); err != nil {
		return err
	}

	if a.snapshots, err = OpenSnapshotStorage(ctx, a.cfg.Snapshot); err != nil {
		return err
	}

	if err := a.startHTTP(); err != nil {
		return err
	}
	if a.cfg.Admin.GRPCEnabled {
		if err := a.startGRPC(); err != nil {
			return err
		}
	}
	return nil
}

// probeNodes connects to every configured node in parallel and marks the
// reachable ones up. Unreachable nodes stay down; they are not fatal.
func (a *App) probeNodes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, nodeProbeTimeout)
	defer cancel()

	startup := a.md.StartupLock()
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range a.cfg.NodeIDs() {
		id := id
		g.Go(func() error {
			info, err := a.cfg.NodeConnectionInfo(id, a.cfg.MetaData.Database)
			if err != nil {
				return err
			}
			db, err := a.pool.Get(gctx, info)
			if err == nil {
				err = db.PingContext(gctx)
				a.pool.Release(info)
			}
			if err != nil {
				logutil.Logger(ctx).Warn("node is unreachable", zap.Int("node", id), zap.Error(err))
				return nil
			}
			return startup.SetNodeUp(id, true)
		})
	}
	return g.Wait()
}

func (a *App) startHTTP() error {
	l, err := net.Listen("tcp", a.cfg.Admin.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Admin.HTTPAddr, err)
	}
	a.httpAddr = l.Addr()
	handler := httpapi.NewHandler(httpapi.HandlerConfig{
		Catalog:        a.md,
		LockStats:      a.lockStats,
		Gatherer:       a.registry,
		Snapshots:      a.snapshots,
		SnapshotPrefix: a.cfg.Snapshot.Prefix,
		SnapshotRetain: a.cfg.Snapshot.Retain,
		Name:           "xdb",
	})
	srv := &http.Server{
		Handler:      server.ShutdownMiddleware(a.shutdown)(handler),
		ReadTimeout:  a.cfg.Admin.ReadTimeout,
		WriteTimeout: a.cfg.Admin.WriteTimeout,
	}
	a.shutdown.ServeHTTP("admin http server", srv, l)
	return nil
}

func (a *App) startGRPC() error {
	l, err := net.Listen("tcp", a.cfg.Admin.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Admin.GRPCAddr, err)
	}
	a.grpcAddr = l.Addr()
	gs := grpc.NewServer(grpc.UnaryInterceptor(grpcapi.UnaryInterceptor))
	grpcapi.NewServer(a.md).Register(gs)
	a.shutdown.ServeGRPC("admin grpc server", gs, l)
	return nil
}

// Wait blocks until a signal arrives, ctx is done or Stop is called.
func (a *App) Wait(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}

// Stop shuts the process down. Only the first call does anything.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()
	return a.shutdown.Shutdown(ctx, "stop requested")
}

// Catalog returns the live catalog.
func (a *App) Catalog() *catalog.MetaData {
	return a.md
}

// Notifier returns the catalog change bus.
func (a *App) Notifier() *notify.Notifier {
	return a.notifier
}

// HTTPAddr returns the bound admin HTTP address.
func (a *App) HTTPAddr() net.Addr {
	return a.httpAddr
}

// GRPCAddr returns the bound admin gRPC address, or nil when disabled.
func (a *App) GRPCAddr() net.Addr {
	return a.grpcAddr
}
