package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xdbcore/xdb/internal/catalog"
	"github.com/xdbcore/xdb/internal/logutil"
	"github.com/xdbcore/xdb/internal/metastore"
	"github.com/xdbcore/xdb/internal/observability"
	"github.com/xdbcore/xdb/internal/storage"
)

// HandlerConfig wires the admin handler to the running coordinator.
type HandlerConfig struct {
	Catalog *catalog.MetaData

	// Optional. Without it /v1/locks answers 404.
	LockStats *observability.LockStats

	// Optional. Without it /metrics serves the default registry.
	Gatherer prometheus.Gatherer

	// Optional. Without it the snapshot routes answer 404.
	Snapshots      storage.ObjectStorage
	SnapshotPrefix string
	// SnapshotRetain bounds the snapshots kept after an online backup.
	SnapshotRetain int

	// Name reported by /health.
	Name string
}

// Handler serves the admin routes.
type Handler struct {
	cfg HandlerConfig
	mux *http.ServeMux
}

// NodeState is the JSON form of one node.
type NodeState struct {
	ID int  `json:"id"`
	Up bool `json:"up"`
}

// DatabaseSummary is one entry of GET /v1/databases.
type DatabaseSummary struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Owner  int64  `json:"owner"`
	Nodes  []int  `json:"nodes"`
	Tables int    `json:"tables"`
	Online bool   `json:"online"`
}

// BackupResponse answers POST /v1/snapshots.
type BackupResponse struct {
	Snapshot string   `json:"snapshot"`
	Pruned   []string `json:"pruned"`
}

// NewHandler builds the admin handler with DefaultMiddleware applied.
func NewHandler(cfg HandlerConfig) http.Handler {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Name == "" {
		cfg.Name = "xdb"
	}
	h := &Handler{cfg: cfg, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /health", h.health)
	h.mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	h.mux.HandleFunc("GET /v1/catalog", h.describe)
	h.mux.HandleFunc("GET /v1/databases", h.databases)
	h.mux.HandleFunc("GET /v1/databases/{db}", h.database)
	h.mux.HandleFunc("GET /v1/databases/{db}/tables/{table}", h.table)
	h.mux.HandleFunc("GET /v1/nodes", h.nodes)
	h.mux.HandleFunc("PUT /v1/nodes/{id}", h.setNode)
	h.mux.HandleFunc("GET /v1/locks", h.locks)
	h.mux.HandleFunc("GET /v1/snapshots", h.listSnapshots)
	h.mux.HandleFunc("POST /v1/snapshots", h.backup)
	return DefaultMiddleware()(h.mux)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	state := "ok"
	if !h.cfg.Catalog.Ready() {
		status = http.StatusServiceUnavailable
		state = "loading"
	}
	writeJSON(w, status, map[string]string{"status": state, "service": h.cfg.Name})
}

func (h *Handler) describe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Catalog.Describe())
}

func (h *Handler) databases(w http.ResponseWriter, r *http.Request) {
	dbs := h.cfg.Catalog.Databases()
	out := make([]DatabaseSummary, 0, len(dbs))
	for _, db := range dbs {
		out = append(out, DatabaseSummary{
			ID:     db.ID(),
			Name:   db.Name(),
			Owner:  db.OwnerID(),
			Nodes:  db.NodeIDs(),
			Tables: len(db.Tables()),
			Online: db.IsOnline(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) database(w http.ResponseWriter, r *http.Request) {
	db, err := h.cfg.Catalog.Database(r.PathValue("db"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, db.Describe())
}

func (h *Handler) table(w http.ResponseWriter, r *http.Request) {
	db, err := h.cfg.Catalog.Database(r.PathValue("db"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	t, err := db.Table(r.PathValue("table"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t.Describe())
}

func (h *Handler) nodes(w http.ResponseWriter, r *http.Request) {
	nodes := h.cfg.Catalog.StartupLock().Nodes()
	out := make([]NodeState, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, NodeState{ID: n.ID, Up: n.IsUp()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) setNode(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid node id %q", r.PathValue("id")), "")
		return
	}
	var req struct {
		Up *bool `json:"up"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Up == nil {
		writeError(w, r, http.StatusBadRequest, `body must be {"up": true|false}`, "")
		return
	}
	if err := h.cfg.Catalog.StartupLock().SetNodeUp(id, *req.Up); err != nil {
		writeFailure(w, r, err)
		return
	}
	logutil.Logger(r.Context()).Info("node state changed", zap.Int("node", id), zap.Bool("up", *req.Up))
	writeJSON(w, http.StatusOK, NodeState{ID: id, Up: *req.Up})
}

func (h *Handler) locks(w http.ResponseWriter, r *http.Request) {
	if h.cfg.LockStats == nil {
		writeError(w, r, http.StatusNotFound, "lock statistics are disabled", "")
		return
	}
	n := 10
	if s := r.URL.Query().Get("top"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			writeError(w, r, http.StatusBadRequest, "top must be a positive integer", "")
			return
		}
		n = v
	}
	top := h.cfg.LockStats.GetTopContended(n)
	type entry struct {
		Table       string         `json:"table"`
		Waits       int64          `json:"waits"`
		TotalWaitMs int64          `json:"total_wait_ms"`
		MaxWaitMs   int64          `json:"max_wait_ms"`
		Modes       map[string]int `json:"modes"`
	}
	out := make([]entry, 0, len(top))
	for _, c := range top {
		out = append(out, entry{
			Table:       c.Table,
			Waits:       c.Waits,
			TotalWaitMs: c.TotalWait.Milliseconds(),
			MaxWaitMs:   c.MaxWait.Milliseconds(),
			Modes:       c.Modes,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Snapshots == nil {
		writeError(w, r, http.StatusNotFound, "snapshots are not configured", "")
		return
	}
	snaps, err := metastore.ListSnapshots(r.Context(), h.cfg.Snapshots, h.cfg.SnapshotPrefix)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []storage.ObjectInfo{}
	}
	writeJSON(w, http.StatusOK, map[string][]storage.ObjectInfo{"snapshots": snaps})
}

func (h *Handler) backup(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Snapshots == nil {
		writeError(w, r, http.StatusNotFound, "snapshots are not configured", "")
		return
	}
	name, err := h.cfg.Catalog.Store().Backup(r.Context(), h.cfg.Snapshots, h.cfg.SnapshotPrefix)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	pruned, err := metastore.PruneSnapshots(r.Context(), h.cfg.Snapshots, h.cfg.SnapshotPrefix, h.cfg.SnapshotRetain)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if pruned == nil {
		pruned = []string{}
	}
	writeJSON(w, http.StatusCreated, BackupResponse{Snapshot: name, Pruned: pruned})
}
