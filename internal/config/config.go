// Package config provides the configuration for the xdb coordinator.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/internal/logutil"
)

// Config holds the configuration of one coordinator process.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir" toml:"data-dir"`

	// MetaData configures the metadata store
	MetaData MetaDataConfig `json:"metadata" yaml:"metadata" toml:"metadata"`

	// Scheduler configures per-database lock scheduling
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler" toml:"scheduler"`

	// Log configures logging
	Log logutil.Config `json:"log" yaml:"log" toml:"log"`

	// Admin configures the HTTP and gRPC admin surfaces
	Admin AdminConfig `json:"admin" yaml:"admin" toml:"admin"`

	// Snapshot configures where metadata snapshots are stored
	Snapshot SnapshotConfig `json:"snapshot" yaml:"snapshot" toml:"snapshot"`

	// Nodes lists the backend node databases
	Nodes []NodeConfig `json:"nodes" yaml:"nodes" toml:"nodes"`

	// Properties holds xdb.* keyed settings, e.g. xdb.node.1.host
	Properties map[string]string `json:"properties" yaml:"properties" toml:"properties"`
}

// MetaDataConfig holds metadata store configuration.
type MetaDataConfig struct {
	// Database is the metadata database name. Required.
	Database string `json:"database" yaml:"database" toml:"database"`

	// Path is the SQLite file; defaults to <data_dir>/<database>.db
	Path string `json:"path" yaml:"path" toml:"path"`

	// TxnWaitTimeout bounds how long a caller waits for the transaction token
	TxnWaitTimeout time.Duration `json:"txn_wait_timeout" yaml:"txn_wait_timeout" toml:"txn-wait-timeout"`

	// AdminPassword is given to the bootstrap admin login when the store is empty
	AdminPassword string `json:"admin_password" yaml:"admin_password" toml:"admin-password"`
}

// SchedulerConfig holds lock scheduler configuration.
type SchedulerConfig struct {
	// LockWaitTimeout bounds how long a statement waits for admission
	LockWaitTimeout time.Duration `json:"lock_wait_timeout" yaml:"lock_wait_timeout" toml:"lock-wait-timeout"`
}

// AdminConfig holds admin server configuration.
type AdminConfig struct {
	HTTPAddr     string        `json:"http_addr" yaml:"http_addr" toml:"http-addr"`
	GRPCAddr     string        `json:"grpc_addr" yaml:"grpc_addr" toml:"grpc-addr"`
	GRPCEnabled  bool          `json:"grpc_enabled" yaml:"grpc_enabled" toml:"grpc-enabled"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" toml:"read-timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" toml:"write-timeout"`
}

// SnapshotConfig holds snapshot storage configuration.
type SnapshotConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type" toml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path" toml:"path"`

	// Prefix is prepended to every snapshot object name
	Prefix string `json:"prefix" yaml:"prefix" toml:"prefix"`

	// Retain is how many snapshots a backup keeps; 0 keeps all
	Retain int `json:"retain" yaml:"retain" toml:"retain"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3" toml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket       string `json:"bucket" yaml:"bucket" toml:"bucket"`
	Region       string `json:"region" yaml:"region" toml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style" toml:"use-path-style"`
}

// NodeConfig declares one backend node. Empty fields fall back to the
// xdb.node.<id>.* and xdb.default.* properties.
type NodeConfig struct {
	ID       int    `json:"id" yaml:"id" toml:"id"`
	Driver   string `json:"driver" yaml:"driver" toml:"driver"`
	Host     string `json:"host" yaml:"host" toml:"host"`
	Port     int    `json:"port" yaml:"port" toml:"port"`
	User     string `json:"user" yaml:"user" toml:"user"`
	Password string `json:"password" yaml:"password" toml:"password"`

	// Dir holds the node's database files for the sqlite driver
	Dir string `json:"dir" yaml:"dir" toml:"dir"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/xdb",
		MetaData: MetaDataConfig{
			TxnWaitTimeout: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			LockWaitTimeout: 60 * time.Second,
		},
		Log: logutil.Config{
			Level:   logutil.DefaultLogLevel,
			Format:  logutil.DefaultLogFormat,
			MaxSize: logutil.DefaultLogMaxSize,
		},
		Admin: AdminConfig{
			HTTPAddr:     ":8080",
			GRPCAddr:     ":9090",
			GRPCEnabled:  true,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Snapshot: SnapshotConfig{
			Type:   "local",
			Prefix: "snapshots/",
		},
		Properties: map[string]string{},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/xdb"
	}
	if c.MetaData.Path == "" && c.MetaData.Database != "" {
		c.MetaData.Path = filepath.Join(c.DataDir, c.MetaData.Database+".db")
	}
	if c.Snapshot.Path == "" {
		c.Snapshot.Path = filepath.Join(c.DataDir, "snapshots")
	}
	for i := range c.Nodes {
		n := &c.Nodes[i]
		if n.Driver == "" {
			n.Driver = c.nodeProperty(n.ID, "driver")
		}
		if n.Driver == "" || n.Driver == "sqlite3" {
			n.Driver = "sqlite3"
			if n.Dir == "" {
				n.Dir = c.nodeProperty(n.ID, "dir")
			}
			if n.Dir == "" {
				n.Dir = filepath.Join(c.DataDir, fmt.Sprintf("node%d", n.ID))
			}
		}
	}
	if c.Properties == nil {
		c.Properties = map[string]string{}
	}
}

// Validate validates the configuration. Failures are configuration faults.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return xerrors.NewConfigError(xerrors.CodeMissingProperty, "data_dir is required")
	}
	if c.MetaData.Database == "" {
		return xerrors.NewConfigError(xerrors.CodeMissingProperty, "metadata.database is required")
	}
	if c.MetaData.TxnWaitTimeout < 0 {
		return xerrors.NewConfigError(xerrors.CodeInvalidProperty, "metadata.txn_wait_timeout must not be negative")
	}
	if c.Scheduler.LockWaitTimeout < 0 {
		return xerrors.NewConfigError(xerrors.CodeInvalidProperty, "scheduler.lock_wait_timeout must not be negative")
	}

	switch c.Snapshot.Type {
	case "local", "s3":
	default:
		return xerrors.NewConfigError(xerrors.CodeInvalidProperty,
			fmt.Sprintf("invalid snapshot type: %s (must be local or s3)", c.Snapshot.Type))
	}
	if c.Snapshot.Retain < 0 {
		return xerrors.NewConfigError(xerrors.CodeInvalidProperty, "snapshot.retain must not be negative")
	}
	if c.Snapshot.Type == "s3" && c.Snapshot.S3.Bucket == "" {
		return xerrors.NewConfigError(xerrors.CodeMissingProperty, "snapshot.s3.bucket is required when snapshot type is s3")
	}

	seen := make(map[int]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.ID <= 0 {
			return xerrors.NewConfigError(xerrors.CodeInvalidProperty, fmt.Sprintf("node id must be positive, got %d", n.ID))
		}
		if seen[n.ID] {
			return xerrors.NewConfigError(xerrors.CodeInvalidProperty, fmt.Sprintf("duplicate node id %d", n.ID))
		}
		seen[n.ID] = true
		switch n.Driver {
		case "", "sqlite3", "mysql":
		default:
			return xerrors.NewConfigError(xerrors.CodeInvalidProperty,
				fmt.Sprintf("node %d: unsupported driver %q", n.ID, n.Driver))
		}
	}
	return nil
}

// NodeIDs returns the configured node ids in declaration order.
func (c *Config) NodeIDs() []int {
	ids := make([]int, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

// LoadFromFile loads configuration from a YAML, JSON or TOML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the XDB_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("XDB_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Metadata store
	if v := os.Getenv("XDB_METADATA_DATABASE"); v != "" {
		cfg.MetaData.Database = v
	}
	if v := os.Getenv("XDB_METADATA_PATH"); v != "" {
		cfg.MetaData.Path = v
	}
	if v := os.Getenv("XDB_METADATA_TXN_WAIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MetaData.TxnWaitTimeout = d
		}
	}

	// Scheduler
	if v := os.Getenv("XDB_SCHEDULER_LOCK_WAIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.LockWaitTimeout = d
		}
	}

	// Logging
	if v := os.Getenv("XDB_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("XDB_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("XDB_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}

	// Admin
	if v := os.Getenv("XDB_ADMIN_HTTP_ADDR"); v != "" {
		cfg.Admin.HTTPAddr = v
	}
	if v := os.Getenv("XDB_ADMIN_GRPC_ADDR"); v != "" {
		cfg.Admin.GRPCAddr = v
	}
	if v := os.Getenv("XDB_ADMIN_GRPC_ENABLED"); v != "" {
		cfg.Admin.GRPCEnabled = v == "true" || v == "1"
	}

	// Snapshot storage
	if v := os.Getenv("XDB_SNAPSHOT_TYPE"); v != "" {
		cfg.Snapshot.Type = v
	}
	if v := os.Getenv("XDB_SNAPSHOT_PATH"); v != "" {
		cfg.Snapshot.Path = v
	}
	if v := os.Getenv("XDB_S3_BUCKET"); v != "" {
		cfg.Snapshot.S3.Bucket = v
	}
	if v := os.Getenv("XDB_S3_REGION"); v != "" {
		cfg.Snapshot.S3.Region = v
	}
	if v := os.Getenv("XDB_S3_ENDPOINT"); v != "" {
		cfg.Snapshot.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.MetaData.Path != "" {
		dirs = append(dirs, filepath.Dir(c.MetaData.Path))
	}
	if c.Snapshot.Type == "local" {
		dirs = append(dirs, c.Snapshot.Path)
	}
	for _, n := range c.Nodes {
		if n.Driver == "sqlite3" {
			dirs = append(dirs, n.Dir)
		}
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
