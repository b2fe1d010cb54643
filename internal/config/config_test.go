package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	xerrors "github.com/xdbcore/xdb/internal/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := writeFile(t, "xdb.yaml", `
data_dir: /var/lib/xdb
metadata:
  database: xdbsys
  txn_wait_timeout: 5s
nodes:
  - id: 1
  - id: 2
    driver: mysql
    host: db2
properties:
  xdb.default.user: xdb
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/xdb", cfg.DataDir)
	require.Equal(t, "xdbsys", cfg.MetaData.Database)
	require.Equal(t, 5*time.Second, cfg.MetaData.TxnWaitTimeout)
	require.Len(t, cfg.Nodes, 2)
	require.Equal(t, "xdb", cfg.Properties["xdb.default.user"])
	// untouched sections keep defaults
	require.Equal(t, 60*time.Second, cfg.Scheduler.LockWaitTimeout)

	cfg.Resolve()
	require.Equal(t, "/var/lib/xdb/xdbsys.db", cfg.MetaData.Path)
	require.Equal(t, "/var/lib/xdb/node1", cfg.Nodes[0].Dir)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile_TOML(t *testing.T) {
	path := writeFile(t, "xdb.toml", `
data-dir = "/tmp/xdb"

[metadata]
database = "xdbsys"

[snapshot]
type = "s3"
[snapshot.s3]
bucket = "xdb-snapshots"

[[nodes]]
id = 3
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "xdbsys", cfg.MetaData.Database)
	require.Equal(t, "s3", cfg.Snapshot.Type)
	require.Equal(t, "xdb-snapshots", cfg.Snapshot.S3.Bucket)
	require.Equal(t, []int{3}, cfg.NodeIDs())
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := writeFile(t, "xdb.json", `{"metadata": {"database": "meta"}}`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "meta", cfg.MetaData.Database)
}

func TestLoadFromFile_Unsupported(t *testing.T) {
	path := writeFile(t, "xdb.ini", "x=1")
	_, err := LoadFromFile(path)
	require.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("XDB_METADATA_DATABASE", "fromenv")
	t.Setenv("XDB_SCHEDULER_LOCK_WAIT_TIMEOUT", "2s")
	t.Setenv("XDB_LOG_LEVEL", "debug")
	t.Setenv("XDB_ADMIN_GRPC_ENABLED", "false")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)
	require.Equal(t, "fromenv", cfg.MetaData.Database)
	require.Equal(t, 2*time.Second, cfg.Scheduler.LockWaitTimeout)
	require.Equal(t, "debug", cfg.Log.Level)
	require.False(t, cfg.Admin.GRPCEnabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   string
	}{
		{"missing metadata database", func(c *Config) { c.MetaData.Database = "" }, xerrors.CodeMissingProperty},
		{"bad snapshot type", func(c *Config) { c.Snapshot.Type = "ftp" }, xerrors.CodeInvalidProperty},
		{"s3 without bucket", func(c *Config) { c.Snapshot.Type = "s3" }, xerrors.CodeMissingProperty},
		{"negative retain", func(c *Config) { c.Snapshot.Retain = -1 }, xerrors.CodeInvalidProperty},
		{"duplicate node", func(c *Config) { c.Nodes = []NodeConfig{{ID: 1}, {ID: 1}} }, xerrors.CodeInvalidProperty},
		{"bad node id", func(c *Config) { c.Nodes = []NodeConfig{{ID: 0}} }, xerrors.CodeInvalidProperty},
		{"bad driver", func(c *Config) { c.Nodes = []NodeConfig{{ID: 1, Driver: "oracle"}} }, xerrors.CodeInvalidProperty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.MetaData.Database = "xdbsys"
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, xerrors.HasCode(err, xerrors.ErrCategoryConfig, tt.code), "got %v", err)
		})
	}
}

func TestNodeConnectionInfo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetaData.Database = "xdbsys"
	cfg.Nodes = []NodeConfig{
		{ID: 1, Driver: "mysql"},
		{ID: 2, Driver: "mysql", Host: "explicit"},
	}
	cfg.Properties = map[string]string{
		"xdb.default.host":              "dbhost",
		"xdb.default.user":              "xdb",
		"xdb.default.password":          "pw",
		"xdb.node.1.port":               "3307",
		"xdb.node.2.host":               "ignored",
		"xdb.node.1.dbname":             "{db}_n1",
		"xdb.default.custom.charset":    "utf8mb4",
		"xdb.default.custom.timeout":    "5s",
		"xdb.node.1.custom.timeout":     "10s",
		"xdb.node.2.custom.readTimeout": "1s",
	}
	cfg.Resolve()

	info, err := cfg.NodeConnectionInfo(1, "sales")
	require.NoError(t, err)
	require.Equal(t, "dbhost", info.Host)
	require.Equal(t, 3307, info.Port)
	require.Equal(t, "sales_n1", info.DBName)
	require.Equal(t, "xdb", info.User)
	require.Equal(t, "pw", info.Password)
	require.Equal(t, map[string]string{"charset": "utf8mb4", "timeout": "10s"}, info.Properties)

	info, err = cfg.NodeConnectionInfo(2, "sales")
	require.NoError(t, err)
	require.Equal(t, "explicit", info.Host)
	require.Equal(t, 3306, info.Port)
	require.Equal(t, "sales", info.DBName)
	require.Equal(t, "1s", info.Properties["readTimeout"])

	_, err = cfg.NodeConnectionInfo(9, "sales")
	require.True(t, xerrors.HasCode(err, xerrors.ErrCategoryLookup, xerrors.CodeNodeNotFound))
}

func TestNodeConnectionInfo_BadPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Nodes = []NodeConfig{{ID: 1, Driver: "mysql"}}
	cfg.Properties = map[string]string{"xdb.node.1.port": "abc"}

	_, err := cfg.NodeConnectionInfo(1, "db")
	require.True(t, xerrors.HasCode(err, xerrors.ErrCategoryConfig, xerrors.CodeInvalidProperty))
}

func TestNodeConnectionInfo_SQLiteDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data"
	cfg.Nodes = []NodeConfig{{ID: 4}}
	cfg.Resolve()

	info, err := cfg.NodeConnectionInfo(4, "sales")
	require.NoError(t, err)
	require.Equal(t, "sqlite3", info.Driver)
	require.Equal(t, "/data/node4", info.Properties["dir"])
}
