package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /from/file\nmetadata:\n  database: filedb\n"), 0o644))
	t.Setenv("XDB_METADATA_DATABASE", "envdb")

	cmd := &cobra.Command{Use: "test"}
	addConfigFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--data-dir", dir}))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	require.Equal(t, dir, cfg.DataDir, "flags win over the file")
	require.Equal(t, "envdb", cfg.MetaData.Database, "environment wins over the file")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newVersionCommand()
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())
	require.Equal(t, "xdb version dev (commit: unknown)\n", out.String())
}
