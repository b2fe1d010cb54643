package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xdbcore/xdb/internal/app"
	"github.com/xdbcore/xdb/internal/config"
	"github.com/xdbcore/xdb/internal/logutil"
)

const (
	flagConfig   = "config"
	flagDataDir  = "data-dir"
	flagMetaDB   = "metadata-db"
	flagLogLevel = "log-level"
)

func addConfigFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String(flagConfig, "", "path to a YAML, JSON or TOML configuration file")
	cmd.PersistentFlags().String(flagDataDir, "", "base directory for all data files")
	cmd.PersistentFlags().String(flagMetaDB, "", "metadata database name")
	cmd.PersistentFlags().String(flagLogLevel, "", "log level: debug, info, warn, error")
}

// loadConfig layers defaults or the config file, then XDB_* environment
// variables, then flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString(flagConfig)
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)

	if v, _ := cmd.Flags().GetString(flagDataDir); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString(flagMetaDB); v != "" {
		cfg.MetaData.Database = v
	}
	if v, _ := cmd.Flags().GetString(flagLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if err := logutil.InitLogger(&cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("http-addr"); v != "" {
				cfg.Admin.HTTPAddr = v
			}
			if v, _ := cmd.Flags().GetString("grpc-addr"); v != "" {
				cfg.Admin.GRPCAddr = v
			}
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			if err := a.Start(cmd.Context()); err != nil {
				return err
			}
			return a.Wait(cmd.Context())
		},
	}
	cmd.Flags().String("http-addr", "", "admin HTTP listen address")
	cmd.Flags().String("grpc-addr", "", "admin gRPC listen address")
	return cmd
}

func newBackupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the metadata store into snapshot storage",
		Long:  "Snapshot the metadata store. Stop the coordinator first, or use POST /v1/snapshots while it runs.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			name, err := app.Backup(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		},
	}
}

func newRestoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore [snapshot]",
		Short: "Replace the metadata store with a snapshot (the newest when none is named)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			overwrite, _ := cmd.Flags().GetBool("overwrite")
			restored, err := app.Restore(cmd.Context(), cfg, name, overwrite)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", restored)
			return nil
		},
	}
	cmd.Flags().Bool("overwrite", false, "replace an existing metadata store")
	return cmd
}

func newSnapshotsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots",
		Short: "List stored snapshots, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			snaps, err := app.ListSnapshots(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			for _, s := range snaps {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", s.Key, s.Size)
			}
			return nil
		},
	}
}
