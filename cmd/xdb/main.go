// Command xdb runs the metadata coordinator and its offline maintenance
// tasks.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xdbcore/xdb/internal/logutil"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "xdb",
		Short:         "xdb is the metadata coordinator of a distributed SQL cluster.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addConfigFlags(rootCmd)
	rootCmd.AddCommand(
		newServeCommand(),
		newBackupCommand(),
		newRestoreCommand(),
		newSnapshotsCommand(),
		newVersionCommand(),
	)
	rootCmd.SetOut(os.Stdout)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logutil.BgLogger().Error("xdb failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("xdb version %s (commit: %s)\n", version, commit)
		},
	}
}
