package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lotteryfactor/logger"
)

var rootCmd = &cobra.Command{
	Use:   "lotteryfactor",
	Short: "Lottery factor and YOLO coder reports for GitHub repositories",
	Long: `lotteryfactor syncs merged pull requests and default branch commits of a
GitHub repository into a local store and reports how concentrated the
contributions are, along with who pushes to the default branch without review.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.Int("days", 30, "lookback window in days")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("db-driver", "sqlite", "store driver (sqlite or postgres)")
	flags.String("db-dsn", "lotteryfactor.db", "store DSN; a postgres:// URL for postgres")

	for key, flag := range map[string]string{
		"DAYS":      "days",
		"LOG_LEVEL": "log-level",
		"DB_DRIVER": "db-driver",
		"DB_DSN":    "db-dsn",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", flag, err))
		}
	}

	rootCmd.AddCommand(reportCmd, serveCmd)
}
