package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	driverName    string
	driverOptions string
)

var rootCmd = &cobra.Command{
	Use:   "geodelta",
	Short: "Diff, apply, merge and rebase changesets between spatial databases",
	Long: `geodelta computes compact binary changesets between two databases
holding the same schema, and replays, inverts, concatenates or
rebases them. GeoPackage files are supported out of the box.

The maximum log level is read from GEODELTA_LOG_LEVEL
(0 silent, 1 errors, 2 warnings, 3 info, 4 debug; default 2), and
GEODELTA_SKIP_TABLES names tables excluded from every operation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		gctx = newContext()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&driverName, "driver", "sqlite", "Backend driver name")
	rootCmd.PersistentFlags().StringVar(&driverOptions, "driver-options", "", "Backend-specific connection info")
}

// fail prints the error and forces exit code 1 through Execute.
func fail(err error) error {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return err
}
