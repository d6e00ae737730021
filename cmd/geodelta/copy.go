package main

import (
	"github.com/spf13/cobra"

	"github.com/crittermap/geodelta"
)

var copyCmd = &cobra.Command{
	Use:   "copy DB_SRC DB_DST",
	Short: "Copy a database, schema and content",
	Long: `Creates DB_DST from scratch with the schema and content of DB_SRC.
Use --driver-1/--driver-2 to copy across different backends.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, dst := driverName, driverName
		if copyDriver1 != "" {
			src = copyDriver1
		}
		if copyDriver2 != "" {
			dst = copyDriver2
		}
		if err := geodelta.MakeCopy(gctx, src, copyDriver1Options, args[0],
			dst, copyDriver2Options, args[1]); err != nil {
			return fail(err)
		}
		return nil
	},
}

var (
	copyDriver1        string
	copyDriver1Options string
	copyDriver2        string
	copyDriver2Options string
)

func init() {
	copyCmd.Flags().StringVar(&copyDriver1, "driver-1", "", "Driver for the source database")
	copyCmd.Flags().StringVar(&copyDriver1Options, "driver-1-options", "", "Connection info for the source")
	copyCmd.Flags().StringVar(&copyDriver2, "driver-2", "", "Driver for the destination database")
	copyCmd.Flags().StringVar(&copyDriver2Options, "driver-2-options", "", "Connection info for the destination")
	rootCmd.AddCommand(copyCmd)
}
