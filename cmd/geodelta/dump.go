package main

import (
	"github.com/spf13/cobra"

	"github.com/crittermap/geodelta"
)

var dumpCmd = &cobra.Command{
	Use:   "dump DB CHANGESET_OUT",
	Short: "Dump all rows of a database as a changeset of inserts",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := geodelta.DumpData(gctx, driverName, driverOptions, args[0], args[1]); err != nil {
			return fail(err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}
