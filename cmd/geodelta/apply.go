package main

import (
	"github.com/spf13/cobra"

	"github.com/crittermap/geodelta"
)

var applyCmd = &cobra.Command{
	Use:   "apply DB CHANGESET",
	Short: "Apply a changeset to a database",
	Long: `Replays a changeset against the database inside a single
transaction. When any row conflicts, nothing is changed and the
command fails with the conflict count.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := geodelta.ApplyChangeset(gctx, driverName, driverOptions, args[0], args[1]); err != nil {
			return fail(err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)
}
