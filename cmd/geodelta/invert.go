package main

import (
	"github.com/spf13/cobra"

	"github.com/crittermap/geodelta"
)

var invertCmd = &cobra.Command{
	Use:   "invert CHANGESET_IN CHANGESET_OUT",
	Short: "Invert a changeset",
	Long: `Writes the inverse changeset: applying it undoes the effect of the
input. Inserts become deletes, deletes become inserts and updates
swap their old and new values.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := geodelta.InvertChangeset(gctx, args[0], args[1]); err != nil {
			return fail(err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(invertCmd)
}
