package main

import (
	"github.com/spf13/cobra"

	"github.com/crittermap/geodelta"
)

var concatCmd = &cobra.Command{
	Use:   "concat CHANGESET_1 CHANGESET_2 [CHANGESET_N...] CHANGESET_OUT",
	Short: "Merge sequential changesets into one",
	Long: `Merges two or more changesets, in order, into a single changeset
equivalent to applying them sequentially. Changes to the same row are
reduced pair-wise.`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs := args[:len(args)-1]
		out := args[len(args)-1]
		if err := geodelta.ConcatChanges(gctx, inputs, out); err != nil {
			return fail(err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(concatCmd)
}
