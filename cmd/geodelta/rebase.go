package main

import (
	"github.com/spf13/cobra"

	"github.com/crittermap/geodelta"
)

var rebaseDiffCmd = &cobra.Command{
	Use:   "rebase-diff DB_BASE CH_BASE_OURS CH_BASE_THEIRS CH_REBASED CONFLICT",
	Short: "Rebase a diff on top of another diff sharing the same base",
	Long: `Rewrites the local diff (base to ours) so that it applies cleanly
after the committed upstream diff (base to theirs). Cell-level
disagreements are written to the conflict file as JSON; the file is
created only when conflicts exist.`,
	Args: cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := geodelta.CreateRebasedChangeset(gctx, driverName, driverOptions,
			args[0], args[1], args[2], args[3], args[4]); err != nil {
			return fail(err)
		}
		return nil
	},
}

var rebaseDBCmd = &cobra.Command{
	Use:   "rebase-db DB_BASE DB_OURS CH_BASE_THEIRS CONFLICT",
	Short: "Rebase a locally modified database onto an upstream diff",
	Long: `Computes the local diff of DB_OURS against DB_BASE, rebases it on
top of the upstream diff, and applies the condensed result to DB_OURS
atomically.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := geodelta.Rebase(gctx, driverName, driverOptions,
			args[0], args[1], args[2], args[3]); err != nil {
			return fail(err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rebaseDiffCmd)
	rootCmd.AddCommand(rebaseDBCmd)
}
