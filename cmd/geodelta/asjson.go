package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crittermap/geodelta"
)

var asJSONCmd = &cobra.Command{
	Use:   "as-json CHANGESET [OUT]",
	Short: "Render a changeset as JSON",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := ""
		if len(args) == 2 {
			out = args[1]
		}
		data, err := geodelta.ListChanges(gctx, args[0], out)
		if err != nil {
			return fail(err)
		}
		if out == "" {
			fmt.Println(string(data))
		}
		return nil
	},
}

var asSummaryCmd = &cobra.Command{
	Use:   "as-summary CHANGESET [OUT]",
	Short: "Render per-table change counts as JSON",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := ""
		if len(args) == 2 {
			out = args[1]
		}
		data, err := geodelta.ListChangesSummary(gctx, args[0], out)
		if err != nil {
			return fail(err)
		}
		if out == "" {
			fmt.Println(string(data))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(asJSONCmd)
	rootCmd.AddCommand(asSummaryCmd)
}
