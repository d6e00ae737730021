package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crittermap/geodelta"
)

var (
	diffJSON    bool
	diffSummary bool
)

var diffCmd = &cobra.Command{
	Use:   "diff DB_BASE DB_MODIFIED [CHANGESET]",
	Short: "Compute the changeset between two databases",
	Long: `Compares two databases holding the same schema and writes the
differences as a binary changeset. Without an output file the diff is
printed as JSON (--json) or as a per-table summary (--summary).`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := ""
		if len(args) == 3 {
			out = args[2]
		}
		printOnly := out == ""
		if printOnly {
			tmp, err := os.CreateTemp("", "geodelta-diff-*.bin")
			if err != nil {
				return fail(err)
			}
			tmp.Close()
			out = tmp.Name()
			defer os.Remove(out)
		}

		if err := geodelta.CreateChangeset(gctx, driverName, driverOptions, args[0], args[1], out); err != nil {
			return fail(err)
		}

		if printOnly || diffJSON || diffSummary {
			var data []byte
			var err error
			if diffJSON {
				data, err = geodelta.ListChanges(gctx, out, "")
			} else {
				data, err = geodelta.ListChangesSummary(gctx, out, "")
			}
			if err != nil {
				return fail(err)
			}
			fmt.Println(string(data))
		}
		return nil
	},
}

func init() {
	diffCmd.Flags().BoolVar(&diffJSON, "json", false, "Print the full diff as JSON")
	diffCmd.Flags().BoolVar(&diffSummary, "summary", false, "Print per-table change counts")
	rootCmd.AddCommand(diffCmd)
}
