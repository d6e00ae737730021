package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crittermap/geodelta"
)

var schemaCmd = &cobra.Command{
	Use:   "schema DB [OUT]",
	Short: "Print the database schema as JSON",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		schemas, err := geodelta.Schema(gctx, driverName, driverOptions, args[0])
		if err != nil {
			return fail(err)
		}
		data, err := json.MarshalIndent(map[string]any{"tables": schemas}, "", "  ")
		if err != nil {
			return fail(err)
		}
		if len(args) == 2 {
			if err := os.WriteFile(args[1], data, 0o644); err != nil {
				return fail(err)
			}
			return nil
		}
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
