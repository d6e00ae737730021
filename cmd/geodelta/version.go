package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crittermap/geodelta"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the geodelta version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(geodelta.Version)
	},
}

var driversCmd = &cobra.Command{
	Use:   "drivers",
	Short: "List the available backend drivers",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range geodelta.Drivers() {
			fmt.Println(name)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(driversCmd)
}
