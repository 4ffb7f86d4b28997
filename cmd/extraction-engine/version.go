package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of extraction-engine",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("extraction-engine %s", version)
		if info, ok := debug.ReadBuildInfo(); ok {
			fmt.Printf(" (%s)", info.GoVersion)
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
