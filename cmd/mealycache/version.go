package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/mealycache"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of mealycache",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mealycache version %s\n", strings.TrimSpace(mealycache.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
