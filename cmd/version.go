package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the attackmap version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "attackmap %s\n", logger.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
