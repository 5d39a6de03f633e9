package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/yajidms/fbot/fbot"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf(
			"version=%s commit=%s built: %s",
			fbot.Version,
			fbot.CommitSHA,
			fbot.BuildTime,
		)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
