package cli

import (
	"github.com/spf13/cobra"
)

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Fetch the current parallel rate and print its trend analysis",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Trend(cmd.Context())
	},
}
