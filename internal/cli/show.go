package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"criptoguia-rates/internal/app"
)

var (
	showSource string
	showLimit  int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent archived observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Source: showSource,
			Limit:  showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showSource, "source", "p2p_market", "Source to display (p2p_market, official_usd, official_eur)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of observations to display")
}
