package cli

import (
	"github.com/spf13/cobra"

	"indexheat/internal/app"
)

var (
	showLimit int
	showSort  string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print indices with current valuation metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Show(cmd.Context(), app.ShowOptions{Limit: showLimit, Sort: showSort})
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 50, "Maximum number of indices to print")
	showCmd.Flags().StringVar(&showSort, "sort", "code", "Sort key (code, name, percentile_1m, percentile_3y, percentile_since_inception)")
}
