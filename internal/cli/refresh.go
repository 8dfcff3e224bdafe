package cli

import (
	"github.com/spf13/cobra"

	"indexheat/internal/app"
)

var (
	refreshForceAll bool
	refreshCodes    []string
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one refresh pass over the index catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.RefreshOptions{
			ForceAll:   refreshForceAll,
			ForceCodes: refreshCodes,
		}
		return getApp().Refresh(cmd.Context(), opts)
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshForceAll, "force", false, "Refresh every index even if already refreshed today")
	refreshCmd.Flags().StringSliceVar(&refreshCodes, "codes", nil, "Refresh only these index codes (bypasses skip policy)")
}
