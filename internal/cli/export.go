package cli

import (
	"github.com/spf13/cobra"

	"indexheat/internal/app"
)

var (
	exportCode string
	exportCSV  string
	exportPNG  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export one index's fetched history as CSV and/or PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Code:    exportCode,
			CSVPath: exportCSV,
			PNGPath: exportPNG,
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCode, "code", "", "Index code to export")
	exportCmd.Flags().StringVar(&exportCSV, "csv", "", "Write history to this CSV path")
	exportCmd.Flags().StringVar(&exportPNG, "png", "", "Render close-price chart to this PNG path")
}
