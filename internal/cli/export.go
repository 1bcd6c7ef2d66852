package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"deal-radar/internal/app"
	"deal-radar/internal/platform"
)

var (
	exportPlatform string
	exportItem     string
	exportFrom     string
	exportTo       string
	exportPNGPath  string
	exportCSVPath  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export one item's price history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := platform.Parse(exportPlatform)
		if err != nil {
			return err
		}

		opts := app.ExportOptions{
			Platform:   code,
			ExternalID: exportItem,
			PNGPath:    exportPNGPath,
			CSVPath:    exportCSVPath,
		}

		if exportFrom != "" {
			from, err := time.Parse(time.RFC3339, exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := time.Parse(time.RFC3339, exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPlatform, "platform", "", "Platform code (WB, OZON, DM)")
	exportCmd.Flags().StringVar(&exportItem, "item", "", "External id of the item")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.MarkFlagRequired("platform")
	exportCmd.MarkFlagRequired("item")
}
