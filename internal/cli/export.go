package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stock-outage-alerts/internal/app"
)

var (
	exportFrom string
	exportTo   string
	exportOpts app.ExportOptions
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the daily outage series as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := exportOpts

		if exportFrom != "" {
			from, err := time.Parse(time.DateOnly, exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := time.Parse(time.DateOnly, exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOpts.Keyword, "keyword", "", "Restrict to one keyword")
	exportCmd.Flags().StringVar(&exportOpts.Pincode, "pincode", "", "Restrict to one pincode")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First day (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End day (YYYY-MM-DD, exclusive)")
	exportCmd.Flags().StringVar(&exportOpts.PNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportOpts.CSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportOpts.MaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
	exportCmd.Flags().IntVar(&exportOpts.Forecast, "forecast", 0, "Overlay a forecast this many days ahead on the chart")
}
