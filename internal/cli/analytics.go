package cli

import (
	"github.com/spf13/cobra"

	"stock-outage-alerts/internal/app"
)

var (
	forecastOpts app.ReportOptions
	productOpts  app.ReportOptions
	reportOpts   app.ReportOptions
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Forecast the daily outage rate",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Forecast(cmd.Context(), forecastOpts)
	},
}

var forecastProductsCmd = &cobra.Command{
	Use:   "forecast-products",
	Short: "List products likely to go out of stock",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ForecastProducts(cmd.Context(), productOpts)
	},
}

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "Cluster pincodes by outage behaviour",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Clusters(cmd.Context())
	},
}

var correlationCmd = &cobra.Command{
	Use:   "correlation",
	Short: "Correlate pincode and time of check with availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Correlation(cmd.Context())
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show availability trend, risk level and data quality",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Metrics(cmd.Context())
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print every analytics section as one document",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Report(cmd.Context(), reportOpts)
	},
}

func init() {
	forecastCmd.Flags().StringVar(&forecastOpts.Keyword, "keyword", "", "Restrict to one keyword")
	forecastCmd.Flags().StringVar(&forecastOpts.Pincode, "pincode", "", "Restrict to one pincode")
	forecastCmd.Flags().IntVar(&forecastOpts.Days, "days", 7, "Days to forecast")

	forecastProductsCmd.Flags().StringVar(&productOpts.Pincode, "pincode", "", "Restrict to one pincode")
	forecastProductsCmd.Flags().IntVar(&productOpts.Days, "days", 7, "Days to forecast")
	forecastProductsCmd.Flags().Float64Var(&productOpts.Threshold, "threshold", 0, "Probability cut-off (defaults to analytics.product_threshold)")

	reportCmd.Flags().StringVar(&reportOpts.Pincode, "pincode", "", "Restrict product forecasts to one pincode")
	reportCmd.Flags().IntVar(&reportOpts.Days, "days", 7, "Days to forecast")
	reportCmd.Flags().Float64Var(&reportOpts.Threshold, "threshold", 0, "Probability cut-off (defaults to analytics.product_threshold)")
}
