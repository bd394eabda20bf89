package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"stock-outage-alerts/internal/app"
)

var (
	alertOpts   app.ShowOptions
	summaryOpts app.ShowOptions
	sessionOpts app.ShowOptions
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List stock alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertOpts.Limit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().ShowAlerts(cmd.Context(), alertOpts)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Mark an alert resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid alert id %q", args[0])
		}
		return getApp().ResolveAlert(cmd.Context(), id)
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Display recent daily summaries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if summaryOpts.Limit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().ShowSummaries(cmd.Context(), summaryOpts)
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Display recent scrape sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if sessionOpts.Limit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().ShowSessions(cmd.Context(), sessionOpts)
	},
}

func init() {
	alertsCmd.Flags().IntVar(&alertOpts.Limit, "limit", 50, "Number of alerts to display")
	alertsCmd.Flags().StringVar(&alertOpts.Keyword, "keyword", "", "Filter by keyword")
	alertsCmd.Flags().StringVar(&alertOpts.Pincode, "pincode", "", "Filter by pincode")
	alertsCmd.Flags().StringVar(&alertOpts.Type, "type", "", "Filter by type (daily_outage, consecutive_days, frequent_outage)")
	alertsCmd.Flags().StringVar(&alertOpts.Status, "status", "active", "active, resolved or all")
	alertsCmd.Flags().BoolVar(&alertOpts.Significant, "significant", false, "Only alerts worth escalating")
	alertsCmd.AddCommand(resolveCmd)

	summaryCmd.Flags().IntVar(&summaryOpts.Limit, "limit", 14, "Number of days to display")
	sessionsCmd.Flags().IntVar(&sessionOpts.Limit, "limit", 20, "Number of sessions to display")
}
