package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"stock-outage-alerts/internal/app"
)

var ingestOpts app.IngestOptions

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Record a scrape result file as a session and evaluate alerts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestOpts.Keyword == "" || ingestOpts.Pincode == "" {
			return fmt.Errorf("--keyword and --pincode must be provided")
		}
		opts := ingestOpts
		opts.Path = args[0]
		return getApp().Ingest(cmd.Context(), opts)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestOpts.Keyword, "keyword", "", "Search keyword the file was scraped for")
	ingestCmd.Flags().StringVar(&ingestOpts.Pincode, "pincode", "", "Pincode the file was scraped at")
}
