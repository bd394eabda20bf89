package cli

import (
	"github.com/spf13/cobra"

	"stock-outage-alerts/internal/app"
)

var (
	serveAddr      string
	serveScheduler bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduled scrape and alert service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the alerts and analytics HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context(), app.ServeOptions{
			Addr:          serveAddr,
			WithScheduler: serveScheduler,
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (defaults to api.addr)")
	serveCmd.Flags().BoolVar(&serveScheduler, "with-scheduler", false, "Also run the scheduled scrape loop")
}
