package cli

import (
	"github.com/spf13/cobra"

	"stock-outage-alerts/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次缺货并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlert(cmd.Context(), simulateOpts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateOpts.Keyword, "keyword", "simulated", "搜索关键词")
	simulateCmd.Flags().StringVar(&simulateOpts.Pincode, "pincode", "000000", "邮编")
	simulateCmd.Flags().StringSliceVar(&simulateOpts.Products, "product", []string{"Test Product"}, "缺货商品，可重复")
	simulateCmd.Flags().IntVar(&simulateOpts.Days, "days", 3, "连续缺货天数")
}
