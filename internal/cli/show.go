package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"solar-alerts/internal/app"
)

var (
	alertsLimit int
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Display recently dispatched alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.AlertsOptions{
			Limit: alertsLimit,
		}

		return getApp().ShowAlerts(cmd.Context(), opts)
	},
}

var faultsCmd = &cobra.Command{
	Use:   "faults",
	Short: "Display cached fault code explanations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowFaults(cmd.Context())
	},
}

func init() {
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 20, "Number of alerts to display")
}
