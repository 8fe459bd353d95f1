package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/bureau-cli/internal/monitoring"
)

var (
	statusHours int
	statusAlert bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show report outcome metrics for a lookback window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		hours := statusHours
		if hours <= 0 {
			hours = cfg.Monitoring.LookbackWindowHours
		}
		collector := monitoring.NewCollector(st, nil, time.Duration(cfg.Monitoring.StuckAfterMins)*time.Minute)
		snap, err := collector.Collect(ctx, hours)
		if err != nil {
			return err
		}

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(snap)
		if statusAlert {
			alerter.SendAlerts(ctx, alerts)
		}
		return printJSON(cmd.OutOrStdout(), struct {
			*monitoring.MetricsSnapshot
			Alerts []monitoring.Alert `json:"alerts"`
		}{snap, alerts})
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusHours, "hours", 0, "lookback window in hours (default from config)")
	statusCmd.Flags().BoolVar(&statusAlert, "alert", false, "send threshold alerts to monitoring.webhook_url")
	rootCmd.AddCommand(statusCmd)
}
