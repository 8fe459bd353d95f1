package main

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/bureau-cli/internal/model"
)

var (
	reconReportID string
	reconStrategy string
)

var reconsolidateCmd = &cobra.Command{
	Use:   "reconsolidate",
	Short: "Re-run consolidation for a report with a chosen strategy",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if reconReportID == "" {
			return eris.New("--report is required")
		}
		strategy := model.Strategy(strings.ToLower(reconStrategy))
		if strategy != "" && !strategy.Valid() {
			return eris.Errorf("unknown strategy %q", reconStrategy)
		}

		env, err := initPipeline(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Reconsolidate(ctx, reconReportID, strategy)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	reconsolidateCmd.Flags().StringVar(&reconReportID, "report", "", "report ID")
	reconsolidateCmd.Flags().StringVar(&reconStrategy, "strategy", "", "highest_confidence, majority_vote or manual_review (default from config)")
	rootCmd.AddCommand(reconsolidateCmd)
}
