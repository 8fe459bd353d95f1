package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/bureau-cli/internal/model"
	"github.com/sells-group/bureau-cli/internal/store"
)

var (
	batchStatus      string
	batchLimit       int
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run the pipeline for reports in a given status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		status := model.ReportStatus(batchStatus)
		switch status {
		case model.ReportStatusPending, model.ReportStatusFailed, model.ReportStatusCompleted, model.ReportStatusProcessing:
		default:
			return eris.Errorf("unknown status %q", batchStatus)
		}

		reports, err := env.Store.ListReports(ctx, store.ReportFilter{Status: status, Limit: batchLimit})
		if err != nil {
			return eris.Wrap(err, "list reports")
		}
		if len(reports) == 0 {
			zap.L().Info("no reports to process", zap.String("status", batchStatus))
			return nil
		}

		ids := make([]string, 0, len(reports))
		for _, r := range reports {
			ids = append(ids, r.ID)
		}

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrentReports
		}

		out, err := env.Pipeline.RunBatch(ctx, ids, concurrency)
		if out != nil {
			for id, rerr := range out.Errors {
				zap.L().Warn("report failed", zap.String("report_id", id), zap.Error(rerr))
			}
			if perr := printJSON(cmd.OutOrStdout(), out); perr != nil {
				return perr
			}
		}
		return err
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchStatus, "status", string(model.ReportStatusPending), "report status to select")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "max reports to process")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "reports in flight (default from config)")
	rootCmd.AddCommand(batchCmd)
}
