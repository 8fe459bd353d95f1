package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runReportID string
	runDocument string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the extraction pipeline for a single report",
	Long:  "Runs OCR, entity extraction and consolidation for one report. Pass --report for an existing report or --document to register a new one first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if (runReportID == "") == (runDocument == "") {
			return eris.New("exactly one of --report or --document is required")
		}

		env, err := initPipeline(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		id := runReportID
		if runDocument != "" {
			report, err := env.Store.CreateReport(ctx, runDocument)
			if err != nil {
				return eris.Wrap(err, "create report")
			}
			id = report.ID
			zap.L().Info("registered report", zap.String("report_id", id), zap.String("document", runDocument))
		}

		res, err := env.Pipeline.RunPipeline(ctx, id)
		if res != nil {
			if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
				return perr
			}
		}
		return err
	},
}

func init() {
	runCmd.Flags().StringVar(&runReportID, "report", "", "report ID to process")
	runCmd.Flags().StringVar(&runDocument, "document", "", "path of a new document to register and process")
	rootCmd.AddCommand(runCmd)
}
