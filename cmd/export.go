package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/bureau-cli/internal/export"
)

var (
	exportReportID string
	exportOut      string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a report's canonical entities to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if exportReportID == "" {
			return eris.New("--report is required")
		}
		out := exportOut
		if out == "" {
			out = exportReportID + ".xlsx"
		}
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := export.New(st).Save(ctx, exportReportID, out); err != nil {
			return err
		}
		zap.L().Info("export written", zap.String("report_id", exportReportID), zap.String("path", out))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportReportID, "report", "", "report ID")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default <report>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
