package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/bureau-cli/internal/audit"
)

var auditReportID string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Explain where a report stopped in the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if auditReportID == "" {
			return eris.New("--report is required")
		}
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := audit.New(st).Audit(ctx, auditReportID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditReportID, "report", "", "report ID")
	rootCmd.AddCommand(auditCmd)
}
