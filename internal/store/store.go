// Package store persists reports, extraction attempts, consolidation
// metadata and canonical entities. Postgres (pgx) and SQLite (modernc)
// backends implement the same Store interface.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/bureau-cli/internal/model"
)

// ErrNotFound is wrapped by lookups and updates that match no row.
var ErrNotFound = eris.New("store: not found")

// ReportFilter specifies criteria for listing reports.
type ReportFilter struct {
	Status model.ReportStatus `json:"status,omitempty"`
	Limit  int                `json:"limit,omitempty"`
	Offset int                `json:"offset,omitempty"`
}

// Store defines the persistence interface for the extraction pipeline.
type Store interface {
	// Reports
	CreateReport(ctx context.Context, documentPath string) (*model.Report, error)
	GetReport(ctx context.Context, id string) (*model.Report, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]model.Report, error)
	UpdateReportStatus(ctx context.Context, id string, status model.ReportStatus, errMsg string) error
	UpdateConsolidationStatus(ctx context.Context, id string, status model.ReportStatus) error
	SetCanonicalText(ctx context.Context, id, text string) error
	DeleteReport(ctx context.Context, id string) error

	// Extraction attempts (append-only)
	InsertExtractionResult(ctx context.Context, r *model.ExtractionResult) error
	ListExtractionResults(ctx context.Context, reportID string) ([]model.ExtractionResult, error)

	// Consolidation and canonical entities
	GetConsolidation(ctx context.Context, reportID string) (*model.ConsolidationMetadata, error)
	ReplaceCanonical(ctx context.Context, reportID string, entities *model.EntitySet, meta *model.ConsolidationMetadata) error
	ReplaceEntities(ctx context.Context, reportID string, entities *model.EntitySet) error
	GetEntities(ctx context.Context, reportID string) (*model.EntitySet, error)
	CountEntities(ctx context.Context, reportID string) (model.EntityCounts, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func notFound(entity, id string) error {
	return eris.Wrapf(ErrNotFound, "%s not found: %s", entity, id)
}

// assignIDs stamps reportID on every entity and gives rows without an ID a
// fresh UUID. A nil set is treated as empty.
func assignIDs(reportID string, e *model.EntitySet) *model.EntitySet {
	if e == nil {
		return &model.EntitySet{}
	}
	e.SetReportID(reportID)
	for i := range e.Accounts {
		if e.Accounts[i].ID == "" {
			e.Accounts[i].ID = uuid.New().String()
		}
	}
	for i := range e.Inquiries {
		if e.Inquiries[i].ID == "" {
			e.Inquiries[i].ID = uuid.New().String()
		}
	}
	for i := range e.NegativeItems {
		if e.NegativeItems[i].ID == "" {
			e.NegativeItems[i].ID = uuid.New().String()
		}
	}
	return e
}

// entityTables lists the canonical tables in delete order.
var entityTables = []string{"personal_info", "credit_accounts", "credit_inquiries", "negative_items"}

var (
	accountColumns  = []string{"id", "report_id", "creditor_name", "account_number", "balance", "status", "is_negative", "confidence"}
	inquiryColumns  = []string{"id", "report_id", "inquirer_name", "inquiry_date", "inquiry_type", "confidence"}
	negativeColumns = []string{"id", "report_id", "category", "description", "severity", "dispute_eligible"}
)

func accountRows(accts []model.CreditAccount) [][]any {
	rows := make([][]any, len(accts))
	for i, a := range accts {
		rows[i] = []any{a.ID, a.ReportID, a.CreditorName, a.AccountNumber, a.Balance, string(a.Status), a.IsNegative, a.Confidence}
	}
	return rows
}

func inquiryRows(inqs []model.CreditInquiry) [][]any {
	rows := make([][]any, len(inqs))
	for i, q := range inqs {
		rows[i] = []any{q.ID, q.ReportID, q.InquirerName, q.InquiryDate, string(q.InquiryType), q.Confidence}
	}
	return rows
}

func negativeRows(items []model.NegativeItem) [][]any {
	rows := make([][]any, len(items))
	for i, n := range items {
		rows[i] = []any{n.ID, n.ReportID, string(n.Category), n.Description, n.Severity, n.DisputeEligible}
	}
	return rows
}
