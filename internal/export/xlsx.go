// Package export writes a report's canonical entities to an XLSX workbook.
package export

import (
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/bureau-cli/internal/model"
	"github.com/sells-group/bureau-cli/internal/store"
)

// Sheet names, in workbook order.
const (
	SheetPersonal      = "Personal"
	SheetAccounts      = "Accounts"
	SheetInquiries     = "Inquiries"
	SheetNegative      = "Negative Items"
	SheetConsolidation = "Consolidation"
)

const dateLayout = "2006-01-02"

// ErrReportNotFound is returned when the report does not exist.
var ErrReportNotFound = eris.New("export: report not found")

// Exporter builds workbooks from the store.
type Exporter struct {
	store store.Store
}

// New creates an Exporter.
func New(st store.Store) *Exporter {
	return &Exporter{store: st}
}

// Workbook builds the workbook for one report. Every sheet is present with
// its header row even when the report has no rows of that kind.
func (e *Exporter) Workbook(ctx context.Context, reportID string) (*xlsx.File, error) {
	report, err := e.store.GetReport(ctx, reportID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(ErrReportNotFound, "export: %s", reportID)
		}
		return nil, eris.Wrap(err, "export: load report")
	}
	entities, err := e.store.GetEntities(ctx, reportID)
	if err != nil {
		return nil, eris.Wrap(err, "export: load entities")
	}
	meta, err := e.store.GetConsolidation(ctx, reportID)
	if err != nil {
		return nil, eris.Wrap(err, "export: load consolidation")
	}

	f := xlsx.NewFile()
	builders := []struct {
		name  string
		build func(*xlsx.Sheet)
	}{
		{SheetPersonal, func(s *xlsx.Sheet) { personalSheet(s, entities.PersonalInfo) }},
		{SheetAccounts, func(s *xlsx.Sheet) { accountsSheet(s, entities.Accounts) }},
		{SheetInquiries, func(s *xlsx.Sheet) { inquiriesSheet(s, entities.Inquiries) }},
		{SheetNegative, func(s *xlsx.Sheet) { negativeSheet(s, entities.NegativeItems) }},
		{SheetConsolidation, func(s *xlsx.Sheet) { consolidationSheet(s, report, meta) }},
	}
	for _, b := range builders {
		sheet, err := f.AddSheet(b.name)
		if err != nil {
			return nil, eris.Wrapf(err, "export: add sheet %s", b.name)
		}
		b.build(sheet)
	}

	counts := entities.Counts()
	zap.L().Debug("export: workbook built",
		zap.String("report_id", reportID),
		zap.Int("accounts", counts.Accounts),
		zap.Int("inquiries", counts.Inquiries),
		zap.Int("negative_items", counts.NegativeItems),
	)
	return f, nil
}

// Write builds the workbook and writes it to w.
func (e *Exporter) Write(ctx context.Context, reportID string, w io.Writer) error {
	f, err := e.Workbook(ctx, reportID)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "export: write workbook")
}

// Save builds the workbook and saves it to path.
func (e *Exporter) Save(ctx context.Context, reportID, path string) error {
	f, err := e.Workbook(ctx, reportID)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

func header(s *xlsx.Sheet, cols ...string) {
	row := s.AddRow()
	for _, c := range cols {
		cell := row.AddCell()
		cell.SetString(c)
		cell.GetStyle().Font.Bold = true
	}
}

func str(row *xlsx.Row, v string) { row.AddCell().SetString(v) }

func date(row *xlsx.Row, t *time.Time) {
	if t == nil {
		str(row, "")
		return
	}
	str(row, t.Format(dateLayout))
}

func num(row *xlsx.Row, v float64) { row.AddCell().SetFloat(v) }

func boolean(row *xlsx.Row, v bool) { str(row, strconv.FormatBool(v)) }

func personalSheet(s *xlsx.Sheet, p *model.PersonalInfo) {
	header(s, "Field", "Value")
	if p == nil {
		return
	}
	fields := []struct{ name, value string }{
		{"Full Name", p.FullName},
		{"SSN Last 4", p.SSNLast4},
		{"Date of Birth", ""},
		{"Address", p.Address},
		{"Confidence", strconv.FormatFloat(p.Confidence, 'f', 2, 64)},
	}
	if p.DateOfBirth != nil {
		fields[2].value = p.DateOfBirth.Format(dateLayout)
	}
	for _, f := range fields {
		row := s.AddRow()
		str(row, f.name)
		str(row, f.value)
	}
}

func accountsSheet(s *xlsx.Sheet, accounts []model.CreditAccount) {
	header(s, "Creditor", "Account Number", "Balance", "Status", "Negative", "Confidence")
	for _, a := range accounts {
		row := s.AddRow()
		str(row, a.CreditorName)
		str(row, a.AccountNumber)
		if a.Balance != nil {
			num(row, *a.Balance)
		} else {
			str(row, "")
		}
		str(row, string(a.Status))
		boolean(row, a.IsNegative)
		num(row, a.Confidence)
	}
}

func inquiriesSheet(s *xlsx.Sheet, inquiries []model.CreditInquiry) {
	header(s, "Inquirer", "Date", "Type", "Confidence")
	for _, q := range inquiries {
		row := s.AddRow()
		str(row, q.InquirerName)
		date(row, q.InquiryDate)
		str(row, string(q.InquiryType))
		num(row, q.Confidence)
	}
}

func negativeSheet(s *xlsx.Sheet, items []model.NegativeItem) {
	header(s, "Category", "Description", "Severity", "Dispute Eligible")
	for _, n := range items {
		row := s.AddRow()
		str(row, string(n.Category))
		str(row, n.Description)
		row.AddCell().SetInt(n.Severity)
		boolean(row, n.DisputeEligible)
	}
}

func consolidationSheet(s *xlsx.Sheet, r *model.Report, meta *model.ConsolidationMetadata) {
	header(s, "Field", "Value")
	add := func(k, v string) {
		row := s.AddRow()
		str(row, k)
		str(row, v)
	}
	add("Report ID", r.ID)
	add("Status", string(r.Status))
	add("Consolidation Status", string(r.ConsolidationStatus))
	if meta == nil {
		add("Primary Source", "")
		return
	}
	add("Primary Source", meta.PrimarySource)
	add("Strategy", string(meta.Strategy))
	add("Confidence", strconv.FormatFloat(meta.ConfidenceLevel, 'f', 2, 64))
	add("Requires Human Review", strconv.FormatBool(meta.RequiresHumanReview))
	add("Conflicts", strconv.Itoa(meta.ConflictCount))
	for _, c := range meta.Conflicts {
		add("Conflict: "+c.Field, c.Details)
	}
	fields := make([]string, 0, len(meta.FieldSources))
	for k := range meta.FieldSources {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	for _, k := range fields {
		add("Source: "+k, meta.FieldSources[k])
	}
	if meta.Notes != "" {
		add("Notes", meta.Notes)
	}
}
