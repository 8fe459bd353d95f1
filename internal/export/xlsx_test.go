package export

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/bureau-cli/internal/model"
	"github.com/sells-group/bureau-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "export.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedReport(t *testing.T, st store.Store) string {
	t.Helper()
	ctx := context.Background()
	r, err := st.CreateReport(ctx, "/uploads/experian.pdf")
	require.NoError(t, err)

	dob := time.Date(1980, time.March, 15, 0, 0, 0, 0, time.UTC)
	pulled := time.Date(2023, time.January, 15, 0, 0, 0, 0, time.UTC)
	balance := 1250.0
	entities := &model.EntitySet{
		PersonalInfo: &model.PersonalInfo{FullName: "John A Smith", SSNLast4: "1234", DateOfBirth: &dob, Confidence: 0.75},
		Accounts: []model.CreditAccount{
			{CreditorName: "ABC BANK", AccountNumber: "XXXX1234", Balance: &balance, Status: model.AccountStatusLate, IsNegative: true, Confidence: 1},
			{CreditorName: "XYZ CARD", Status: model.AccountStatusCurrent, Confidence: 0.6},
		},
		Inquiries: []model.CreditInquiry{
			{InquirerName: "CAPITAL ONE", InquiryDate: &pulled, InquiryType: model.InquiryHard, Confidence: 0.8},
		},
		NegativeItems: []model.NegativeItem{
			{Category: model.NegativeCollection, Description: "placed for collection", Severity: 6, DisputeEligible: true},
		},
	}
	meta := &model.ConsolidationMetadata{
		PrimarySource:       model.MethodDocsumo,
		Strategy:            model.StrategyHighestConfidence,
		ConfidenceLevel:     0.9,
		FieldSources:        map[string]string{"text": model.MethodDocsumo, "accounts": model.MethodDocsumo},
		Conflicts:           []model.Conflict{{Field: "Text Length", Details: "60% spread"}},
		ConflictCount:       1,
		RequiresHumanReview: true,
	}
	require.NoError(t, st.ReplaceCanonical(ctx, r.ID, entities, meta))
	return r.ID
}

func rows(t *testing.T, f *xlsx.File, name string) [][]string {
	t.Helper()
	sheet, ok := f.Sheet[name]
	require.True(t, ok, "missing sheet %s", name)
	out := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for i, c := range row.Cells {
			cells[i] = c.String()
		}
		out = append(out, cells)
	}
	return out
}

func TestWorkbook(t *testing.T) {
	st := newTestStore(t)
	id := seedReport(t, st)

	f, err := New(st).Workbook(context.Background(), id)
	require.NoError(t, err)

	names := make([]string, 0, len(f.Sheets))
	for _, s := range f.Sheets {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{SheetPersonal, SheetAccounts, SheetInquiries, SheetNegative, SheetConsolidation}, names)

	personal := rows(t, f, SheetPersonal)
	assert.Equal(t, []string{"Field", "Value"}, personal[0])
	assert.Contains(t, personal, []string{"Full Name", "John A Smith"})
	assert.Contains(t, personal, []string{"Date of Birth", "1980-03-15"})

	accounts := rows(t, f, SheetAccounts)
	require.Len(t, accounts, 3)
	assert.Equal(t, "ABC BANK", accounts[1][0])
	assert.Equal(t, "late", accounts[1][3])
	assert.Equal(t, "true", accounts[1][4])
	assert.Equal(t, "", accounts[2][2])

	inquiries := rows(t, f, SheetInquiries)
	require.Len(t, inquiries, 2)
	assert.Equal(t, []string{"CAPITAL ONE", "2023-01-15", "hard"}, inquiries[1][:3])

	negative := rows(t, f, SheetNegative)
	require.Len(t, negative, 2)
	assert.Equal(t, "collection", negative[1][0])

	cons := rows(t, f, SheetConsolidation)
	assert.Contains(t, cons, []string{"Primary Source", model.MethodDocsumo})
	assert.Contains(t, cons, []string{"Requires Human Review", "true"})
	assert.Contains(t, cons, []string{"Conflict: Text Length", "60% spread"})
	assert.Contains(t, cons, []string{"Source: accounts", model.MethodDocsumo})
}

func TestWorkbook_EmptyReport(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r, err := st.CreateReport(ctx, "/uploads/blank.pdf")
	require.NoError(t, err)

	f, err := New(st).Workbook(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, f.Sheets, 5)
	assert.Len(t, rows(t, f, SheetAccounts), 1)
	assert.Contains(t, rows(t, f, SheetConsolidation), []string{"Primary Source", ""})
}

func TestWorkbook_NotFound(t *testing.T) {
	_, err := New(newTestStore(t)).Workbook(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReportNotFound))
}

func TestSaveAndReopen(t *testing.T) {
	st := newTestStore(t)
	id := seedReport(t, st)
	path := filepath.Join(t.TempDir(), "report.xlsx")

	require.NoError(t, New(st).Save(context.Background(), id, path))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	assert.Equal(t, "XYZ CARD", rows(t, f, SheetAccounts)[2][0])
}

func TestWrite(t *testing.T) {
	st := newTestStore(t)
	id := seedReport(t, st)

	var buf bytes.Buffer
	require.NoError(t, New(st).Write(context.Background(), id, &buf))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, f.Sheets, 5)
}
