package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bureau-cli/internal/model"
	"github.com/sells-group/bureau-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newReport(t *testing.T, st store.Store) *model.Report {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))
	r, err := st.CreateReport(context.Background(), path)
	require.NoError(t, err)
	return r
}

func addAttempt(t *testing.T, st store.Store, reportID string) {
	t.Helper()
	require.NoError(t, st.InsertExtractionResult(context.Background(), &model.ExtractionResult{
		ReportID:          reportID,
		ExtractionMethod:  model.MethodDocsumo,
		ExtractedText:     "ABC BANK balance $1,250 45 days late",
		CharacterCount:    1200,
		ConfidenceScore:   0.9,
		HasStructuredData: true,
	}))
}

func entities() *model.EntitySet {
	return &model.EntitySet{
		Accounts: []model.CreditAccount{{CreditorName: "ABC BANK", Status: model.AccountStatusLate, IsNegative: true}},
	}
}

func metadata() *model.ConsolidationMetadata {
	return &model.ConsolidationMetadata{
		PrimarySource:   model.MethodDocsumo,
		Strategy:        model.StrategySingleSource,
		ConfidenceLevel: 0.9,
		FieldSources:    map[string]string{"text": model.MethodDocsumo},
	}
}

func phases(res *Result) []string {
	out := make([]string, 0, len(res.Phases))
	for _, p := range res.Phases {
		out = append(out, p.Phase)
	}
	return out
}

func TestAudit_ReportNotFound(t *testing.T) {
	res, err := New(newTestStore(t)).Audit(context.Background(), "missing")
	require.NoError(t, err)
	require.Len(t, res.Phases, 1)
	assert.Equal(t, model.PhaseDocument, res.FailedPhase)
	assert.Equal(t, "report not found", res.Phases[0].Details)
	assert.False(t, res.OK())
}

func TestAudit_MissingDocument(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r, err := st.CreateReport(ctx, "/nonexistent/scan.pdf")
	require.NoError(t, err)

	res, err := New(st).Audit(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseDocument, res.FailedPhase)
	assert.Contains(t, res.Phases[0].Details, "re-upload")
}

func TestAudit_MissingDocumentWithCanonicalText(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r, err := st.CreateReport(ctx, "/nonexistent/scan.pdf")
	require.NoError(t, err)
	require.NoError(t, st.SetCanonicalText(ctx, r.ID, "ABC BANK"))

	res, err := New(st).Audit(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, res.Phases[0].Success)
	assert.Equal(t, model.PhaseExtraction, res.FailedPhase)
}

func TestAudit_NoExtraction(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r := newReport(t, st)
	require.NoError(t, st.UpdateReportStatus(ctx, r.ID, model.ReportStatusFailed, "pipeline: insufficient text"))

	res, err := New(st).Audit(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{model.PhaseDocument, model.PhaseExtraction}, phases(res))
	assert.Equal(t, model.PhaseExtraction, res.FailedPhase)
	assert.Contains(t, res.Phases[1].Details, "insufficient text")
	assert.Equal(t, 0, res.Phases[1].Counts["extraction_results"])
	assert.Equal(t, model.ReportStatusFailed, res.Status)
}

func TestAudit_NoCanonicalEntities(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r := newReport(t, st)
	addAttempt(t, st, r.ID)

	res, err := New(st).Audit(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseEntities, res.FailedPhase)
	assert.Len(t, res.Phases, 3)
	assert.Equal(t, 1, res.Phases[1].Counts["with_structured_data"])
	assert.Contains(t, res.Phases[2].Details, "no canonical entities")
}

func TestAudit_PartialMetadataWithoutEntities(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r := newReport(t, st)
	addAttempt(t, st, r.ID)
	require.NoError(t, st.ReplaceCanonical(ctx, r.ID, &model.EntitySet{}, metadata()))

	res, err := New(st).Audit(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseEntities, res.FailedPhase)
	assert.Contains(t, res.Phases[2].Details, "partially consolidated")
}

func TestAudit_PartialEntitiesWithoutMetadata(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r := newReport(t, st)
	addAttempt(t, st, r.ID)
	require.NoError(t, st.ReplaceEntities(ctx, r.ID, entities()))

	res, err := New(st).Audit(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseConsolidation, res.FailedPhase)
	assert.Equal(t, 1, res.Phases[2].Counts["credit_accounts"])
	assert.Contains(t, res.Phases[3].Details, "partially consolidated")
}

func TestAudit_ConsolidationNotCompleted(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r := newReport(t, st)
	addAttempt(t, st, r.ID)
	require.NoError(t, st.ReplaceCanonical(ctx, r.ID, entities(), metadata()))
	require.NoError(t, st.UpdateConsolidationStatus(ctx, r.ID, model.ReportStatusFailed))

	res, err := New(st).Audit(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseConsolidation, res.FailedPhase)
	assert.Contains(t, res.Phases[3].Details, "status is failed")
}

func TestAudit_FailedRerunReportsCause(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r := newReport(t, st)
	addAttempt(t, st, r.ID)
	require.NoError(t, st.ReplaceCanonical(ctx, r.ID, entities(), metadata()))
	require.NoError(t, st.UpdateConsolidationStatus(ctx, r.ID, model.ReportStatusPending))
	require.NoError(t, st.UpdateReportStatus(ctx, r.ID, model.ReportStatusFailed,
		"pipeline: mistral produced 12 chars (minimum 100): insufficient text"))

	res, err := New(st).Audit(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseConsolidation, res.FailedPhase)
	assert.Contains(t, res.Phases[3].Details, "status is pending")
	assert.Contains(t, res.Phases[3].Details, "last run failed: pipeline: mistral produced 12 chars")
}

func TestAudit_AllPhasesPass(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	r := newReport(t, st)
	addAttempt(t, st, r.ID)
	meta := metadata()
	meta.RequiresHumanReview = true
	require.NoError(t, st.ReplaceCanonical(ctx, r.ID, entities(), meta))
	require.NoError(t, st.UpdateConsolidationStatus(ctx, r.ID, model.ReportStatusCompleted))
	require.NoError(t, st.UpdateReportStatus(ctx, r.ID, model.ReportStatusCompleted, ""))

	before, err := st.GetReport(ctx, r.ID)
	require.NoError(t, err)

	res, err := New(st).Audit(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, []string{model.PhaseDocument, model.PhaseExtraction, model.PhaseEntities, model.PhaseConsolidation}, phases(res))
	for _, p := range res.Phases {
		assert.True(t, p.Success, p.Phase)
	}
	assert.Contains(t, res.Phases[3].Details, "requires human review")

	after, err := st.GetReport(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

type brokenStore struct {
	store.Store
}

func (brokenStore) ListExtractionResults(context.Context, string) ([]model.ExtractionResult, error) {
	return nil, errors.New("connection reset")
}

func TestAudit_StoreError(t *testing.T) {
	st := newTestStore(t)
	r := newReport(t, st)

	_, err := New(brokenStore{st}).Audit(context.Background(), r.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
