package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bureau-cli/internal/consolidate"
	"github.com/sells-group/bureau-cli/internal/model"
	"github.com/sells-group/bureau-cli/internal/monitoring"
	"github.com/sells-group/bureau-cli/internal/pipeline"
	"github.com/sells-group/bureau-cli/internal/resilience"
	"github.com/sells-group/bureau-cli/internal/store"
)

type mockPipeline struct {
	mock.Mock
}

func (m *mockPipeline) RunPipeline(ctx context.Context, id string) (*pipeline.RunResult, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(*pipeline.RunResult)
	return res, args.Error(1)
}

func (m *mockPipeline) Reconsolidate(ctx context.Context, id string, s model.Strategy) (*pipeline.ReconsolidateResult, error) {
	args := m.Called(ctx, id, s)
	res, _ := args.Get(0).(*pipeline.ReconsolidateResult)
	return res, args.Error(1)
}

func newTestServer(t *testing.T) (*Server, store.Store, *mockPipeline) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	p := &mockPipeline{}
	return New(st, p, WithBreakers(resilience.NewRegistry(resilience.DefaultBreakerConfig()))), st, p
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.breakers.For(model.MethodMistral)

	rec := do(t, srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status   string            `json:"status"`
		Breakers map[string]string `json:"breakers"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "closed", body.Breakers[model.MethodMistral])
}

func TestCreateAndGetReport(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/reports", `{"document_path":"/uploads/equifax.pdf"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created model.Report
	decode(t, rec, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, model.ReportStatusPending, created.Status)

	rec = do(t, h, http.MethodGet, "/reports/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Report
	decode(t, rec, &got)
	assert.Equal(t, "/uploads/equifax.pdf", got.DocumentPath)

	rec = do(t, h, http.MethodGet, "/reports?status=pending&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.Report
	decode(t, rec, &list)
	assert.Len(t, list, 1)
}

func TestCreateReport_Validation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/reports", `{bad`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/reports", `{"document_path":"  "}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/reports?limit=abc", "").Code)
}

func TestGetReport_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, srv.Handler(), http.MethodGet, "/reports/missing", "").Code)
}

func TestRun(t *testing.T) {
	srv, _, p := newTestServer(t)
	p.On("RunPipeline", mock.Anything, "r1").Return(&pipeline.RunResult{
		ReportID:   "r1",
		Status:     model.ReportStatusCompleted,
		Confidence: 0.92,
		Method:     model.MethodMistral,
	}, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/reports/r1/run", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body pipeline.RunResult
	decode(t, rec, &body)
	assert.Equal(t, model.ReportStatusCompleted, body.Status)
	assert.InDelta(t, 0.92, body.Confidence, 0.001)
	p.AssertExpectations(t)
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name   string
		res    *pipeline.RunResult
		err    error
		status int
	}{
		{"not found", nil, eris.Wrap(pipeline.ErrReportNotFound, "pipeline: x"), http.StatusNotFound},
		{"insufficient text", &pipeline.RunResult{Status: model.ReportStatusFailed}, eris.Wrap(pipeline.ErrInsufficientText, "pipeline: 40 chars"), http.StatusUnprocessableEntity},
		{"no document", &pipeline.RunResult{Status: model.ReportStatusFailed}, pipeline.ErrNoDocument, http.StatusUnprocessableEntity},
		{"internal", &pipeline.RunResult{Status: model.ReportStatusFailed}, eris.New("pipeline: persist canonical result"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, p := newTestServer(t)
			p.On("RunPipeline", mock.Anything, "r1").Return(tt.res, tt.err)

			rec := do(t, srv.Handler(), http.MethodPost, "/reports/r1/run", "")
			assert.Equal(t, tt.status, rec.Code)

			var body map[string]any
			decode(t, rec, &body)
			assert.NotEmpty(t, body["error"])
			if tt.res != nil {
				assert.Equal(t, "failed", body["status"])
			}
		})
	}
}

func TestReconsolidate(t *testing.T) {
	srv, _, p := newTestServer(t)
	p.On("Reconsolidate", mock.Anything, "r1", model.StrategyMajorityVote).Return(&pipeline.ReconsolidateResult{
		ConsolidatedText: "ABC BANK",
		Confidence:       0.8,
		PrimaryMethod:    model.MethodDocsumo,
		Strategy:         model.StrategyMajorityVote,
	}, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/reports/r1/reconsolidate", `{"strategy":"Majority_Vote"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, "ABC BANK", body["consolidated_text"])
	assert.Equal(t, model.MethodDocsumo, body["primary_method"])
	assert.InDelta(t, 0.8, body["confidence"], 0.001)
}

func TestReconsolidate_DefaultStrategy(t *testing.T) {
	srv, _, p := newTestServer(t)
	p.On("Reconsolidate", mock.Anything, "r1", model.Strategy("")).Return(&pipeline.ReconsolidateResult{}, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/reports/r1/reconsolidate", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	p.AssertExpectations(t)
}

func TestReconsolidate_Errors(t *testing.T) {
	srv, _, p := newTestServer(t)
	p.On("Reconsolidate", mock.Anything, "empty", model.StrategyHighestConfidence).Return(nil, consolidate.ErrNoData)

	h := srv.Handler()
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/reports/r1/reconsolidate", `{"strategy":"coin_flip"}`).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/reports/empty/reconsolidate", `{"strategy":"highest_confidence"}`).Code)
}

func TestAudit(t *testing.T) {
	srv, st, _ := newTestServer(t)
	r, err := st.CreateReport(context.Background(), "/nonexistent/scan.pdf")
	require.NoError(t, err)

	rec := do(t, srv.Handler(), http.MethodGet, "/reports/"+r.ID+"/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		FailedPhase string              `json:"failed_phase"`
		Phases      []model.PhaseResult `json:"phases"`
	}
	decode(t, rec, &body)
	assert.Equal(t, model.PhaseDocument, body.FailedPhase)
	require.Len(t, body.Phases, 1)
	assert.False(t, body.Phases[0].Success)
}

func TestEntities(t *testing.T) {
	srv, st, _ := newTestServer(t)
	ctx := context.Background()
	r, err := st.CreateReport(ctx, "/uploads/tu.pdf")
	require.NoError(t, err)
	require.NoError(t, st.ReplaceEntities(ctx, r.ID, &model.EntitySet{
		Accounts: []model.CreditAccount{{CreditorName: "ABC BANK", Status: model.AccountStatusLate, IsNegative: true}},
	}))

	h := srv.Handler()
	rec := do(t, h, http.MethodGet, "/reports/"+r.ID+"/entities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var set model.EntitySet
	decode(t, rec, &set)
	require.Len(t, set.Accounts, 1)
	assert.Equal(t, "ABC BANK", set.Accounts[0].CreditorName)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/reports/missing/entities", "").Code)
}

func TestExport(t *testing.T) {
	srv, st, _ := newTestServer(t)
	r, err := st.CreateReport(context.Background(), "/uploads/tu.pdf")
	require.NoError(t, err)

	h := srv.Handler()
	rec := do(t, h, http.MethodGet, "/reports/"+r.ID+"/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/reports/missing/export", "").Code)
}

func TestCORS(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	h := New(st, &mockPipeline{}, WithAllowedOrigins([]string{"https://ops.example.com"})).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/reports", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetrics(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	ctx := context.Background()
	r, err := st.CreateReport(ctx, "/uploads/eq.pdf")
	require.NoError(t, err)
	require.NoError(t, st.UpdateReportStatus(ctx, r.ID, model.ReportStatusFailed, "pipeline: insufficient text"))

	h := New(st, &mockPipeline{}, WithMetrics(monitoring.NewCollector(st, nil, 0), 24)).Handler()

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap monitoring.MetricsSnapshot
	decode(t, rec, &snap)
	assert.Equal(t, 1, snap.ReportsFailed)
	assert.InDelta(t, 1.0, snap.FailureRate, 0.001)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/metrics?hours=-1", "").Code)
}

func TestMetrics_NotRoutedWithoutCollector(t *testing.T) {
	srv, _, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, srv.Handler(), http.MethodGet, "/metrics", "").Code)
}
