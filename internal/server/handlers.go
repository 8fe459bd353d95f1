package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/bureau-cli/internal/consolidate"
	"github.com/sells-group/bureau-cli/internal/export"
	"github.com/sells-group/bureau-cli/internal/model"
	"github.com/sells-group/bureau-cli/internal/pipeline"
	"github.com/sells-group/bureau-cli/internal/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrReportNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, export.ErrReportNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrNoDocument),
		errors.Is(err, pipeline.ErrInsufficientText),
		errors.Is(err, pipeline.ErrNoStructuredData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, consolidate.ErrNoData):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.breakers != nil {
		resp["breakers"] = s.breakers.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	lookback := s.lookback
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid hours")
			return
		}
		lookback = n
	}
	if lookback <= 0 {
		lookback = 24
	}

	snap, err := s.metrics.Collect(r.Context(), lookback)
	if err != nil {
		zap.L().Error("server: collect metrics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to collect metrics")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentPath string `json:"document_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.DocumentPath) == "" {
		writeError(w, http.StatusBadRequest, "document_path is required")
		return
	}

	report, err := s.store.CreateReport(r.Context(), req.DocumentPath)
	if err != nil {
		zap.L().Error("server: create report", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create report")
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ReportFilter{Status: model.ReportStatus(q.Get("status"))}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}

	reports, err := s.store.ListReports(r.Context(), filter)
	if err != nil {
		zap.L().Error("server: list reports", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	if reports == nil {
		reports = []model.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.pipeline.RunPipeline(r.Context(), id)
	if err != nil {
		status := statusFor(err)
		body := map[string]any{"report_id": id, "error": err.Error()}
		if res != nil {
			body["status"] = res.Status
		}
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReconsolidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Strategy string `json:"strategy"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	strategy := model.Strategy(strings.ToLower(strings.TrimSpace(req.Strategy)))
	if strategy != "" && !strategy.Valid() {
		writeError(w, http.StatusBadRequest, "unknown strategy "+req.Strategy)
		return
	}

	res, err := s.pipeline.Reconsolidate(r.Context(), chi.URLParam(r, "id"), strategy)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	res, err := s.auditor.Audit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		zap.L().Error("server: audit", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "audit failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetReport(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	entities, err := s.store.GetEntities(r.Context(), id)
	if err != nil {
		zap.L().Error("server: get entities", zap.String("report_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load entities")
		return
	}
	writeJSON(w, http.StatusOK, entities)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	f, err := s.exporter.Workbook(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.xlsx"`)
	if err := f.Write(w); err != nil {
		zap.L().Error("server: write export", zap.String("report_id", id), zap.Error(err))
	}
}
