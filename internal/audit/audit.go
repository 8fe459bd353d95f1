// Package audit explains why a report did or did not reach completed. It
// only reads from the store.
package audit

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bureau-cli/internal/model"
	"github.com/sells-group/bureau-cli/internal/store"
)

// Result is the audit of one report. Phases are in check order and stop at
// the first failing phase.
type Result struct {
	ReportID            string              `json:"report_id"`
	Status              model.ReportStatus  `json:"status,omitempty"`
	ConsolidationStatus model.ReportStatus  `json:"consolidation_status,omitempty"`
	Error               string              `json:"error,omitempty"`
	Phases              []model.PhaseResult `json:"phases"`
	FailedPhase         string              `json:"failed_phase,omitempty"`
}

// OK reports whether every phase passed.
func (r *Result) OK() bool { return r.FailedPhase == "" }

// Auditor runs diagnostic audits.
type Auditor struct {
	store store.Store
}

// New creates an Auditor.
func New(st store.Store) *Auditor {
	return &Auditor{store: st}
}

// Audit checks document availability, extraction attempts, canonical
// entities and consolidation metadata, in that order. A missing report is
// reported as a failed document phase, not an error; errors are store
// failures only.
func (a *Auditor) Audit(ctx context.Context, reportID string) (*Result, error) {
	res := &Result{ReportID: reportID}

	report, err := a.store.GetReport(ctx, reportID)
	if errors.Is(err, store.ErrNotFound) {
		res.add(model.PhaseResult{Phase: model.PhaseDocument, Details: "report not found"})
		return res, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "audit: load report")
	}
	res.Status = report.Status
	res.ConsolidationStatus = report.ConsolidationStatus
	res.Error = report.Error

	if !res.add(checkDocument(report)) {
		return res, nil
	}

	results, err := a.store.ListExtractionResults(ctx, reportID)
	if err != nil {
		return nil, eris.Wrap(err, "audit: list extraction results")
	}
	if !res.add(checkExtraction(report, results)) {
		return res, nil
	}

	counts, err := a.store.CountEntities(ctx, reportID)
	if err != nil {
		return nil, eris.Wrap(err, "audit: count entities")
	}
	meta, err := a.store.GetConsolidation(ctx, reportID)
	if err != nil {
		return nil, eris.Wrap(err, "audit: load consolidation")
	}
	if !res.add(checkEntities(counts, meta)) {
		return res, nil
	}
	res.add(checkConsolidation(report, meta))

	zap.L().Debug("audit: complete",
		zap.String("report_id", reportID),
		zap.Bool("ok", res.OK()),
		zap.String("failed_phase", res.FailedPhase),
	)
	return res, nil
}

// add appends p and records it as the failure point if it failed. It
// returns p.Success.
func (r *Result) add(p model.PhaseResult) bool {
	r.Phases = append(r.Phases, p)
	if !p.Success && r.FailedPhase == "" {
		r.FailedPhase = p.Phase
	}
	return p.Success
}

func checkDocument(r *model.Report) model.PhaseResult {
	p := model.PhaseResult{Phase: model.PhaseDocument}
	if r.DocumentPath == "" {
		p.Details = "no document recorded; re-upload the document"
		return p
	}
	if _, err := os.Stat(r.DocumentPath); err != nil {
		if r.CanonicalText != "" {
			p.Success = true
			p.Details = fmt.Sprintf("document %s missing, canonical text available (%d chars)", r.DocumentPath, len([]rune(r.CanonicalText)))
			return p
		}
		p.Details = fmt.Sprintf("document %s not readable: %v; re-upload the document", r.DocumentPath, err)
		return p
	}
	p.Success = true
	p.Details = "document available at " + r.DocumentPath
	return p
}

func checkExtraction(r *model.Report, results []model.ExtractionResult) model.PhaseResult {
	p := model.PhaseResult{Phase: model.PhaseExtraction}
	structured := 0
	for _, er := range results {
		if er.HasStructuredData {
			structured++
		}
	}
	p.Counts = map[string]int{
		"extraction_results":   len(results),
		"with_structured_data": structured,
	}

	if len(results) == 0 {
		p.Details = "no extraction attempts recorded"
		if r.Error != "" {
			p.Details += "; last error: " + r.Error
		}
		return p
	}

	latest := results[len(results)-1]
	p.Success = true
	p.Details = fmt.Sprintf("%d attempt(s); latest %s with %d chars at confidence %.2f",
		len(results), latest.ExtractionMethod, latest.CharacterCount, latest.ConfidenceScore)
	return p
}

func checkEntities(c model.EntityCounts, meta *model.ConsolidationMetadata) model.PhaseResult {
	p := model.PhaseResult{
		Phase: model.PhaseEntities,
		Counts: map[string]int{
			"personal_info":    c.PersonalInfo,
			"credit_accounts":  c.Accounts,
			"credit_inquiries": c.Inquiries,
			"negative_items":   c.NegativeItems,
		},
	}
	if c.Total() == 0 {
		if meta != nil {
			p.Details = "consolidation metadata present but no canonical entities (partially consolidated)"
		} else {
			p.Details = "no canonical entities; consolidation has not produced any rows"
		}
		return p
	}
	p.Success = true
	p.Details = fmt.Sprintf("%d canonical entities", c.Total())
	return p
}

func checkConsolidation(r *model.Report, meta *model.ConsolidationMetadata) model.PhaseResult {
	p := model.PhaseResult{Phase: model.PhaseConsolidation}
	if meta == nil {
		p.Details = "canonical entities present but no consolidation metadata (partially consolidated)"
		return p
	}
	p.Counts = map[string]int{"conflicts": meta.ConflictCount}
	if r.ConsolidationStatus != model.ReportStatusCompleted {
		p.Details = fmt.Sprintf("consolidation metadata present but consolidation status is %s", r.ConsolidationStatus)
		// A failed re-run leaves earlier canonical rows behind; surface its cause.
		if r.Status == model.ReportStatusFailed && r.Error != "" {
			p.Details += "; last run failed: " + r.Error
		}
		return p
	}
	p.Success = true
	p.Details = fmt.Sprintf("%s via %s at confidence %.2f", meta.PrimarySource, meta.Strategy, meta.ConfidenceLevel)
	if meta.RequiresHumanReview {
		p.Details += "; requires human review"
	}
	return p
}
