package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bureau-cli/internal/model"
	"github.com/sells-group/bureau-cli/internal/store"
)

// ReconsolidateResult is the outcome of Reconsolidate.
type ReconsolidateResult struct {
	ReportID            string         `json:"report_id"`
	ConsolidatedText    string         `json:"consolidated_text"`
	Confidence          float64        `json:"confidence"`
	PrimaryMethod       string         `json:"primary_method"`
	Strategy            model.Strategy `json:"strategy"`
	RequiresHumanReview bool           `json:"requires_human_review"`
	ConflictCount       int            `json:"conflict_count"`
}

// Reconsolidate re-runs consolidation over the stored extraction attempts
// with an operator-chosen strategy. No OCR is performed. It is the only path
// that can clear a human review flag, and only when the strategy differs
// from the stored one.
func (o *Orchestrator) Reconsolidate(ctx context.Context, reportID string, strategy model.Strategy) (*ReconsolidateResult, error) {
	start := time.Now()
	if strategy == "" {
		strategy = o.strategy
	}
	if !strategy.Valid() {
		return nil, eris.Errorf("pipeline: unknown consolidation strategy %q", strategy)
	}

	if _, err := o.store.GetReport(ctx, reportID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(ErrReportNotFound, "pipeline: %s", reportID)
		}
		return nil, eris.Wrap(err, "pipeline: load report")
	}

	out, err := o.consolidate(ctx, reportID, strategy, true, nil)
	if err != nil {
		wctx := context.WithoutCancel(ctx)
		if serr := o.store.UpdateConsolidationStatus(wctx, reportID, model.ReportStatusFailed); serr != nil {
			zap.L().Warn("pipeline: failed to record consolidation failure",
				zap.String("report_id", reportID), zap.Error(serr))
		}
		zap.L().Error("pipeline: reconsolidation failed",
			zap.String("report_id", reportID),
			zap.String("strategy", string(strategy)),
			zap.Error(err),
		)
		return nil, err
	}

	meta := out.Metadata
	zap.L().Info("pipeline: reconsolidated",
		zap.String("report_id", reportID),
		zap.String("strategy", string(meta.Strategy)),
		zap.String("primary_source", meta.PrimarySource),
		zap.Float64("confidence", meta.ConfidenceLevel),
		zap.Int("conflicts", meta.ConflictCount),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return &ReconsolidateResult{
		ReportID:            reportID,
		ConsolidatedText:    out.Text,
		Confidence:          meta.ConfidenceLevel,
		PrimaryMethod:       meta.PrimarySource,
		Strategy:            meta.Strategy,
		RequiresHumanReview: meta.RequiresHumanReview,
		ConflictCount:       meta.ConflictCount,
	}, nil
}
