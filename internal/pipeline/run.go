package pipeline

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bureau-cli/internal/consolidate"
	"github.com/sells-group/bureau-cli/internal/model"
	"github.com/sells-group/bureau-cli/internal/ocr"
	"github.com/sells-group/bureau-cli/internal/resilience"
	"github.com/sells-group/bureau-cli/internal/store"
)

// RunResult is the outcome of RunPipeline.
type RunResult struct {
	ReportID            string             `json:"report_id"`
	Status              model.ReportStatus `json:"status"`
	Confidence          float64            `json:"confidence"`
	Method              string             `json:"method,omitempty"`
	RequiresHumanReview bool               `json:"requires_human_review"`
	ConflictCount       int                `json:"conflict_count"`
	CostUSD             float64            `json:"cost_usd"`
}

// attempt is one processed OCR output, ready to persist.
type attempt struct {
	result   *model.ExtractionResult
	entities *model.EntitySet
	costUSD  float64
}

// RunPipeline processes one report end to end. The report moves
// pending -> processing -> completed, or to failed with a truncated error
// message. Re-running a finished report starts over; earlier extraction
// attempts stay as history and feed consolidation.
func (o *Orchestrator) RunPipeline(ctx context.Context, reportID string) (*RunResult, error) {
	log := zap.L().With(zap.String("report_id", reportID))
	start := time.Now()

	report, err := o.store.GetReport(ctx, reportID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(ErrReportNotFound, "pipeline: %s", reportID)
		}
		return nil, eris.Wrap(err, "pipeline: load report")
	}

	if report.Status.IsTerminal() {
		if err := o.store.UpdateReportStatus(ctx, reportID, model.ReportStatusPending, ""); err != nil {
			return nil, eris.Wrap(err, "pipeline: reset status")
		}
	}
	if err := o.store.UpdateReportStatus(ctx, reportID, model.ReportStatusProcessing, ""); err != nil {
		return nil, eris.Wrap(err, "pipeline: mark processing")
	}
	if err := o.store.UpdateConsolidationStatus(ctx, reportID, model.ReportStatusPending); err != nil {
		return nil, eris.Wrap(err, "pipeline: reset consolidation status")
	}
	log.Info("pipeline: starting", zap.String("document", report.DocumentPath))

	if report.DocumentPath == "" {
		return o.fail(ctx, reportID, ErrNoDocument, false)
	}
	if _, err := os.Stat(report.DocumentPath); err != nil {
		return o.fail(ctx, reportID, eris.Wrapf(ErrNoDocument, "pipeline: %s", err.Error()), false)
	}

	att, err := o.extractAttempt(ctx, reportID, report.DocumentPath)
	if err != nil {
		return o.fail(ctx, reportID, err, false)
	}

	if err := o.store.InsertExtractionResult(ctx, att.result); err != nil {
		return o.fail(ctx, reportID, eris.Wrap(err, "pipeline: persist extraction result"), false)
	}
	if o.requireStructured && !att.result.HasStructuredData {
		return o.fail(ctx, reportID, eris.Wrapf(ErrNoStructuredData,
			"pipeline: %s produced %d chars", att.result.ExtractionMethod, att.result.CharacterCount), false)
	}

	out, err := o.consolidate(ctx, reportID, o.strategy, false, att)
	if err != nil {
		return o.fail(ctx, reportID, err, true)
	}

	if err := o.store.UpdateReportStatus(ctx, reportID, model.ReportStatusCompleted, ""); err != nil {
		return nil, eris.Wrap(err, "pipeline: mark completed")
	}

	meta := out.Metadata
	log.Info("pipeline: completed",
		zap.String("method", att.result.ExtractionMethod),
		zap.String("primary_source", meta.PrimarySource),
		zap.String("strategy", string(meta.Strategy)),
		zap.Float64("confidence", meta.ConfidenceLevel),
		zap.Int("conflicts", meta.ConflictCount),
		zap.Bool("requires_human_review", meta.RequiresHumanReview),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return &RunResult{
		ReportID:            reportID,
		Status:              model.ReportStatusCompleted,
		Confidence:          meta.ConfidenceLevel,
		Method:              meta.PrimarySource,
		RequiresHumanReview: meta.RequiresHumanReview,
		ConflictCount:       meta.ConflictCount,
		CostUSD:             att.costUSD,
	}, nil
}

// fail records err on the report and returns it. The status writes use a
// context that survives cancellation of ctx.
func (o *Orchestrator) fail(ctx context.Context, reportID string, cause error, consolidating bool) (*RunResult, error) {
	wctx := context.WithoutCancel(ctx)
	msg := model.TruncateError(cause.Error())

	zap.L().Error("pipeline: failed",
		zap.String("report_id", reportID),
		zap.Bool("consolidating", consolidating),
		zap.Error(cause),
	)

	if err := o.store.UpdateReportStatus(wctx, reportID, model.ReportStatusFailed, msg); err != nil {
		zap.L().Warn("pipeline: failed to record failure", zap.String("report_id", reportID), zap.Error(err))
	}
	if consolidating {
		if err := o.store.UpdateConsolidationStatus(wctx, reportID, model.ReportStatusFailed); err != nil {
			zap.L().Warn("pipeline: failed to record consolidation failure", zap.String("report_id", reportID), zap.Error(err))
		}
	}
	return &RunResult{ReportID: reportID, Status: model.ReportStatusFailed}, cause
}

// extractAttempt runs the primary engine and, when it errors, times out, is
// short-circuited, or yields too little text, the fallback engine. There is
// no retry loop: each engine is called at most once.
func (o *Orchestrator) extractAttempt(ctx context.Context, reportID, path string) (*attempt, error) {
	log := zap.L().With(zap.String("report_id", reportID))

	att, primaryErr := o.tryEngine(ctx, reportID, path, o.primary, true)
	if primaryErr == nil {
		return att, nil
	}
	log.Warn("pipeline: primary engine failed",
		zap.String("method", o.primary.Method()),
		zap.Error(primaryErr),
	)

	if o.fallback == nil || ctx.Err() != nil {
		return nil, primaryErr
	}

	att, fallbackErr := o.tryEngine(ctx, reportID, path, o.fallback, false)
	if fallbackErr == nil {
		att.result.Metadata["fallback_reason"] = model.TruncateError(primaryErr.Error())
		return att, nil
	}
	log.Warn("pipeline: fallback engine failed",
		zap.String("method", o.fallback.Method()),
		zap.Error(fallbackErr),
	)

	// Report insufficient text ahead of engine errors so the operator sees
	// the quality failure rather than a secondary outage.
	if errors.Is(primaryErr, ErrInsufficientText) {
		return nil, primaryErr
	}
	return nil, fallbackErr
}

// tryEngine runs one engine under its timeout and processes the text.
func (o *Orchestrator) tryEngine(ctx context.Context, reportID, path string, engine ocr.Extractor, guarded bool) (*attempt, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "pipeline: ocr rate limit")
		}
	}

	start := time.Now()
	call := func(ctx context.Context) (*ocr.Document, error) {
		if o.ocrTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.ocrTimeout)
			defer cancel()
		}
		return engine.Extract(ctx, path)
	}

	var (
		doc *ocr.Document
		err error
	)
	if guarded && o.breakers != nil {
		doc, err = resilience.Call(ctx, o.breakers.For(engine.Method()), call)
	} else {
		doc, err = call(ctx)
	}
	ocrMs := time.Since(start).Milliseconds()
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: %s extraction", engine.Method())
	}

	method := doc.Method
	if method == "" {
		method = engine.Method()
	}
	att, err := o.process(ctx, reportID, model.RawDocumentText{ReportID: reportID, Text: doc.Text, SourceMethod: method}, ocrMs)
	if err != nil {
		return nil, err
	}
	if o.costCalc != nil {
		att.costUSD = o.costCalc.OCR(method, doc.Pages)
	}
	att.result.Metadata["pages"] = doc.Pages
	att.result.Metadata["ocr_cost_usd"] = att.costUSD
	return att, nil
}

// process normalizes, scores and extracts one OCR output.
func (o *Orchestrator) process(ctx context.Context, reportID string, raw model.RawDocumentText, ocrMs int64) (*attempt, error) {
	start := time.Now()
	text := o.normalizer.Normalize(raw.Text)
	chars := utf8.RuneCountInString(text)

	log := zap.L().With(
		zap.String("report_id", reportID),
		zap.String("method", raw.SourceMethod),
		zap.Int("chars", chars),
	)

	if chars < o.minChars {
		log.Warn("pipeline: insufficient text", zap.Int("raw_chars", utf8.RuneCountInString(raw.Text)))
		return nil, eris.Wrapf(ErrInsufficientText, "pipeline: %s produced %d chars (minimum %d)",
			raw.SourceMethod, chars, o.minChars)
	}

	assessment := o.quality.Assess(text)
	extracted, err := o.extractor.ExtractAll(ctx, text)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: extract entities")
	}

	score := o.confidence.Score(text, raw.SourceMethod)
	if assessment.Low {
		score = min(score, lowQualityConfidence)
		log.Warn("pipeline: low quality text",
			zap.Int("quality_score", assessment.Score),
			zap.Int("threshold", o.quality.Threshold()),
		)
	}
	if extracted.Entities.Empty() {
		score = min(score, unstructuredConfidence)
		log.Warn("pipeline: no structured fields found")
	}

	counts := extracted.Entities.Counts()
	result := &model.ExtractionResult{
		ReportID:          reportID,
		ExtractionMethod:  raw.SourceMethod,
		ExtractedText:     text,
		ProcessingTimeMs:  ocrMs + time.Since(start).Milliseconds(),
		CharacterCount:    chars,
		WordCount:         len(strings.Fields(text)),
		ConfidenceScore:   score,
		HasStructuredData: !extracted.Entities.Empty(),
		Metadata: map[string]any{
			"quality_score":  assessment.Score,
			"low_quality":    assessment.Low,
			"keyword_hits":   assessment.KeywordHits,
			"ocr_ms":         ocrMs,
			"skipped_blocks": extracted.Skipped,
			"entity_counts":  counts,
		},
	}

	log.Info("pipeline: extraction attempt",
		zap.Int("quality_score", assessment.Score),
		zap.Float64("confidence", score),
		zap.Int("entities", counts.Total()),
		zap.Int("skipped_blocks", extracted.Skipped),
		zap.Int64("duration_ms", result.ProcessingTimeMs),
	)
	return &attempt{result: result, entities: extracted.Entities}, nil
}

// consolidate reconciles every stored attempt for the report and writes the
// canonical entities and metadata as one unit. current, if set, is the
// attempt just produced; its entities are reused when it wins.
func (o *Orchestrator) consolidate(ctx context.Context, reportID string, strategy model.Strategy, explicit bool, current *attempt) (*consolidate.Outcome, error) {
	if err := o.store.UpdateConsolidationStatus(ctx, reportID, model.ReportStatusProcessing); err != nil {
		return nil, eris.Wrap(err, "pipeline: mark consolidation processing")
	}

	results, err := o.store.ListExtractionResults(ctx, reportID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list extraction results")
	}
	prev, err := o.store.GetConsolidation(ctx, reportID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load consolidation")
	}

	out, err := o.engine.Consolidate(reportID, results, consolidate.Options{
		Strategy: strategy,
		Previous: prev,
		Explicit: explicit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: consolidate")
	}

	var entities *model.EntitySet
	if current != nil && current.result.ID == out.Primary.ID {
		entities = current.entities
	} else {
		extracted, err := o.extractor.ExtractAll(ctx, out.Text)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: extract canonical entities")
		}
		entities = extracted.Entities
	}

	consolidate.AttachEntitySources(&out.Metadata, entities.Counts())
	if err := o.store.ReplaceCanonical(ctx, reportID, entities, &out.Metadata); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist canonical result")
	}
	if err := o.store.SetCanonicalText(ctx, reportID, out.Text); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist canonical text")
	}
	if err := o.store.UpdateConsolidationStatus(ctx, reportID, model.ReportStatusCompleted); err != nil {
		return nil, eris.Wrap(err, "pipeline: mark consolidation completed")
	}
	return out, nil
}
