// Package consolidate reconciles multiple extraction attempts for one report
// into a single canonical text, confidence level and review decision.
package consolidate

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bureau-cli/internal/model"
)

// ErrNoData is returned when a report has no extraction attempts.
var ErrNoData = eris.New("consolidate: no data to consolidate")

const (
	// DefaultReviewThreshold flags results below this confidence for review.
	DefaultReviewThreshold = 0.7
	// DefaultConflictRatio is the relative text-length spread that counts as a conflict.
	DefaultConflictRatio = 0.5

	majorityCap        = 0.95
	manualReviewLevel  = 0.5
	conflictTextLength = "Text Length"
)

// Canonical field names recorded in FieldSources.
const (
	FieldText          = "text"
	FieldPersonalInfo  = "personal_info"
	FieldAccounts      = "accounts"
	FieldInquiries     = "inquiries"
	FieldNegativeItems = "negative_items"
)

// Options controls one consolidation run.
type Options struct {
	Strategy model.Strategy
	// Previous is the stored metadata for the report, if any.
	Previous *model.ConsolidationMetadata
	// Explicit marks an operator-requested re-consolidation. Only an explicit
	// run with a strategy different from Previous may clear a review flag.
	Explicit bool
}

// Outcome is the canonical result of a consolidation run.
type Outcome struct {
	Metadata model.ConsolidationMetadata
	Text     string
	Primary  model.ExtractionResult
}

// Engine applies a consolidation strategy. It holds only configuration and is
// safe for concurrent use.
type Engine struct {
	reviewThreshold float64
	conflictRatio   float64
}

// New creates an Engine. Non-positive values use the defaults.
func New(reviewThreshold, conflictRatio float64) *Engine {
	if reviewThreshold <= 0 {
		reviewThreshold = DefaultReviewThreshold
	}
	if conflictRatio <= 0 {
		conflictRatio = DefaultConflictRatio
	}
	return &Engine{reviewThreshold: reviewThreshold, conflictRatio: conflictRatio}
}

// Consolidate selects the canonical result for reportID from results. The
// output depends only on its inputs, so running it twice over the same
// attempts yields identical metadata.
func (e *Engine) Consolidate(reportID string, results []model.ExtractionResult, opts Options) (*Outcome, error) {
	if len(results) == 0 {
		return nil, ErrNoData
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = model.StrategyHighestConfidence
	}
	if !strategy.Valid() {
		return nil, eris.Errorf("consolidate: unknown strategy %q", strategy)
	}
	// A lone attempt has nothing to reconcile. manual_review still forces review.
	if len(results) == 1 && strategy != model.StrategyManualReview {
		strategy = model.StrategySingleSource
	}

	var (
		primary model.ExtractionResult
		level   float64
		note    string
	)
	switch strategy {
	case model.StrategySingleSource:
		primary = results[0]
		level = primary.ConfidenceScore
		note = "single extraction attempt"
	case model.StrategyHighestConfidence:
		primary = highestConfidence(results)
		level = primary.ConfidenceScore
		note = fmt.Sprintf("selected %s (confidence %.2f) from %d attempts", primary.ExtractionMethod, level, len(results))
	case model.StrategyMajorityVote:
		primary = medianLength(results)
		level = min(averageConfidence(results), majorityCap)
		note = fmt.Sprintf("median-length text from %s across %d attempts", primary.ExtractionMethod, len(results))
	case model.StrategyManualReview:
		primary = highestConfidence(results)
		level = manualReviewLevel
		note = "manual review requested"
	}
	level = min(max(level, 0), 1)

	conflicts := e.detectConflicts(results)
	meta := model.ConsolidationMetadata{
		ReportID:            reportID,
		PrimarySource:       primary.ExtractionMethod,
		Strategy:            strategy,
		ConfidenceLevel:     level,
		FieldSources:        map[string]string{FieldText: primary.ExtractionMethod},
		Conflicts:           conflicts,
		ConflictCount:       len(conflicts),
		RequiresHumanReview: strategy == model.StrategyManualReview || level < e.reviewThreshold,
		Notes:               note,
	}
	if len(conflicts) > 0 {
		meta.Notes += fmt.Sprintf("; %d conflict(s) detected", len(conflicts))
	}

	if prev := opts.Previous; prev != nil && prev.RequiresHumanReview && !meta.RequiresHumanReview {
		if !opts.Explicit || prev.Strategy == strategy {
			meta.RequiresHumanReview = true
			meta.Notes += "; human review retained from previous consolidation"
		}
	}

	return &Outcome{Metadata: meta, Text: primary.ExtractedText, Primary: primary}, nil
}

// AttachEntitySources records the primary method as the source of every
// entity family that produced rows.
func AttachEntitySources(meta *model.ConsolidationMetadata, counts model.EntityCounts) {
	if meta.FieldSources == nil {
		meta.FieldSources = make(map[string]string)
	}
	src := meta.PrimarySource
	if counts.PersonalInfo > 0 {
		meta.FieldSources[FieldPersonalInfo] = src
	}
	if counts.Accounts > 0 {
		meta.FieldSources[FieldAccounts] = src
	}
	if counts.Inquiries > 0 {
		meta.FieldSources[FieldInquiries] = src
	}
	if counts.NegativeItems > 0 {
		meta.FieldSources[FieldNegativeItems] = src
	}
}

// highestConfidence returns the first attempt with the maximum score.
func highestConfidence(results []model.ExtractionResult) model.ExtractionResult {
	best := results[0]
	for _, r := range results[1:] {
		if r.ConfidenceScore > best.ConfidenceScore {
			best = r
		}
	}
	return best
}

// medianLength returns the lower-median attempt by character count. Ties
// keep input order.
func medianLength(results []model.ExtractionResult) model.ExtractionResult {
	sorted := make([]model.ExtractionResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return charCount(sorted[i]) < charCount(sorted[j])
	})
	return sorted[(len(sorted)-1)/2]
}

func averageConfidence(results []model.ExtractionResult) float64 {
	var sum float64
	for _, r := range results {
		sum += r.ConfidenceScore
	}
	return sum / float64(len(results))
}

// detectConflicts compares text lengths across attempts. Length is the only
// signal; field-level disagreement is not checked.
func (e *Engine) detectConflicts(results []model.ExtractionResult) []model.Conflict {
	if len(results) < 2 {
		return nil
	}
	lo, hi := charCount(results[0]), charCount(results[0])
	for _, r := range results[1:] {
		n := charCount(r)
		lo = min(lo, n)
		hi = max(hi, n)
	}
	if hi == lo {
		return nil
	}

	values := map[string]any{"min_chars": lo, "max_chars": hi}
	if lo == 0 {
		return []model.Conflict{{
			Field:   conflictTextLength,
			Details: fmt.Sprintf("an attempt returned no text while another returned %d characters", hi),
			Values:  values,
		}}
	}
	ratio := float64(hi-lo) / float64(lo)
	if ratio <= e.conflictRatio {
		return nil
	}
	values["ratio"] = ratio
	return []model.Conflict{{
		Field:   conflictTextLength,
		Details: fmt.Sprintf("character counts differ by %.0f%% (%d vs %d)", ratio*100, lo, hi),
		Values:  values,
	}}
}

func charCount(r model.ExtractionResult) int {
	if r.CharacterCount > 0 {
		return r.CharacterCount
	}
	return utf8.RuneCountInString(r.ExtractedText)
}
