// Package pipeline drives one credit report through OCR, normalization,
// quality scoring, entity extraction, confidence scoring, persistence and
// consolidation.
package pipeline

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/bureau-cli/internal/config"
	"github.com/sells-group/bureau-cli/internal/confidence"
	"github.com/sells-group/bureau-cli/internal/consolidate"
	"github.com/sells-group/bureau-cli/internal/cost"
	"github.com/sells-group/bureau-cli/internal/extract"
	"github.com/sells-group/bureau-cli/internal/model"
	"github.com/sells-group/bureau-cli/internal/normalize"
	"github.com/sells-group/bureau-cli/internal/ocr"
	"github.com/sells-group/bureau-cli/internal/quality"
	"github.com/sells-group/bureau-cli/internal/resilience"
	"github.com/sells-group/bureau-cli/internal/store"
)

const (
	defaultOCRTimeout = 2 * time.Minute
	// lowQualityConfidence caps the confidence of attempts whose text scored
	// below the quality threshold.
	lowQualityConfidence = 0.5
	// unstructuredConfidence caps attempts with zero extracted entities when
	// they are allowed to complete, keeping them below the review threshold.
	unstructuredConfidence = 0.5
)

// Orchestrator runs the per-report pipeline. It keeps no per-report state,
// so one Orchestrator may process many reports concurrently.
type Orchestrator struct {
	store      store.Store
	primary    ocr.Extractor
	fallback   ocr.Extractor
	breakers   *resilience.Registry
	limiter    *rate.Limiter
	normalizer *normalize.Normalizer
	quality    *quality.Scorer
	extractor  *extract.Extractor
	confidence *confidence.Scorer
	engine     *consolidate.Engine
	costCalc   *cost.Calculator

	ocrTimeout        time.Duration
	minChars          int
	requireStructured bool
	strategy          model.Strategy
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithBreakers sets the breaker registry guarding the primary engine.
func WithBreakers(r *resilience.Registry) Option {
	return func(o *Orchestrator) { o.breakers = r }
}

// WithRateLimiter throttles OCR calls across all reports sharing the limiter.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

// WithOCRTimeout bounds each OCR call.
func WithOCRTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.ocrTimeout = d }
}

// WithMinChars sets the minimum normalized text length.
func WithMinChars(n int) Option {
	return func(o *Orchestrator) { o.minChars = n }
}

// WithRequireStructuredData controls whether an attempt with zero entities
// fails the report (the default). When false the attempt completes with
// capped confidence and is flagged for human review.
func WithRequireStructuredData(v bool) Option {
	return func(o *Orchestrator) { o.requireStructured = v }
}

// WithStrategy sets the strategy used by automatic consolidation.
func WithStrategy(s model.Strategy) Option {
	return func(o *Orchestrator) { o.strategy = s }
}

// WithExtractor replaces the default entity extractor.
func WithExtractor(e *extract.Extractor) Option {
	return func(o *Orchestrator) { o.extractor = e }
}

// WithQualityScorer replaces the default quality scorer.
func WithQualityScorer(s *quality.Scorer) Option {
	return func(o *Orchestrator) { o.quality = s }
}

// WithConfidenceScorer replaces the default confidence scorer.
func WithConfidenceScorer(s *confidence.Scorer) Option {
	return func(o *Orchestrator) { o.confidence = s }
}

// WithEngine replaces the default consolidation engine.
func WithEngine(e *consolidate.Engine) Option {
	return func(o *Orchestrator) { o.engine = e }
}

// WithCostCalculator sets the OCR pricing used for per-attempt spend.
func WithCostCalculator(c *cost.Calculator) Option {
	return func(o *Orchestrator) { o.costCalc = c }
}

// New creates an Orchestrator. fallback may be nil.
func New(st store.Store, primary, fallback ocr.Extractor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      st,
		primary:    primary,
		fallback:   fallback,
		breakers:   resilience.NewRegistry(resilience.DefaultBreakerConfig()),
		normalizer: normalize.Default(),
		quality:    quality.New(quality.DefaultThreshold, nil),
		extractor:  extract.New(nil),
		confidence: confidence.New(nil, confidence.DefaultUnknownBase),
		engine:     consolidate.New(consolidate.DefaultReviewThreshold, consolidate.DefaultConflictRatio),
		costCalc:   cost.NewCalculator(cost.DefaultRates()),
		ocrTimeout: defaultOCRTimeout,
		minChars:   quality.MinChars,

		requireStructured: true,
		strategy:   model.StrategyHighestConfidence,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewFromConfig builds the OCR engines, pattern tables and scorers from cfg.
func NewFromConfig(cfg *config.Config, st store.Store, opts ...Option) (*Orchestrator, error) {
	primary, err := ocr.NewExtractor(cfg.OCR.Primary, cfg.OCR)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: primary engine")
	}
	if primary == nil {
		return nil, eris.New("pipeline: ocr.primary is required")
	}
	fallback, err := ocr.NewExtractor(cfg.OCR.Fallback, cfg.OCR)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: fallback engine")
	}

	var patterns *extract.PatternSet
	if cfg.Pipeline.PatternsFile != "" {
		if patterns, err = extract.LoadPatterns(cfg.Pipeline.PatternsFile); err != nil {
			return nil, eris.Wrap(err, "pipeline: load patterns")
		}
	}

	strategy := model.Strategy(strings.ToLower(cfg.Consolidation.DefaultStrategy))
	if strategy == "" {
		strategy = model.StrategyHighestConfidence
	}
	if !strategy.Valid() {
		return nil, eris.Errorf("pipeline: unknown consolidation strategy %q", cfg.Consolidation.DefaultStrategy)
	}

	base := []Option{
		WithBreakers(resilience.NewRegistry(resilience.FromConfig(cfg.Breaker))),
		WithOCRTimeout(time.Duration(cfg.OCR.TimeoutSecs) * time.Second),
		WithMinChars(cfg.Pipeline.MinTextChars),
		WithRequireStructuredData(cfg.Pipeline.RequireStructuredData),
		WithStrategy(strategy),
		WithExtractor(extract.New(patterns)),
		WithQualityScorer(quality.New(cfg.Pipeline.QualityThreshold, nil)),
		WithConfidenceScorer(confidence.New(cfg.Confidence.Methods, cfg.Confidence.UnknownBase)),
		WithEngine(consolidate.New(cfg.Consolidation.ReviewThreshold, cfg.Consolidation.ConflictRatio)),
		WithCostCalculator(cost.NewCalculator(cost.FromConfig(cfg.Pricing))),
	}
	return New(st, primary, fallback, append(base, opts...)...), nil
}

// Breakers exposes the breaker registry for health reporting.
func (o *Orchestrator) Breakers() *resilience.Registry {
	return o.breakers
}
