package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bureau-cli/internal/model"
	"github.com/sells-group/bureau-cli/internal/resilience"
	"github.com/sells-group/bureau-cli/internal/store"
)

// maxReports bounds one collection pass.
const maxReports = 10000

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Reports touched within the lookback window.
	ReportsTotal      int     `json:"reports_total"`
	ReportsCompleted  int     `json:"reports_completed"`
	ReportsFailed     int     `json:"reports_failed"`
	ReportsPending    int     `json:"reports_pending"`
	ReportsProcessing int     `json:"reports_processing"`
	FailureRate       float64 `json:"failure_rate"`

	// Completed reports flagged for human review.
	ReviewRequired int     `json:"review_required"`
	ReviewRate     float64 `json:"review_rate"`
	AvgConfidence  float64 `json:"avg_confidence"`

	// Reports still processing after the stuck threshold.
	Stuck []string `json:"stuck,omitempty"`

	// OCR engine breaker states by method.
	Breakers map[string]string `json:"breakers,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// OpenBreakers returns the engines whose breaker is not closed.
func (s *MetricsSnapshot) OpenBreakers() []string {
	var out []string
	for name, state := range s.Breakers {
		if state != resilience.StateClosed.String() {
			out = append(out, name)
		}
	}
	return out
}

// Collector gathers metrics from the store and the breaker registry.
type Collector struct {
	store      store.Store
	breakers   *resilience.Registry
	stuckAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a metrics collector. breakers may be nil.
func NewCollector(st store.Store, breakers *resilience.Registry, stuckAfter time.Duration) *Collector {
	if stuckAfter <= 0 {
		stuckAfter = 30 * time.Minute
	}
	return &Collector{store: st, breakers: breakers, stuckAfter: stuckAfter, now: time.Now}
}

// Collect gathers a snapshot over reports updated within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	reports, err := c.store.ListReports(ctx, store.ReportFilter{Limit: maxReports})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list reports")
	}

	var totalConfidence float64
	var consolidated int
	for _, r := range reports {
		if r.UpdatedAt.Before(cutoff) {
			continue
		}
		snap.ReportsTotal++

		switch r.Status {
		case model.ReportStatusCompleted:
			snap.ReportsCompleted++
			meta, err := c.store.GetConsolidation(ctx, r.ID)
			if err != nil {
				return nil, eris.Wrapf(err, "monitoring: load consolidation for %s", r.ID)
			}
			if meta != nil {
				consolidated++
				totalConfidence += meta.ConfidenceLevel
				if meta.RequiresHumanReview {
					snap.ReviewRequired++
				}
			}
		case model.ReportStatusFailed:
			snap.ReportsFailed++
		case model.ReportStatusPending:
			snap.ReportsPending++
		case model.ReportStatusProcessing:
			snap.ReportsProcessing++
			if now.Sub(r.UpdatedAt) > c.stuckAfter {
				snap.Stuck = append(snap.Stuck, r.ID)
			}
		}
	}

	if finished := snap.ReportsCompleted + snap.ReportsFailed; finished > 0 {
		snap.FailureRate = float64(snap.ReportsFailed) / float64(finished)
	}
	if consolidated > 0 {
		snap.ReviewRate = float64(snap.ReviewRequired) / float64(consolidated)
		snap.AvgConfidence = totalConfidence / float64(consolidated)
	}
	if c.breakers != nil {
		snap.Breakers = c.breakers.Snapshot()
	}

	return snap, nil
}
