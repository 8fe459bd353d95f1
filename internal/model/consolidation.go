package model

import "time"

// Strategy selects how multiple extraction attempts are reconciled.
type Strategy string

const (
	StrategyHighestConfidence Strategy = "highest_confidence"
	StrategyMajorityVote      Strategy = "majority_vote"
	StrategyManualReview      Strategy = "manual_review"
	StrategySingleSource      Strategy = "single_source"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyHighestConfidence, StrategyMajorityVote, StrategyManualReview, StrategySingleSource:
		return true
	}
	return false
}

// Conflict describes a disagreement between extraction attempts.
type Conflict struct {
	Field   string         `json:"field"`
	Details string         `json:"details"`
	Values  map[string]any `json:"values,omitempty"`
}

// ConsolidationMetadata is the per-report reconciliation record. There is at
// most one row per report; every consolidation run overwrites it.
type ConsolidationMetadata struct {
	ReportID            string            `json:"report_id"`
	PrimarySource       string            `json:"primary_source"`
	Strategy            Strategy          `json:"consolidation_strategy"`
	ConfidenceLevel     float64           `json:"confidence_level"`
	FieldSources        map[string]string `json:"field_sources"`
	Conflicts           []Conflict        `json:"conflicts,omitempty"`
	ConflictCount       int               `json:"conflict_count"`
	RequiresHumanReview bool              `json:"requires_human_review"`
	Notes               string            `json:"notes,omitempty"`
	UpdatedAt           time.Time         `json:"updated_at"`
}
