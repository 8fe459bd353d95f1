package model

// Audit phase names, in check order.
const (
	PhaseDocument      = "document"
	PhaseExtraction    = "extraction"
	PhaseEntities      = "canonical_entities"
	PhaseConsolidation = "consolidation_metadata"
)

// PhaseResult is one step of a diagnostic audit.
type PhaseResult struct {
	Phase   string         `json:"phase"`
	Success bool           `json:"success"`
	Details string         `json:"details"`
	Counts  map[string]int `json:"counts,omitempty"`
}
