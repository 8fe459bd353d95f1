package model

import "time"

// ReportStatus represents the lifecycle state of a credit report.
type ReportStatus string

const (
	ReportStatusPending    ReportStatus = "pending"
	ReportStatusProcessing ReportStatus = "processing"
	ReportStatusCompleted  ReportStatus = "completed"
	ReportStatusFailed     ReportStatus = "failed"
)

// MaxErrorLen bounds the error text recorded on a report.
const MaxErrorLen = 500

// Report is the status record for one uploaded credit-bureau document.
type Report struct {
	ID                  string       `json:"id"`
	DocumentPath        string       `json:"document_path"`
	Status              ReportStatus `json:"status"`
	ConsolidationStatus ReportStatus `json:"consolidation_status"`
	CanonicalText       string       `json:"canonical_text,omitempty"`
	Error               string       `json:"error,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// IsTerminal reports whether the status is completed or failed.
func (s ReportStatus) IsTerminal() bool {
	return s == ReportStatusCompleted || s == ReportStatusFailed
}

// TruncateError shortens msg to MaxErrorLen bytes, cutting on a rune boundary.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorLen {
		return msg
	}
	cut := MaxErrorLen
	for cut > 0 && !isRuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
