package model

import "time"

// Extraction method tags reported by the OCR collaborators.
const (
	MethodDocsumo   = "docsumo"
	MethodMistral   = "mistral"
	MethodPdfToText = "pdftotext"
	MethodFallback  = "fallback"
)

// RawDocumentText is one OCR collaborator output for a report.
type RawDocumentText struct {
	ReportID     string `json:"report_id"`
	Text         string `json:"text"`
	SourceMethod string `json:"source_method"`
}

// ExtractionResult records a single extraction attempt. Rows are append-only;
// re-running the pipeline inserts a new row.
type ExtractionResult struct {
	ID                string         `json:"id"`
	ReportID          string         `json:"report_id"`
	ExtractionMethod  string         `json:"extraction_method"`
	ExtractedText     string         `json:"extracted_text"`
	ProcessingTimeMs  int64          `json:"processing_time_ms"`
	CharacterCount    int            `json:"character_count"`
	WordCount         int            `json:"word_count"`
	ConfidenceScore   float64        `json:"confidence_score"`
	HasStructuredData bool           `json:"has_structured_data"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}
