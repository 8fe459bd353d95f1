package pipeline

import "github.com/rotisserie/eris"

// Sentinel errors, checked with errors.Is.
var (
	// ErrReportNotFound means the report id matched no record.
	ErrReportNotFound = eris.New("pipeline: report not found")
	// ErrNoDocument means the report's source document is missing; the
	// document must be re-uploaded.
	ErrNoDocument = eris.New("pipeline: document not available, re-upload the document")
	// ErrInsufficientText means every OCR engine produced too little text.
	ErrInsufficientText = eris.New("pipeline: insufficient text")
	// ErrNoStructuredData means no extractor found any entity and the
	// pipeline is configured to require one.
	ErrNoStructuredData = eris.New("pipeline: no structured data extracted")
)
