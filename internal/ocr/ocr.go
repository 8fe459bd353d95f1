// Package ocr wraps the document text-extraction engines. Each engine reads
// a document from disk and returns its text tagged with the engine's method.
package ocr

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bureau-cli/internal/config"
	"github.com/sells-group/bureau-cli/internal/model"
)

// Document is one engine's output for a document.
type Document struct {
	Text   string
	Method string
	// Pages is the page count the engine reported, or 0 when unknown.
	Pages int
}

// Extractor extracts text content from a document file.
type Extractor interface {
	// Method returns the tag recorded on extraction results.
	Method() string
	Extract(ctx context.Context, path string) (*Document, error)
}

// NewExtractor creates the engine named by name. An empty name returns a nil
// Extractor so an unset fallback can be skipped.
func NewExtractor(name string, cfg config.OCRConfig) (Extractor, error) {
	switch strings.ToLower(name) {
	case "":
		return nil, nil
	case model.MethodPdfToText, "local":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case model.MethodMistral:
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral engine requires ocr.mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	case model.MethodDocsumo, "http":
		if cfg.HTTPEndpoint == "" {
			return nil, eris.New("ocr: http engine requires ocr.http_endpoint")
		}
		return NewHTTPOCR(cfg.HTTPEndpoint, cfg.HTTPKey, cfg.HTTPMethod), nil
	case model.MethodFallback, "naive":
		return NewNaiveParser(), nil
	default:
		return nil, eris.Errorf("ocr: unknown engine %q", name)
	}
}
