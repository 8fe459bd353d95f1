package ocr

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bureau-cli/internal/model"
)

// PdfToText extracts the embedded text layer using the pdftotext CLI tool.
// It returns little or nothing for scanned documents.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText engine. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// Method implements Extractor.
func (p *PdfToText) Method() string { return model.MethodPdfToText }

// Extract runs pdftotext -layout on the document and returns stdout. Pages
// are counted by the form feed pdftotext writes after each page.
func (p *PdfToText) Extract(ctx context.Context, path string) (*Document, error) {
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", path, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, eris.Wrapf(ctxErr, "ocr: pdftotext %s", path)
		}
		return nil, eris.Wrapf(err, "ocr: pdftotext failed for %s: %s", path, strings.TrimSpace(stderr.String()))
	}
	text := stdout.String()
	return &Document{Text: text, Method: p.Method(), Pages: strings.Count(text, "\f")}, nil
}
