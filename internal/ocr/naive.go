package ocr

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bureau-cli/internal/model"
)

// minRun is the shortest printable run kept by the naive parser.
const minRun = 4

// NaiveParser is the degraded last-resort engine. It reads the raw file bytes
// and keeps runs of printable ASCII, the way strings(1) does. It needs no
// external service and rarely fails, but its output is low quality.
type NaiveParser struct{}

// NewNaiveParser creates a NaiveParser.
func NewNaiveParser() *NaiveParser { return &NaiveParser{} }

// Method implements Extractor.
func (NaiveParser) Method() string { return model.MethodFallback }

// Extract returns the printable runs of the file joined by newlines.
func (n NaiveParser) Extract(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "ocr: naive parse")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: read document %s", path)
	}
	return &Document{Text: PrintableRuns(data, minRun), Method: n.Method()}, nil
}

// PrintableRuns returns every run of at least minLen printable ASCII bytes
// (spaces and tabs included), one run per line.
func PrintableRuns(data []byte, minLen int) string {
	var (
		out strings.Builder
		run []byte
	)
	flush := func() {
		if len(strings.TrimSpace(string(run))) >= minLen {
			if out.Len() > 0 {
				out.WriteByte('\n')
			}
			out.Write(run)
		}
		run = run[:0]
	}
	for _, b := range data {
		if (b >= 0x20 && b <= 0x7E) || b == '\t' {
			run = append(run, b)
			continue
		}
		flush()
	}
	flush()
	return out.String()
}
