package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/bureau-cli/internal/config"
)

func testRates() Rates {
	return Rates{
		PerPage: map[string]float64{
			"mistral": 0.001,
			"docsumo": 0.01,
		},
		PerCall: map[string]float64{
			"docsumo": 0.05,
		},
	}
}

func TestOCR(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name   string
		method string
		pages  int
		want   float64
	}{
		{"mistral 10 pages", "mistral", 10, 0.01},
		{"mistral zero pages bills one", "mistral", 0, 0.001},
		{"docsumo per call plus pages", "docsumo", 3, 0.08},
		{"local engine free", "pdftotext", 12, 0},
		{"unknown method", "textract", 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.OCR(tt.method, tt.pages), 1e-9)
		})
	}
}

func TestFree(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())
	assert.True(t, calc.Free("pdftotext"))
	assert.True(t, calc.Free("fallback"))
	assert.False(t, calc.Free("mistral"))
	assert.False(t, calc.Free("docsumo"))
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	r := DefaultRates()
	assert.InDelta(t, 0.001, r.PerPage["mistral"], 1e-9)
	assert.InDelta(t, 0.01, r.PerPage["docsumo"], 1e-9)
	assert.NotContains(t, r.PerPage, "pdftotext")
	assert.NotContains(t, r.PerPage, "fallback")
	assert.Empty(t, r.PerCall)
}

func TestFromConfig(t *testing.T) {
	t.Parallel()
	r := FromConfig(config.PricingConfig{
		PerPage: map[string]float64{"mistral": 0.002, "textract": 0.0015},
		PerCall: map[string]float64{"docsumo": 0.1},
	})
	assert.InDelta(t, 0.002, r.PerPage["mistral"], 1e-9)
	assert.InDelta(t, 0.01, r.PerPage["docsumo"], 1e-9)
	assert.InDelta(t, 0.0015, r.PerPage["textract"], 1e-9)
	assert.InDelta(t, 0.1, r.PerCall["docsumo"], 1e-9)

	// Defaults are not shared between calls.
	assert.InDelta(t, 0.001, DefaultRates().PerPage["mistral"], 1e-9)
}
