package confidence

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/bureau-cli/internal/model"
)

func TestScore_ShortTextIsZero(t *testing.T) {
	s := New(nil, 0)
	assert.Zero(t, s.Score("", model.MethodDocsumo))
	assert.Zero(t, s.Score(strings.Repeat("a", MinChars-1), model.MethodDocsumo))
}

func TestScore_Components(t *testing.T) {
	s := New(nil, 0)
	letters := strings.Repeat("x", 100)
	digits := strings.Repeat("1", 100)

	tests := []struct {
		name   string
		text   string
		method string
		want   float64
	}{
		// base + length (0.3*100/10000) + alpha (0.2*1.0)
		{"fallback letters", letters, model.MethodFallback, 0.3 + 0.003 + 0.2},
		{"unknown method", letters, "ocrspace", 0.6 + 0.003 + 0.2},
		{"pdftotext digits", digits, model.MethodPdfToText, 0.6 + 0.003},
		{"method tag case-insensitive", digits, "FALLBACK", 0.3 + 0.003},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.Score(tt.text, tt.method), 1e-9)
		})
	}
}

func TestScore_ClampedBelowOne(t *testing.T) {
	s := New(nil, 0)
	text := strings.Repeat("credit account balance ", 600)
	assert.Equal(t, Max, s.Score(text, model.MethodDocsumo))
}

func TestScore_CustomMethods(t *testing.T) {
	s := New(map[string]float64{"Textract": 0.75}, 0.4)
	assert.InDelta(t, 0.75, s.Base("textract"), 1e-9)
	assert.InDelta(t, 0.4, s.Base(model.MethodDocsumo), 1e-9)
}

func TestKeywordOccurrencesCapped(t *testing.T) {
	s := New(nil, 0)
	assert.Equal(t, 3, s.keywordOccurrences("Credit credit CREDIT"))
	assert.Equal(t, keywordCap, s.keywordOccurrences(strings.Repeat("credit ", 60)))
}

func TestScore_AlwaysInRange(t *testing.T) {
	s := New(nil, 0)
	rng := rand.New(rand.NewSource(7))
	methods := []string{model.MethodDocsumo, model.MethodMistral, model.MethodPdfToText, model.MethodFallback, "other"}
	for i := 0; i < 200; i++ {
		n := rng.Intn(12000)
		b := make([]byte, n)
		for j := range b {
			b[j] = byte(32 + rng.Intn(95))
		}
		got := s.Score(string(b), methods[i%len(methods)])
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, Max)
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-0.5))
	assert.Equal(t, 0.5, Clamp(0.5))
	assert.Equal(t, Max, Clamp(1.7))
}
