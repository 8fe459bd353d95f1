// Package confidence scores a single extraction attempt from the identity of
// the engine that produced it and signals in the text it returned.
package confidence

import (
	"strings"
	"unicode"

	"github.com/sells-group/bureau-cli/internal/model"
	"github.com/sells-group/bureau-cli/internal/quality"
)

const (
	// MinChars is the shortest text that scores above zero.
	MinChars = 50
	// Max is the ceiling; an automated score never claims certainty.
	Max = 0.99

	lengthBonus  = 0.3
	lengthCap    = 10000
	alphaBonus   = 0.2
	keywordBonus = 0.2
	keywordCap   = 50

	// DefaultUnknownBase applies to method tags missing from the table.
	DefaultUnknownBase = 0.6
)

// DefaultMethods is the base score per extraction method.
func DefaultMethods() map[string]float64 {
	return map[string]float64{
		model.MethodDocsumo:   0.86,
		model.MethodMistral:   0.86,
		model.MethodPdfToText: 0.6,
		model.MethodFallback:  0.3,
	}
}

// Scorer computes extraction confidence. It is read-only after New and safe
// for concurrent use.
type Scorer struct {
	methods     map[string]float64
	unknownBase float64
	keywords    []string
}

// New creates a Scorer. A nil methods map uses DefaultMethods; an
// unknownBase <= 0 uses DefaultUnknownBase.
func New(methods map[string]float64, unknownBase float64) *Scorer {
	if methods == nil {
		methods = DefaultMethods()
	}
	if unknownBase <= 0 {
		unknownBase = DefaultUnknownBase
	}
	copied := make(map[string]float64, len(methods))
	for k, v := range methods {
		copied[strings.ToLower(k)] = v
	}
	return &Scorer{methods: copied, unknownBase: unknownBase, keywords: quality.DefaultKeywords}
}

// Base returns the base score for method.
func (s *Scorer) Base(method string) float64 {
	if b, ok := s.methods[strings.ToLower(method)]; ok {
		return b
	}
	return s.unknownBase
}

// Score returns the confidence for text produced by method, in [0, Max].
func (s *Scorer) Score(text, method string) float64 {
	total := len([]rune(text))
	if total < MinChars {
		return 0
	}

	score := s.Base(method)
	score += lengthBonus * float64(min(total, lengthCap)) / lengthCap

	alpha := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			alpha++
		}
	}
	score += alphaBonus * float64(alpha) / float64(total)

	score += keywordBonus * float64(s.keywordOccurrences(text)) / keywordCap

	return Clamp(score)
}

// keywordOccurrences counts every keyword occurrence, stopping at keywordCap.
func (s *Scorer) keywordOccurrences(text string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, k := range s.keywords {
		n += strings.Count(lower, k)
		if n >= keywordCap {
			return keywordCap
		}
	}
	return n
}

// Clamp bounds v to [0, Max].
func Clamp(v float64) float64 {
	return min(max(v, 0), Max)
}
