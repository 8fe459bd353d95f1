// Package quality scores normalized OCR text on a 0-100 scale using
// character-distribution and domain-keyword heuristics.
package quality

import (
	"strings"
	"unicode"
)

const (
	// MinChars is the shortest text that can score above zero.
	MinChars = 100
	// DefaultThreshold is the advisory low-quality cutoff.
	DefaultThreshold = 40

	alphaPoints      = 30
	digitPoints      = 20
	whitespacePoints = 20
	keywordPoints    = 5
	keywordCap       = 30
)

// DefaultKeywords are the credit-report terms counted toward the keyword component.
var DefaultKeywords = []string{
	"credit", "account", "balance", "payment", "bureau", "score", "inquiry",
	"collection", "tradeline", "creditor", "bank", "card",
	"equifax", "experian", "transunion",
}

// Assessment is the outcome of scoring one text.
type Assessment struct {
	Score           int     `json:"score"`
	Low             bool    `json:"low"`
	AlphaRatio      float64 `json:"alpha_ratio"`
	DigitRatio      float64 `json:"digit_ratio"`
	WhitespaceRatio float64 `json:"whitespace_ratio"`
	KeywordHits     int     `json:"keyword_hits"`
}

// Scorer computes quality scores. The zero value is not usable; call New.
type Scorer struct {
	threshold int
	keywords  []string
}

// New creates a Scorer. A threshold <= 0 uses DefaultThreshold; nil keywords
// use DefaultKeywords.
func New(threshold int, keywords []string) *Scorer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if keywords == nil {
		keywords = DefaultKeywords
	}
	lower := make([]string, len(keywords))
	for i, k := range keywords {
		lower[i] = strings.ToLower(k)
	}
	return &Scorer{threshold: threshold, keywords: lower}
}

// Threshold returns the advisory cutoff.
func (s *Scorer) Threshold() int { return s.threshold }

// Score returns the 0-100 quality score for text.
func (s *Scorer) Score(text string) int {
	return s.Assess(text).Score
}

// Assess scores text and reports the individual signals. A Low assessment is
// advisory: callers still attempt extraction but mark the result low confidence.
func (s *Scorer) Assess(text string) Assessment {
	total := len([]rune(text))
	if total < MinChars {
		return Assessment{Low: true}
	}

	var alpha, digit, space int
	for _, r := range text {
		switch {
		case unicode.IsLetter(r):
			alpha++
		case unicode.IsDigit(r):
			digit++
		case unicode.IsSpace(r):
			space++
		}
	}

	a := Assessment{
		AlphaRatio:      float64(alpha) / float64(total),
		DigitRatio:      float64(digit) / float64(total),
		WhitespaceRatio: float64(space) / float64(total),
	}

	score := 0
	if inOpenRange(a.AlphaRatio, 0.3, 0.8) {
		score += alphaPoints
	}
	if inOpenRange(a.DigitRatio, 0.05, 0.3) {
		score += digitPoints
	}
	if inOpenRange(a.WhitespaceRatio, 0.1, 0.3) {
		score += whitespacePoints
	}

	lower := strings.ToLower(text)
	for _, k := range s.keywords {
		if strings.Contains(lower, k) {
			a.KeywordHits++
		}
	}
	score += min(a.KeywordHits*keywordPoints, keywordCap)

	a.Score = min(max(score, 0), 100)
	a.Low = a.Score < s.threshold
	return a
}

func inOpenRange(v, lo, hi float64) bool {
	return v > lo && v < hi
}
