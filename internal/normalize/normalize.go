// Package normalize cleans raw OCR text before quality scoring and entity
// extraction. All functions are pure and safe for concurrent use.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Canonical section tokens substituted for known header synonyms.
const (
	SectionPersonal  = "[SECTION:PERSONAL_INFO]"
	SectionAccounts  = "[SECTION:ACCOUNTS]"
	SectionInquiries = "[SECTION:INQUIRIES]"
	SectionNegative  = "[SECTION:NEGATIVE_ITEMS]"
)

// Correction is one OCR-confusion rewrite rule.
type Correction struct {
	Name    string
	Pattern *regexp.Regexp
	Replace string
	// Passes repeats the rewrite so overlapping matches ("B00K") are caught.
	Passes int
	// Unless, when set, leaves a match untouched if the text right after it
	// matches. Unless should be anchored with ^.
	Unless *regexp.Regexp
}

// HeaderRule maps a set of header synonyms to a canonical section token.
type HeaderRule struct {
	Token    string
	Synonyms []string
	pattern  *regexp.Regexp
}

// Normalizer holds the immutable correction and header tables.
type Normalizer struct {
	corrections []Correction
	headers     []HeaderRule
}

var unitAfterNumber = regexp.MustCompile(`^[ \t]*(?i:days?|months?|mos?|years?|yrs?|times?|payments?)\b`)

// DefaultCorrections is the fixed OCR-confusion table. Order matters: digit
// repairs run before letter repairs so "1O0" becomes "100" rather than "1OO".
func DefaultCorrections() []Correction {
	return []Correction{
		{Name: "letter_o_in_number", Pattern: regexp.MustCompile(`(\d)[Oo](\d)`), Replace: "${1}0${2}", Passes: 2},
		{Name: "letter_l_in_number", Pattern: regexp.MustCompile(`(\d)[lI](\d)`), Replace: "${1}1${2}", Passes: 2},
		{Name: "zero_in_word", Pattern: regexp.MustCompile(`([A-Za-z])0([A-Za-z])`), Replace: "${1}O${2}", Passes: 2},
		{Name: "isolated_l", Pattern: regexp.MustCompile(`(?m)(^|[ \t])l([ \t]|$)`), Replace: "${1}I${2}", Passes: 2},
		{Name: "split_currency", Pattern: regexp.MustCompile(`\$[ \t]+(\d)`), Replace: "$$${1}"},
		// "$1, 250" is one amount; "$500, 120 days late" is a list.
		{
			Name:    "split_thousands",
			Pattern: regexp.MustCompile(`(\d),[ \t]+(\d{3})\b`),
			Replace: "${1},${2}",
			Unless:  unitAfterNumber,
		},
		{Name: "split_ssn", Pattern: regexp.MustCompile(`\b([X\d]{3})[ \t]*-[ \t]*([X\d]{2})[ \t]*-[ \t]*(\d{4})\b`), Replace: "${1}-${2}-${3}"},
	}
}

// DefaultHeaders lists the section header synonyms recognised on their own line.
func DefaultHeaders() []HeaderRule {
	return []HeaderRule{
		{Token: SectionPersonal, Synonyms: []string{
			"consumer information", "personal information", "personal data",
			"personal identification", "identification information", "personal profile",
		}},
		{Token: SectionAccounts, Synonyms: []string{
			"account information", "account history", "credit accounts",
			"account details", "trade lines", "tradelines", "satisfactory accounts",
		}},
		{Token: SectionInquiries, Synonyms: []string{
			"inquiries", "credit inquiries", "inquiry information", "hard inquiries",
			"requests for your credit history", "regular inquiries",
		}},
		{Token: SectionNegative, Synonyms: []string{
			"negative items", "potentially negative items", "adverse accounts",
			"accounts with adverse information", "derogatory items", "public records",
			"public record information",
		}},
	}
}

// New builds a Normalizer from explicit tables. Nil tables fall back to the defaults.
func New(corrections []Correction, headers []HeaderRule) *Normalizer {
	if corrections == nil {
		corrections = DefaultCorrections()
	}
	if headers == nil {
		headers = DefaultHeaders()
	}
	compiled := make([]HeaderRule, 0, len(headers))
	for _, h := range headers {
		h.pattern = compileHeader(h.Synonyms)
		compiled = append(compiled, h)
	}
	return &Normalizer{corrections: corrections, headers: compiled}
}

// Default returns a Normalizer with the built-in tables.
func Default() *Normalizer {
	return New(nil, nil)
}

// compileHeader builds a line-anchored, case-insensitive pattern where any run
// of spaces or tabs between words matches.
func compileHeader(synonyms []string) *regexp.Regexp {
	alts := make([]string, 0, len(synonyms))
	for _, s := range synonyms {
		words := strings.Fields(s)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		alts = append(alts, strings.Join(words, `[ \t]+`))
	}
	return regexp.MustCompile(`(?im)^[ \t]*(?:` + strings.Join(alts, "|") + `)[ \t]*:?[ \t]*$`)
}

// Normalize applies, in order: control-character stripping, whitespace
// collapsing, OCR-confusion corrections and header canonicalization. It never
// fails; garbage input yields an empty or near-empty string.
func (n *Normalizer) Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	text := StripControl(norm.NFKC.String(raw))
	text = CollapseWhitespace(text)
	text = n.applyCorrections(text)
	text = n.canonicalizeHeaders(text)
	return strings.TrimSpace(text)
}

// StripControl drops every rune outside printable ASCII, keeping newline and tab.
func StripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 0x20 && r <= 0x7E) || r == '\n' || r == '\t' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var (
	horizontalWS = regexp.MustCompile(`[ \t]+`)
	lineBreakWS  = regexp.MustCompile(`[ \t]*\n[ \t\n]*`)
)

// CollapseWhitespace reduces runs of spaces/tabs to one space and runs that
// contain a line break to a single newline.
func CollapseWhitespace(s string) string {
	s = lineBreakWS.ReplaceAllString(s, "\n")
	return horizontalWS.ReplaceAllString(s, " ")
}

func (n *Normalizer) applyCorrections(s string) string {
	for _, c := range n.corrections {
		passes := c.Passes
		if passes < 1 {
			passes = 1
		}
		for range passes {
			if c.Unless == nil {
				s = c.Pattern.ReplaceAllString(s, c.Replace)
				continue
			}
			s = replaceUnless(s, c)
		}
	}
	return s
}

func replaceUnless(s string, c Correction) string {
	var (
		out     []byte
		last    int
		changed bool
	)
	for _, m := range c.Pattern.FindAllStringSubmatchIndex(s, -1) {
		if c.Unless.MatchString(s[m[1]:]) {
			continue
		}
		out = append(out, s[last:m[0]]...)
		out = c.Pattern.ExpandString(out, c.Replace, s, m)
		last = m[1]
		changed = true
	}
	if !changed {
		return s
	}
	return string(append(out, s[last:]...))
}

func (n *Normalizer) canonicalizeHeaders(s string) string {
	for _, h := range n.headers {
		s = h.pattern.ReplaceAllLiteralString(s, h.Token)
	}
	return s
}
