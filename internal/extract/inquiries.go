package extract

import (
	"strings"
	"time"

	"github.com/sells-group/bureau-cli/internal/model"
	"github.com/sells-group/bureau-cli/internal/normalize"
)

var inquiryDateLayouts = []string{"01/02/2006", "1/2/2006", "01/02/06", "1/2/06"}

// Names the adjacent-date pattern picks up from labels rather than inquirers.
var inquiryNoise = map[string]bool{
	"DATE": true, "DATE OPENED": true, "DATE REPORTED": true, "DATE OF BIRTH": true,
	"DOB": true, "REPORT DATE": true, "LAST ACTIVITY": true, "BORN": true,
}

// Inquiries extracts (inquirer, date) pairs from both pattern families and
// de-duplicates on normalized inquirer name plus date. Pairs whose date does
// not parse are skipped and counted in the second return value.
func Inquiries(text string, ps *PatternSet) ([]model.CreditInquiry, int) {
	var (
		out     []model.CreditInquiry
		skipped int
		seen    = make(map[string]bool)
	)

	collect := func(name, date, context string, conf float64) {
		name = strings.TrimRight(strings.TrimSpace(name), " -,:")
		if name == "" || inquiryNoise[strings.ToUpper(name)] {
			return
		}
		when, ok := parseInquiryDate(date)
		if !ok {
			skipped++
			return
		}
		key := normalize.CreditorKey(name) + "|" + when.Format("2006-01-02")
		if seen[key] {
			return
		}
		seen[key] = true

		kind := model.InquiryHard
		if ps.SoftInquiry != nil && ps.SoftInquiry.MatchString(context) {
			kind = model.InquirySoft
		}
		out = append(out, model.CreditInquiry{
			InquirerName: name,
			InquiryDate:  &when,
			InquiryType:  kind,
			Confidence:   conf,
		})
	}

	for _, re := range ps.InquiryLabeled {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			if len(m) < 6 {
				continue
			}
			collect(text[m[2]:m[3]], text[m[4]:m[5]], lineAround(text, m[0], m[1]), 0.8)
		}
	}

	scope := inquirySection(text)
	for _, re := range ps.InquiryAdjacent {
		for _, m := range re.FindAllStringSubmatchIndex(scope, -1) {
			if len(m) < 6 {
				continue
			}
			collect(scope[m[2]:m[3]], scope[m[4]:m[5]], lineAround(scope, m[0], m[1]), 0.6)
		}
	}
	return out, skipped
}

// inquirySection narrows the adjacent-date family to the canonical inquiries
// section when the normalizer found one.
func inquirySection(text string) string {
	start := strings.Index(text, normalize.SectionInquiries)
	if start < 0 {
		return text
	}
	rest := text[start+len(normalize.SectionInquiries):]
	if next := strings.Index(rest, sectionPrefix); next >= 0 {
		rest = rest[:next]
	}
	return rest
}

func lineAround(text string, start, end int) string {
	if i := strings.LastIndexByte(text[:start], '\n'); i >= 0 {
		start = i + 1
	} else {
		start = 0
	}
	if i := strings.IndexByte(text[end:], '\n'); i >= 0 {
		end += i
	} else {
		end = len(text)
	}
	return text[start:end]
}

func parseInquiryDate(s string) (time.Time, bool) {
	for _, layout := range inquiryDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
