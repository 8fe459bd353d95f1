package extract

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/bureau-cli/internal/model"
)

var dateLayouts = []string{
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"1-2-2006",
	"2006-01-02",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"Jan. 2, 2006",
}

// minBirthYear rejects OCR noise like "01/01/0019".
const minBirthYear = 1900

// PersonalInfo extracts consumer identifiers. For each field the first
// pattern in the list that matches (and validates) wins. Returns nil when
// nothing was found.
func PersonalInfo(text string, ps *PatternSet) *model.PersonalInfo {
	info := &model.PersonalInfo{}

	if name, ok := firstMatch(ps.Name, text); ok {
		info.FullName = titleName(name)
	}
	if last4, ok := firstMatch(ps.SSN, text); ok {
		info.SSNLast4 = last4
	}
	for _, re := range ps.DateOfBirth {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		if dob, ok := parseBirthDate(m[1]); ok {
			info.DateOfBirth = &dob
			break
		}
	}
	if addr, ok := firstMatch(ps.Address, text); ok {
		info.Address = cleanAddress(addr)
	}

	n := info.FieldCount()
	if n == 0 {
		return nil
	}
	info.Confidence = float64(n) / 4
	return info
}

func titleName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return cases.Title(language.English).String(strings.ToLower(s))
}

func cleanAddress(s string) string {
	s = strings.ReplaceAll(s, "\n", ", ")
	s = strings.ReplaceAll(s, ",,", ",")
	return strings.Join(strings.Fields(s), " ")
}

func parseBirthDate(s string) (time.Time, bool) {
	t, ok := parseDate(s)
	if !ok || t.Year() <= minBirthYear {
		return time.Time{}, false
	}
	return t, true
}

// parseDate tries each known layout; time.Parse rejects impossible calendar
// days such as 02/30.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
