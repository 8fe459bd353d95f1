package extract

import (
	"regexp"

	"github.com/sells-group/bureau-cli/internal/model"
)

// StatusRule classifies an account block when Pattern matches. Rules are
// evaluated in order and the first match wins.
type StatusRule struct {
	Status  model.AccountStatus
	Pattern *regexp.Regexp
}

// NegativeRule detects one derogatory category.
type NegativeRule struct {
	Category model.NegativeCategory
	Severity int
	Pattern  *regexp.Regexp
}

// PatternSet is the ordered, per-field pattern configuration shared by the
// extractors. A PatternSet is never mutated after construction, so one value
// can be used by any number of concurrent extractions.
type PatternSet struct {
	Name        []*regexp.Regexp
	SSN         []*regexp.Regexp
	DateOfBirth []*regexp.Regexp
	Address     []*regexp.Regexp

	CreditorHeader *regexp.Regexp
	AccountNumber  []*regexp.Regexp
	Balance        []*regexp.Regexp
	Status         []StatusRule

	InquiryAdjacent []*regexp.Regexp
	InquiryLabeled  []*regexp.Regexp
	SoftInquiry     *regexp.Regexp

	Negative      []NegativeRule
	ContextWindow int
}

// Fixed per-category severities.
const (
	SeverityLatePayment = 3
	SeverityCollection  = 6
	SeverityChargeOff   = 8
	SeverityForeclosure = 9
	SeverityBankruptcy  = 10

	defaultContextWindow = 100
)

// Every personal-info pattern captures the field value in group 1. Lists run
// from labeled fields to positional heuristics.
const (
	namePart = `[A-Z][A-Za-z'\-]+(?:[ ][A-Z][A-Za-z'\-.]*){1,3}`
	datePart = `\d{1,2}[/\-]\d{1,2}[/\-]\d{4}|\d{4}-\d{2}-\d{2}|[A-Za-z]{3,9}\.?[ ]\d{1,2},?[ ]\d{4}`
	amount   = `(\d{1,3}(?:,\d{3})+(?:\.\d{2})?|\d+(?:\.\d{2})?)`
	street   = `\d{1,6}[ ](?:[A-Za-z0-9.]+[ ]){1,4}(?:ST|STREET|AVE|AVENUE|RD|ROAD|BLVD|DR|DRIVE|LN|LANE|CT|COURT|WAY|PL|PLACE|CIR|HWY|TER|PKWY)\.?(?:[ ](?:APT|UNIT|STE|#)[ ]?#?\w+)?`
	cityLine = `(?:,?[ \n][A-Za-z .]+,[ ]?[A-Z]{2}[ ]\d{5}(?:-\d{4})?)?`
	inqDate  = `(\d{1,2}/\d{1,2}/\d{2,4})`
)

// DefaultPatterns returns a fresh copy of the built-in pattern tables.
func DefaultPatterns() *PatternSet {
	return &PatternSet{
		Name: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^[ \t]*(?i:full[ ]name|consumer[ ]name|name)[ ]?[:\-][ ]?(` + namePart + `)[ \t]*$`),
			regexp.MustCompile(`(?m)^[ \t]*(?i:report[ ]for|prepared[ ]for|consumer)[ ]?:?[ ]?(` + namePart + `)[ \t]*$`),
			regexp.MustCompile(`\[SECTION:PERSONAL_INFO\]\n(` + namePart + `)\n`),
		},
		SSN: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(?:SSN|S\.S\.N\.)[ ]?[:#]?[ ]?(?:X{3}|\*{3}|\d{3})-?(?:X{2}|\*{2}|\d{2})-?(\d{4})\b`),
			regexp.MustCompile(`(?i)social[ ]security(?:[ ](?:number|no\.?|#))?[ ]?[:#]?[ ]?[X*\d]{3}-?[X*\d]{2}-?(\d{4})\b`),
			regexp.MustCompile(`(?:^|[^\w*])(?:XXX|\*{3})-(?:XX|\*{2})-(\d{4})\b`),
		},
		DateOfBirth: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(?:date[ ]of[ ]birth|birth[ ]?date|d\.?o\.?b\.?)[ ]?[:\-]?[ ]?(` + datePart + `)`),
			regexp.MustCompile(`(?i)\bborn(?:[ ]on)?[ ]?[:\-]?[ ]?(` + datePart + `)`),
		},
		Address: []*regexp.Regexp{
			regexp.MustCompile(`(?im)^[ \t]*(?:current[ ]|residential[ ]|mailing[ ])?address[ ]?[:\-][ ]?(\d[^\n]{4,80}` + cityLine + `)[ \t]*$`),
			regexp.MustCompile(`(?i)\b(` + street + cityLine + `)`),
		},

		CreditorHeader: regexp.MustCompile(`\b((?:[A-Z][A-Z0-9&'\-]*[ \t]+){1,4}(?:BANK|CARD|CREDIT|LOAN|MORTGAGE)S?)\b`),
		AccountNumber: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(?:account|acct)\.?[ ]?(?:number|no\.?|#)?[ ]?[:#][ ]?([X*\d][X*\d\- ]{2,20}\d)`),
			regexp.MustCompile(`\b([X*]{4,12}\d{2,4})\b`),
			regexp.MustCompile(`\b(\d{4}[X*]{4,12})\b`),
		},
		Balance: []*regexp.Regexp{
			regexp.MustCompile(`(?i)balance(?:[ ](?:owed|due))?[ ]?[:\-]?[ ]?\$?[ ]?` + amount),
			regexp.MustCompile(`(?i)(?:amount[ ]owed|owes|past[ ]due[ ]amount)[^$\n]{0,40}\$[ ]?` + amount),
			regexp.MustCompile(`\$[ ]?` + amount),
		},
		Status: []StatusRule{
			{Status: model.AccountStatusPaid, Pattern: regexp.MustCompile(`(?i)\bpaid\b`)},
			{Status: model.AccountStatusClosed, Pattern: regexp.MustCompile(`(?i)\bclosed\b`)},
			{Status: model.AccountStatusCurrent, Pattern: regexp.MustCompile(`(?i)\b(?:current|pays?[ ]as[ ]agreed|never[ ]late)\b`)},
			{Status: model.AccountStatusLate, Pattern: regexp.MustCompile(`(?i)\b(?:\d{2,3}[ ]days?[ ](?:late|past[ ]due)|late|past[ ]due|delinquent)\b`)},
			{Status: model.AccountStatusChargeOff, Pattern: regexp.MustCompile(`(?i)\bcharged?[ \-]?off\b`)},
			{Status: model.AccountStatusCollection, Pattern: regexp.MustCompile(`(?i)\bcollections?\b`)},
		},

		InquiryAdjacent: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^[ \t]*([A-Z][A-Z0-9&'.\-]*(?:[ ][A-Z0-9&'.\-]+){0,5})[ ]+(?:-[ ]+)?` + inqDate + `[ \t]*$`),
		},
		InquiryLabeled: []*regexp.Regexp{
			regexp.MustCompile(`(?i)inquiry(?:[ ](?:by|from))?[ ]?:[ ]?([A-Za-z0-9&'.\-]+(?:[ ][A-Za-z0-9&'.\-]+){0,5}?)[ ]?(?:,|-|on|dated?:?)?[ ]?` + inqDate),
		},
		SoftInquiry: regexp.MustCompile(`(?i)\b(?:soft|promotional|account[ ]review|pre-?approved)\b`),

		Negative: []NegativeRule{
			{Category: model.NegativeCollection, Severity: SeverityCollection, Pattern: regexp.MustCompile(`(?i)\bcollections?\b`)},
			{Category: model.NegativeChargeOff, Severity: SeverityChargeOff, Pattern: regexp.MustCompile(`(?i)\bcharged?[ \-]?off\b`)},
			{Category: model.NegativeLatePayment, Severity: SeverityLatePayment, Pattern: regexp.MustCompile(`(?i)\b(?:\d{2,3}[ ]days?[ ](?:late|past[ ]due)|late[ ]payments?)\b`)},
			{Category: model.NegativeBankruptcy, Severity: SeverityBankruptcy, Pattern: regexp.MustCompile(`(?i)\b(?:bankruptcy|chapter[ ](?:7|11|13))\b`)},
			{Category: model.NegativeForeclosure, Severity: SeverityForeclosure, Pattern: regexp.MustCompile(`(?i)\bforeclos(?:ure|ed)\b`)},
		},
		ContextWindow: defaultContextWindow,
	}
}

// firstMatch returns group 1 of the first pattern that matches s.
func firstMatch(patterns []*regexp.Regexp, s string) (string, bool) {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(s); m != nil && len(m) > 1 {
			return m[1], true
		}
	}
	return "", false
}
