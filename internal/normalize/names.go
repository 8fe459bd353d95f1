package normalize

import (
	"regexp"
	"strings"
)

// legalSuffixes lists creditor entity suffixes stripped during name matching.
var legalSuffixes = []string{
	" LLC", " L.L.C.", " INC", " INC.", " CORP", " CORP.", " CORPORATION",
	" CO", " CO.", " NA", " N.A.", " FSB", " F.S.B.", " LTD", " LTD.",
}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// CreditorKey standardizes a creditor or inquirer name so OCR variants of the
// same furnisher compare equal:
//  1. Trim and upper-case
//  2. Remove one legal suffix (LLC, N.A., FSB, ...)
//  3. Strip punctuation, "&" becomes "AND"
//  4. Collapse repeated spaces
func CreditorKey(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return ""
	}

	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"&", " AND ",
		"-", " ",
		"/", " ",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}
