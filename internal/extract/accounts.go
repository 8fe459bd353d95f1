package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/bureau-cli/internal/model"
)

// Leading tokens the header pattern can swallow from a preceding status line.
var headerNoise = map[string]bool{
	"PAID": true, "CLOSED": true, "CURRENT": true, "LATE": true,
	"OPEN": true, "STATUS": true, "BALANCE": true, "AND": true, "THE": true,
}

// sectionPrefix starts every canonical section token; blocks never span one.
const sectionPrefix = "[SECTION:"

var currentBalanceLabel = regexp.MustCompile(`(?i)current[ ]balance`)

// Accounts splits text into blocks at creditor headers and parses each
// block. A block runs to the next header or section token. A block that
// yields no account number, balance or status is skipped. The second return
// value counts skipped blocks.
func Accounts(text string, ps *PatternSet) ([]model.CreditAccount, int) {
	locs := ps.CreditorHeader.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil, 0
	}

	var (
		accounts []model.CreditAccount
		skipped  int
	)
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if j := strings.Index(text[loc[1]:end], sectionPrefix); j >= 0 {
			end = loc[1] + j
		}
		header := text[loc[2]:loc[3]]
		block := text[loc[1]:end]

		acct, ok := parseAccountBlock(header, block, ps)
		if !ok {
			skipped++
			continue
		}
		accounts = append(accounts, acct)
	}
	return accounts, skipped
}

func parseAccountBlock(header, block string, ps *PatternSet) (model.CreditAccount, bool) {
	acct := model.CreditAccount{
		CreditorName: cleanCreditor(header),
		Status:       model.AccountStatusUnknown,
	}
	if acct.CreditorName == "" {
		return acct, false
	}

	fields := 0
	if num, ok := firstMatch(ps.AccountNumber, block); ok {
		acct.AccountNumber = strings.ReplaceAll(strings.TrimSpace(num), " ", "")
		fields++
	}
	if raw, ok := firstMatch(ps.Balance, block); ok {
		if bal, err := parseAmount(raw); err == nil {
			acct.Balance = &bal
			fields++
		}
	}
	acct.Status = classifyStatus(block, ps.Status)
	if acct.Status != model.AccountStatusUnknown {
		fields++
	}
	if fields == 0 {
		return acct, false
	}

	acct.IsNegative = acct.Status.IsNegative()
	acct.Confidence = 0.4 + 0.2*float64(fields)
	return acct, true
}

// classifyStatus returns the status of the first rule that matches. "Current
// balance" labels are masked so they cannot read as a current status.
func classifyStatus(block string, rules []StatusRule) model.AccountStatus {
	block = currentBalanceLabel.ReplaceAllString(block, "balance")
	for _, r := range rules {
		if r.Pattern.MatchString(block) {
			return r.Status
		}
	}
	return model.AccountStatusUnknown
}

func cleanCreditor(header string) string {
	words := strings.Fields(header)
	for len(words) > 1 && headerNoise[words[0]] {
		words = words[1:]
	}
	return strings.Join(words, " ")
}

func parseAmount(raw string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
}
