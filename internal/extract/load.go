package extract

import (
	"os"
	"regexp"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/bureau-cli/internal/model"
)

// patternFile is the on-disk override format. Any list left empty keeps the
// built-in default for that field.
type patternFile struct {
	Personal struct {
		Name        []string `yaml:"name"`
		SSN         []string `yaml:"ssn"`
		DateOfBirth []string `yaml:"date_of_birth"`
		Address     []string `yaml:"address"`
	} `yaml:"personal"`
	Accounts struct {
		CreditorHeader string   `yaml:"creditor_header"`
		AccountNumber  []string `yaml:"account_number"`
		Balance        []string `yaml:"balance"`
		Status         []struct {
			Status  string `yaml:"status"`
			Pattern string `yaml:"pattern"`
		} `yaml:"status"`
	} `yaml:"accounts"`
	Inquiries struct {
		Adjacent []string `yaml:"adjacent"`
		Labeled  []string `yaml:"labeled"`
		Soft     string   `yaml:"soft"`
	} `yaml:"inquiries"`
	Negative []struct {
		Category string `yaml:"category"`
		Severity int    `yaml:"severity"`
		Pattern  string `yaml:"pattern"`
	} `yaml:"negative"`
	ContextWindow int `yaml:"context_window"`
}

// LoadPatterns reads a YAML pattern file and overlays it on the defaults.
// An empty path returns the defaults unchanged.
func LoadPatterns(path string) (*PatternSet, error) {
	if path == "" {
		return DefaultPatterns(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: read patterns %s", path)
	}
	return ParsePatterns(data)
}

// ParsePatterns overlays YAML pattern overrides on the defaults.
func ParsePatterns(data []byte) (*PatternSet, error) {
	var f patternFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "extract: parse patterns")
	}

	ps := DefaultPatterns()
	var err error
	if ps.Name, err = compileList("personal.name", f.Personal.Name, ps.Name); err != nil {
		return nil, err
	}
	if ps.SSN, err = compileList("personal.ssn", f.Personal.SSN, ps.SSN); err != nil {
		return nil, err
	}
	if ps.DateOfBirth, err = compileList("personal.date_of_birth", f.Personal.DateOfBirth, ps.DateOfBirth); err != nil {
		return nil, err
	}
	if ps.Address, err = compileList("personal.address", f.Personal.Address, ps.Address); err != nil {
		return nil, err
	}
	if f.Accounts.CreditorHeader != "" {
		if ps.CreditorHeader, err = compile("accounts.creditor_header", f.Accounts.CreditorHeader); err != nil {
			return nil, err
		}
	}
	if ps.AccountNumber, err = compileList("accounts.account_number", f.Accounts.AccountNumber, ps.AccountNumber); err != nil {
		return nil, err
	}
	if ps.Balance, err = compileList("accounts.balance", f.Accounts.Balance, ps.Balance); err != nil {
		return nil, err
	}
	if len(f.Accounts.Status) > 0 {
		rules := make([]StatusRule, 0, len(f.Accounts.Status))
		for _, s := range f.Accounts.Status {
			re, err := compile("accounts.status."+s.Status, s.Pattern)
			if err != nil {
				return nil, err
			}
			rules = append(rules, StatusRule{Status: model.AccountStatus(s.Status), Pattern: re})
		}
		ps.Status = rules
	}
	if ps.InquiryAdjacent, err = compileList("inquiries.adjacent", f.Inquiries.Adjacent, ps.InquiryAdjacent); err != nil {
		return nil, err
	}
	if ps.InquiryLabeled, err = compileList("inquiries.labeled", f.Inquiries.Labeled, ps.InquiryLabeled); err != nil {
		return nil, err
	}
	if f.Inquiries.Soft != "" {
		if ps.SoftInquiry, err = compile("inquiries.soft", f.Inquiries.Soft); err != nil {
			return nil, err
		}
	}
	if len(f.Negative) > 0 {
		rules := make([]NegativeRule, 0, len(f.Negative))
		for _, n := range f.Negative {
			re, err := compile("negative."+n.Category, n.Pattern)
			if err != nil {
				return nil, err
			}
			rules = append(rules, NegativeRule{
				Category: model.NegativeCategory(n.Category),
				Severity: n.Severity,
				Pattern:  re,
			})
		}
		ps.Negative = rules
	}
	if f.ContextWindow > 0 {
		ps.ContextWindow = f.ContextWindow
	}
	return ps, nil
}

func compileList(field string, exprs []string, def []*regexp.Regexp) ([]*regexp.Regexp, error) {
	if len(exprs) == 0 {
		return def, nil
	}
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		re, err := compile(field, e)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

func compile(field, expr string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: compile %s", field)
	}
	return re, nil
}
