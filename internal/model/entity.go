package model

import "time"

// InquiryType distinguishes hard and soft credit pulls.
type InquiryType string

const (
	InquiryHard InquiryType = "hard"
	InquirySoft InquiryType = "soft"
)

// NegativeCategory is one of the fixed derogatory-item families.
type NegativeCategory string

const (
	NegativeLatePayment NegativeCategory = "late_payment"
	NegativeCollection  NegativeCategory = "collection"
	NegativeChargeOff   NegativeCategory = "charge_off"
	NegativeForeclosure NegativeCategory = "foreclosure"
	NegativeBankruptcy  NegativeCategory = "bankruptcy"
)

// AccountStatus is the keyword-derived classification of a tradeline.
type AccountStatus string

const (
	AccountStatusPaid       AccountStatus = "paid"
	AccountStatusClosed     AccountStatus = "closed"
	AccountStatusCurrent    AccountStatus = "current"
	AccountStatusLate       AccountStatus = "late"
	AccountStatusChargeOff  AccountStatus = "charge_off"
	AccountStatusCollection AccountStatus = "collection"
	AccountStatusUnknown    AccountStatus = "unknown"
)

// IsNegative reports whether the status is derogatory.
func (s AccountStatus) IsNegative() bool {
	return s == AccountStatusLate || s == AccountStatusChargeOff || s == AccountStatusCollection
}

// PersonalInfo holds consumer identifiers. Unset fields are empty / nil.
type PersonalInfo struct {
	ReportID    string     `json:"report_id"`
	FullName    string     `json:"full_name,omitempty"`
	SSNLast4    string     `json:"ssn_last4,omitempty"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Address     string     `json:"address,omitempty"`
	Confidence  float64    `json:"confidence"`
}

// FieldCount returns how many identifier fields were populated.
func (p *PersonalInfo) FieldCount() int {
	if p == nil {
		return 0
	}
	n := 0
	if p.FullName != "" {
		n++
	}
	if p.SSNLast4 != "" {
		n++
	}
	if p.DateOfBirth != nil {
		n++
	}
	if p.Address != "" {
		n++
	}
	return n
}

// CreditAccount is one tradeline.
type CreditAccount struct {
	ID            string        `json:"id"`
	ReportID      string        `json:"report_id"`
	CreditorName  string        `json:"creditor_name"`
	AccountNumber string        `json:"account_number,omitempty"`
	Balance       *float64      `json:"balance,omitempty"`
	Status        AccountStatus `json:"status"`
	IsNegative    bool          `json:"is_negative"`
	Confidence    float64       `json:"confidence"`
}

// CreditInquiry is one (inquirer, date) pull.
type CreditInquiry struct {
	ID           string      `json:"id"`
	ReportID     string      `json:"report_id"`
	InquirerName string      `json:"inquirer_name"`
	InquiryDate  *time.Time  `json:"inquiry_date,omitempty"`
	InquiryType  InquiryType `json:"inquiry_type"`
	Confidence   float64     `json:"confidence"`
}

// NegativeItem is one derogatory mention with surrounding context.
type NegativeItem struct {
	ID              string           `json:"id"`
	ReportID        string           `json:"report_id"`
	Category        NegativeCategory `json:"category"`
	Description     string           `json:"description"`
	Severity        int              `json:"severity"`
	DisputeEligible bool             `json:"dispute_eligible"`
}

// EntitySet is the canonical structured output for one report.
type EntitySet struct {
	PersonalInfo  *PersonalInfo   `json:"personal_info,omitempty"`
	Accounts      []CreditAccount `json:"accounts"`
	Inquiries     []CreditInquiry `json:"inquiries"`
	NegativeItems []NegativeItem  `json:"negative_items"`
}

// Empty reports whether no extractor produced anything.
func (e *EntitySet) Empty() bool {
	return e == nil || (e.PersonalInfo.FieldCount() == 0 && len(e.Accounts) == 0 &&
		len(e.Inquiries) == 0 && len(e.NegativeItems) == 0)
}

// Counts summarises the set.
func (e *EntitySet) Counts() EntityCounts {
	if e == nil {
		return EntityCounts{}
	}
	c := EntityCounts{
		Accounts:      len(e.Accounts),
		Inquiries:     len(e.Inquiries),
		NegativeItems: len(e.NegativeItems),
	}
	if e.PersonalInfo.FieldCount() > 0 {
		c.PersonalInfo = 1
	}
	return c
}

// SetReportID stamps reportID on every entity in the set.
func (e *EntitySet) SetReportID(reportID string) {
	if e.PersonalInfo != nil {
		e.PersonalInfo.ReportID = reportID
	}
	for i := range e.Accounts {
		e.Accounts[i].ReportID = reportID
	}
	for i := range e.Inquiries {
		e.Inquiries[i].ReportID = reportID
	}
	for i := range e.NegativeItems {
		e.NegativeItems[i].ReportID = reportID
	}
}

// EntityCounts holds row counts per canonical table.
type EntityCounts struct {
	PersonalInfo  int `json:"personal_info"`
	Accounts      int `json:"accounts"`
	Inquiries     int `json:"inquiries"`
	NegativeItems int `json:"negative_items"`
}

// Total returns the sum of all counts.
func (c EntityCounts) Total() int {
	return c.PersonalInfo + c.Accounts + c.Inquiries + c.NegativeItems
}
