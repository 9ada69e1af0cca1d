package ledger

import "time"

// Account is a chart-of-accounts row. The engine only ever reads accounts;
// master-data management lives elsewhere.
type Account struct {
	ID        int64
	Code      string
	Name      string
	Type      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JournalEntry is an atomic, internally balanced posting.
type JournalEntry struct {
	ID              int64
	EntryNumber     string
	PostingDate     time.Time
	Description     string
	SourceReference string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Lines           []JournalEntryLine
}

// JournalEntryLine is one account movement. Exactly one of Debit and Credit
// is non-zero.
type JournalEntryLine struct {
	ID             int64
	JournalEntryID int64
	AccountID      int64
	Debit          float64
	Credit         float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Movement is a raw journal line attributable to a period, already joined to
// its account identity. Input to the reconciler.
type Movement struct {
	AccountID   int64
	AccountCode string
	AccountName string
	AccountType string
	Debit       float64
	Credit      float64
}

// AccountBalance is the aggregated position of one account within a period.
type AccountBalance struct {
	AccountID   int64   `json:"account_id"`
	AccountCode string  `json:"account_code"`
	AccountName string  `json:"account_name"`
	AccountType string  `json:"account_type"`
	TotalDebit  float64 `json:"total_debit"`
	TotalCredit float64 `json:"total_credit"`
	Balance     float64 `json:"balance"`
}
