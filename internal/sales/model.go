package sales

import (
	"errors"
	"strings"
	"time"
)

// InvoiceStatus enumerates invoice lifecycle values.
type InvoiceStatus string

const (
	InvoiceStatusIssued    InvoiceStatus = "issued"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// Invoice is a postable sales document bound to exactly one period at
// creation time.
type Invoice struct {
	ID                 int64         `json:"id"`
	Number             string        `json:"invoice_number"`
	IssueDate          time.Time     `json:"issue_date"`
	DueDate            time.Time     `json:"due_date"`
	CustomerID         int64         `json:"customer_id"`
	TotalAmount        float64       `json:"total_amount"`
	Currency           string        `json:"currency"`
	PeriodID           int64         `json:"period_id"`
	ExchangeRate       *float64      `json:"exchange_rate,omitempty"`
	BaseCurrencyAmount *float64      `json:"base_currency_amount,omitempty"`
	Status             InvoiceStatus `json:"status"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// CreditNote reverses a cancelled invoice in full. It is bound to its own
// period, independent of the invoice's.
type CreditNote struct {
	ID                 int64     `json:"id"`
	Number             string    `json:"credit_note_number"`
	InvoiceID          int64     `json:"invoice_id"`
	IssueDate          time.Time `json:"issue_date"`
	Amount             float64   `json:"amount"`
	Currency           string    `json:"currency"`
	PeriodID           int64     `json:"period_id"`
	ExchangeRate       *float64  `json:"exchange_rate,omitempty"`
	BaseCurrencyAmount *float64  `json:"base_currency_amount,omitempty"`
	Reason             string    `json:"reason"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Receipt records a payment, bound to one period like an invoice.
type Receipt struct {
	ID                 int64     `json:"id"`
	Number             string    `json:"receipt_number"`
	PaymentDate        time.Time `json:"payment_date"`
	Amount             float64   `json:"amount"`
	Currency           string    `json:"currency"`
	PeriodID           int64     `json:"period_id"`
	ExchangeRate       *float64  `json:"exchange_rate,omitempty"`
	BaseCurrencyAmount *float64  `json:"base_currency_amount,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// CreateInvoiceInput carries the fields for a new invoice.
type CreateInvoiceInput struct {
	Number             string
	IssueDate          time.Time
	DueDate            time.Time
	CustomerID         int64
	TotalAmount        float64
	Currency           string
	PeriodID           int64
	ExchangeRate       *float64
	BaseCurrencyAmount *float64
}

// Validate checks structural requirements before the guard runs.
func (in CreateInvoiceInput) Validate() error {
	if strings.TrimSpace(in.Number) == "" {
		return errors.New("sales: invoice number required")
	}
	if in.CustomerID == 0 {
		return errors.New("sales: customer id required")
	}
	if in.TotalAmount <= 0 {
		return errors.New("sales: total amount must be positive")
	}
	return nil
}

// UpdateInvoiceInput carries partial invoice changes; nil fields are left
// untouched.
type UpdateInvoiceInput struct {
	IssueDate   *time.Time
	DueDate     *time.Time
	TotalAmount *float64
	Currency    *string
	PeriodID    *int64
}

// CreditNoteInput carries caller-supplied fields for the reversing credit
// note; amount and currency metadata are copied from the invoice.
type CreditNoteInput struct {
	Number    string
	PeriodID  int64
	IssueDate *time.Time
	Reason    string
}

// CreateReceiptInput carries the fields for a new receipt.
type CreateReceiptInput struct {
	Number             string
	PaymentDate        time.Time
	Amount             float64
	Currency           string
	PeriodID           int64
	ExchangeRate       *float64
	BaseCurrencyAmount *float64
}

// Validate checks structural requirements before the guard runs.
func (in CreateReceiptInput) Validate() error {
	if strings.TrimSpace(in.Number) == "" {
		return errors.New("sales: receipt number required")
	}
	if in.Amount <= 0 {
		return errors.New("sales: amount must be positive")
	}
	return nil
}

var (
	// ErrInvoiceNotFound indicates the invoice does not exist.
	ErrInvoiceNotFound = errors.New("sales: invoice not found")
	// ErrAlreadyCancelled indicates the invoice was cancelled earlier.
	ErrAlreadyCancelled = errors.New("sales: invoice already cancelled")
	// ErrDuplicateCreditNote indicates a credit note already exists for the invoice.
	ErrDuplicateCreditNote = errors.New("sales: credit note already exists")
	// ErrDuplicateNumber indicates a natural-key collision on a document number.
	ErrDuplicateNumber = errors.New("sales: document number already exists")
)

// FailureCode classifies operation failures for pattern-matching callers.
type FailureCode string

const (
	FailureNone                FailureCode = ""
	FailureNotFound            FailureCode = "not_found"
	FailurePeriodNotFound      FailureCode = "period_not_found"
	FailurePeriodNotOpen       FailureCode = "period_not_open"
	FailurePeriodIDRequired    FailureCode = "period_id_required"
	FailureAlreadyCancelled    FailureCode = "already_cancelled"
	FailureDuplicateCreditNote FailureCode = "duplicate_credit_note"
	FailureValidation          FailureCode = "validation"
	FailureConflict            FailureCode = "conflict"
	FailureInternal            FailureCode = "internal"
)

// InvoiceResult is the structured outcome of invoice create/update.
type InvoiceResult struct {
	Success bool        `json:"success"`
	Code    FailureCode `json:"code,omitempty"`
	Message string      `json:"message"`
	Invoice *Invoice    `json:"invoice,omitempty"`
}

// CancelResult is the structured outcome of invoice cancellation.
type CancelResult struct {
	Success    bool        `json:"success"`
	Code       FailureCode `json:"code,omitempty"`
	Message    string      `json:"message"`
	Invoice    *Invoice    `json:"invoice,omitempty"`
	CreditNote *CreditNote `json:"credit_note,omitempty"`
}

// ReceiptResult is the structured outcome of receipt creation.
type ReceiptResult struct {
	Success bool        `json:"success"`
	Code    FailureCode `json:"code,omitempty"`
	Message string      `json:"message"`
	Receipt *Receipt    `json:"receipt,omitempty"`
}
