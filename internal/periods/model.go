package periods

import (
	"errors"
	"fmt"
	"time"

	"github.com/ledgerd/ledgerd/internal/ledger"
)

// PeriodStatus enumerates accounting period lifecycle stages.
type PeriodStatus string

const (
	StatusOpen PeriodStatus = "open"
	// StatusValidating is defined in the schema and accepted as a close
	// source, but nothing transitions a period into it yet.
	StatusValidating PeriodStatus = "validating"
	// StatusLocking is the visible intermediate state while a close
	// transaction is in flight. It never survives a commit.
	StatusLocking PeriodStatus = "locking"
	StatusClosed  PeriodStatus = "closed"
)

// Period is a reporting interval. LockedAt is non-nil iff Status is closed.
type Period struct {
	ID        int64        `json:"id"`
	Code      string       `json:"code"`
	Status    PeriodStatus `json:"status"`
	LockedAt  *time.Time   `json:"locked_at,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// CanClose reports whether the period is in a legal close source state.
func (p Period) CanClose() bool {
	return p.Status == StatusOpen || p.Status == StatusValidating
}

// PeriodBalance is one snapshot row per (period, account). Account identity
// fields are denormalised so the audit trail stays stable if the account
// master changes later. RetiredAt marks superseded generations; at most one
// active row exists per (period, account).
type PeriodBalance struct {
	ID          int64      `json:"id"`
	PeriodID    int64      `json:"period_id"`
	AccountID   int64      `json:"account_id"`
	AccountCode string     `json:"account_code"`
	AccountName string     `json:"account_name"`
	AccountType string     `json:"account_type"`
	TotalDebit  float64    `json:"total_debit"`
	TotalCredit float64    `json:"total_credit"`
	Balance     float64    `json:"balance"`
	RetiredAt   *time.Time `json:"retired_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ErrPeriodNotFound indicates the requested period does not exist.
var ErrPeriodNotFound = errors.New("periods: period not found")

// ErrAlreadyClosed indicates a close was requested on a closed period.
var ErrAlreadyClosed = errors.New("periods: period already closed")

// ErrInvalidTransition indicates the status does not permit the operation.
var ErrInvalidTransition = errors.New("periods: status transition not allowed")

// PeriodNotOpenError reports a guard rejection, naming the period and its
// actual status so the caller need not re-query state.
type PeriodNotOpenError struct {
	PeriodCode string
	Status     PeriodStatus
}

func (e *PeriodNotOpenError) Error() string {
	return fmt.Sprintf("periods: period %s is %s, only open periods allow transactions", e.PeriodCode, e.Status)
}

// UnbalancedError carries both totals of a failed close validation.
type UnbalancedError struct {
	TotalDebits  float64
	TotalCredits float64
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("periods: period not balanced, total debits %.2f, total credits %.2f", e.TotalDebits, e.TotalCredits)
}

// FailureCode classifies operation failures for callers that pattern-match
// instead of parsing messages.
type FailureCode string

const (
	FailureNone              FailureCode = ""
	FailurePeriodNotFound    FailureCode = "period_not_found"
	FailureAlreadyClosed     FailureCode = "already_closed"
	FailureInvalidTransition FailureCode = "invalid_transition"
	FailureUnbalanced        FailureCode = "unbalanced"
	FailureInternal          FailureCode = "internal"
)

// CloseResult is the structured outcome of ClosePeriod. On success the
// period is closed and the snapshot persisted; on failure nothing changed.
type CloseResult struct {
	Success      bool                    `json:"success"`
	Code         FailureCode             `json:"code,omitempty"`
	Message      string                  `json:"message"`
	Period       *Period                 `json:"period,omitempty"`
	Balances     []ledger.AccountBalance `json:"balances,omitempty"`
	TotalDebits  float64                 `json:"total_debits"`
	TotalCredits float64                 `json:"total_credits"`
}

// ReopenResult is the structured outcome of ReopenPeriod.
type ReopenResult struct {
	Success bool        `json:"success"`
	Code    FailureCode `json:"code,omitempty"`
	Message string      `json:"message"`
	Period  *Period     `json:"period,omitempty"`
}
