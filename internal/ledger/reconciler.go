package ledger

import (
	"context"
	"math"
	"sort"
)

// DefaultBalanceTolerance is the rounding slack allowed when comparing total
// debits against total credits. One cent absorbs decimal rounding introduced
// by currency conversion on individual lines.
const DefaultBalanceTolerance = 0.01

// MovementSource yields the journal movements attributable to a period. The
// period repositories implement it both pool-backed and transaction-scoped,
// so reconciliation inside a close transaction sees the locked state.
type MovementSource interface {
	PeriodMovements(ctx context.Context, periodID int64) ([]Movement, error)
}

// Reconciler aggregates period movements per account and proves double-entry
// correctness. It never signals failure through errors for unbalanced data;
// callers inspect Validate.
type Reconciler struct {
	tolerance float64
}

// NewReconciler constructs a Reconciler. A non-positive tolerance falls back
// to DefaultBalanceTolerance.
func NewReconciler(tolerance float64) *Reconciler {
	if tolerance <= 0 {
		tolerance = DefaultBalanceTolerance
	}
	return &Reconciler{tolerance: tolerance}
}

// Tolerance reports the configured balance tolerance.
func (r *Reconciler) Tolerance() float64 {
	return r.tolerance
}

// ComputeBalances groups the period's movements by account, sums debits and
// credits separately, and returns the balances ordered by account code. A
// period with no movements yields an empty, trivially valid result.
func (r *Reconciler) ComputeBalances(ctx context.Context, src MovementSource, periodID int64) ([]AccountBalance, error) {
	movements, err := src.PeriodMovements(ctx, periodID)
	if err != nil {
		return nil, err
	}

	byCode := make(map[string]*AccountBalance, len(movements))
	for _, m := range movements {
		bal, ok := byCode[m.AccountCode]
		if !ok {
			bal = &AccountBalance{
				AccountID:   m.AccountID,
				AccountCode: m.AccountCode,
				AccountName: m.AccountName,
				AccountType: m.AccountType,
			}
			byCode[m.AccountCode] = bal
		}
		bal.TotalDebit += m.Debit
		bal.TotalCredit += m.Credit
	}

	balances := make([]AccountBalance, 0, len(byCode))
	for _, bal := range byCode {
		bal.Balance = bal.TotalDebit - bal.TotalCredit
		balances = append(balances, *bal)
	}
	sort.Slice(balances, func(i, j int) bool {
		return balances[i].AccountCode < balances[j].AccountCode
	})
	return balances, nil
}

// Validate reports whether total debits equal total credits within tolerance.
// It must be called on the same collection later used for reporting totals.
func (r *Reconciler) Validate(balances []AccountBalance) bool {
	return math.Abs(r.TotalDebits(balances)-r.TotalCredits(balances)) < r.tolerance
}

// TotalDebits sums total_debit across the balances.
func (r *Reconciler) TotalDebits(balances []AccountBalance) float64 {
	var sum float64
	for _, b := range balances {
		sum += b.TotalDebit
	}
	return sum
}

// TotalCredits sums total_credit across the balances.
func (r *Reconciler) TotalCredits(balances []AccountBalance) float64 {
	var sum float64
	for _, b := range balances {
		sum += b.TotalCredit
	}
	return sum
}
