package periods

import "context"

// PeriodLookup is the read-only period access the guard needs.
type PeriodLookup interface {
	FindByID(ctx context.Context, id int64) (Period, error)
}

// Guard enforces lifecycle preconditions for mutating operations on
// business transactions. It is the single authority for "is this period
// writable"; document services compose its answers into their own rules.
type Guard struct {
	periods PeriodLookup
}

// NewGuard constructs a Guard.
func NewGuard(periods PeriodLookup) *Guard {
	return &Guard{periods: periods}
}

// EnsureOpen returns the period when it exists and is open. Otherwise it
// returns ErrPeriodNotFound or a PeriodNotOpenError naming the period code
// and its actual status.
func (g *Guard) EnsureOpen(ctx context.Context, periodID int64) (Period, error) {
	period, err := g.periods.FindByID(ctx, periodID)
	if err != nil {
		return Period{}, err
	}
	if period.Status != StatusOpen {
		return Period{}, &PeriodNotOpenError{PeriodCode: period.Code, Status: period.Status}
	}
	return period, nil
}
