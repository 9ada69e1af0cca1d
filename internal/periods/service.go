package periods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ledgerd/ledgerd/internal/ledger"
)

// Service is the period lifecycle controller. It owns the close/reopen
// transactional protocols and the active-snapshot projection. All public
// operations return structured results; no internal error escapes the
// boundary.
type Service struct {
	repo       Repository
	reconciler *ledger.Reconciler
	cache      *BalanceCache
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs the lifecycle controller. cache may be nil.
func NewService(repo Repository, reconciler *ledger.Reconciler, cache *BalanceCache, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		reconciler: reconciler,
		cache:      cache,
		logger:     logger,
		now:        time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ClosePeriod drives a period from open (or validating) to closed, proving
// it balanced and persisting a fresh snapshot generation on the way. Any
// failure inside the transaction rolls everything back, including the
// intermediate locking status.
func (s *Service) ClosePeriod(ctx context.Context, code string) CloseResult {
	period, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrPeriodNotFound) {
			return CloseResult{Code: FailurePeriodNotFound, Message: fmt.Sprintf("Period %s not found.", code)}
		}
		return s.closeInternalFailure(code, err)
	}
	if period.Status == StatusClosed {
		return CloseResult{Code: FailureAlreadyClosed, Message: fmt.Sprintf("Period %s is already closed.", code)}
	}
	if !period.CanClose() {
		return CloseResult{
			Code:    FailureInvalidTransition,
			Message: fmt.Sprintf("Period %s cannot be closed from status %s.", code, period.Status),
		}
	}

	var (
		balances []ledger.AccountBalance
		closed   Period
		observed = period
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetPeriodForUpdate(ctx, period.ID)
		if err != nil {
			return err
		}
		// Re-check under the row lock: a concurrent close may have won.
		observed = locked
		if locked.Status == StatusClosed {
			return ErrAlreadyClosed
		}
		if !locked.CanClose() {
			return ErrInvalidTransition
		}

		if err := tx.UpdateStatus(ctx, locked.ID, StatusLocking); err != nil {
			return err
		}
		s.logger.Info("period status changed to locking", slog.String("period", code))

		balances, err = s.reconciler.ComputeBalances(ctx, tx, locked.ID)
		if err != nil {
			return err
		}
		if !s.reconciler.Validate(balances) {
			return &UnbalancedError{
				TotalDebits:  s.reconciler.TotalDebits(balances),
				TotalCredits: s.reconciler.TotalCredits(balances),
			}
		}

		now := s.now()
		if _, err := tx.RetireBalances(ctx, locked.ID, now); err != nil {
			return err
		}
		if err := tx.InsertBalances(ctx, locked.ID, balances); err != nil {
			return err
		}
		if err := tx.LockPeriod(ctx, locked.ID, now); err != nil {
			return err
		}

		lockedAt := now
		closed = locked
		closed.Status = StatusClosed
		closed.LockedAt = &lockedAt
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyClosed):
			return CloseResult{Code: FailureAlreadyClosed, Message: fmt.Sprintf("Period %s is already closed.", code)}
		case errors.Is(err, ErrInvalidTransition):
			return CloseResult{
				Code:    FailureInvalidTransition,
				Message: fmt.Sprintf("Period %s cannot be closed from status %s.", code, observed.Status),
			}
		}
		var unbalanced *UnbalancedError
		if errors.As(err, &unbalanced) {
			s.logger.Warn("period close rejected, not balanced",
				slog.String("period", code),
				slog.Float64("total_debits", unbalanced.TotalDebits),
				slog.Float64("total_credits", unbalanced.TotalCredits))
			return CloseResult{
				Code: FailureUnbalanced,
				Message: fmt.Sprintf("Period %s not balanced. Total debits: %.2f, total credits: %.2f.",
					code, unbalanced.TotalDebits, unbalanced.TotalCredits),
				TotalDebits:  unbalanced.TotalDebits,
				TotalCredits: unbalanced.TotalCredits,
			}
		}
		return s.closeInternalFailure(code, err)
	}

	s.bumpCache(ctx)
	s.logger.Info("period closed", slog.String("period", code), slog.Int("accounts", len(balances)))
	return CloseResult{
		Success:      true,
		Message:      fmt.Sprintf("Period %s closed successfully.", code),
		Period:       &closed,
		Balances:     balances,
		TotalDebits:  s.reconciler.TotalDebits(balances),
		TotalCredits: s.reconciler.TotalCredits(balances),
	}
}

// ReopenPeriod reverts a closed period to open, retiring its active snapshot
// rows. History is preserved: retirement never deletes.
func (s *Service) ReopenPeriod(ctx context.Context, code string) ReopenResult {
	period, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrPeriodNotFound) {
			return ReopenResult{Code: FailurePeriodNotFound, Message: fmt.Sprintf("Period %s not found.", code)}
		}
		return s.reopenInternalFailure(code, err)
	}
	if period.Status != StatusClosed {
		return ReopenResult{
			Code:    FailureInvalidTransition,
			Message: fmt.Sprintf("Period %s cannot be reopened. Status: %s.", code, period.Status),
		}
	}

	var (
		reopened Period
		observed = period
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetPeriodForUpdate(ctx, period.ID)
		if err != nil {
			return err
		}
		observed = locked
		if locked.Status != StatusClosed {
			return ErrInvalidTransition
		}

		retired, err := tx.RetireBalances(ctx, locked.ID, s.now())
		if err != nil {
			return err
		}
		s.logger.Info("retired balance snapshot rows",
			slog.String("period", code), slog.Int64("count", retired))

		if err := tx.ReopenPeriod(ctx, locked.ID); err != nil {
			return err
		}

		reopened = locked
		reopened.Status = StatusOpen
		reopened.LockedAt = nil
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return ReopenResult{
				Code:    FailureInvalidTransition,
				Message: fmt.Sprintf("Period %s cannot be reopened. Status: %s.", code, observed.Status),
			}
		}
		return s.reopenInternalFailure(code, err)
	}

	s.bumpCache(ctx)
	s.logger.Info("period reopened", slog.String("period", code))
	return ReopenResult{
		Success: true,
		Message: fmt.Sprintf("Period %s reopened successfully.", code),
		Period:  &reopened,
	}
}

// BalanceList is the read projection of active snapshot rows.
type BalanceList struct {
	Count    int             `json:"count"`
	Balances []PeriodBalance `json:"balances"`
}

// ListBalances returns active (non-retired) snapshot rows, optionally
// filtered by period and account.
func (s *Service) ListBalances(ctx context.Context, filter BalanceFilter) (BalanceList, error) {
	balances, err := s.repo.ListBalances(ctx, filter)
	if err != nil {
		return BalanceList{}, err
	}
	return BalanceList{Count: len(balances), Balances: balances}, nil
}

// FindByID exposes period lookup for the guard and document services.
func (s *Service) FindByID(ctx context.Context, id int64) (Period, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) bumpCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("balance cache bump", slog.Any("error", err))
	}
}

func (s *Service) closeInternalFailure(code string, err error) CloseResult {
	s.logger.Error("close period", slog.String("period", code), slog.Any("error", err))
	return CloseResult{Code: FailureInternal, Message: fmt.Sprintf("Error closing period %s.", code)}
}

func (s *Service) reopenInternalFailure(code string, err error) ReopenResult {
	s.logger.Error("reopen period", slog.String("period", code), slog.Any("error", err))
	return ReopenResult{Code: FailureInternal, Message: fmt.Sprintf("Error reopening period %s.", code)}
}
