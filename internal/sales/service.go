package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ledgerd/ledgerd/internal/periods"
)

// Service owns the mutating operations on sales documents. Every mutation
// passes the period guard before touching storage; all public operations
// return structured results.
type Service struct {
	repo   Repository
	guard  *periods.Guard
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the sales service with explicit collaborators.
func NewService(repo Repository, guard *periods.Guard, logger *slog.Logger) *Service {
	return &Service{repo: repo, guard: guard, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateInvoice creates an invoice after verifying its target period is open.
func (s *Service) CreateInvoice(ctx context.Context, in CreateInvoiceInput) InvoiceResult {
	if in.PeriodID == 0 {
		return InvoiceResult{Code: FailurePeriodIDRequired, Message: "Period ID is required."}
	}
	if err := in.Validate(); err != nil {
		return InvoiceResult{Code: FailureValidation, Message: err.Error()}
	}

	if _, err := s.guard.EnsureOpen(ctx, in.PeriodID); err != nil {
		if errors.Is(err, periods.ErrPeriodNotFound) {
			return InvoiceResult{Code: FailurePeriodNotFound, Message: "Accounting period not found."}
		}
		var notOpen *periods.PeriodNotOpenError
		if errors.As(err, &notOpen) {
			return InvoiceResult{
				Code: FailurePeriodNotOpen,
				Message: fmt.Sprintf("Cannot create invoice. Accounting period %s is %s. Only open periods allow transactions.",
					notOpen.PeriodCode, notOpen.Status),
			}
		}
		return s.invoiceInternalFailure("create invoice", in.Number, err)
	}

	var invoice Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var e error
		invoice, e = tx.InsertInvoice(ctx, in)
		return e
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateNumber) {
			return InvoiceResult{
				Code:    FailureConflict,
				Message: fmt.Sprintf("Invoice number %s already exists.", in.Number),
			}
		}
		return s.invoiceInternalFailure("create invoice", in.Number, err)
	}

	s.logger.Info("invoice created",
		slog.String("invoice", invoice.Number), slog.Int64("period_id", invoice.PeriodID))
	return InvoiceResult{Success: true, Message: "Invoice created successfully.", Invoice: &invoice}
}

// UpdateInvoice amends an invoice. The invoice's current period must be open;
// when the update moves the invoice, the target period must independently be
// open as well.
func (s *Service) UpdateInvoice(ctx context.Context, invoiceID int64, in UpdateInvoiceInput) InvoiceResult {
	invoice, err := s.repo.FindInvoiceByID(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, ErrInvoiceNotFound) {
			return InvoiceResult{Code: FailureNotFound, Message: "Invoice not found."}
		}
		return s.invoiceInternalFailure("update invoice", fmt.Sprintf("%d", invoiceID), err)
	}

	if _, err := s.guard.EnsureOpen(ctx, invoice.PeriodID); err != nil {
		var notOpen *periods.PeriodNotOpenError
		if errors.As(err, &notOpen) {
			return InvoiceResult{
				Code: FailurePeriodNotOpen,
				Message: fmt.Sprintf("Cannot update invoice. Original accounting period %s is %s. Only invoices in open periods can be modified.",
					notOpen.PeriodCode, notOpen.Status),
			}
		}
		if errors.Is(err, periods.ErrPeriodNotFound) {
			return InvoiceResult{Code: FailurePeriodNotFound, Message: "Accounting period not found."}
		}
		return s.invoiceInternalFailure("update invoice", invoice.Number, err)
	}

	if in.PeriodID != nil && *in.PeriodID != invoice.PeriodID {
		if _, err := s.guard.EnsureOpen(ctx, *in.PeriodID); err != nil {
			if errors.Is(err, periods.ErrPeriodNotFound) {
				return InvoiceResult{Code: FailurePeriodNotFound, Message: "Target accounting period not found."}
			}
			var notOpen *periods.PeriodNotOpenError
			if errors.As(err, &notOpen) {
				return InvoiceResult{
					Code: FailurePeriodNotOpen,
					Message: fmt.Sprintf("Cannot move invoice to period %s. Target period is %s.",
						notOpen.PeriodCode, notOpen.Status),
				}
			}
			return s.invoiceInternalFailure("update invoice", invoice.Number, err)
		}
	}

	var updated Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var e error
		updated, e = tx.UpdateInvoice(ctx, invoiceID, in)
		return e
	})
	if err != nil {
		return s.invoiceInternalFailure("update invoice", invoice.Number, err)
	}

	s.logger.Info("invoice updated", slog.String("invoice", updated.Number))
	return InvoiceResult{Success: true, Message: "Invoice updated successfully.", Invoice: &updated}
}

// CancelInvoice cancels an invoice and creates the reversing credit note in
// one transaction. The invoice's own period need not be open; the credit
// note's period must be. The credit note copies the invoice's amount and
// currency metadata in full.
func (s *Service) CancelInvoice(ctx context.Context, invoiceID int64, in CreditNoteInput) CancelResult {
	invoice, err := s.repo.FindInvoiceByID(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, ErrInvoiceNotFound) {
			return CancelResult{Code: FailureNotFound, Message: "Invoice not found."}
		}
		return s.cancelInternalFailure(fmt.Sprintf("%d", invoiceID), err)
	}
	if invoice.Status == InvoiceStatusCancelled {
		return CancelResult{
			Code:    FailureAlreadyCancelled,
			Message: fmt.Sprintf("Invoice %s is already cancelled.", invoice.Number),
		}
	}

	existing, err := s.repo.FindCreditNoteByInvoiceID(ctx, invoiceID)
	if err != nil {
		return s.cancelInternalFailure(invoice.Number, err)
	}
	if existing != nil {
		return CancelResult{
			Code:    FailureDuplicateCreditNote,
			Message: fmt.Sprintf("Credit note already exists for invoice %s.", invoice.Number),
		}
	}

	if in.PeriodID == 0 {
		return CancelResult{Code: FailurePeriodIDRequired, Message: "Credit note period_id is required."}
	}

	notePeriod, err := s.guard.EnsureOpen(ctx, in.PeriodID)
	if err != nil {
		if errors.Is(err, periods.ErrPeriodNotFound) {
			return CancelResult{Code: FailurePeriodNotFound, Message: "Credit note accounting period not found."}
		}
		var notOpen *periods.PeriodNotOpenError
		if errors.As(err, &notOpen) {
			return CancelResult{
				Code: FailurePeriodNotOpen,
				Message: fmt.Sprintf("Cannot create credit note. Accounting period %s is %s. Credit notes can only be created in open periods.",
					notOpen.PeriodCode, notOpen.Status),
			}
		}
		return s.cancelInternalFailure(invoice.Number, err)
	}

	var (
		cancelled Invoice
		note      CreditNote
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		// Re-check under the row lock: a concurrent cancel may have won.
		if locked.Status == InvoiceStatusCancelled {
			return ErrAlreadyCancelled
		}
		dup, err := tx.CreditNoteExists(ctx, invoiceID)
		if err != nil {
			return err
		}
		if dup {
			return ErrDuplicateCreditNote
		}

		now := s.now()
		if err := tx.MarkInvoiceCancelled(ctx, locked.ID, now); err != nil {
			return err
		}

		issueDate := now
		if in.IssueDate != nil {
			issueDate = *in.IssueDate
		}
		reason := in.Reason
		if reason == "" {
			reason = "Invoice cancellation"
		}
		note, err = tx.InsertCreditNote(ctx, CreditNote{
			Number:             in.Number,
			InvoiceID:          locked.ID,
			IssueDate:          issueDate,
			Amount:             locked.TotalAmount,
			Currency:           locked.Currency,
			PeriodID:           in.PeriodID,
			ExchangeRate:       locked.ExchangeRate,
			BaseCurrencyAmount: locked.BaseCurrencyAmount,
			Reason:             reason,
		})
		if err != nil {
			return err
		}

		cancelledAt := now
		cancelled = locked
		cancelled.Status = InvoiceStatusCancelled
		cancelled.CancelledAt = &cancelledAt
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyCancelled):
			return CancelResult{
				Code:    FailureAlreadyCancelled,
				Message: fmt.Sprintf("Invoice %s is already cancelled.", invoice.Number),
			}
		case errors.Is(err, ErrDuplicateCreditNote):
			return CancelResult{
				Code:    FailureDuplicateCreditNote,
				Message: fmt.Sprintf("Credit note already exists for invoice %s.", invoice.Number),
			}
		case errors.Is(err, ErrDuplicateNumber):
			return CancelResult{
				Code:    FailureConflict,
				Message: fmt.Sprintf("Credit note number %s already exists.", in.Number),
			}
		}
		return s.cancelInternalFailure(invoice.Number, err)
	}

	s.logger.Info("invoice cancelled",
		slog.String("invoice", cancelled.Number),
		slog.String("credit_note", note.Number),
		slog.String("credit_note_period", notePeriod.Code))
	return CancelResult{
		Success:    true,
		Message:    "Invoice cancelled successfully.",
		Invoice:    &cancelled,
		CreditNote: &note,
	}
}

// CreateReceipt creates a receipt after verifying its target period is open.
func (s *Service) CreateReceipt(ctx context.Context, in CreateReceiptInput) ReceiptResult {
	if in.PeriodID == 0 {
		return ReceiptResult{Code: FailurePeriodIDRequired, Message: "Period ID is required."}
	}
	if err := in.Validate(); err != nil {
		return ReceiptResult{Code: FailureValidation, Message: err.Error()}
	}

	if _, err := s.guard.EnsureOpen(ctx, in.PeriodID); err != nil {
		if errors.Is(err, periods.ErrPeriodNotFound) {
			return ReceiptResult{Code: FailurePeriodNotFound, Message: "Accounting period not found."}
		}
		var notOpen *periods.PeriodNotOpenError
		if errors.As(err, &notOpen) {
			return ReceiptResult{
				Code: FailurePeriodNotOpen,
				Message: fmt.Sprintf("Cannot create receipt. Accounting period %s is %s. Only open periods allow transactions.",
					notOpen.PeriodCode, notOpen.Status),
			}
		}
		s.logger.Error("create receipt", slog.String("receipt", in.Number), slog.Any("error", err))
		return ReceiptResult{Code: FailureInternal, Message: "Error creating receipt."}
	}

	var receipt Receipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var e error
		receipt, e = tx.InsertReceipt(ctx, in)
		return e
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateNumber) {
			return ReceiptResult{
				Code:    FailureConflict,
				Message: fmt.Sprintf("Receipt number %s already exists.", in.Number),
			}
		}
		s.logger.Error("create receipt", slog.String("receipt", in.Number), slog.Any("error", err))
		return ReceiptResult{Code: FailureInternal, Message: "Error creating receipt."}
	}

	s.logger.Info("receipt created",
		slog.String("receipt", receipt.Number), slog.Int64("period_id", receipt.PeriodID))
	return ReceiptResult{Success: true, Message: "Receipt created successfully.", Receipt: &receipt}
}

func (s *Service) invoiceInternalFailure(op, ref string, err error) InvoiceResult {
	s.logger.Error(op, slog.String("invoice", ref), slog.Any("error", err))
	return InvoiceResult{Code: FailureInternal, Message: "Error processing invoice."}
}

func (s *Service) cancelInternalFailure(ref string, err error) CancelResult {
	s.logger.Error("cancel invoice", slog.String("invoice", ref), slog.Any("error", err))
	return CancelResult{Code: FailureInternal, Message: "Error cancelling invoice."}
}
