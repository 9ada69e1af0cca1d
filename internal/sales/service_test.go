package sales

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerd/ledgerd/internal/periods"
)

type memPeriodLookup map[int64]periods.Period

func (m memPeriodLookup) FindByID(ctx context.Context, id int64) (periods.Period, error) {
	p, ok := m[id]
	if !ok {
		return periods.Period{}, periods.ErrPeriodNotFound
	}
	return p, nil
}

// memSales emulates the sales repository in memory, including rollback:
// WithTx works on a copy and only publishes it when the closure succeeds.
type memSales struct {
	invoices map[int64]Invoice
	notes    map[int64]CreditNote
	receipts map[int64]Receipt
	nextID   int64
}

func newMemSales(invoices ...Invoice) *memSales {
	m := &memSales{invoices: map[int64]Invoice{}, notes: map[int64]CreditNote{}, receipts: map[int64]Receipt{}, nextID: 100}
	for _, inv := range invoices {
		m.invoices[inv.ID] = inv
	}
	return m
}

func (m *memSales) FindInvoiceByID(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (m *memSales) FindInvoiceByNumber(ctx context.Context, number string) (Invoice, error) {
	for _, inv := range m.invoices {
		if inv.Number == number {
			return inv, nil
		}
	}
	return Invoice{}, ErrInvoiceNotFound
}

func (m *memSales) FindCreditNoteByInvoiceID(ctx context.Context, invoiceID int64) (*CreditNote, error) {
	for _, n := range m.notes {
		if n.InvoiceID == invoiceID {
			note := n
			return &note, nil
		}
	}
	return nil, nil
}

func (m *memSales) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memSalesTx{
		invoices: map[int64]Invoice{},
		notes:    map[int64]CreditNote{},
		receipts: map[int64]Receipt{},
		nextID:   m.nextID,
	}
	for id, inv := range m.invoices {
		tx.invoices[id] = inv
	}
	for id, n := range m.notes {
		tx.notes[id] = n
	}
	for id, r := range m.receipts {
		tx.receipts[id] = r
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.invoices = tx.invoices
	m.notes = tx.notes
	m.receipts = tx.receipts
	m.nextID = tx.nextID
	return nil
}

type memSalesTx struct {
	invoices map[int64]Invoice
	notes    map[int64]CreditNote
	receipts map[int64]Receipt
	nextID   int64
}

func (tx *memSalesTx) InsertInvoice(ctx context.Context, in CreateInvoiceInput) (Invoice, error) {
	for _, inv := range tx.invoices {
		if inv.Number == in.Number {
			return Invoice{}, ErrDuplicateNumber
		}
	}
	inv := Invoice{
		ID:          tx.nextID,
		Number:      in.Number,
		IssueDate:   in.IssueDate,
		DueDate:     in.DueDate,
		CustomerID:  in.CustomerID,
		TotalAmount: in.TotalAmount,
		Currency:    in.Currency,
		PeriodID:    in.PeriodID,
		Status:      InvoiceStatusIssued,
	}
	tx.nextID++
	tx.invoices[inv.ID] = inv
	return inv, nil
}

func (tx *memSalesTx) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := tx.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (tx *memSalesTx) UpdateInvoice(ctx context.Context, id int64, in UpdateInvoiceInput) (Invoice, error) {
	inv, ok := tx.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	if in.IssueDate != nil {
		inv.IssueDate = *in.IssueDate
	}
	if in.DueDate != nil {
		inv.DueDate = *in.DueDate
	}
	if in.TotalAmount != nil {
		inv.TotalAmount = *in.TotalAmount
	}
	if in.Currency != nil {
		inv.Currency = *in.Currency
	}
	if in.PeriodID != nil {
		inv.PeriodID = *in.PeriodID
	}
	tx.invoices[id] = inv
	return inv, nil
}

func (tx *memSalesTx) MarkInvoiceCancelled(ctx context.Context, id int64, at time.Time) error {
	inv, ok := tx.invoices[id]
	if !ok {
		return ErrInvoiceNotFound
	}
	cancelledAt := at
	inv.Status = InvoiceStatusCancelled
	inv.CancelledAt = &cancelledAt
	tx.invoices[id] = inv
	return nil
}

func (tx *memSalesTx) CreditNoteExists(ctx context.Context, invoiceID int64) (bool, error) {
	for _, n := range tx.notes {
		if n.InvoiceID == invoiceID {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memSalesTx) InsertCreditNote(ctx context.Context, note CreditNote) (CreditNote, error) {
	for _, n := range tx.notes {
		if n.Number == note.Number {
			return CreditNote{}, ErrDuplicateNumber
		}
	}
	note.ID = tx.nextID
	tx.nextID++
	tx.notes[note.ID] = note
	return note, nil
}

func (tx *memSalesTx) InsertReceipt(ctx context.Context, in CreateReceiptInput) (Receipt, error) {
	for _, r := range tx.receipts {
		if r.Number == in.Number {
			return Receipt{}, ErrDuplicateNumber
		}
	}
	rec := Receipt{
		ID:          tx.nextID,
		Number:      in.Number,
		PaymentDate: in.PaymentDate,
		Amount:      in.Amount,
		Currency:    in.Currency,
		PeriodID:    in.PeriodID,
	}
	tx.nextID++
	tx.receipts[rec.ID] = rec
	return rec, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPeriods() memPeriodLookup {
	lockedAt := time.Date(2025, 10, 31, 0, 0, 0, 0, time.UTC)
	return memPeriodLookup{
		1: {ID: 1, Code: "2025-10", Status: periods.StatusClosed, LockedAt: &lockedAt},
		2: {ID: 2, Code: "2025-11", Status: periods.StatusOpen},
		3: {ID: 3, Code: "2025-12", Status: periods.StatusValidating},
	}
}

func newSalesService(repo *memSales) *Service {
	svc := NewService(repo, periods.NewGuard(testPeriods()), testLogger())
	svc.WithNow(func() time.Time { return time.Date(2025, 11, 20, 10, 0, 0, 0, time.UTC) })
	return svc
}

func invoiceInput(number string, periodID int64) CreateInvoiceInput {
	return CreateInvoiceInput{
		Number:      number,
		IssueDate:   time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC),
		DueDate:     time.Date(2025, 12, 5, 0, 0, 0, 0, time.UTC),
		CustomerID:  42,
		TotalAmount: 1500,
		Currency:    "EUR",
		PeriodID:    periodID,
	}
}

func TestCreateInvoiceInOpenPeriod(t *testing.T) {
	repo := newMemSales()
	svc := newSalesService(repo)

	result := svc.CreateInvoice(context.Background(), invoiceInput("INV-001", 2))
	require.True(t, result.Success)
	require.Equal(t, InvoiceStatusIssued, result.Invoice.Status)
	require.Len(t, repo.invoices, 1)

	// Retrievable by natural key afterwards.
	stored, err := repo.FindInvoiceByNumber(context.Background(), "INV-001")
	require.NoError(t, err)
	require.Equal(t, result.Invoice.ID, stored.ID)
}

func TestCreateInvoiceRejectedByPeriodState(t *testing.T) {
	tests := []struct {
		name     string
		periodID int64
		code     FailureCode
		contains string
	}{
		{"closed period", 1, FailurePeriodNotOpen, "2025-10 is closed"},
		{"validating period", 3, FailurePeriodNotOpen, "2025-12 is validating"},
		{"unknown period", 99, FailurePeriodNotFound, "not found"},
		{"missing period id", 0, FailurePeriodIDRequired, "required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemSales()
			svc := newSalesService(repo)

			result := svc.CreateInvoice(context.Background(), invoiceInput("INV-001", tt.periodID))
			require.False(t, result.Success)
			require.Equal(t, tt.code, result.Code)
			require.Contains(t, result.Message, tt.contains)
			require.Empty(t, repo.invoices)
		})
	}
}

func TestCreateInvoiceDuplicateNumber(t *testing.T) {
	repo := newMemSales()
	svc := newSalesService(repo)
	ctx := context.Background()

	require.True(t, svc.CreateInvoice(ctx, invoiceInput("INV-001", 2)).Success)
	result := svc.CreateInvoice(ctx, invoiceInput("INV-001", 2))
	require.False(t, result.Success)
	require.Equal(t, FailureConflict, result.Code)
}

func TestUpdateInvoiceInOpenPeriod(t *testing.T) {
	repo := newMemSales(Invoice{ID: 10, Number: "INV-001", PeriodID: 2, TotalAmount: 1500, Status: InvoiceStatusIssued})
	svc := newSalesService(repo)

	amount := 1800.0
	result := svc.UpdateInvoice(context.Background(), 10, UpdateInvoiceInput{TotalAmount: &amount})
	require.True(t, result.Success)
	require.Equal(t, 1800.0, result.Invoice.TotalAmount)
	require.Equal(t, 1800.0, repo.invoices[10].TotalAmount)
}

func TestUpdateInvoiceRejectedWhenSourcePeriodClosed(t *testing.T) {
	repo := newMemSales(Invoice{ID: 10, Number: "INV-001", PeriodID: 1, TotalAmount: 1500, Status: InvoiceStatusIssued})
	svc := newSalesService(repo)

	amount := 1800.0
	result := svc.UpdateInvoice(context.Background(), 10, UpdateInvoiceInput{TotalAmount: &amount})
	require.False(t, result.Success)
	require.Equal(t, FailurePeriodNotOpen, result.Code)
	require.Contains(t, result.Message, "Original accounting period 2025-10 is closed")
	require.Equal(t, 1500.0, repo.invoices[10].TotalAmount)
}

func TestUpdateInvoiceRejectedWhenTargetPeriodNotOpen(t *testing.T) {
	repo := newMemSales(Invoice{ID: 10, Number: "INV-001", PeriodID: 2, TotalAmount: 1500, Status: InvoiceStatusIssued})
	svc := newSalesService(repo)

	target := int64(1)
	result := svc.UpdateInvoice(context.Background(), 10, UpdateInvoiceInput{PeriodID: &target})
	require.False(t, result.Success)
	require.Equal(t, FailurePeriodNotOpen, result.Code)
	require.Contains(t, result.Message, "Cannot move invoice to period 2025-10")
	require.Equal(t, int64(2), repo.invoices[10].PeriodID)
}

func TestUpdateInvoiceNotFound(t *testing.T) {
	svc := newSalesService(newMemSales())
	result := svc.UpdateInvoice(context.Background(), 99, UpdateInvoiceInput{})
	require.False(t, result.Success)
	require.Equal(t, FailureNotFound, result.Code)
}

// The asymmetry that matters: the invoice's own period is closed, yet the
// cancellation succeeds because only the credit note's period must be open.
func TestCancelInvoiceWithClosedInvoicePeriod(t *testing.T) {
	repo := newMemSales(Invoice{
		ID: 10, Number: "INV-001", PeriodID: 1, TotalAmount: 1500, Currency: "EUR",
		Status: InvoiceStatusIssued,
	})
	svc := newSalesService(repo)

	result := svc.CancelInvoice(context.Background(), 10, CreditNoteInput{Number: "CN-001", PeriodID: 2})
	require.True(t, result.Success)
	require.Equal(t, InvoiceStatusCancelled, result.Invoice.Status)
	require.NotNil(t, result.Invoice.CancelledAt)

	note := result.CreditNote
	require.Equal(t, "CN-001", note.Number)
	require.Equal(t, int64(10), note.InvoiceID)
	require.Equal(t, int64(2), note.PeriodID)
	require.Equal(t, 1500.0, note.Amount)
	require.Equal(t, "EUR", note.Currency)
	require.Equal(t, "Invoice cancellation", note.Reason)

	require.Equal(t, InvoiceStatusCancelled, repo.invoices[10].Status)
	require.Len(t, repo.notes, 1)
}

func TestCancelInvoiceCopiesCurrencyMetadata(t *testing.T) {
	rate := 1.0875
	base := 1631.25
	repo := newMemSales(Invoice{
		ID: 10, Number: "INV-001", PeriodID: 2, TotalAmount: 1500, Currency: "USD",
		ExchangeRate: &rate, BaseCurrencyAmount: &base, Status: InvoiceStatusIssued,
	})
	svc := newSalesService(repo)

	result := svc.CancelInvoice(context.Background(), 10, CreditNoteInput{Number: "CN-001", PeriodID: 2, Reason: "Pricing error"})
	require.True(t, result.Success)
	require.Equal(t, &rate, result.CreditNote.ExchangeRate)
	require.Equal(t, &base, result.CreditNote.BaseCurrencyAmount)
	require.Equal(t, "Pricing error", result.CreditNote.Reason)
}

func TestCancelInvoiceFailureMatrix(t *testing.T) {
	base := Invoice{ID: 10, Number: "INV-001", PeriodID: 2, TotalAmount: 1500, Currency: "EUR", Status: InvoiceStatusIssued}

	t.Run("invoice not found", func(t *testing.T) {
		svc := newSalesService(newMemSales())
		result := svc.CancelInvoice(context.Background(), 99, CreditNoteInput{Number: "CN-001", PeriodID: 2})
		require.Equal(t, FailureNotFound, result.Code)
	})

	t.Run("already cancelled", func(t *testing.T) {
		cancelled := base
		cancelled.Status = InvoiceStatusCancelled
		svc := newSalesService(newMemSales(cancelled))
		result := svc.CancelInvoice(context.Background(), 10, CreditNoteInput{Number: "CN-001", PeriodID: 2})
		require.Equal(t, FailureAlreadyCancelled, result.Code)
	})

	t.Run("duplicate credit note", func(t *testing.T) {
		repo := newMemSales(base)
		repo.notes[1] = CreditNote{ID: 1, Number: "CN-000", InvoiceID: 10}
		svc := newSalesService(repo)
		result := svc.CancelInvoice(context.Background(), 10, CreditNoteInput{Number: "CN-001", PeriodID: 2})
		require.Equal(t, FailureDuplicateCreditNote, result.Code)
	})

	t.Run("period id required", func(t *testing.T) {
		svc := newSalesService(newMemSales(base))
		result := svc.CancelInvoice(context.Background(), 10, CreditNoteInput{Number: "CN-001"})
		require.Equal(t, FailurePeriodIDRequired, result.Code)
	})

	t.Run("credit note period not found", func(t *testing.T) {
		svc := newSalesService(newMemSales(base))
		result := svc.CancelInvoice(context.Background(), 10, CreditNoteInput{Number: "CN-001", PeriodID: 99})
		require.Equal(t, FailurePeriodNotFound, result.Code)
	})

	t.Run("credit note period closed", func(t *testing.T) {
		repo := newMemSales(base)
		svc := newSalesService(repo)
		result := svc.CancelInvoice(context.Background(), 10, CreditNoteInput{Number: "CN-001", PeriodID: 1})
		require.Equal(t, FailurePeriodNotOpen, result.Code)
		require.Contains(t, result.Message, "Credit notes can only be created in open periods")
		require.Equal(t, InvoiceStatusIssued, repo.invoices[10].Status)
	})
}

func TestCancelInvoiceTwiceSecondFails(t *testing.T) {
	repo := newMemSales(Invoice{ID: 10, Number: "INV-001", PeriodID: 2, TotalAmount: 1500, Currency: "EUR", Status: InvoiceStatusIssued})
	svc := newSalesService(repo)
	ctx := context.Background()

	require.True(t, svc.CancelInvoice(ctx, 10, CreditNoteInput{Number: "CN-001", PeriodID: 2}).Success)
	result := svc.CancelInvoice(ctx, 10, CreditNoteInput{Number: "CN-002", PeriodID: 2})
	require.False(t, result.Success)
	require.Equal(t, FailureAlreadyCancelled, result.Code)
	require.Len(t, repo.notes, 1)
}

func TestCreateReceiptInOpenPeriod(t *testing.T) {
	repo := newMemSales()
	svc := newSalesService(repo)

	result := svc.CreateReceipt(context.Background(), CreateReceiptInput{
		Number:      "RCP-001",
		PaymentDate: time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC),
		Amount:      500,
		Currency:    "EUR",
		PeriodID:    2,
	})
	require.True(t, result.Success)
	require.Len(t, repo.receipts, 1)
}

func TestCreateReceiptRejectedWhenPeriodClosed(t *testing.T) {
	repo := newMemSales()
	svc := newSalesService(repo)

	result := svc.CreateReceipt(context.Background(), CreateReceiptInput{
		Number:      "RCP-001",
		PaymentDate: time.Date(2025, 10, 10, 0, 0, 0, 0, time.UTC),
		Amount:      500,
		Currency:    "EUR",
		PeriodID:    1,
	})
	require.False(t, result.Success)
	require.Equal(t, FailurePeriodNotOpen, result.Code)
	require.Empty(t, repo.receipts)
}
