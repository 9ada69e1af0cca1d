package sales

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerd/ledgerd/internal/platform/db"
)

// Repository encapsulates DB operations for sales documents.
type Repository interface {
	FindInvoiceByID(ctx context.Context, id int64) (Invoice, error)
	FindInvoiceByNumber(ctx context.Context, number string) (Invoice, error)
	FindCreditNoteByInvoiceID(ctx context.Context, invoiceID int64) (*CreditNote, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the document operations available within a
// transaction. Invoice rows are the lock boundary for create/update/cancel.
type TxRepository interface {
	InsertInvoice(ctx context.Context, in CreateInvoiceInput) (Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error)
	UpdateInvoice(ctx context.Context, id int64, in UpdateInvoiceInput) (Invoice, error)
	MarkInvoiceCancelled(ctx context.Context, id int64, at time.Time) error
	CreditNoteExists(ctx context.Context, invoiceID int64) (bool, error)
	InsertCreditNote(ctx context.Context, note CreditNote) (CreditNote, error)
	InsertReceipt(ctx context.Context, in CreateReceiptInput) (Receipt, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx-backed sales repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const invoiceColumns = `id, invoice_number, issue_date, due_date, customer_id, total_amount, currency,
period_id, exchange_rate, base_currency_amount, status, cancelled_at, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.IssueDate, &inv.DueDate, &inv.CustomerID, &inv.TotalAmount,
		&inv.Currency, &inv.PeriodID, &inv.ExchangeRate, &inv.BaseCurrencyAmount, &inv.Status,
		&inv.CancelledAt, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	return inv, nil
}

func (r *repository) FindInvoiceByID(ctx context.Context, id int64) (Invoice, error) {
	return scanInvoice(r.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1`, id))
}

func (r *repository) FindInvoiceByNumber(ctx context.Context, number string) (Invoice, error) {
	return scanInvoice(r.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE invoice_number=$1`, number))
}

func (r *repository) FindCreditNoteByInvoiceID(ctx context.Context, invoiceID int64) (*CreditNote, error) {
	var n CreditNote
	err := r.db.QueryRow(ctx, `SELECT id, credit_note_number, invoice_id, issue_date, amount, currency,
period_id, exchange_rate, base_currency_amount, reason, created_at, updated_at
FROM credit_notes WHERE invoice_id=$1`, invoiceID).
		Scan(&n.ID, &n.Number, &n.InvoiceID, &n.IssueDate, &n.Amount, &n.Currency,
			&n.PeriodID, &n.ExchangeRate, &n.BaseCurrencyAmount, &n.Reason, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertInvoice(ctx context.Context, in CreateInvoiceInput) (Invoice, error) {
	inv := Invoice{
		Number:             in.Number,
		IssueDate:          in.IssueDate,
		DueDate:            in.DueDate,
		CustomerID:         in.CustomerID,
		TotalAmount:        in.TotalAmount,
		Currency:           in.Currency,
		PeriodID:           in.PeriodID,
		ExchangeRate:       in.ExchangeRate,
		BaseCurrencyAmount: in.BaseCurrencyAmount,
		Status:             InvoiceStatusIssued,
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO invoices
(invoice_number, issue_date, due_date, customer_id, total_amount, currency, period_id, exchange_rate, base_currency_amount, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id, created_at, updated_at`,
		in.Number, in.IssueDate, in.DueDate, in.CustomerID, in.TotalAmount, in.Currency,
		in.PeriodID, in.ExchangeRate, in.BaseCurrencyAmount, InvoiceStatusIssued).
		Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return Invoice{}, mapDuplicate(err)
	}
	return inv, nil
}

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	return scanInvoice(r.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateInvoice(ctx context.Context, id int64, in UpdateInvoiceInput) (Invoice, error) {
	current, err := r.GetInvoiceForUpdate(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if in.IssueDate != nil {
		current.IssueDate = *in.IssueDate
	}
	if in.DueDate != nil {
		current.DueDate = *in.DueDate
	}
	if in.TotalAmount != nil {
		current.TotalAmount = *in.TotalAmount
	}
	if in.Currency != nil {
		current.Currency = *in.Currency
	}
	if in.PeriodID != nil {
		current.PeriodID = *in.PeriodID
	}
	err = r.tx.QueryRow(ctx, `UPDATE invoices
SET issue_date=$2, due_date=$3, total_amount=$4, currency=$5, period_id=$6, updated_at=NOW()
WHERE id=$1 RETURNING updated_at`,
		id, current.IssueDate, current.DueDate, current.TotalAmount, current.Currency, current.PeriodID).
		Scan(&current.UpdatedAt)
	if err != nil {
		return Invoice{}, err
	}
	return current, nil
}

func (r *txRepository) MarkInvoiceCancelled(ctx context.Context, id int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE invoices SET status=$2, cancelled_at=$3, updated_at=NOW() WHERE id=$1`,
		id, InvoiceStatusCancelled, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *txRepository) CreditNoteExists(ctx context.Context, invoiceID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM credit_notes WHERE invoice_id=$1)`, invoiceID).
		Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertCreditNote(ctx context.Context, note CreditNote) (CreditNote, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO credit_notes
(credit_note_number, invoice_id, issue_date, amount, currency, period_id, exchange_rate, base_currency_amount, reason)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, created_at, updated_at`,
		note.Number, note.InvoiceID, note.IssueDate, note.Amount, note.Currency,
		note.PeriodID, note.ExchangeRate, note.BaseCurrencyAmount, note.Reason).
		Scan(&note.ID, &note.CreatedAt, &note.UpdatedAt)
	if err != nil {
		return CreditNote{}, mapDuplicate(err)
	}
	return note, nil
}

func (r *txRepository) InsertReceipt(ctx context.Context, in CreateReceiptInput) (Receipt, error) {
	rec := Receipt{
		Number:             in.Number,
		PaymentDate:        in.PaymentDate,
		Amount:             in.Amount,
		Currency:           in.Currency,
		PeriodID:           in.PeriodID,
		ExchangeRate:       in.ExchangeRate,
		BaseCurrencyAmount: in.BaseCurrencyAmount,
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO receipts
(receipt_number, payment_date, amount, currency, period_id, exchange_rate, base_currency_amount)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at, updated_at`,
		in.Number, in.PaymentDate, in.Amount, in.Currency, in.PeriodID, in.ExchangeRate, in.BaseCurrencyAmount).
		Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Receipt{}, mapDuplicate(err)
	}
	return rec, nil
}

func mapDuplicate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateNumber
	}
	return err
}
