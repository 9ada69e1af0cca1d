package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerd/ledgerd/internal/ledger"
	"github.com/ledgerd/ledgerd/internal/platform/db"
)

// BalanceFilter narrows the active-snapshot projection. Zero values mean no
// filter.
type BalanceFilter struct {
	PeriodID  int64
	AccountID int64
}

// Repository encapsulates DB operations for periods and their snapshots.
type Repository interface {
	FindByCode(ctx context.Context, code string) (Period, error)
	FindByID(ctx context.Context, id int64) (Period, error)
	ListBalances(ctx context.Context, filter BalanceFilter) ([]PeriodBalance, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the operations available within a close/reopen
// transaction. It also serves the reconciler as a movement source so the
// aggregation sees the transaction's locked view.
type TxRepository interface {
	GetPeriodForUpdate(ctx context.Context, id int64) (Period, error)
	UpdateStatus(ctx context.Context, id int64, status PeriodStatus) error
	LockPeriod(ctx context.Context, id int64, at time.Time) error
	ReopenPeriod(ctx context.Context, id int64) error
	RetireBalances(ctx context.Context, periodID int64, at time.Time) (int64, error)
	InsertBalances(ctx context.Context, periodID int64, balances []ledger.AccountBalance) error

	ledger.MovementSource
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx-backed period repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const periodColumns = `id, period_code, status, locked_at, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.Code, &p.Status, &p.LockedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (r *repository) FindByCode(ctx context.Context, code string) (Period, error) {
	return scanPeriod(r.db.QueryRow(ctx,
		`SELECT `+periodColumns+` FROM accounting_periods WHERE period_code=$1`, code))
}

func (r *repository) FindByID(ctx context.Context, id int64) (Period, error) {
	return scanPeriod(r.db.QueryRow(ctx,
		`SELECT `+periodColumns+` FROM accounting_periods WHERE id=$1`, id))
}

// ListBalances returns active snapshot rows ordered by period (newest first)
// then account code.
func (r *repository) ListBalances(ctx context.Context, filter BalanceFilter) ([]PeriodBalance, error) {
	query := `SELECT id, accounting_period_id, account_id, account_code, account_name, account_type,
total_debit, total_credit, balance, retired_at, created_at, updated_at
FROM accounting_period_balances WHERE retired_at IS NULL`
	args := []any{}
	if filter.PeriodID != 0 {
		args = append(args, filter.PeriodID)
		query += ` AND accounting_period_id=$1`
	}
	if filter.AccountID != 0 {
		args = append(args, filter.AccountID)
		if len(args) == 1 {
			query += ` AND account_id=$1`
		} else {
			query += ` AND account_id=$2`
		}
	}
	query += ` ORDER BY accounting_period_id DESC, account_code ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []PeriodBalance
	for rows.Next() {
		var b PeriodBalance
		if err := rows.Scan(&b.ID, &b.PeriodID, &b.AccountID, &b.AccountCode, &b.AccountName, &b.AccountType,
			&b.TotalDebit, &b.TotalCredit, &b.Balance, &b.RetiredAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

// GetPeriodForUpdate locks the period row for the duration of the
// transaction, serialising concurrent close/reopen attempts.
func (r *txRepository) GetPeriodForUpdate(ctx context.Context, id int64) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx,
		`SELECT `+periodColumns+` FROM accounting_periods WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status PeriodStatus) error {
	cmd, err := r.tx.Exec(ctx,
		`UPDATE accounting_periods SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPeriodNotFound
	}
	return nil
}

func (r *txRepository) LockPeriod(ctx context.Context, id int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx,
		`UPDATE accounting_periods SET status=$2, locked_at=$3, updated_at=NOW() WHERE id=$1`,
		id, StatusClosed, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPeriodNotFound
	}
	return nil
}

func (r *txRepository) ReopenPeriod(ctx context.Context, id int64) error {
	cmd, err := r.tx.Exec(ctx,
		`UPDATE accounting_periods SET status=$2, locked_at=NULL, updated_at=NOW() WHERE id=$1`,
		id, StatusOpen)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPeriodNotFound
	}
	return nil
}

// RetireBalances marks the period's active snapshot rows as superseded. Rows
// are never physically deleted; retired generations remain queryable.
func (r *txRepository) RetireBalances(ctx context.Context, periodID int64, at time.Time) (int64, error) {
	cmd, err := r.tx.Exec(ctx,
		`UPDATE accounting_period_balances SET retired_at=$2, updated_at=NOW()
WHERE accounting_period_id=$1 AND retired_at IS NULL`, periodID, at)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *txRepository) InsertBalances(ctx context.Context, periodID int64, balances []ledger.AccountBalance) error {
	batch := &pgx.Batch{}
	for _, b := range balances {
		batch.Queue(`INSERT INTO accounting_period_balances
(accounting_period_id, account_id, account_code, account_name, account_type, total_debit, total_credit, balance)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			periodID, b.AccountID, b.AccountCode, b.AccountName, b.AccountType, b.TotalDebit, b.TotalCredit, b.Balance)
	}
	results := r.tx.SendBatch(ctx, batch)
	defer results.Close()
	for range balances {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// PeriodMovements selects every journal line whose entry correlates, via its
// source reference, to a document still bound to the period. Cancelled
// invoices drop out because correlation is evaluated against current state.
func (r *txRepository) PeriodMovements(ctx context.Context, periodID int64) ([]ledger.Movement, error) {
	rows, err := r.tx.Query(ctx, `SELECT a.id, a.account_code, a.name, a.type, l.debit, l.credit
FROM journal_entry_lines l
JOIN journal_entries e ON l.journal_entry_id = e.id
JOIN accounts a ON l.account_id = a.id
WHERE EXISTS (
	SELECT 1 FROM invoices i
	WHERE e.source_reference = 'invoice:' || i.invoice_number
	  AND i.period_id = $1
	  AND i.status <> 'cancelled'
) OR EXISTS (
	SELECT 1 FROM receipts rc
	WHERE e.source_reference = 'receipt:' || rc.receipt_number
	  AND rc.period_id = $1
)`, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []ledger.Movement
	for rows.Next() {
		var m ledger.Movement
		if err := rows.Scan(&m.AccountID, &m.AccountCode, &m.AccountName, &m.AccountType, &m.Debit, &m.Credit); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}
