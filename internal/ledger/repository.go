package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerd/ledgerd/internal/platform/db"
)

// ErrAccountNotFound indicates a line referenced an unknown account code.
var ErrAccountNotFound = errors.New("ledger: account not found")

// EntryInput carries the fields required to insert a journal entry.
type EntryInput struct {
	EntryNumber     string
	PostingDate     time.Time
	Description     string
	SourceReference string
}

// LineInput carries one resolved journal line for insertion.
type LineInput struct {
	AccountID int64
	Debit     float64
	Credit    float64
}

// Repository encapsulates DB operations for the journal.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the journal operations available within a transaction.
// The existence check and entry-number allocation share the transaction with
// the insert so two concurrent deliveries cannot both decide "not yet
// processed".
type TxRepository interface {
	EntryExists(ctx context.Context, sourceReference string, postingDate time.Time) (bool, error)
	LastEntryNumber(ctx context.Context) (string, error)
	InsertEntry(ctx context.Context, in EntryInput) (JournalEntry, error)
	AccountIDByCode(ctx context.Context, code string) (int64, error)
	InsertLines(ctx context.Context, entryID int64, lines []LineInput) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx-backed journal repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) EntryExists(ctx context.Context, sourceReference string, postingDate time.Time) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM journal_entries WHERE source_reference=$1 AND posting_date=$2)`,
		sourceReference, postingDate).Scan(&exists)
	return exists, err
}

// LastEntryNumber returns the highest allocated entry number, locking the row
// so a concurrent allocation waits for this transaction.
func (r *txRepository) LastEntryNumber(ctx context.Context) (string, error) {
	var number string
	err := r.tx.QueryRow(ctx, `SELECT entry_number FROM journal_entries ORDER BY id DESC LIMIT 1 FOR UPDATE`).
		Scan(&number)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return number, nil
}

func (r *txRepository) InsertEntry(ctx context.Context, in EntryInput) (JournalEntry, error) {
	entry := JournalEntry{
		EntryNumber:     in.EntryNumber,
		PostingDate:     in.PostingDate,
		Description:     in.Description,
		SourceReference: in.SourceReference,
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (entry_number, posting_date, description, source_reference)
VALUES ($1,$2,$3,$4) RETURNING id, created_at, updated_at`,
		in.EntryNumber, in.PostingDate, in.Description, in.SourceReference).
		Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) AccountIDByCode(ctx context.Context, code string) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `SELECT id FROM accounts WHERE account_code=$1`, code).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return id, nil
}

// InsertLines bulk-inserts all lines for an entry in one batch round trip.
func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []LineInput) error {
	batch := &pgx.Batch{}
	for _, line := range lines {
		batch.Queue(`INSERT INTO journal_entry_lines (journal_entry_id, account_id, debit, credit)
VALUES ($1,$2,$3,$4)`, entryID, line.AccountID, line.Debit, line.Credit)
	}
	results := r.tx.SendBatch(ctx, batch)
	defer results.Close()
	for range lines {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
