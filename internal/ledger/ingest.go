package ledger

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const entryNumberPrefix = "JE-"

var (
	// ErrEventInvalid indicates a structurally unusable event payload.
	ErrEventInvalid = errors.New("ledger: event payload invalid")
	// ErrEventUnbalanced indicates the event's lines do not balance.
	ErrEventUnbalanced = errors.New("ledger: event lines do not balance")
)

// SalesEvent is a ledger-affecting business event. Idempotency is keyed on
// (SourceReference, PostingDate); EventID only correlates logs.
type SalesEvent struct {
	EventID         uuid.UUID        `json:"event_id"`
	SourceReference string           `json:"source_reference"`
	PostingDate     time.Time        `json:"posting_date"`
	Description     string           `json:"description"`
	Lines           []SalesEventLine `json:"lines"`
}

// SalesEventLine is one requested account movement.
type SalesEventLine struct {
	AccountCode string  `json:"account_code"`
	Debit       float64 `json:"debit"`
	Credit      float64 `json:"credit"`
}

// Validate checks structural requirements before any storage work.
func (e SalesEvent) Validate() error {
	if strings.TrimSpace(e.SourceReference) == "" {
		return fmt.Errorf("%w: source_reference required", ErrEventInvalid)
	}
	if e.PostingDate.IsZero() {
		return fmt.Errorf("%w: posting_date required", ErrEventInvalid)
	}
	if len(e.Lines) == 0 {
		return fmt.Errorf("%w: at least one line required", ErrEventInvalid)
	}
	for i, line := range e.Lines {
		if strings.TrimSpace(line.AccountCode) == "" {
			return fmt.Errorf("%w: line %d missing account_code", ErrEventInvalid, i)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("%w: line %d has negative amount", ErrEventInvalid, i)
		}
		if (line.Debit == 0) == (line.Credit == 0) {
			return fmt.Errorf("%w: line %d must carry exactly one of debit or credit", ErrEventInvalid, i)
		}
	}
	return nil
}

// EventProcessor converts sales events into balanced journal entries exactly
// once per (source_reference, posting_date) pair.
type EventProcessor struct {
	repo      Repository
	logger    *slog.Logger
	tolerance float64
}

// NewEventProcessor constructs the processor.
func NewEventProcessor(repo Repository, logger *slog.Logger, tolerance float64) *EventProcessor {
	if tolerance <= 0 {
		tolerance = DefaultBalanceTolerance
	}
	return &EventProcessor{repo: repo, logger: logger, tolerance: tolerance}
}

// Process posts the journal entry derived from the event. Re-delivery of an
// already-processed event is a no-op, not an error. Any failure after partial
// work rolls the whole transaction back.
func (p *EventProcessor) Process(ctx context.Context, event SalesEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	var debits, credits float64
	for _, line := range event.Lines {
		debits += line.Debit
		credits += line.Credit
	}
	if math.Abs(debits-credits) >= p.tolerance {
		return fmt.Errorf("%w: debits %.2f credits %.2f", ErrEventUnbalanced, debits, credits)
	}

	hash := contentHash(event)

	return p.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.EntryExists(ctx, event.SourceReference, event.PostingDate)
		if err != nil {
			return err
		}
		if exists {
			p.logger.Info("event already processed, skipping",
				slog.String("source_reference", event.SourceReference),
				slog.String("hash", hash))
			return nil
		}

		last, err := tx.LastEntryNumber(ctx)
		if err != nil {
			return err
		}

		description := event.Description
		if description == "" {
			description = "Sales event"
		}
		entry, err := tx.InsertEntry(ctx, EntryInput{
			EntryNumber:     nextEntryNumber(last),
			PostingDate:     event.PostingDate,
			Description:     description,
			SourceReference: event.SourceReference,
		})
		if err != nil {
			return err
		}

		lines := make([]LineInput, 0, len(event.Lines))
		for _, line := range event.Lines {
			accountID, err := tx.AccountIDByCode(ctx, line.AccountCode)
			if err != nil {
				if errors.Is(err, ErrAccountNotFound) {
					return fmt.Errorf("%w: %s", ErrAccountNotFound, line.AccountCode)
				}
				return err
			}
			lines = append(lines, LineInput{AccountID: accountID, Debit: line.Debit, Credit: line.Credit})
		}
		if err := tx.InsertLines(ctx, entry.ID, lines); err != nil {
			return err
		}

		p.logger.Info("sales event processed",
			slog.String("entry_number", entry.EntryNumber),
			slog.String("source_reference", event.SourceReference),
			slog.String("hash", hash))
		return nil
	})
}

// nextEntryNumber derives the monotonic entry number from the highest
// existing one, formatted JE-NNNNNN.
func nextEntryNumber(last string) string {
	next := 1
	if trimmed := strings.TrimPrefix(last, entryNumberPrefix); trimmed != "" && trimmed != last {
		if n, err := strconv.Atoi(trimmed); err == nil {
			next = n + 1
		}
	}
	return fmt.Sprintf("%s%06d", entryNumberPrefix, next)
}

// contentHash fingerprints the payload for log correlation. It is not the
// idempotency key.
func contentHash(event SalesEvent) string {
	raw, err := json.Marshal(event)
	if err != nil {
		return ""
	}
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:])
}
