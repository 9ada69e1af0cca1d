package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/ledgerd/ledgerd/internal/ledger"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSalesEvent is the task type for ledger-affecting sales events.
	TaskTypeSalesEvent = "sales:event"
)

// NewSalesEventTask wraps a sales event into an Asynq task.
func NewSalesEventTask(event ledger.SalesEvent) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSalesEvent, data), nil
}

// NewSalesEventHandler builds the handler that feeds queued sales events into
// the processor. Invalid or unbalanced payloads are dropped rather than
// retried; transient failures retry with Asynq's default backoff.
func NewSalesEventHandler(processor *ledger.EventProcessor) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var event ledger.SalesEvent
		if err := json.Unmarshal(t.Payload(), &event); err != nil {
			return fmt.Errorf("sales event payload: %v: %w", err, asynq.SkipRetry)
		}
		if err := processor.Process(ctx, event); err != nil {
			if errors.Is(err, ledger.ErrEventInvalid) || errors.Is(err, ledger.ErrEventUnbalanced) {
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			return err
		}
		return nil
	}
}
