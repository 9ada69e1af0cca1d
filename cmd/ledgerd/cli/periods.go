// Package cli offers operational helpers for driving the period lifecycle
// from the command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ledgerd/ledgerd/internal/periods"
)

// PeriodsCLI wraps manual close/reopen helpers around the lifecycle service.
type PeriodsCLI struct {
	service *periods.Service
	out     io.Writer
}

// NewPeriodsCLI initialises the CLI helpers.
func NewPeriodsCLI(service *periods.Service, out io.Writer) *PeriodsCLI {
	return &PeriodsCLI{service: service, out: out}
}

// Close drives the full close protocol for the named period and prints the
// outcome.
func (c *PeriodsCLI) Close(ctx context.Context, code string) error {
	if c == nil || c.service == nil {
		return errors.New("periods cli: service not configured")
	}
	result := c.service.ClosePeriod(ctx, code)
	fmt.Fprintln(c.out, result.Message)
	if !result.Success {
		return fmt.Errorf("periods cli: close failed (%s)", result.Code)
	}
	fmt.Fprintf(c.out, "accounts: %d, debits: %.2f, credits: %.2f\n",
		len(result.Balances), result.TotalDebits, result.TotalCredits)
	return nil
}

// Reopen reverts the named period to open and prints the outcome.
func (c *PeriodsCLI) Reopen(ctx context.Context, code string) error {
	if c == nil || c.service == nil {
		return errors.New("periods cli: service not configured")
	}
	result := c.service.ReopenPeriod(ctx, code)
	fmt.Fprintln(c.out, result.Message)
	if !result.Success {
		return fmt.Errorf("periods cli: reopen failed (%s)", result.Code)
	}
	return nil
}
