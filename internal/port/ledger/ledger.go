// Package ledger defines the balance ledger port (interface).
//
// The ledger is the only place account balances are mutated. All three
// operations are atomic and idempotent keyed by hold ID, so duplicate queue
// deliveries cannot double-charge or double-refund.
package ledger

import (
	"context"

	"github.com/avolkov-dev/genrelay/internal/domain/billing"
)

// Ledger mediates reservations against per-user balances.
type Ledger interface {
	// Reserve atomically checks balance >= amount, decrements the balance
	// and creates a held reservation bound to taskID. Returns the hold ID,
	// or domain.ErrInsufficientFunds with no partial effect.
	Reserve(ctx context.Context, userID string, amount int64, taskID string) (holdID string, err error)

	// Commit settles a hold at the actual cost, refunding the difference
	// between the reserved and actual amounts. Committing an already
	// committed hold with the same amount is a no-op; with a different
	// amount, or on a released hold, it fails with domain.ErrHoldResolved.
	// An actual cost above the reserved amount fails with
	// domain.ErrCostExceedsHold and leaves the hold untouched.
	Commit(ctx context.Context, holdID string, actualAmount int64) error

	// Release returns the full reserved amount to the balance. Releasing
	// an already released hold is a no-op; releasing a committed hold
	// fails with domain.ErrHoldResolved.
	Release(ctx context.Context, holdID string) error

	// GetHold returns the hold by ID for inspection.
	GetHold(ctx context.Context, holdID string) (*billing.Hold, error)
}
