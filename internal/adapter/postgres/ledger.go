package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avolkov-dev/genrelay/internal/domain"
	"github.com/avolkov-dev/genrelay/internal/domain/billing"
)

// Ledger implements the ledger port using PostgreSQL.
//
// Reservations use a conditional UPDATE on the account row (balance >= amount)
// so the check and the decrement are one atomic statement; concurrent
// reservations against one account serialize on that row while different
// users' accounts stay independent. Commit and release lock the hold row
// (SELECT ... FOR UPDATE) to make per-hold resolution mutually exclusive.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Reserve atomically debits the account and creates a held reservation.
func (l *Ledger) Reserve(ctx context.Context, userID string, amount int64, taskID string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("reserve for %s: amount must be positive", userID)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("reserve for %s: begin: %w", userID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = balance - $2, version = version + 1, updated_at = now()
		 WHERE user_id = $1 AND balance >= $2`,
		userID, amount)
	if err != nil {
		return "", fmt.Errorf("reserve for %s: debit: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
			return "", fmt.Errorf("reserve for %s: %w", userID, err)
		}
		if !exists {
			return "", fmt.Errorf("reserve for %s: %w", userID, domain.ErrNotFound)
		}
		return "", fmt.Errorf("reserve for %s: %w", userID, domain.ErrInsufficientFunds)
	}

	holdID := uuid.NewString()
	_, err = tx.Exec(ctx,
		`INSERT INTO holds (id, user_id, task_id, amount, state)
		 VALUES ($1, $2, $3, $4, $5)`,
		holdID, userID, taskID, amount, string(billing.HoldHeld))
	if err != nil {
		return "", fmt.Errorf("reserve for %s: create hold: %w", userID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("reserve for %s: commit: %w", userID, err)
	}
	return holdID, nil
}

// Commit settles a hold at actualAmount and refunds the unused remainder.
func (l *Ledger) Commit(ctx context.Context, holdID string, actualAmount int64) error {
	if actualAmount < 0 {
		return fmt.Errorf("commit hold %s: actual amount must be non-negative", holdID)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("commit hold %s: begin: %w", holdID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	h, err := lockHold(ctx, tx, holdID)
	if err != nil {
		return fmt.Errorf("commit hold %s: %w", holdID, err)
	}

	switch h.State {
	case billing.HoldCommitted:
		// Duplicate delivery: verify and do not re-apply.
		if h.ActualAmount != actualAmount {
			return fmt.Errorf("commit hold %s: committed at %d, retried with %d: %w",
				holdID, h.ActualAmount, actualAmount, domain.ErrHoldResolved)
		}
		return nil
	case billing.HoldReleased:
		return fmt.Errorf("commit hold %s: %w", holdID, domain.ErrHoldResolved)
	}

	if actualAmount > h.Amount {
		return fmt.Errorf("commit hold %s: reserved %d, actual %d: %w",
			holdID, h.Amount, actualAmount, domain.ErrCostExceedsHold)
	}

	if delta := h.Amount - actualAmount; delta > 0 {
		if err := refund(ctx, tx, h.UserID, delta); err != nil {
			return fmt.Errorf("commit hold %s: %w", holdID, err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE holds SET state = $2, actual_amount = $3, resolved_at = now() WHERE id = $1`,
		holdID, string(billing.HoldCommitted), actualAmount)
	if err != nil {
		return fmt.Errorf("commit hold %s: %w", holdID, err)
	}

	return tx.Commit(ctx)
}

// Release returns the full reserved amount to the account.
func (l *Ledger) Release(ctx context.Context, holdID string) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("release hold %s: begin: %w", holdID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	h, err := lockHold(ctx, tx, holdID)
	if err != nil {
		return fmt.Errorf("release hold %s: %w", holdID, err)
	}

	switch h.State {
	case billing.HoldReleased:
		// Duplicate delivery: already refunded.
		return nil
	case billing.HoldCommitted:
		return fmt.Errorf("release hold %s: %w", holdID, domain.ErrHoldResolved)
	}

	if err := refund(ctx, tx, h.UserID, h.Amount); err != nil {
		return fmt.Errorf("release hold %s: %w", holdID, err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE holds SET state = $2, resolved_at = now() WHERE id = $1`,
		holdID, string(billing.HoldReleased))
	if err != nil {
		return fmt.Errorf("release hold %s: %w", holdID, err)
	}

	return tx.Commit(ctx)
}

// GetHold returns the hold by ID.
func (l *Ledger) GetHold(ctx context.Context, holdID string) (*billing.Hold, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT id, user_id, task_id, amount, COALESCE(actual_amount, 0), state, created_at, resolved_at
		 FROM holds WHERE id = $1`, holdID)

	h, err := scanHold(row)
	if err != nil {
		return nil, notFoundWrap(err, "get hold %s", holdID)
	}
	return &h, nil
}

// lockHold loads a hold row under FOR UPDATE within tx.
func lockHold(ctx context.Context, tx pgx.Tx, holdID string) (billing.Hold, error) {
	row := tx.QueryRow(ctx,
		`SELECT id, user_id, task_id, amount, COALESCE(actual_amount, 0), state, created_at, resolved_at
		 FROM holds WHERE id = $1 FOR UPDATE`, holdID)

	h, err := scanHold(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return h, domain.ErrNotFound
		}
		return h, err
	}
	return h, nil
}

// refund credits amount back to the account within tx.
func refund(ctx context.Context, tx pgx.Tx, userID string, amount int64) error {
	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = balance + $2, version = version + 1, updated_at = now()
		 WHERE user_id = $1`,
		userID, amount)
	if err != nil {
		return fmt.Errorf("refund %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("refund %s: %w", userID, domain.ErrNotFound)
	}
	return nil
}

func scanHold(row scannable) (billing.Hold, error) {
	var h billing.Hold
	var state string
	var resolvedAt *time.Time
	err := row.Scan(&h.ID, &h.UserID, &h.TaskID, &h.Amount, &h.ActualAmount, &state, &h.CreatedAt, &resolvedAt)
	h.State = billing.HoldState(state)
	h.ResolvedAt = resolvedAt
	return h, err
}
