// Package database defines the persistence port (interface).
package database

import (
	"context"

	"github.com/avolkov-dev/genrelay/internal/domain/billing"
	"github.com/avolkov-dev/genrelay/internal/domain/price"
	"github.com/avolkov-dev/genrelay/internal/domain/task"
)

// Store is the port interface for task, result, account and price persistence.
// Balance mutations are not part of this interface; they go through the
// ledger port exclusively.
type Store interface {
	// --- Accounts ---

	CreateAccount(ctx context.Context, userID string, balance int64, coefficient float64) (*billing.Account, error)
	GetAccount(ctx context.Context, userID string) (*billing.Account, error)
	ListAccounts(ctx context.Context) ([]billing.Account, error)
	// TopUp adds amount to the account balance and returns the updated account.
	TopUp(ctx context.Context, userID string, amount int64) (*billing.Account, error)

	// --- Tasks ---

	CreateTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasksByUser(ctx context.Context, userID string, limit int) ([]task.Task, error)
	// MarkInProgress transitions a task to in_progress and records the worker
	// and attempt count. Allowed from pending and from in_progress (crash
	// redelivery); returns domain.ErrConflict for terminal tasks.
	MarkInProgress(ctx context.Context, id, workerID string, attempt int) error
	// FinalizeTask transitions an in_progress task to the given terminal
	// status. Returns domain.ErrConflict if the task is not in_progress.
	FinalizeTask(ctx context.Context, id string, status task.Status) error
	// CancelPending transitions a pending task directly to failed. Returns
	// domain.ErrTaskNotCancellable if a worker already picked it up.
	CancelPending(ctx context.Context, id string) error

	// --- Results ---

	// PutResult stores a result keyed by task ID. The write is an idempotent
	// upsert: a second write for the same task returns the first result.
	PutResult(ctx context.Context, r *task.Result) (*task.Result, error)
	GetResult(ctx context.Context, taskID string) (*task.Result, error)

	// --- Prices ---

	GetPrice(ctx context.Context, model string) (*price.Price, error)
	ListPrices(ctx context.Context) ([]price.Price, error)
	UpsertPrice(ctx context.Context, p *price.Price) error
	GetUserPrice(ctx context.Context, userID, model string) (*price.UserPrice, error)
	SetUserPrice(ctx context.Context, up *price.UserPrice) error
}
