package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avolkov-dev/genrelay/internal/domain"
	"github.com/avolkov-dev/genrelay/internal/domain/billing"
	"github.com/avolkov-dev/genrelay/internal/domain/price"
	"github.com/avolkov-dev/genrelay/internal/domain/task"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Accounts ---

func (s *Store) CreateAccount(ctx context.Context, userID string, balance int64, coefficient float64) (*billing.Account, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (user_id, balance, coefficient)
		 VALUES ($1, $2, $3)
		 RETURNING user_id, balance, coefficient, version, created_at, updated_at`,
		userID, balance, coefficient)

	a, err := scanAccount(row)
	if err != nil {
		if uniqueViolation(err) {
			return nil, fmt.Errorf("create account %s: %w", userID, domain.ErrConflict)
		}
		return nil, fmt.Errorf("create account %s: %w", userID, err)
	}
	return &a, nil
}

func (s *Store) GetAccount(ctx context.Context, userID string) (*billing.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, balance, coefficient, version, created_at, updated_at
		 FROM accounts WHERE user_id = $1`, userID)

	a, err := scanAccount(row)
	if err != nil {
		return nil, notFoundWrap(err, "get account %s", userID)
	}
	return &a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]billing.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, balance, coefficient, version, created_at, updated_at
		 FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []billing.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *Store) TopUp(ctx context.Context, userID string, amount int64) (*billing.Account, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("top up %s: amount must be positive", userID)
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE accounts SET balance = balance + $2, version = version + 1, updated_at = now()
		 WHERE user_id = $1
		 RETURNING user_id, balance, coefficient, version, created_at, updated_at`,
		userID, amount)

	a, err := scanAccount(row)
	if err != nil {
		return nil, notFoundWrap(err, "top up %s", userID)
	}
	return &a, nil
}

// --- Tasks ---

func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (id, user_id, model, payload, status, estimated_cost, prime_cost, reservation_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING version, created_at, updated_at`,
		t.ID, t.UserID, t.Model, t.Payload, string(t.Status), t.EstimatedCost, t.PrimeCost, t.ReservationID)

	if err := row.Scan(&t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if uniqueViolation(err) {
			return fmt.Errorf("create task %s: %w", t.ID, domain.ErrConflict)
		}
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, model, payload, status, estimated_cost, prime_cost, reservation_id,
		        attempts, processed_by, version, created_at, updated_at
		 FROM tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

func (s *Store) ListTasksByUser(ctx context.Context, userID string, limit int) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, model, payload, status, estimated_cost, prime_cost, reservation_id,
		        attempts, processed_by, version, created_at, updated_at
		 FROM tasks WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks for %s: %w", userID, err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkInProgress is allowed from pending and from in_progress so that a
// redelivered message for a crashed worker can take the task over. Terminal
// tasks are rejected with domain.ErrConflict.
func (s *Store) MarkInProgress(ctx context.Context, id, workerID string, attempt int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, processed_by = $3, attempts = $4, version = version + 1, updated_at = now()
		 WHERE id = $1 AND status IN ($5, $2)`,
		id, string(task.StatusInProgress), workerID, attempt, string(task.StatusPending))
	return execExpectOne(tag, err, domain.ErrConflict, "mark task %s in progress", id)
}

func (s *Store) FinalizeTask(ctx context.Context, id string, status task.Status) error {
	if !status.Terminal() {
		return fmt.Errorf("finalize task %s: %q is not a terminal status", id, status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, version = version + 1, updated_at = now()
		 WHERE id = $1 AND status = $3`,
		id, string(status), string(task.StatusInProgress))
	return execExpectOne(tag, err, domain.ErrConflict, "finalize task %s", id)
}

func (s *Store) CancelPending(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, version = version + 1, updated_at = now()
		 WHERE id = $1 AND status = $3`,
		id, string(task.StatusFailed), string(task.StatusPending))
	return execExpectOne(tag, err, domain.ErrTaskNotCancellable, "cancel task %s", id)
}

// --- Results ---

// PutResult is an idempotent upsert: the first write wins and later writes
// for the same task return the stored row unchanged.
func (s *Store) PutResult(ctx context.Context, r *task.Result) (*task.Result, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO results (task_id, output, error, actual_cost)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (task_id) DO NOTHING`,
		r.TaskID, r.Output, r.Error, r.ActualCost)
	if err != nil {
		return nil, fmt.Errorf("put result %s: %w", r.TaskID, err)
	}
	return s.GetResult(ctx, r.TaskID)
}

func (s *Store) GetResult(ctx context.Context, taskID string) (*task.Result, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT task_id, output, error, actual_cost, completed_at FROM results WHERE task_id = $1`, taskID)

	var r task.Result
	if err := row.Scan(&r.TaskID, &r.Output, &r.Error, &r.ActualCost, &r.CompletedAt); err != nil {
		return nil, notFoundWrap(err, "get result %s", taskID)
	}
	return &r, nil
}

// --- Prices ---

func (s *Store) GetPrice(ctx context.Context, model string) (*price.Price, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT model, cost, prime_cost, duration_billed, active, updated_at
		 FROM prices WHERE model = $1`, model)

	var p price.Price
	if err := row.Scan(&p.Model, &p.Cost, &p.PrimeCost, &p.DurationBilled, &p.Active, &p.UpdatedAt); err != nil {
		return nil, notFoundWrap(err, "get price %s", model)
	}
	return &p, nil
}

func (s *Store) ListPrices(ctx context.Context) ([]price.Price, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT model, cost, prime_cost, duration_billed, active, updated_at
		 FROM prices ORDER BY model`)
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	defer rows.Close()

	var prices []price.Price
	for rows.Next() {
		var p price.Price
		if err := rows.Scan(&p.Model, &p.Cost, &p.PrimeCost, &p.DurationBilled, &p.Active, &p.UpdatedAt); err != nil {
			return nil, err
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

func (s *Store) UpsertPrice(ctx context.Context, p *price.Price) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prices (model, cost, prime_cost, duration_billed, active)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (model) DO UPDATE
		 SET cost = EXCLUDED.cost, prime_cost = EXCLUDED.prime_cost,
		     duration_billed = EXCLUDED.duration_billed, active = EXCLUDED.active,
		     updated_at = now()`,
		p.Model, p.Cost, p.PrimeCost, p.DurationBilled, p.Active)
	if err != nil {
		return fmt.Errorf("upsert price %s: %w", p.Model, err)
	}
	return nil
}

func (s *Store) GetUserPrice(ctx context.Context, userID, model string) (*price.UserPrice, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, model, custom_cost FROM user_prices WHERE user_id = $1 AND model = $2`,
		userID, model)

	var up price.UserPrice
	if err := row.Scan(&up.UserID, &up.Model, &up.CustomCost); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get user price %s/%s: %w", userID, model, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get user price %s/%s: %w", userID, model, err)
	}
	return &up, nil
}

func (s *Store) SetUserPrice(ctx context.Context, up *price.UserPrice) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_prices (user_id, model, custom_cost)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, model) DO UPDATE SET custom_cost = EXCLUDED.custom_cost`,
		up.UserID, up.Model, up.CustomCost)
	if err != nil {
		return fmt.Errorf("set user price %s/%s: %w", up.UserID, up.Model, err)
	}
	return nil
}

// --- scan helpers ---

func scanAccount(row scannable) (billing.Account, error) {
	var a billing.Account
	err := row.Scan(&a.UserID, &a.Balance, &a.Coefficient, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func scanTask(row scannable) (task.Task, error) {
	var t task.Task
	var status string
	err := row.Scan(&t.ID, &t.UserID, &t.Model, &t.Payload, &status, &t.EstimatedCost, &t.PrimeCost,
		&t.ReservationID, &t.Attempts, &t.ProcessedBy, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	t.Status = task.Status(status)
	return t, err
}
